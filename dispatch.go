package kqueue

import "time"

// Kevent is the kevent(2)-equivalent entry point (spec.md §4.4): it
// applies changes in order, waits on the aggregator, and copies out
// ready events. The return value is the number of events written to
// events; a negative count never happens — failures surface as err.
func (kq *Kqueue) Kevent(changes []Kevent, events []Kevent, timeout *time.Duration) (int, error) {
	if kq == nil || kq.isClosed() {
		return 0, ErrBadKqueue
	}

	n, err := kq.applyChanges(changes, events)
	if err != nil {
		return n, err
	}

	if n >= len(events) || len(events) == 0 {
		return n, nil
	}

	return kq.waitAndCopyout(events, n, timeout)
}

// applyChanges is the change phase (spec.md §4.4 step 1). Changes are
// applied strictly in index order (spec.md §5 "Ordering guarantees").
func (kq *Kqueue) applyChanges(changes []Kevent, events []Kevent) (int, error) {
	n := 0
	for _, ch := range changes {
		f, ok := kq.tables.get(ch.Filter)
		var applyErr error
		if !ok {
			applyErr = ErrInvalid
		} else {
			_, applyErr = f.applyChange(kq, ch)
		}

		receipt := ch.Flags&EV_RECEIPT != 0

		if applyErr != nil {
			if receipt || len(events) > 0 {
				if n >= len(events) {
					return n, applyErr
				}
				events[n] = errorEvent(ch, errnoOf(applyErr))
				n++
				continue
			}
			return n, applyErr
		}

		// EV_RECEIPT acknowledges success too (spec.md §4.2: "data=0 on
		// success"), unlike a plain successful change which produces no
		// event-list entry.
		if receipt {
			if n >= len(events) {
				return n, ErrNoMemory
			}
			events[n] = errorEvent(ch, 0)
			n++
		}
	}
	return n, nil
}

// waitAndCopyout is the wait phase followed by the copyout phase
// (spec.md §4.4 steps 2-3), looped until at least one event is
// produced or the timeout (if any) elapses.
func (kq *Kqueue) waitAndCopyout(events []Kevent, n int, timeout *time.Duration) (int, error) {
	var deadline *time.Time
	if timeout != nil {
		d := time.Now().Add(*timeout)
		deadline = &d
	}

	for n < len(events) {
		var remaining *time.Duration
		if deadline != nil {
			left := time.Until(*deadline)
			if left < 0 {
				left = 0
			}
			remaining = &left
		}

		tokens, err := kq.agg.wait(remaining)
		if err != nil {
			if err == ErrInterrupted {
				// spec.md §5: an unrelated signal resumes the wait with
				// the remaining timeout rather than returning early.
				if deadline != nil && !time.Now().Before(*deadline) {
					return n, nil
				}
				continue
			}
			if n == 0 {
				return n, err
			}
			return n, nil
		}

		before := n
		n = kq.copyoutTokens(tokens, events, n)
		if n > before {
			return n, nil
		}

		// Every token this wake produced was stale or disarmed (spec.md
		// §4.3 "suppression, not an error"); re-enter the wait phase if
		// time remains, per spec.md §4.4's "either is conforming".
		if deadline != nil && !time.Now().Before(*deadline) {
			return n, nil
		}
		if timeout != nil && *timeout == 0 {
			return n, nil
		}
	}
	return n, nil
}

// copyoutTokens is the copyout phase body for one wait's worth of
// tokens (spec.md §4.4 step 3).
func (kq *Kqueue) copyoutTokens(tokens []rawToken, events []Kevent, n int) int {
	for _, t := range tokens {
		if n >= len(events) {
			break
		}
		for _, f := range kq.resolveFilters(t.filterTag) {
			if n >= len(events) {
				break
			}
			for _, kn := range f.ready(t) {
				if n >= len(events) {
					break
				}
				if ev, ok := kq.copyoutOne(f, kn); ok {
					events[n] = ev
					n++
				}
			}
		}
	}
	return n
}

// copyoutOne acquires kn's transient reference, runs the filter's
// copyout, then applies the EV_DISPATCH/EV_ONESHOT bookkeeping the
// spec ties to a real (non-suppressed) delivery.
func (kq *Kqueue) copyoutOne(f filter, kn *knote) (Kevent, bool) {
	kn.acquire()
	ev, ok := f.copyout(kn)
	if ok {
		kn.mu.Lock()
		dispatch := kn.dispatch
		oneshot := kn.oneshot
		kn.mu.Unlock()
		if dispatch {
			kn.mu.Lock()
			kn.enabled = false
			kn.mu.Unlock()
		}
		if oneshot {
			f.knotes().remove(kn.ident)
		}
	}
	kn.release()
	return ev, ok
}

// resolveFilters maps one aggregator token to the filter(s) that must
// be asked for readiness. ioCombinedTag is the one tag that fans out
// to two filters, since EVFILT_READ and EVFILT_WRITE on the same fd
// share one epoll registration (filter_io_linux.go).
func (kq *Kqueue) resolveFilters(tag int16) []filter {
	if tag == ioCombinedTag {
		out := make([]filter, 0, 2)
		if f, ok := kq.tables.get(EVFILT_READ); ok {
			out = append(out, f)
		}
		if f, ok := kq.tables.get(EVFILT_WRITE); ok {
			out = append(out, f)
		}
		return out
	}
	if f, ok := kq.tables.get(tag); ok {
		return []filter{f}
	}
	return nil
}
