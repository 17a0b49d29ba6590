//go:build linux

package kqueue

import "golang.org/x/sys/unix"

// userFilter implements EVFILT_USER. It owns no per-source OS resource
// (spec.md §4.2: "No OS resource") but still needs something the
// aggregator can block on, so a NOTE_TRIGGER change (applyFflags) or a
// re-enable of a pending knote writes to one shared eventfd per
// kqueue, the cheapest wake primitive in the teacher's pack
// (golang.org/x/sys/unix.Eventfd, same family as the interrupt fd the
// aggregator itself uses).
type userFilter struct {
	store *knoteStore
	agg   aggregator
	fd    int32
}

func newUserFilter(agg aggregator) (*userFilter, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if err := agg.add(int32(fd), unix.EPOLLIN, EVFILT_USER); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &userFilter{store: newKnoteStore(), agg: agg, fd: int32(fd)}, nil
}

func (f *userFilter) applyChange(kq *Kqueue, ch Kevent) (*knote, error) {
	var kn *knote
	var err error

	switch {
	case ch.Flags&EV_ADD != 0:
		kn, err = f.addOrMerge(ch)
	case ch.Flags&EV_DELETE != 0:
		var ok bool
		kn, ok = f.store.remove(ch.Ident)
		if !ok {
			return nil, ErrNoSuchKnote
		}
		return kn, nil
	case ch.Flags&(EV_ENABLE|EV_DISABLE) != 0:
		var ok bool
		kn, ok = f.store.lookup(ch.Ident)
		if !ok {
			return nil, ErrNoSuchKnote
		}
		kn.mu.Lock()
		kn.enabled = ch.Flags&EV_ENABLE != 0
		pending := kn.enabled && kn.data != 0
		kn.mu.Unlock()
		// Re-enabling a knote whose trigger already landed while it was
		// disabled needs a fresh wake: the eventfd was drained by the
		// wait that found it suppressed, so nothing will fire otherwise.
		if pending {
			var one [8]byte
			one[0] = 1
			_, _ = unix.Write(int(f.fd), one[:])
		}
	default:
		// A bare fflags/NOTE_TRIGGER change against an existing knote,
		// the BSD idiom for triggering a user event without an
		// ADD/DELETE/ENABLE/DISABLE action bit set.
		var ok bool
		kn, ok = f.store.lookup(ch.Ident)
		if !ok {
			return nil, ErrNoSuchKnote
		}
	}
	if err != nil {
		return nil, err
	}
	f.applyFflags(kn, ch.Fflags)
	return kn, nil
}

func (f *userFilter) addOrMerge(ch Kevent) (*knote, error) {
	if existing, ok := f.store.lookup(ch.Ident); ok {
		existing.mu.Lock()
		existing.udata = ch.Udata
		existing.enabled = ch.Flags&EV_DISABLE == 0
		existing.oneshot = ch.Flags&EV_ONESHOT != 0
		existing.dispatch = ch.Flags&EV_DISPATCH != 0
		existing.clear = ch.Flags&EV_CLEAR != 0
		existing.mu.Unlock()
		return existing, nil
	}
	kn := &knote{
		ident:    ch.Ident,
		filter:   EVFILT_USER,
		udata:    ch.Udata,
		fflags:   ch.Fflags & NOTE_FFLAGSMASK,
		enabled:  ch.Flags&EV_DISABLE == 0,
		oneshot:  ch.Flags&EV_ONESHOT != 0,
		dispatch: ch.Flags&EV_DISPATCH != 0,
		clear:    ch.Flags&EV_CLEAR != 0,
	}
	if err := f.store.insert(kn); err != nil {
		return nil, err
	}
	return kn, nil
}

// applyFflags implements the BSD NOTE_FFAND/NOTE_FFOR/NOTE_FFCOPY
// value-combine protocol and, if NOTE_TRIGGER is set, marks the knote
// pending and wakes the aggregator (spec.md §4.2).
func (f *userFilter) applyFflags(kn *knote, fflags uint32) {
	ctrl := fflags & NOTE_FFCTRLMASK
	val := fflags & NOTE_FFLAGSMASK

	kn.mu.Lock()
	switch ctrl {
	case NOTE_FFAND:
		kn.fflags &= val
	case NOTE_FFOR:
		kn.fflags |= val
	case NOTE_FFCOPY:
		kn.fflags = val
	}
	trigger := fflags&NOTE_TRIGGER != 0
	if trigger {
		kn.data = 1
	}
	kn.mu.Unlock()

	if trigger {
		var one [8]byte
		one[0] = 1
		_, _ = unix.Write(int(f.fd), one[:])
	}
}

func (f *userFilter) ready(t rawToken) []*knote {
	var scratch [8]byte
	_, _ = unix.Read(int(f.fd), scratch[:])
	var touched []*knote
	f.store.each(func(kn *knote) {
		kn.mu.Lock()
		pending := kn.data == 1
		kn.mu.Unlock()
		if pending {
			touched = append(touched, kn)
		}
	})
	return touched
}

func (f *userFilter) copyout(kn *knote) (Kevent, bool) {
	kn.mu.Lock()
	defer kn.mu.Unlock()
	if !kn.enabled || kn.pendingDelete || kn.data == 0 {
		return Kevent{}, false
	}
	ev := Kevent{
		Ident:  kn.ident,
		Filter: EVFILT_USER,
		Fflags: kn.fflags,
		Udata:  kn.udata,
	}
	kn.data = 0
	return ev, true
}

func (f *userFilter) closeAll() error {
	return unix.Close(int(f.fd))
}

func (f *userFilter) knotes() *knoteStore {
	return f.store
}
