//go:build windows

package kqueue

import (
	"sync"
	"time"

	"github.com/nyan233/kqueue/internal/heap"
)

// timerFilter on Windows is a software timer: one min-heap shared by
// every knote and a single goroutine sleeping until the earliest
// deadline, the shape the teacher's event_poll/internal/timer_heap.go
// uses for its ddTimer, generalized here to support cancel-by-ident
// (internal/heap.Heap.Remove) instead of FIFO-only expiry.
type timerFilter struct {
	store *knoteStore
	agg   *iocpAggregator

	mu sync.Mutex
	h  *heap.Heap

	wake chan struct{}
	stop chan struct{}
}

func newTimerFilter(agg aggregator) *timerFilter {
	f := &timerFilter{
		store: newKnoteStore(),
		agg:   agg.(*iocpAggregator),
		h:     heap.New(64),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *timerFilter) nudge() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *timerFilter) run() {
	for {
		f.mu.Lock()
		d := time.Hour
		if !f.h.IsEmpty() {
			d = time.Until(f.h.Peek().Deadline)
			if d < 0 {
				d = 0
			}
		}
		f.mu.Unlock()

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
			f.fire()
		case <-f.wake:
			timer.Stop()
		case <-f.stop:
			timer.Stop()
			return
		}
	}
}

func (f *timerFilter) fire() {
	f.mu.Lock()
	if f.h.IsEmpty() || time.Now().Before(f.h.Peek().Deadline) {
		f.mu.Unlock()
		return
	}
	e := f.h.DelTop()
	if e.Interval > 0 {
		e.Deadline = time.Now().Add(e.Interval)
		f.h.Insert(e)
	}
	f.mu.Unlock()

	if kn, ok := f.store.lookup(e.Ident); ok {
		kn.mu.Lock()
		kn.data++
		kn.mu.Unlock()
	}
	_ = f.agg.post(EVFILT_TIMER, e.Ident)
}

func (f *timerFilter) applyChange(kq *Kqueue, ch Kevent) (*knote, error) {
	switch {
	case ch.Flags&EV_ADD != 0:
		return f.add(ch)
	case ch.Flags&EV_DELETE != 0:
		kn, ok := f.store.remove(ch.Ident)
		if !ok {
			return nil, ErrNoSuchKnote
		}
		f.mu.Lock()
		f.h.Remove(ch.Ident)
		f.mu.Unlock()
		return kn, nil
	case ch.Flags&(EV_ENABLE|EV_DISABLE) != 0:
		kn, ok := f.store.lookup(ch.Ident)
		if !ok {
			return nil, ErrNoSuchKnote
		}
		kn.mu.Lock()
		kn.enabled = ch.Flags&EV_ENABLE != 0
		kn.mu.Unlock()
		return kn, nil
	default:
		return nil, ErrInvalid
	}
}

func (f *timerFilter) add(ch Kevent) (*knote, error) {
	f.store.remove(ch.Ident)
	f.mu.Lock()
	f.h.Remove(ch.Ident)
	f.mu.Unlock()

	dur := timerDuration(ch.Fflags, ch.Data)
	if dur < 0 {
		return nil, ErrInvalid
	}
	e := heap.Elem{Ident: ch.Ident, Deadline: time.Now().Add(dur)}
	if ch.Fflags&NOTE_ABSOLUTE == 0 {
		e.Interval = dur
	}

	kn := &knote{
		ident:    ch.Ident,
		filter:   EVFILT_TIMER,
		udata:    ch.Udata,
		fflags:   ch.Fflags,
		enabled:  ch.Flags&EV_DISABLE == 0,
		oneshot:  ch.Flags&EV_ONESHOT != 0,
		dispatch: ch.Flags&EV_DISPATCH != 0,
		clear:    ch.Flags&EV_CLEAR != 0,
	}
	kn.resource = closerFunc(func() error {
		f.mu.Lock()
		f.h.Remove(ch.Ident)
		f.mu.Unlock()
		return nil
	})

	if err := f.store.insert(kn); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.h.Insert(e)
	f.mu.Unlock()
	f.nudge()
	return kn, nil
}

func (f *timerFilter) ready(t rawToken) []*knote {
	kn, ok := f.store.lookup(uint64(t.fd))
	if !ok {
		return nil
	}
	return []*knote{kn}
}

func (f *timerFilter) copyout(kn *knote) (Kevent, bool) {
	kn.mu.Lock()
	defer kn.mu.Unlock()
	if !kn.enabled || kn.pendingDelete || kn.data == 0 {
		return Kevent{}, false
	}
	ev := Kevent{
		Ident:  kn.ident,
		Filter: EVFILT_TIMER,
		Fflags: kn.fflags,
		Data:   kn.data,
		Udata:  kn.udata,
	}
	kn.data = 0
	return ev, true
}

func (f *timerFilter) closeAll() error {
	close(f.stop)
	f.store.each(func(kn *knote) {
		kn.mu.Lock()
		res := kn.resource
		kn.resource = nil
		kn.mu.Unlock()
		if res != nil {
			_ = res.Close()
		}
	})
	return nil
}

func (f *timerFilter) knotes() *knoteStore {
	return f.store
}
