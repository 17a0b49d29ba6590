//go:build linux

package kqueue

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// timerFilter implements EVFILT_TIMER with one timerfd per knote, as
// spec.md §4.2 requires ("One timer descriptor per knote"), unlike the
// teacher's ddTimer which multiplexes every timeout through one
// min-heap and a single ticker goroutine — that software-timer shape
// is kept for the Windows build (filter_timer_windows.go), where
// timerfd doesn't exist.
type timerFilter struct {
	store *knoteStore
	agg   aggregator

	mu        sync.Mutex
	fdToIdent map[int32]uint64
	identToFd map[uint64]int32
}

func newTimerFilter(agg aggregator) *timerFilter {
	return &timerFilter{
		store:     newKnoteStore(),
		agg:       agg,
		fdToIdent: make(map[int32]uint64, 64),
		identToFd: make(map[uint64]int32, 64),
	}
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
	if existing, ok := f.store.remove(ch.Ident); ok {
		_ = existing // already torn down its timerfd via knoteStore.remove
	}

	dur := timerDuration(ch.Fflags, ch.Data)
	if dur < 0 {
		return nil, ErrInvalid
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, err
	}

	spec := &unix.ItimerSpec{Value: unix.NsecToTimespec(dur.Nanoseconds())}
	settimeFlags := 0
	if ch.Fflags&NOTE_ABSOLUTE != 0 {
		settimeFlags = unix.TFD_TIMER_ABSTIME
	} else {
		// Relative timers recur at the same interval until deleted or
		// consumed once under EV_ONESHOT (spec.md §4.2's "on expiry,
		// data ... is the number of expirations since the previous
		// delivery" only makes sense for a recurring source).
		spec.Interval = spec.Value
	}
	if err := unix.TimerfdSettime(fd, settimeFlags, spec, nil); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := f.agg.add(int32(fd), unix.EPOLLIN, EVFILT_TIMER); err != nil {
		unix.Close(fd)
		return nil, err
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
		delete(f.fdToIdent, int32(fd))
		delete(f.identToFd, ch.Ident)
		f.mu.Unlock()
		_ = f.agg.remove(int32(fd))
		return unix.Close(fd)
	})

	f.mu.Lock()
	f.fdToIdent[int32(fd)] = ch.Ident
	f.identToFd[ch.Ident] = int32(fd)
	f.mu.Unlock()

	if err := f.store.insert(kn); err != nil {
		_ = kn.resource.Close()
		return nil, err
	}
	return kn, nil
}

func (f *timerFilter) ready(t rawToken) []*knote {
	f.mu.Lock()
	ident, ok := f.fdToIdent[t.fd]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	kn, ok := f.store.lookup(ident)
	if !ok {
		return nil
	}
	return []*knote{kn}
}

func (f *timerFilter) copyout(kn *knote) (Kevent, bool) {
	kn.mu.Lock()
	if !kn.enabled || kn.pendingDelete {
		kn.mu.Unlock()
		return Kevent{}, false
	}
	ident := kn.ident
	fflags := kn.fflags
	udata := kn.udata
	kn.mu.Unlock()

	f.mu.Lock()
	fd, ok := f.identToFd[ident]
	f.mu.Unlock()
	if !ok {
		return Kevent{}, false
	}

	var buf [8]byte
	n, err := unix.Read(int(fd), buf[:])
	if err != nil || n != 8 {
		// Spurious wake or a race with deletion; tolerate per spec.md
		// §9 ("a stale token must be tolerated by re-looking-up under
		// lock").
		return Kevent{}, false
	}
	expirations := binary.LittleEndian.Uint64(buf[:])
	if expirations == 0 {
		return Kevent{}, false
	}
	return Kevent{
		Ident:  ident,
		Filter: EVFILT_TIMER,
		Fflags: fflags,
		Data:   int64(expirations),
		Udata:  udata,
	}, true
}

func (f *timerFilter) closeAll() error {
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
