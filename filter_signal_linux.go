//go:build linux

package kqueue

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// signalFilter implements EVFILT_SIGNAL with one signalfd per kqueue
// carrying every subscribed signal, per spec.md §4.2. (filter, ident)
// uniqueness means at most one knote exists per signal number, so
// draining the signalfd and bucketing by Signo is enough to resolve
// readiness without a side index.
type signalFilter struct {
	store *knoteStore
	agg   aggregator

	mu   sync.Mutex
	fd   int32
	mask unix.Sigset_t
}

func newSignalFilter(agg aggregator) (*signalFilter, error) {
	fd, err := unix.Signalfd(-1, &unix.Sigset_t{}, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if err := agg.add(int32(fd), unix.EPOLLIN, EVFILT_SIGNAL); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &signalFilter{store: newKnoteStore(), agg: agg, fd: int32(fd)}, nil
}

func (f *signalFilter) applyChange(kq *Kqueue, ch Kevent) (*knote, error) {
	switch {
	case ch.Flags&EV_ADD != 0:
		return f.add(ch)
	case ch.Flags&EV_DELETE != 0:
		return f.deleteSignal(ch)
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

func (f *signalFilter) add(ch Kevent) (*knote, error) {
	sig := unix.Signal(ch.Ident)
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
		filter:   EVFILT_SIGNAL,
		udata:    ch.Udata,
		enabled:  ch.Flags&EV_DISABLE == 0,
		oneshot:  ch.Flags&EV_ONESHOT != 0,
		dispatch: ch.Flags&EV_DISPATCH != 0,
		clear:    ch.Flags&EV_CLEAR != 0,
	}

	f.mu.Lock()
	addSignal(&f.mask, sig)
	mask := f.mask
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, nil); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if _, err := unix.Signalfd(int(f.fd), &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	kn.resource = closerFunc(func() error {
		f.mu.Lock()
		removeSignal(&f.mask, sig)
		mask := f.mask
		f.mu.Unlock()
		_, err := unix.Signalfd(int(f.fd), &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
		return err
	})

	if err := f.store.insert(kn); err != nil {
		_ = kn.resource.Close()
		return nil, err
	}
	return kn, nil
}

func (f *signalFilter) deleteSignal(ch Kevent) (*knote, error) {
	kn, ok := f.store.remove(ch.Ident)
	if !ok {
		return nil, ErrNoSuchKnote
	}
	return kn, nil
}

// ready drains every pending signalfd_siginfo record and bumps each
// touched knote's accumulated count (spec.md §4.2 "deliveries are
// coalesced").
func (f *signalFilter) ready(t rawToken) []*knote {
	touched := make(map[uint64]*knote, 4)
	var buf [unsafe.Sizeof(unix.SignalfdSiginfo{})]byte
	for {
		n, err := unix.Read(int(f.fd), buf[:])
		if err != nil || n != len(buf) {
			break
		}
		info := (*unix.SignalfdSiginfo)(unsafe.Pointer(&buf[0]))
		ident := uint64(info.Signo)
		kn, ok := f.store.lookup(ident)
		if !ok {
			continue
		}
		kn.mu.Lock()
		kn.data++
		kn.mu.Unlock()
		touched[ident] = kn
	}
	out := make([]*knote, 0, len(touched))
	for _, kn := range touched {
		out = append(out, kn)
	}
	return out
}

func (f *signalFilter) copyout(kn *knote) (Kevent, bool) {
	kn.mu.Lock()
	defer kn.mu.Unlock()
	if !kn.enabled || kn.pendingDelete || kn.data == 0 {
		return Kevent{}, false
	}
	ev := Kevent{
		Ident:  kn.ident,
		Filter: EVFILT_SIGNAL,
		Data:   kn.data,
		Udata:  kn.udata,
	}
	if kn.clear {
		kn.data = 0
	}
	return ev, true
}

func (f *signalFilter) closeAll() error {
	f.store.each(func(kn *knote) {
		kn.mu.Lock()
		res := kn.resource
		kn.resource = nil
		kn.mu.Unlock()
		if res != nil {
			_ = res.Close()
		}
	})
	return unix.Close(int(f.fd))
}

func (f *signalFilter) knotes() *knoteStore {
	return f.store
}

// addSignal/removeSignal set or clear sig's bit in a kernel sigset_t.
// x/sys/unix exposes Sigset_t as a raw [16]uint64 word array on linux
// (128 bytes, matching the kernel ABI) with no mutation helpers, so we
// do the bit arithmetic directly rather than pull in a second package
// for it.
func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	i := uint(sig) - 1
	set.Val[i/64] |= 1 << (i % 64)
}

func removeSignal(set *unix.Sigset_t, sig unix.Signal) {
	i := uint(sig) - 1
	set.Val[i/64] &^= 1 << (i % 64)
}
