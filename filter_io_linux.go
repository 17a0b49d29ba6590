//go:build linux

package kqueue

import (
	"sync"

	"github.com/nyan233/kqueue/internal/fdutil"
	"golang.org/x/sys/unix"
)

// ioFdState tracks which of the two directions is currently armed for
// one fd, mirroring the combined-mask bookkeeping the teacher's
// poller_epoll.go does per fd (there via a plain map[int]EventFlags).
type ioFdState struct {
	readKn  *knote
	writeKn *knote
}

// ioShared is the state both the read and the write filter instance
// hold a pointer to, since they register into the same epoll fd set
// under the teacher's one-epfd-for-everything model.
type ioShared struct {
	mu    sync.Mutex
	fds   map[int32]*ioFdState
	agg   aggregator
	clear map[int32]bool // fd -> any armed knote requested EV_CLEAR
}

func newIOShared(agg aggregator) *ioShared {
	return &ioShared{
		fds:   make(map[int32]*ioFdState, 256),
		agg:   agg,
		clear: make(map[int32]bool, 256),
	}
}

func (s *ioShared) mask(fd int32) uint32 {
	st := s.fds[fd]
	var events uint32
	if st.readKn != nil {
		events |= unix.EPOLLIN
	}
	if st.writeKn != nil {
		events |= unix.EPOLLOUT
	}
	if s.clear[fd] {
		events |= unix.EPOLLET
	}
	return events
}

// ioFilter implements EVFILT_READ or EVFILT_WRITE (tag tells which).
type ioFilter struct {
	tag    int16
	shared *ioShared
	store  *knoteStore
}

func newIOFilters(agg aggregator) (*ioFilter, *ioFilter) {
	shared := newIOShared(agg)
	return &ioFilter{tag: EVFILT_READ, shared: shared, store: newKnoteStore()},
		&ioFilter{tag: EVFILT_WRITE, shared: shared, store: newKnoteStore()}
}

func (f *ioFilter) applyChange(kq *Kqueue, ch Kevent) (*knote, error) {
	fd := int32(ch.Ident)
	switch {
	case ch.Flags&EV_ADD != 0:
		return f.add(ch, fd)
	case ch.Flags&EV_DELETE != 0:
		return f.delete(ch, fd)
	case ch.Flags&(EV_ENABLE|EV_DISABLE) != 0:
		return f.toggle(ch, fd)
	default:
		return nil, ErrInvalid
	}
}

func (f *ioFilter) add(ch Kevent, fd int32) (*knote, error) {
	if existing, ok := f.store.lookup(ch.Ident); ok {
		// BSD ADD is idempotent: re-arming an existing knote just
		// refreshes its flags and udata (spec.md §4.2).
		existing.mu.Lock()
		existing.udata = ch.Udata
		existing.enabled = ch.Flags&EV_DISABLE == 0
		existing.oneshot = ch.Flags&EV_ONESHOT != 0
		existing.dispatch = ch.Flags&EV_DISPATCH != 0
		existing.clear = ch.Flags&EV_CLEAR != 0
		existing.mu.Unlock()
		f.shared.mu.Lock()
		if existing.clear {
			f.shared.clear[fd] = true
		}
		events := f.shared.mask(fd)
		err := f.shared.agg.modify(fd, events, ioCombinedTag)
		f.shared.mu.Unlock()
		return existing, err
	}

	kn := &knote{
		ident:    ch.Ident,
		filter:   f.tag,
		udata:    ch.Udata,
		enabled:  ch.Flags&EV_DISABLE == 0,
		oneshot:  ch.Flags&EV_ONESHOT != 0,
		dispatch: ch.Flags&EV_DISPATCH != 0,
		clear:    ch.Flags&EV_CLEAR != 0,
	}

	f.shared.mu.Lock()
	st, ok := f.shared.fds[fd]
	if !ok {
		st = &ioFdState{}
		f.shared.fds[fd] = st
	}
	if f.tag == EVFILT_READ {
		st.readKn = kn
	} else {
		st.writeKn = kn
	}
	if kn.clear {
		f.shared.clear[fd] = true
	}
	events := f.shared.mask(fd)
	var err error
	if !ok {
		err = f.shared.agg.add(fd, events, ioCombinedTag)
	} else {
		err = f.shared.agg.modify(fd, events, ioCombinedTag)
	}
	f.shared.mu.Unlock()
	if err != nil {
		return nil, err
	}

	kn.resource = closerFunc(func() error {
		f.shared.mu.Lock()
		defer f.shared.mu.Unlock()
		st, ok := f.shared.fds[fd]
		if !ok {
			return nil
		}
		if f.tag == EVFILT_READ {
			st.readKn = nil
		} else {
			st.writeKn = nil
		}
		if st.readKn == nil && st.writeKn == nil {
			delete(f.shared.fds, fd)
			delete(f.shared.clear, fd)
			return f.shared.agg.remove(fd)
		}
		return f.shared.agg.modify(fd, f.shared.mask(fd), ioCombinedTag)
	})

	if err := f.store.insert(kn); err != nil {
		_ = kn.resource.Close()
		return nil, err
	}
	return kn, nil
}

func (f *ioFilter) delete(ch Kevent, fd int32) (*knote, error) {
	kn, ok := f.store.remove(ch.Ident)
	if !ok {
		return nil, ErrNoSuchKnote
	}
	return kn, nil
}

func (f *ioFilter) toggle(ch Kevent, fd int32) (*knote, error) {
	kn, ok := f.store.lookup(ch.Ident)
	if !ok {
		return nil, ErrNoSuchKnote
	}
	kn.mu.Lock()
	kn.enabled = ch.Flags&EV_ENABLE != 0
	kn.mu.Unlock()
	return kn, nil
}

func (f *ioFilter) ready(t rawToken) []*knote {
	f.shared.mu.Lock()
	st, ok := f.shared.fds[t.fd]
	f.shared.mu.Unlock()
	if !ok {
		return nil
	}
	var kn *knote
	if f.tag == EVFILT_READ && t.events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
		kn = st.readKn
	} else if f.tag == EVFILT_WRITE && t.events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		kn = st.writeKn
	}
	if kn == nil {
		return nil
	}
	return []*knote{kn}
}

func (f *ioFilter) copyout(kn *knote) (Kevent, bool) {
	kn.mu.Lock()
	if !kn.enabled || kn.pendingDelete {
		kn.mu.Unlock()
		return Kevent{}, false
	}
	fd := int(kn.ident)
	udata := kn.udata
	kn.mu.Unlock()

	var data int64
	var flags uint16
	hangup := platformInit().peerCloseReliable && fdutil.PeekHangup(fd)
	if f.tag == EVFILT_READ {
		n, err := fdutil.ReadableBytes(fd)
		if err == nil {
			data = int64(n)
		}
		if hangup {
			flags |= EV_EOF
		}
	} else {
		n, err := fdutil.WritableSpace(fd)
		if err == nil {
			data = int64(n)
		}
		if hangup {
			flags |= EV_EOF
		}
	}
	return Kevent{
		Ident:  kn.ident,
		Filter: f.tag,
		Flags:  flags,
		Data:   data,
		Udata:  udata,
	}, true
}

func (f *ioFilter) closeAll() error {
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

func (f *ioFilter) knotes() *knoteStore {
	return f.store
}
