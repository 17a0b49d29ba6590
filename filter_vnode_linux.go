//go:build linux

package kqueue

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// vnodeFilter implements EVFILT_VNODE over one shared inotify instance
// per kqueue (spec.md §4.2), the same "one fd, many watches"
// multiplexing the teacher's poller_epoll.go uses for many sockets.
// ident is a caller-owned open fd for the watched path; inotify has no
// fd-based watch API, so we go through the /proc/self/fd/N symlink the
// way userspace inotify wrappers commonly do.
type vnodeFilter struct {
	store *knoteStore
	agg   aggregator

	mu        sync.Mutex
	fd        int32
	wdToIdent map[uint32]uint64
	identToWd map[uint64]uint32
}

func newVnodeFilter(agg aggregator) (*vnodeFilter, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, err
	}
	if err := agg.add(int32(fd), unix.EPOLLIN, EVFILT_VNODE); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &vnodeFilter{
		store:     newKnoteStore(),
		agg:       agg,
		fd:        int32(fd),
		wdToIdent: make(map[uint32]uint64, 64),
		identToWd: make(map[uint64]uint32, 64),
	}, nil
}

func notesToInotifyMask(fflags uint32) uint32 {
	var mask uint32
	if fflags&NOTE_DELETE != 0 {
		mask |= unix.IN_DELETE_SELF
	}
	if fflags&(NOTE_WRITE|NOTE_EXTEND) != 0 {
		mask |= unix.IN_MODIFY
	}
	if fflags&(NOTE_ATTRIB|NOTE_LINK) != 0 {
		mask |= unix.IN_ATTRIB
	}
	if fflags&NOTE_RENAME != 0 {
		mask |= unix.IN_MOVE_SELF
	}
	if fflags&NOTE_REVOKE != 0 {
		mask |= unix.IN_UNMOUNT
	}
	return mask
}

func inotifyMaskToNotes(mask uint32) uint32 {
	var fflags uint32
	if mask&(unix.IN_DELETE_SELF|unix.IN_IGNORED) != 0 {
		fflags |= NOTE_DELETE
	}
	if mask&unix.IN_MODIFY != 0 {
		fflags |= NOTE_WRITE
	}
	if mask&unix.IN_ATTRIB != 0 {
		fflags |= NOTE_ATTRIB
	}
	if mask&unix.IN_MOVE_SELF != 0 {
		fflags |= NOTE_RENAME
	}
	if mask&unix.IN_UNMOUNT != 0 {
		fflags |= NOTE_REVOKE
	}
	return fflags
}

func (f *vnodeFilter) applyChange(kq *Kqueue, ch Kevent) (*knote, error) {
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

func (f *vnodeFilter) add(ch Kevent) (*knote, error) {
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

	path := fmt.Sprintf("/proc/self/fd/%d", ch.Ident)
	wd, err := unix.InotifyAddWatch(int(f.fd), path, notesToInotifyMask(ch.Fflags))
	if err != nil {
		return nil, err
	}

	kn := &knote{
		ident:    ch.Ident,
		filter:   EVFILT_VNODE,
		udata:    ch.Udata,
		enabled:  ch.Flags&EV_DISABLE == 0,
		oneshot:  ch.Flags&EV_ONESHOT != 0,
		dispatch: ch.Flags&EV_DISPATCH != 0,
		clear:    ch.Flags&EV_CLEAR != 0,
	}
	kn.resource = closerFunc(func() error {
		f.mu.Lock()
		delete(f.wdToIdent, uint32(wd))
		delete(f.identToWd, ch.Ident)
		f.mu.Unlock()
		_, err := unix.InotifyRmWatch(int(f.fd), uint32(wd))
		if err == unix.EINVAL {
			// Already removed by the kernel (inode gone), not an error.
			return nil
		}
		return err
	})

	f.mu.Lock()
	f.wdToIdent[uint32(wd)] = ch.Ident
	f.identToWd[ch.Ident] = uint32(wd)
	f.mu.Unlock()

	if err := f.store.insert(kn); err != nil {
		_ = kn.resource.Close()
		return nil, err
	}
	return kn, nil
}

func (f *vnodeFilter) ready(t rawToken) []*knote {
	touched := make(map[uint64]*knote, 4)
	hdrSize := int(unsafe.Sizeof(unix.InotifyEvent{}))
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(int(f.fd), buf)
		if err != nil || n <= 0 {
			break
		}
		off := 0
		for off+hdrSize <= n {
			ev := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
			off += hdrSize + int(ev.Len)

			f.mu.Lock()
			ident, ok := f.wdToIdent[uint32(ev.Wd)]
			f.mu.Unlock()
			if !ok {
				continue
			}
			kn, ok := f.store.lookup(ident)
			if !ok {
				continue
			}
			notes := inotifyMaskToNotes(uint32(ev.Mask))
			kn.mu.Lock()
			kn.fflags |= notes
			if notes&NOTE_DELETE != 0 {
				kn.enabled = false
			}
			kn.mu.Unlock()
			touched[ident] = kn
		}
		if n < len(buf) {
			break
		}
	}
	out := make([]*knote, 0, len(touched))
	for _, kn := range touched {
		out = append(out, kn)
	}
	return out
}

func (f *vnodeFilter) copyout(kn *knote) (Kevent, bool) {
	kn.mu.Lock()
	defer kn.mu.Unlock()
	if kn.pendingDelete || kn.fflags == 0 {
		return Kevent{}, false
	}
	// EV_DISABLE suppresses delivery, but a NOTE_DELETE that just
	// auto-disabled the knote must still be reported once.
	if !kn.enabled && kn.fflags&NOTE_DELETE == 0 {
		return Kevent{}, false
	}
	ev := Kevent{
		Ident:  kn.ident,
		Filter: EVFILT_VNODE,
		Fflags: kn.fflags,
		Udata:  kn.udata,
	}
	kn.fflags = 0
	return ev, true
}

func (f *vnodeFilter) closeAll() error {
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

func (f *vnodeFilter) knotes() *knoteStore {
	return f.store
}
