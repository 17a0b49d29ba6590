//go:build linux

package kqueue

import (
	"sync"
	"time"
	"unsafe"

	"github.com/nyan233/kqueue/internal/workerpool"
	"golang.org/x/sys/unix"
)

// procFilter implements the best-effort slice of EVFILT_PROC spec.md §4.2
// names as supported on Linux: NOTE_EXIT, detected by reaping. Every
// other sub-note (NOTE_FORK, NOTE_EXEC, NOTE_TRACK, ...) has no Linux
// equivalent and is rejected at ADD time (spec.md §1 non-goal).
//
// SIGCHLD coalesces: if three children exit between two deliveries, the
// signalfd may wake only once. A single wait4(WNOHANG) sweep right after
// that wake reaps everything currently exited, but a child whose ADD
// races its own parent's fork can still exit in the gap before its
// knote exists. A small workerpool, adapted from the teacher's
// event_poll/internal/worker_pool.go, runs a periodic re-sweep in the
// background to close that window without blocking the dispatch path.
type procFilter struct {
	store *knoteStore
	agg   aggregator

	fd int32

	mu     sync.Mutex
	exited map[uint64]int64 // pid -> wait status, for pids reaped before their knote existed

	pool      *workerpool.Pool
	sweepDone chan struct{}
}

func newProcFilter(agg aggregator) (*procFilter, error) {
	var mask unix.Sigset_t
	addSignal(&mask, unix.SIGCHLD)
	fd, err := unix.Signalfd(-1, &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, nil); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := agg.add(int32(fd), unix.EPOLLIN, EVFILT_PROC); err != nil {
		unix.Close(fd)
		return nil, err
	}

	f := &procFilter{
		store:     newKnoteStore(),
		agg:       agg,
		fd:        int32(fd),
		exited:    make(map[uint64]int64, 16),
		sweepDone: make(chan struct{}),
	}
	f.pool = workerpool.New(1, 1, func(interface{}) error {
		f.reapAll()
		return nil
	}, func(error) {})
	go f.periodicSweep()
	return f, nil
}

func (f *procFilter) periodicSweep() {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			f.pool.Push(struct{}{})
		case <-f.sweepDone:
			return
		}
	}
}

func (f *procFilter) applyChange(kq *Kqueue, ch Kevent) (*knote, error) {
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

func (f *procFilter) add(ch Kevent) (*knote, error) {
	if ch.Fflags&NOTE_EXIT == 0 || ch.Fflags&^NOTE_EXIT != 0 {
		return nil, ErrInvalid
	}
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
		filter:   EVFILT_PROC,
		udata:    ch.Udata,
		fflags:   NOTE_EXIT,
		enabled:  ch.Flags&EV_DISABLE == 0,
		oneshot:  ch.Flags&EV_ONESHOT != 0,
		dispatch: ch.Flags&EV_DISPATCH != 0,
		clear:    ch.Flags&EV_CLEAR != 0,
	}

	// The target may already have exited before we got here (fork/ADD
	// race); credit it immediately from the stash the sweep maintains.
	f.mu.Lock()
	if status, ok := f.exited[ch.Ident]; ok {
		kn.data = status
		delete(f.exited, ch.Ident)
	}
	f.mu.Unlock()

	if err := f.store.insert(kn); err != nil {
		return nil, err
	}
	return kn, nil
}

// reapAll drains the SIGCHLD signalfd (if readable) and performs one
// non-blocking wait4 sweep, crediting every registered knote whose pid
// exited and stashing the rest for a not-yet-registered knote to claim.
func (f *procFilter) reapAll() {
	var buf [unsafe.Sizeof(unix.SignalfdSiginfo{})]byte
	for {
		n, err := unix.Read(int(f.fd), buf[:])
		if err != nil || n != len(buf) {
			break
		}
	}

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			break
		}
		ident := uint64(pid)
		status := int64(ws)
		kn, ok := f.store.lookup(ident)
		if !ok {
			f.mu.Lock()
			f.exited[ident] = status
			f.mu.Unlock()
			continue
		}
		kn.mu.Lock()
		kn.data = status
		kn.fflags = NOTE_EXIT
		kn.mu.Unlock()
	}
	f.agg.interrupt()
}

// ready reports every registered knote whose pid has a recorded exit
// status; a caller-initiated wake and a sweep-initiated wake both land
// here, so this filter doesn't distinguish by rawToken.
func (f *procFilter) ready(t rawToken) []*knote {
	if t.filterTag == EVFILT_PROC && t.fd == f.fd {
		f.reapAll()
	}
	var touched []*knote
	f.store.each(func(kn *knote) {
		kn.mu.Lock()
		exited := kn.fflags&NOTE_EXIT != 0 && kn.data != 0
		kn.mu.Unlock()
		if exited {
			touched = append(touched, kn)
		}
	})
	return touched
}

func (f *procFilter) copyout(kn *knote) (Kevent, bool) {
	kn.mu.Lock()
	defer kn.mu.Unlock()
	if !kn.enabled || kn.pendingDelete || kn.data == 0 {
		return Kevent{}, false
	}
	ev := Kevent{
		Ident:  kn.ident,
		Filter: EVFILT_PROC,
		Fflags: NOTE_EXIT,
		Data:   kn.data,
		Udata:  kn.udata,
	}
	return ev, true
}

func (f *procFilter) closeAll() error {
	close(f.sweepDone)
	f.pool.Stop()
	return unix.Close(int(f.fd))
}

func (f *procFilter) knotes() *knoteStore {
	return f.store
}
