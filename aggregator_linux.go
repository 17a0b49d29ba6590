//go:build linux

package kqueue

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollAggregator is the per-kqueue wait fabric (spec.md §4.3). It is a
// single epoll instance; every filter registers its native fd(s)
// directly into it rather than nesting another epoll underneath,
// mirroring the teacher's poller_epoll.go which keeps one epfd for
// every watched descriptor.
//
// epoll_event's Fd/Pad pair carries the (native fd, filter tag) the
// dispatcher needs to resolve a wake back to a knote; it is plain user
// data, not interpreted by the kernel, so this is safe without pinning
// any Go pointer across the syscall.
type epollAggregator struct {
	epfd int
	// wakeFd backs the interrupt() mechanism: a dedicated eventfd
	// that never maps to a knote (spec.md §4.3).
	wakeFd int
}

const interruptFilterTag int16 = 0

func newAggregator() (aggregator, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	a := &epollAggregator{epfd: epfd, wakeFd: wakeFd}
	if err := a.add(int32(wakeFd), unix.EPOLLIN, interruptFilterTag); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, err
	}
	return a, nil
}

func (a *epollAggregator) add(fd int32, events uint32, filterTag int16) error {
	ev := unix.EpollEvent{Events: events, Fd: fd, Pad: int32(filterTag)}
	return unix.EpollCtl(a.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev)
}

func (a *epollAggregator) modify(fd int32, events uint32, filterTag int16) error {
	ev := unix.EpollEvent{Events: events, Fd: fd, Pad: int32(filterTag)}
	return unix.EpollCtl(a.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev)
}

func (a *epollAggregator) remove(fd int32) error {
	err := unix.EpollCtl(a.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (a *epollAggregator) wait(timeout *time.Duration) ([]rawToken, error) {
	msec := -1
	if timeout != nil {
		msec = int(timeout.Milliseconds())
		if msec < 0 {
			msec = 0
		}
	}
	buf := make([]unix.EpollEvent, maxPollerOnceEvents)
	n, err := unix.EpollWait(a.epfd, buf, msec)
	if err == unix.EINTR {
		return nil, ErrInterrupted
	}
	if err != nil {
		return nil, err
	}
	tokens := make([]rawToken, 0, n)
	for i := 0; i < n; i++ {
		tag := int16(buf[i].Pad)
		if tag == interruptFilterTag && buf[i].Fd == int32(a.wakeFd) {
			var scratch [8]byte
			_, _ = unix.Read(a.wakeFd, scratch[:])
			continue
		}
		tokens = append(tokens, rawToken{fd: buf[i].Fd, filterTag: tag, events: buf[i].Events})
	}
	return tokens, nil
}

func (a *epollAggregator) interrupt() {
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(a.wakeFd, one[:])
}

func (a *epollAggregator) fd() int {
	return a.epfd
}

func (a *epollAggregator) close() error {
	unix.Close(a.wakeFd)
	return unix.Close(a.epfd)
}
