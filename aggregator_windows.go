//go:build windows

package kqueue

import (
	"time"

	"golang.org/x/sys/windows"
)

// iocpAggregator is the Windows realization of the aggregator contract
// (spec.md §9 "keep the Windows aggregator (IOCP) as a parallel but
// independent realization"). Unlike epollAggregator it does not
// register native file handles: only the timer and user filters exist
// on this build (filter_timer_windows.go, filter_user_windows.go), and
// both simply post a completion directly rather than arming a
// descriptor, so add/modify/remove are no-ops here.
type iocpAggregator struct {
	port windows.Handle
}

const windowsInterruptKey uintptr = 0

func newAggregator() (aggregator, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &iocpAggregator{port: port}, nil
}

// post delivers one completion carrying (filterTag, ident) to whatever
// goroutine is parked in wait. Filters on this build call this
// directly instead of going through add/modify (filter_timer_windows.go,
// filter_user_windows.go).
func (a *iocpAggregator) post(filterTag int16, ident uint64) error {
	return windows.PostQueuedCompletionStatus(a.port, uint32(ident), uintptr(filterTag), nil)
}

func (a *iocpAggregator) add(fd int32, events uint32, filterTag int16) error    { return nil }
func (a *iocpAggregator) modify(fd int32, events uint32, filterTag int16) error { return nil }
func (a *iocpAggregator) remove(fd int32) error                                { return nil }

func (a *iocpAggregator) wait(timeout *time.Duration) ([]rawToken, error) {
	msec := uint32(windows.INFINITE)
	if timeout != nil {
		msec = uint32(timeout.Milliseconds())
	}
	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(a.port, &bytes, &key, &overlapped, msec)
	if err != nil {
		if err == windows.WAIT_TIMEOUT {
			return nil, nil
		}
		return nil, err
	}
	if key == windowsInterruptKey {
		return nil, nil
	}
	return []rawToken{{fd: int32(bytes), filterTag: int16(key)}}, nil
}

func (a *iocpAggregator) interrupt() {
	_ = windows.PostQueuedCompletionStatus(a.port, 0, windowsInterruptKey, nil)
}

func (a *iocpAggregator) fd() int {
	return int(a.port)
}

func (a *iocpAggregator) close() error {
	return windows.CloseHandle(a.port)
}
