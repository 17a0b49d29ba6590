package kqueue

import (
	"sync"
)

// Kqueue is the user-visible handle: a filter table, the aggregator
// primitive they share, and a liveness flag (spec.md §3 "Kqueue").
// Created by New, destroyed by Close — at which point every knote in
// every filter is torn down before the aggregator primitive itself is
// released (spec.md §3 lifecycle, §5 "Resource discipline").
type Kqueue struct {
	mu     sync.Mutex
	closed bool

	agg    aggregator
	tables *filterTable
}

// New realizes the equivalent of kqueue(): it runs platform init once
// per process (spec.md §4.5), builds the aggregator, and registers
// every filter the current platform supports into the table (spec.md
// §3 "Filters are registered in a table at kqueue creation").
func New() (*Kqueue, error) {
	platformInit()

	agg, err := newAggregator()
	if err != nil {
		return nil, err
	}

	kq := &Kqueue{agg: agg, tables: newFilterTable()}
	if err := kq.registerFilters(); err != nil {
		_ = agg.close()
		return nil, err
	}
	return kq, nil
}

// registerFilters is implemented per-platform (kqueue_linux.go,
// kqueue_windows.go): the Linux build wires all seven filters onto
// epoll/signalfd/timerfd/inotify/eventfd, the Windows build wires only
// timer and user onto IOCP and backs the rest with
// notImplementedFilter (spec.md §9 "an implementation should treat
// only the Linux path as authoritative").

// Fd exposes the aggregator's own pollable descriptor (spec.md §6: "A
// kqueue descriptor is a valid OS descriptor for the purposes of
// polling"), so one Kqueue can itself be registered as an EVFILT_READ
// source in another event loop.
func (kq *Kqueue) Fd() int {
	return kq.agg.fd()
}

// Close marks the kqueue dead, then releases every knote's OS resource,
// filter by filter, then the aggregator primitive (spec.md §3, §5).
// Calling Close more than once is a no-op.
func (kq *Kqueue) Close() error {
	kq.mu.Lock()
	if kq.closed {
		kq.mu.Unlock()
		return nil
	}
	kq.closed = true
	filters := kq.tables.all()
	kq.mu.Unlock()

	var firstErr error
	for _, f := range filters {
		if err := f.closeAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := kq.agg.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Interrupt wakes the aggregator wait of a concurrent Kevent call
// without delivering any event (spec.md §4.3 "dedicated inner
// primitive"). Kevent treats that wake like one whose tokens were all
// suppressed: it re-enters the wait with whatever timeout remains, so
// the call does not return because of the interrupt.
func (kq *Kqueue) Interrupt() {
	kq.agg.interrupt()
}

func (kq *Kqueue) isClosed() bool {
	kq.mu.Lock()
	defer kq.mu.Unlock()
	return kq.closed
}
