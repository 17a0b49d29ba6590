//go:build windows

package kqueue

// registerFilters wires only EVFILT_TIMER and EVFILT_USER to a real
// implementation; every other filter is not-implemented on this build
// (spec.md §9: the Windows path is secondary and treated as
// non-authoritative — several filters have no IOCP-native equivalent
// without a much larger per-handle completion-port wiring effort than
// this facility's scope covers).
func (kq *Kqueue) registerFilters() error {
	timerF := newTimerFilter(kq.agg)
	kq.tables.register(EVFILT_TIMER, timerF)

	userF, err := newUserFilter(kq.agg)
	if err != nil {
		return err
	}
	kq.tables.register(EVFILT_USER, userF)

	kq.tables.register(EVFILT_READ, newNotImplementedFilter())
	kq.tables.register(EVFILT_WRITE, newNotImplementedFilter())
	kq.tables.register(EVFILT_SIGNAL, newNotImplementedFilter())
	kq.tables.register(EVFILT_VNODE, newNotImplementedFilter())
	kq.tables.register(EVFILT_PROC, newNotImplementedFilter())

	return nil
}
