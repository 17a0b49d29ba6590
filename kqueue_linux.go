//go:build linux

package kqueue

func (kq *Kqueue) registerFilters() error {
	readF, writeF := newIOFilters(kq.agg)
	kq.tables.register(EVFILT_READ, readF)
	kq.tables.register(EVFILT_WRITE, writeF)

	timerF := newTimerFilter(kq.agg)
	kq.tables.register(EVFILT_TIMER, timerF)

	signalF, err := newSignalFilter(kq.agg)
	if err != nil {
		return err
	}
	kq.tables.register(EVFILT_SIGNAL, signalF)

	vnodeF, err := newVnodeFilter(kq.agg)
	if err != nil {
		return err
	}
	kq.tables.register(EVFILT_VNODE, vnodeF)

	userF, err := newUserFilter(kq.agg)
	if err != nil {
		return err
	}
	kq.tables.register(EVFILT_USER, userF)

	procF, err := newProcFilter(kq.agg)
	if err != nil {
		return err
	}
	kq.tables.register(EVFILT_PROC, procF)

	return nil
}
