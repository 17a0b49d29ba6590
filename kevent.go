package kqueue

import "fmt"

// Kevent is the BSD struct kevent tuple: (ident, filter, flags, fflags,
// data, udata). It is the unit of both the change-list and the
// event-list passed to Kqueue.Kevent.
type Kevent struct {
	Ident  uint64
	Filter int16
	Flags  uint16
	Fflags uint32
	Data   int64
	Udata  interface{}
}

// SetEvent fills ev in place, mirroring the EV_SET macro.
func SetEvent(ev *Kevent, ident uint64, filter int16, flags uint16, fflags uint32, data int64, udata interface{}) {
	ev.Ident = ident
	ev.Filter = filter
	ev.Flags = flags
	ev.Fflags = fflags
	ev.Data = data
	ev.Udata = udata
}

func (e Kevent) String() string {
	return fmt.Sprintf("Kevent{Ident:%d Filter:%d Flags:%#x Fflags:%#x Data:%d}",
		e.Ident, e.Filter, e.Flags, e.Fflags, e.Data)
}

// errorEvent builds the EV_ERROR acknowledgement/failure event that the
// change phase emits when a change carries EV_RECEIPT, or fails and the
// caller supplied event-list room (spec.md §4.4 step 1, §7).
func errorEvent(src Kevent, errno int64) Kevent {
	return Kevent{
		Ident:  src.Ident,
		Filter: src.Filter,
		Flags:  EV_ERROR,
		Fflags: 0,
		Data:   errno,
		Udata:  src.Udata,
	}
}
