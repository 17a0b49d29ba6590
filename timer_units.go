package kqueue

import "time"

// timerDuration interprets a timer change's (fflags, data) pair per
// spec.md §4.2: fflags selects the unit, data is the magnitude. Shared
// by both the Linux (timerfd) and Windows (software heap) timer
// filters since the unit-selection logic has no OS dependency.
func timerDuration(fflags uint32, data int64) time.Duration {
	switch {
	case fflags&NOTE_SECONDS != 0:
		return time.Duration(data) * time.Second
	case fflags&NOTE_USECONDS != 0:
		return time.Duration(data) * time.Microsecond
	case fflags&NOTE_NSECONDS != 0:
		return time.Duration(data) * time.Nanosecond
	default:
		return time.Duration(data) * time.Millisecond
	}
}
