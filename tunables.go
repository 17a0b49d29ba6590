package kqueue

// maxPollerOnceEvents bounds the scratch buffer each wait phase draws
// from the aggregator in one syscall (design note §9.1: "there is no
// need for storage that outlives a single call" — this is the only
// knob left package-level, the way the teacher keeps
// MAX_POLLER_ONCE_EVENTS as a top-level tunable rather than a config
// field).
const maxPollerOnceEvents = 1024

// ioCombinedTag is the aggregator filterTag every EVFILT_READ/WRITE
// registration uses on Linux: the two directions on one fd share a
// single epoll registration in the native readiness primitive, so a
// wake under this tag fans out to both filter instances (dispatch.go
// resolveFilters, filter_io_linux.go). Windows has no read/write
// filter at all (kqueue_windows.go registers both as
// notImplementedFilter), so this tag is unused there.
const ioCombinedTag int16 = -100
