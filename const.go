package kqueue

// Event flags. Matches the BSD struct kevent ev_flags bit layout so that
// callers porting code from a real kqueue() do not have to recompute
// their masks.
const (
	EV_ADD     = 0x0001
	EV_DELETE  = 0x0002
	EV_ENABLE  = 0x0004
	EV_DISABLE = 0x0008
	EV_ONESHOT = 0x0010
	EV_CLEAR   = 0x0020
	EV_RECEIPT = 0x0040
	EV_DISPATCH = 0x0080
	EV_ERROR   = 0x4000
	EV_EOF     = 0x8000
)

// Filter tags. Negative, like the BSD originals, so they never collide
// with a signal number or other unsigned ident space.
const (
	EVFILT_READ   = -1
	EVFILT_WRITE  = -2
	EVFILT_VNODE  = -4
	EVFILT_PROC   = -5
	EVFILT_SIGNAL = -6
	EVFILT_TIMER  = -7
	EVFILT_USER   = -10
)

// EVFILT_VNODE fflags.
const (
	NOTE_DELETE = 0x0001
	NOTE_WRITE  = 0x0002
	NOTE_EXTEND = 0x0004
	NOTE_ATTRIB = 0x0008
	NOTE_LINK   = 0x0010
	NOTE_RENAME = 0x0020
	NOTE_REVOKE = 0x0040
)

// EVFILT_PROC fflags. Only NOTE_EXIT is honored on Linux; an ADD
// lacking it is rejected with EINVAL (see DESIGN.md's EVFILT_PROC
// scope decision).
const (
	NOTE_EXIT   = 0x80000000
	NOTE_FORK   = 0x40000000
	NOTE_EXEC   = 0x20000000
	NOTE_TRACK    = 0x00000001
	NOTE_TRACKERR = 0x00000002
	NOTE_CHILD    = 0x00000004
)

// EVFILT_USER fflags: the NOTE_TRIGGER value-combine protocol.
const (
	NOTE_FFNOP      = 0x00000000
	NOTE_FFAND      = 0x40000000
	NOTE_FFOR       = 0x80000000
	NOTE_FFCOPY     = 0xc0000000
	NOTE_FFCTRLMASK = 0xc0000000
	NOTE_FFLAGSMASK = 0x00ffffff
	NOTE_TRIGGER    = 0x01000000
)

// EVFILT_TIMER fflags: unit selection and absolute-vs-relative.
const (
	NOTE_SECONDS = 0x00000001
	NOTE_USECONDS = 0x00000002
	NOTE_NSECONDS = 0x00000004
	NOTE_ABSOLUTE = 0x00000008
)
