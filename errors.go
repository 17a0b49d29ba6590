package kqueue

import (
	"errors"
	"syscall"
)

// Error taxonomy from spec.md §7, surfaced as syscall.Errno so callers
// written against the real kevent(2) can keep testing with
// errors.Is(err, syscall.EBADF) unchanged.
var (
	ErrBadKqueue    = syscall.EBADF
	ErrInvalid      = syscall.EINVAL
	ErrNoSuchKnote  = syscall.ENOENT
	ErrNoMemory     = syscall.ENOMEM
	ErrInterrupted  = syscall.EINTR
	ErrFault        = syscall.EFAULT
	ErrAlreadyExists = syscall.EEXIST
)

// errnoOf extracts the errno to place in an EV_ERROR event's Data field
// (spec.md §4.2 RECEIPT: "data=errno on failure"). Errors that don't
// unwrap to a syscall.Errno are reported as EINVAL, which is the
// taxonomy's catch-all for "the core couldn't make sense of the
// request".
func errnoOf(err error) int64 {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int64(errno)
	}
	return int64(syscall.EINVAL)
}
