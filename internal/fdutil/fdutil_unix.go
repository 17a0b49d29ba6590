//go:build linux || darwin || freebsd

// Package fdutil holds the non-blocking fd primitives the read/write
// filter needs to fill in a Kevent's Data and EV_EOF fields. It
// generalizes the teacher's internal/conn_handler, which wrapped the
// same unix.Read/unix.Write pair for TCP connection plumbing, to the
// readiness-accounting job §4.2 of the spec describes.
package fdutil

import "golang.org/x/sys/unix"

// ReadableBytes returns the kernel's estimate of bytes available to
// read on fd, the FIONREAD ioctl spec.md §4.2 names for EVFILT_READ's
// data field.
func ReadableBytes(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCINQ)
}

// WritableSpace returns an estimate of free send-buffer space for a
// socket fd (EVFILT_WRITE's data field). Not every fd type supports
// SO_SNDBUF/TIOCOUTQ; callers treat a failure here as "unknown", not
// fatal.
func WritableSpace(fd int) (int, error) {
	sndbuf, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
	if err != nil {
		return 0, err
	}
	queued, err := unix.IoctlGetInt(fd, unix.TIOCOUTQ)
	if err != nil {
		// Not a stream socket/tty that supports TIOCOUTQ; report the
		// full send buffer as free rather than failing the copyout.
		return sndbuf, nil
	}
	free := sndbuf - queued
	if free < 0 {
		free = 0
	}
	return free, nil
}

// PeekHangup reports whether fd's peer has performed an orderly
// shutdown, via the zero-length MSG_PEEK technique
// ValidatePeerCloseDetection exercises at platform init
// (original_source/test/main.c:test_peer_close_detection).
func PeekHangup(fd int) bool {
	var buf [1]byte
	n, _, err := unix.Recvfrom(fd, buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	if err != nil {
		return false
	}
	return n == 0
}

// ValidatePeerCloseDetection proves PeekHangup's technique works on
// this kernel, using a disposable socket pair exactly as
// original_source/test/main.c does, before the read filter trusts it
// on user fds (spec.md §4.5).
func ValidatePeerCloseDetection() bool {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fds[0])
	if PeekHangup(fds[0]) {
		// Data shouldn't be visible before the peer closes.
		return false
	}
	if err := unix.Close(fds[1]); err != nil {
		return false
	}
	return PeekHangup(fds[0])
}
