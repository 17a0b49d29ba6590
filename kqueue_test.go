//go:build linux

package kqueue

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestNewAndClose(t *testing.T) {
	kq, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if kq.Fd() < 0 {
		t.Fatalf("expected a valid pollable descriptor, got %d", kq.Fd())
	}
	if err := kq.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent (spec.md §3 lifecycle).
	if err := kq.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// S5 Invalid kq: a nil/closed Kqueue's Kevent call returns EBADF.
func TestKeventOnClosedKqueueReturnsEBADF(t *testing.T) {
	kq, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := kq.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = kq.Kevent(nil, nil, nil)
	if err != ErrBadKqueue {
		t.Fatalf("expected ErrBadKqueue, got %v", err)
	}
}

// S1 Peer-close: one call to Kevent with a 1s timeout returns one
// EVFILT_READ event with EV_EOF set once the peer closes.
func TestPeerCloseReportsEOF(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer unix.Close(fds[0])

	kq, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer kq.Close()

	changes := []Kevent{{Ident: uint64(fds[0]), Filter: EVFILT_READ, Flags: EV_ADD}}
	if _, err := kq.Kevent(changes, nil, nil); err != nil {
		t.Fatalf("ADD: %v", err)
	}

	if err := unix.Close(fds[1]); err != nil {
		t.Fatalf("closing peer: %v", err)
	}

	events := make([]Kevent, 4)
	timeout := time.Second
	n, err := kq.Kevent(nil, events, &timeout)
	if err != nil {
		t.Fatalf("Kevent wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	ev := events[0]
	if ev.Filter != EVFILT_READ {
		t.Fatalf("expected EVFILT_READ, got %d", ev.Filter)
	}
	if ev.Flags&EV_EOF == 0 {
		t.Fatalf("expected EV_EOF set, got flags %#x", ev.Flags)
	}
	if ev.Data != 0 {
		t.Fatalf("expected data=0, got %d", ev.Data)
	}
}
