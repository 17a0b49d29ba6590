//go:build linux

package kqueue

import (
	"os"
	"testing"
	"time"
)

// NOTE_DELETE auto-disable-but-deliver-once (spec.md §4.2 vnode edge
// case): removing the watched file reports one event with NOTE_DELETE
// set, and the knote is disabled afterward rather than redelivering.
func TestVnodeDeleteAutoDisablesAfterOneDelivery(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "vnode-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	name := f.Name()
	defer f.Close()

	kq := newTestKqueue(t)

	add := []Kevent{{Ident: uint64(f.Fd()), Filter: EVFILT_VNODE, Flags: EV_ADD, Fflags: NOTE_DELETE}}
	if _, err := kq.Kevent(add, nil, nil); err != nil {
		t.Fatalf("ADD: %v", err)
	}

	if err := os.Remove(name); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	events := make([]Kevent, 4)
	timeout := time.Second
	n, err := kq.Kevent(nil, events, &timeout)
	if err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	if events[0].Fflags&NOTE_DELETE == 0 {
		t.Fatalf("expected NOTE_DELETE set, got fflags %#x", events[0].Fflags)
	}

	shortTimeout := 200 * time.Millisecond
	n, err = kq.Kevent(nil, events, &shortTimeout)
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no redelivery after auto-disable, got n=%d", n)
	}
}
