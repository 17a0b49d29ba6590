//go:build linux

package kqueue

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newTestKqueue(t *testing.T) *Kqueue {
	t.Helper()
	kq, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { kq.Close() })
	return kq
}

// S2 User-trigger: a wait after NOTE_TRIGGER returns the event; a
// second wait without re-triggering times out.
func TestUserTrigger(t *testing.T) {
	kq := newTestKqueue(t)

	add := []Kevent{{Ident: 42, Filter: EVFILT_USER, Flags: EV_ADD | EV_CLEAR}}
	if _, err := kq.Kevent(add, nil, nil); err != nil {
		t.Fatalf("ADD: %v", err)
	}

	trigger := []Kevent{{Ident: 42, Filter: EVFILT_USER, Fflags: NOTE_TRIGGER | NOTE_FFCOPY}}
	if _, err := kq.Kevent(trigger, nil, nil); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	events := make([]Kevent, 4)
	timeout := time.Second
	n, err := kq.Kevent(nil, events, &timeout)
	if err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if n != 1 || events[0].Ident != 42 {
		t.Fatalf("expected one event for ident 42, got n=%d events=%+v", n, events[:n])
	}

	shortTimeout := 100 * time.Millisecond
	n, err = kq.Kevent(nil, events, &shortTimeout)
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected second wait to time out with no events, got n=%d", n)
	}
}

// S3 Timer-oneshot: one wait returns one event with data>=1; the
// knote is gone afterward.
func TestTimerOneshot(t *testing.T) {
	kq := newTestKqueue(t)

	add := []Kevent{{Ident: 7, Filter: EVFILT_TIMER, Flags: EV_ADD | EV_ONESHOT, Data: 50}}
	if _, err := kq.Kevent(add, nil, nil); err != nil {
		t.Fatalf("ADD: %v", err)
	}

	events := make([]Kevent, 4)
	timeout := time.Second
	n, err := kq.Kevent(nil, events, &timeout)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	if events[0].Ident != 7 || events[0].Data < 1 {
		t.Fatalf("expected ident 7 with data>=1, got %+v", events[0])
	}

	shortTimeout := 200 * time.Millisecond
	n, err = kq.Kevent(nil, events, &shortTimeout)
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected the oneshot knote to be gone, got n=%d", n)
	}
}

// S4 Signal-coalesce: raising a signal reports one event with the
// accumulated count. Standard (non-realtime) POSIX signals do not
// queue while blocked, so back-to-back raises of the same signal
// before the signalfd is drained land as a single pending instance;
// the assertion is data>=1 rather than an exact raise count for that
// reason.
func TestSignalDelivery(t *testing.T) {
	kq := newTestKqueue(t)

	add := []Kevent{{Ident: uint64(unix.SIGUSR1), Filter: EVFILT_SIGNAL, Flags: EV_ADD}}
	if _, err := kq.Kevent(add, nil, nil); err != nil {
		t.Fatalf("ADD: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := unix.Kill(unix.Getpid(), unix.SIGUSR1); err != nil {
			t.Fatalf("raise %d: %v", i, err)
		}
	}

	events := make([]Kevent, 4)
	timeout := time.Second
	n, err := kq.Kevent(nil, events, &timeout)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	if events[0].Ident != uint64(unix.SIGUSR1) || events[0].Data < 1 {
		t.Fatalf("expected SIGUSR1 with data>=1, got %+v", events[0])
	}
}

// S6 Receipt on failure: re-ADDing an already-registered oneshot
// user knote with EV_RECEIPT returns an acknowledgement event rather
// than failing the call, because this filter treats re-ADD as an
// idempotent merge (spec.md S6's documented alternative).
func TestReceiptOnIdempotentReAdd(t *testing.T) {
	kq := newTestKqueue(t)

	first := []Kevent{{Ident: 99, Filter: EVFILT_USER, Flags: EV_ADD | EV_ONESHOT}}
	if _, err := kq.Kevent(first, nil, nil); err != nil {
		t.Fatalf("first ADD: %v", err)
	}

	second := []Kevent{{Ident: 99, Filter: EVFILT_USER, Flags: EV_ADD | EV_ONESHOT | EV_RECEIPT}}
	events := make([]Kevent, 1)
	n, err := kq.Kevent(second, events, nil)
	if err != nil {
		t.Fatalf("second ADD with RECEIPT: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 acknowledgement event, got %d", n)
	}
	if events[0].Flags&EV_ERROR == 0 {
		t.Fatalf("expected EV_ERROR ack flag, got %#x", events[0].Flags)
	}
	if events[0].Data != 0 {
		t.Fatalf("expected data=0 for an idempotent merge, got %d", events[0].Data)
	}
}

// Change-order preservation (testable property 2): EV_RECEIPT acks
// appear in the same relative order as their source changes.
func TestReceiptOrderPreserved(t *testing.T) {
	kq := newTestKqueue(t)

	changes := []Kevent{
		{Ident: 1, Filter: EVFILT_USER, Flags: EV_ADD | EV_RECEIPT, Udata: "a"},
		{Ident: 2, Filter: EVFILT_USER, Flags: EV_ADD | EV_RECEIPT, Udata: "b"},
		{Ident: 3, Filter: EVFILT_USER, Flags: EV_ADD | EV_RECEIPT, Udata: "c"},
	}
	events := make([]Kevent, 3)
	n, err := kq.Kevent(changes, events, nil)
	if err != nil {
		t.Fatalf("Kevent: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 ack events, got %d", n)
	}
	for i, want := range []uint64{1, 2, 3} {
		if events[i].Ident != want {
			t.Fatalf("event %d: expected ident %d, got %d", i, want, events[i].Ident)
		}
	}
}

// Dispatch-disables (testable property 4): an EV_DISPATCH knote is
// disabled after delivery and not redelivered until re-enabled.
func TestDispatchDisablesAfterDelivery(t *testing.T) {
	kq := newTestKqueue(t)

	add := []Kevent{{Ident: 5, Filter: EVFILT_USER, Flags: EV_ADD | EV_DISPATCH}}
	if _, err := kq.Kevent(add, nil, nil); err != nil {
		t.Fatalf("ADD: %v", err)
	}
	trigger := []Kevent{{Ident: 5, Filter: EVFILT_USER, Fflags: NOTE_TRIGGER | NOTE_FFCOPY}}
	if _, err := kq.Kevent(trigger, nil, nil); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	events := make([]Kevent, 2)
	timeout := time.Second
	n, err := kq.Kevent(nil, events, &timeout)
	if err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}

	// Re-trigger without re-enabling: must not redeliver.
	if _, err := kq.Kevent(trigger, nil, nil); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	shortTimeout := 100 * time.Millisecond
	n, err = kq.Kevent(nil, events, &shortTimeout)
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected disabled knote to not redeliver, got n=%d", n)
	}
}
