package heap

import (
	"testing"
	"time"
)

func TestHeapOrdersByDeadline(t *testing.T) {
	h := New(4)
	now := time.Now()
	h.Insert(Elem{Ident: 1, Deadline: now.Add(30 * time.Millisecond)})
	h.Insert(Elem{Ident: 2, Deadline: now.Add(10 * time.Millisecond)})
	h.Insert(Elem{Ident: 3, Deadline: now.Add(20 * time.Millisecond)})

	if h.Size() != 3 {
		t.Fatalf("expected size 3, got %d", h.Size())
	}

	want := []uint64{2, 3, 1}
	for _, ident := range want {
		top := h.DelTop()
		if top.Ident != ident {
			t.Fatalf("expected ident %d, got %d", ident, top.Ident)
		}
	}
	if !h.IsEmpty() {
		t.Fatalf("expected heap to be empty")
	}
}

func TestHeapRemoveByIdent(t *testing.T) {
	h := New(4)
	now := time.Now()
	h.Insert(Elem{Ident: 1, Deadline: now.Add(30 * time.Millisecond)})
	h.Insert(Elem{Ident: 2, Deadline: now.Add(10 * time.Millisecond)})
	h.Insert(Elem{Ident: 3, Deadline: now.Add(20 * time.Millisecond)})

	removed, ok := h.Remove(3)
	if !ok || removed.Ident != 3 {
		t.Fatalf("expected to remove ident 3, got %+v ok=%v", removed, ok)
	}
	if h.Contains(3) {
		t.Fatalf("expected ident 3 to be gone")
	}
	if h.Size() != 2 {
		t.Fatalf("expected size 2, got %d", h.Size())
	}

	top := h.DelTop()
	if top.Ident != 2 {
		t.Fatalf("expected ident 2 next, got %d", top.Ident)
	}
}

func TestHeapInsertReplacesExisting(t *testing.T) {
	h := New(4)
	now := time.Now()
	h.Insert(Elem{Ident: 1, Deadline: now.Add(50 * time.Millisecond)})
	h.Insert(Elem{Ident: 1, Deadline: now.Add(5 * time.Millisecond)})

	if h.Size() != 1 {
		t.Fatalf("expected size 1 after re-insert, got %d", h.Size())
	}
	top := h.Peek()
	if top.Deadline.Sub(now) > 10*time.Millisecond {
		t.Fatalf("expected the re-inserted deadline to win")
	}
}
