package kqueue

import "testing"

func TestKnoteStoreInsertLookupRemove(t *testing.T) {
	s := newKnoteStore()
	kn := &knote{ident: 1, filter: EVFILT_USER}

	if err := s.insert(kn); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.insert(kn); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists on duplicate insert, got %v", err)
	}

	got, ok := s.lookup(1)
	if !ok || got != kn {
		t.Fatalf("lookup failed to find inserted knote")
	}

	if s.len() != 1 {
		t.Fatalf("expected len 1, got %d", s.len())
	}

	removed, ok := s.remove(1)
	if !ok || removed != kn {
		t.Fatalf("remove failed to return the knote")
	}
	if !kn.pendingDelete {
		t.Fatalf("expected pendingDelete to be set after remove")
	}
	if s.len() != 0 {
		t.Fatalf("expected len 0 after remove, got %d", s.len())
	}

	if _, ok := s.lookup(1); ok {
		t.Fatalf("expected lookup to fail after remove")
	}
}

func TestKnoteReleaseDefersResourceCloseUntilLastRef(t *testing.T) {
	closed := false
	kn := &knote{
		ident:  2,
		filter: EVFILT_USER,
		resource: closerFunc(func() error {
			closed = true
			return nil
		}),
	}
	s := newKnoteStore()
	if err := s.insert(kn); err != nil {
		t.Fatalf("insert: %v", err)
	}

	kn.acquire() // simulate a copyout holding a transient reference
	s.remove(kn.ident)
	if closed {
		t.Fatalf("resource closed while a transient reference was outstanding")
	}

	kn.release()
	if !closed {
		t.Fatalf("expected resource to close once the last reference released")
	}
}

func TestKnoteStoreEachVisitsEveryKnote(t *testing.T) {
	s := newKnoteStore()
	for i := uint64(0); i < 10; i++ {
		if err := s.insert(&knote{ident: i, filter: EVFILT_USER}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	seen := 0
	s.each(func(kn *knote) {
		seen++
	})
	if seen != 10 {
		t.Fatalf("expected to visit 10 knotes, visited %d", seen)
	}
}
