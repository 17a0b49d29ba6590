package kqueue

import "sync"

// knote is the durable registration record for one (filter, ident)
// pair, owned by the filter that created it (spec.md §3 "Knote").
//
// The store holds the strong reference; copyout callers hold a
// transient reference bumped by acquire under the knote's own lock
// (invariant: a knote
// is destroyed only once both the store's reference and every
// transient reference are gone).
type knote struct {
	mu sync.Mutex

	ident  uint64
	filter int16
	udata  interface{}

	enabled  bool
	oneshot  bool
	dispatch bool
	clear    bool

	// pendingDelete marks a knote whose delete has been requested while
	// a copyout held a transient reference; the last releaser tears it
	// down. Guards testable property 6 ("a oneshot knote is deleted at
	// most once").
	pendingDelete bool

	// fflags/data are the filter-specific payload accumulated between
	// deliveries (signal counts, timer expirations, vnode note bits).
	fflags uint32
	data   int64

	// resource is the backing OS handle, or nil for filters that keep no
	// per-knote handle (user, proc). It is released and set to nil when
	// the knote is torn down; EV_DISABLE leaves it in place.
	resource closer

	refs int32
}

// closer releases a knote's backing OS resource. Implemented per
// filter (timerfd, signalfd subscription, inotify watch, epoll
// registration, ...).
type closer interface {
	Close() error
}

func (kn *knote) acquire() {
	kn.mu.Lock()
	kn.refs++
	kn.mu.Unlock()
}

// release drops a transient reference. If this was the last reference
// and the knote is marked for deletion, its resource is torn down here
// (invariant 3: resource release happens before the knote becomes
// unreachable).
func (kn *knote) release() {
	kn.mu.Lock()
	kn.refs--
	doClose := kn.refs == 0 && kn.pendingDelete && kn.resource != nil
	var res closer
	if doClose {
		res = kn.resource
		kn.resource = nil
	}
	kn.mu.Unlock()
	if res != nil {
		_ = res.Close()
	}
}

// knoteStore is the per-filter ident -> knote index (spec.md §4.1). All
// mutation happens under mu, held for the duration of the call — the
// filter lock in the locking hierarchy (spec.md §5).
type knoteStore struct {
	mu     sync.Mutex
	knotes map[uint64]*knote
}

func newKnoteStore() *knoteStore {
	return &knoteStore{knotes: make(map[uint64]*knote, 64)}
}

func (s *knoteStore) insert(kn *knote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.knotes[kn.ident]; ok {
		return ErrAlreadyExists
	}
	s.knotes[kn.ident] = kn
	return nil
}

func (s *knoteStore) lookup(ident uint64) (*knote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kn, ok := s.knotes[ident]
	return kn, ok
}

// remove drops the store's strong reference and releases the OS
// resource if no transient reference is outstanding; otherwise it
// defers release to the last release() caller.
func (s *knoteStore) remove(ident uint64) (*knote, bool) {
	s.mu.Lock()
	kn, ok := s.knotes[ident]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	delete(s.knotes, ident)
	s.mu.Unlock()

	kn.mu.Lock()
	kn.pendingDelete = true
	doClose := kn.refs == 0 && kn.resource != nil
	var res closer
	if doClose {
		res = kn.resource
		kn.resource = nil
	}
	kn.mu.Unlock()
	if res != nil {
		_ = res.Close()
	}
	return kn, true
}

// each calls fn for every knote under the filter lock, safe against
// concurrent mutation (spec.md §4.1 "Iteration for teardown must be
// safe against concurrent mutation").
func (s *knoteStore) each(fn func(*knote)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kn := range s.knotes {
		fn(kn)
	}
}

func (s *knoteStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.knotes)
}
