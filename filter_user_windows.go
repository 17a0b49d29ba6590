//go:build windows

package kqueue

// userFilter on Windows needs no OS resource at all (same as Linux,
// spec.md §4.2), so it only posts a completion to the shared IOCP
// instead of writing to an eventfd.
type userFilter struct {
	store *knoteStore
	agg   *iocpAggregator
}

func newUserFilter(agg aggregator) (*userFilter, error) {
	return &userFilter{store: newKnoteStore(), agg: agg.(*iocpAggregator)}, nil
}

func (f *userFilter) applyChange(kq *Kqueue, ch Kevent) (*knote, error) {
	var kn *knote
	var err error

	switch {
	case ch.Flags&EV_ADD != 0:
		kn, err = f.addOrMerge(ch)
	case ch.Flags&EV_DELETE != 0:
		var ok bool
		kn, ok = f.store.remove(ch.Ident)
		if !ok {
			return nil, ErrNoSuchKnote
		}
		return kn, nil
	case ch.Flags&(EV_ENABLE|EV_DISABLE) != 0:
		var ok bool
		kn, ok = f.store.lookup(ch.Ident)
		if !ok {
			return nil, ErrNoSuchKnote
		}
		kn.mu.Lock()
		kn.enabled = ch.Flags&EV_ENABLE != 0
		pending := kn.enabled && kn.data != 0
		ident := kn.ident
		kn.mu.Unlock()
		if pending {
			_ = f.agg.post(EVFILT_USER, ident)
		}
	default:
		var ok bool
		kn, ok = f.store.lookup(ch.Ident)
		if !ok {
			return nil, ErrNoSuchKnote
		}
	}
	if err != nil {
		return nil, err
	}
	f.applyFflags(kn, ch.Fflags)
	return kn, nil
}

func (f *userFilter) addOrMerge(ch Kevent) (*knote, error) {
	if existing, ok := f.store.lookup(ch.Ident); ok {
		existing.mu.Lock()
		existing.udata = ch.Udata
		existing.enabled = ch.Flags&EV_DISABLE == 0
		existing.oneshot = ch.Flags&EV_ONESHOT != 0
		existing.dispatch = ch.Flags&EV_DISPATCH != 0
		existing.clear = ch.Flags&EV_CLEAR != 0
		existing.mu.Unlock()
		return existing, nil
	}
	kn := &knote{
		ident:    ch.Ident,
		filter:   EVFILT_USER,
		udata:    ch.Udata,
		fflags:   ch.Fflags & NOTE_FFLAGSMASK,
		enabled:  ch.Flags&EV_DISABLE == 0,
		oneshot:  ch.Flags&EV_ONESHOT != 0,
		dispatch: ch.Flags&EV_DISPATCH != 0,
		clear:    ch.Flags&EV_CLEAR != 0,
	}
	if err := f.store.insert(kn); err != nil {
		return nil, err
	}
	return kn, nil
}

func (f *userFilter) applyFflags(kn *knote, fflags uint32) {
	ctrl := fflags & NOTE_FFCTRLMASK
	val := fflags & NOTE_FFLAGSMASK

	kn.mu.Lock()
	switch ctrl {
	case NOTE_FFAND:
		kn.fflags &= val
	case NOTE_FFOR:
		kn.fflags |= val
	case NOTE_FFCOPY:
		kn.fflags = val
	}
	trigger := fflags&NOTE_TRIGGER != 0
	if trigger {
		kn.data = 1
	}
	ident := kn.ident
	kn.mu.Unlock()

	if trigger {
		_ = f.agg.post(EVFILT_USER, ident)
	}
}

func (f *userFilter) ready(t rawToken) []*knote {
	kn, ok := f.store.lookup(uint64(t.fd))
	if !ok {
		return nil
	}
	return []*knote{kn}
}

func (f *userFilter) copyout(kn *knote) (Kevent, bool) {
	kn.mu.Lock()
	defer kn.mu.Unlock()
	if !kn.enabled || kn.pendingDelete || kn.data == 0 {
		return Kevent{}, false
	}
	ev := Kevent{
		Ident:  kn.ident,
		Filter: EVFILT_USER,
		Fflags: kn.fflags,
		Udata:  kn.udata,
	}
	kn.data = 0
	return ev, true
}

func (f *userFilter) closeAll() error {
	return nil
}

func (f *userFilter) knotes() *knoteStore {
	return f.store
}
