package kqueue

import "sync"

// platformState is the lazily-computed, process-wide result of
// platform init (spec.md §4.5): nothing process-global is installed
// beyond what each filter strictly needs, but the peer-close probe is
// expensive enough (it opens a socket pair) that it is cached rather
// than repeated per fd, per kqueue, or per read (SPEC_FULL.md
// supplement #1).
type platformState struct {
	peerCloseReliable bool
}

var (
	platformOnce  sync.Once
	platformCache platformState
)

// platformInit runs exactly once across the process's lifetime, no
// matter how many Kqueue values are created concurrently.
func platformInit() platformState {
	platformOnce.Do(func() {
		platformCache = platformState{
			peerCloseReliable: validatePeerCloseDetection(),
		}
		if !platformCache.peerCloseReliable {
			logger.ErrorFromString("peer-close detection probe failed; EVFILT_READ/WRITE EV_EOF reporting may be unreliable on this kernel")
		}
	})
	return platformCache
}
