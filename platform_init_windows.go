//go:build windows

package kqueue

// validatePeerCloseDetection has no meaning on the Windows build: the
// only filters registered here are timer and user
// (kqueue_windows.go), neither of which reports EV_EOF, so the probe
// is skipped rather than ported (spec.md §9, Windows path is
// non-authoritative).
func validatePeerCloseDetection() bool {
	return false
}
