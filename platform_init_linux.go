//go:build linux

package kqueue

import "github.com/nyan233/kqueue/internal/fdutil"

func validatePeerCloseDetection() bool {
	return fdutil.ValidatePeerCloseDetection()
}
