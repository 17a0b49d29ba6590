package kqueue

import (
	"os"

	"github.com/zbh255/bilog"
)

// logger only ever fires on programming-error paths (spec.md §7
// "Fatal conditions") and platform-init results; the change/wait/
// copyout hot path never touches it.
var logger bilog.Logger = bilog.NewLogger(os.Stderr, bilog.PANIC, bilog.WithTimes(), bilog.WithCaller())
