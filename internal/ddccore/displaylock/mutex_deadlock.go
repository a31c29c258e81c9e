//go:build deadlock

// Package displaylock serializes all DDC/CI traffic to a given
// display: at most one in-flight exchange per display,
// everyone else either queues for the lock or times out with
// ddcerr.DisplayBusy. Build with -tags=deadlock during development to
// get go-deadlock's hang detector instead of a bare sync.Mutex.
package displaylock

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = true

func init() {
	deadlock.Opts.DeadlockTimeout = 30 * time.Second
}

type mutex struct {
	deadlock.Mutex
}
