//go:build deadlock

// Package sync provides the mutex types used by the wire layer.
// Building with -tags deadlock swaps them for go-deadlock's detecting mutexes.
package sync

import (
	"os"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Mutex detects lock-order inversions and long waits.
type Mutex = deadlock.Mutex

// RWMutex detects lock-order inversions and long waits.
type RWMutex = deadlock.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

func init() {
	// Wire callbacks never run under a lock, so anything held this long is a bug.
	deadlock.Opts.DeadlockTimeout = 10 * time.Second

	if os.Getenv("KYANO_NO_DEADLOCK_DETECT") != "" {
		deadlock.Opts.Disable = true
		return
	}

	deadlock.Opts.PrintAllCurrentGoroutines = true
	println("[kyano] deadlock detection enabled")
}
