//go:build !deadlock

// Package sync provides the mutex types used by the wire layer.
// Building with -tags deadlock swaps them for go-deadlock's detecting mutexes.
package sync

import "sync"

// Mutex is the standard sync.Mutex.
type Mutex = sync.Mutex

// RWMutex is the standard sync.RWMutex.
type RWMutex = sync.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup
