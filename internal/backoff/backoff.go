// Package backoff computes jittered exponential reconnection delays.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Policy is an exponential backoff: attempt k waits min(Cap, Base·2^k) plus a
// uniform jitter in [0, Jitter).
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration

	// Rand returns a value in [0, n). Nil uses a shared seeded source.
	Rand func(n int64) int64
}

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func defaultRand(n int64) int64 {
	randMu.Lock()
	defer randMu.Unlock()
	return randSource.Int63n(n)
}

// Ceiling returns min(Cap, Base·2^attempt), the delay before jitter.
func (p Policy) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.Base
	if base <= 0 {
		return 0
	}
	limit := p.Cap
	if limit <= 0 {
		limit = base
	}

	d := base
	for i := 0; i < attempt; i++ {
		if d >= limit || d > limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// Delay returns the wait before reconnect attempt number attempt (0-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Ceiling(attempt)
	if p.Jitter > 0 {
		rnd := p.Rand
		if rnd == nil {
			rnd = defaultRand
		}
		d += time.Duration(rnd(int64(p.Jitter)))
	}
	return d
}
