package wire

import (
	"context"
	"fmt"
	"strings"

	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
)

// Mode selects how an observation channel copes with a slow reader.
type Mode uint8

const (
	// ModeOrdered delivers every value in order and blocks the publisher
	// while the channel is full.
	ModeOrdered Mode = iota
	// ModeDrop never blocks; values that don't fit are discarded.
	ModeDrop
	// ModeLatest keeps only the most recent undelivered value.
	ModeLatest
)

func (m Mode) String() string {
	switch m {
	case ModeOrdered:
		return "all-ordered"
	case ModeDrop:
		return "drop-under-load"
	case ModeLatest:
		return "latest-only"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode accepts the long names and their short forms
// (ordered, drop, latest).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all-ordered", "ordered":
		return ModeOrdered, nil
	case "drop-under-load", "drop":
		return ModeDrop, nil
	case "latest-only", "latest":
		return ModeLatest, nil
	}
	return 0, fmt.Errorf("unknown delivery mode %q", s)
}

// ObserveBuffer is the channel capacity used by ModeOrdered and ModeDrop.
const ObserveBuffer = 64

type observer[T any] struct {
	ctx    context.Context
	mode   Mode
	ch     chan T
	mu     ksync.Mutex
	closed bool
}

func (o *observer[T]) deliver(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	switch o.mode {
	case ModeDrop:
		select {
		case o.ch <- v:
		default:
		}
	case ModeLatest:
		select {
		case o.ch <- v:
			return
		default:
		}
		select {
		case <-o.ch:
		default:
		}
		select {
		case o.ch <- v:
		default:
		}
	default:
		select {
		case o.ch <- v:
		case <-o.ctx.Done():
		}
	}
}

func (o *observer[T]) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// observe turns a callback registration into a channel that lives until ctx
// ends.
func observe[T any](ctx context.Context, mode Mode, register func(func(T)) *Subscription) <-chan T {
	size := ObserveBuffer
	if mode == ModeLatest {
		size = 1
	}
	o := &observer[T]{ctx: ctx, mode: mode, ch: make(chan T, size)}
	sub := register(o.deliver)

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
		o.close()
	}()
	return o.ch
}

// Observe returns the emissions that happen after the call.
func (s *Stream) Observe(ctx context.Context, mode Mode) <-chan Emission {
	return observe(ctx, mode, s.ObserveFlow)
}

// Observe returns the incoming requests seen after the call.
func (d *Discrete) Observe(ctx context.Context, mode Mode) <-chan Request {
	return observe(ctx, mode, d.ObserveRequests)
}

// Observe returns the current value followed by every update.
func (s *Signal) Observe(ctx context.Context, mode Mode) <-chan any {
	return observe(ctx, mode, s.Watch)
}

// Chan is Observe with the handle's own delivery mode.
func (s *Stream) Chan(ctx context.Context) <-chan Emission {
	return s.Observe(ctx, s.mode)
}

// Chan is Observe with the handle's own delivery mode.
func (d *Discrete) Chan(ctx context.Context) <-chan Request {
	return d.Observe(ctx, d.mode)
}

// Chan is Observe with the handle's own delivery mode.
func (s *Signal) Chan(ctx context.Context) <-chan any {
	return s.Observe(ctx, s.mode)
}
