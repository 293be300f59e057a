package wire

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
)

// handler is one registered callback. active is cleared on unsubscribe so a
// delivery already queued for it is skipped.
type handler[T any] struct {
	fn       func(T)
	observer bool
	active   atomic.Bool
}

type delivery[T any] struct {
	value   T
	targets []*handler[T]
}

// fanout delivers values to its handlers strictly in publish order.
//
// Publishing enqueues under mu and then drains. Only one goroutine drains at a
// time and mu is released around every callback, so a callback may publish or
// subscribe on the same wire; its work is queued behind the current delivery.
type fanout[T any] struct {
	wire ID
	mu   ksync.Mutex

	handlers []*handler[T]
	queue    []delivery[T]
	draining bool
}

// subscribe registers fn. When initial is set it runs under mu and its value,
// if any, is queued for fn alone before any later publish.
func (f *fanout[T]) subscribe(fn func(T), observer bool, initial func() (T, bool)) *handler[T] {
	h := &handler[T]{fn: fn, observer: observer}
	h.active.Store(true)

	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	queued := false
	if initial != nil {
		if v, ok := initial(); ok {
			f.queue = append(f.queue, delivery[T]{value: v, targets: []*handler[T]{h}})
			queued = true
		}
	}
	f.mu.Unlock()

	if queued {
		f.drain()
	}
	return h
}

func (f *fanout[T]) unsubscribe(h *handler[T]) {
	if !h.active.CompareAndSwap(true, false) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.handlers {
		if cur == h {
			f.handlers = append(f.handlers[:i:i], f.handlers[i+1:]...)
			return
		}
	}
}

// publish runs build under mu and queues its value for every handler
// registered at that moment, listeners before observers.
func (f *fanout[T]) publish(build func() (T, bool)) {
	f.mu.Lock()
	v, ok := build()
	if ok {
		f.queue = append(f.queue, delivery[T]{value: v, targets: f.snapshotLocked()})
	}
	f.mu.Unlock()

	if ok {
		f.drain()
	}
}

func (f *fanout[T]) snapshotLocked() []*handler[T] {
	targets := make([]*handler[T], 0, len(f.handlers))
	for _, h := range f.handlers {
		if !h.observer {
			targets = append(targets, h)
		}
	}
	for _, h := range f.handlers {
		if h.observer {
			targets = append(targets, h)
		}
	}
	return targets
}

func (f *fanout[T]) drain() {
	f.mu.Lock()
	if f.draining {
		f.mu.Unlock()
		return
	}
	f.draining = true
	for len(f.queue) > 0 {
		d := f.queue[0]
		f.queue[0] = delivery[T]{}
		f.queue = f.queue[1:]
		f.mu.Unlock()

		for _, h := range d.targets {
			if h.active.Load() {
				f.invoke(h, d.value)
			}
		}

		f.mu.Lock()
	}
	f.queue = nil
	f.draining = false
	f.mu.Unlock()
}

func (f *fanout[T]) invoke(h *handler[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			err := &domain.HandlerError{Wire: string(f.wire), Panic: r, Err: fmt.Errorf("%v", r)}
			log.Warn().Str("wire", string(f.wire)).Err(err).Msg("listener panicked")
		}
	}()
	h.fn(v)
}

func (f *fanout[T]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fanout[T]) clear() {
	f.mu.Lock()
	handlers := f.handlers
	f.handlers = nil
	f.mu.Unlock()

	for _, h := range handlers {
		h.active.Store(false)
	}
}
