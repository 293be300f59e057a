// Package buffer provides the bounded FIFO used to hold outbound envelopes
// while a transport is disconnected.
package buffer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
)

// OverflowPolicy defines what happens to a write when the buffer is full.
type OverflowPolicy int

const (
	// DropNewest rejects the incoming item.
	DropNewest OverflowPolicy = iota

	// DropOldest evicts the oldest item to make room.
	DropOldest

	// Block makes the writer wait until space is available.
	Block
)

// String returns the config name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropNewest:
		return "newest"
	case DropOldest:
		return "oldest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy parses oldest, newest or block.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "newest", "drop-newest":
		return DropNewest, nil
	case "oldest", "drop-oldest":
		return DropOldest, nil
	case "block":
		return Block, nil
	}
	return 0, fmt.Errorf("unknown drop policy %q", s)
}

// DropCallback is called with every item discarded by the overflow policy.
type DropCallback[T any] func(item T)

// Stats is a snapshot of the buffer counters.
type Stats struct {
	Writes    int64
	Reads     int64
	Drops     int64
	Overflows int64
	Size      int
	MaxSize   int
}

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// WithPolicy sets the overflow policy. The default is DropNewest.
func WithPolicy[T any](p OverflowPolicy) Option[T] {
	return func(r *Ring[T]) { r.policy = p }
}

// WithDropCallback sets the function called for dropped items.
func WithDropCallback[T any](fn DropCallback[T]) Option[T] {
	return func(r *Ring[T]) { r.onDrop = fn }
}

// Ring is a thread-safe circular FIFO that never holds more than its capacity.
type Ring[T any] struct {
	mu       ksync.Mutex
	notFull  *sync.Cond
	items    []T
	head     int // next write position
	tail     int // next read position
	size     int
	capacity int
	policy   OverflowPolicy
	onDrop   DropCallback[T]
	closed   bool
	stats    Stats
}

// New creates a ring with the given capacity. Capacity below 1 is raised to 1.
func New[T any](capacity int, opts ...Option[T]) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Write adds item according to the overflow policy. It returns
// domain.ErrBufferOverflow when the item itself was rejected.
func (r *Ring[T]) Write(item T) error {
	return r.WriteWithContext(context.Background(), item)
}

// WriteWithContext is Write with a bound on how long the Block policy waits.
func (r *Ring[T]) WriteWithContext(ctx context.Context, item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return domain.ErrTransportClosed
	}

	if r.size == r.capacity {
		r.stats.Overflows++
		switch r.policy {
		case DropOldest:
			dropped := r.items[r.tail]
			var zero T
			r.items[r.tail] = zero
			r.tail = (r.tail + 1) % r.capacity
			r.size--
			r.stats.Drops++
			r.push(item)
			r.mu.Unlock()
			r.dropped(dropped)
			return nil

		case Block:
			if err := r.waitForSpace(ctx); err != nil {
				r.mu.Unlock()
				return err
			}

		default:
			r.stats.Drops++
			r.mu.Unlock()
			r.dropped(item)
			return domain.ErrBufferOverflow
		}
	}

	r.push(item)
	r.mu.Unlock()
	return nil
}

// waitForSpace blocks on notFull until there is room, the ring closes or ctx
// ends. Called with mu held.
func (r *Ring[T]) waitForSpace(ctx context.Context) error {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			r.mu.Lock()
			r.notFull.Broadcast()
			r.mu.Unlock()
		})
		defer stop()
	}

	for r.size == r.capacity && !r.closed {
		if err := ctx.Err(); err != nil {
			r.stats.Drops++
			return fmt.Errorf("%w: %w", domain.ErrBufferOverflow, err)
		}
		r.notFull.Wait()
	}
	if r.closed {
		return domain.ErrTransportClosed
	}
	return nil
}

func (r *Ring[T]) push(item T) {
	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Writes++
	if r.size > r.stats.MaxSize {
		r.stats.MaxSize = r.size
	}
}

func (r *Ring[T]) dropped(item T) {
	if r.onDrop != nil {
		r.onDrop(item)
	}
}

// Read removes and returns the oldest item.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Reads++
	r.notFull.Signal()
	return item, true
}

// Drain removes and returns every item, oldest first.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}
	out := make([]T, 0, r.size)
	var zero T
	for r.size > 0 {
		out = append(out, r.items[r.tail])
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
	}
	r.head, r.tail = 0, 0
	r.stats.Reads += int64(len(out))
	r.notFull.Broadcast()
	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Policy returns the overflow policy.
func (r *Ring[T]) Policy() OverflowPolicy {
	return r.policy
}

// Stats returns a snapshot of the counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Size = r.size
	return s
}

// Close wakes blocked writers and rejects later writes. Buffered items stay
// readable.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.notFull.Broadcast()
	}
	return nil
}
