package wire

import (
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
)

// Subscription is the handle returned by Listen, Reply, Watch and the
// observer registrations. Unsubscribe is idempotent.
type Subscription struct {
	wire ID
	kind Kind
	once ksync.Once
	done chan struct{}

	mu      ksync.Mutex
	cancels []func()
	removed bool
}

func newSubscription(id ID, kind Kind, cancel func()) *Subscription {
	return &Subscription{
		wire:    id,
		kind:    kind,
		cancels: []func(){cancel},
		done:    make(chan struct{}),
	}
}

// Wire returns the id of the wire the subscription belongs to.
func (s *Subscription) Wire() ID {
	return s.wire
}

// Kind returns the kind of the wire the subscription belongs to.
func (s *Subscription) Kind() Kind {
	return s.kind
}

// Unsubscribe removes the handler. No delivery starts after it returns.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		cancels := s.cancels
		s.cancels = nil
		s.removed = true
		s.mu.Unlock()

		for _, fn := range cancels {
			if fn != nil {
				fn()
			}
		}
		close(s.done)
	})
}

// OnUnsubscribe registers fn to run when the subscription is removed. If it
// already was, fn runs immediately.
func (s *Subscription) OnUnsubscribe(fn func()) {
	s.mu.Lock()
	if !s.removed {
		s.cancels = append(s.cancels, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Done returns a channel that's closed when the subscription is removed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
