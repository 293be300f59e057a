package hub

import (
	"sort"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain/ports"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// FilteredPeer wraps a peer and forwards only envelopes for selected wires.
// With no wires selected every envelope is forwarded.
type FilteredPeer struct {
	inner ports.Peer
	wires map[wire.ID]bool
	mu    ksync.RWMutex
}

// NewFilteredPeer creates a new filtered peer wrapping inner.
func NewFilteredPeer(inner ports.Peer, wires ...wire.ID) *FilteredPeer {
	f := &FilteredPeer{
		inner: inner,
		wires: make(map[wire.ID]bool),
	}
	for _, id := range wires {
		f.wires[id] = true
	}
	return f
}

// ID returns the peer's unique identifier.
func (f *FilteredPeer) ID() string {
	return f.inner.ID()
}

// Send forwards env if it passes the filter.
func (f *FilteredPeer) Send(env wire.Envelope) error {
	if !f.shouldForward(env) {
		return nil
	}
	return f.inner.Send(env)
}

// Close closes the peer.
func (f *FilteredPeer) Close() error {
	return f.inner.Close()
}

// Done returns a channel that's closed when the peer is done.
func (f *FilteredPeer) Done() <-chan struct{} {
	return f.inner.Done()
}

// Select adds a wire to the filter.
func (f *FilteredPeer) Select(id wire.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wires[id] = true
}

// Deselect removes a wire from the filter.
func (f *FilteredPeer) Deselect(id wire.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.wires, id)
}

// SelectAll clears the filter, forwarding every envelope.
func (f *FilteredPeer) SelectAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wires = make(map[wire.ID]bool)
}

// Selected returns the selected wire ids in sorted order.
func (f *FilteredPeer) Selected() []wire.ID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]wire.ID, 0, len(f.wires))
	for id := range f.wires {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// IsFiltering returns true if any wire is selected.
func (f *FilteredPeer) IsFiltering() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.wires) > 0
}

func (f *FilteredPeer) shouldForward(env wire.Envelope) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.wires) == 0 {
		return true
	}
	return f.wires[env.Wire]
}

var _ ports.Peer = (*FilteredPeer)(nil)
