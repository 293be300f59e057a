// Package ports defines the contracts between the hub and the participants
// attached to it.
package ports

import (
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Peer is a participant that receives hub traffic it did not originate,
// typically a server session forwarding to a remote client.
type Peer interface {
	// ID returns a unique identifier for this peer.
	ID() string

	// Send delivers an envelope to this peer.
	// Returns error if the peer is closed or cannot keep up.
	Send(env wire.Envelope) error

	// Close closes the peer.
	Close() error

	// Done returns a channel that's closed when the peer is done.
	Done() <-chan struct{}
}

// PeerHub defines the contract for fanning traffic out to peers.
type PeerHub interface {
	// Start begins the hub's fan-out loop.
	Start() error

	// Stop closes every peer and stops the loop.
	Stop() error

	// Publish sends an envelope to every peer except origin.
	Publish(env wire.Envelope, origin string)

	// Subscribe adds a peer.
	Subscribe(p Peer)

	// Unsubscribe removes a peer by ID.
	Unsubscribe(id string)

	// PeerCount returns the number of attached peers.
	PeerCount() int
}
