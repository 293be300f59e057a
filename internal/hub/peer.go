package hub

import (
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// ChannelPeer is a peer that queues envelopes on a channel.
type ChannelPeer struct {
	id     string
	send   chan wire.Envelope
	done   chan struct{}
	mu     ksync.Mutex
	closed bool
}

// NewChannelPeer creates a new channel-based peer.
func NewChannelPeer(id string, bufferSize int) *ChannelPeer {
	return &ChannelPeer{
		id:   id,
		send: make(chan wire.Envelope, bufferSize),
		done: make(chan struct{}),
	}
}

// ID returns the peer's unique identifier.
func (p *ChannelPeer) ID() string {
	return p.id
}

// Send queues env. A full channel means the reader is too slow.
func (p *ChannelPeer) Send(env wire.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrPeerClosed
	}

	select {
	case p.send <- env:
		return nil
	default:
		return domain.ErrBufferOverflow
	}
}

// Close closes the peer.
func (p *ChannelPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	close(p.send)
	return nil
}

// Done returns a channel that's closed when the peer is done.
func (p *ChannelPeer) Done() <-chan struct{} {
	return p.done
}

// Envelopes returns the channel to receive envelopes from.
func (p *ChannelPeer) Envelopes() <-chan wire.Envelope {
	return p.send
}

// LogPeer hands every envelope to a function, typically a logger.
type LogPeer struct {
	id     string
	done   chan struct{}
	mu     ksync.Mutex
	closed bool
	logFn  func(env wire.Envelope)
}

// NewLogPeer creates a new log peer.
func NewLogPeer(id string, logFn func(env wire.Envelope)) *LogPeer {
	return &LogPeer{
		id:    id,
		done:  make(chan struct{}),
		logFn: logFn,
	}
}

// ID returns the peer's unique identifier.
func (p *LogPeer) ID() string {
	return p.id
}

// Send logs the envelope.
func (p *LogPeer) Send(env wire.Envelope) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return domain.ErrPeerClosed
	}
	if p.logFn != nil {
		p.logFn(env)
	}
	return nil
}

// Close closes the peer.
func (p *LogPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return nil
}

// Done returns a channel that's closed when the peer is done.
func (p *LogPeer) Done() <-chan struct{} {
	return p.done
}
