// Package inproc is the same-process transport: no encoding and no network.
//
// Wire state already lives in the hub, so emits and signal updates reach
// every listener without the transport. What remains is the request path:
// sends are handed to the connection's dispatcher and the answers it
// produces are looped back the same way.
package inproc

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Name is the registry name of this backend.
const Name = "inproc"

// Transport implements transport.Transport by direct calls.
type Transport struct {
	mu     ksync.RWMutex
	in     transport.Inbound
	closed bool
	done   chan struct{}
}

// New creates an in-process transport.
func New() *Transport {
	return &Transport{done: make(chan struct{})}
}

// Factory is the registry factory for this backend.
func Factory(transport.Settings) (transport.Transport, error) {
	return New(), nil
}

func (t *Transport) Info() transport.Info {
	return transport.Info{
		Name:         Name,
		Capabilities: transport.BaseCapabilities,
	}
}

// Connect is a no-op; the transport is usable as soon as Listen was called.
func (t *Transport) Connect(ctx context.Context) error {
	return ctx.Err()
}

func (t *Transport) Listen(in transport.Inbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportClosed
	}
	t.in = in
	return nil
}

// Send loops request traffic back into the dispatcher. Everything else is
// already visible through the hub.
func (t *Transport) Send(env wire.Envelope) (transport.Delivery, error) {
	in, err := t.inbound()
	if err != nil {
		return transport.DeliveryDropped, err
	}

	switch env.Op {
	case wire.OpSend, wire.OpReply, wire.OpError:
		if in == nil {
			log.Warn().Str("op", env.Op.String()).Str("wire", string(env.Wire)).Msg("inproc: no dispatcher, envelope dropped")
			return transport.DeliveryDropped, nil
		}
		in.HandleEnvelope(env)
	case wire.OpEmit, wire.OpSignal, wire.OpValue, wire.OpWatch:
	}
	return transport.DeliveryLocal, nil
}

// Request dispatches a send synchronously; the answer has been delivered by
// the time it returns.
func (t *Transport) Request(env wire.Envelope) error {
	d, err := t.Send(env)
	if err != nil {
		return err
	}
	if d == transport.DeliveryDropped {
		return domain.NewTransportError(Name, "request", domain.ErrNoHandler)
	}
	return nil
}

func (t *Transport) Subscribe(wire.ID) error   { return nil }
func (t *Transport) Unsubscribe(wire.ID) error { return nil }

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.in = nil
	close(t.done)
	return nil
}

func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) inbound() (transport.Inbound, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, domain.ErrTransportClosed
	}
	return t.in, nil
}

var _ transport.Transport = (*Transport)(nil)
