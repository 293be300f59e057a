package conn

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// HandleEnvelope dispatches one inbound envelope by op. Unknown wires are
// created for ops that carry content; answers and watches for wires this
// side never saw are dropped.
func (c *Connection) HandleEnvelope(env wire.Envelope) {
	if c.isClosed() {
		return
	}
	log.Trace().
		Str("conn_id", c.id).
		Str("op", env.Op.String()).
		Str("wire", string(env.Wire)).
		Msg("inbound envelope")

	switch env.Op {
	case wire.OpEmit:
		c.handleEmit(env)
	case wire.OpSend:
		c.handleSend(env)
	case wire.OpReply:
		if d, ok := c.lookupDiscrete(env.Wire); ok {
			d.Resolve(env.RequestID, env.Data)
		}
	case wire.OpError:
		if d, ok := c.lookupDiscrete(env.Wire); ok {
			d.Reject(env.RequestID, wire.RemoteErr(env.Data))
		}
	case wire.OpSignal:
		s, ok := c.inboundSignal(env)
		if !ok {
			return
		}
		s.Set(env.Data)
		c.hub.Publish(wire.Envelope{Op: wire.OpSignal, Wire: env.Wire, Data: env.Data}, c.peerID())
	case wire.OpValue:
		if s, ok := c.inboundSignal(env); ok {
			s.Set(env.Data)
		}
	case wire.OpWatch:
		if s, ok := c.lookupSignal(env.Wire); ok {
			c.send(wire.Envelope{Op: wire.OpValue, Wire: env.Wire, Data: s.Value()})
		}
	default:
		log.Warn().Str("op", env.Op.String()).Str("wire", string(env.Wire)).Msg("unknown op, envelope dropped")
	}
}

func (c *Connection) handleEmit(env wire.Envelope) {
	w, err := getOrCreate(c.hub, env.Wire, wire.KindStream, func() *wire.StreamWire {
		return c.newStreamWire(env.Wire, c.opts)
	})
	if err != nil {
		c.conflict(env, err)
		return
	}

	// Gaps are only tracked on links with a single sequenced sender.
	if !c.tr.Info().Has(transport.CapSequence) {
		c.relay(w, env)
		return
	}
	if missed := c.seq.Observe(env.Wire, env.Seq); missed > 0 {
		c.metrics.Gap(string(env.Wire), missed)
		log.Debug().
			Str("wire", string(env.Wire)).
			Int64("sequence", env.Seq).
			Int64("missed", missed).
			Msg("stream gap detected")
	}

	c.relay(w, env)
}

// relay delivers a remote emission to local listeners and forwards it to the
// other hub peers under the hub's own numbering.
func (c *Connection) relay(w *wire.StreamWire, env wire.Envelope) {
	seq := w.Inject(env.Seq, env.Data)
	c.hub.Publish(wire.Envelope{Op: wire.OpEmit, Wire: env.Wire, Data: env.Data, Seq: seq}, c.peerID())
}

func (c *Connection) handleSend(env wire.Envelope) {
	w, err := getOrCreate(c.hub, env.Wire, wire.KindDiscrete, func() *wire.DiscreteWire {
		return c.newDiscreteWire(env.Wire)
	})
	if err != nil {
		c.conflict(env, err)
		c.send(wire.NewErrorEnvelope(env.Wire, env.RequestID, err))
		return
	}

	ctx, cancel := c.handlerContext()
	defer cancel()
	result, err := w.Handle(ctx, wire.Request{ID: env.RequestID, Data: env.Data})
	if err != nil {
		if errors.Is(err, domain.ErrNoHandler) && c.tr.Info().Has(transport.CapBroadcast) {
			return
		}
		if !errors.Is(err, domain.ErrNoHandler) {
			log.Warn().Err(err).Str("wire", string(env.Wire)).Str("request_id", env.RequestID).Msg("reply handler failed")
		}
		c.send(wire.NewErrorEnvelope(env.Wire, env.RequestID, err))
		return
	}
	c.send(wire.Envelope{Op: wire.OpReply, Wire: env.Wire, Data: result, RequestID: env.RequestID})
}

func (c *Connection) inboundSignal(env wire.Envelope) (*wire.SignalWire, bool) {
	s, err := getOrCreate(c.hub, env.Wire, wire.KindSignal, func() *wire.SignalWire {
		return wire.NewSignalWire(env.Wire, nil)
	})
	if err != nil {
		c.conflict(env, err)
		return nil, false
	}
	return s, true
}

func (c *Connection) conflict(env wire.Envelope, err error) {
	log.Warn().
		Err(err).
		Str("op", env.Op.String()).
		Str("wire", string(env.Wire)).
		Msg("wire kind conflict, envelope dropped")
}

var _ transport.Inbound = (*Connection)(nil)
