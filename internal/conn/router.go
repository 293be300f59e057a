package conn

import (
	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// router carries handle traffic from a connection's wires to hub peers and
// the transport.
type router struct {
	c *Connection
}

func (r *router) Publish(env wire.Envelope) {
	c := r.c
	if c.isClosed() {
		return
	}
	c.hub.Publish(env, c.peerID())
	c.send(env)
}

func (r *router) Request(env wire.Envelope) error {
	c := r.c
	if c.isClosed() {
		return domain.ErrConnectionClosed
	}
	c.trackRequest(env.Wire, env.RequestID)
	return c.tr.Request(env)
}

func (r *router) Listen(id wire.ID) {
	r.c.subscribeRemote(id)
}

func (r *router) Watch(id wire.ID) {
	c := r.c
	if c.isClosed() {
		return
	}
	c.subscribeRemote(id)
	c.send(wire.Envelope{Op: wire.OpWatch, Wire: id})
}

func (r *router) Track(sub *wire.Subscription) {
	c := r.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	sub.OnUnsubscribe(func() {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
	})
}

// subscribeRemote declares interest in id on the transport once per
// connection.
func (c *Connection) subscribeRemote(id wire.ID) {
	c.mu.Lock()
	if c.closed || c.listening[id] {
		c.mu.Unlock()
		return
	}
	c.listening[id] = true
	c.mu.Unlock()

	if err := c.tr.Subscribe(id); err != nil {
		log.Debug().Err(err).Str("wire", string(id)).Msg("transport subscribe failed")
	}
}

// trackRequest remembers an in-flight request so a detaching close can fail
// it. Answered entries are swept once the set grows.
func (c *Connection) trackRequest(id wire.ID, reqID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) >= pruneThreshold {
		for key := range c.requests {
			if d, ok := c.lookupDiscrete(key.wire); !ok || !d.IsPending(key.reqID) {
				delete(c.requests, key)
			}
		}
	}
	c.requests[requestKey{wire: id, reqID: reqID}] = struct{}{}
}

var _ wire.Router = (*router)(nil)
