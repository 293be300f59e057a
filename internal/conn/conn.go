// Package conn implements Connection, a participant's handle into a hub
// bound to one transport.
package conn

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain/ports"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/hub"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport/inproc"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

type requestKey struct {
	wire  wire.ID
	reqID string
}

// pruneThreshold is the tracked-request count above which answered entries
// are swept.
const pruneThreshold = 256

// Connection resolves wires through its hub and routes their traffic through
// its transport. A standalone connection owns a private hub; one created
// WithHub shares the caller's hub with every other connection on it.
type Connection struct {
	id      string
	hub     *hub.Hub
	shared  bool
	tr      transport.Transport
	opts    config.Options
	metrics *metrics.Metrics
	peer    ports.Peer
	policy  string
	seq     *wire.Sequencer
	router  *router

	ctx    context.Context
	cancel context.CancelFunc

	mu        ksync.Mutex
	closed    bool
	subs      map[*wire.Subscription]struct{}
	requests  map[requestKey]struct{}
	listening map[wire.ID]bool
}

// Option configures a Connection.
type Option func(*Connection)

// WithHub attaches the connection to a shared hub.
func WithHub(h *hub.Hub) Option {
	return func(c *Connection) {
		if h != nil {
			c.hub = h
			c.shared = true
		}
	}
}

// WithTransport sets the transport. The default is in-process.
func WithTransport(t transport.Transport) Option {
	return func(c *Connection) { c.tr = t }
}

// WithOptions sets the connection level of the option cascade, already
// merged with the global level.
func WithOptions(o config.Options) Option {
	return func(c *Connection) { c.opts = o }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Connection) { c.metrics = m }
}

// WithPeer registers p with the hub while the connection is open. Hub
// traffic from other participants is forwarded to it.
func WithPeer(p ports.Peer) Option {
	return func(c *Connection) { c.peer = p }
}

// WithClosePolicy overrides the shared-hub close policy from the options.
func WithClosePolicy(policy string) Option {
	return func(c *Connection) { c.policy = policy }
}

// WithID sets the connection id. The default is a random UUID.
func WithID(id string) Option {
	return func(c *Connection) { c.id = id }
}

// New creates a connection and installs it as its transport's dispatcher.
func New(opts ...Option) (*Connection, error) {
	c := &Connection{
		id:        transport.GenerateID(),
		seq:       wire.NewSequencer(),
		subs:      make(map[*wire.Subscription]struct{}),
		requests:  make(map[requestKey]struct{}),
		listening: make(map[wire.ID]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hub == nil {
		c.hub = hub.New()
	}
	if c.tr == nil {
		c.tr = inproc.New()
	}
	if c.policy == "" {
		c.policy = c.opts.SharedHubClose
	}
	if c.policy == "" {
		c.policy = config.HubCloseClear
	}
	c.router = &router{c: c}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if err := c.tr.Listen(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Open creates a connection and starts its transport.
func Open(ctx context.Context, opts ...Option) (*Connection, error) {
	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Connect starts the transport and registers the peer, if any.
func (c *Connection) Connect(ctx context.Context) error {
	if c.isClosed() {
		return domain.ErrConnectionClosed
	}
	if err := c.tr.Connect(ctx); err != nil {
		return err
	}
	if c.peer != nil {
		c.hub.Subscribe(c.peer)
	}
	log.Debug().
		Str("conn_id", c.id).
		Str("transport", c.tr.Info().Name).
		Bool("shared_hub", c.shared).
		Msg("connection opened")
	return nil
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Hub returns the hub the connection resolves wires through.
func (c *Connection) Hub() *hub.Hub { return c.hub }

// Transport returns the connection's transport.
func (c *Connection) Transport() transport.Transport { return c.tr }

// Options returns the connection level options.
func (c *Connection) Options() config.Options { return c.opts }

// Shared reports whether the hub was supplied by the caller.
func (c *Connection) Shared() bool { return c.shared }

// GapStats returns the receiver-side sequence counters for a Stream wire.
func (c *Connection) GapStats(id wire.ID) wire.GapStats {
	return c.seq.Stats(id)
}

// Stream returns the Stream wire id, creating it if absent. call overrides
// the connection options for this lookup.
func (c *Connection) Stream(id wire.ID, call ...config.Options) (*wire.Stream, error) {
	if c.isClosed() {
		return nil, domain.ErrConnectionClosed
	}
	o := config.Merge(append([]config.Options{c.opts}, call...)...)
	w, err := getOrCreate(c.hub, id, wire.KindStream, func() *wire.StreamWire {
		return c.newStreamWire(id, o)
	})
	if err != nil {
		return nil, err
	}
	return wire.BindStream(w, c.router).WithMode(o.DeliveryMode()), nil
}

// Discrete returns the Discrete wire id, creating it if absent. The merged
// timeout applies to sends that don't set their own.
func (c *Connection) Discrete(id wire.ID, call ...config.Options) (*wire.Discrete, error) {
	if c.isClosed() {
		return nil, domain.ErrConnectionClosed
	}
	o := config.Merge(append([]config.Options{c.opts}, call...)...)
	w, err := getOrCreate(c.hub, id, wire.KindDiscrete, func() *wire.DiscreteWire {
		return c.newDiscreteWire(id)
	})
	if err != nil {
		return nil, err
	}
	return wire.BindDiscrete(w, c.router, config.Enabled(o.Timeout)).WithMode(o.DeliveryMode()), nil
}

// Signal returns the Signal wire id. initial is its value if this call
// creates it.
func (c *Connection) Signal(id wire.ID, initial any, call ...config.Options) (*wire.Signal, error) {
	if c.isClosed() {
		return nil, domain.ErrConnectionClosed
	}
	o := config.Merge(append([]config.Options{c.opts}, call...)...)
	w, err := getOrCreate(c.hub, id, wire.KindSignal, func() *wire.SignalWire {
		return wire.NewSignalWire(id, initial)
	})
	if err != nil {
		return nil, err
	}
	return wire.BindSignal(w, c.router).WithMode(o.DeliveryMode()), nil
}

func (c *Connection) newStreamWire(id wire.ID, o config.Options) *wire.StreamWire {
	w := wire.NewStreamWire(id)
	w.SetThrottle(config.Enabled(o.Throttle))
	return w
}

func (c *Connection) newDiscreteWire(id wire.ID) *wire.DiscreteWire {
	w := wire.NewDiscreteWire(id)
	m := c.metrics
	w.OnTimeout(func(string) { m.RequestTimeout(string(id)) })
	return w
}

func getOrCreate[W wire.Wire](h *hub.Hub, id wire.ID, kind wire.Kind, ctor func() W) (W, error) {
	var zero W
	w, err := h.GetOrCreate(id, kind, func() wire.Wire { return ctor() })
	if err != nil {
		return zero, err
	}
	typed, ok := w.(W)
	if !ok {
		return zero, domain.NewWireTypeConflictError(string(id), w.Kind().String(), kind.String())
	}
	return typed, nil
}

// Close marks the connection closed and closes its transport.
//
// A standalone connection clears its private hub. On a shared hub the close
// policy decides: "clear" empties the whole hub, "detach" removes only this
// connection's registrations and fails its in-flight requests.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[*wire.Subscription]struct{})
	requests := c.requests
	c.requests = make(map[requestKey]struct{})
	c.mu.Unlock()

	err := c.tr.Close()
	c.cancel()

	if c.peer != nil {
		c.hub.Unsubscribe(c.peer.ID())
	}

	if !c.shared || c.policy == config.HubCloseClear {
		c.hub.Clear()
	} else {
		for sub := range subs {
			sub.Unsubscribe()
		}
		for key := range requests {
			if d, ok := c.lookupDiscrete(key.wire); ok {
				d.Reject(key.reqID, domain.ErrConnectionClosed)
			}
		}
	}

	log.Debug().
		Str("conn_id", c.id).
		Bool("shared_hub", c.shared).
		Str("policy", c.policy).
		Msg("connection closed")
	return err
}

// Done returns a channel that's closed when the transport is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.tr.Done()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) peerID() string {
	if c.peer == nil {
		return ""
	}
	return c.peer.ID()
}

// send hands env to the transport. Backends record their own delivery
// metrics.
func (c *Connection) send(env wire.Envelope) {
	d, err := c.tr.Send(env)
	if err != nil {
		log.Debug().Err(err).Str("op", env.Op.String()).Str("wire", string(env.Wire)).Msg("send failed")
		return
	}
	if d == transport.DeliveryDropped {
		log.Warn().Str("op", env.Op.String()).Str("wire", string(env.Wire)).Msg("envelope dropped")
	}
}

func (c *Connection) lookupDiscrete(id wire.ID) (*wire.DiscreteWire, bool) {
	w, ok := c.hub.Lookup(id)
	if !ok {
		return nil, false
	}
	d, ok := w.(*wire.DiscreteWire)
	return d, ok
}

func (c *Connection) lookupSignal(id wire.ID) (*wire.SignalWire, bool) {
	w, ok := c.hub.Lookup(id)
	if !ok {
		return nil, false
	}
	s, ok := w.(*wire.SignalWire)
	return s, ok
}

// handlerTimeout bounds how long an inbound request's handler context lives
// when no timeout is configured.
const handlerTimeout = time.Minute

func (c *Connection) handlerContext() (context.Context, context.CancelFunc) {
	d := config.Enabled(c.opts.Timeout)
	if d == 0 {
		d = handlerTimeout
	}
	return context.WithTimeout(c.ctx, d)
}
