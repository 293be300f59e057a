// Package ws is the network transport: a WebSocket client that keeps its
// link alive through reconnection and buffers outbound traffic while the
// socket is down.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/backoff"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/buffer"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Name is the registry name of this backend.
const Name = "ws"

const (
	// Default timeouts for WebSocket operations.
	DefaultWriteTimeout     = 15 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	// Default maximum message size (512KB).
	DefaultMaxMessageSize = 512 * 1024

	DefaultBufferSize        = 1000
	DefaultSendQueueSize     = 256
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second

	// closeWait bounds how long Close waits for the pump to drain.
	closeWait = time.Second
)

var errSendQueueFull = errors.New("send queue full")

// Transport implements transport.Transport over a reconnecting WebSocket.
type Transport struct {
	url     string
	codec   codec.Codec
	policy  backoff.Policy
	metrics *metrics.Metrics
	dialer  *websocket.Dialer
	header  http.Header

	heartbeat    time.Duration
	writeTimeout time.Duration
	queueSize    int
	blockOnFull  bool

	pending *buffer.Ring[wire.Envelope]
	state   atomic.Int32

	// writeMu guards link. Holding it across the flush keeps new traffic
	// behind the buffered backlog.
	writeMu ksync.Mutex
	link    *link

	mu        ksync.Mutex
	in        transport.Inbound
	onState   []func(from, to transport.State)
	attempt   int
	started   bool
	closed    bool
	remote    string
	local     string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	interests map[wire.ID]bool
}

// link is one open socket and the write pump that owns its writes.
type link struct {
	conn *websocket.Conn
	out  chan []byte
	stop chan struct{}
	done chan struct{}
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialer replaces the default dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithHeader sets headers sent with every handshake.
func WithHeader(h http.Header) Option {
	return func(t *Transport) { t.header = h }
}

// WithBackoff replaces the reconnection policy derived from the options.
func WithBackoff(p backoff.Policy) Option {
	return func(t *Transport) { t.policy = p }
}

// WithWriteTimeout sets the write deadline for each frame.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) { t.writeTimeout = d }
}

// WithSendQueue sets how many frames may wait for the write pump. A link
// whose queue fills is considered stalled and is dropped.
func WithSendQueue(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// New creates a transport for url. Nothing is dialed until Connect.
func New(url string, c codec.Codec, opts config.Options, m *metrics.Metrics, extra ...Option) *Transport {
	if c == nil {
		c = codec.JSON{}
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	base := config.Enabled(opts.ReconnectDelay)
	if opts.ReconnectDelay == 0 {
		base = DefaultReconnectDelay
	}
	ceiling := config.Enabled(opts.MaxReconnectDelay)
	if opts.MaxReconnectDelay == 0 {
		ceiling = DefaultMaxReconnectDelay
	}

	t := &Transport{
		url:     url,
		codec:   c,
		metrics: m,
		policy: backoff.Policy{
			Base:   base,
			Cap:    ceiling,
			Jitter: config.Enabled(opts.ReconnectJitter),
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		heartbeat:    config.Enabled(opts.Heartbeat),
		writeTimeout: DefaultWriteTimeout,
		queueSize:    DefaultSendQueueSize,
		blockOnFull:  opts.Policy() == buffer.Block,
		done:         make(chan struct{}),
		interests:    make(map[wire.ID]bool),
	}
	t.pending = buffer.New(size,
		buffer.WithPolicy[wire.Envelope](opts.Policy()),
		buffer.WithDropCallback(t.evicted),
	)
	for _, opt := range extra {
		opt(t)
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.state.Store(int32(transport.StateConnecting))
	return t
}

// Factory is the registry factory for this backend.
func Factory(s transport.Settings) (transport.Transport, error) {
	if s.URL == "" {
		return nil, errors.New("ws transport requires a url")
	}
	return New(s.URL, s.Codec, s.Options, s.Metrics), nil
}

func (t *Transport) Info() transport.Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	caps := append([]transport.Capability(nil), transport.BaseCapabilities...)
	return transport.Info{
		Name:         Name,
		Dependencies: []string{"github.com/gorilla/websocket"},
		Capabilities: append(caps, transport.CapReconnect, transport.CapBuffer, transport.CapSequence),
		RemoteAddr:   t.remote,
		LocalAddr:    t.local,
	}
}

// Connect schedules the first dial and returns. Reconnection continues in
// the background until Close. ctx bounds only this call.
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportClosed
	}
	if t.started {
		return nil
	}
	t.started = true
	go t.run()
	return nil
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

// Send writes env when the socket is open and buffers it otherwise.
func (t *Transport) Send(env wire.Envelope) (transport.Delivery, error) {
	if t.isClosed() {
		return transport.DeliveryDropped, domain.ErrTransportClosed
	}

	frame, err := t.encode(env)
	if err != nil {
		log.Warn().Err(err).Str("op", env.Op.String()).Str("wire", string(env.Wire)).Msg("envelope not encodable, dropped")
		t.metrics.OutboundResult(Name, metrics.ResultDropped)
		return transport.DeliveryDropped, err
	}

	t.writeMu.Lock()
	if t.link != nil && t.enqueueLocked(frame) {
		t.writeMu.Unlock()
		t.metrics.OutboundResult(Name, metrics.ResultSent)
		return transport.DeliverySent, nil
	}
	if t.blockOnFull {
		// Waiting for room must not hold up the flush that makes room.
		t.writeMu.Unlock()
		d, err := t.buffer(env)
		if d == transport.DeliveryBuffered {
			// The link may have opened while this sender waited, after its
			// flush had already run.
			t.writeMu.Lock()
			if t.link != nil {
				t.flushPendingLocked()
			}
			t.writeMu.Unlock()
		}
		return d, err
	}
	defer t.writeMu.Unlock()
	return t.buffer(env)
}

func (t *Transport) buffer(env wire.Envelope) (transport.Delivery, error) {
	err := t.pending.WriteWithContext(t.ctx, env)
	t.metrics.BufferSize(Name, t.pending.Len())
	switch {
	case err == nil:
		t.metrics.OutboundResult(Name, metrics.ResultBuffered)
		return transport.DeliveryBuffered, nil
	case errors.Is(err, domain.ErrBufferOverflow):
		t.metrics.OutboundResult(Name, metrics.ResultDropped)
		return transport.DeliveryDropped, nil
	default:
		return transport.DeliveryDropped, err
	}
}

// Request ships a send envelope. A dropped envelope fails the request.
func (t *Transport) Request(env wire.Envelope) error {
	d, err := t.Send(env)
	if err != nil {
		return domain.NewTransportError(Name, "request", err)
	}
	if d == transport.DeliveryDropped {
		return domain.NewTransportError(Name, "request", domain.ErrBufferOverflow)
	}
	return nil
}

// Subscribe records interest in a wire. The server forwards hub traffic for
// every wire unless the endpoint URL selects some with ?wires=.
func (t *Transport) Subscribe(id wire.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interests[id] = true
	return nil
}

func (t *Transport) Unsubscribe(id wire.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.interests, id)
	return nil
}

// Close is terminal: it stops reconnection, closes the socket and discards
// the pending buffer.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.pending.Close()

	t.writeMu.Lock()
	l := t.link
	t.link = nil
	t.writeMu.Unlock()
	if l != nil {
		// Let the pump write what it already accepted, then say goodbye.
		close(l.stop)
		select {
		case <-l.done:
			_ = l.conn.SetWriteDeadline(time.Now().Add(closeWait))
			_ = l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		case <-time.After(closeWait):
		}
		_ = l.conn.Close()
	}

	t.setState(transport.StateClosed)
	close(t.done)
	return nil
}

func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// State returns the current lifecycle state.
func (t *Transport) State() transport.State {
	return transport.State(t.state.Load())
}

func (t *Transport) OnStateChange(fn func(from, to transport.State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = append(t.onState, fn)
}

// Attempt returns the reconnect attempt counter.
func (t *Transport) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// Pending returns the number of buffered envelopes.
func (t *Transport) Pending() int {
	return t.pending.Len()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) setState(to transport.State) {
	var from transport.State
	for {
		cur := t.state.Load()
		if transport.State(cur) == transport.StateClosed || transport.State(cur) == to {
			return
		}
		if t.state.CompareAndSwap(cur, int32(to)) {
			from = transport.State(cur)
			break
		}
	}
	t.metrics.State(Name, int(to))

	t.mu.Lock()
	fns := slices.Clone(t.onState)
	t.mu.Unlock()

	log.Debug().Str("url", t.url).Str("from", from.String()).Str("to", to.String()).Msg("transport state changed")
	for _, fn := range fns {
		fn(from, to)
	}
}

func (t *Transport) encode(env wire.Envelope) ([]byte, error) {
	frame, err := t.codec.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Op, err)
	}
	return frame, nil
}

func (t *Transport) frameType() int {
	if t.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (t *Transport) writeFrame(conn *websocket.Conn, msgType int, frame []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return conn.WriteMessage(msgType, frame)
}

// enqueueLocked hands frame to the write pump, behind anything still in the
// pending buffer. A full queue drops the link and reports false. Called with
// writeMu held and link set.
func (t *Transport) enqueueLocked(frame []byte) bool {
	if t.pending.Len() > 0 && !t.flushPendingLocked() {
		return false
	}
	select {
	case t.link.out <- frame:
		return true
	default:
		t.dropLinkLocked(errSendQueueFull)
		return false
	}
}

// flushPendingLocked moves the pending buffer onto the write pump in FIFO
// order. Called with writeMu held and link set.
func (t *Transport) flushPendingLocked() bool {
	backlog := t.pending.Drain()
	defer func() { t.metrics.BufferSize(Name, t.pending.Len()) }()
	for i, env := range backlog {
		frame, err := t.encode(env)
		if err != nil {
			log.Warn().Err(err).Str("wire", string(env.Wire)).Msg("buffered envelope not encodable, dropped")
			continue
		}
		select {
		case t.link.out <- frame:
		default:
			t.requeue(backlog[i:])
			t.dropLinkLocked(errSendQueueFull)
			return false
		}
	}
	return true
}

// dropLinkLocked stops the pump and closes the socket; the read loop then
// reports the disconnect. Called with writeMu held.
func (t *Transport) dropLinkLocked(err error) {
	l := t.link
	if l == nil {
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("url", t.url).Msg("dropping socket")
	}
	t.link = nil
	close(l.stop)
	_ = l.conn.Close()
}

// evicted runs when the pending buffer discards an envelope. A discarded
// send fails its request instead of leaving it to a timeout that may never
// be set.
func (t *Transport) evicted(env wire.Envelope) {
	log.Warn().
		Str("op", env.Op.String()).
		Str("wire", string(env.Wire)).
		Msg("pending buffer full, envelope dropped")
	if env.Op != wire.OpSend || env.RequestID == "" {
		return
	}
	t.mu.Lock()
	in := t.in
	t.mu.Unlock()
	if in == nil {
		return
	}
	// Senders may hold writeMu here; answer from outside the send path.
	go in.HandleEnvelope(wire.NewErrorEnvelope(env.Wire, env.RequestID, domain.ErrBufferOverflow))
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Stateful  = (*Transport)(nil)
)
