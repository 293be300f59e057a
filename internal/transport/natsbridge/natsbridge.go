// Package natsbridge carries wire traffic over NATS subjects, one subject per
// wire under a common prefix. Every participant sees every envelope, so the
// medium is broadcast: only the participant holding a reply handler answers
// a send.
package natsbridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Name is the registry name of this backend.
const Name = "nats"

// OriginHeader carries the publishing transport's id so it can skip its own
// messages.
const OriginHeader = "Kyano-Origin"

// DefaultPrefix is the subject prefix when none is configured.
const DefaultPrefix = "kyano"

// Transport implements transport.Transport on a NATS connection.
type Transport struct {
	id      string
	url     string
	prefix  string
	codec   codec.Codec
	opts    config.Options
	metrics *metrics.Metrics
	state   atomic.Int32

	mu      ksync.Mutex
	nc      *nats.Conn
	sub     *nats.Subscription
	in      transport.Inbound
	onState []func(from, to transport.State)
	closed  bool
	done    chan struct{}
}

// New creates a bridge for the broker at cfg.URL. Nothing is dialed until
// Connect.
func New(cfg config.NATSConfig, c codec.Codec, opts config.Options, m *metrics.Metrics) *Transport {
	if c == nil {
		c = codec.JSON{}
	}
	prefix := strings.Trim(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	t := &Transport{
		id:      transport.GenerateID(),
		url:     url,
		prefix:  prefix,
		codec:   c,
		opts:    opts,
		metrics: m,
		done:    make(chan struct{}),
	}
	t.state.Store(int32(transport.StateConnecting))
	return t
}

// Factory is the registry factory for this backend.
func Factory(s transport.Settings) (transport.Transport, error) {
	return New(s.NATS, s.Codec, s.Options, s.Metrics), nil
}

// ID returns the origin id stamped on every published message.
func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() transport.Info {
	caps := append([]transport.Capability(nil), transport.BaseCapabilities...)
	info := transport.Info{
		Name:         Name,
		Dependencies: []string{"github.com/nats-io/nats.go"},
		Capabilities: append(caps, transport.CapReconnect, transport.CapBuffer, transport.CapBroadcast),
	}
	t.mu.Lock()
	if t.nc != nil {
		info.RemoteAddr = t.nc.ConnectedUrlRedacted()
	}
	t.mu.Unlock()
	return info
}

// Subject returns the subject that carries wire id.
func (t *Transport) Subject(id wire.ID) string {
	return t.prefix + "." + subjectToken(id)
}

// subjectToken maps a wire id onto a single subject token.
func subjectToken(id wire.ID) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, string(id))
}

// Connect dials the broker. A broker that is not reachable yet is retried
// in the background; traffic meanwhile sits in the client's reconnect
// buffer.
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ErrTransportClosed
	}
	if t.nc != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	nc, err := nats.Connect(t.url, t.connectionOptions()...)
	if err != nil {
		return domain.NewTransportError(Name, "connect", err)
	}
	sub, err := nc.Subscribe(t.prefix+".>", t.handleMsg)
	if err != nil {
		nc.Close()
		return domain.NewTransportError(Name, "subscribe", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		nc.Close()
		return domain.ErrTransportClosed
	}
	t.nc = nc
	t.sub = sub
	t.mu.Unlock()

	if nc.IsConnected() {
		t.setState(transport.StateOpen)
	}
	log.Debug().Str("url", t.url).Str("prefix", t.prefix).Msg("nats bridge started")
	return nil
}

func (t *Transport) connectionOptions() []nats.Option {
	wait := config.Enabled(t.opts.ReconnectDelay)
	if t.opts.ReconnectDelay == 0 {
		wait = nats.DefaultReconnectWait
	}
	jitter := config.Enabled(t.opts.ReconnectJitter)

	opts := []nats.Option{
		nats.Name("kyano-" + t.id),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.ReconnectJitter(jitter, jitter),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(t.handleConnect),
		nats.DisconnectErrHandler(t.handleDisconnect),
		nats.ReconnectHandler(t.handleReconnect),
		nats.ClosedHandler(t.handleClosed),
		nats.ErrorHandler(t.handleError),
	}
	if hb := config.Enabled(t.opts.Heartbeat); hb > 0 {
		opts = append(opts, nats.PingInterval(hb))
	}
	return opts
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

// Send publishes env on its wire's subject.
func (t *Transport) Send(env wire.Envelope) (transport.Delivery, error) {
	t.mu.Lock()
	nc, closed := t.nc, t.closed
	t.mu.Unlock()
	if closed {
		return transport.DeliveryDropped, domain.ErrTransportClosed
	}
	if nc == nil {
		t.metrics.OutboundResult(Name, metrics.ResultDropped)
		return transport.DeliveryDropped, domain.NewTransportError(Name, "publish", errors.New("not connected"))
	}

	frame, err := t.codec.Encode(env)
	if err != nil {
		return transport.DeliveryDropped, fmt.Errorf("encode %s envelope: %w", env.Op, err)
	}
	msg := nats.NewMsg(t.Subject(env.Wire))
	msg.Data = frame
	msg.Header.Set(OriginHeader, t.id)

	connected := nc.IsConnected()
	if err := nc.PublishMsg(msg); err != nil {
		t.metrics.OutboundResult(Name, metrics.ResultDropped)
		if errors.Is(err, nats.ErrReconnectBufExceeded) {
			return transport.DeliveryDropped, nil
		}
		return transport.DeliveryDropped, domain.NewTransportError(Name, "publish", err)
	}
	if !connected {
		t.metrics.OutboundResult(Name, metrics.ResultBuffered)
		return transport.DeliveryBuffered, nil
	}
	t.metrics.OutboundResult(Name, metrics.ResultSent)
	return transport.DeliverySent, nil
}

func (t *Transport) Request(env wire.Envelope) error {
	d, err := t.Send(env)
	if err != nil {
		return err
	}
	if d == transport.DeliveryDropped {
		return domain.NewTransportError(Name, "request", domain.ErrBufferOverflow)
	}
	return nil
}

// Subscribe is satisfied by the prefix-wide subscription made on Connect.
func (t *Transport) Subscribe(wire.ID) error   { return nil }
func (t *Transport) Unsubscribe(wire.ID) error { return nil }

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	nc, sub := t.nc, t.sub
	t.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if nc != nil {
		nc.Close()
	}
	t.setState(transport.StateClosed)
	close(t.done)
	return nil
}

func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) State() transport.State {
	return transport.State(t.state.Load())
}

func (t *Transport) OnStateChange(fn func(from, to transport.State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = append(t.onState, fn)
}

func (t *Transport) handleMsg(msg *nats.Msg) {
	if msg.Header.Get(OriginHeader) == t.id {
		return
	}
	env, err := t.codec.Decode(msg.Data)
	if err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed frame dropped")
		t.metrics.DecodeError(Name)
		return
	}

	t.mu.Lock()
	in := t.in
	t.mu.Unlock()
	if in == nil {
		return
	}
	if env.Op == wire.OpSend {
		go in.HandleEnvelope(env)
		return
	}
	in.HandleEnvelope(env)
}

func (t *Transport) handleConnect(*nats.Conn) {
	t.setState(transport.StateOpen)
}

func (t *Transport) handleDisconnect(_ *nats.Conn, err error) {
	if err != nil {
		log.Debug().Err(err).Str("url", t.url).Msg("nats disconnected")
	}
	t.setState(transport.StateDisconnected)
	t.setState(transport.StateReconnecting)
	t.metrics.Reconnect(Name)
}

func (t *Transport) handleReconnect(*nats.Conn) {
	t.setState(transport.StateOpen)
}

func (t *Transport) handleClosed(*nats.Conn) {
	t.setState(transport.StateClosed)
}

func (t *Transport) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	ev := log.Warn().Err(err)
	if sub != nil {
		ev = ev.Str("subject", sub.Subject)
	}
	ev.Msg("nats error")
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
	for _, fn := range fns {
		fn(from, to)
	}
}

// drainTimeout bounds Flush in tests and tools that need publishes on the
// wire before exiting.
const drainTimeout = 2 * time.Second

// Flush waits until the broker has acknowledged every published message.
func (t *Transport) Flush() error {
	t.mu.Lock()
	nc := t.nc
	t.mu.Unlock()
	if nc == nil {
		return domain.NewTransportError(Name, "flush", errors.New("not connected"))
	}
	return nc.FlushTimeout(drainTimeout)
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Stateful  = (*Transport)(nil)
)
