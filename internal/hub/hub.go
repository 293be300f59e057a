// Package hub implements the shared wire table and the peer fan-out that
// lets several connections share wire state.
package hub

import (
	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain/ports"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

type outbound struct {
	env    wire.Envelope
	origin string
}

// Hub owns a wire table and a set of peers.
//
// Wires are created lazily by GetOrCreate and live until Clear. Peers receive
// every envelope published by a participant other than themselves.
type Hub struct {
	// wmu protects wires
	wmu   ksync.Mutex
	wires map[wire.ID]wire.Wire

	// peers holds all attached peers
	peers map[string]ports.Peer

	// broadcast channel receives envelopes to be fanned out
	broadcast chan outbound

	// register channel receives new peers
	register chan ports.Peer

	// unregister channel receives peer IDs to remove
	unregister chan string

	// mu protects peers and running
	mu ksync.RWMutex

	// done signals when the fan-out loop should stop
	done chan struct{}

	running bool

	metrics *metrics.Metrics
}

// MetricsName labels the hub's outbound counters.
const MetricsName = "hub"

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics records envelopes the fan-out loop could not accept.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New creates a new Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		wires:      make(map[wire.ID]wire.Wire),
		peers:      make(map[string]ports.Peer),
		broadcast:  make(chan outbound, 256),
		register:   make(chan ports.Peer),
		unregister: make(chan string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetOrCreate returns the wire bound to id, creating it with ctor if absent.
// An existing wire of a different kind yields a *domain.WireTypeConflictError.
func (h *Hub) GetOrCreate(id wire.ID, kind wire.Kind, ctor func() wire.Wire) (wire.Wire, error) {
	h.wmu.Lock()
	defer h.wmu.Unlock()

	if w, ok := h.wires[id]; ok {
		if w.Kind() != kind {
			return nil, domain.NewWireTypeConflictError(string(id), w.Kind().String(), kind.String())
		}
		return w, nil
	}

	w := ctor()
	h.wires[id] = w
	log.Debug().Str("wire", string(id)).Str("kind", kind.String()).Msg("wire created")
	return w, nil
}

// Lookup returns the wire bound to id, if any.
func (h *Hub) Lookup(id wire.ID) (wire.Wire, bool) {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	w, ok := h.wires[id]
	return w, ok
}

// Wires returns a snapshot of the wire table.
func (h *Hub) Wires() []wire.Wire {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	out := make([]wire.Wire, 0, len(h.wires))
	for _, w := range h.wires {
		out = append(out, w)
	}
	return out
}

// WireCount returns the number of wires in the table.
func (h *Hub) WireCount() int {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	return len(h.wires)
}

// Clear empties the wire table. Every registration on the removed wires is
// dropped and their in-flight requests fail.
func (h *Hub) Clear() {
	h.wmu.Lock()
	wires := h.wires
	h.wires = make(map[wire.ID]wire.Wire)
	h.wmu.Unlock()

	for _, w := range wires {
		wire.Close(w)
	}
	if len(wires) > 0 {
		log.Debug().Int("wires", len(wires)).Msg("wire table cleared")
	}
}

// Start begins the peer fan-out loop. Until then Publish delivers inline.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	log.Debug().Msg("hub started")

	go h.run()
	return nil
}

// Stop gracefully stops the hub and closes every peer.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.mu.Unlock()

	close(h.done)

	h.mu.Lock()
	for _, p := range h.peers {
		_ = p.Close()
	}
	h.peers = make(map[string]ports.Peer)
	h.mu.Unlock()

	log.Debug().Msg("hub stopped")
	return nil
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return

		case p := <-h.register:
			h.addPeer(p)

		case id := <-h.unregister:
			h.removePeer(id)

		case out := <-h.broadcast:
			h.fanOut(out)
		}
	}
}

func (h *Hub) addPeer(p ports.Peer) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	h.mu.Unlock()
	log.Debug().Str("peer_id", p.ID()).Msg("peer registered")
}

func (h *Hub) removePeer(id string) {
	h.mu.Lock()
	p, ok := h.peers[id]
	if ok {
		delete(h.peers, id)
	}
	h.mu.Unlock()
	if ok {
		_ = p.Close()
		log.Debug().Str("peer_id", id).Msg("peer unregistered")
	}
}

func (h *Hub) fanOut(out outbound) {
	var failed []string

	h.mu.RLock()
	for id, p := range h.peers {
		if id == out.origin {
			continue
		}
		if err := p.Send(out.env); err != nil {
			log.Warn().
				Str("peer_id", id).
				Str("wire", string(out.env.Wire)).
				Err(err).
				Msg("failed to send envelope to peer")
			failed = append(failed, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range failed {
		h.removePeer(id)
	}
}

// Publish sends env to every peer except origin.
func (h *Hub) Publish(env wire.Envelope, origin string) {
	out := outbound{env: env, origin: origin}

	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		h.fanOut(out)
		return
	}

	select {
	case h.broadcast <- out:
		log.Trace().
			Str("op", env.Op.String()).
			Str("wire", string(env.Wire)).
			Msg("envelope published")
	default:
		h.metrics.OutboundResult(MetricsName, metrics.ResultDropped)
		log.Warn().
			Str("op", env.Op.String()).
			Str("wire", string(env.Wire)).
			Msg("envelope dropped: broadcast channel full")
	}
}

// Subscribe adds a peer.
func (h *Hub) Subscribe(p ports.Peer) {
	if !h.IsRunning() {
		h.addPeer(p)
		return
	}
	select {
	case h.register <- p:
	case <-h.done:
	}
}

// Unsubscribe removes a peer by ID and closes it.
func (h *Hub) Unsubscribe(id string) {
	if !h.IsRunning() {
		h.removePeer(id)
		return
	}
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// PeerCount returns the number of attached peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// IsRunning returns true if the fan-out loop is running.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

var _ ports.PeerHub = (*Hub)(nil)
