// Package server accepts WebSocket clients onto a shared hub.
//
// Every accepted socket becomes a Session, and the server attaches a
// connection for it to the shared hub. The connection dispatches the
// client's traffic against the shared wires; the session's peer receives
// what everyone else publishes. Closing one session detaches only its own
// registrations.
//
// Routes:
//
//	/ws        WebSocket endpoint (path configurable); ?wires=a,b filters fan-out
//	/healthz   JSON status
//	/metrics   Prometheus exposition, when enabled
//	/pairing   PNG QR code of the endpoint, when a generator is set
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/conn"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/hub"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/pairing"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Server is the WebSocket server.
type Server struct {
	cfg      config.ServerConfig
	opts     config.Options
	codec    codec.Codec
	hub      *hub.Hub
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	pairing  *pairing.QRGenerator
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	ownsHub    bool

	mu        ksync.RWMutex
	sessions  map[string]*conn.Connection
	startTime time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records session metrics on m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithPairing serves the generator's QR code on /pairing.
func WithPairing(g *pairing.QRGenerator) Option {
	return func(s *Server) { s.pairing = g }
}

// New creates a server whose sessions share h. opts is the connection
// level of the option cascade for every session.
func New(cfg config.ServerConfig, opts config.Options, h *hub.Hub, options ...Option) (*Server, error) {
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = hub.New()
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}

	origins := newOriginPolicy(cfg.AllowedOrigins, cfg.Host)
	s := &Server{
		cfg:   cfg,
		opts:  opts,
		codec: c,
		hub:   h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		sessions:  make(map[string]*conn.Connection),
		startTime: time.Now(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Hub returns the shared hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc(s.cfg.Path, s.handleWebSocket)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Metrics && s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if s.pairing != nil {
		router.HandleFunc("/pairing", s.handlePairing).Methods(http.MethodGet)
	}
	return router
}

// Start binds the listen address, starts the hub and serves in the
// background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if !s.hub.IsRunning() {
		if err := s.hub.Start(); err != nil {
			_ = ln.Close()
			return err
		}
		s.ownsHub = true
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler: s.Handler(),
		// No ReadTimeout/WriteTimeout: they would cut long-lived sockets.
		// Sessions manage their own deadlines.
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", ln.Addr().String()).Str("path", s.cfg.Path).Msg("server starting")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until ctx ends, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// Stop closes every session and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("server stopping")

	s.mu.RLock()
	sessions := make([]*conn.Connection, 0, len(s.sessions))
	for _, c := range s.sessions {
		sessions = append(sessions, c)
	}
	s.mu.RUnlock()

	for _, c := range sessions {
		s.detach(c)
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.ownsHub {
		_ = s.hub.Stop()
	}
	return err
}

// SessionCount returns the number of attached sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// handleWebSocket upgrades the request and attaches a connection for it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("failed to upgrade connection")
		return
	}

	session := newSession(wsConn, s.codec, config.Enabled(s.opts.Heartbeat), s.metrics)
	peer := hub.NewFilteredPeer(session.Peer(), parseWires(r.URL.Query().Get("wires"))...)

	c, err := conn.New(
		conn.WithID(session.ID()),
		conn.WithHub(s.hub),
		conn.WithTransport(session),
		conn.WithPeer(peer),
		conn.WithOptions(s.opts),
		conn.WithMetrics(s.metrics),
		conn.WithClosePolicy(config.HubCloseDetach),
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to attach session")
		_ = wsConn.Close()
		return
	}
	session.onClose = func(*Session) { s.detach(c) }

	s.mu.Lock()
	s.sessions[c.ID()] = c
	s.mu.Unlock()
	s.metrics.SessionOpened()

	if err := c.Connect(context.Background()); err != nil {
		log.Error().Err(err).Msg("failed to start session")
		s.detach(c)
		return
	}

	log.Info().
		Str("session_id", c.ID()).
		Str("remote_addr", wsConn.RemoteAddr().String()).
		Int("wire_filter", len(peer.Selected())).
		Msg("client connected")
}

// detach closes c and forgets it. Only the first call for a session counts.
func (s *Server) detach(c *conn.Connection) {
	s.mu.Lock()
	_, ok := s.sessions[c.ID()]
	delete(s.sessions, c.ID())
	s.mu.Unlock()

	_ = c.Close()
	if ok {
		s.metrics.SessionClosed()
		log.Info().Str("session_id", c.ID()).Msg("client disconnected")
	}
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	Wires         int    `json:"wires"`
	Peers         int    `json:"peers"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Time          string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Sessions:      s.SessionCount(),
		Wires:         s.hub.WireCount(),
		Peers:         s.hub.PeerCount(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Time:          time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	size := 256
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 64 || n > 1024 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size must be between 64 and 1024"})
			return
		}
		size = n
	}

	png, err := s.pairing.GeneratePNG(size)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

// parseWires splits a comma-separated wire list, skipping blanks.
func parseWires(raw string) []wire.ID {
	var ids []wire.ID
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, wire.ID(part))
		}
	}
	return ids
}
