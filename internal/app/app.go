// Package app orchestrates all components of kyano: configuration, metrics,
// the transport registry, the shared hub and the server.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/conn"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/hub"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/pairing"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/server"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport/inproc"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport/natsbridge"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport/stdio"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport/ws"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// DefaultTickInterval is the period of the demo tick stream.
const DefaultTickInterval = time.Second

// ServeOptions tunes Start.
type ServeOptions struct {
	// TickInterval is the demo tick period; zero means DefaultTickInterval.
	TickInterval time.Duration

	// LogTraffic attaches a hub peer that logs every published envelope.
	LogTraffic bool

	// ShowQR prints the pairing QR code with the connection banner.
	ShowQR bool
}

// App is the main application struct that orchestrates all components.
type App struct {
	cfg     *config.Config
	version string
	global  config.Options
	out     io.Writer

	// Core components
	registry    *transport.Registry
	promReg     *prometheus.Registry
	metrics     *metrics.Metrics
	hub         *hub.Hub
	qrGenerator *pairing.QRGenerator

	// Server instance info
	serverID  string
	startTime time.Time

	// Lifecycle
	mu      ksync.RWMutex
	running bool
	server  *server.Server
}

// NewRegistry returns a registry with every built-in backend.
func NewRegistry() *transport.Registry {
	r := transport.NewRegistry()
	_ = r.Register(inproc.Name, inproc.Factory)
	_ = r.Register(ws.Name, ws.Factory)
	_ = r.Register(stdio.Name, stdio.Factory)
	_ = r.Register(natsbridge.Name, natsbridge.Factory)
	return r
}

// New creates a new App instance.
func New(cfg *config.Config, version string) (*App, error) {
	global, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(promReg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	serverID := uuid.New().String()
	qr := pairing.NewQRGenerator(cfg.Server.Host, cfg.Server.Port, cfg.Server.Path, cfg.Server.Codec)
	qr.SetServerID(serverID)
	if cfg.Server.ExternalURL != "" {
		qr.SetExternalURL(cfg.Server.ExternalURL)
		log.Info().Str("external_url", cfg.Server.ExternalURL).Msg("using external URL for QR code")
	}

	return &App{
		cfg:         cfg,
		version:     version,
		global:      global,
		out:         os.Stdout,
		registry:    NewRegistry(),
		promReg:     promReg,
		metrics:     m,
		hub:         hub.New(hub.WithMetrics(m)),
		qrGenerator: qr,
		serverID:    serverID,
	}, nil
}

// SetOutput redirects the connection banner.
func (a *App) SetOutput(w io.Writer) {
	a.out = w
}

// Settings builds the factory settings for the merged options o. An empty
// url means the configured client url.
func (a *App) Settings(url string, o config.Options) (transport.Settings, error) {
	name := o.Codec
	if name == "" {
		name = a.cfg.Client.Codec
	}
	c, err := codec.ByName(name)
	if err != nil {
		return transport.Settings{}, err
	}
	if url == "" {
		url = a.cfg.Client.URL
	}
	return transport.Settings{
		URL:     url,
		Codec:   c,
		Options: o,
		Metrics: a.metrics,
		NATS:    a.cfg.NATS,
	}, nil
}

// Dial opens a standalone connection over the transport the merged options
// name. call overrides the configured global level.
func (a *App) Dial(ctx context.Context, url string, call config.Options) (*conn.Connection, error) {
	o := config.Merge(a.global, call)
	s, err := a.Settings(url, o)
	if err != nil {
		return nil, err
	}
	tr, err := a.registry.New(o.Transport, s)
	if err != nil {
		return nil, err
	}
	return conn.Open(ctx,
		conn.WithTransport(tr),
		conn.WithOptions(o),
		conn.WithMetrics(a.metrics),
	)
}

// Start runs the server with the demo wires and blocks until ctx is
// cancelled.
func (a *App) Start(ctx context.Context, opts ServeOptions) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.server = nil
		a.mu.Unlock()
	}()

	var srvOpts []server.Option
	if a.cfg.Server.Metrics {
		srvOpts = append(srvOpts, server.WithMetrics(a.metrics, a.promReg))
	}
	srvOpts = append(srvOpts, server.WithPairing(a.qrGenerator))
	srv, err := server.New(a.cfg.Server, a.global, a.hub, srvOpts...)
	if err != nil {
		return err
	}

	if opts.LogTraffic {
		a.hub.Subscribe(hub.NewLogPeer("traffic-logger", func(env wire.Envelope) {
			log.Debug().
				Str("op", env.Op.String()).
				Str("wire", string(env.Wire)).
				Int64("sequence", env.Seq).
				Interface("data", env.Data).
				Msg("hub traffic")
		}))
	}

	local, err := conn.New(
		conn.WithID("server-"+a.serverID[:8]),
		conn.WithHub(a.hub),
		conn.WithOptions(a.global),
		conn.WithMetrics(a.metrics),
		conn.WithClosePolicy(config.HubCloseDetach),
	)
	if err != nil {
		return err
	}
	defer local.Close()

	d, err := newDemo(local, srv.SessionCount, a.version)
	if err != nil {
		return fmt.Errorf("failed to register demo wires: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	a.printConnectionInfo(srv.Addr(), opts.ShowQR)

	interval := opts.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.run(gctx, interval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}

// printConnectionInfo prints connection information to the console.
func (a *App) printConnectionInfo(addr string, showQR bool) {
	info := a.qrGenerator.GetPairingInfo()
	if a.cfg.Server.ExternalURL == "" && addr != "" {
		info.WebSocket = fmt.Sprintf("ws://%s%s", addr, a.cfg.Server.Path)
		info.HTTP = "http://" + addr
	}

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "╔════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(a.out, "║                     kyano ready                            ║")
	fmt.Fprintln(a.out, "╠════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(a.out, "║  Server ID:  %-46s ║\n", a.serverID[:8]+"...")
	fmt.Fprintf(a.out, "║  Codec:      %-46s ║\n", truncateString(info.Codec, 46))
	fmt.Fprintln(a.out, "╠════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(a.out, "║  HTTP:       %-46s ║\n", truncateString(info.HTTP, 46))
	fmt.Fprintf(a.out, "║  WebSocket:  %-46s ║\n", truncateString(info.WebSocket, 46))
	fmt.Fprintln(a.out, "╚════════════════════════════════════════════════════════════╝")

	if showQR {
		if err := a.qrGenerator.Print(a.out); err != nil {
			log.Warn().Err(err).Msg("failed to render QR code")
		}
	}
}

// ServerAddr returns the bound server address while Start runs.
func (a *App) ServerAddr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// GetServerID returns the server instance ID.
func (a *App) GetServerID() string {
	return a.serverID
}

// GetHub returns the shared hub.
func (a *App) GetHub() *hub.Hub {
	return a.hub
}

// GetConfig returns the configuration.
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// Registry returns the transport registry.
func (a *App) Registry() *transport.Registry {
	return a.registry
}

// Gatherer returns the Prometheus registry the metrics live on.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.promReg
}

// UptimeSeconds returns how long the server has been running.
func (a *App) UptimeSeconds() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(a.startTime).Seconds())
}

// truncateString truncates a string to maxLen characters.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
