package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/app"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
)

var (
	serveHost        string
	servePort        int
	serveCodec       string
	serveExternalURL string
	serveShowQR      bool
	serveTick        time.Duration
	serveLogTraffic  bool
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kyano server",
	Long: `Start the kyano server. Clients connect over WebSocket and share the
server's hub: stream emits and signal updates from one client reach every
other client, and requests are answered by whoever holds the reply handler.

The server provides three wires out of the box:
  clock   (discrete)  replies with the server time, echoing the request data
  status  (signal)    server state and session count
  tick    (stream)    a counter emitted every --tick

Routes:
  /ws        WebSocket endpoint (?wires=a,b limits fan-out to those wires)
  /healthz   JSON status
  /metrics   Prometheus metrics (server.metrics)
  /pairing   QR code of the endpoint as PNG

Example:
  kyano serve
  kyano serve --port 9000 --codec proto
  kyano serve --qr --external-url wss://example.ngrok.app/ws`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: server.port)")
	serveCmd.Flags().StringVar(&serveCodec, "codec", "", "frame codec: json or proto (default: server.codec)")
	serveCmd.Flags().StringVar(&serveExternalURL, "external-url", "", "public ws:// URL shown in the QR code")
	serveCmd.Flags().BoolVar(&serveShowQR, "qr", false, "print a pairing QR code")
	serveCmd.Flags().DurationVar(&serveTick, "tick", app.DefaultTickInterval, "period of the demo tick stream")
	serveCmd.Flags().BoolVar(&serveLogTraffic, "log-traffic", false, "log every envelope published on the hub (debug level)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndWatch()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveCodec != "" {
		cfg.Server.Codec = serveCodec
	}
	if serveExternalURL != "" {
		cfg.Server.ExternalURL = serveExternalURL
	}

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logFile := setupLogging(cfg)
	defer logFile.Close()

	log.Info().
		Str("version", version).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("codec", cfg.Server.Codec).
		Msg("starting kyano")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	application.SetOutput(cmd.OutOrStdout())

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Start(ctx, app.ServeOptions{
		TickInterval: serveTick,
		LogTraffic:   serveLogTraffic || verbose,
		ShowQR:       serveShowQR,
	})
	if err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("kyano stopped")
	return nil
}
