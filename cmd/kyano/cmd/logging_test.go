package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		verbose bool
		want    zerolog.Level
	}{
		{"debug", false, zerolog.DebugLevel},
		{"warn", false, zerolog.WarnLevel},
		{"", false, zerolog.InfoLevel},
		{"loud", false, zerolog.InfoLevel},
		{"error", true, zerolog.DebugLevel},
	}
	for _, tt := range tests {
		verbose = tt.verbose
		if got := logLevel(tt.in); got != tt.want {
			t.Errorf("logLevel(%q, verbose=%v) = %s, want %s", tt.in, tt.verbose, got, tt.want)
		}
	}
	verbose = false
}

func TestSetupLoggingWritesFile(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	cfg := config.Default()
	cfg.Logging.Format = "json"
	cfg.Logging.File = filepath.Join(t.TempDir(), "kyano.log")

	closer := setupLogging(&cfg)
	log.Info().Str("wire", "tick").Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	content, err := os.ReadFile(cfg.Logging.File)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(content) == 0 {
		t.Fatal("log file is empty")
	}
}
