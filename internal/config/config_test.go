package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() of a missing explicit file should fail")
	}

	t.Chdir(t.TempDir())
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8780 {
		t.Errorf("default Port = %d, want 8780", cfg.Server.Port)
	}
	if cfg.Server.Path != "/ws" {
		t.Errorf("default Path = %s, want /ws", cfg.Server.Path)
	}
	if cfg.Wire.BufferSize != 1000 {
		t.Errorf("default BufferSize = %d, want 1000", cfg.Wire.BufferSize)
	}
	if cfg.Wire.TimeoutMS != 5000 {
		t.Errorf("default TimeoutMS = %d, want 5000", cfg.Wire.TimeoutMS)
	}
	if cfg.Wire.SharedHubClose != HubCloseClear {
		t.Errorf("default SharedHubClose = %s, want clear", cfg.Wire.SharedHubClose)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Logging.Level = %s, want info", cfg.Logging.Level)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `
server:
  port: 9000
  host: "0.0.0.0"
  codec: proto

wire:
  mode: latest-only
  buffer_size: 16
  drop_policy: oldest
  timeout_ms: 250
  shared_hub_close: detach

logging:
  level: debug
  format: json
`
	configPath := filepath.Join(tempDir, "kyano.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Codec != "proto" {
		t.Errorf("Codec = %s, want proto", cfg.Server.Codec)
	}
	if cfg.Wire.Mode != "latest-only" {
		t.Errorf("Mode = %s, want latest-only", cfg.Wire.Mode)
	}
	if cfg.Wire.BufferSize != 16 {
		t.Errorf("BufferSize = %d, want 16", cfg.Wire.BufferSize)
	}
	if cfg.Wire.SharedHubClose != HubCloseDetach {
		t.Errorf("SharedHubClose = %s, want detach", cfg.Wire.SharedHubClose)
	}
	// Unset keys keep their defaults.
	if cfg.Wire.ReconnectDelayMS != 1000 {
		t.Errorf("ReconnectDelayMS = %d, want 1000", cfg.Wire.ReconnectDelayMS)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %s, want json", cfg.Logging.Format)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KYANO_SERVER_PORT", "9100")
	t.Setenv("KYANO_WIRE_BUFFER_SIZE", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Wire.BufferSize != 7 {
		t.Errorf("BufferSize = %d, want 7", cfg.Wire.BufferSize)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "kyano.yaml")
	if err := os.WriteFile(configPath, []byte("wire:\n  drop_policy: sometimes\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "wire.drop_policy") {
		t.Errorf("Load() error = %v, want wire.drop_policy error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"relative path", func(c *Config) { c.Server.Path = "ws" }, "server.path"},
		{"bad codec", func(c *Config) { c.Server.Codec = "xml" }, "server.codec"},
		{"http external url", func(c *Config) { c.Server.ExternalURL = "http://x" }, "server.external_url"},
		{"origin wildcard", func(c *Config) { c.Server.AllowedOrigins = []string{"*.example.com"} }, ""},
		{"origin without scheme", func(c *Config) { c.Server.AllowedOrigins = []string{"example.com"} }, "server.allowed_origins"},
		{"client url scheme", func(c *Config) { c.Client.URL = "http://127.0.0.1/ws" }, "client.url"},
		{"stdio skips url", func(c *Config) { c.Client.Transport = "stdio"; c.Client.URL = "" }, ""},
		{"zero buffer", func(c *Config) { c.Wire.BufferSize = 0 }, "wire.buffer_size"},
		{"negative timeout", func(c *Config) { c.Wire.TimeoutMS = -1 }, "wire.timeout_ms"},
		{"cap below base", func(c *Config) { c.Wire.MaxReconnectDelayMS = 10 }, "max_reconnect_delay_ms"},
		{"bad mode", func(c *Config) { c.Wire.Mode = "random" }, "wire.mode"},
		{"bad close policy", func(c *Config) { c.Wire.SharedHubClose = "keep" }, "shared_hub_close"},
		{"nats wildcard", func(c *Config) { c.NATS.SubjectPrefix = "a.*" }, "subject_prefix"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file without size", func(c *Config) { c.Logging.File = "x.log"; c.Logging.MaxSizeMB = 0 }, "max_size_mb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestServerURL(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "0.0.0.0"
	if got := cfg.ServerURL(); got != "ws://127.0.0.1:8780/ws" {
		t.Errorf("ServerURL() = %s", got)
	}

	cfg.Server.ExternalURL = "wss://example.test/ws"
	if got := cfg.ServerURL(); got != "wss://example.test/ws" {
		t.Errorf("ServerURL() = %s", got)
	}
}
