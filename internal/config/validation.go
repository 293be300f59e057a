package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/buffer"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}

	if err := validateClient(&cfg.Client); err != nil {
		return err
	}

	if err := validateWire(&cfg.Wire); err != nil {
		return err
	}

	if err := validateNATS(&cfg.NATS); err != nil {
		return err
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}

	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("server.path must start with /")
	}
	if err := validateCodec(cfg.Codec, "server.codec"); err != nil {
		return err
	}

	for _, origin := range cfg.AllowedOrigins {
		if strings.HasPrefix(origin, "*.") {
			continue
		}
		if err := validateURL(origin, "server.allowed_origins", []string{"http", "https"}); err != nil {
			return err
		}
	}

	// Validate external URL if provided
	if cfg.ExternalURL != "" {
		if err := validateURL(cfg.ExternalURL, "server.external_url", []string{"ws", "wss"}); err != nil {
			return err
		}
	}

	return nil
}

func validateClient(cfg *ClientConfig) error {
	if cfg.Transport == "" {
		return fmt.Errorf("client.transport cannot be empty")
	}
	if cfg.Transport == "ws" {
		if err := validateURL(cfg.URL, "client.url", []string{"ws", "wss"}); err != nil {
			return err
		}
	}
	return validateCodec(cfg.Codec, "client.codec")
}

func validateCodec(name, field string) error {
	switch name {
	case "json", "proto":
		return nil
	}
	return fmt.Errorf("%s must be json or proto, got %q", field, name)
}

func validateWire(cfg *WireConfig) error {
	if _, err := wire.ParseMode(cfg.Mode); err != nil {
		return fmt.Errorf("wire.mode: %w", err)
	}
	if _, err := buffer.ParsePolicy(cfg.DropPolicy); err != nil {
		return fmt.Errorf("wire.drop_policy: %w", err)
	}
	if cfg.BufferSize < 1 {
		return fmt.Errorf("wire.buffer_size must be at least 1")
	}
	if cfg.BufferSize > 1_000_000 {
		return fmt.Errorf("wire.buffer_size cannot exceed 1000000")
	}

	for field, v := range map[string]int{
		"wire.timeout_ms":            cfg.TimeoutMS,
		"wire.throttle_ms":           cfg.ThrottleMS,
		"wire.reconnect_delay_ms":    cfg.ReconnectDelayMS,
		"wire.reconnect_jitter_ms":   cfg.ReconnectJitterMS,
		"wire.heartbeat_interval_ms": cfg.HeartbeatIntervalMS,
	} {
		if v < 0 {
			return fmt.Errorf("%s cannot be negative", field)
		}
	}
	if cfg.MaxReconnectDelayMS < cfg.ReconnectDelayMS {
		return fmt.Errorf("wire.max_reconnect_delay_ms must be >= wire.reconnect_delay_ms")
	}

	switch cfg.SharedHubClose {
	case HubCloseClear, HubCloseDetach:
	default:
		return fmt.Errorf("wire.shared_hub_close must be %q or %q", HubCloseClear, HubCloseDetach)
	}
	return nil
}

func validateNATS(cfg *NATSConfig) error {
	if cfg.URL != "" {
		if err := validateURL(cfg.URL, "nats.url", []string{"nats", "tls"}); err != nil {
			return err
		}
	}
	if strings.ContainsAny(cfg.SubjectPrefix, " *>") {
		return fmt.Errorf("nats.subject_prefix cannot contain spaces or wildcards")
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if _, err := zerolog.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch cfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}
	if cfg.File != "" && cfg.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1 when logging.file is set")
	}
	return nil
}

// validateURL validates that a URL is well-formed and uses an allowed scheme.
func validateURL(rawURL, fieldName string, allowedSchemes []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}

	schemeValid := false
	for _, scheme := range allowedSchemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			schemeValid = true
			break
		}
	}
	if !schemeValid {
		return fmt.Errorf("%s must use one of these schemes: %s", fieldName, strings.Join(allowedSchemes, ", "))
	}

	return nil
}
