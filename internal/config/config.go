// Package config handles configuration management for kyano.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
	Wire    WireConfig    `mapstructure:"wire" yaml:"wire"`
	NATS    NATSConfig    `mapstructure:"nats" yaml:"nats"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	Path        string `mapstructure:"path" yaml:"path"`
	Codec       string `mapstructure:"codec" yaml:"codec"`
	Metrics     bool   `mapstructure:"metrics" yaml:"metrics"`
	ExternalURL string `mapstructure:"external_url" yaml:"external_url"` // Optional: public ws:// URL shown in pairing QR codes

	// AllowedOrigins lists browser origins allowed to open sockets. Entries
	// are exact origins or *.domain wildcards. Empty allows any origin,
	// unless the server binds to loopback, where only local origins pass.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

// ClientConfig holds the defaults for client commands.
type ClientConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	Transport string `mapstructure:"transport" yaml:"transport"`
	Codec     string `mapstructure:"codec" yaml:"codec"`
}

// WireConfig is the global level of the option cascade.
type WireConfig struct {
	Mode                string `mapstructure:"mode" yaml:"mode"`
	BufferSize          int    `mapstructure:"buffer_size" yaml:"buffer_size"`
	DropPolicy          string `mapstructure:"drop_policy" yaml:"drop_policy"`
	TimeoutMS           int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	ThrottleMS          int    `mapstructure:"throttle_ms" yaml:"throttle_ms"`
	ReconnectDelayMS    int    `mapstructure:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
	MaxReconnectDelayMS int    `mapstructure:"max_reconnect_delay_ms" yaml:"max_reconnect_delay_ms"`
	ReconnectJitterMS   int    `mapstructure:"reconnect_jitter_ms" yaml:"reconnect_jitter_ms"`
	HeartbeatIntervalMS int    `mapstructure:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
	SharedHubClose      string `mapstructure:"shared_hub_close" yaml:"shared_hub_close"`
}

// NATSConfig holds the broker bridge configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

// LoadAndWatch loads configuration and calls onChange with the reloaded
// configuration whenever the config file changes. Reloads that fail
// validation are logged and skipped.
func LoadAndWatch(configPath string, onChange func(*Config, fsnotify.Event)) (*Config, error) {
	cfg, v, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("config reload failed")
			return
		}
		if err := Validate(&next); err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("reloaded config is invalid")
			return
		}
		onChange(&next, e)
	})
	v.WatchConfig()
	return cfg, nil
}

func load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	// Set config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default search paths
		v.SetConfigName("kyano")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.kyano")
		v.AddConfigPath("/etc/kyano")
	}

	// Environment variable prefix
	v.SetEnvPrefix("KYANO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional - not an error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, nil, err
	}

	return &cfg, v, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.path", d.Server.Path)
	v.SetDefault("server.codec", d.Server.Codec)
	v.SetDefault("server.metrics", d.Server.Metrics)
	v.SetDefault("server.external_url", d.Server.ExternalURL)

	v.SetDefault("client.url", d.Client.URL)
	v.SetDefault("client.transport", d.Client.Transport)
	v.SetDefault("client.codec", d.Client.Codec)

	v.SetDefault("wire.mode", d.Wire.Mode)
	v.SetDefault("wire.buffer_size", d.Wire.BufferSize)
	v.SetDefault("wire.drop_policy", d.Wire.DropPolicy)
	v.SetDefault("wire.timeout_ms", d.Wire.TimeoutMS)
	v.SetDefault("wire.throttle_ms", d.Wire.ThrottleMS)
	v.SetDefault("wire.reconnect_delay_ms", d.Wire.ReconnectDelayMS)
	v.SetDefault("wire.max_reconnect_delay_ms", d.Wire.MaxReconnectDelayMS)
	v.SetDefault("wire.reconnect_jitter_ms", d.Wire.ReconnectJitterMS)
	v.SetDefault("wire.heartbeat_interval_ms", d.Wire.HeartbeatIntervalMS)
	v.SetDefault("wire.shared_hub_close", d.Wire.SharedHubClose)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
}

// GetConfigDir returns the user config directory for kyano.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".kyano"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
