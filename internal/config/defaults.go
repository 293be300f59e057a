package config

import "fmt"

// Close policies for connections attached to a shared hub.
const (
	// HubCloseClear empties the whole hub when any connection closes.
	HubCloseClear = "clear"
	// HubCloseDetach removes only the closing connection's registrations.
	HubCloseDetach = "detach"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    8780,
			Path:    "/ws",
			Codec:   "json",
			Metrics: true,
		},
		Client: ClientConfig{
			URL:       "ws://127.0.0.1:8780/ws",
			Transport: "ws",
			Codec:     "json",
		},
		Wire: WireConfig{
			Mode:                "all-ordered",
			BufferSize:          1000,
			DropPolicy:          "newest",
			TimeoutMS:           5000,
			ThrottleMS:          0,
			ReconnectDelayMS:    1000,
			MaxReconnectDelayMS: 30000,
			ReconnectJitterMS:   1000,
			HeartbeatIntervalMS: 30000,
			SharedHubClose:      HubCloseClear,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "kyano",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// ServerURL returns the ws:// URL clients use to reach the server.
func (c *Config) ServerURL() string {
	if c.Server.ExternalURL != "" {
		return c.Server.ExternalURL
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s:%d%s", host, c.Server.Port, c.Server.Path)
}
