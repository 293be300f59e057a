package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
)

// configFileName is the file name the loader searches for.
const configFileName = "kyano.yaml"

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage kyano configuration.

Without subcommands, shows the current effective configuration.

Examples:
  kyano config              # Show current config
  kyano config init         # Create config file with defaults
  kyano config path         # Show config file location
  kyano config get <key>    # Get a config value
  kyano config set <key> <value>  # Set a config value`,
	RunE: runConfigShow,
}

// configShowCmd prints the effective configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfigShow,
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings.

By default, creates ~/.kyano/kyano.yaml.
Use --local to create ./kyano.yaml in the current directory.

Examples:
  kyano config init          # Create ~/.kyano/kyano.yaml
  kyano config init --local  # Create ./kyano.yaml
  kyano config init --force  # Overwrite existing file`,
	RunE: runConfigInit,
}

// configPathCmd shows config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	RunE:  runConfigPath,
}

// configGetCmd gets a config value.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a configuration value by key.

Keys use dot notation to access nested values.

Examples:
  kyano config get server.port
  kyano config get wire.drop_policy`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

// configSetCmd sets a config value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value by key.

Creates the config file if it doesn't exist.
Keys use dot notation to access nested values.

Examples:
  kyano config set server.port 9000
  kyano config set wire.shared_hub_close detach`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create config in current directory instead of ~/.kyano/")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing config file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return writeConfig(cmd.OutOrStdout(), cfg)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return enc.Close()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFileName
	if !configInitLocal {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, configFileName)
	}

	if _, err := os.Stat(configPath); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
	}

	if err := writeDefaultConfig(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", configPath)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config dir: %w", err)
	}

	locations := []string{
		filepath.Join(".", configFileName),
		filepath.Join(configDir, configFileName),
		filepath.Join("/etc/kyano", configFileName),
	}
	if cfgFile != "" {
		locations = []string{cfgFile}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Config search paths (in order):")
	for i, loc := range locations {
		exists := "not found"
		if _, err := os.Stat(loc); err == nil {
			exists = "exists"
		}
		fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, loc, exists)
	}
	fmt.Fprintf(out, "\nConfig directory: %s\n", configDir)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value, err := getConfigValue(cfg, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	configPath := cfgFile
	if configPath == "" {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, configFileName)
	}

	// Load existing config or create new one
	var data map[string]any
	if content, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(content, &data); err != nil {
			return fmt.Errorf("failed to parse existing config: %w", err)
		}
	}
	if data == nil {
		data = make(map[string]any)
	}

	if err := setNestedValue(data, key, value); err != nil {
		return err
	}

	content, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", key, value, configPath)
	return nil
}

// getConfigValue resolves a dotted key against the yaml tags of cfg.
func getConfigValue(cfg *config.Config, key string) (any, error) {
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(content, &tree); err != nil {
		return nil, err
	}

	var current any = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
		if current, ok = m[part]; !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
	}
	if _, ok := current.(map[string]any); ok {
		return nil, fmt.Errorf("invalid key: %s is a section", key)
	}
	return current, nil
}

func setNestedValue(data map[string]any, key string, value string) error {
	parts := strings.Split(key, ".")

	// Navigate to the parent
	current := data
	for i := 0; i < len(parts)-1; i++ {
		if _, ok := current[parts[i]]; !ok {
			current[parts[i]] = make(map[string]any)
		}
		nested, ok := current[parts[i]].(map[string]any)
		if !ok {
			return fmt.Errorf("cannot set nested value: %s is not a map", parts[i])
		}
		current = nested
	}

	current[parts[len(parts)-1]] = parseValue(value)
	return nil
}

// parseValue converts booleans and integers; everything else stays a
// string.
func parseValue(value string) any {
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	return value
}

func writeDefaultConfig(path string) error {
	content := `# kyano configuration
# Every key can be overridden with KYANO_<SECTION>_<KEY>, e.g. KYANO_SERVER_PORT.

# Server settings (kyano serve)
server:
  # Bind address (use 0.0.0.0 to allow external connections)
  host: "127.0.0.1"
  port: 8780

  # WebSocket endpoint path
  path: "/ws"

  # Frame codec: json (text frames) or proto (binary frames)
  codec: "json"

  # Expose Prometheus metrics on /metrics
  metrics: true

  # Public ws:// URL shown in pairing QR codes (tunnels, proxies)
  # external_url: "wss://example.ngrok.app/ws"

  # Browser origins allowed to connect (exact or *.domain). Empty allows
  # any origin, or only local ones when bound to loopback.
  # allowed_origins:
  #   - "https://dashboard.example.com"
  #   - "*.example.com"

# Client defaults (emit, send, signal, watch, listen)
client:
  url: "ws://127.0.0.1:8780/ws"
  # Transport: ws, nats, stdio or inproc
  transport: "ws"
  codec: "json"

# Wire options (global level; connections and calls may override)
wire:
  # Observer delivery: all-ordered, drop-under-load or latest-only
  mode: "all-ordered"

  # Pending buffer used while a link is down
  buffer_size: 1000
  # On overflow: newest (drop incoming), oldest (evict head) or block
  drop_policy: "newest"

  # Discrete request timeout; 0 disables
  timeout_ms: 5000

  # Minimum interval between outbound stream emits; 0 disables
  throttle_ms: 0

  # Reconnection backoff: min(max, delay * 2^attempt) + jitter
  reconnect_delay_ms: 1000
  max_reconnect_delay_ms: 30000
  reconnect_jitter_ms: 1000

  # Ping interval; 0 disables
  heartbeat_interval_ms: 30000

  # What closing a connection on a shared hub does: clear or detach
  shared_hub_close: "clear"

# NATS bridge (transport: nats)
nats:
  url: "nats://127.0.0.1:4222"
  subject_prefix: "kyano"

# Logging settings
logging:
  # Log level: trace, debug, info, warn, error
  level: "info"

  # Log format: console (human-readable) or json
  format: "console"

  # Optional log file, rotated by size
  # file: "/var/log/kyano/kyano.log"
  max_size_mb: 50
  max_backups: 3
  max_age_days: 14
`

	return os.WriteFile(path, []byte(content), 0644)
}
