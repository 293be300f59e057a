package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"false", false},
		{"9000", 9000},
		{"-1", -1},
		{"detach", "detach"},
		{"1.5", "1.5"},
		{"TRUE", "TRUE"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestSetNestedValue(t *testing.T) {
	data := map[string]any{"server": map[string]any{"host": "0.0.0.0"}}

	if err := setNestedValue(data, "server.port", "9000"); err != nil {
		t.Fatalf("setNestedValue() error: %v", err)
	}
	if err := setNestedValue(data, "wire.shared_hub_close", "detach"); err != nil {
		t.Fatalf("setNestedValue() error: %v", err)
	}

	server := data["server"].(map[string]any)
	if server["port"] != 9000 || server["host"] != "0.0.0.0" {
		t.Errorf("server = %#v", server)
	}
	if data["wire"].(map[string]any)["shared_hub_close"] != "detach" {
		t.Errorf("wire = %#v", data["wire"])
	}

	if err := setNestedValue(data, "server.port.value", "1"); err == nil {
		t.Error("expected error when a scalar is traversed")
	}
}

func TestGetConfigValue(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		key     string
		want    any
		wantErr bool
	}{
		{key: "server.port", want: 8780},
		{key: "server.path", want: "/ws"},
		{key: "wire.drop_policy", want: "newest"},
		{key: "nats.subject_prefix", want: "kyano"},
		{key: "server", wantErr: true},
		{key: "server.nope", wantErr: true},
		{key: "nope", wantErr: true},
	}
	for _, tt := range tests {
		got, err := getConfigValue(&cfg, tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("getConfigValue(%q) = %v, want error", tt.key, got)
			}
			continue
		}
		if err != nil || !reflect.DeepEqual(got, tt.want) {
			t.Errorf("getConfigValue(%q) = %#v, %v; want %#v", tt.key, got, err, tt.want)
		}
	}
}

func TestWriteDefaultConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)
	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig() error: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reflect.DeepEqual(*cfg, config.Default()) {
		t.Errorf("default config file differs from built-in defaults:\n%+v\n%+v", *cfg, config.Default())
	}
}

func TestWriteConfig(t *testing.T) {
	cfg := config.Default()
	var buf bytes.Buffer
	if err := writeConfig(&buf, &cfg); err != nil {
		t.Fatalf("writeConfig() error: %v", err)
	}
	for _, want := range []string{"server:", "port: 8780", "shared_hub_close: clear"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestConfigSetWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	var out bytes.Buffer
	configSetCmd.SetOut(&out)
	if err := runConfigSet(configSetCmd, []string{"server.port", "9100"}); err != nil {
		t.Fatalf("runConfigSet() error: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(content), "port: 9100") {
		t.Errorf("config file = %s", content)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
}
