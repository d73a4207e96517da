package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
discovery:
  service_type: "_http._tcp"
  instance_prefix: "uOpenFan-"
  workers: 4
device:
  default_port: 8080
  request_timeout: 5
poller:
  active_interval: 1000
  idle_interval: 15000
api:
  host: "0.0.0.0"
  port: 9000
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Discovery.Workers != 4 {
		t.Errorf("Discovery.Workers = %d, want 4", cfg.Discovery.Workers)
	}
	if cfg.Device.DefaultPort != 8080 {
		t.Errorf("Device.DefaultPort = %d, want 8080", cfg.Device.DefaultPort)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}

	// Fields absent from the file keep their defaults.
	if cfg.Dispatch.DebounceDelay != 500 {
		t.Errorf("Dispatch.DebounceDelay = %d, want default 500", cfg.Dispatch.DebounceDelay)
	}
	if cfg.Discovery.Domain != "local." {
		t.Errorf("Discovery.Domain = %q, want default %q", cfg.Discovery.Domain, "local.")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENFAN_MQTT_HOST", "broker.lan")
	t.Setenv("OPENFAN_API_PORT", "9100")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("api:\n  port: 8745\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Host != "broker.lan" {
		t.Errorf("MQTT.Host = %q, want %q", cfg.MQTT.Host, "broker.lan")
	}
	if cfg.API.Port != 9100 {
		t.Errorf("API.Port = %d, want 9100 (env override)", cfg.API.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "empty instance prefix",
			mutate:  func(c *Config) { c.Discovery.InstancePrefix = "" },
			wantErr: true,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Discovery.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "stale timeout not beyond rebrowse interval",
			mutate:  func(c *Config) { c.Discovery.RebrowseInterval = 60; c.Discovery.StaleTimeout = 60 },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Device.DefaultPort = 70000 },
			wantErr: true,
		},
		{
			name:    "default speed zero",
			mutate:  func(c *Config) { c.Device.DefaultSpeed = 0 },
			wantErr: true,
		},
		{
			name:    "idle interval shorter than active",
			mutate:  func(c *Config) { c.Poller.IdleInterval = 100; c.Poller.ActiveInterval = 500 },
			wantErr: true,
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "preset out of range",
			mutate:  func(c *Config) { c.Presets = []int{0, 50, 120} },
			wantErr: true,
		},
		{
			name:    "database enabled without path",
			mutate:  func(c *Config) { c.Database.Enabled = true; c.Database.Path = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DurationGetters(t *testing.T) {
	cfg := Default()

	if got := cfg.RequestTimeout(); got != 3*time.Second {
		t.Errorf("RequestTimeout() = %v, want 3s", got)
	}
	if got := cfg.ActiveInterval(); got != 500*time.Millisecond {
		t.Errorf("ActiveInterval() = %v, want 500ms", got)
	}
	if got := cfg.IdleInterval(); got != 10*time.Second {
		t.Errorf("IdleInterval() = %v, want 10s", got)
	}
	if got := cfg.DebounceDelay(); got != 500*time.Millisecond {
		t.Errorf("DebounceDelay() = %v, want 500ms", got)
	}
}
