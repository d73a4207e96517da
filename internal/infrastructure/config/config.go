package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for OpenFan Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Discovery Discovery `yaml:"discovery"`
	Device    Device    `yaml:"device"`
	Poller    Poller    `yaml:"poller"`
	Dispatch  Dispatch  `yaml:"dispatch"`
	API       API       `yaml:"api"`
	WebSocket WebSocket `yaml:"websocket"`
	MQTT      MQTT      `yaml:"mqtt"`
	InfluxDB  InfluxDB  `yaml:"influxdb"`
	Database  Database  `yaml:"database"`
	Presets   []int     `yaml:"presets"`
	Logging   Logging   `yaml:"logging"`
}

// Discovery contains mDNS discovery settings.
type Discovery struct {
	// ServiceType is the DNS-SD service type to browse.
	ServiceType string `yaml:"service_type"`

	// Domain is the mDNS browse domain.
	Domain string `yaml:"domain"`

	// InstancePrefix filters announcements; instances not starting with
	// this prefix are ignored.
	InstancePrefix string `yaml:"instance_prefix"`

	// Workers is the number of announcement-processing workers.
	// Processing includes the initial status fetch, so this bounds how many
	// slow devices can be fetched concurrently.
	Workers int `yaml:"workers"`

	// RebrowseInterval is how long one browse session runs before a fresh
	// one starts (seconds). Each fresh session re-hears every device.
	RebrowseInterval int `yaml:"rebrowse_interval"`

	// StaleTimeout evicts a device not re-announced within this window
	// (seconds). Must exceed RebrowseInterval.
	StaleTimeout int `yaml:"stale_timeout"`
}

// Device contains per-device HTTP client settings.
type Device struct {
	// DefaultPort is used when an announcement carries no port.
	DefaultPort int `yaml:"default_port"`

	// RequestTimeout is the timeout for a single status or command request (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// DefaultSpeed is the speed applied when powering on a fan that has
	// never reported a positive speed.
	DefaultSpeed int `yaml:"default_speed"`
}

// Poller contains status polling settings.
type Poller struct {
	// ActiveInterval is the poll interval while a consumer is viewing
	// live state (milliseconds).
	ActiveInterval int `yaml:"active_interval"`

	// IdleInterval is the background keep-alive poll interval (milliseconds).
	IdleInterval int `yaml:"idle_interval"`
}

// Dispatch contains command dispatcher settings.
type Dispatch struct {
	// DebounceDelay is the quiet period before a coalesced command is
	// sent to the device (milliseconds).
	DebounceDelay int `yaml:"debounce_delay"`
}

// API contains HTTP API server settings.
type API struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Timeouts APITimeouts `yaml:"timeouts"`
}

// APITimeouts contains HTTP server timeout settings (seconds).
type APITimeouts struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocket contains WebSocket event stream settings.
type WebSocket struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// MQTT contains optional MQTT state mirroring settings.
type MQTT struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// InfluxDB contains optional telemetry recording settings.
type InfluxDB struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Database contains optional state-history database settings.
type Database struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// Logging contains logging settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file, applies environment variable
// overrides, and validates the result.
//
// Environment variables follow the pattern OPENFAN_SECTION_KEY.
// For example: OPENFAN_MQTT_HOST, OPENFAN_API_PORT.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
// Useful for tests and for running with no config file present.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
// The reference values come from the OpenFan device protocol and the
// cadences the control surface expects.
func defaultConfig() *Config {
	return &Config{
		Discovery: Discovery{
			ServiceType:      "_http._tcp",
			Domain:           "local.",
			InstancePrefix:   "uOpenFan-",
			Workers:          2,
			RebrowseInterval: 60,
			StaleTimeout:     180,
		},
		Device: Device{
			DefaultPort:    80,
			RequestTimeout: 3,
			DefaultSpeed:   50,
		},
		Poller: Poller{
			ActiveInterval: 500,
			IdleInterval:   10000,
		},
		Dispatch: Dispatch{
			DebounceDelay: 500,
		},
		API: API{
			Host: "127.0.0.1",
			Port: 8745,
			Timeouts: APITimeouts{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocket{
			Path:           "/ws",
			MaxMessageSize: 4096,
			SendBuffer:     64,
		},
		MQTT: MQTT{
			Host:     "localhost",
			Port:     1883,
			ClientID: "openfan-core",
			QoS:      1,
		},
		InfluxDB: InfluxDB{
			URL:           "http://localhost:8086",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: Database{
			Path:        "./data/openfan.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Presets: []int{0, 25, 50, 75, 100},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: OPENFAN_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENFAN_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("OPENFAN_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("OPENFAN_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("OPENFAN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("OPENFAN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("OPENFAN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("OPENFAN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("OPENFAN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Discovery.ServiceType == "" {
		errs = append(errs, "discovery.service_type is required")
	}
	if c.Discovery.InstancePrefix == "" {
		errs = append(errs, "discovery.instance_prefix is required")
	}
	if c.Discovery.Workers < 1 {
		errs = append(errs, "discovery.workers must be at least 1")
	}
	if c.Discovery.RebrowseInterval < 1 {
		errs = append(errs, "discovery.rebrowse_interval must be at least 1 second")
	}
	if c.Discovery.StaleTimeout <= c.Discovery.RebrowseInterval {
		errs = append(errs, "discovery.stale_timeout must exceed discovery.rebrowse_interval")
	}

	if c.Device.DefaultPort < 1 || c.Device.DefaultPort > 65535 {
		errs = append(errs, "device.default_port must be between 1 and 65535")
	}
	if c.Device.RequestTimeout < 1 {
		errs = append(errs, "device.request_timeout must be at least 1 second")
	}
	if c.Device.DefaultSpeed < 1 || c.Device.DefaultSpeed > 100 {
		errs = append(errs, "device.default_speed must be between 1 and 100")
	}

	if c.Poller.ActiveInterval < 100 {
		errs = append(errs, "poller.active_interval must be at least 100ms")
	}
	if c.Poller.IdleInterval < c.Poller.ActiveInterval {
		errs = append(errs, "poller.idle_interval must not be shorter than poller.active_interval")
	}

	if c.Dispatch.DebounceDelay < 0 {
		errs = append(errs, "dispatch.debounce_delay must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}

	for _, p := range c.Presets {
		if p < 0 || p > 100 {
			errs = append(errs, fmt.Sprintf("presets value %d out of range 0-100", p))
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RebrowseInterval returns the browse session length as a Duration.
func (c *Config) RebrowseInterval() time.Duration {
	return time.Duration(c.Discovery.RebrowseInterval) * time.Second
}

// StaleTimeout returns the device staleness window as a Duration.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.Discovery.StaleTimeout) * time.Second
}

// RequestTimeout returns the device request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Device.RequestTimeout) * time.Second
}

// ActiveInterval returns the active poll interval as a Duration.
func (c *Config) ActiveInterval() time.Duration {
	return time.Duration(c.Poller.ActiveInterval) * time.Millisecond
}

// IdleInterval returns the idle poll interval as a Duration.
func (c *Config) IdleInterval() time.Duration {
	return time.Duration(c.Poller.IdleInterval) * time.Millisecond
}

// DebounceDelay returns the dispatch debounce delay as a Duration.
func (c *Config) DebounceDelay() time.Duration {
	return time.Duration(c.Dispatch.DebounceDelay) * time.Millisecond
}

// ReadTimeout returns the API read timeout as a Duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
