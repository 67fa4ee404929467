// Package config provides the configuration of the bridge daemon
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fako1024/cgmbridge/pkg/kvstore"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverSQLite = kvstore.DriverSQLite
	DriverMemory = kvstore.DriverMemory
)

// BLE adapters
const (
	AdapterGatt   = "gatt"
	AdapterTinyGo = "tinygo"
	AdapterMock   = "mock"
)

// Config holds the complete daemon configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// Source tag of the companion app (readings tagged otherwise are ignored, empty: accept all)
	Source string `yaml:"source" default:"xDrip"`

	SharedStore StoreConfig     `yaml:"shared_store"`
	LocalStore  StoreConfig     `yaml:"local_store"`
	Poll        PollConfig      `yaml:"poll"`
	Heartbeat   HeartbeatConfig `yaml:"heartbeat"`
	API         APIConfig       `yaml:"api"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
}

// StoreConfig holds the settings of a key/value store
type StoreConfig struct {
	Driver string `yaml:"driver" default:"sqlite"`
	Path   string `yaml:"path"`
}

// PollConfig holds the settings of the polling bridge
type PollConfig struct {
	MinInterval   time.Duration `yaml:"min_interval" default:"55s"`
	Backfill      time.Duration `yaml:"backfill" default:"30m"`
	Interval      time.Duration `yaml:"interval" default:"1m"`
	IdentityCheck time.Duration `yaml:"identity_check" default:"30s"`
}

// HeartbeatConfig holds the settings of the heartbeat transmitter
type HeartbeatConfig struct {
	Enabled   bool   `yaml:"enabled" default:"true"`
	Adapter   string `yaml:"adapter" default:"gatt"`
	HCIDevice int    `yaml:"hci_device" default:"-1"`

	// Interval of simulated notifications (mock adapter only)
	MockInterval time.Duration `yaml:"mock_interval" default:"5m"`
}

// APIConfig holds the settings of the REST API (empty listen address: disabled)
type APIConfig struct {
	Listen string `yaml:"listen" default:"127.0.0.1:8080"`
}

// MQTTConfig holds the settings of the MQTT publisher (empty broker: disabled)
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id" default:"cgmbridge"`
	Topic    string `yaml:"topic" default:"cgmbridge"`
}

// DefaultDataDir returns the default directory of the local store
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "cgmbridge")
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "cgmbridge", "config.yaml")
}

// Default returns a Config with all default values
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)

	cfg.SharedStore.Path = filepath.Join(DefaultDataDir(), "appgroup.db")
	cfg.LocalStore.Path = filepath.Join(DefaultDataDir(), "local.db")

	return cfg
}

// Load reads and parses a YAML config file. Missing fields are filled with defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.SharedStore.Path = expandTilde(cfg.SharedStore.Path)
	cfg.LocalStore.Path = expandTilde(cfg.LocalStore.Path)

	return cfg, nil
}

// Validate checks the config for invalid values
func (c *Config) Validate() error {

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	for name, store := range map[string]StoreConfig{
		"shared_store": c.SharedStore,
		"local_store":  c.LocalStore,
	} {
		switch store.Driver {
		case DriverSQLite:
			if store.Path == "" {
				return fmt.Errorf("%s.path must not be empty for driver %q", name, DriverSQLite)
			}
		case DriverMemory:
		default:
			return fmt.Errorf("%s.driver must be %q or %q, got %q", name, DriverSQLite, DriverMemory, store.Driver)
		}
	}

	if c.Poll.MinInterval < 0 {
		return fmt.Errorf("poll.min_interval must be >= 0")
	}
	if c.Poll.Backfill <= 0 {
		return fmt.Errorf("poll.backfill must be > 0")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be > 0")
	}
	if c.Poll.IdentityCheck <= 0 {
		return fmt.Errorf("poll.identity_check must be > 0")
	}

	switch c.Heartbeat.Adapter {
	case AdapterGatt, AdapterTinyGo:
	case AdapterMock:
		if c.Heartbeat.MockInterval <= 0 {
			return fmt.Errorf("heartbeat.mock_interval must be > 0")
		}
	default:
		return fmt.Errorf("heartbeat.adapter must be %q, %q or %q, got %q", AdapterGatt, AdapterTinyGo, AdapterMock, c.Heartbeat.Adapter)
	}

	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic must not be empty if a broker is configured")
	}

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
