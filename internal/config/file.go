package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitaminmoo/pressuremon/internal/ble"
)

// Host modes select which transport backend is used.
const (
	HostAuto   = "auto"
	HostWeb    = "web"
	HostNative = "native"
)

// PlatformEnv marks the process as running inside the packaged native shell
// when set to "native".
const PlatformEnv = "PRESSUREMON_PLATFORM"

// DeviceConfig holds pairing defaults.
type DeviceConfig struct {
	Adapter          string        `yaml:"adapter"` // BlueZ adapter for the native bridge
	NamePrefix       string        `yaml:"name_prefix"`
	OptionalServices []string      `yaml:"optional_services,omitempty"`
	ScanTimeout      time.Duration `yaml:"scan_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// Config is the top-level application configuration.
type Config struct {
	Host   string       `yaml:"host"` // auto, web, native
	Device DeviceConfig `yaml:"device"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Host: HostAuto,
		Device: DeviceConfig{
			Adapter:     "hci0",
			NamePrefix:  ble.DefaultNamePrefix,
			ScanTimeout: 10 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Path returns the default config file location.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "pressuremon", "config.yaml")
}

// Load reads the config file at path on top of the defaults and applies
// PRESSUREMON_* environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PRESSUREMON_HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := os.LookupEnv("PRESSUREMON_NAME_PREFIX"); ok {
		cfg.Device.NamePrefix = v
	}
	if v := os.Getenv("PRESSUREMON_SCAN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PRESSUREMON_SCAN_TIMEOUT %q: %w", v, err)
		}
		cfg.Device.ScanTimeout = d
	}
	if v := os.Getenv("PRESSUREMON_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PRESSUREMON_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	return nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	c.Host = strings.ToLower(c.Host)
	switch c.Host {
	case "":
		c.Host = HostAuto
	case HostAuto, HostWeb, HostNative:
	default:
		return fmt.Errorf("invalid host %q (want auto, web or native)", c.Host)
	}
	if c.Device.ScanTimeout < 0 {
		return fmt.Errorf("scan_timeout must not be negative")
	}
	return nil
}

// NativeShell reports whether the transport should use the native bridge.
// It is re-evaluated on every call so environment changes are picked up.
func (c *Config) NativeShell() bool {
	switch c.Host {
	case HostNative:
		return true
	case HostWeb:
		return false
	default:
		return strings.EqualFold(os.Getenv(PlatformEnv), HostNative)
	}
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
