package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingDeviceID        = errors.New("device entry is missing device_id")
	ErrMissingServerURL       = errors.New("device entry is missing server_url")
	ErrDuplicateDevice        = errors.New("duplicate device_id")
	ErrUnsupportedConcurrency = errors.New("max_concurrent_tasks_per_device other than 1 is not supported")
)

// Config is the session configuration surface. All options are optional
// and fall back to the documented defaults.
type Config struct {
	HeartbeatIntervalS float64 `yaml:"heartbeat_interval_s"`
	ReconnectDelayS    float64 `yaml:"reconnect_delay_s"`

	// MaxConcurrentTasksPerDevice is fixed at 1: devices execute their
	// queue strictly in order. The option exists so a manifest stating it
	// explicitly validates, and so other values are rejected loudly.
	MaxConcurrentTasksPerDevice int `yaml:"max_concurrent_tasks_per_device"`

	DeviceMaxRetries     int     `yaml:"device_max_retries"`
	ModificationTimeoutS float64 `yaml:"modification_timeout_s"`

	Devices []DeviceConfig `yaml:"devices,omitempty"`
}

// DeviceConfig is one pre-declared device of the fleet.
type DeviceConfig struct {
	DeviceID     string            `yaml:"device_id"`
	ServerURL    string            `yaml:"server_url"`
	OS           string            `yaml:"os,omitempty"`
	Capabilities []string          `yaml:"capabilities,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
	AutoConnect  *bool             `yaml:"auto_connect,omitempty"`
	MaxRetries   int               `yaml:"max_retries,omitempty"`
}

// ShouldAutoConnect reports whether the device is dialed at startup.
// Unset means yes.
func (d *DeviceConfig) ShouldAutoConnect() bool {
	return d.AutoConnect == nil || *d.AutoConnect
}

// Default returns the configuration with every option at its default.
func Default() *Config {
	return &Config{
		HeartbeatIntervalS:          30.0,
		ReconnectDelayS:             5.0,
		MaxConcurrentTasksPerDevice: 1,
		DeviceMaxRetries:            5,
		ModificationTimeoutS:        600.0,
	}
}

// Load reads and validates a YAML configuration file. Unset options keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.HeartbeatIntervalS <= 0 {
		c.HeartbeatIntervalS = d.HeartbeatIntervalS
	}
	if c.ReconnectDelayS <= 0 {
		c.ReconnectDelayS = d.ReconnectDelayS
	}
	if c.MaxConcurrentTasksPerDevice <= 0 {
		c.MaxConcurrentTasksPerDevice = d.MaxConcurrentTasksPerDevice
	}
	if c.DeviceMaxRetries <= 0 {
		c.DeviceMaxRetries = d.DeviceMaxRetries
	}
	if c.ModificationTimeoutS <= 0 {
		c.ModificationTimeoutS = d.ModificationTimeoutS
	}
	for i := range c.Devices {
		if c.Devices[i].MaxRetries <= 0 {
			c.Devices[i].MaxRetries = c.DeviceMaxRetries
		}
	}
}

// Validate checks the option values and the device entries.
func (c *Config) Validate() error {
	if c.MaxConcurrentTasksPerDevice != 1 {
		return fmt.Errorf("%w: got %d", ErrUnsupportedConcurrency, c.MaxConcurrentTasksPerDevice)
	}
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.DeviceID == "" {
			return ErrMissingDeviceID
		}
		if d.ServerURL == "" {
			return fmt.Errorf("%w: %s", ErrMissingServerURL, d.DeviceID)
		}
		if seen[d.DeviceID] {
			return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.DeviceID)
		}
		seen[d.DeviceID] = true
	}
	return nil
}

// HeartbeatInterval returns the option as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalS * float64(time.Second))
}

// ReconnectDelay returns the option as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayS * float64(time.Second))
}

// ModificationTimeout returns the option as a duration.
func (c *Config) ModificationTimeout() time.Duration {
	return time.Duration(c.ModificationTimeoutS * float64(time.Second))
}
