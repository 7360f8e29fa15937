package config

import "time"

// CurrentVersion is the config file format version this build reads and writes.
const CurrentVersion = 1

// Config holds user settings. Zero values are replaced by defaults on load.
type Config struct {
	Version int `yaml:"version"`

	// DevicePort is the port of the device agent
	DevicePort int `yaml:"device_port"`

	// ProbeTimeout bounds a single GET /api/device
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// PrecheckTimeout bounds each TCP dial of a port sweep
	PrecheckTimeout time.Duration `yaml:"precheck_timeout"`

	// ConnectTimeout bounds opening a telemetry stream
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// MaxEvents caps each channel buffer (0 keeps everything)
	MaxEvents int `yaml:"max_events"`

	// DataDir overrides the directory holding devices.json
	DataDir string `yaml:"data_dir,omitempty"`

	// RelayListen is the address the relay server binds to
	RelayListen string `yaml:"relay_listen"`

	// LogLevel is used when neither --log-level nor PUREMOTE_LOG_LEVEL is set
	LogLevel string `yaml:"log_level,omitempty"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Version:         CurrentVersion,
		DevicePort:      9012,
		ProbeTimeout:    time.Second,
		PrecheckTimeout: 2 * time.Second,
		ConnectTimeout:  5 * time.Second,
		MaxEvents:       0,
		RelayListen:     "127.0.0.1:9013",
	}
}

// applyDefaults fills fields left zero or invalid in a loaded file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.DevicePort <= 0 || c.DevicePort > 65535 {
		c.DevicePort = d.DevicePort
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.PrecheckTimeout <= 0 {
		c.PrecheckTimeout = d.PrecheckTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxEvents < 0 {
		c.MaxEvents = 0
	}
	if c.RelayListen == "" {
		c.RelayListen = d.RelayListen
	}
}
