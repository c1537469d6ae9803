package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Sink names accepted in Config.Sinks.
const (
	SinkBLE  = "ble"
	SinkWS   = "ws"
	SinkMQTT = "mqtt"
	SinkTTY  = "tty"
)

// Sensor drivers accepted in SensorConfig.Driver.
const (
	DriverMAX30102  = "max30102"
	DriverSimulated = "simulated"
)

// Config holds application configuration
type Config struct {
	LogLevel   string           `yaml:"log_level" default:"info"`
	Sinks      []string         `yaml:"sinks"`
	Publish    PublishConfig    `yaml:"publish"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Stream     StreamConfig     `yaml:"stream"`
	Web        WebConfig        `yaml:"web"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Serial     SerialConfig     `yaml:"serial"`
}

// PublishConfig controls the periodic publish cycle.
type PublishConfig struct {
	Interval     time.Duration `yaml:"interval" default:"1s"`
	WindowSize   int           `yaml:"window_size" default:"120"`
	CloseTimeout time.Duration `yaml:"close_timeout" default:"2s"`
}

// SensorConfig selects and tunes the acquisition driver.
type SensorConfig struct {
	Driver       string        `yaml:"driver" default:"max30102"`
	Device       string        `yaml:"device" default:"/dev/i2c-1"`
	Address      uint16        `yaml:"address" default:"87"`
	LEDCurrent   uint8         `yaml:"led_current" default:"36"`
	PollInterval time.Duration `yaml:"poll_interval" default:"10ms"`
	StopTimeout  time.Duration `yaml:"stop_timeout" default:"2s"`
	WarmUp       time.Duration `yaml:"warm_up" default:"0s"`
	Seed         int64         `yaml:"seed" default:"1"`
}

// ChannelConfig maps a characteristic name to its UUID.
type ChannelConfig struct {
	Name string `yaml:"name"`
	UUID string `yaml:"uuid"`
}

type PeripheralConfig struct {
	ServiceUUID string          `yaml:"service_uuid" default:"7436b48e-96ed-4b8f-916d-1f1d25964635"`
	LocalName   string          `yaml:"local_name" default:"PulseBridge"`
	Channels    []ChannelConfig `yaml:"channels"`
}

type StreamConfig struct {
	Listen         string        `yaml:"listen" default:":8765"`
	Path           string        `yaml:"path" default:"/"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" default:"5s"`
	Mailbox        uint32        `yaml:"mailbox" default:"8"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// WebConfig serves the dashboard page. An empty Listen disables it.
type WebConfig struct {
	Listen string `yaml:"listen" default:":8888"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id" default:"pulsebridge"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic" default:"pulsebridge/reading"`
	QoS            uint8         `yaml:"qos" default:"0"`
	Retain         bool          `yaml:"retain" default:"false"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
}

// SerialConfig controls the PTY sink. Link, when set, is a symlink to the slave.
type SerialConfig struct {
	Link       string `yaml:"link"`
	BufferSize int    `yaml:"buffer_size" default:"16384"`
}

// DefaultChannels is the standard characteristic layout.
func DefaultChannels() []ChannelConfig {
	return []ChannelConfig{
		{Name: "BPM", UUID: "74578b1f-1846-4759-ab5a-317cfa5ba6c9"},
		{Name: "SPO2", UUID: "74578b20-1846-4759-ab5a-317cfa5ba6c9"},
		{Name: "HRSTD", UUID: "74578b21-1846-4759-ab5a-317cfa5ba6c9"},
		{Name: "RMSSD", UUID: "74578b22-1846-4759-ab5a-317cfa5ba6c9"},
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Sinks = []string{SinkBLE, SinkWS}
	cfg.Peripheral.Channels = DefaultChannels()
	return cfg
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if len(c.Sinks) == 0 {
		errs = append(errs, errors.New("sinks: at least one sink is required"))
	}
	for _, s := range c.Sinks {
		switch s {
		case SinkBLE, SinkWS, SinkMQTT, SinkTTY:
		default:
			errs = append(errs, fmt.Errorf("sinks: unknown sink %q", s))
		}
	}
	if c.Publish.Interval <= 0 {
		errs = append(errs, errors.New("publish.interval must be positive"))
	}
	if c.Publish.WindowSize <= 0 {
		errs = append(errs, errors.New("publish.window_size must be positive"))
	}
	switch c.Sensor.Driver {
	case DriverMAX30102, DriverSimulated:
	default:
		errs = append(errs, fmt.Errorf("sensor.driver: unknown driver %q", c.Sensor.Driver))
	}
	if c.Sensor.PollInterval <= 0 {
		errs = append(errs, errors.New("sensor.poll_interval must be positive"))
	}
	if c.HasSink(SinkBLE) && len(c.Peripheral.Channels) == 0 {
		errs = append(errs, errors.New("peripheral.channels: at least one channel is required"))
	}
	errs = append(errs, validateChannels(c.Peripheral.Channels)...)
	if c.HasSink(SinkMQTT) && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when the mqtt sink is enabled"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos: %d is not 0, 1 or 2", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}

// validateChannels accepts any subset of the standard channel names, each at
// most once.
func validateChannels(channels []ChannelConfig) []error {
	known := map[string]bool{}
	for _, c := range DefaultChannels() {
		known[c.Name] = true
	}
	var errs []error
	seen := map[string]bool{}
	for _, c := range channels {
		switch {
		case !known[c.Name]:
			errs = append(errs, fmt.Errorf("peripheral.channels: unknown channel %q (must be BPM, SPO2, HRSTD or RMSSD)", c.Name))
		case seen[c.Name]:
			errs = append(errs, fmt.Errorf("peripheral.channels: channel %q listed more than once", c.Name))
		case c.UUID == "":
			errs = append(errs, fmt.Errorf("peripheral.channels: channel %q has no uuid", c.Name))
		}
		seen[c.Name] = true
	}
	return errs
}

// HasSink reports whether name is among the enabled sinks.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// ParseSinks splits a comma-separated sink list, trimming blanks and duplicates.
func ParseSinks(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
