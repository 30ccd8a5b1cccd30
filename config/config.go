// Package config loads xbroker application settings from YAML.
//
//	log:
//	  level: info
//	  lifecycle_level: info
//	app:
//	  signals: [SIGINT, SIGTERM]
//	  command_line:
//	    env: prod
//	broker:
//	  type: redis-streams
//	  codec: json
//	  ack_timeout: 5s
//	  options:
//	    addr: 127.0.0.1:6379
//	    group: billing
package config

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/trickstertwo/xbroker"
)

// Config is the root configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	App    AppConfig    `yaml:"app"`
	Broker BrokerConfig `yaml:"broker"`
}

type LogConfig struct {
	// Level is the global zerolog level.
	Level string `yaml:"level"`
	// LifecycleLevel is the level of App startup/shutdown lines.
	LifecycleLevel string `yaml:"lifecycle_level"`
}

type AppConfig struct {
	// Signals that stop the app. An explicit empty list disables signal handling.
	Signals     []string       `yaml:"signals"`
	CommandLine map[string]any `yaml:"command_line"`
}

type BrokerConfig struct {
	Type            string         `yaml:"type"`
	Codec           string         `yaml:"codec"`
	AckTimeout      time.Duration  `yaml:"ack_timeout"`
	ObserverWorkers int            `yaml:"observer_workers"`
	ObserverBuffer  int            `yaml:"observer_buffer"`
	Options         map[string]any `yaml:"options"`
}

var signalNames = map[string]os.Signal{
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
}

// Default returns a config for the in-memory transport.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:          "info",
			LifecycleLevel: "info",
		},
		App: AppConfig{
			Signals: []string{"SIGINT", "SIGTERM"},
		},
		Broker: BrokerConfig{
			Type:            "memory",
			Codec:           "json",
			AckTimeout:      5 * time.Second,
			ObserverWorkers: 4,
			ObserverBuffer:  1000,
		},
	}
}

// Load reads filename over Default. An empty or missing file yields the defaults.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid. Transport names are checked
// when the bus is built, since adapters register themselves on import.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.Log.LifecycleLevel); err != nil {
		return fmt.Errorf("log.lifecycle_level: %w", err)
	}
	for _, s := range c.App.Signals {
		if _, ok := signalNames[strings.ToUpper(s)]; !ok {
			return fmt.Errorf("app.signals: unknown signal %q", s)
		}
	}
	if c.Broker.Type == "" {
		return fmt.Errorf("broker.type cannot be empty")
	}
	if c.Broker.Codec == "" {
		return fmt.Errorf("broker.codec cannot be empty")
	}
	if c.Broker.AckTimeout < 0 {
		return fmt.Errorf("broker.ack_timeout cannot be negative")
	}
	if c.Broker.ObserverWorkers > 0 && c.Broker.ObserverBuffer < 1 {
		return fmt.Errorf("broker.observer_buffer must be >= 1 when observer_workers is set")
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyLogLevel sets the global zerolog level.
func (l LogConfig) ApplyLogLevel() {
	lvl, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

func (a AppConfig) signals() []os.Signal {
	out := make([]os.Signal, 0, len(a.Signals))
	for _, s := range a.Signals {
		if sig, ok := signalNames[strings.ToUpper(s)]; ok {
			out = append(out, sig)
		}
	}
	return out
}

// AppOptions converts the app section to App options.
func (c *Config) AppOptions() []xbroker.AppOption {
	return []xbroker.AppOption{xbroker.WithSignals(c.App.signals()...)}
}

// RunOptions converts the log and app sections to Run options.
func (c *Config) RunOptions() []xbroker.RunOption {
	lvl, err := zerolog.ParseLevel(c.Log.LifecycleLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return []xbroker.RunOption{
		xbroker.WithRunLogLevel(lvl),
		xbroker.WithCommandLine(xbroker.Options(c.App.CommandLine)),
	}
}

// Builder returns a BusBuilder for the configured transport. The adapter
// package for Type must be imported for its registration to run.
func (b BrokerConfig) Builder() *xbroker.BusBuilder {
	return xbroker.NewBusBuilder().
		WithTransport(b.Type, xbroker.Options(b.Options)).
		WithCodec(b.Codec).
		WithAckTimeout(b.AckTimeout).
		WithObserverPool(b.ObserverWorkers, b.ObserverBuffer)
}
