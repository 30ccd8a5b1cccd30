package memory

import (
	"time"

	"github.com/trickstertwo/xbroker"
)

// Config controls memory transport behavior.
type Config struct {
	// BufferSize is the per-group queue size (default: 1024).
	BufferSize int
	// Concurrency is the default number of concurrent handlers per subscription (default: 1).
	// A route can override it with the "concurrency" option.
	Concurrency int
	// RedeliveryDelay is the delay before re-enqueuing a message on Nack (default: 0 = immediate).
	RedeliveryDelay time.Duration
	// AssignIDs instructs the transport to assign IDs for messages with empty ID (default: true).
	AssignIDs bool
}

// Defaults returns the default memory configuration.
func Defaults() Config {
	return Config{
		BufferSize:  1024,
		Concurrency: 1,
		AssignIDs:   true,
	}
}

// ConfigFromOptions reads a generic option map, falling back to Defaults.
func ConfigFromOptions(o xbroker.Options) Config {
	d := Defaults()
	return Config{
		BufferSize:      max(1, o.Int("buffer_size", d.BufferSize)),
		Concurrency:     max(1, o.Int("concurrency", d.Concurrency)),
		RedeliveryDelay: o.Duration("redelivery_delay", d.RedeliveryDelay),
		AssignIDs:       o.Bool("assign_ids", d.AssignIDs),
	}
}

// Options converts Config to the generic map expected by the transport factory.
func (c Config) Options() xbroker.Options {
	return xbroker.Options{
		"buffer_size":      c.BufferSize,
		"concurrency":      c.Concurrency,
		"redelivery_delay": c.RedeliveryDelay,
		"assign_ids":       c.AssignIDs,
	}
}
