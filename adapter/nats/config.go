package nats

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xbroker"
)

type Config struct {
	URL            string
	Name           string
	ConnectTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
	FlushTimeout   time.Duration

	// BufferSize is the per-subscription pending channel size.
	BufferSize  int
	Concurrency int
}

func Defaults() Config {
	return Config{
		URL:            "nats://127.0.0.1:4222",
		Name:           "xbroker",
		ConnectTimeout: 5 * time.Second,
		MaxReconnects:  60,
		ReconnectWait:  2 * time.Second,
		FlushTimeout:   time.Second,
		BufferSize:     256,
		Concurrency:    4,
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url required")
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("config: buffer_size must be >= 1, got %d", c.BufferSize)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	return nil
}

func (c Config) Options() xbroker.Options {
	return xbroker.Options{
		"url":             c.URL,
		"name":            c.Name,
		"connect_timeout": c.ConnectTimeout,
		"max_reconnects":  c.MaxReconnects,
		"reconnect_wait":  c.ReconnectWait,
		"flush_timeout":   c.FlushTimeout,
		"buffer_size":     c.BufferSize,
		"concurrency":     c.Concurrency,
	}
}

func ConfigFromOptions(o xbroker.Options) Config {
	c := Defaults()
	c.URL = o.String("url", c.URL)
	c.Name = o.String("name", c.Name)
	c.ConnectTimeout = o.Duration("connect_timeout", c.ConnectTimeout)
	c.MaxReconnects = o.Int("max_reconnects", c.MaxReconnects)
	c.ReconnectWait = o.Duration("reconnect_wait", c.ReconnectWait)
	c.FlushTimeout = o.Duration("flush_timeout", c.FlushTimeout)
	if v := o.Int("buffer_size", 0); v > 0 {
		c.BufferSize = v
	}
	if v := o.Int("concurrency", 0); v > 0 {
		c.Concurrency = v
	}
	return c
}
