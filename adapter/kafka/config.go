package kafka

import (
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/trickstertwo/xbroker"
)

type Config struct {
	Brokers     []string
	GroupID     string
	DialTimeout time.Duration

	// Consumers
	Concurrency int
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
	// StartOffset applies to groups without committed offsets: "first" or "last".
	StartOffset string

	// Producer
	BatchTimeout           time.Duration
	RequireAll             bool
	AllowAutoTopicCreation bool
}

func Defaults() Config {
	return Config{
		Brokers:                []string{"127.0.0.1:9092"},
		GroupID:                "xbroker",
		DialTimeout:            5 * time.Second,
		Concurrency:            1,
		MinBytes:               1,
		MaxBytes:               10e6,
		MaxWait:                time.Second,
		StartOffset:            "last",
		BatchTimeout:           10 * time.Millisecond,
		RequireAll:             true,
		AllowAutoTopicCreation: true,
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("config: at least one broker required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("config: group_id required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.StartOffset != "first" && c.StartOffset != "last" {
		return fmt.Errorf("config: start_offset must be first or last, got %q", c.StartOffset)
	}
	return nil
}

func (c Config) startOffset() int64 {
	if c.StartOffset == "first" {
		return kafka.FirstOffset
	}
	return kafka.LastOffset
}

func (c Config) Options() xbroker.Options {
	return xbroker.Options{
		"brokers":                   c.Brokers,
		"group_id":                  c.GroupID,
		"dial_timeout":              c.DialTimeout,
		"concurrency":               c.Concurrency,
		"min_bytes":                 c.MinBytes,
		"max_bytes":                 c.MaxBytes,
		"max_wait":                  c.MaxWait,
		"start_offset":              c.StartOffset,
		"batch_timeout":             c.BatchTimeout,
		"require_all":               c.RequireAll,
		"allow_auto_topic_creation": c.AllowAutoTopicCreation,
	}
}

func ConfigFromOptions(o xbroker.Options) Config {
	c := Defaults()
	if bs := o.Strings("brokers"); len(bs) > 0 {
		c.Brokers = bs
	}
	c.GroupID = o.String("group_id", c.GroupID)
	c.DialTimeout = o.Duration("dial_timeout", c.DialTimeout)
	if v := o.Int("concurrency", 0); v > 0 {
		c.Concurrency = v
	}
	if v := o.Int("min_bytes", 0); v > 0 {
		c.MinBytes = v
	}
	if v := o.Int("max_bytes", 0); v > 0 {
		c.MaxBytes = v
	}
	c.MaxWait = o.Duration("max_wait", c.MaxWait)
	c.StartOffset = o.String("start_offset", c.StartOffset)
	c.BatchTimeout = o.Duration("batch_timeout", c.BatchTimeout)
	c.RequireAll = o.Bool("require_all", c.RequireAll)
	c.AllowAutoTopicCreation = o.Bool("allow_auto_topic_creation", c.AllowAutoTopicCreation)
	return c
}
