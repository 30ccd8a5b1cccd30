package redisstream

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/trickstertwo/xbroker"
)

// Option keys understood by ConfigFromOptions. Routes may override
// keyConcurrency and keyStartID per subscription.
const (
	keyAddr            = "addr"
	keyUsername        = "username"
	keyPassword        = "password"
	keyDB              = "db"
	keyTLS             = "tls"
	keyTLSServerName   = "tls_server_name"
	keyGroup           = "group"
	keyConsumer        = "consumer"
	keyConcurrency     = "concurrency"
	keyBatchSize       = "batch_size"
	keyBlock           = "block"
	keyAutoCreate      = "auto_create"
	keyStartID         = "start_id"
	keyAutoDeleteOnAck = "auto_delete_on_ack"
	keyDeadLetter      = "dead_letter"
	keyMaxLenApprox    = "max_len_approx"
	keyClaimMinIdle    = "claim_min_idle"
	keyClaimBatch      = "claim_batch"
	keyClaimInterval   = "claim_interval"
)

// Config describes the Redis connection and how streams are consumed.
type Config struct {
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Group is joined when a route does not name its own.
	Group       string
	Consumer    string
	Concurrency int
	BatchSize   int
	Block       time.Duration
	AutoCreate  bool
	// StartID applies to groups created here: "$" reads new entries only,
	// "0" replays the stream.
	StartID string

	AutoDeleteOnAck bool
	// DeadLetter receives rejected entries. Empty drops them.
	DeadLetter   string
	MaxLenApprox int64

	// Entries pending longer than ClaimMinIdle are taken over every
	// ClaimInterval. Zero ClaimMinIdle disables recovery.
	ClaimMinIdle  time.Duration
	ClaimBatch    int
	ClaimInterval time.Duration
}

// Defaults returns a local-server Config whose consumer name is unique per
// host and process.
func Defaults() Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return Config{
		Addr:          "127.0.0.1:6379",
		Group:         "xbroker",
		Consumer:      host + "-" + strconv.Itoa(os.Getpid()),
		Concurrency:   8,
		BatchSize:     128,
		Block:         5 * time.Second,
		AutoCreate:    true,
		StartID:       "$",
		ClaimBatch:    128,
		ClaimInterval: 15 * time.Second,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	need := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("redisstream: "+format, args...))
		}
	}
	need(c.Addr != "", "%s is required", keyAddr)
	need(c.Group != "", "%s is required", keyGroup)
	need(c.Consumer != "", "%s is required", keyConsumer)
	need(c.Concurrency > 0, "%s must be positive, got %d", keyConcurrency, c.Concurrency)
	need(c.BatchSize > 0, "%s must be positive, got %d", keyBatchSize, c.BatchSize)
	need(c.Block > 0, "%s must be positive, got %v", keyBlock, c.Block)
	need(c.ClaimMinIdle <= 0 || c.ClaimInterval > 0, "%s must be positive when %s is set", keyClaimInterval, keyClaimMinIdle)
	return errors.Join(errs...)
}

// Options is the inverse of ConfigFromOptions.
func (c Config) Options() xbroker.Options {
	return xbroker.Options{
		keyAddr: c.Addr, keyUsername: c.Username, keyPassword: c.Password, keyDB: c.DB,
		keyTLS: c.TLS, keyTLSServerName: c.TLSServerName,
		keyGroup: c.Group, keyConsumer: c.Consumer,
		keyConcurrency: c.Concurrency, keyBatchSize: c.BatchSize, keyBlock: c.Block,
		keyAutoCreate: c.AutoCreate, keyStartID: c.StartID,
		keyAutoDeleteOnAck: c.AutoDeleteOnAck, keyDeadLetter: c.DeadLetter, keyMaxLenApprox: c.MaxLenApprox,
		keyClaimMinIdle: c.ClaimMinIdle, keyClaimBatch: c.ClaimBatch, keyClaimInterval: c.ClaimInterval,
	}
}

// ConfigFromOptions overlays o on Defaults. Sizes and intervals that are
// missing or not positive keep their default.
func ConfigFromOptions(o xbroker.Options) Config {
	c := Defaults()
	positive := func(key string, def int) int {
		if v := o.Int(key, 0); v > 0 {
			return v
		}
		return def
	}
	positiveDur := func(key string, def time.Duration) time.Duration {
		if v := o.Duration(key, 0); v > 0 {
			return v
		}
		return def
	}

	c.Addr = o.String(keyAddr, c.Addr)
	c.Username = o.String(keyUsername, c.Username)
	c.Password = o.String(keyPassword, c.Password)
	c.DB = o.Int(keyDB, c.DB)
	c.TLS = o.Bool(keyTLS, c.TLS)
	c.TLSServerName = o.String(keyTLSServerName, c.TLSServerName)

	c.Group = o.String(keyGroup, c.Group)
	c.Consumer = o.String(keyConsumer, c.Consumer)
	c.Concurrency = positive(keyConcurrency, c.Concurrency)
	c.BatchSize = positive(keyBatchSize, c.BatchSize)
	c.Block = positiveDur(keyBlock, c.Block)
	c.AutoCreate = o.Bool(keyAutoCreate, c.AutoCreate)
	c.StartID = o.String(keyStartID, c.StartID)

	c.AutoDeleteOnAck = o.Bool(keyAutoDeleteOnAck, c.AutoDeleteOnAck)
	c.DeadLetter = o.String(keyDeadLetter, c.DeadLetter)
	if v := o.Int64(keyMaxLenApprox, 0); v > 0 {
		c.MaxLenApprox = v
	}

	c.ClaimMinIdle = o.Duration(keyClaimMinIdle, c.ClaimMinIdle)
	c.ClaimBatch = positive(keyClaimBatch, c.ClaimBatch)
	c.ClaimInterval = positiveDur(keyClaimInterval, c.ClaimInterval)
	return c
}
