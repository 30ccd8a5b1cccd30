package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xbroker"
)

const TransportName = "redis-streams"

func init() {
	if err := xbroker.RegisterTransport(TransportName, func(cfg xbroker.Options) (xbroker.Transport, error) {
		return NewTransport(ConfigFromOptions(cfg))
	}); err != nil {
		panic(fmt.Errorf("xbroker: failed to register transport %q: %w", TransportName, err))
	}
}

// transport publishes with XADD and consumes with XREADGROUP. Every stream
// is addressed by Destination.Name.
type transport struct {
	cfg     Config
	client  *redis.Client
	closed  atomic.Bool
	metrics counters
}

// counters backs Stats.
type counters struct {
	published, consumed, acked, nacked, rejected, claimed atomic.Uint64
	publishErrors, consumeErrors                          atomic.Uint64
}

// Stats is a snapshot of transport telemetry.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Acked         uint64
	Nacked        uint64
	Rejected      uint64
	Claimed       uint64
	PublishErrors uint64
	ConsumeErrors uint64
}

// StatsOf returns telemetry for a transport created by this package.
func StatsOf(tr xbroker.Transport) (Stats, bool) {
	t, ok := tr.(*transport)
	if !ok {
		return Stats{}, false
	}
	c := &t.metrics
	return Stats{
		Published:     c.published.Load(),
		Consumed:      c.consumed.Load(),
		Acked:         c.acked.Load(),
		Nacked:        c.nacked.Load(),
		Rejected:      c.rejected.Load(),
		Claimed:       c.claimed.Load(),
		PublishErrors: c.publishErrors.Load(),
		ConsumeErrors: c.consumeErrors.Load(),
	}, true
}

// NewTransport validates cfg and creates the client. Nothing is dialed
// until Connect.
func NewTransport(cfg Config) (xbroker.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &transport{cfg: cfg, client: redis.NewClient(cfg.clientOptions())}, nil
}

func (c Config) clientOptions() *redis.Options {
	o := &redis.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if c.TLS {
		o.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.TLSServerName}
	}
	return o
}

func (t *transport) Dialect() xbroker.Dialect { return xbroker.DefaultDialect }

// Connect checks the server answers PING within two seconds.
func (t *transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return redis.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := t.client.Ping(ctx).Err(); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("redisstream: ping %s timed out: %w", t.cfg.Addr, err)
		}
		return fmt.Errorf("redisstream: ping %s: %w", t.cfg.Addr, err)
	}
	return nil
}

// Publish appends msgs to stream dest.Name in one pipeline, trimming it to
// about MaxLenApprox entries when set.
func (t *transport) Publish(ctx context.Context, dest xbroker.Destination, msgs ...*xbroker.Message) error {
	if t.closed.Load() {
		return redis.ErrClosed
	}
	if len(msgs) == 0 {
		return nil
	}

	_, err := t.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, m := range msgs {
			p.XAdd(ctx, &redis.XAddArgs{
				Stream: dest.Name,
				Values: encodeValues(m),
				MaxLen: t.cfg.MaxLenApprox,
				Approx: t.cfg.MaxLenApprox > 0,
			})
		}
		return nil
	})
	n := uint64(len(msgs))
	if err != nil {
		t.metrics.publishErrors.Add(n)
		return fmt.Errorf("redisstream: xadd %s: %w", dest.Name, err)
	}
	t.metrics.published.Add(n)
	return nil
}

type subscription struct {
	close func() error
	once  sync.Once
	err   error
}

func (s *subscription) Close() error {
	s.once.Do(func() { s.err = s.close() })
	return s.err
}

// Subscribe reads dest.Name as a member of group dest.Group (or the
// configured group), creating the group when AutoCreate is set. The
// "concurrency" and "start_id" options override the transport config.
func (t *transport) Subscribe(ctx context.Context, dest xbroker.Destination, opts xbroker.Options, handler func(xbroker.Delivery)) (xbroker.Subscription, error) {
	if t.closed.Load() {
		return nil, redis.ErrClosed
	}
	c, err := t.newConsumer(ctx, dest, opts, handler)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.run(runCtx, max(1, opts.Int(keyConcurrency, t.cfg.Concurrency)))
	}()

	return &subscription{
		close: func() error {
			cancel()
			<-done
			return nil
		},
	}, nil
}

// Close releases the client. Subscriptions should be closed first.
func (t *transport) Close(context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.client.Close()
}
