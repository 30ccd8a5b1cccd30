package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/trickstertwo/xbroker"
)

const TransportName = "nats"

var (
	ErrNotConnected = errors.New("nats: not connected")
	ErrClosed       = errors.New("nats: transport is closed")
)

func init() {
	if err := xbroker.RegisterTransport(TransportName, func(cfg xbroker.Options) (xbroker.Transport, error) {
		return NewTransport(ConfigFromOptions(cfg))
	}); err != nil {
		panic(fmt.Errorf("xbroker: failed to register transport %q: %w", TransportName, err))
	}
}

type transport struct {
	cfg Config

	mu   sync.RWMutex
	conn *nats.Conn

	closed    atomic.Bool
	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
	settled   *dispositionMetrics
}

// Stats is a snapshot of transport telemetry.
type Stats struct {
	Published uint64
	Consumed  uint64
	Acked     uint64
	Nacked    uint64
	Rejected  uint64
	// Dropped counts messages the server discarded for slow consumers.
	Dropped uint64
}

func StatsOf(tr xbroker.Transport) (Stats, bool) {
	t, ok := tr.(*transport)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Published: t.published.Load(),
		Consumed:  t.consumed.Load(),
		Acked:     t.settled.acked.Load(),
		Nacked:    t.settled.nacked.Load(),
		Rejected:  t.settled.rejected.Load(),
		Dropped:   t.dropped.Load(),
	}, true
}

func NewTransport(cfg Config) (xbroker.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &transport{cfg: cfg, settled: &dispositionMetrics{}}, nil
}

func (t *transport) Dialect() xbroker.Dialect { return xbroker.DefaultDialect }

func (t *transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil && !t.conn.IsClosed() {
		return nil
	}

	conn, err := nats.Connect(t.cfg.URL,
		nats.Name(t.cfg.Name),
		nats.Timeout(t.cfg.ConnectTimeout),
		nats.MaxReconnects(t.cfg.MaxReconnects),
		nats.ReconnectWait(t.cfg.ReconnectWait),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			if errors.Is(err, nats.ErrSlowConsumer) {
				t.dropped.Add(1)
			}
		}),
	)
	if err != nil {
		return err
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		conn.Close()
		return err
	}
	t.conn = conn
	return nil
}

func (t *transport) connection() (*nats.Conn, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}

// Publish sends msgs to subject dest.Name and flushes once.
func (t *transport) Publish(ctx context.Context, dest xbroker.Destination, msgs ...*xbroker.Message) error {
	conn, err := t.connection()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if err := conn.PublishMsg(toMsg(dest.Name, m)); err != nil {
			return fmt.Errorf("nats: publish %s: %w", dest.Name, err)
		}
		t.published.Add(1)
	}

	if _, ok := ctx.Deadline(); !ok && t.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.FlushTimeout)
		defer cancel()
	}
	return conn.FlushWithContext(ctx)
}

// Subscribe listens on dest.Name, in queue group dest.Group when set.
func (t *transport) Subscribe(ctx context.Context, dest xbroker.Destination, opts xbroker.Options, handler func(xbroker.Delivery)) (xbroker.Subscription, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}

	msgCh := make(chan *nats.Msg, max(1, opts.Int("buffer_size", t.cfg.BufferSize)))
	var sub *nats.Subscription
	if dest.Group != "" {
		sub, err = conn.ChanQueueSubscribe(dest.Name, dest.Group, msgCh)
	} else {
		sub, err = conn.ChanSubscribe(dest.Name, msgCh)
	}
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %s: %w", dest, err)
	}

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	workers := max(1, opts.Int("concurrency", t.cfg.Concurrency))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-innerCtx.Done():
					return
				case m := <-msgCh:
					t.consumed.Add(1)
					handler(&delivery{msg: fromMsg(m), metrics: t.settled})
				}
			}
		}()
	}

	return &subscription{
		close: func() error {
			err := sub.Unsubscribe()
			cancel()
			wg.Wait()
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return nil
			}
			return err
		},
	}, nil
}

// Close closes the connection. Messages still buffered for open
// subscriptions are dropped.
func (t *transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
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
