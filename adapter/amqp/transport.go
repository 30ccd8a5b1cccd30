package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/trickstertwo/xbroker"
)

const TransportName = "amqp"

var (
	ErrNotConnected = errors.New("amqp: not connected")
	ErrClosed       = errors.New("amqp: transport is closed")
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

	mu   sync.Mutex
	conn *amqp091.Connection
	// pub is shared by all publishers; amqp channels are not safe for concurrent use.
	pub       *amqp091.Channel
	exchanges map[string]bool

	closed  atomic.Bool
	tagSeq  atomic.Uint64
	metrics *transportMetrics
}

type transportMetrics struct {
	published atomic.Uint64
	consumed  atomic.Uint64
	acked     atomic.Uint64
	nacked    atomic.Uint64
	rejected  atomic.Uint64
}

// Stats is a snapshot of transport telemetry.
type Stats struct {
	Published uint64
	Consumed  uint64
	Acked     uint64
	Nacked    uint64
	Rejected  uint64
}

func StatsOf(tr xbroker.Transport) (Stats, bool) {
	t, ok := tr.(*transport)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Published: t.metrics.published.Load(),
		Consumed:  t.metrics.consumed.Load(),
		Acked:     t.metrics.acked.Load(),
		Nacked:    t.metrics.nacked.Load(),
		Rejected:  t.metrics.rejected.Load(),
	}, true
}

func NewTransport(cfg Config) (xbroker.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &transport{
		cfg:       cfg,
		exchanges: make(map[string]bool),
		metrics:   &transportMetrics{},
	}, nil
}

func (t *transport) Dialect() xbroker.Dialect { return Dialect }

// Connect dials the broker and opens the publishing channel.
func (t *transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil && !t.conn.IsClosed() {
		return nil
	}

	dialer := &net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := amqp091.DialConfig(t.cfg.URL, amqp091.Config{
		Heartbeat: t.cfg.Heartbeat,
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	t.conn, t.pub = conn, ch
	t.exchanges = make(map[string]bool)
	return nil
}

func (t *transport) Publish(ctx context.Context, dest xbroker.Destination, msgs ...*xbroker.Message) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pub == nil {
		return ErrNotConnected
	}

	if dest.Exchange != "" && !t.exchanges[dest.Exchange] {
		if err := t.declareExchange(t.pub, dest); err != nil {
			return err
		}
		t.exchanges[dest.Exchange] = true
	}

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if err := t.pub.PublishWithContext(ctx, dest.Exchange, dest.Name, t.cfg.Mandatory, false, toPublishing(m, t.cfg.Persistent)); err != nil {
			return fmt.Errorf("amqp: publish %s: %w", dest, err)
		}
		t.metrics.published.Add(1)
	}
	return nil
}

// Subscribe declares the queue (and exchange binding) on a dedicated channel
// and consumes it with "concurrency" workers. Per-route options: "prefetch",
// "concurrency", "routing_key".
func (t *transport) Subscribe(ctx context.Context, dest xbroker.Destination, opts xbroker.Options, handler func(xbroker.Delivery)) (xbroker.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	fail := func(err error) (xbroker.Subscription, error) {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp: subscribe %s: %w", dest, err)
	}

	if prefetch := opts.Int("prefetch", t.cfg.Prefetch); prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fail(err)
		}
	}
	if _, err := ch.QueueDeclare(dest.Name, t.cfg.Durable, t.cfg.AutoDelete, false, false, nil); err != nil {
		return fail(err)
	}
	if dest.Exchange != "" {
		if err := t.declareExchange(ch, dest); err != nil {
			return fail(err)
		}
		key := opts.String("routing_key", dest.Name)
		if err := ch.QueueBind(dest.Name, key, dest.Exchange, false, nil); err != nil {
			return fail(err)
		}
	}

	tag := consumerTag(dest, t.tagSeq.Add(1))
	deliveries, err := ch.Consume(dest.Name, tag, false, false, false, false, nil)
	if err != nil {
		return fail(err)
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
				case raw, ok := <-deliveries:
					if !ok {
						return
					}
					t.metrics.consumed.Add(1)
					handler(newDelivery(raw, t.metrics))
				}
			}
		}()
	}

	return &subscription{
		close: func() error {
			err := ch.Cancel(tag, false)
			cancel()
			wg.Wait()
			// unacked deliveries go back to the queue
			return errors.Join(err, ch.Close())
		},
	}, nil
}

func (t *transport) declareExchange(ch *amqp091.Channel, dest xbroker.Destination) error {
	kind := dest.ExchangeKind
	if kind == "" {
		kind = t.cfg.ExchangeKind
	}
	if err := ch.ExchangeDeclare(dest.Exchange, kind, t.cfg.Durable, t.cfg.AutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare exchange %q: %w", dest.Exchange, err)
	}
	return nil
}

func (t *transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.pub != nil {
		errs = append(errs, t.pub.Close())
		t.pub = nil
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
		t.conn = nil
	}
	return errors.Join(errs...)
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

func consumerTag(dest xbroker.Destination, seq uint64) string {
	base := dest.Name
	if dest.Group != "" {
		base = dest.Group
	}
	return "xbroker-" + base + "-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(seq, 10)
}
