package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/trickstertwo/xbroker"
)

const TransportName = "kafka"

var ErrClosed = errors.New("kafka: transport is closed")

func init() {
	if err := xbroker.RegisterTransport(TransportName, func(cfg xbroker.Options) (xbroker.Transport, error) {
		return NewTransport(ConfigFromOptions(cfg))
	}); err != nil {
		panic(fmt.Errorf("xbroker: failed to register transport %q: %w", TransportName, err))
	}
}

type transport struct {
	cfg    Config
	writer *kafka.Writer

	closed        atomic.Bool
	published     atomic.Uint64
	consumed      atomic.Uint64
	consumeErrors atomic.Uint64
	settled       *dispositionMetrics
}

// Stats is a snapshot of transport telemetry.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Acked         uint64
	Nacked        uint64
	Rejected      uint64
	ConsumeErrors uint64
}

func StatsOf(tr xbroker.Transport) (Stats, bool) {
	t, ok := tr.(*transport)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Published:     t.published.Load(),
		Consumed:      t.consumed.Load(),
		Acked:         t.settled.acked.Load(),
		Nacked:        t.settled.nacked.Load(),
		Rejected:      t.settled.rejected.Load(),
		ConsumeErrors: t.consumeErrors.Load(),
	}, true
}

func NewTransport(cfg Config) (xbroker.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	acks := kafka.RequireOne
	if cfg.RequireAll {
		acks = kafka.RequireAll
	}
	return &transport{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           acks,
			BatchTimeout:           cfg.BatchTimeout,
			AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
		},
		settled: &dispositionMetrics{},
	}, nil
}

func (t *transport) Dialect() xbroker.Dialect { return xbroker.DefaultDialect }

// Connect checks that the first reachable broker answers.
func (t *transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	dialer := &kafka.Dialer{Timeout: t.cfg.DialTimeout}
	var errs []error
	for _, addr := range t.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("kafka: no broker reachable: %w", errors.Join(errs...))
}

func (t *transport) Publish(ctx context.Context, dest xbroker.Destination, msgs ...*xbroker.Message) error {
	if t.closed.Load() {
		return ErrClosed
	}
	recs := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			recs = append(recs, toRecord(dest.Name, m))
		}
	}
	if len(recs) == 0 {
		return nil
	}
	if err := t.writer.WriteMessages(ctx, recs...); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", dest.Name, err)
	}
	t.published.Add(uint64(len(recs)))
	return nil
}

// Subscribe starts "concurrency" group members for topic dest.Name.
func (t *transport) Subscribe(ctx context.Context, dest xbroker.Destination, opts xbroker.Options, handler func(xbroker.Delivery)) (xbroker.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	group := dest.Group
	if group == "" {
		group = t.cfg.GroupID
	}

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	members := max(1, opts.Int("concurrency", t.cfg.Concurrency))
	readers := make([]*kafka.Reader, 0, members)
	for i := 0; i < members; i++ {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     t.cfg.Brokers,
			GroupID:     group,
			Topic:       dest.Name,
			MinBytes:    t.cfg.MinBytes,
			MaxBytes:    t.cfg.MaxBytes,
			MaxWait:     t.cfg.MaxWait,
			StartOffset: t.cfg.startOffset(),
		})
		readers = append(readers, r)
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.readLoop(innerCtx, r, handler)
		}()
	}

	return &subscription{
		close: func() error {
			cancel()
			wg.Wait()
			var errs []error
			for _, r := range readers {
				errs = append(errs, r.Close())
			}
			return errors.Join(errs...)
		},
	}, nil
}

func (t *transport) readLoop(ctx context.Context, r *kafka.Reader, handler func(xbroker.Delivery)) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		rec, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			t.consumeErrors.Add(1)
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 100 * time.Millisecond
		t.consumed.Add(1)

		handler(&delivery{
			msg:     fromRecord(rec),
			commit:  func(ctx context.Context) error { return r.CommitMessages(ctx, rec) },
			metrics: t.settled,
		})
	}
}

func (t *transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.writer.Close()
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
