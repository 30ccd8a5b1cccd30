package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/trickstertwo/xbroker"
)

const TransportName = "memory"

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("memory transport is closed")

func init() {
	if err := xbroker.RegisterTransport(TransportName, func(cfg xbroker.Options) (xbroker.Transport, error) {
		return NewTransport(ConfigFromOptions(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xbroker/memory: failed to register transport: %w", err))
	}
}

// Transport moves messages between goroutines of one process. Each consumer
// group of a topic gets every message; inside a group exactly one
// subscriber handles it. Nothing survives Close.
type Transport struct {
	cfg Config

	mu     sync.RWMutex
	topics map[string]map[string]*group // topic -> group name -> queue

	closed  atomic.Bool
	metrics transportMetrics
}

type transportMetrics struct {
	published   atomic.Uint64
	consumed    atomic.Uint64
	acked       atomic.Uint64
	nacked      atomic.Uint64
	rejected    atomic.Uint64
	redelivered atomic.Uint64
}

// group is the queue shared by all subscribers of one consumer group.
type group struct {
	queue chan *xbroker.Message
}

var _ xbroker.Transport = (*Transport)(nil)

// NewTransport creates a transport. Zero BufferSize and Concurrency take
// their defaults.
func NewTransport(cfg Config) *Transport {
	d := Defaults()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = d.BufferSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = d.Concurrency
	}
	return &Transport{
		cfg:    cfg,
		topics: make(map[string]map[string]*group),
	}
}

func (t *Transport) Dialect() xbroker.Dialect { return xbroker.DefaultDialect }

// Connect only fails once the transport is closed.
func (t *Transport) Connect(context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Publish queues msgs for every consumer group of dest.Name, blocking while
// a group queue is full. A topic nobody subscribed to drops them.
func (t *Transport) Publish(ctx context.Context, dest xbroker.Destination, msgs ...*xbroker.Message) error {
	if t.closed.Load() {
		return ErrClosed
	}
	groups := t.groupsOf(dest.Name)
	if len(groups) == 0 {
		return nil
	}

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if t.cfg.AssignIDs && m.ID == "" {
			m.ID = uuid.NewString()
		}
		for _, g := range groups {
			select {
			case g.queue <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		t.metrics.published.Add(1)
	}
	return nil
}

func (t *Transport) groupsOf(topic string) []*group {
	t.mu.RLock()
	defer t.mu.RUnlock()
	groups := make([]*group, 0, len(t.topics[topic]))
	for _, g := range t.topics[topic] {
		groups = append(groups, g)
	}
	return groups
}

// join returns the queue of the named group, creating topic and group on
// first use.
func (t *Transport) join(topic, name string) *group {
	t.mu.Lock()
	defer t.mu.Unlock()
	groups, ok := t.topics[topic]
	if !ok {
		groups = make(map[string]*group)
		t.topics[topic] = groups
	}
	g, ok := groups[name]
	if !ok {
		g = &group{queue: make(chan *xbroker.Message, t.cfg.BufferSize)}
		groups[name] = g
	}
	return g
}

// Subscribe joins consumer group dest.Group of topic dest.Name. Handlers run
// on an ants pool sized by the "concurrency" option.
func (t *Transport) Subscribe(ctx context.Context, dest xbroker.Destination, opts xbroker.Options, handler func(xbroker.Delivery)) (xbroker.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	g := t.join(dest.Name, dest.Group)

	pool, err := ants.NewPool(max(1, opts.Int("concurrency", t.cfg.Concurrency)))
	if err != nil {
		return nil, fmt.Errorf("memory: worker pool: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.dispatch(runCtx, g, pool, handler)
	}()

	return &subscription{
		close: func() error {
			cancel()
			<-done
			// in-flight handlers finish
			return pool.ReleaseTimeout(5 * time.Second)
		},
	}, nil
}

// dispatch feeds the group queue into the pool. Submit blocks while every
// worker is busy, so the queue stays the only buffer.
func (t *Transport) dispatch(ctx context.Context, g *group, pool *ants.Pool, handler func(xbroker.Delivery)) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-g.queue:
			t.metrics.consumed.Add(1)
			d := &delivery{t: t, g: g, msg: m}
			if err := pool.Submit(func() { handler(d) }); err != nil {
				// pool released underneath us; another subscriber of the group takes it
				g.requeue(m)
				return
			}
		}
	}
}

// requeue puts m back without blocking the caller.
func (g *group) requeue(m *xbroker.Message) {
	select {
	case g.queue <- m:
	default:
		go func() {
			select {
			case g.queue <- m:
			case <-time.After(time.Minute):
			}
		}()
	}
}

// Close drops every topic. Subscriptions stop when closed or when their
// context ends.
func (t *Transport) Close(context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	clear(t.topics)
	t.mu.Unlock()
	return nil
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Published   uint64
	Consumed    uint64
	Acked       uint64
	Nacked      uint64
	Rejected    uint64
	Redelivered uint64
}

func (t *Transport) Stats() Stats {
	m := &t.metrics
	return Stats{
		Published:   m.published.Load(),
		Consumed:    m.consumed.Load(),
		Acked:       m.acked.Load(),
		Nacked:      m.nacked.Load(),
		Rejected:    m.rejected.Load(),
		Redelivered: m.redelivered.Load(),
	}
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
