package xbroker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ HealthChecker = (*Bus)(nil)

// Bus is the Broker implementation: it drives one Transport and materializes
// the routes and publishers declared on its root Router.
//
// Routers included before Start are subscribed by Start; routes added after
// Start are subscribed immediately.
type Bus struct {
	*Router

	transport    Transport
	codec        Codec
	clock        xclock.Clock
	logger       *xlog.Logger
	middlewares  []Middleware
	ackTimeout   time.Duration
	observerPool *ObserverPool
	observers    observerSet
	metrics      *busCounters
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error

	mu         sync.Mutex
	started    bool
	baseCtx    context.Context
	cancel     context.CancelFunc
	subs       []Subscription
	subscribed int
}

// busCounters back GetMetrics. avgNanos is a moving average.
type busCounters struct {
	published, consumed, acked, nacked, rejected, replied, failed atomic.Uint64
	avgNanos                                                      atomic.Int64
}

// Codec returns the codec payloads are encoded with.
func (b *Bus) Codec() Codec { return b.codec }

// Transport returns the underlying transport.
func (b *Bus) Transport() Transport { return b.transport }

// Start connects the transport and subscribes every registered route.
func (b *Bus) Start(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrBusStarted
	}
	b.mu.Unlock()

	if err := b.transport.Connect(ctx); err != nil {
		return fmt.Errorf("xbroker: connect: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrBusClosed
	}
	// Subscriptions outlive the caller's ctx; Close ends them.
	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.baseCtx = InjectAll(life, b, b.codec, b.logger, b.clock)
	b.cancel = cancel
	b.started = true
	return b.syncLocked()
}

// syncLocked subscribes routes registered since the last sync.
func (b *Bus) syncLocked() error {
	routes := b.Routes()
	for ; b.subscribed < len(routes); b.subscribed++ {
		rt := routes[b.subscribed]
		sub, err := b.subscribeRoute(rt)
		if err != nil {
			return fmt.Errorf("xbroker: subscribe %s: %w", rt.dest, err)
		}
		b.subs = append(b.subs, sub)
		b.logger.Debug().Str("dest", rt.dest.String()).Msg("xbroker: subscribed")
	}
	return nil
}

func (b *Bus) onRoute(Route) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.closed.Load() {
		return
	}
	if err := b.syncLocked(); err != nil {
		b.metrics.failed.Add(1)
		b.logger.Warn().Err(err).Msg("xbroker: late subscribe failed")
	}
}

func (b *Bus) subscribeRoute(rt Route) (Subscription, error) {
	// Recovery sits closest to the handler so middlewares see panics as errors.
	base := RecoveryMiddleware()(rt.handler.Call)
	wh := Chain(base, b.middlewares...)
	dest := rt.dest

	return b.transport.Subscribe(b.baseCtx, dest, rt.opts, func(d Delivery) {
		b.handle(dest, wh, d)
	})
}

// handle runs one delivery through the handler chain and settles it.
func (b *Bus) handle(dest Destination, h HandlerFunc, d Delivery) {
	env := NewEnvelope(d, dest, b.codec)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn().Str("dest", dest.String()).Msg("xbroker: handler panic (recovered)")
			b.metrics.failed.Add(1)
			// a no-op when the envelope was already settled
			_ = env.Nack(context.Background(), panicError(r))
		}
	}()

	b.metrics.consumed.Add(1)
	hctx := b.baseCtx

	b.notifyAsync(Event{Type: ConsumeStart, Dest: dest, MessageID: env.MessageID})

	start := b.clock.Now()
	res, err := h(hctx, env)
	if err == nil && res != nil && env.ReplyTo != "" {
		if rerr := b.reply(hctx, env, res); rerr != nil {
			err = fmt.Errorf("xbroker: reply to %s: %w", env.ReplyTo, rerr)
		}
	}
	took := b.since(start)

	b.notifyAsync(Event{Type: ConsumeDone, Dest: dest, MessageID: env.MessageID, Duration: took, Err: err})

	if env.Processed() {
		// the handler settled the message itself
		return
	}
	b.settle(hctx, env, err)
}

func (b *Bus) reply(ctx context.Context, env *Envelope, res any) error {
	err := b.Publish(ctx, res, Destination{Name: env.ReplyTo}, WithCorrelationID(env.CorrelationID))
	if err == nil {
		b.metrics.replied.Add(1)
		b.notifyAsync(Event{Type: Reply, Dest: Destination{Name: env.ReplyTo}, MessageID: env.MessageID})
	}
	return err
}

// settle acks on success, rejects on ErrReject and nacks otherwise,
// bounded by the configured ack timeout.
func (b *Bus) settle(ctx context.Context, env *Envelope, cause error) {
	actx := ctx
	cancel := func() {}
	if b.ackTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, b.ackTimeout)
	}
	defer cancel()

	var (
		typ EventType
		err error
	)
	switch {
	case cause == nil:
		typ = Ack
		b.metrics.acked.Add(1)
		err = env.Ack(actx)
	case errors.Is(cause, ErrReject):
		typ = RejectEvent
		b.metrics.rejected.Add(1)
		err = env.Reject(actx, cause)
	default:
		typ = Nack
		b.metrics.nacked.Add(1)
		err = env.Nack(actx, cause)
	}

	if err != nil {
		b.metrics.failed.Add(1)
		b.notifyAsync(Event{Type: Error, Dest: env.Destination, MessageID: env.MessageID, Err: err})
		b.logger.Warn().Err(err).Str("disposition", string(typ)).Msg("xbroker: settle failed")
		return
	}
	b.notifyAsync(Event{Type: typ, Dest: env.Destination, MessageID: env.MessageID, Err: cause})
}

// Publish encodes payload and sends it to dest.
// []byte is sent as-is, string as text/plain, anything else through the codec.
func (b *Bus) Publish(ctx context.Context, payload any, dest Destination, opts ...PublishOption) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if err := b.transport.Dialect().ValidatePublisher(dest); err != nil {
		return err
	}

	b.metrics.published.Add(1)

	msg, err := b.newMessage(payload, opts)
	if err != nil {
		b.metrics.failed.Add(1)
		return err
	}
	return b.send(ctx, dest, msg)
}

func (b *Bus) newMessage(payload any, opts []PublishOption) (*Message, error) {
	data, ct, err := encodePayload(b.codec, payload)
	if err != nil {
		return nil, err
	}
	msg := &Message{
		ContentType: ct,
		Payload:     data,
		ProducedAt:  b.clock.Now(),
	}
	for _, o := range opts {
		if o != nil {
			o(msg)
		}
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	return msg, nil
}

func (b *Bus) send(ctx context.Context, dest Destination, msgs ...*Message) error {
	start := b.clock.Now()
	b.notifyAsync(Event{Type: PublishStart, Dest: dest})

	err := b.transport.Publish(ctx, dest, msgs...)

	took := b.since(start)
	b.notifyAsync(Event{Type: PublishDone, Dest: dest, Duration: took, Err: err})

	if err != nil {
		b.metrics.failed.Add(1)
	}
	return err
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	m := Metrics{
		Published:           b.metrics.published.Load(),
		Consumed:            b.metrics.consumed.Load(),
		Acked:               b.metrics.acked.Load(),
		Nacked:              b.metrics.nacked.Load(),
		Rejected:            b.metrics.rejected.Load(),
		Replies:             b.metrics.replied.Load(),
		Errors:              b.metrics.failed.Load(),
		AvgProcessingTimeMs: float64(b.metrics.avgNanos.Load()) / 1e6,
	}
	if b.observerPool != nil {
		m.EventsDropped = b.observerPool.Stats().Dropped
	}
	b.mu.Lock()
	m.Subscriptions = len(b.subs)
	b.mu.Unlock()
	return m
}

// Health reports the bus state. A bus whose error count exceeds 5% of the
// messages it moved is degraded.
func (b *Bus) Health(context.Context) HealthStatus {
	now := b.clock.Now()
	if b.closed.Load() {
		return HealthStatus{Status: Unhealthy, Timestamp: now, Message: "bus is closed"}
	}

	m := b.GetMetrics()
	st := HealthStatus{Status: Healthy, Metrics: m, Timestamp: now}
	if moved := m.Published + m.Consumed; moved > 0 && float64(m.Errors)/float64(moved) > 0.05 {
		st.Status = Degraded
		st.Message = fmt.Sprintf("%d errors in %d messages", m.Errors, moved)
	}
	return st
}

// Close stops all subscriptions and releases the transport. Idempotent.
func (b *Bus) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)

		b.mu.Lock()
		subs, cancel := b.subs, b.cancel
		b.subs = nil
		b.mu.Unlock()

		// Subscriptions go first so in-flight handlers still see a live context.
		var errs []error
		for _, s := range subs {
			errs = append(errs, s.Close())
		}
		if cancel != nil {
			cancel()
		}

		if b.observerPool != nil {
			if err := b.observerPool.Close(5 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("xbroker: observers did not drain")
				errs = append(errs, err)
			}
		}
		if err := b.transport.Close(ctx); err != nil {
			b.logger.Error().Err(err).Msg("xbroker: transport close failed")
			errs = append(errs, err)
		}
		b.closeErr = errors.Join(errs...)
	})
	return b.closeErr
}

// AddObserver registers an observer. Safe while the bus is running.
func (b *Bus) AddObserver(obs Observer) { b.observers.add(obs) }

// RemoveObserver removes an observer. obs must be of a comparable type.
func (b *Bus) RemoveObserver(obs Observer) { b.observers.remove(obs) }

// notifyAsync dispatches e through the observer pool, or inline when the
// bus was built without one.
func (b *Bus) notifyAsync(e Event) {
	if b.closed.Load() {
		return
	}
	observers := b.observers.snapshot()
	if len(observers) == 0 {
		return
	}
	if b.observerPool == nil {
		for _, o := range observers {
			o.OnEvent(e)
		}
		return
	}
	b.observerPool.Notify(e, observers)
}

// since returns the time elapsed from start and folds it into the
// moving average reported as AvgProcessingTimeMs.
func (b *Bus) since(start time.Time) time.Duration {
	d := b.clock.Since(start)
	ns := d.Nanoseconds()
	for {
		cur := b.metrics.avgNanos.Load()
		next := ns
		if cur != 0 {
			next = cur + (ns-cur)/5
		}
		if b.metrics.avgNanos.CompareAndSwap(cur, next) {
			return d
		}
	}
}
