package xbroker

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder assembles a Bus from a transport, a codec and optional collaborators.
type BusBuilder struct {
	transportName string
	transportCfg  Options
	transportInst Transport

	codecName string
	codecInst Codec

	middlewares []Middleware
	observers   []Observer
	routers     []*Router
	logger      *xlog.Logger
	clock       xclock.Clock
	ackTimeout  time.Duration

	poolWorkers int
	poolBuffer  int
	noPool      bool
}

// NewBusBuilder returns a new builder with sensible defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		codecName:   "json",
		ackTimeout:  5 * time.Second,
		poolWorkers: 4,
		poolBuffer:  1000,
	}
}

// WithTransport selects a registered transport by name.
func (bb *BusBuilder) WithTransport(name string, cfg Options) *BusBuilder {
	bb.transportName = name
	bb.transportCfg = cfg
	return bb
}

// WithTransportInstance accepts a ready Transport instance.
func (bb *BusBuilder) WithTransportInstance(t Transport) *BusBuilder {
	bb.transportInst = t
	return bb
}

func (bb *BusBuilder) WithCodec(name string) *BusBuilder {
	bb.codecName = name
	return bb
}

// WithCodecInstance accepts a ready Codec instance.
func (bb *BusBuilder) WithCodecInstance(c Codec) *BusBuilder {
	bb.codecInst = c
	return bb
}

func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithRouters includes routers into the bus root router at Build time.
func (bb *BusBuilder) WithRouters(rs ...*Router) *BusBuilder {
	bb.routers = append(bb.routers, rs...)
	return bb
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

func (bb *BusBuilder) WithAckTimeout(d time.Duration) *BusBuilder {
	if d > 0 {
		bb.ackTimeout = d
	}
	return bb
}

// WithObserverPool sizes the async observer pool. workers <= 0 disables it
// and observers are called inline.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	if workers <= 0 {
		bb.noPool = true
		return bb
	}
	bb.noPool = false
	bb.poolWorkers = workers
	bb.poolBuffer = bufferSize
	return bb
}

// Build resolves the transport and codec, creates the root router and
// includes the configured routers. A LoggingObserver is attached first
// unless one was supplied.
func (bb *BusBuilder) Build() (*Bus, error) {
	tr, err := bb.resolveTransport()
	if err != nil {
		return nil, err
	}
	cd := bb.codecInst
	if cd == nil {
		if cd, err = NewCodec(bb.codecName); err != nil {
			return nil, err
		}
	}
	root, err := NewRouter("", WithDialect(tr.Dialect()))
	if err != nil {
		return nil, err
	}

	b := &Bus{
		Router:      root,
		transport:   tr,
		codec:       cd,
		clock:       cmp.Or[xclock.Clock](bb.clock, xclock.Default()),
		logger:      cmp.Or(bb.logger, xlog.Default()),
		middlewares: bb.middlewares,
		ackTimeout:  bb.ackTimeout,
		metrics:     &busCounters{},
	}
	if !bb.noPool {
		b.observerPool = NewObserverPool(bb.poolWorkers, bb.poolBuffer)
	}
	root.bind(b)
	root.setRouteHook(b.onRoute)

	if !slices.ContainsFunc(bb.observers, isLoggingObserver) {
		b.AddObserver(LoggingObserver{Logger: b.logger})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	if err := root.IncludeRouters(bb.routers...); err != nil {
		if b.observerPool != nil {
			_ = b.observerPool.Close(time.Second)
		}
		return nil, err
	}
	return b, nil
}

func (bb *BusBuilder) resolveTransport() (Transport, error) {
	switch {
	case bb.transportInst != nil:
		return bb.transportInst, nil
	case bb.transportName != "":
		return NewTransport(bb.transportName, bb.transportCfg)
	default:
		return nil, ErrNoTransportConfigured
	}
}

func isLoggingObserver(o Observer) bool {
	_, ok := o.(LoggingObserver)
	return ok
}

// NewBus constructs a Bus via Builder and returns a close func for convenience.
func NewBus(init func(b *BusBuilder)) (*Bus, func() error, error) {
	b := NewBusBuilder()
	if init != nil {
		init(b)
	}
	bus, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return bus.Close(context.Background()) }
	return bus, closeFn, nil
}

// BusOption configures a BusBuilder. Adapters accept these in their NewBus helpers.
type BusOption func(*BusBuilder)

// Apply runs opts against the builder.
func (bb *BusBuilder) Apply(opts ...BusOption) *BusBuilder {
	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	return bb
}

// UseLogger injects a custom xlog logger.
func UseLogger(l *xlog.Logger) BusOption { return func(b *BusBuilder) { b.WithLogger(l) } }

// UseClock injects a custom xclock clock.
func UseClock(c xclock.Clock) BusOption { return func(b *BusBuilder) { b.WithClock(c) } }

// UseCodec selects a codec by name (default: "json").
func UseCodec(name string) BusOption { return func(b *BusBuilder) { b.WithCodec(name) } }

// UseMiddleware adds processing middlewares (retry, timeout, etc).
func UseMiddleware(mw ...Middleware) BusOption {
	return func(b *BusBuilder) { b.WithMiddleware(mw...) }
}

// UseObserver attaches observers for lifecycle events.
func UseObserver(obs ...Observer) BusOption { return func(b *BusBuilder) { b.WithObserver(obs...) } }

// UseAckTimeout sets the ack/nack timeout (default: 5s).
func UseAckTimeout(d time.Duration) BusOption { return func(b *BusBuilder) { b.WithAckTimeout(d) } }

// UseObserverPool sizes the async observer pool.
func UseObserverPool(workers, bufferSize int) BusOption {
	return func(b *BusBuilder) { b.WithObserverPool(workers, bufferSize) }
}

// UseRouters includes routers at build time.
func UseRouters(rs ...*Router) BusOption { return func(b *BusBuilder) { b.WithRouters(rs...) } }
