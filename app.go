package xbroker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/trickstertwo/xlog"
	"golang.org/x/sync/errgroup"
)

// State is the App lifecycle phase.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopRequested
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// App owns a Broker and runs it between ordered startup and shutdown hooks.
//
// Run starts the broker and blocks until Stop is called, a registered OS
// signal arrives or the caller's context is cancelled, then shuts down.
// The stop signal is one-shot: an App is run once.
type App struct {
	mu            sync.Mutex
	broker        Broker
	logger        *xlog.Logger
	signals       []os.Signal
	offloader     *Offloader
	ownOffloader  bool
	onStartup     []StartupHook
	afterStartup  []Hook
	onShutdown    []Hook
	afterShutdown []Hook

	stopOnce sync.Once
	stopCh   chan struct{}
	state    atomic.Int32
}

// AppOption configures an App.
type AppOption func(*App)

// WithAppLogger sets the lifecycle logger (default xlog.Default()).
func WithAppLogger(l *xlog.Logger) AppOption {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithSignals replaces the OS signals that trigger Stop (default SIGINT, SIGTERM).
// Passing none disables signal handling.
func WithSignals(sig ...os.Signal) AppOption {
	return func(a *App) { a.signals = sig }
}

// WithOffloader sets the pool used by the Blocking* adapters.
func WithOffloader(o *Offloader) AppOption {
	return func(a *App) { a.offloader = o }
}

// New creates an App. broker may be nil and set later with SetBroker.
func New(broker Broker, opts ...AppOption) *App {
	a := &App{
		broker:  broker,
		logger:  xlog.Default(),
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	return a
}

// SetBroker attaches the broker to run.
func (a *App) SetBroker(b Broker) {
	a.mu.Lock()
	a.broker = b
	a.mu.Unlock()
}

// Broker returns the attached broker (may be nil).
func (a *App) Broker() Broker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.broker
}

// State returns the current lifecycle phase.
func (a *App) State() State { return State(a.state.Load()) }

// OnStartup registers a hook run before the broker starts.
func (a *App) OnStartup(h StartupHook) StartupHook {
	a.mu.Lock()
	a.onStartup = append(a.onStartup, h)
	a.mu.Unlock()
	return h
}

// AfterStartup registers a hook run after the broker started.
func (a *App) AfterStartup(h Hook) Hook {
	a.mu.Lock()
	a.afterStartup = append(a.afterStartup, h)
	a.mu.Unlock()
	return h
}

// OnShutdown registers a hook run before the broker closes.
func (a *App) OnShutdown(h Hook) Hook {
	a.mu.Lock()
	a.onShutdown = append(a.onShutdown, h)
	a.mu.Unlock()
	return h
}

// AfterShutdown registers a hook run after the broker closed.
func (a *App) AfterShutdown(h Hook) Hook {
	a.mu.Lock()
	a.afterShutdown = append(a.afterShutdown, h)
	a.mu.Unlock()
	return h
}

// Offloader returns the pool used by the Blocking* adapters, creating an
// unbounded one on first use.
func (a *App) Offloader() (*Offloader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.offloader == nil {
		o, err := NewOffloader(0)
		if err != nil {
			return nil, err
		}
		a.offloader = o
		a.ownOffloader = true
	}
	return a.offloader, nil
}

// BlockingHook lifts a plain function into a Hook run on the app's offloader.
func (a *App) BlockingHook(fn func() error) Hook {
	return func(ctx context.Context) error {
		o, err := a.Offloader()
		if err != nil {
			return err
		}
		return o.Do(ctx, fn)
	}
}

// BlockingStartupHook lifts a plain function into a StartupHook run on the app's offloader.
func (a *App) BlockingStartupHook(fn func(opts Options) error) StartupHook {
	return func(ctx context.Context, opts Options) error {
		o, err := a.Offloader()
		if err != nil {
			return err
		}
		return o.Do(ctx, func() error { return fn(opts) })
	}
}

// BlockingHandler lifts a plain message handler into a HandlerFunc run on the app's offloader.
func (a *App) BlockingHandler(fn func(msg *Envelope) (any, error)) HandlerFunc {
	return func(ctx context.Context, msg *Envelope) (any, error) {
		o, err := a.Offloader()
		if err != nil {
			return nil, err
		}
		return o.Handler(fn)(ctx, msg)
	}
}

// Stop requests shutdown. Safe to call from any goroutine, any number of times.
func (a *App) Stop() {
	ch := a.stopSignal()
	a.stopOnce.Do(func() {
		a.state.CompareAndSwap(int32(StateRunning), int32(StateStopRequested))
		a.state.CompareAndSwap(int32(StateStarting), int32(StateStopRequested))
		close(ch)
	})
}

func (a *App) stopSignal() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopCh == nil {
		a.stopCh = make(chan struct{})
	}
	return a.stopCh
}

// RunOption tunes a single Run call.
type RunOption func(*runConfig)

type runConfig struct {
	level   zerolog.Level
	cmdline Options
}

// WithRunLogLevel sets the level of lifecycle log lines (default info).
func WithRunLogLevel(l zerolog.Level) RunOption {
	return func(c *runConfig) { c.level = l }
}

// WithCommandLine passes options to every on-startup hook.
func WithCommandLine(opts Options) RunOption {
	return func(c *runConfig) { c.cmdline = opts }
}

// Run starts the application and blocks until it has shut down.
//
// Startup and stop-waiting run concurrently in one errgroup scope. A failing
// startup hook or broker Start aborts startup and is returned; shutdown hooks
// do not run in that case. A stop request overtakes startup: no further
// startup step runs, and errors from the step in flight are dropped. Once
// shutdown completes the scope is cancelled. Run on a stopped App returns
// nil at once.
func (a *App) Run(ctx context.Context, opts ...RunOption) error {
	cfg := runConfig{level: zerolog.InfoLevel}
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}

	a.mu.Lock()
	b := a.broker
	onStartup := append([]StartupHook(nil), a.onStartup...)
	afterStartup := append([]Hook(nil), a.afterStartup...)
	onShutdown := append([]Hook(nil), a.onShutdown...)
	afterShutdown := append([]Hook(nil), a.afterShutdown...)
	signals := a.signals
	a.mu.Unlock()

	if b == nil {
		return ErrNoBroker
	}
	if a.State() == StateStopped {
		// the stop signal is one-shot; a finished App stays finished
		return nil
	}

	stop := a.stopSignal()
	done := make(chan struct{})
	defer close(done)
	if len(signals) > 0 {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, signals...)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				a.logAt(cfg.level, "received signal "+sig.String())
				a.Stop()
			case <-done:
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := a.startup(gctx, stop, b, cfg, onStartup, afterStartup)
		if err != nil && (isClosed(stop) || ctx.Err() != nil) {
			// Shutdown overlapped startup and may already have closed the
			// broker, so whatever startup hit is an interruption.
			return nil
		}
		return err
	})

	g.Go(func() error {
		select {
		case <-stop:
		case <-ctx.Done():
			a.Stop()
		case <-gctx.Done():
			if ctx.Err() == nil {
				// startup failed; its error is what Run returns
				return nil
			}
			a.Stop()
		}

		a.state.Store(int32(StateShuttingDown))
		err := a.shutdown(context.WithoutCancel(ctx), b, cfg, onShutdown, afterShutdown)
		a.state.Store(int32(StateStopped))
		cancel()
		return err
	})

	err := g.Wait()

	a.mu.Lock()
	if a.ownOffloader && a.offloader != nil {
		a.offloader.Release()
		a.offloader, a.ownOffloader = nil, false
	}
	a.mu.Unlock()
	return err
}

// errInterrupted ends a startup that a stop request overtook.
var errInterrupted = errors.New("xbroker: startup interrupted")

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// startup stops before its next step once stop is closed, so a broker that
// shutdown already closed is never started.
func (a *App) startup(ctx context.Context, stop <-chan struct{}, b Broker, cfg runConfig, onStartup []StartupHook, afterStartup []Hook) error {
	a.state.CompareAndSwap(int32(StateCreated), int32(StateStarting))
	a.logAt(cfg.level, "xbroker: application is starting")

	proceed := func() error {
		if isClosed(stop) {
			return errInterrupted
		}
		return ctx.Err()
	}

	for i, h := range onStartup {
		if err := proceed(); err != nil {
			return err
		}
		if err := h(ctx, cfg.cmdline); err != nil {
			return &HookError{Stage: "on_startup", Index: i, Err: err}
		}
	}

	if err := proceed(); err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}

	for i, h := range afterStartup {
		if err := proceed(); err != nil {
			return err
		}
		if err := h(ctx); err != nil {
			return &HookError{Stage: "after_startup", Index: i, Err: err}
		}
	}

	a.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	a.logAt(cfg.level, "xbroker: application startup completed")
	return nil
}

func (a *App) shutdown(ctx context.Context, b Broker, cfg runConfig, onShutdown, afterShutdown []Hook) error {
	a.logAt(cfg.level, "xbroker: application is shutting down")

	for i, h := range onShutdown {
		if err := h(ctx); err != nil {
			return &HookError{Stage: "on_shutdown", Index: i, Err: err}
		}
	}
	if err := b.Close(ctx); err != nil {
		return err
	}
	for i, h := range afterShutdown {
		if err := h(ctx); err != nil {
			return &HookError{Stage: "after_shutdown", Index: i, Err: err}
		}
	}

	a.logAt(cfg.level, "xbroker: application shut down")
	return nil
}

func (a *App) logAt(level zerolog.Level, msg string) {
	switch level {
	case zerolog.Disabled, zerolog.NoLevel:
		return
	case zerolog.TraceLevel, zerolog.DebugLevel:
		a.logger.Debug().Msg(msg)
	case zerolog.InfoLevel:
		a.logger.Info().Msg(msg)
	case zerolog.WarnLevel:
		a.logger.Warn().Msg(msg)
	default:
		a.logger.Error().Msg(msg)
	}
}
