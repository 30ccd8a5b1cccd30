package xbroker

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal is a goroutine-safe event log shared by a test's hooks and broker.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.events = append(j.events, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type spyBroker struct {
	j        *journal
	startErr error
	closeErr error
	started  chan struct{}
	once     sync.Once
}

func newSpyBroker(j *journal) *spyBroker {
	return &spyBroker{j: j, started: make(chan struct{})}
}

func (b *spyBroker) Start(context.Context) error {
	b.j.add("broker.start")
	if b.startErr == nil {
		b.once.Do(func() { close(b.started) })
	}
	return b.startErr
}

func (b *spyBroker) Close(context.Context) error {
	b.j.add("broker.close")
	return b.closeErr
}

func (b *spyBroker) Publish(context.Context, any, Destination, ...PublishOption) error { return nil }

func quietApp(b Broker, opts ...AppOption) *App {
	return New(b, append([]AppOption{WithSignals()}, opts...)...)
}

func quiet() RunOption { return WithRunLogLevel(zerolog.Disabled) }

func hook(j *journal, name string) Hook {
	return func(context.Context) error {
		j.add(name)
		return nil
	}
}

func TestApp_HookOrder(t *testing.T) {
	j := &journal{}
	app := quietApp(newSpyBroker(j))

	var cmdline Options
	app.OnStartup(func(_ context.Context, opts Options) error {
		cmdline = opts
		j.add("on_startup.1")
		return nil
	})
	app.OnStartup(func(context.Context, Options) error {
		j.add("on_startup.2")
		return nil
	})
	app.AfterStartup(hook(j, "after_startup"))
	app.AfterStartup(func(context.Context) error {
		app.Stop()
		return nil
	})
	app.OnShutdown(hook(j, "on_shutdown"))
	app.AfterShutdown(hook(j, "after_shutdown"))

	err := app.Run(context.Background(), quiet(), WithCommandLine(Options{"env": "test"}))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"on_startup.1", "on_startup.2", "broker.start", "after_startup",
		"on_shutdown", "broker.close", "after_shutdown",
	}, j.list())
	assert.Equal(t, "test", cmdline.String("env", ""))
	assert.Equal(t, StateStopped, app.State())
}

func TestApp_NoBroker(t *testing.T) {
	j := &journal{}
	app := quietApp(nil)
	app.OnStartup(func(context.Context, Options) error {
		j.add("on_startup")
		return nil
	})

	assert.ErrorIs(t, app.Run(context.Background(), quiet()), ErrNoBroker)
	assert.Empty(t, j.list())
	assert.Nil(t, app.Broker())

	app.SetBroker(newSpyBroker(j))
	assert.NotNil(t, app.Broker())
}

func TestApp_FailingStartupHook(t *testing.T) {
	j := &journal{}
	app := quietApp(newSpyBroker(j))
	boom := errors.New("boom")
	app.OnStartup(func(context.Context, Options) error { return nil })
	app.OnStartup(func(context.Context, Options) error { return boom })
	app.OnShutdown(hook(j, "on_shutdown"))

	err := app.Run(context.Background(), quiet())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "on_startup", he.Stage)
	assert.Equal(t, 1, he.Index)

	assert.NotContains(t, j.list(), "broker.start")
	assert.NotContains(t, j.list(), "on_shutdown")
}

func TestApp_BrokerStartFailure(t *testing.T) {
	j := &journal{}
	b := newSpyBroker(j)
	b.startErr = errors.New("unreachable")
	app := quietApp(b)
	app.AfterStartup(hook(j, "after_startup"))

	err := app.Run(context.Background(), quiet())
	assert.ErrorIs(t, err, b.startErr)
	assert.Equal(t, []string{"broker.start"}, j.list())
}

func TestApp_ShutdownHookError(t *testing.T) {
	j := &journal{}
	app := quietApp(newSpyBroker(j))
	boom := errors.New("boom")
	app.AfterStartup(func(context.Context) error {
		app.Stop()
		return nil
	})
	app.OnShutdown(func(context.Context) error { return boom })

	err := app.Run(context.Background(), quiet())
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "on_shutdown", he.Stage)
	assert.NotContains(t, j.list(), "broker.close")
}

func TestApp_ContextCancelStops(t *testing.T) {
	j := &journal{}
	b := newSpyBroker(j)
	app := quietApp(b)
	app.OnShutdown(hook(j, "on_shutdown"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, quiet()) }()

	<-b.started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"broker.start", "on_shutdown", "broker.close"}, j.list())
}

func TestApp_StopFromAnotherGoroutine(t *testing.T) {
	j := &journal{}
	b := newSpyBroker(j)
	app := quietApp(b)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background(), quiet()) }()

	<-b.started
	assert.Eventually(t, func() bool { return app.State() == StateRunning }, time.Second, 5*time.Millisecond)
	app.Stop()
	app.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, StateStopped, app.State())
}

func TestApp_StopBeforeRun(t *testing.T) {
	j := &journal{}
	app := quietApp(newSpyBroker(j))
	app.Stop()

	require.NoError(t, app.Run(context.Background(), quiet()))
	assert.Contains(t, j.list(), "broker.close")
	assert.Equal(t, StateStopped, app.State())
}

func TestApp_StopDuringStartupHook(t *testing.T) {
	j := &journal{}
	b := newSpyBroker(j)
	app := quietApp(b)

	entered := make(chan struct{})
	app.OnStartup(func(ctx context.Context, _ Options) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})
	app.OnStartup(func(context.Context, Options) error {
		j.add("late")
		return nil
	})
	app.OnShutdown(hook(j, "on_shutdown"))

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background(), quiet()) }()

	<-entered
	app.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	events := j.list()
	assert.Contains(t, events, "on_shutdown")
	assert.Contains(t, events, "broker.close")
	assert.NotContains(t, events, "late")
	assert.NotContains(t, events, "broker.start")
	assert.Equal(t, StateStopped, app.State())
}

// stoppingBroker requests shutdown from inside Start and then fails the
// way a Bus does once shutdown closed it.
type stoppingBroker struct {
	*spyBroker
	app *App
}

func (b *stoppingBroker) Start(ctx context.Context) error {
	_ = b.spyBroker.Start(ctx)
	b.app.Stop()
	return ErrBusClosed
}

func TestApp_StartErrorAfterStopIsNotReturned(t *testing.T) {
	j := &journal{}
	b := &stoppingBroker{spyBroker: newSpyBroker(j)}
	app := quietApp(b)
	b.app = app
	app.AfterStartup(hook(j, "after_startup"))

	require.NoError(t, app.Run(context.Background(), quiet()))
	assert.Contains(t, j.list(), "broker.close")
	assert.NotContains(t, j.list(), "after_startup")
	assert.Equal(t, StateStopped, app.State())
}

func TestApp_RunAfterStopped(t *testing.T) {
	j := &journal{}
	b := newSpyBroker(j)
	app := quietApp(b)
	app.AfterStartup(func(context.Context) error {
		app.Stop()
		return nil
	})

	require.NoError(t, app.Run(context.Background(), quiet()))
	require.NoError(t, app.Run(context.Background(), quiet()))

	starts := 0
	for _, e := range j.list() {
		if e == "broker.start" {
			starts++
		}
	}
	assert.Equal(t, 1, starts)
	assert.Equal(t, StateStopped, app.State())
}

func TestApp_Signal(t *testing.T) {
	j := &journal{}
	b := newSpyBroker(j)
	app := New(b, WithSignals(syscall.SIGUSR1))

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background(), quiet()) }()

	<-b.started
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after signal")
	}
	assert.Contains(t, j.list(), "broker.close")
}

func TestApp_BlockingAdapters(t *testing.T) {
	j := &journal{}
	app := quietApp(newSpyBroker(j))

	app.OnStartup(app.BlockingStartupHook(func(opts Options) error {
		j.add("sync_startup:" + opts.String("mode", ""))
		return nil
	}))
	app.AfterStartup(app.BlockingHook(func() error {
		j.add("sync_after")
		app.Stop()
		return nil
	}))

	h := app.BlockingHandler(func(*Envelope) (any, error) { return "handled", nil })

	require.NoError(t, app.Run(context.Background(), quiet(), WithCommandLine(Options{"mode": "sync"})))
	assert.Equal(t, []string{"sync_startup:sync", "broker.start", "sync_after", "broker.close"}, j.list())

	// the owned offloader is released after Run and recreated on demand
	res, err := h(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.Equal(t, "handled", res)
}

func TestApp_SharedOffloader(t *testing.T) {
	o, err := NewOffloader(1)
	require.NoError(t, err)
	defer o.Release()

	app := quietApp(nil, WithOffloader(o))
	got, err := app.Offloader()
	require.NoError(t, err)
	assert.Same(t, o, got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
