package xbroker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffloader(t *testing.T) {
	o, err := NewOffloader(2)
	require.NoError(t, err)
	defer o.Release()

	ctx := context.Background()
	require.NoError(t, o.Do(ctx, func() error { return nil }))

	boom := errors.New("boom")
	assert.ErrorIs(t, o.Hook(func() error { return boom })(ctx), boom)

	var got Options
	require.NoError(t, o.StartupHook(func(opts Options) error {
		got = opts
		return nil
	})(ctx, Options{"env": "test"}))
	assert.Equal(t, "test", got.String("env", ""))

	res, err := o.Handler(func(*Envelope) (any, error) { return "sync", nil })(ctx, testEnvelope())
	require.NoError(t, err)
	assert.Equal(t, "sync", res)

	assert.ErrorIs(t, o.Do(ctx, func() error { panic("bad") }), ErrHandlerPanic)
}

func TestOffloader_ContextCancel(t *testing.T) {
	o, err := NewOffloader(1)
	require.NoError(t, err)
	defer o.Release()

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = o.Do(ctx, func() error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, o.Running())
}
