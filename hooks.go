package xbroker

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// StartupHook runs before the broker starts and receives command-line options.
type StartupHook func(ctx context.Context, opts Options) error

// Hook runs after startup or around shutdown.
type Hook func(ctx context.Context) error

// Offloader runs plain blocking functions on a bounded goroutine pool and
// exposes them as context-aware hooks and handlers. The caller stops waiting
// when ctx is done; the function itself keeps running to completion.
type Offloader struct {
	pool *ants.Pool
}

// NewOffloader creates an offloader with at most size concurrent workers
// (size <= 0 means unbounded).
func NewOffloader(size int) (*Offloader, error) {
	p, err := ants.NewPool(size, ants.WithPreAlloc(false))
	if err != nil {
		return nil, fmt.Errorf("xbroker: offloader pool: %w", err)
	}
	return &Offloader{pool: p}, nil
}

// Running returns the number of functions currently executing.
func (o *Offloader) Running() int { return o.pool.Running() }

// Release stops the pool. Functions already submitted finish.
func (o *Offloader) Release() { o.pool.Release() }

// Do runs fn on the pool and waits for it or for ctx.
func (o *Offloader) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	err := o.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		done <- fn()
	})
	if err != nil {
		return fmt.Errorf("xbroker: offload: %w", err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hook lifts fn into a Hook.
func (o *Offloader) Hook(fn func() error) Hook {
	return func(ctx context.Context) error { return o.Do(ctx, fn) }
}

// StartupHook lifts fn into a StartupHook.
func (o *Offloader) StartupHook(fn func(opts Options) error) StartupHook {
	return func(ctx context.Context, opts Options) error {
		return o.Do(ctx, func() error { return fn(opts) })
	}
}

// Handler lifts a blocking message handler into a HandlerFunc.
func (o *Offloader) Handler(fn func(msg *Envelope) (any, error)) HandlerFunc {
	return func(ctx context.Context, msg *Envelope) (any, error) {
		var res any
		err := o.Do(ctx, func() error {
			var herr error
			res, herr = fn(msg)
			return herr
		})
		return res, err
	}
}
