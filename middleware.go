package xbroker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Middleware wraps a HandlerFunc. The Bus applies middlewares to every route,
// outermost first.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that mws[0] runs first. Nil entries are skipped.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// RetryConfig controls RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts counts the first call too. Values below 1 mean 1.
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	// Nil retries immediately.
	Backoff func(attempt int) time.Duration
	// RetryIf selects retryable errors. Nil retries everything except
	// rejections.
	RetryIf func(err error) bool
	// Jitter adds a random wait in [0, Jitter).
	Jitter time.Duration
}

// ExponentialBackoff doubles base on every attempt, capped at limit
// (no cap when limit <= 0).
func ExponentialBackoff(base, limit time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := base << min(max(attempt-1, 0), 30)
		if limit > 0 && (d > limit || d <= 0) {
			return limit
		}
		return d
	}
}

func (c RetryConfig) wait(attempt int) time.Duration {
	var d time.Duration
	if c.Backoff != nil {
		d = c.Backoff(attempt)
	}
	if c.Jitter > 0 {
		d += rand.N(c.Jitter)
	}
	return d
}

// RetryMiddleware calls the handler again while it fails with a retryable
// error. It gives up once the context ends or the handler has settled the
// envelope itself.
func RetryMiddleware(cfg RetryConfig) Middleware {
	attempts := max(1, cfg.MaxAttempts)
	retryable := cfg.RetryIf
	if retryable == nil {
		retryable = func(err error) bool { return !errors.Is(err, ErrReject) }
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *Envelope) (any, error) {
			for attempt := 1; ; attempt++ {
				res, err := next(ctx, msg)
				if err == nil || attempt >= attempts || msg.Processed() || ctx.Err() != nil || !retryable(err) {
					return res, err
				}
				if d := cfg.wait(attempt); d > 0 {
					t := time.NewTimer(d)
					select {
					case <-ctx.Done():
						t.Stop()
						return res, err
					case <-t.C:
					}
				}
			}
		}
	}
}

// TimeoutMiddleware bounds handler time. On expiry the handler's context is
// cancelled and context.DeadlineExceeded is returned without waiting for it.
// d <= 0 disables the bound.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	type outcome struct {
		res any
		err error
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *Envelope) (any, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			out := make(chan outcome, 1)
			go func() {
				var o outcome
				defer func() {
					if r := recover(); r != nil {
						o = outcome{err: panicError(r)}
					}
					out <- o
				}()
				o.res, o.err = next(tctx, msg)
			}()

			select {
			case <-tctx.Done():
				return nil, tctx.Err()
			case o := <-out:
				return o.res, o.err
			}
		}
	}
}

// RecoveryMiddleware turns a handler panic into an ErrHandlerPanic error.
func RecoveryMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *Envelope) (res any, err error) {
			defer func() {
				if r := recover(); r != nil {
					res, err = nil, panicError(r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

func panicError(r any) error { return fmt.Errorf("%w: %v", ErrHandlerPanic, r) }
