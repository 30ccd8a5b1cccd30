package xbroker

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type scopeKey struct{}

// scope is what a Bus hands to every handler through its context.
type scope struct {
	broker Broker
	codec  Codec
	logger *xlog.Logger
	clock  xclock.Clock
}

func scopeFrom(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

// InjectAll attaches the broker and its collaborators to ctx. Nil values
// keep whatever an outer context already carries.
func InjectAll(ctx context.Context, b Broker, codec Codec, logger *xlog.Logger, clock xclock.Clock) context.Context {
	s := scopeFrom(ctx)
	if b != nil {
		s.broker = b
	}
	if codec != nil {
		s.codec = codec
	}
	if logger != nil {
		s.logger = logger
	}
	if clock != nil {
		s.clock = clock
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// BrokerFromContext returns the broker that delivered the current message.
// Handlers use it to publish without holding a package-level reference.
func BrokerFromContext(ctx context.Context) (Broker, bool) {
	b := scopeFrom(ctx).broker
	return b, b != nil
}

// CodecFromContext returns the codec of the delivering broker.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	c := scopeFrom(ctx).codec
	return c, c != nil
}

func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	l := scopeFrom(ctx).logger
	return l, l != nil
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	c := scopeFrom(ctx).clock
	return c, c != nil
}
