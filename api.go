package xbroker

import (
	"context"
)

// Broker is what an App drives: connect and subscribe on Start, release on Close.
type Broker interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
	Publish(ctx context.Context, payload any, dest Destination, opts ...PublishOption) error
}

// Observer receives bus lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker is implemented by brokers that can report their own health.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete Bus surface.
type API interface {
	Broker
	HealthChecker
	PublishBatch(ctx context.Context, dest Destination, payloads ...any) error
	IncludeRouter(r *Router) error
	IncludeRouters(rs ...*Router) error
	GetMetrics() Metrics
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var (
	_ API    = (*Bus)(nil)
	_ Broker = (*Bus)(nil)
)
