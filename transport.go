package xbroker

import (
	"context"
)

// Delivery encapsulates a received message with its backend disposition calls.
// The Bus wraps every Delivery in an Envelope, which guarantees at most one
// of Ack, Nack or Reject is called.
type Delivery interface {
	Message() *Message
	// Ack confirms processing.
	Ack(ctx context.Context) error
	// Nack reports failure; the backend may redeliver.
	Nack(ctx context.Context, reason error) error
	// Reject reports failure without redelivery.
	Reject(ctx context.Context, reason error) error
}

// Subscription represents an active subscription that can be closed.
type Subscription interface {
	Close() error
}

// Transport is the Strategy interface for message brokers/backends.
type Transport interface {
	// Dialect describes how this backend addresses destinations.
	Dialect() Dialect
	// Connect establishes the backend connection. Called once by Bus.Start.
	Connect(ctx context.Context) error
	// Publish sends messages to a destination.
	Publish(ctx context.Context, dest Destination, msgs ...*Message) error
	// Subscribe binds a handler to a destination. The transport drives
	// delivery in background and honors ctx. opts carries per-route settings.
	Subscribe(ctx context.Context, dest Destination, opts Options, handler func(Delivery)) (Subscription, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
