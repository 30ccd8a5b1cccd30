package xbroker

import (
	"fmt"
	"strings"
)

// Destination addresses a queue, subject, stream or topic on a backend.
// Exchange and ExchangeKind are only meaningful for AMQP.
type Destination struct {
	Name         string
	Group        string
	Exchange     string
	ExchangeKind string
}

func (d Destination) String() string {
	var sb strings.Builder
	if d.Exchange != "" {
		sb.WriteString(d.Exchange)
		sb.WriteByte('/')
	}
	sb.WriteString(d.Name)
	if d.Group != "" {
		sb.WriteByte('@')
		sb.WriteString(d.Group)
	}
	return sb.String()
}

// Dialect captures the backend-specific parts of routing: how destinations are
// validated, how a prefix is applied and how publishers are keyed.
type Dialect interface {
	Name() string
	ValidateSubscriber(d Destination) error
	ValidatePublisher(d Destination) error
	// Key identifies a logical publish target. Equal keys mean the same target.
	Key(d Destination) string
	// Prefix returns d with prefix applied to its name part.
	Prefix(prefix string, d Destination) Destination
}

// DefaultDialect is shared by backends addressed by a single name
// (memory, Redis Streams, NATS, Kafka).
var DefaultDialect Dialect = nameDialect{}

type nameDialect struct{}

func (nameDialect) Name() string { return "default" }

func (nameDialect) ValidateSubscriber(d Destination) error {
	if d.Name == "" {
		return fmt.Errorf("%w: subscriber needs a name", ErrInvalidDestination)
	}
	return nil
}

func (nameDialect) ValidatePublisher(d Destination) error {
	if d.Name == "" {
		return fmt.Errorf("%w: publisher needs a name", ErrInvalidDestination)
	}
	return nil
}

func (nameDialect) Key(d Destination) string { return d.Name }

func (nameDialect) Prefix(prefix string, d Destination) Destination {
	d.Name = prefix + d.Name
	return d
}
