package amqp

import (
	"fmt"

	"github.com/trickstertwo/xbroker"
)

// Dialect addresses AMQP destinations. Publishers are keyed by exchange and
// routing key; prefixes apply to the queue / routing key only.
var Dialect xbroker.Dialect = amqpDialect{}

type amqpDialect struct{}

func (amqpDialect) Name() string { return "amqp" }

func (amqpDialect) ValidateSubscriber(d xbroker.Destination) error {
	if d.Name == "" {
		return fmt.Errorf("%w: subscriber needs a queue name", xbroker.ErrInvalidDestination)
	}
	return nil
}

// ValidatePublisher accepts an empty routing key when an exchange is set
// (fanout exchanges ignore it).
func (amqpDialect) ValidatePublisher(d xbroker.Destination) error {
	if d.Name == "" && d.Exchange == "" {
		return fmt.Errorf("%w: publisher needs a routing key or an exchange", xbroker.ErrInvalidDestination)
	}
	return nil
}

func (amqpDialect) Key(d xbroker.Destination) string {
	return d.Exchange + "/" + d.Name
}

func (amqpDialect) Prefix(prefix string, d xbroker.Destination) xbroker.Destination {
	if d.Name != "" {
		d.Name = prefix + d.Name
	}
	return d
}
