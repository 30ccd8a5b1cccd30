package xbroker

import (
	"context"
)

// PublishOption adjusts an outgoing Message before it reaches the transport.
type PublishOption func(*Message)

// WithHeaders merges headers into the message.
func WithHeaders(h map[string]string) PublishOption {
	return func(m *Message) {
		for k, v := range h {
			m.SetHeader(k, v)
		}
	}
}

// WithHeader sets a single header.
func WithHeader(key, value string) PublishOption {
	return func(m *Message) { m.SetHeader(key, value) }
}

// WithCorrelationID sets the correlation id (default: a fresh UUID).
func WithCorrelationID(id string) PublishOption {
	return func(m *Message) {
		if id != "" {
			m.CorrelationID = id
		}
	}
}

// WithReplyTo asks the consumer to publish its handler result to dest.
func WithReplyTo(dest string) PublishOption {
	return func(m *Message) { m.ReplyTo = dest }
}

// WithMessageID sets the message id instead of letting the transport assign one.
func WithMessageID(id string) PublishOption {
	return func(m *Message) { m.ID = id }
}

// WithContentType overrides the content type chosen from the payload type.
func WithContentType(ct string) PublishOption {
	return func(m *Message) { m.ContentType = ct }
}

// PublishBatch encodes payloads and sends them to dest in one transport call.
func (b *Bus) PublishBatch(ctx context.Context, dest Destination, payloads ...any) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if len(payloads) == 0 {
		return nil
	}
	if err := b.transport.Dialect().ValidatePublisher(dest); err != nil {
		return err
	}

	msgs := make([]*Message, len(payloads))
	for i := range payloads {
		if payloads[i] == nil {
			return ErrInvalidPayload
		}
		msg, err := b.newMessage(payloads[i], nil)
		if err != nil {
			b.metrics.failed.Add(1)
			return err
		}
		msgs[i] = msg
	}

	b.metrics.published.Add(uint64(len(msgs)))
	return b.send(ctx, dest, msgs...)
}
