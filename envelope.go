package xbroker

import (
	"bytes"
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Envelope wraps one inbound Delivery for the duration of its processing.
//
// At most one of Ack, Nack and Reject reaches the backend. The first call
// marks the envelope processed; later calls return ErrAlreadyProcessed
// without touching the backend.
type Envelope struct {
	raw   Delivery
	codec Codec

	Body          []byte
	ContentType   string
	ReplyTo       string
	Headers       map[string]string
	MessageID     string
	CorrelationID string
	// Destination is where the message was consumed from.
	Destination Destination

	processed atomic.Bool

	mu         sync.Mutex
	decoded    bool
	decodedVal any
	decodedErr error
	typed      any
}

// NewEnvelope builds an Envelope around d. Body and Headers are copies, so
// handlers may modify them even when the transport hands the same Message
// to several consumers. Missing message and correlation IDs are filled with
// fresh UUIDs. A nil codec falls back to JSON.
func NewEnvelope(d Delivery, dest Destination, codec Codec) *Envelope {
	if codec == nil {
		codec = JSONCodec{}
	}
	e := &Envelope{raw: d, codec: codec, Destination: dest}
	msg := d.Message()
	if msg != nil {
		e.Body = bytes.Clone(msg.Payload)
		e.ContentType = msg.ContentType
		e.ReplyTo = msg.ReplyTo
		e.Headers = maps.Clone(msg.Headers)
		e.MessageID = msg.ID
		e.CorrelationID = msg.CorrelationID
	}
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}
	if e.MessageID == "" {
		e.MessageID = uuid.NewString()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = uuid.NewString()
	}
	return e
}

// Raw returns the backend delivery. It must not be retained after the handler returns.
func (e *Envelope) Raw() Delivery { return e.raw }

// Processed reports whether a terminal disposition was already issued.
func (e *Envelope) Processed() bool { return e.processed.Load() }

// Ack confirms successful processing.
func (e *Envelope) Ack(ctx context.Context) error {
	return e.settle(func() error { return e.raw.Ack(ctx) })
}

// Nack reports failed processing; the backend may redeliver.
func (e *Envelope) Nack(ctx context.Context, reason error) error {
	return e.settle(func() error { return e.raw.Nack(ctx, reason) })
}

// Reject reports failed processing without redelivery.
func (e *Envelope) Reject(ctx context.Context, reason error) error {
	return e.settle(func() error { return e.raw.Reject(ctx, reason) })
}

func (e *Envelope) settle(fn func() error) error {
	if !e.processed.CompareAndSwap(false, true) {
		return ErrAlreadyProcessed
	}
	return fn()
}

// Decode parses Body according to ContentType and caches the result:
// text/* yields a string, the codec's content type yields the codec's
// generic value (map[string]any, []any, float64, ...), anything else yields []byte.
func (e *Envelope) Decode() (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.decoded {
		e.decodedVal, e.decodedErr = decodePayload(e.codec, e.Body, e.ContentType)
		e.decoded = true
	}
	return e.decodedVal, e.decodedErr
}
