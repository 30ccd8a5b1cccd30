package xbroker

import (
	"time"
)

// Message is the record a Transport moves. The Payload is already encoded.
type Message struct {
	// ID is a unique message identifier (transport may assign if empty).
	ID string
	// CorrelationID links replies to requests.
	CorrelationID string
	// ContentType describes the Payload encoding ("application/json", "text/plain", ...).
	ContentType string
	// ReplyTo names the destination a handler result should be sent to.
	ReplyTo string
	// Payload is the encoded body.
	Payload []byte
	// Headers is a bag for tracing/tenancy/etc.
	Headers map[string]string
	// ProducedAt is set by the publishing bus from its clock.
	ProducedAt time.Time
}

// Header returns a header value or "".
func (m *Message) Header(key string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// SetHeader sets a header, allocating the map when needed.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string, 4)
	}
	m.Headers[key] = value
}
