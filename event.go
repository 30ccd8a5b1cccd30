package xbroker

import (
	"time"
)

// EventType names a step in a message's life on the bus.
type EventType string

const (
	PublishStart EventType = "publish_start"
	PublishDone  EventType = "publish_done"
	ConsumeStart EventType = "consume_start"
	ConsumeDone  EventType = "consume_done"
	Ack          EventType = "ack"
	Nack         EventType = "nack"
	RejectEvent  EventType = "reject"
	Reply        EventType = "reply"
	Error        EventType = "error"
)

// Event is what observers receive. Duration is set on *Done events, Err on
// failures and on nack/reject (the handler's error).
type Event struct {
	Type      EventType
	Dest      Destination
	MessageID string
	Duration  time.Duration
	Err       error

	observers []Observer
}

// Metrics is a snapshot of bus counters.
type Metrics struct {
	Published     uint64
	Consumed      uint64
	Acked         uint64
	Nacked        uint64
	Rejected      uint64
	Replies       uint64
	Errors        uint64
	EventsDropped uint64
	// Subscriptions is the number of live transport subscriptions.
	Subscriptions       int
	AvgProcessingTimeMs float64
}

// Health states reported in HealthStatus.Status.
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// HealthStatus is the result of a health probe.
type HealthStatus struct {
	Status    string
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// PoolStats describes an ObserverPool.
type PoolStats struct {
	Dropped      uint64
	Processed    uint64
	ActiveEvents int // queued, not yet dispatched
	Workers      int
	BufferSize   int
}
