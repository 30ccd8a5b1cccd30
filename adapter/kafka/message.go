package kafka

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"github.com/trickstertwo/xbroker"
)

const (
	HeaderKey = "kafka-key"

	headerID            = "xbroker-id"
	headerCorrelationID = "xbroker-correlation-id"
	headerContentType   = "content-type"
	headerReplyTo       = "xbroker-reply-to"
	headerMetaPrefix    = "xbroker-meta-"
)

func toRecord(topic string, m *xbroker.Message) kafka.Message {
	rec := kafka.Message{
		Topic: topic,
		Value: m.Payload,
		Time:  m.ProducedAt,
	}
	add := func(k, v string) {
		if v != "" {
			rec.Headers = append(rec.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	add(headerID, m.ID)
	add(headerCorrelationID, m.CorrelationID)
	add(headerContentType, m.ContentType)
	add(headerReplyTo, m.ReplyTo)
	for k, v := range m.Headers {
		if k == HeaderKey {
			rec.Key = []byte(v)
			continue
		}
		add(headerMetaPrefix+k, v)
	}
	return rec
}

func fromRecord(rec kafka.Message) *xbroker.Message {
	m := &xbroker.Message{
		Payload:    rec.Value,
		ProducedAt: rec.Time,
		Headers:    make(map[string]string, len(rec.Headers)),
	}
	for _, h := range rec.Headers {
		v := string(h.Value)
		switch h.Key {
		case headerID:
			m.ID = v
		case headerCorrelationID:
			m.CorrelationID = v
		case headerContentType:
			m.ContentType = v
		case headerReplyTo:
			m.ReplyTo = v
		default:
			if key, ok := strings.CutPrefix(h.Key, headerMetaPrefix); ok {
				m.Headers[key] = v
			}
		}
	}
	if len(rec.Key) > 0 {
		m.Headers[HeaderKey] = string(rec.Key)
	}
	return m
}

type dispositionMetrics struct {
	acked    atomic.Uint64
	nacked   atomic.Uint64
	rejected atomic.Uint64
}

type delivery struct {
	msg     *xbroker.Message
	commit  func(ctx context.Context) error
	metrics *dispositionMetrics
	once    sync.Once
}

func (d *delivery) Message() *xbroker.Message { return d.msg }

func (d *delivery) Ack(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		if err = d.commit(ctx); err == nil {
			d.metrics.acked.Add(1)
		}
	})
	return err
}

// Nack leaves the offset uncommitted.
func (d *delivery) Nack(context.Context, error) error {
	d.once.Do(func() { d.metrics.nacked.Add(1) })
	return nil
}

// Reject commits the offset so the message is skipped.
func (d *delivery) Reject(ctx context.Context, _ error) error {
	var err error
	d.once.Do(func() {
		if err = d.commit(ctx); err == nil {
			d.metrics.rejected.Add(1)
		}
	})
	return err
}
