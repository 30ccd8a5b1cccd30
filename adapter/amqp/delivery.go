package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/trickstertwo/xbroker"
)

type delivery struct {
	raw     amqp091.Delivery
	msg     *xbroker.Message
	metrics *transportMetrics

	once sync.Once
}

func newDelivery(raw amqp091.Delivery, m *transportMetrics) *delivery {
	return &delivery{raw: raw, msg: fromDelivery(raw), metrics: m}
}

func (d *delivery) Message() *xbroker.Message { return d.msg }

func (d *delivery) Ack(context.Context) error {
	var err error
	d.once.Do(func() {
		if err = d.raw.Ack(false); err == nil {
			d.metrics.acked.Add(1)
		}
	})
	return err
}

// Nack returns the message to its queue.
func (d *delivery) Nack(context.Context, error) error {
	var err error
	d.once.Do(func() {
		if err = d.raw.Nack(false, true); err == nil {
			d.metrics.nacked.Add(1)
		}
	})
	return err
}

// Reject drops the message, or routes it to the queue's dead-letter exchange
// when one is configured on the server.
func (d *delivery) Reject(context.Context, error) error {
	var err error
	d.once.Do(func() {
		if err = d.raw.Reject(false); err == nil {
			d.metrics.rejected.Add(1)
		}
	})
	return err
}

func toPublishing(m *xbroker.Message, persistent bool) amqp091.Publishing {
	p := amqp091.Publishing{
		MessageId:     m.ID,
		CorrelationId: m.CorrelationID,
		ContentType:   m.ContentType,
		ReplyTo:       m.ReplyTo,
		Timestamp:     m.ProducedAt,
		Body:          m.Payload,
	}
	if persistent {
		p.DeliveryMode = amqp091.Persistent
	}
	if len(m.Headers) > 0 {
		p.Headers = make(amqp091.Table, len(m.Headers))
		for k, v := range m.Headers {
			p.Headers[k] = v
		}
	}
	return p
}

func fromDelivery(d amqp091.Delivery) *xbroker.Message {
	m := &xbroker.Message{
		ID:            d.MessageId,
		CorrelationID: d.CorrelationId,
		ContentType:   d.ContentType,
		ReplyTo:       d.ReplyTo,
		Payload:       d.Body,
		ProducedAt:    d.Timestamp,
		Headers:       make(map[string]string, len(d.Headers)),
	}
	for k, v := range d.Headers {
		switch s := v.(type) {
		case string:
			m.Headers[k] = s
		case []byte:
			m.Headers[k] = string(s)
		case time.Time:
			m.Headers[k] = s.Format(time.RFC3339Nano)
		default:
			m.Headers[k] = fmt.Sprint(s)
		}
	}
	return m
}
