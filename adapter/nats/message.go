package nats

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/trickstertwo/xbroker"
)

// Message attributes travel as NATS headers.
const (
	headerID            = "Nats-Msg-Id"
	headerCorrelationID = "Xbroker-Correlation-Id"
	headerContentType   = "Content-Type"
	headerProducedAt    = "Xbroker-Produced-At"
	headerMetaPrefix    = "Xbroker-Meta-"
)

func toMsg(subject string, m *xbroker.Message) *nats.Msg {
	out := &nats.Msg{
		Subject: subject,
		Reply:   m.ReplyTo,
		Data:    m.Payload,
		Header:  nats.Header{},
	}
	if m.ID != "" {
		out.Header.Set(headerID, m.ID)
	}
	if m.CorrelationID != "" {
		out.Header.Set(headerCorrelationID, m.CorrelationID)
	}
	if m.ContentType != "" {
		out.Header.Set(headerContentType, m.ContentType)
	}
	if !m.ProducedAt.IsZero() {
		out.Header.Set(headerProducedAt, strconv.FormatInt(m.ProducedAt.UnixNano(), 10))
	}
	for k, v := range m.Headers {
		out.Header[headerMetaPrefix+k] = []string{v}
	}
	return out
}

func fromMsg(in *nats.Msg) *xbroker.Message {
	m := &xbroker.Message{
		ReplyTo: in.Reply,
		Payload: in.Data,
		Headers: make(map[string]string),
	}
	if in.Header == nil {
		return m
	}
	m.ID = in.Header.Get(headerID)
	m.CorrelationID = in.Header.Get(headerCorrelationID)
	m.ContentType = in.Header.Get(headerContentType)
	if ns, err := strconv.ParseInt(in.Header.Get(headerProducedAt), 10, 64); err == nil {
		m.ProducedAt = time.Unix(0, ns)
	}
	for k, vs := range in.Header {
		if key, ok := strings.CutPrefix(k, headerMetaPrefix); ok && len(vs) > 0 {
			m.Headers[key] = vs[0]
		}
	}
	return m
}

type dispositionMetrics struct {
	acked    atomic.Uint64
	nacked   atomic.Uint64
	rejected atomic.Uint64
}

// delivery settles locally; core NATS has nothing to send back.
type delivery struct {
	msg     *xbroker.Message
	metrics *dispositionMetrics
	once    sync.Once
}

func (d *delivery) Message() *xbroker.Message { return d.msg }

func (d *delivery) Ack(context.Context) error {
	d.once.Do(func() { d.metrics.acked.Add(1) })
	return nil
}

func (d *delivery) Nack(context.Context, error) error {
	d.once.Do(func() { d.metrics.nacked.Add(1) })
	return nil
}

func (d *delivery) Reject(context.Context, error) error {
	d.once.Do(func() { d.metrics.rejected.Add(1) })
	return nil
}
