package xbroker

import (
	"context"
	"sync"
)

// fakeDelivery counts backend dispositions.
type fakeDelivery struct {
	msg *Message

	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
	reason  error
}

func newFakeDelivery(msg *Message) *fakeDelivery {
	if msg == nil {
		msg = &Message{}
	}
	return &fakeDelivery{msg: msg}
}

func (d *fakeDelivery) Message() *Message { return d.msg }

func (d *fakeDelivery) Ack(context.Context) error {
	d.mu.Lock()
	d.acks++
	d.mu.Unlock()
	return nil
}

func (d *fakeDelivery) Nack(_ context.Context, reason error) error {
	d.mu.Lock()
	d.nacks++
	d.reason = reason
	d.mu.Unlock()
	return nil
}

func (d *fakeDelivery) Reject(_ context.Context, reason error) error {
	d.mu.Lock()
	d.rejects++
	d.reason = reason
	d.mu.Unlock()
	return nil
}

func (d *fakeDelivery) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acks + d.nacks + d.rejects
}

type sent struct {
	payload any
	dest    Destination
	msg     Message
}

// recordingTarget stands in for a broker behind publishers.
type recordingTarget struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recordingTarget) Publish(_ context.Context, payload any, dest Destination, opts ...PublishOption) error {
	var m Message
	for _, o := range opts {
		o(&m)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{payload: payload, dest: dest, msg: m})
	return r.err
}

func (r *recordingTarget) last() sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

func noop(context.Context, *Envelope) (any, error) { return nil, nil }
