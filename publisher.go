package xbroker

import (
	"context"
	"sync"
)

// publishTarget is implemented by brokers that publishers can be bound to.
type publishTarget interface {
	Publish(ctx context.Context, payload any, dest Destination, opts ...PublishOption) error
}

// Publisher is a reusable send target declared on a Router.
//
// When its router is included into another router the publisher is re-keyed
// under the parent's prefix. The handle held by user code forwards to the
// parent's publisher for that key, so it always publishes to the destination
// of the broker it finally ends up attached to.
type Publisher struct {
	dest Destination
	key  string
	opts []PublishOption

	mu     sync.RWMutex
	target publishTarget
	next   *Publisher
	spy    *Spy
}

func newPublisher(dest Destination, key string, opts []PublishOption) *Publisher {
	return &Publisher{dest: dest, key: key, opts: opts}
}

// Destination returns the destination as seen by the router that registered it.
func (p *Publisher) Destination() Destination { return p.dest }

// Key returns the dialect key the publisher was registered under.
func (p *Publisher) Key() string { return p.key }

// Resolved returns the publisher this one ultimately forwards to (possibly itself).
func (p *Publisher) Resolved() *Publisher {
	cur := p
	for {
		cur.mu.RLock()
		n := cur.next
		cur.mu.RUnlock()
		if n == nil {
			return cur
		}
		cur = n
	}
}

// Publish sends payload to the resolved destination.
func (p *Publisher) Publish(ctx context.Context, payload any, opts ...PublishOption) error {
	p.mu.RLock()
	s := p.spy
	p.mu.RUnlock()
	if s != nil {
		s.record(payload)
	}

	tail := p.Resolved()
	tail.mu.RLock()
	t := tail.target
	tail.mu.RUnlock()
	if t == nil {
		return ErrPublisherNotBound
	}

	all := make([]PublishOption, 0, len(tail.opts)+len(opts))
	all = append(all, tail.opts...)
	all = append(all, opts...)
	return t.Publish(ctx, payload, tail.dest, all...)
}

// Wrap decorates fn so that every non-nil result is also published here.
// A publish failure is returned as the handler error.
func (p *Publisher) Wrap(fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg *Envelope) (any, error) {
		res, err := fn(ctx, msg)
		if err != nil || res == nil {
			return res, err
		}
		opts := []PublishOption{WithCorrelationID(msg.CorrelationID)}
		if perr := p.Publish(ctx, res, opts...); perr != nil {
			return res, perr
		}
		return res, nil
	}
}

// Spy attaches (once) and returns a recorder of published payloads.
func (p *Publisher) Spy() *Spy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spy == nil {
		p.spy = &Spy{}
	}
	return p.spy
}

// ResetSpy detaches the recorder.
func (p *Publisher) ResetSpy() {
	p.mu.Lock()
	p.spy = nil
	p.mu.Unlock()
}

// forwardTo makes p publish through other. Links that would close a cycle are ignored.
func (p *Publisher) forwardTo(other *Publisher) {
	for cur := other; cur != nil; {
		if cur == p {
			return
		}
		cur.mu.RLock()
		n := cur.next
		cur.mu.RUnlock()
		cur = n
	}
	p.mu.Lock()
	p.next = other
	p.mu.Unlock()
}

func (p *Publisher) bind(t publishTarget) {
	p.mu.Lock()
	p.target = t
	p.mu.Unlock()
}

// derive returns a fresh publisher for dest that keeps p's defaults.
func (p *Publisher) derive(dest Destination, key string) *Publisher {
	return newPublisher(dest, key, p.opts)
}
