package memory

import (
	"context"
	"sync"
	"time"

	"github.com/trickstertwo/xbroker"
)

// delivery settles at most once; later calls are no-ops.
type delivery struct {
	t    *Transport
	g    *group
	msg  *xbroker.Message
	once sync.Once
}

func (d *delivery) Message() *xbroker.Message { return d.msg }

func (d *delivery) Ack(context.Context) error {
	d.once.Do(func() { d.t.metrics.acked.Add(1) })
	return nil
}

// Nack puts the message back on its group queue, after RedeliveryDelay when
// one is configured.
func (d *delivery) Nack(context.Context, error) error {
	d.once.Do(func() {
		d.t.metrics.nacked.Add(1)
		d.t.metrics.redelivered.Add(1)
		if delay := d.t.cfg.RedeliveryDelay; delay > 0 {
			time.AfterFunc(delay, func() { d.g.requeue(d.msg) })
			return
		}
		d.g.requeue(d.msg)
	})
	return nil
}

// Reject drops the message.
func (d *delivery) Reject(context.Context, error) error {
	d.once.Do(func() { d.t.metrics.rejected.Add(1) })
	return nil
}
