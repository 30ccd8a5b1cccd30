package redisstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xbroker"
)

// delivery is one stream entry read by a consumer.
type delivery struct {
	c   *consumer
	id  string
	msg *xbroker.Message

	once sync.Once
}

func (d *delivery) Message() *xbroker.Message { return d.msg }

// Ack removes the entry from the group's pending list (XACK) and, with
// AutoDeleteOnAck, from the stream.
func (d *delivery) Ack(ctx context.Context) error {
	var err error
	d.once.Do(func() { err = d.ack(ctx) })
	return err
}

func (d *delivery) ack(ctx context.Context) error {
	t := d.c.t
	if err := t.client.XAck(ctx, d.c.stream, d.c.group, d.id).Err(); err != nil {
		return err
	}
	t.metrics.acked.Add(1)
	if t.cfg.AutoDeleteOnAck {
		_ = t.client.XDel(ctx, d.c.stream, d.id).Err()
	}
	return nil
}

// Nack leaves the entry pending. Streams have no negative acknowledgment;
// the claim loop or a restarted consumer delivers it again.
func (d *delivery) Nack(context.Context, error) error {
	d.once.Do(func() { d.c.t.metrics.nacked.Add(1) })
	return nil
}

// Reject copies the entry to the dead-letter stream, when one is
// configured, then acks it.
func (d *delivery) Reject(ctx context.Context, reason error) error {
	var err error
	d.once.Do(func() {
		t := d.c.t
		t.metrics.rejected.Add(1)
		if dl := t.cfg.DeadLetter; dl != "" {
			vals := encodeValues(d.msg)
			vals[fieldOrigStream] = d.c.stream
			vals[fieldOrigID] = d.id
			vals[fieldError] = fmt.Sprint(reason)
			if err = t.client.XAdd(ctx, &redis.XAddArgs{Stream: dl, Values: vals}).Err(); err != nil {
				err = fmt.Errorf("redisstream: dead-letter %s: %w", d.id, err)
				return
			}
		}
		err = d.ack(ctx)
	})
	return err
}
