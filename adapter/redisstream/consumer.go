package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/trickstertwo/xbroker"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// consumer reads one stream as one member of a consumer group. A reader
// goroutine (and optionally a claimer) feeds a fixed set of workers.
type consumer struct {
	t       *transport
	stream  string
	group   string
	handler func(xbroker.Delivery)
	work    chan *delivery
}

func (t *transport) newConsumer(ctx context.Context, dest xbroker.Destination, opts xbroker.Options, handler func(xbroker.Delivery)) (*consumer, error) {
	c := &consumer{
		t:       t,
		stream:  dest.Name,
		group:   dest.Group,
		handler: handler,
	}
	if c.group == "" {
		c.group = t.cfg.Group
	}
	if t.cfg.AutoCreate {
		start := opts.String(keyStartID, t.cfg.StartID)
		err := t.client.XGroupCreateMkStream(ctx, c.stream, c.group, start).Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("redisstream: create group %s/%s: %w", c.stream, c.group, err)
		}
	}
	return c, nil
}

// run blocks until ctx is done and every worker has returned.
func (c *consumer) run(ctx context.Context, workers int) {
	c.work = make(chan *delivery, workers*2)

	var feeders errgroup.Group
	feeders.Go(func() error { c.read(ctx); return nil })
	if c.t.cfg.ClaimMinIdle > 0 && c.t.cfg.ClaimInterval > 0 {
		feeders.Go(func() error { c.claim(ctx); return nil })
	}

	var pool errgroup.Group
	for i := 0; i < workers; i++ {
		pool.Go(func() error {
			for d := range c.work {
				c.handler(d)
			}
			return nil
		})
	}

	_ = feeders.Wait()
	close(c.work)
	_ = pool.Wait()
}

// read polls new entries with XREADGROUP, backing off on errors.
func (c *consumer) read(ctx context.Context) {
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.t.cfg.Consumer,
		Streams:  []string{c.stream, ">"},
		Count:    int64(max(1, c.t.cfg.BatchSize)),
		Block:    c.t.cfg.Block,
	}

	backoff := minBackoff
	for ctx.Err() == nil {
		res, err := c.t.client.XReadGroup(ctx, args).Result()
		switch {
		case err == nil:
			backoff = minBackoff
			for _, s := range res {
				if !c.dispatch(ctx, s.Messages) {
					return
				}
			}
		case ctx.Err() != nil:
			return
		case errors.Is(err, redis.Nil):
			// block timed out with nothing new
			backoff = minBackoff
		default:
			c.t.metrics.consumeErrors.Add(1)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// claim periodically takes over entries pending longer than ClaimMinIdle:
// nacked ones and those of crashed consumers.
func (c *consumer) claim(ctx context.Context) {
	ticker := time.NewTicker(c.t.cfg.ClaimInterval)
	defer ticker.Stop()

	args := &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.t.cfg.Consumer,
		MinIdle:  c.t.cfg.ClaimMinIdle,
		Count:    int64(max(1, c.t.cfg.ClaimBatch)),
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		args.Start = "0-0"
		for {
			msgs, next, err := c.t.client.XAutoClaim(ctx, args).Result()
			if err != nil {
				if ctx.Err() == nil {
					c.t.metrics.consumeErrors.Add(1)
				}
				break
			}
			c.t.metrics.claimed.Add(uint64(len(msgs)))
			if !c.dispatch(ctx, msgs) {
				return
			}
			if next == "0-0" || len(msgs) == 0 {
				break
			}
			args.Start = next
		}
	}
}

func (c *consumer) dispatch(ctx context.Context, msgs []redis.XMessage) bool {
	for _, m := range msgs {
		d := &delivery{c: c, id: m.ID, msg: decodeMessage(m.ID, m.Values)}
		c.t.metrics.consumed.Add(1)
		select {
		case c.work <- d:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
