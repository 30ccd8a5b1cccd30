package redisstream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xbroker"
)

type orderPlaced struct {
	ID    string `json:"id"`
	Value int64  `json:"value"`
}

func testConfig(t *testing.T) (Config, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := Defaults()
	cfg.Addr = mr.Addr()
	cfg.Block = 50 * time.Millisecond
	cfg.StartID = "0"
	cfg.Concurrency = 2
	return cfg, mr
}

func newTestTransport(t *testing.T, cfg Config) *transport {
	t.Helper()
	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr.(*transport)
}

func TestConfigFromOptions(t *testing.T) {
	cfg := ConfigFromOptions(xbroker.Options{
		"addr":           "redis:6379",
		"group":          "billing",
		"concurrency":    float64(3),
		"block":          "2s",
		"dead_letter":    "dlq",
		"claim_min_idle": "30s",
	})
	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, "billing", cfg.Group)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Block)
	assert.Equal(t, "dlq", cfg.DeadLetter)
	assert.Equal(t, 30*time.Second, cfg.ClaimMinIdle)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, cfg, ConfigFromOptions(cfg.Options()))
}

func TestConfigValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.ClaimMinIdle = time.Second
	cfg.ClaimInterval = 0
	assert.Error(t, cfg.Validate())

	_, err := NewTransport(Config{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, xbroker.Transports(), TransportName)

	cfg, _ := testConfig(t)
	tr, err := xbroker.NewTransport(TransportName, cfg.Options())
	require.NoError(t, err)
	defer tr.Close(context.Background())
	assert.Equal(t, xbroker.DefaultDialect.Name(), tr.Dialect().Name())
}

func TestConnectFailsWithoutServer(t *testing.T) {
	cfg, mr := testConfig(t)
	mr.Close()

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())
	assert.Error(t, tr.Connect(context.Background()))
}

func TestEncodeDecodeValues(t *testing.T) {
	produced := time.Unix(1700000000, 42)
	m := &xbroker.Message{
		ID:            "m1",
		CorrelationID: "c1",
		ContentType:   xbroker.ContentTypeJSON,
		ReplyTo:       "replies",
		Payload:       []byte(`{"id":"1"}`),
		Headers:       map[string]string{"tenant": "acme"},
		ProducedAt:    produced,
	}

	vals := encodeValues(m)
	assert.Equal(t, "acme", vals[fieldMetaPrefix+"tenant"])

	// redis hands everything back as strings
	wire := make(map[string]any, len(vals))
	for k, v := range vals {
		wire[k] = asString(v)
	}
	got := decodeMessage("1-0", wire)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "c1", got.CorrelationID)
	assert.Equal(t, xbroker.ContentTypeJSON, got.ContentType)
	assert.Equal(t, "replies", got.ReplyTo)
	assert.Equal(t, m.Payload, got.Payload)
	assert.Equal(t, "acme", got.Header("tenant"))
	assert.True(t, produced.Equal(got.ProducedAt))

	assert.Equal(t, "2-0", decodeMessage("2-0", map[string]any{}).ID)
}

func TestPublishSubscribeAck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, mr := testConfig(t)
	cfg.MaxLenApprox = 1000
	tr := newTestTransport(t, cfg)

	dest := xbroker.Destination{Name: "orders"}
	got := make(chan *xbroker.Message, 3)
	sub, err := tr.Subscribe(ctx, dest, nil, func(d xbroker.Delivery) {
		got <- d.Message()
		assert.NoError(t, d.Ack(ctx))
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, dest,
		&xbroker.Message{ID: "a", Payload: []byte("1")},
		&xbroker.Message{ID: "b", Payload: []byte("2")},
	))

	ids := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-got:
			ids[m.ID] = true
		case <-ctx.Done():
			t.Fatal("timed out waiting for deliveries")
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, ids)

	assert.Eventually(t, func() bool {
		st, _ := StatsOf(tr)
		return st.Acked == 2
	}, 2*time.Second, 10*time.Millisecond)

	st, ok := StatsOf(tr)
	require.True(t, ok)
	assert.Equal(t, uint64(2), st.Published)
	assert.True(t, mr.Exists("orders"))
}

func TestRejectDeadLetters(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, _ := testConfig(t)
	cfg.DeadLetter = "orders.dlq"
	tr := newTestTransport(t, cfg)

	dest := xbroker.Destination{Name: "orders", Group: "audit"}
	sub, err := tr.Subscribe(ctx, dest, nil, func(d xbroker.Delivery) {
		assert.NoError(t, d.Reject(ctx, errors.New("poison")))
		// settled already
		assert.NoError(t, d.Ack(ctx))
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, dest, &xbroker.Message{ID: "bad", Payload: []byte("x")}))

	assert.Eventually(t, func() bool {
		n, err := tr.client.XLen(ctx, "orders.dlq").Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := tr.client.XRange(ctx, "orders.dlq", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "orders", entries[0].Values[fieldOrigStream])
	assert.Equal(t, "poison", entries[0].Values[fieldError])

	st, _ := StatsOf(tr)
	assert.Equal(t, uint64(1), st.Rejected)
	assert.Equal(t, uint64(1), st.Acked)

	pending, err := tr.client.XPending(ctx, "orders", "audit").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestNackLeavesPending(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, _ := testConfig(t)
	tr := newTestTransport(t, cfg)

	dest := xbroker.Destination{Name: "jobs"}
	var calls atomic.Int32
	sub, err := tr.Subscribe(ctx, dest, nil, func(d xbroker.Delivery) {
		calls.Add(1)
		assert.NoError(t, d.Nack(ctx, errors.New("later")))
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, dest, &xbroker.Message{Payload: []byte("job")}))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	pending, err := tr.client.XPending(ctx, "jobs", cfg.Group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestClosedTransport(t *testing.T) {
	cfg, _ := testConfig(t)
	tr := newTestTransport(t, cfg)
	require.NoError(t, tr.Close(context.Background()))
	require.NoError(t, tr.Close(context.Background()))

	assert.ErrorIs(t, tr.Connect(context.Background()), redis.ErrClosed)
	assert.ErrorIs(t, tr.Publish(context.Background(), xbroker.Destination{Name: "x"}), redis.ErrClosed)
}

func TestBusRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, _ := testConfig(t)
	got := make(chan orderPlaced, 1)

	r, err := NewRouter("billing_")
	require.NoError(t, err)
	_, err = r.Subscriber(xbroker.Destination{Name: "orders"}, func(_ context.Context, e *xbroker.Envelope) (any, error) {
		o, err := xbroker.DecodeAs[orderPlaced](e)
		if err != nil {
			return nil, err
		}
		got <- o
		return nil, nil
	})
	require.NoError(t, err)
	pub, err := r.Publisher(xbroker.Destination{Name: "orders"})
	require.NoError(t, err)

	bus, err := NewBus(cfg, xbroker.UseRouters(r), xbroker.UseObserverPool(0, 0))
	require.NoError(t, err)
	require.NoError(t, bus.Start(ctx))
	defer bus.Close(context.Background())

	require.NoError(t, pub.Publish(ctx, orderPlaced{ID: "o-1", Value: 42}))

	select {
	case o := <-got:
		assert.Equal(t, orderPlaced{ID: "o-1", Value: 42}, o)
	case <-ctx.Done():
		t.Fatal("order not delivered")
	}
	assert.Eventually(t, func() bool { return bus.GetMetrics().Acked == 1 }, 2*time.Second, 10*time.Millisecond)
}
