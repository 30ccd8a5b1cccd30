package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xbroker"
)

func TestConfig(t *testing.T) {
	cfg := ConfigFromOptions(xbroker.Options{
		"url":            "nats://nats:4222",
		"buffer_size":    float64(64),
		"reconnect_wait": "500ms",
	})
	assert.Equal(t, "nats://nats:4222", cfg.URL)
	assert.Equal(t, 64, cfg.BufferSize)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectWait)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg, ConfigFromOptions(cfg.Options()))

	_, err := NewTransport(Config{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	tr, err := xbroker.NewTransport(TransportName, xbroker.Options{"concurrency": 2})
	require.NoError(t, err)
	assert.Equal(t, xbroker.DefaultDialect.Name(), tr.Dialect().Name())
}

func TestMessageConversion(t *testing.T) {
	at := time.Unix(1700000000, 5)
	in := &xbroker.Message{
		ID:            "m-1",
		CorrelationID: "c-1",
		ContentType:   xbroker.ContentTypeJSON,
		ReplyTo:       "_INBOX.abc",
		Payload:       []byte(`{"n":1}`),
		Headers:       map[string]string{"tenant": "acme"},
		ProducedAt:    at,
	}

	msg := toMsg("orders.created", in)
	assert.Equal(t, "orders.created", msg.Subject)
	assert.Equal(t, "_INBOX.abc", msg.Reply)

	out := fromMsg(msg)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.CorrelationID, out.CorrelationID)
	assert.Equal(t, in.ContentType, out.ContentType)
	assert.Equal(t, in.ReplyTo, out.ReplyTo)
	assert.Equal(t, in.Payload, out.Payload)
	assert.Equal(t, "acme", out.Header("tenant"))
	assert.True(t, at.Equal(out.ProducedAt))

	bare := fromMsg(&nats.Msg{Subject: "x", Data: []byte("raw")})
	assert.Empty(t, bare.ID)
	assert.NotNil(t, bare.Headers)
	assert.Equal(t, []byte("raw"), bare.Payload)
}

func TestDeliverySettlesOnce(t *testing.T) {
	ctx := context.Background()
	m := &dispositionMetrics{}
	d := &delivery{msg: &xbroker.Message{}, metrics: m}

	require.NoError(t, d.Reject(ctx, errors.New("poison")))
	require.NoError(t, d.Ack(ctx))
	require.NoError(t, d.Nack(ctx, nil))

	assert.Equal(t, uint64(1), m.rejected.Load())
	assert.Zero(t, m.acked.Load())
	assert.Zero(t, m.nacked.Load())
}

func TestNotConnected(t *testing.T) {
	tr, err := NewTransport(Defaults())
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, tr.Publish(ctx, xbroker.Destination{Name: "a"}, &xbroker.Message{}), ErrNotConnected)
	_, err = tr.Subscribe(ctx, xbroker.Destination{Name: "a"}, nil, func(xbroker.Delivery) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, tr.Close(ctx))
	assert.ErrorIs(t, tr.Connect(ctx), ErrClosed)
	assert.ErrorIs(t, tr.Publish(ctx, xbroker.Destination{Name: "a"}), ErrClosed)
}
