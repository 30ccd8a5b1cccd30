package xbroker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_SingleDisposition(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		first func(e *Envelope) error
		check func(t *testing.T, d *fakeDelivery)
	}{
		{"ack", func(e *Envelope) error { return e.Ack(ctx) }, func(t *testing.T, d *fakeDelivery) { assert.Equal(t, 1, d.acks) }},
		{"nack", func(e *Envelope) error { return e.Nack(ctx, errors.New("x")) }, func(t *testing.T, d *fakeDelivery) { assert.Equal(t, 1, d.nacks) }},
		{"reject", func(e *Envelope) error { return e.Reject(ctx, errors.New("x")) }, func(t *testing.T, d *fakeDelivery) { assert.Equal(t, 1, d.rejects) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDelivery(nil)
			e := NewEnvelope(d, Destination{Name: "q"}, nil)
			assert.False(t, e.Processed())

			require.NoError(t, tt.first(e))
			assert.True(t, e.Processed())

			assert.ErrorIs(t, e.Ack(ctx), ErrAlreadyProcessed)
			assert.ErrorIs(t, e.Nack(ctx, nil), ErrAlreadyProcessed)
			assert.ErrorIs(t, e.Reject(ctx, nil), ErrAlreadyProcessed)

			tt.check(t, d)
			assert.Equal(t, 1, d.total())
		})
	}
}

func TestEnvelope_ConcurrentSettle(t *testing.T) {
	d := newFakeDelivery(nil)
	e := NewEnvelope(d, Destination{Name: "q"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = e.Ack(context.Background())
			} else {
				_ = e.Nack(context.Background(), nil)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, d.total())
}

func TestEnvelope_Fields(t *testing.T) {
	msg := &Message{
		ID:            "m-1",
		CorrelationID: "c-1",
		ContentType:   ContentTypeJSON,
		ReplyTo:       "replies",
		Payload:       []byte(`{"a":1}`),
		Headers:       map[string]string{"k": "v"},
	}
	d := newFakeDelivery(msg)
	e := NewEnvelope(d, Destination{Name: "orders", Group: "g"}, JSONCodec{})

	assert.Equal(t, "m-1", e.MessageID)
	assert.Equal(t, "c-1", e.CorrelationID)
	assert.Equal(t, "replies", e.ReplyTo)
	assert.Equal(t, "v", e.Headers["k"])
	assert.Equal(t, "orders", e.Destination.Name)
	assert.Same(t, d, e.Raw())

	e.Headers["k"] = "changed"
	e.Body[0] = '['
	assert.Equal(t, "v", msg.Headers["k"])
	assert.Equal(t, `{"a":1}`, string(msg.Payload))

	bare := NewEnvelope(newFakeDelivery(nil), Destination{Name: "q"}, nil)
	assert.NotEmpty(t, bare.MessageID)
	assert.NotEmpty(t, bare.CorrelationID)
	assert.NotEqual(t, bare.MessageID, bare.CorrelationID)
	assert.NotNil(t, bare.Headers)
}

func TestEnvelope_Decode(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		body []byte
		want any
	}{
		{"empty", ContentTypeJSON, nil, nil},
		{"text", "text/plain; charset=utf-8", []byte("hello"), "hello"},
		{"json", ContentTypeJSON, []byte(`{"a":1}`), map[string]any{"a": float64(1)}},
		{"binary", ContentTypeBinary, []byte{0x1, 0x2}, []byte{0x1, 0x2}},
		{"unknown json", "", []byte(`[1,2]`), []any{float64(1), float64(2)}},
		{"unknown raw", "", []byte("not json"), []byte("not json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnvelope(newFakeDelivery(&Message{ContentType: tt.ct, Payload: tt.body}), Destination{Name: "q"}, nil)
			got, err := e.Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	bad := NewEnvelope(newFakeDelivery(&Message{ContentType: ContentTypeJSON, Payload: []byte("{")}), Destination{Name: "q"}, nil)
	_, err := bad.Decode()
	assert.Error(t, err)
}

type order struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

func TestDecodeAs(t *testing.T) {
	e := NewEnvelope(newFakeDelivery(&Message{ContentType: ContentTypeJSON, Payload: []byte(`{"id":"o1","total":3}`)}), Destination{Name: "q"}, nil)

	o, err := DecodeAs[order](e)
	require.NoError(t, err)
	assert.Equal(t, order{ID: "o1", Total: 3}, o)

	// cached
	e.Body = []byte("garbage")
	again, err := DecodeAs[order](e)
	require.NoError(t, err)
	assert.Equal(t, o, again)

	s, err := DecodeAs[string](e)
	require.NoError(t, err)
	assert.Equal(t, "garbage", s)

	empty := NewEnvelope(newFakeDelivery(nil), Destination{Name: "q"}, nil)
	_, err = DecodeAs[order](empty)
	assert.Error(t, err)
}

func TestReject(t *testing.T) {
	base := errors.New("poison")
	err := Reject(base)
	assert.ErrorIs(t, err, ErrReject)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, ErrReject, Reject(nil))
}
