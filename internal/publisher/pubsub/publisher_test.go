package pubsub

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
)

func TestPublishEncodesPayload(t *testing.T) {
	t.Parallel()

	var got *pubsub.Message
	p := newWithFunc("findings", func(_ context.Context, msg *pubsub.Message) (string, error) {
		got = msg
		return "msg-1", nil
	})

	id, err := p.Publish(context.Background(), "", map[string]any{"pageUrl": "p2"})
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)
	require.JSONEq(t, `{"pageUrl":"p2"}`, string(got.Data))
	require.NotNil(t, got.Attributes)
	require.Equal(t, "findings", p.Topic())
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	p := newWithFunc("findings", func(context.Context, *pubsub.Message) (string, error) {
		return "", errors.New("unavailable")
	})
	_, err = p.Publish(context.Background(), "findings", "x")
	require.ErrorContains(t, err, "unavailable")

	_, err = p.Publish(context.Background(), "other", "x")
	require.ErrorContains(t, err, "bound to topic")

	_, err = p.Publish(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestNewRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
