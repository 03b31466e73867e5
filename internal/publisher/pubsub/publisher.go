// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/broken-image-crawler/internal/publisher"
)

// Config names the Pub/Sub topic findings are announced on.
type Config struct {
	ProjectID string
	TopicName string
}

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic   string
	publish publishFunc
	stop    func()
}

var _ publisher.Publisher = (*Publisher)(nil)

// New creates a client for cfg.ProjectID and publishes to cfg.TopicName.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, errors.New("pubsub project id and topic name are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicName)
	p := newWithFunc(cfg.TopicName, func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return topic.Publish(ctx, msg).Get(ctx)
	})
	p.stop = func() {
		topic.Stop()
		_ = client.Close()
	}
	return p, nil
}

func newWithFunc(topic string, fn publishFunc) *Publisher {
	return &Publisher{topic: topic, publish: fn}
}

// Topic returns the configured topic name.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish marshals the payload to JSON and publishes it. An empty topic
// selects the configured one; any other value must match it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.publish == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic != "" && topic != p.topic {
		return "", fmt.Errorf("publisher bound to topic %q, got %q", p.topic, topic)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.publish(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() {
	if p != nil && p.stop != nil {
		p.stop()
	}
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
