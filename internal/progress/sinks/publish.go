package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/broken-image-crawler/internal/progress"
	"github.com/JakeFAU/broken-image-crawler/internal/publisher"
)

// FindingMessage is the Pub/Sub payload announcing one page with broken images.
type FindingMessage struct {
	RunID        string    `json:"runId"`
	Sitemap      string    `json:"sitemap,omitempty"`
	PageURL      string    `json:"pageUrl"`
	BrokenImages []string  `json:"brokenImages"`
	Status       int       `json:"status,omitempty"`
	FoundAt      time.Time `json:"foundAt"`
}

// PublishSink announces each page that reported broken images.
type PublishSink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink publishes findings to topic through pub.
func NewPublishSink(pub publisher.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes every PAGE_DONE event carrying broken images. A failed
// publish does not stop the rest of the batch; all failures are returned joined.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StagePageDone || len(evt.BrokenImages) == 0 {
			continue
		}
		msg := FindingMessage{
			RunID:        uuid.UUID(evt.RunID).String(),
			Sitemap:      evt.Sitemap,
			PageURL:      evt.URL,
			BrokenImages: evt.BrokenImages,
			Status:       evt.Status,
			FoundAt:      evt.TS.UTC(),
		}
		id, err := s.pub.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish finding %s: %w", evt.URL, err))
			continue
		}
		s.logger.Debug("finding published", zap.String("url", evt.URL), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
