package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/broken-image-crawler/internal/progress"
)

// LogSink emits one debug line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", uuid.UUID(evt.RunID).String()),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Sitemap != "" {
			fields = append(fields, zap.String("sitemap", evt.Sitemap))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		switch evt.Stage {
		case progress.StageSitemapDone:
			fields = append(fields, zap.Int("links", evt.Links))
		case progress.StagePageDone:
			fields = append(fields,
				zap.Int("status", evt.Status),
				zap.Int("broken_images", len(evt.BrokenImages)),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
