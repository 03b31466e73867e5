package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/broken-image-crawler/internal/progress"
	"github.com/JakeFAU/broken-image-crawler/internal/store"
)

// StoreSink mirrors run lifecycle and pages with broken images into a
// store.FindingRepository.
type StoreSink struct {
	repo   store.FindingRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.FindingRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards events in order. A failed write does not stop the rest of
// the batch; all failures are returned joined.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				errs = append(errs, err)
			}
		case progress.StagePageDone:
			if len(evt.BrokenImages) == 0 {
				continue
			}
			rec := store.FindingRecord{
				RunID:        runID,
				Sitemap:      evt.Sitemap,
				PageURL:      evt.URL,
				BrokenImages: evt.BrokenImages,
				Status:       evt.Status,
				FoundAt:      evt.TS,
			}
			if err := s.repo.InsertFinding(ctx, rec); err != nil {
				errs = append(errs, fmt.Errorf("insert finding %s: %w", evt.URL, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.FinishRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.FinishRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
