package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// FindingRecord is one page with broken images, as mirrored into a database.
type FindingRecord struct {
	RunID        uuid.UUID
	Sitemap      string
	PageURL      string
	BrokenImages []string
	Status       int
	FoundAt      time.Time
}

// FindingRepository persists run lifecycle and per-page findings.
type FindingRepository interface {
	// StartRun inserts (or idempotently refreshes) a running run row.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// FinishRun marks the run finished with status and an optional error.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// InsertFinding appends one finding row.
	InsertFinding(ctx context.Context, rec FindingRecord) error
}
