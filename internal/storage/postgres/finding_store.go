// Package postgres mirrors crawl runs and broken-image findings into Postgres.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/broken-image-crawler/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultFindingsTable = "broken_image_findings"
	DefaultRunsTable     = "crawl_runs"
)

// Config controls the Postgres connection pool and target tables.
type Config struct {
	DSN             string
	Table           string
	RunsTable       string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FindingStore implements store.FindingRepository.
type FindingStore struct {
	pool      execCloser
	table     string
	runsTable string
}

var _ store.FindingRepository = (*FindingStore)(nil)

// New connects a FindingStore using cfg.
func New(ctx context.Context, cfg Config) (*FindingStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, runsTable, err := tableNames(cfg.Table, cfg.RunsTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FindingStore{pool: pool, table: table, runsTable: runsTable}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table, runsTable string) (*FindingStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	table, runsTable, err := tableNames(table, runsTable)
	if err != nil {
		return nil, err
	}
	return &FindingStore{pool: pool, table: table, runsTable: runsTable}, nil
}

func tableNames(table, runsTable string) (string, string, error) {
	if table == "" {
		table = DefaultFindingsTable
	}
	if runsTable == "" {
		runsTable = DefaultRunsTable
	}
	for _, name := range []string{table, runsTable} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return table, runsTable, nil
}

// Close releases the underlying pool resources.
func (s *FindingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the runs and findings tables when they are missing.
func (s *FindingStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY,
	started_at timestamptz NOT NULL,
	finished_at timestamptz,
	status text NOT NULL,
	error_message text
)`, s.runsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	run_id uuid NOT NULL,
	sitemap_url text NOT NULL,
	page_url text NOT NULL,
	broken_images jsonb NOT NULL,
	status_code integer NOT NULL,
	found_at timestamptz NOT NULL
)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// StartRun inserts a running row for runID.
func (s *FindingStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`, s.runsTable)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of runID.
func (s *FindingStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, error_message = $3
WHERE id = $4`, s.runsTable)
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// InsertFinding stores one page's broken images as a JSON array.
func (s *FindingStore) InsertFinding(ctx context.Context, rec store.FindingRecord) error {
	if rec.PageURL == "" {
		return errors.New("finding page url is required")
	}
	images := rec.BrokenImages
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := encodeImages(images)
	if err != nil {
		return fmt.Errorf("marshal broken images: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	sitemap_url,
	page_url,
	broken_images,
	status_code,
	found_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.table)
	args := []any{
		rec.RunID,
		rec.Sitemap,
		rec.PageURL,
		imagesJSON,
		rec.Status,
		rec.FoundAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// encodeImages matches the findings file encoding: no HTML escaping, so
// query strings keep their raw '&'.
func encodeImages(images []string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(images); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
