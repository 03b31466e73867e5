package findings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/broken-image-crawler/internal/storage"
)

// Strategy selects when the log is written to its store.
type Strategy string

// Supported strategies.
const (
	// StrategyBatch keeps entries in memory and writes them once on Flush.
	StrategyBatch Strategy = "batch"
	// StrategyIncremental rewrites the whole file after every Append.
	StrategyIncremental Strategy = "incremental"
)

const contentType = "application/json"

// Log is an append-only record of findings.
type Log interface {
	Append(ctx context.Context, f Finding) error
	Flush(ctx context.Context) error
	// Entries returns the findings appended during this process, in order.
	Entries() []Finding
}

// ParseStrategy validates a configured strategy name.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(raw) {
	case StrategyBatch, StrategyIncremental:
		return Strategy(raw), nil
	default:
		return "", fmt.Errorf("unknown output strategy %q", raw)
	}
}

// New builds the Log for strategy, persisting to path inside store.
func New(strategy Strategy, store storage.Store, path string, logger *zap.Logger) (Log, error) {
	if store == nil {
		return nil, errors.New("findings store is required")
	}
	if path == "" {
		return nil, errors.New("findings path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := logBase{store: store, path: path, logger: logger}
	switch strategy {
	case StrategyBatch:
		return &BatchLog{logBase: base}, nil
	case StrategyIncremental:
		return &IncrementalLog{logBase: base}, nil
	default:
		return nil, fmt.Errorf("unknown output strategy %q", strategy)
	}
}

type logBase struct {
	mu      sync.Mutex
	store   storage.Store
	path    string
	logger  *zap.Logger
	entries []Finding
}

func (b *logBase) Entries() []Finding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Finding(nil), b.entries...)
}

func (b *logBase) write(ctx context.Context, entries []Finding) error {
	payload, err := Encode(entries)
	if err != nil {
		return err
	}
	uri, err := b.store.PutObject(ctx, b.path, contentType, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("write findings %s: %w", b.path, err)
	}
	b.logger.Debug("findings written", zap.String("uri", uri), zap.Int("entries", len(entries)))
	return nil
}

// BatchLog accumulates findings and writes the full array once.
type BatchLog struct {
	logBase
}

// Append records f in memory.
func (l *BatchLog) Append(_ context.Context, f Finding) error {
	if len(f.BrokenImages) == 0 {
		return ErrEmptyFinding
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, f)
	return nil
}

// Flush overwrites the output with every finding recorded so far.
func (l *BatchLog) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(ctx, l.entries)
}

// IncrementalLog performs a read-modify-write of the output on every Append, so the
// file always holds every finding appended so far, including those of earlier runs.
type IncrementalLog struct {
	logBase
}

// Append reads the existing file (absent means empty), appends f, and rewrites it.
func (l *IncrementalLog) Append(ctx context.Context, f Finding) error {
	if len(f.BrokenImages) == 0 {
		return ErrEmptyFinding
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.load(ctx)
	if err != nil {
		return err
	}
	if err := l.write(ctx, append(existing, f)); err != nil {
		return err
	}
	l.entries = append(l.entries, f)
	return nil
}

// Flush is a no-op; every Append is already durable.
func (l *IncrementalLog) Flush(context.Context) error {
	return nil
}

func (l *IncrementalLog) load(ctx context.Context) ([]Finding, error) {
	data, err := l.store.Get(ctx, l.path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []Finding{}, nil
		}
		return nil, fmt.Errorf("read findings %s: %w", l.path, err)
	}
	entries, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("read findings %s: %w", l.path, err)
	}
	return entries, nil
}
