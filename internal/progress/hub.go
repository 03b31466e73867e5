package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config tunes the Hub. Zero values pick defaults sized for one sequential
// crawl, which emits a few events per page with pages seconds apart.
type Config struct {
	// QueueSize bounds events waiting for delivery; Emit drops beyond it.
	QueueSize int
	// MaxBatch caps the events handed to a sink in one Consume call.
	MaxBatch int
	// FlushEvery delivers a partial batch that has waited this long.
	FlushEvery  time.Duration
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultQueueSize   = 256
	defaultMaxBatch    = 32
	defaultFlushEvery  = 2 * time.Second
	defaultSinkTimeout = 10 * time.Second
	dropLogInterval    = 5 * time.Second
)

// Stats counts Hub traffic since NewHub.
type Stats struct {
	Accepted   int64
	Dropped    int64
	Batches    int64
	SinkErrors int64
}

// Hub queues events from the crawl and delivers them to sinks on a
// background goroutine. Emit never blocks. A batch goes out when it is full,
// when a run starts or ends, or after FlushEvery.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropLog    rate.Sometimes
	accepted   atomic.Int64
	dropped    atomic.Int64
	batches    atomic.Int64
	sinkErrors atomic.Int64
	closed     atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts delivery to sinks. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   slices.DeleteFunc(slices.Clone(sinks), func(s Sink) bool { return s == nil }),
		queue:   make(chan Event, cfg.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  cfg.Logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events and events sent after Close
// are discarded; a full queue drops evt and logs at most every few seconds.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	evt.BrokenImages = slices.Clone(evt.BrokenImages)
	select {
	case h.queue <- evt:
		h.accepted.Add(1)
	default:
		total := h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress queue full, dropping events",
				zap.String("stage", string(evt.Stage)),
				zap.Int64("dropped_total", total),
			)
		})
	}
}

// Close delivers everything still queued, closes the sinks, and waits for
// the delivery goroutine or ctx. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// Stats reports the Hub's counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Accepted:   h.accepted.Load(),
		Dropped:    h.dropped.Load(),
		Batches:    h.batches.Load(),
		SinkErrors: h.sinkErrors.Load(),
	}
}

// endsBatch reports whether stage marks a run boundary that sinks should see
// without waiting for the flush tick.
func endsBatch(stage Stage) bool {
	switch stage {
	case StageRunStart, StageRunDone, StageRunError:
		return true
	default:
		return false
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()

	var pending []Event
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatch || endsBatch(evt.Stage) {
				pending = h.deliver(pending)
			}
		case <-ticker.C:
			pending = h.deliver(pending)
		case <-h.stop:
			for {
				select {
				case evt := <-h.queue:
					pending = append(pending, evt)
				default:
					h.deliver(pending)
					h.closeSinks()
					return
				}
			}
		}
	}
}

// deliver hands pending to the sinks in MaxBatch chunks and returns the
// emptied buffer.
func (h *Hub) deliver(pending []Event) []Event {
	for chunk := range slices.Chunk(pending, h.cfg.MaxBatch) {
		h.fanOut(slices.Clone(chunk))
	}
	return pending[:0]
}

// fanOut runs every sink on batch concurrently. Each sink still sees batches
// one at a time and in order.
func (h *Hub) fanOut(batch []Event) {
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, batch); err != nil {
				h.sinkErrors.Add(1)
				h.logger.Warn("progress sink consume failed",
					zap.String("sink", fmt.Sprintf("%T", sink)),
					zap.Int("events", len(batch)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	h.batches.Add(1)
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if err := sink.Close(h.closeCtx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}
