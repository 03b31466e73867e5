package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

// TestHubFlushesFullBatch verifies a full batch goes out without waiting for the tick.
func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatch: 2, FlushEvery: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StagePageDone))
	hub.Emit(sampleEvent(StagePageDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubFlushesOnRunBoundary verifies RUN_DONE delivers the pending pages immediately.
func TestHubFlushesOnRunBoundary(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatch: 100, FlushEvery: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StagePageDone))
	hub.Emit(sampleEvent(StageRunDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2 && b[0][1].Stage == StageRunDone
	}, time.Second, 5*time.Millisecond)
}

// TestHubFlushesOnTick verifies a partial batch is delivered after FlushEvery.
func TestHubFlushesOnTick(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatch: 10, FlushEvery: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StagePageDone))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without a reader.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		queue:  make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Stats().Dropped)
}

// TestHubDropsWhenQueueFull counts events that did not fit behind a stalled sink.
func TestHubDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	stalled := sinkFunc(func(ctx context.Context, _ []Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	hub := NewHub(Config{QueueSize: 1, MaxBatch: 1, FlushEvery: time.Minute}, stalled)

	for range 3 {
		hub.Emit(sampleEvent(StagePageDone))
	}
	stats := hub.Stats()
	require.GreaterOrEqual(t, stats.Dropped, int64(1))
	require.Equal(t, int64(3), stats.Accepted+stats.Dropped)

	close(release)
	require.NoError(t, hub.Close(context.Background()))
}

// TestHubFlushOnClose ensures Close drains any queued events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatch: 100, FlushEvery: time.Minute}, sink)

	hub.Emit(sampleEvent(StagePageDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.Equal(t, Stats{Accepted: 1, Batches: 1}, hub.Stats())
}

// TestHubSinkFailureDoesNotStarveOthers checks every sink sees the batch when one fails.
func TestHubSinkFailureDoesNotStarveOthers(t *testing.T) {
	t.Parallel()

	good := newStubSink()
	bad := sinkFunc(func(context.Context, []Event) error { return errors.New("db down") })
	hub := NewHub(Config{FlushEvery: time.Minute}, bad, nil, good)

	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, good.Batches(), 1)
	require.Equal(t, int64(1), hub.Stats().SinkErrors)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:   UUIDToBytes(uuid.New()),
		TS:      time.Now(),
		Stage:   stage,
		Sitemap: "https://example.com/sitemap.xml",
		URL:     "https://example.com/p1",
	}
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatch: 1, FlushEvery: time.Minute}, sink)

	hub.Emit(Event{Stage: StageRunStart, TS: time.Now()})
	page := sampleEvent(StagePageDone)
	page.URL = ""
	hub.Emit(page)
	hub.Emit(sampleEvent(StagePageDone))

	require.NoError(t, hub.Close(context.Background()))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, StagePageDone, batches[0][0].Stage)
}

func TestHubCopiesBrokenImages(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatch: 10, FlushEvery: time.Minute}, sink)

	images := []string{"https://x/a.png"}
	evt := sampleEvent(StagePageDone)
	evt.BrokenImages = images
	hub.Emit(evt)
	images[0] = "mutated"

	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, []string{"https://x/a.png"}, sink.Batches()[0][0].BrokenImages)
}

func TestHubEmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent(StageRunStart))
	require.Empty(t, sink.Batches())

	var nilHub *Hub
	nilHub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, nilHub.Close(context.Background()))
	require.Zero(t, nilHub.Stats())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := sampleEvent(StageRunStart)
	cases := map[string]struct {
		mutate  func(*Event)
		wantErr bool
	}{
		"ok run":            {mutate: func(*Event) {}},
		"missing run id":    {mutate: func(e *Event) { e.RunID = [16]byte{} }, wantErr: true},
		"missing ts":        {mutate: func(e *Event) { e.TS = time.Time{} }, wantErr: true},
		"unknown stage":     {mutate: func(e *Event) { e.Stage = "NOPE" }, wantErr: true},
		"sitemap no url":    {mutate: func(e *Event) { e.Stage = StageSitemapError; e.Sitemap = "" }, wantErr: true},
		"page ok":           {mutate: func(e *Event) { e.Stage = StagePageError }},
		"negative duration": {mutate: func(e *Event) { e.Dur = -time.Second }, wantErr: true},
		"negative links":    {mutate: func(e *Event) { e.Stage = StageSitemapDone; e.Links = -1 }, wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			evt := base
			tc.mutate(&evt)
			err := evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(200))
	require.Equal(t, Status3xx, ClassifyStatus(304))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}
