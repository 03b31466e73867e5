package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/broken-image-crawler/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	sitemaps     *prometheus.CounterVec
	sitemapLinks prometheus.Counter

	pages           *prometheus.CounterVec
	pageDuration    prometheus.Histogram
	pagesWithBroken prometheus.Counter
	brokenImages    prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagecheck_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecheck_runs_completed_total",
			Help: "Crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagecheck_runs_running",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagecheck_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		sitemaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecheck_sitemaps_total",
			Help: "Sitemaps read partitioned by result.",
		}, []string{"result"}),
		sitemapLinks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagecheck_sitemap_links_total",
			Help: "Page URLs discovered in sitemaps.",
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagecheck_pages_total",
			Help: "Pages inspected partitioned by result and document status class.",
		}, []string{"result", "status_class"}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imagecheck_page_duration_seconds",
			Help:    "Inspection time per page, settle delay included.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 60},
		}),
		pagesWithBroken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagecheck_pages_with_broken_images_total",
			Help: "Pages that reported at least one broken image.",
		}),
		brokenImages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagecheck_broken_images_total",
			Help: "Broken images reported across all pages.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.sitemaps,
		s.sitemapLinks,
		s.pages,
		s.pageDuration,
		s.pagesWithBroken,
		s.brokenImages,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageSitemapDone:
		s.sitemaps.WithLabelValues("ok").Inc()
		s.sitemapLinks.Add(float64(evt.Links))
	case progress.StageSitemapError:
		s.sitemaps.WithLabelValues("error").Inc()
	case progress.StagePageDone:
		s.pages.WithLabelValues("ok", string(progress.ClassifyStatus(evt.Status))).Inc()
		if evt.Dur > 0 {
			s.pageDuration.Observe(evt.Dur.Seconds())
		}
		if n := len(evt.BrokenImages); n > 0 {
			s.pagesWithBroken.Inc()
			s.brokenImages.Add(float64(n))
		}
	case progress.StagePageError:
		s.pages.WithLabelValues("error", string(progress.ClassifyStatus(evt.Status))).Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
