// Package inspector visits a single page in a browser and reports the images
// that failed to load after the page was scrolled to the bottom.
package inspector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/broken-image-crawler/internal/browser"
)

// LazyOrder decides whether lazy sources are promoted before or after classification.
type LazyOrder string

// Supported lazy orders.
const (
	// ClassifyFirst reports images as first rendered, then promotes data-src.
	ClassifyFirst LazyOrder = "classify_first"
	// RewriteFirst promotes data-src, waits for the new sources, then classifies.
	RewriteFirst LazyOrder = "rewrite_first"
)

// Options tunes the scroll, settle, and extraction stages.
type Options struct {
	ScrollStepPx      int
	ScrollInterval    time.Duration
	ScrollMaxSteps    int
	ScrollMaxDuration time.Duration
	SettleDelay       time.Duration
	LazyOrder         LazyOrder
	LazySettle        time.Duration
	FailOnHTTPError   bool
}

// DefaultOptions matches the configuration defaults.
func DefaultOptions() Options {
	return Options{
		ScrollStepPx:      200,
		ScrollInterval:    100 * time.Millisecond,
		ScrollMaxSteps:    500,
		ScrollMaxDuration: 60 * time.Second,
		SettleDelay:       3 * time.Second,
		LazyOrder:         ClassifyFirst,
		LazySettle:        2 * time.Second,
	}
}

// Result is the outcome of one successful inspection.
type Result struct {
	URL      string
	FinalURL string
	Status   int
	// BrokenImages holds resolved src values in DOM order; empty when none.
	BrokenImages   []string
	ScrollSteps    int
	ScrollComplete bool
	LazyRewritten  int
	Duration       time.Duration
}

// Inspector runs the per-page pipeline against a caller-owned page.
type Inspector struct {
	opts   Options
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// Option customizes an Inspector.
type Option func(*Inspector)

// WithSleep replaces the settle-delay timer.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(i *Inspector) {
		if fn != nil {
			i.sleep = fn
		}
	}
}

// WithNow replaces the clock used to measure durations.
func WithNow(fn func() time.Time) Option {
	return func(i *Inspector) {
		if fn != nil {
			i.now = fn
		}
	}
}

// New builds an Inspector. Zero scroll step or interval fall back to defaults.
func New(opts Options, logger *zap.Logger, options ...Option) *Inspector {
	def := DefaultOptions()
	if opts.ScrollStepPx <= 0 {
		opts.ScrollStepPx = def.ScrollStepPx
	}
	if opts.ScrollInterval <= 0 {
		opts.ScrollInterval = def.ScrollInterval
	}
	if opts.LazyOrder == "" {
		opts.LazyOrder = def.LazyOrder
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Inspector{
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// Inspect navigates page to pageURL, scrolls to the bottom, waits the settle
// delay, then collects broken images. Failures are *StageError values.
func (i *Inspector) Inspect(ctx context.Context, page browser.Page, pageURL string) (Result, error) {
	start := i.now()
	res := Result{URL: pageURL, BrokenImages: []string{}}

	nav, err := page.Navigate(ctx, pageURL)
	if err != nil {
		return res, &StageError{Stage: StageNavigate, URL: pageURL, Err: err}
	}
	res.FinalURL = nav.FinalURL
	res.Status = nav.Status
	if i.opts.FailOnHTTPError && nav.Status >= http.StatusBadRequest {
		return res, &StageError{
			Stage: StageNavigate,
			URL:   pageURL,
			Err:   fmt.Errorf("%w: %d", ErrHTTPStatus, nav.Status),
		}
	}

	var scrolled scrollResult
	if err := page.Evaluate(ctx, scrollScript, i.scrollArgs(), &scrolled); err != nil {
		return res, &StageError{Stage: StageScroll, URL: pageURL, Err: err}
	}
	res.ScrollSteps = scrolled.Steps
	res.ScrollComplete = scrolled.ReachedBottom
	if !scrolled.ReachedBottom {
		i.logger.Warn("scroll stopped before reaching the bottom",
			zap.String("url", pageURL),
			zap.Int("steps", scrolled.Steps),
		)
	}

	if i.opts.SettleDelay > 0 {
		if err := i.sleep(ctx, i.opts.SettleDelay); err != nil {
			return res, &StageError{Stage: StageSettle, URL: pageURL, Err: err}
		}
	}

	var extracted extractResult
	args := extractArgs{Order: string(i.opts.LazyOrder), SettleMs: i.opts.LazySettle.Milliseconds()}
	if err := page.Evaluate(ctx, extractScript, args, &extracted); err != nil {
		return res, &StageError{Stage: StageEvaluate, URL: pageURL, Err: err}
	}
	if extracted.Broken != nil {
		res.BrokenImages = extracted.Broken
	}
	res.LazyRewritten = extracted.LazyRewritten
	res.Duration = i.now().Sub(start)
	return res, nil
}

func (i *Inspector) scrollArgs() scrollArgs {
	return scrollArgs{
		Step:          i.opts.ScrollStepPx,
		IntervalMs:    i.opts.ScrollInterval.Milliseconds(),
		MaxSteps:      i.opts.ScrollMaxSteps,
		MaxDurationMs: i.opts.ScrollMaxDuration.Milliseconds(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("settle delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
