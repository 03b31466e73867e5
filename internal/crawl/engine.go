package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/broken-image-crawler/internal/browser"
	"github.com/JakeFAU/broken-image-crawler/internal/clock/system"
	"github.com/JakeFAU/broken-image-crawler/internal/findings"
	"github.com/JakeFAU/broken-image-crawler/internal/id/uuid"
	"github.com/JakeFAU/broken-image-crawler/internal/progress"
)

// Deps carries the collaborators an Engine drives. Clock, IDs, and Progress
// are optional.
type Deps struct {
	Reader    SitemapReader
	Inspector PageInspector
	Page      browser.Page
	Log       findings.Log
	Progress  progress.Emitter
	Clock     Clock
	IDs       IDGenerator
}

// Engine runs the sitemap → page → findings loop.
type Engine struct {
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.RWMutex
	summary Summary
}

// New validates deps and builds an Engine.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Reader == nil:
		return nil, errors.New("crawl: sitemap reader is required")
	case deps.Inspector == nil:
		return nil, errors.New("crawl: page inspector is required")
	case deps.Page == nil:
		return nil, errors.New("crawl: browser page is required")
	case deps.Log == nil:
		return nil, errors.New("crawl: findings log is required")
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("crawl: max pages must be >= 0, got %d", cfg.MaxPages)
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Progress == nil {
		deps.Progress = progress.EmitterFunc(func(progress.Event) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	if cfg.PageQPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.PageQPS), 1)
	}
	return e, nil
}

// Run crawls every configured sitemap in order. The findings log is flushed
// on every exit path; a flush failure is joined to the returned error.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	runUUID, err := e.deps.IDs.NewRawID()
	if err != nil {
		return Summary{}, fmt.Errorf("crawl: %w", err)
	}
	runID := progress.UUIDToBytes(runUUID)
	start := e.deps.Clock.Now()

	e.update(func(s *Summary) {
		*s = Summary{RunID: runUUID, Running: true, StartedAt: start}
	})
	e.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart})
	e.logger.Info("crawl started",
		zap.String("run_id", runUUID.String()),
		zap.Int("sitemaps", len(e.cfg.Sitemaps)),
	)

	runErr := e.crawl(ctx, runID)
	if flushErr := e.deps.Log.Flush(context.WithoutCancel(ctx)); flushErr != nil {
		runErr = errors.Join(runErr, fmt.Errorf("flush findings: %w", flushErr))
	}

	end := e.deps.Clock.Now()
	e.update(func(s *Summary) {
		s.Running = false
		s.FinishedAt = end
		s.CurrentPage = ""
		if runErr != nil {
			s.Aborted = true
			s.Error = runErr.Error()
		}
	})
	summary := e.Snapshot()

	done := progress.Event{RunID: runID, Stage: progress.StageRunDone, Dur: end.Sub(start)}
	fields := []zap.Field{
		zap.String("run_id", runUUID.String()),
		zap.Int("pages", summary.PagesInspected),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Int("broken_images", summary.BrokenImages),
		zap.Duration("elapsed", end.Sub(start)),
	}
	if runErr != nil {
		done.Stage = progress.StageRunError
		done.Note = runErr.Error()
		e.logger.Error("crawl aborted", append(fields, zap.Error(runErr))...)
	} else {
		e.logger.Info("crawl finished", fields...)
	}
	e.emit(done)
	return summary, runErr
}

// Snapshot returns the live summary of the current or last run.
func (e *Engine) Snapshot() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summary
}

func (e *Engine) crawl(ctx context.Context, runID [16]byte) error {
	visited := 0
	for _, sitemapURL := range e.cfg.Sitemaps {
		if err := ctx.Err(); err != nil {
			return err
		}
		links, err := e.deps.Reader.Read(ctx, sitemapURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			e.logger.Error("Error fetching or parsing sitemap",
				zap.String("sitemap", sitemapURL),
				zap.Error(err),
			)
			e.update(func(s *Summary) { s.SitemapsFailed++ })
			e.emit(progress.Event{
				RunID:   runID,
				Stage:   progress.StageSitemapError,
				Sitemap: sitemapURL,
				Note:    err.Error(),
			})
			continue
		}
		e.update(func(s *Summary) { s.Sitemaps++ })
		e.emit(progress.Event{
			RunID:   runID,
			Stage:   progress.StageSitemapDone,
			Sitemap: sitemapURL,
			Links:   len(links),
		})

		for _, link := range links {
			if err := ctx.Err(); err != nil {
				return err
			}
			if e.cfg.MaxPages > 0 && visited >= e.cfg.MaxPages {
				e.logger.Info("page limit reached", zap.Int("max_pages", e.cfg.MaxPages))
				return nil
			}
			if err := e.wait(ctx); err != nil {
				return err
			}
			visited++

			outcome := e.visit(ctx, runID, sitemapURL, link)
			if !outcome.OK() {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if e.cfg.ContinueOnError {
					continue
				}
				return fmt.Errorf("abort crawl: %w", outcome.Err)
			}
			if err := e.record(ctx, runID, outcome); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("page limiter: %w", err)
	}
	return nil
}

func (e *Engine) visit(ctx context.Context, runID [16]byte, sitemapURL, pageURL string) PageOutcome {
	e.logger.Info("Checking page", zap.String("url", pageURL))
	e.update(func(s *Summary) { s.CurrentPage = pageURL })

	res, err := e.deps.Inspector.Inspect(ctx, e.deps.Page, pageURL)
	outcome := PageOutcome{Sitemap: sitemapURL, URL: pageURL, Result: res, Err: err}
	if err == nil {
		return outcome
	}

	e.logger.Error("page inspection failed", zap.String("url", pageURL), zap.Error(err))
	e.update(func(s *Summary) { s.PagesFailed++ })
	e.emit(progress.Event{
		RunID:   runID,
		Stage:   progress.StagePageError,
		Sitemap: sitemapURL,
		URL:     pageURL,
		Status:  res.Status,
		Note:    err.Error(),
	})
	return outcome
}

func (e *Engine) record(ctx context.Context, runID [16]byte, outcome PageOutcome) error {
	res := outcome.Result
	evt := progress.Event{
		RunID:   runID,
		Stage:   progress.StagePageDone,
		Sitemap: outcome.Sitemap,
		URL:     outcome.URL,
		Status:  res.Status,
		Dur:     res.Duration,
	}

	if len(res.BrokenImages) == 0 {
		e.logger.Info("No broken images", zap.String("url", outcome.URL))
		e.update(func(s *Summary) { s.PagesInspected++ })
		e.emit(evt)
		return nil
	}

	e.logger.Info("Broken images found",
		zap.String("url", outcome.URL),
		zap.Strings("images", res.BrokenImages),
	)
	finding, err := findings.NewFinding(outcome.URL, res.BrokenImages)
	if err != nil {
		return fmt.Errorf("record %s: %w", outcome.URL, err)
	}
	if err := e.deps.Log.Append(ctx, finding); err != nil {
		return fmt.Errorf("record %s: %w", outcome.URL, err)
	}
	e.update(func(s *Summary) {
		s.PagesInspected++
		s.PagesWithFindings++
		s.BrokenImages += len(res.BrokenImages)
	})
	evt.BrokenImages = res.BrokenImages
	e.emit(evt)
	return nil
}

func (e *Engine) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = e.deps.Clock.Now()
	}
	e.deps.Progress.Emit(evt)
}

func (e *Engine) update(fn func(*Summary)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.summary)
}
