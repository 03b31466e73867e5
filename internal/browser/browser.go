// Package browser drives a single headless browser page for the crawler.
//
// Two drivers are available: chromedp (default) and go-rod. Both expose the
// same Page contract, so inspection code never depends on a specific driver.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Supported drivers.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Navigation describes the main document a page settled on.
type Navigation struct {
	URL      string
	FinalURL string
	// Status is the HTTP status of the main document, or 0 when unknown.
	Status int
}

// Page is one browser tab. Implementations are not safe for concurrent use.
type Page interface {
	// Navigate loads url and waits until network activity is nearly idle.
	Navigate(ctx context.Context, url string) (Navigation, error)
	// Evaluate calls the JavaScript function expression fn with arg (JSON encoded),
	// awaits a returned promise, and decodes the result into out.
	Evaluate(ctx context.Context, fn string, arg any, out any) error
}

// Config controls browser launch.
type Config struct {
	Driver            string
	Headless          bool
	NoSandbox         bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	WindowWidth       int
	WindowHeight      int
}

func (c Config) navTimeout() time.Duration {
	if c.NavigationTimeout > 0 {
		return c.NavigationTimeout
	}
	return 30 * time.Second
}

func (c Config) window() (int, int) {
	w, h := c.WindowWidth, c.WindowHeight
	if w <= 0 {
		w = 1366
	}
	if h <= 0 {
		h = 768
	}
	return w, h
}

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown browser driver")

// Session owns a browser process and the single page used for a run.
type Session struct {
	page    Page
	closeFn func() error
	once    sync.Once
	err     error
}

// NewSession wraps an existing page. closeFn may be nil.
func NewSession(page Page, closeFn func() error) *Session {
	return &Session{page: page, closeFn: closeFn}
}

// Open launches the configured driver and opens its page.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverChromedp
	}
	var (
		s   *Session
		err error
	)
	switch driver {
	case DriverChromedp:
		s, err = openChromedp(ctx, cfg, logger.Named("chromedp"))
	case DriverRod:
		s, err = openRod(ctx, cfg, logger.Named("rod"))
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("launch %s browser: %w", driver, err)
	}
	logger.Info("browser ready", zap.String("driver", driver), zap.Bool("headless", cfg.Headless))
	return s, nil
}

// Page returns the session's page.
func (s *Session) Page() Page {
	return s.page
}

// Close releases the browser. Subsequent calls return the first result.
func (s *Session) Close() error {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}

// callExpression builds `(fn)(arg)` with arg rendered as a JSON literal.
func callExpression(fn string, arg any) (string, error) {
	if arg == nil {
		return "(" + fn + ")()", nil
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("encode evaluate argument: %w", err)
	}
	return "(" + fn + ")(" + string(raw) + ")", nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
