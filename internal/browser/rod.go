package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// requestIdleWindow mirrors the chromedp driver's networkAlmostIdle quiet period.
const requestIdleWindow = 500 * time.Millisecond

// RodPage implements Page on a single go-rod page.
type RodPage struct {
	cfg    Config
	logger *zap.Logger
	page   *rod.Page
}

var _ Page = (*RodPage)(nil)

func openRod(_ context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("disable-default-apps")
	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect: %w", err)
	}
	p, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("open page: %w", err)
	}

	width, height := cfg.window()
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  width,
		Height: height,
	}); err != nil {
		logger.Warn("set viewport failed", zap.Error(err))
	}
	if cfg.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			logger.Warn("set user agent failed", zap.Error(err))
		}
	}

	page := &RodPage{cfg: cfg, logger: logger, page: p}
	closeFn := func() error {
		var errs []error
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		l.Cleanup()
		return errors.Join(errs...)
	}
	return NewSession(page, closeFn), nil
}

// Navigate loads url and waits until no request has been in flight for 500ms.
func (r *RodPage) Navigate(ctx context.Context, url string) (Navigation, error) {
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.navTimeout())
	defer cancel()
	p := r.page.Context(navCtx)

	meta := newResponseMeta()
	mainFrame := r.page.FrameID
	watch := p.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return
		}
		if e.FrameID != "" && e.FrameID != mainFrame {
			return
		}
		meta.record(e.Response.Status, e.Response.URL)
	})
	go watch()

	waitIdle := p.WaitRequestIdle(requestIdleWindow, nil, nil, nil)
	if err := p.Navigate(url); err != nil {
		return Navigation{}, fmt.Errorf("navigate %s: %w", url, navErr(ctx, err))
	}
	waitIdle()
	if err := navCtx.Err(); err != nil {
		return Navigation{}, fmt.Errorf("wait for network idle on %s: %w", url, navErr(ctx, err))
	}

	var location string
	if info, err := p.Info(); err == nil {
		location = info.URL
	} else {
		r.logger.Debug("read location failed", zap.String("url", url), zap.Error(err))
	}
	status, finalURL := meta.snapshot(url, location)
	return Navigation{URL: url, FinalURL: finalURL, Status: status}, nil
}

// Evaluate runs fn in the page, awaiting promises, and decodes the result into out.
func (r *RodPage) Evaluate(ctx context.Context, fn string, arg any, out any) error {
	opts := rod.Eval(fn).ByPromise()
	if arg != nil {
		opts = rod.Eval(fn, arg).ByPromise()
	}
	res, err := r.page.Context(ctx).Evaluate(opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("evaluate: %w", ctxErr)
		}
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("evaluate: encode result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("evaluate: decode result: %w", err)
	}
	return nil
}
