package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromedpPage implements Page on a single chromedp tab.
type ChromedpPage struct {
	cfg       Config
	logger    *zap.Logger
	tabCtx    context.Context
	mainFrame cdp.FrameID
}

var _ Page = (*ChromedpPage)(nil)

func openChromedp(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	width, height := cfg.window()
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(width, height),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	warmup := func(c context.Context) error {
		return chromedp.Run(c,
			network.Enable(),
			cdppage.SetLifecycleEventsEnabled(true),
		)
	}
	stop := forwardCancel(ctx, tabCancel)
	err := warmup(tabCtx)
	stop()
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: no target attached")
	}

	page := &ChromedpPage{
		cfg:    cfg,
		logger: logger,
		tabCtx: tabCtx,
		// The main frame shares its ID with the page target.
		mainFrame: cdp.FrameID(c.Target.TargetID),
	}
	closeFn := func() error {
		tabCancel()
		allocCancel()
		return nil
	}
	return NewSession(page, closeFn), nil
}

// Navigate loads url and waits for the main frame's networkAlmostIdle lifecycle
// event: no more than two open connections for 500ms.
func (p *ChromedpPage) Navigate(ctx context.Context, url string) (Navigation, error) {
	navCtx, cancel := context.WithTimeout(p.tabCtx, p.cfg.navTimeout())
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	listenCtx, stopListen := context.WithCancel(navCtx)
	defer stopListen()

	meta := newResponseMeta()
	idle := newIdleWaiter(p.mainFrame)
	chromedp.ListenTarget(listenCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.FrameID == "" || e.FrameID == p.mainFrame {
				meta.capture(e)
			}
		case *cdppage.EventLifecycleEvent:
			idle.observe(e)
		}
	})

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return Navigation{}, fmt.Errorf("navigate %s: %w", url, navErr(ctx, err))
	}

	select {
	case <-idle.done:
	case <-navCtx.Done():
		return Navigation{}, fmt.Errorf("wait for network idle on %s: %w", url, navErr(ctx, navCtx.Err()))
	}

	var location string
	if err := chromedp.Run(navCtx, chromedp.Location(&location)); err != nil {
		p.logger.Debug("read location failed", zap.String("url", url), zap.Error(err))
	}
	status, finalURL := meta.snapshot(url, location)
	return Navigation{URL: url, FinalURL: finalURL, Status: status}, nil
}

// Evaluate runs fn in the page and decodes its JSON result into out.
func (p *ChromedpPage) Evaluate(ctx context.Context, fn string, arg any, out any) error {
	expr, err := callExpression(fn, arg)
	if err != nil {
		return err
	}
	evalCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	awaitPromise := func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expr, out, awaitPromise)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("evaluate: %w", ctxErr)
		}
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// navErr prefers the caller's cancellation over the derived timeout.
func navErr(parent context.Context, err error) error {
	if parent != nil && parent.Err() != nil {
		return parent.Err()
	}
	return err
}

// idleWaiter closes done once the main frame reports networkAlmostIdle after a
// fresh document ("init"), ignoring stale events from the previous page.
type idleWaiter struct {
	frame   cdp.FrameID
	mu      sync.Mutex
	started bool
	once    sync.Once
	done    chan struct{}
}

func newIdleWaiter(frame cdp.FrameID) *idleWaiter {
	return &idleWaiter{frame: frame, done: make(chan struct{})}
}

func (w *idleWaiter) observe(ev *cdppage.EventLifecycleEvent) {
	if ev == nil || ev.FrameID != w.frame {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	switch ev.Name {
	case "init":
		w.started = true
	case "networkAlmostIdle":
		if w.started {
			w.once.Do(func() { close(w.done) })
		}
	}
}

type responseMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

// capture keeps the last document response so redirects resolve to the final hop.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event == nil || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.record(int(event.Response.Status), event.Response.URL)
}

func (m *responseMeta) record(status int, url string) {
	m.mu.Lock()
	m.status = status
	m.url = url
	m.mu.Unlock()
}

func (m *responseMeta) snapshot(requestURL, location string) (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	finalURL := location
	switch {
	case finalURL != "":
	case m.url != "":
		finalURL = m.url
	default:
		finalURL = requestURL
	}
	return m.status, finalURL
}
