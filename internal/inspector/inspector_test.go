package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/broken-image-crawler/internal/browser"
)

type stubPage struct {
	nav        browser.Navigation
	navErr     error
	scroll     scrollResult
	scrollErr  error
	extract    extractResult
	extractErr error

	navigated   []string
	scrollArgs  []scrollArgs
	extractArgs []extractArgs
}

func (p *stubPage) Navigate(_ context.Context, url string) (browser.Navigation, error) {
	p.navigated = append(p.navigated, url)
	if p.navErr != nil {
		return browser.Navigation{}, p.navErr
	}
	nav := p.nav
	nav.URL = url
	if nav.FinalURL == "" {
		nav.FinalURL = url
	}
	return nav, nil
}

func (p *stubPage) Evaluate(_ context.Context, fn string, arg any, out any) error {
	var payload any
	switch fn {
	case scrollScript:
		p.scrollArgs = append(p.scrollArgs, arg.(scrollArgs))
		if p.scrollErr != nil {
			return p.scrollErr
		}
		payload = p.scroll
	case extractScript:
		p.extractArgs = append(p.extractArgs, arg.(extractArgs))
		if p.extractErr != nil {
			return p.extractErr
		}
		payload = p.extract
	default:
		return fmt.Errorf("unexpected script")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestInspectReportsBrokenImagesInOrder(t *testing.T) {
	t.Parallel()

	page := &stubPage{
		nav:    browser.Navigation{Status: 200},
		scroll: scrollResult{Steps: 7, ReachedBottom: true},
		extract: extractResult{
			Broken:        []string{"https://x/b1.png", "https://x/b2.png"},
			LazyRewritten: 3,
		},
	}
	var slept []time.Duration
	insp := New(Options{SettleDelay: 3 * time.Second, ScrollMaxSteps: 50}, zap.NewNop(),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}))

	res, err := insp.Inspect(context.Background(), page, "https://x/p")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/b1.png", "https://x/b2.png"}, res.BrokenImages)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "https://x/p", res.FinalURL)
	assert.Equal(t, 7, res.ScrollSteps)
	assert.True(t, res.ScrollComplete)
	assert.Equal(t, 3, res.LazyRewritten)
	assert.Equal(t, []time.Duration{3 * time.Second}, slept)

	require.Len(t, page.scrollArgs, 1)
	assert.Equal(t, scrollArgs{Step: 200, IntervalMs: 100, MaxSteps: 50}, page.scrollArgs[0])
	require.Len(t, page.extractArgs, 1)
	assert.Equal(t, "classify_first", page.extractArgs[0].Order)
}

func TestInspectNoBrokenImagesIsEmptyNotNil(t *testing.T) {
	t.Parallel()

	page := &stubPage{scroll: scrollResult{ReachedBottom: true}}
	res, err := New(Options{}, nil, WithSleep(noSleep)).Inspect(context.Background(), page, "https://x/p")
	require.NoError(t, err)
	require.NotNil(t, res.BrokenImages)
	require.Empty(t, res.BrokenImages)
}

func TestInspectPartialScrollWarns(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	page := &stubPage{
		scroll:  scrollResult{Steps: 500, ReachedBottom: false},
		extract: extractResult{Broken: []string{"x"}},
	}
	res, err := New(Options{}, zap.New(core), WithSleep(noSleep)).Inspect(context.Background(), page, "https://x/long")
	require.NoError(t, err)
	assert.False(t, res.ScrollComplete)
	assert.Equal(t, []string{"x"}, res.BrokenImages)
	assert.Equal(t, 1, logs.FilterMessage("scroll stopped before reaching the bottom").Len())
}

func TestInspectStageErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	cases := map[string]struct {
		page     *stubPage
		opts     Options
		sleep    func(context.Context, time.Duration) error
		stage    Stage
		sentinel error
	}{
		"navigate": {
			page:     &stubPage{navErr: boom},
			stage:    StageNavigate,
			sentinel: ErrNavigation,
		},
		"scroll": {
			page:     &stubPage{scrollErr: boom},
			stage:    StageScroll,
			sentinel: ErrEvaluation,
		},
		"evaluate": {
			page:     &stubPage{scroll: scrollResult{ReachedBottom: true}, extractErr: boom},
			stage:    StageEvaluate,
			sentinel: ErrEvaluation,
		},
		"settle": {
			page:  &stubPage{scroll: scrollResult{ReachedBottom: true}},
			opts:  Options{SettleDelay: time.Second},
			sleep: func(context.Context, time.Duration) error { return boom },
			stage: StageSettle,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			sleep := tc.sleep
			if sleep == nil {
				sleep = noSleep
			}
			_, err := New(tc.opts, nil, WithSleep(sleep)).Inspect(context.Background(), tc.page, "https://x/p")
			require.Error(t, err)

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tc.stage, stageErr.Stage)
			assert.Equal(t, "https://x/p", stageErr.URL)
			require.ErrorIs(t, err, boom)
			if tc.sentinel != nil {
				require.ErrorIs(t, err, tc.sentinel)
			}
			assert.Contains(t, err.Error(), string(tc.stage))
		})
	}
}

func TestInspectHTTPErrorPolicy(t *testing.T) {
	t.Parallel()

	page := &stubPage{nav: browser.Navigation{Status: 503}, scroll: scrollResult{ReachedBottom: true}}

	res, err := New(Options{}, nil, WithSleep(noSleep)).Inspect(context.Background(), page, "https://x/p")
	require.NoError(t, err, "error statuses are inspected by default")
	assert.Equal(t, 503, res.Status)

	_, err = New(Options{FailOnHTTPError: true}, nil, WithSleep(noSleep)).Inspect(context.Background(), page, "https://x/p")
	require.ErrorIs(t, err, ErrNavigation)
	require.ErrorIs(t, err, ErrHTTPStatus)
}

func TestSleepContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepContext(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

const tallPage = `<!doctype html><html><body style="margin:0">
<img src="/img/ok.svg">
<img src="/img/missing-1.png">
<div style="height:3000px"></div>
<img src="/img/ok.svg">
<img src="/img/missing-2.png">
<img src="/img/missing-3.png" data-src="/img/ok.svg">
</body></html>`

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, tallPage)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "ok.svg") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = fmt.Fprint(w, `<svg xmlns="http://www.w3.org/2000/svg" width="4" height="4"/>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInspectInChrome(t *testing.T) {
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}
	srv := newImageServer(t)
	session, err := browser.Open(context.Background(), browser.Config{
		Driver:            browser.DriverChromedp,
		Headless:          true,
		NoSandbox:         true,
		NavigationTimeout: 15 * time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	opts := Options{
		ScrollStepPx:      400,
		ScrollInterval:    10 * time.Millisecond,
		ScrollMaxSteps:    100,
		ScrollMaxDuration: 10 * time.Second,
		SettleDelay:       200 * time.Millisecond,
		LazySettle:        2 * time.Second,
	}

	opts.LazyOrder = ClassifyFirst
	res, err := New(opts, nil).Inspect(context.Background(), session.Page(), srv.URL+"/page")
	require.NoError(t, err)
	assert.True(t, res.ScrollComplete)
	assert.Equal(t, []string{
		srv.URL + "/img/missing-1.png",
		srv.URL + "/img/missing-2.png",
		srv.URL + "/img/missing-3.png",
	}, res.BrokenImages)
	assert.Equal(t, 1, res.LazyRewritten)

	opts.LazyOrder = RewriteFirst
	res, err = New(opts, nil).Inspect(context.Background(), session.Page(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/img/missing-1.png",
		srv.URL + "/img/missing-2.png",
	}, res.BrokenImages)
}
