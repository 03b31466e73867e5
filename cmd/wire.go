package cmd

import (
	"context"
	"errors"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/broken-image-crawler/internal/browser"
	"github.com/JakeFAU/broken-image-crawler/internal/config"
	"github.com/JakeFAU/broken-image-crawler/internal/crawl"
	"github.com/JakeFAU/broken-image-crawler/internal/findings"
	"github.com/JakeFAU/broken-image-crawler/internal/inspector"
	"github.com/JakeFAU/broken-image-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/broken-image-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/broken-image-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/broken-image-crawler/internal/sitemap"
	"github.com/JakeFAU/broken-image-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/broken-image-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/broken-image-crawler/internal/storage/local"
	pgstore "github.com/JakeFAU/broken-image-crawler/internal/storage/postgres"
)

// resources owns everything a crawl run opens besides the browser.
type resources struct {
	logger    *zap.Logger
	registry  *prometheus.Registry
	store     storage.Store
	log       findings.Log
	hub       *progress.Hub
	gcsClient *gcstorage.Client
	pg        *pgstore.FindingStore
	publisher *gcppublisher.Publisher
}

func newSitemapReader(cfg config.Config, logger *zap.Logger) *sitemap.Reader {
	fetcher := sitemap.NewCollyFetcher(sitemap.FetcherConfig{
		UserAgent:    cfg.Sitemap.UserAgent,
		Timeout:      cfg.Sitemap.Timeout,
		MaxBodyBytes: cfg.Sitemap.MaxBodyBytes,
	})
	return sitemap.NewReader(fetcher,
		sitemap.WithMaxIndexDepth(cfg.Sitemap.MaxIndexDepth),
		sitemap.WithLogger(logger.Named("sitemap")),
	)
}

func newInspector(cfg config.Config, logger *zap.Logger) *inspector.Inspector {
	return inspector.New(inspector.Options{
		ScrollStepPx:      cfg.Inspect.ScrollStepPx,
		ScrollInterval:    cfg.Inspect.ScrollInterval,
		ScrollMaxSteps:    cfg.Inspect.ScrollMaxSteps,
		ScrollMaxDuration: cfg.Inspect.ScrollMaxDuration,
		SettleDelay:       cfg.Inspect.SettleDelay,
		LazyOrder:         inspector.LazyOrder(cfg.Inspect.LazyOrder),
		LazySettle:        cfg.Inspect.LazySettle,
		FailOnHTTPError:   cfg.Browser.FailOnHTTPError,
	}, logger.Named("inspector"))
}

func browserConfig(cfg config.Config) browser.Config {
	return browser.Config{
		Driver:            cfg.Browser.Driver,
		Headless:          cfg.Browser.Headless,
		NoSandbox:         cfg.Browser.NoSandbox,
		ExecPath:          cfg.Browser.ExecPath,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		WindowWidth:       cfg.Browser.WindowWidth,
		WindowHeight:      cfg.Browser.WindowHeight,
	}
}

func crawlConfig(cfg config.Config) crawl.Config {
	return crawl.Config{
		Sitemaps:        append([]string(nil), cfg.Crawl.Sitemaps...),
		ContinueOnError: cfg.Crawl.ContinueOnError,
		MaxPages:        cfg.Crawl.MaxPages,
		PageQPS:         cfg.Crawl.PageQPS,
	}
}

// openResources builds the store, findings log, optional mirrors, and the
// progress hub. On error everything opened so far is closed.
func openResources(ctx context.Context, cfg config.Config, logger *zap.Logger) (res *resources, err error) {
	res = &resources{logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			res.close(ctx)
			res = nil
		}
	}()

	res.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := res.openStore(ctx, cfg); err != nil {
		return res, err
	}
	strategy, err := findings.ParseStrategy(cfg.Output.Strategy)
	if err != nil {
		return res, err
	}
	res.log, err = findings.New(strategy, res.store, cfg.Output.File, logger.Named("findings"))
	if err != nil {
		return res, fmt.Errorf("init findings log: %w", err)
	}

	sinks, err := res.openSinks(ctx, cfg)
	if err != nil {
		return res, err
	}
	res.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      logger.Named("progress"),
	}, sinks...)
	return res, nil
}

func (r *resources) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		r.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs store init failed: %w", err)
		}
		r.store = store
	default:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Output.Dir})
		if err != nil {
			return fmt.Errorf("local store init failed: %w", err)
		}
		r.store = store
	}
	r.logger.Info("findings store ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("file", cfg.Output.File),
		zap.String("strategy", cfg.Output.Strategy),
	)
	return nil
}

func (r *resources) openSinks(ctx context.Context, cfg config.Config) ([]progress.Sink, error) {
	promSink, err := progresssinks.NewPrometheusSink(r.registry)
	if err != nil {
		return nil, err
	}
	sinks := []progress.Sink{
		progresssinks.NewLogSink(r.logger.Named("progress")),
		promSink,
	}

	if cfg.DB.DSN != "" {
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			RunsTable:       cfg.DB.RunsTable,
			MaxConns:        cfg.DB.MaxConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
		r.pg = pg
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		sinks = append(sinks, progresssinks.NewStoreSink(pg, r.logger.Named("findings_db")))
		r.logger.Info("postgres findings mirror enabled", zap.String("table", cfg.DB.Table))
	}

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		pub, err := gcppublisher.New(ctx, gcppublisher.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.TopicName,
		})
		if err != nil {
			return nil, fmt.Errorf("pubsub init failed: %w", err)
		}
		r.publisher = pub
		sinks = append(sinks, progresssinks.NewPublishSink(pub, cfg.PubSub.TopicName, r.logger.Named("pubsub")))
		r.logger.Info("pubsub notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	}
	return sinks, nil
}

// closeHub drains pending progress events into the sinks.
func (r *resources) closeHub(ctx context.Context) error {
	if r == nil || r.hub == nil {
		return nil
	}
	hub := r.hub
	r.hub = nil
	if err := hub.Close(ctx); err != nil {
		return fmt.Errorf("close progress hub: %w", err)
	}
	stats := hub.Stats()
	r.logger.Info("progress hub closed",
		zap.Int64("events", stats.Accepted),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("batches", stats.Batches),
		zap.Int64("sink_errors", stats.SinkErrors),
	)
	return nil
}

func (r *resources) close(ctx context.Context) {
	if r == nil {
		return
	}
	if err := r.closeHub(ctx); err != nil {
		r.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if r.publisher != nil {
		r.publisher.Close()
	}
	if r.pg != nil {
		r.pg.Close()
	}
	if r.gcsClient != nil {
		if err := r.gcsClient.Close(); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}
