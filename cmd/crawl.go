package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/broken-image-crawler/internal/api"
	"github.com/JakeFAU/broken-image-crawler/internal/browser"
	"github.com/JakeFAU/broken-image-crawler/internal/config"
	"github.com/JakeFAU/broken-image-crawler/internal/crawl"
	"github.com/JakeFAU/broken-image-crawler/internal/findings"
	"github.com/JakeFAU/broken-image-crawler/internal/logging"
)

const drainTimeout = 15 * time.Second

type crawlOptions struct {
	sitemaps        []string
	strategy        string
	continueOnError bool
}

// newCrawlCmd creates the 'crawl' subcommand, which inspects every page of
// the configured sitemaps.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Checks every sitemap page for broken images",
		Long: `Reads each configured sitemap in order and visits every page it lists,
one at a time, in a single headless browser tab. Pages with broken images
are appended to the findings log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if err := applyCrawlFlags(cmd, opts, &cfg); err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logging.Sync(logger)

			summary, err := runCrawl(cmd.Context(), cfg, logger)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Crawl interrupted", zap.Int("pages", summary.PagesInspected))
					return nil
				}
				return fmt.Errorf("run crawl: %w", err)
			}
			logger.Info("Crawl command finished.",
				zap.Int("pages", summary.PagesInspected),
				zap.Int("pages_with_findings", summary.PagesWithFindings),
				zap.Int("broken_images", summary.BrokenImages),
			)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&opts.sitemaps, "sitemap", nil, "sitemap URL to crawl (repeatable, replaces crawl.sitemaps)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "findings log strategy: incremental or batch")
	cmd.Flags().BoolVar(&opts.continueOnError, "continue-on-error", false, "record failed pages and keep crawling")
	return cmd
}

// applyCrawlFlags overlays explicitly set flags on cfg and revalidates it.
func applyCrawlFlags(cmd *cobra.Command, opts *crawlOptions, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("sitemap") {
		cfg.Crawl.Sitemaps = append([]string(nil), opts.sitemaps...)
	}
	if flags.Changed("strategy") {
		cfg.Output.Strategy = opts.strategy
	}
	if flags.Changed("continue-on-error") {
		cfg.Crawl.ContinueOnError = opts.continueOnError
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

// runCrawl opens the run's resources and browser, then runs the engine beside
// the optional status server until the crawl finishes.
func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawl.Summary, error) {
	res, err := openResources(ctx, cfg, logger)
	if err != nil {
		return crawl.Summary{}, err
	}
	defer res.close(context.WithoutCancel(ctx))

	session, err := browser.Open(ctx, browserConfig(cfg), logger.Named("browser"))
	if err != nil {
		return crawl.Summary{}, fmt.Errorf("browser init failed: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("browser close failed", zap.Error(cerr))
		}
	}()

	engine, err := crawl.New(crawlConfig(cfg), crawl.Deps{
		Reader:    newSitemapReader(cfg, logger),
		Inspector: newInspector(cfg, logger),
		Page:      session.Page(),
		Log:       res.log,
		Progress:  res.hub,
	}, logger.Named("crawl"))
	if err != nil {
		return crawl.Summary{}, err
	}

	summary, err := runWithServer(ctx, cfg, engine, res.log, res.registry, logger)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if herr := res.closeHub(drainCtx); herr != nil {
		logger.Warn("progress hub close failed", zap.Error(herr))
	}
	if cfg.Metrics.Textfile != "" {
		if werr := prometheus.WriteToTextfile(cfg.Metrics.Textfile, res.registry); werr != nil {
			logger.Warn("metrics textfile write failed", zap.String("path", cfg.Metrics.Textfile), zap.Error(werr))
		} else {
			logger.Info("metrics textfile written", zap.String("path", cfg.Metrics.Textfile))
		}
	}
	return summary, err
}

// runWithServer runs engine and, when enabled, the status server under one
// errgroup. The server stops once the crawl returns.
func runWithServer(
	ctx context.Context,
	cfg config.Config,
	engine *crawl.Engine,
	log findings.Log,
	reg *prometheus.Registry,
	logger *zap.Logger,
) (crawl.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.Server.Enabled {
		srv, err := api.NewServer(engine, log, reg, logger.Named("api"))
		if err != nil {
			return crawl.Summary{}, err
		}
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		g.Go(func() error {
			return srv.Serve(serverCtx, addr)
		})
	}

	var summary crawl.Summary
	g.Go(func() error {
		defer stopServer()
		s, err := engine.Run(gctx)
		summary = s
		return err
	})
	err := g.Wait()
	return summary, err
}
