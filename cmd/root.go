// Package cmd defines the imagecheck CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/broken-image-crawler/internal/config"
	"github.com/JakeFAU/broken-image-crawler/internal/logging"
)

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "imagecheck",
		Short: "Finds broken images on every page listed in a set of sitemaps.",
		Long: `imagecheck reads each configured sitemap, visits every page it lists in a
headless browser, scrolls to the bottom so lazy images load, and records
the images that failed to load in broken_images_log.json.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newLinksCmd(opts))
	return cmd
}

// Execute runs the CLI and exits non-zero on failure. SIGINT and SIGTERM
// cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("Command execution failed", zap.Error(err))
		logging.Sync(zap.L())
		os.Exit(1)
	}
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the zap global.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.Build(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
