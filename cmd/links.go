package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/broken-image-crawler/internal/logging"
)

// newLinksCmd prints the page URLs of one sitemap, one per line.
func newLinksCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "links <sitemap-url>",
		Short: "Lists the page URLs declared by a sitemap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logging.Sync(logger)

			reader := newSitemapReader(cfg, logger)
			out := cmd.OutOrStdout()
			for _, link := range reader.Links(cmd.Context(), args[0]) {
				if _, err := fmt.Fprintln(out, link); err != nil {
					return fmt.Errorf("write link: %w", err)
				}
			}
			return nil
		},
	}
}
