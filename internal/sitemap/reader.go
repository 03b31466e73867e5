// Package sitemap fetches sitemap-protocol documents and extracts the page URLs they list.
package sitemap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Reader resolves a sitemap URL to the page URLs it declares.
type Reader struct {
	fetcher       Fetcher
	maxIndexDepth int
	logger        *zap.Logger
}

// ReaderOption customizes a Reader.
type ReaderOption func(*Reader)

// WithMaxIndexDepth limits how many levels of sitemap indexes are expanded.
// Zero rejects index documents entirely.
func WithMaxIndexDepth(depth int) ReaderOption {
	return func(r *Reader) {
		if depth >= 0 {
			r.maxIndexDepth = depth
		}
	}
}

// WithLogger sets the logger used for recovered failures.
func WithLogger(logger *zap.Logger) ReaderOption {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// ErrIndexTooDeep is returned when index nesting exceeds the configured depth.
var ErrIndexTooDeep = errors.New("sitemap: index nesting too deep")

// NewReader builds a Reader around fetcher.
func NewReader(fetcher Fetcher, opts ...ReaderOption) *Reader {
	r := &Reader{
		fetcher:       fetcher,
		maxIndexDepth: 1,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Links returns the page URLs listed by sitemapURL. Any failure is logged and
// yields an empty, non-nil slice.
func (r *Reader) Links(ctx context.Context, sitemapURL string) []string {
	links, err := r.Read(ctx, sitemapURL)
	if err != nil {
		r.logger.Error("Error fetching or parsing sitemap",
			zap.String("sitemap", sitemapURL),
			zap.Error(err),
		)
		return []string{}
	}
	return links
}

// Read is the error-returning form of Links.
func (r *Reader) Read(ctx context.Context, sitemapURL string) ([]string, error) {
	return r.read(ctx, sitemapURL, 0)
}

func (r *Reader) read(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	body, err := r.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", sitemapURL, err)
	}
	if doc.Kind == KindURLSet {
		return doc.Locs, nil
	}

	if depth >= r.maxIndexDepth {
		return nil, fmt.Errorf("%s: %w (max %d)", sitemapURL, ErrIndexTooDeep, r.maxIndexDepth)
	}
	links := make([]string, 0)
	for _, child := range doc.Locs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("read sitemap index %s: %w", sitemapURL, err)
		}
		childLinks, err := r.read(ctx, child, depth+1)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			r.logger.Warn("skipping child sitemap",
				zap.String("index", sitemapURL),
				zap.String("sitemap", child),
				zap.Error(err),
			)
			continue
		}
		links = append(links, childLinks...)
	}
	r.logger.Debug("expanded sitemap index",
		zap.String("index", sitemapURL),
		zap.Int("children", len(doc.Locs)),
		zap.Int("links", len(links)),
	)
	return links, nil
}
