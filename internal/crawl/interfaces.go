package crawl

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/broken-image-crawler/internal/browser"
	"github.com/JakeFAU/broken-image-crawler/internal/inspector"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// SitemapReader lists the page URLs of one sitemap.
type SitemapReader interface {
	Read(ctx context.Context, sitemapURL string) ([]string, error)
}

// PageInspector inspects one page through a browser page handle.
type PageInspector interface {
	Inspect(ctx context.Context, page browser.Page, pageURL string) (inspector.Result, error)
}
