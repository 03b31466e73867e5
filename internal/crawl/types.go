package crawl

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/broken-image-crawler/internal/inspector"
)

// Config controls one crawl run.
type Config struct {
	Sitemaps []string
	// ContinueOnError records a failed page and moves on instead of aborting.
	ContinueOnError bool
	// MaxPages caps pages visited across all sitemaps. Zero means unlimited.
	MaxPages int
	// PageQPS limits page visits per second. Zero means unlimited.
	PageQPS float64
}

// PageOutcome is the result of visiting one page.
type PageOutcome struct {
	Sitemap string
	URL     string
	Result  inspector.Result
	Err     error
}

// OK reports whether the page was inspected successfully.
func (o PageOutcome) OK() bool {
	return o.Err == nil
}

// Summary is the running or final tally of a crawl run.
type Summary struct {
	RunID             uuid.UUID `json:"run_id"`
	Running           bool      `json:"running"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at,omitzero"`
	Sitemaps          int       `json:"sitemaps"`
	SitemapsFailed    int       `json:"sitemaps_failed"`
	PagesInspected    int       `json:"pages_inspected"`
	PagesFailed       int       `json:"pages_failed"`
	PagesWithFindings int       `json:"pages_with_findings"`
	BrokenImages      int       `json:"broken_images"`
	CurrentPage       string    `json:"current_page,omitempty"`
	Aborted           bool      `json:"aborted"`
	Error             string    `json:"error,omitempty"`
}
