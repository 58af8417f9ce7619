package crawler

import (
	"net/http"
	"strings"
	"time"
)

// DefaultCrawlDelay is the per-domain delay applied when neither the domain
// record nor robots.txt says otherwise.
const DefaultCrawlDelay = 1000 * time.Millisecond

// Domain is the persisted politeness and statistics record for one host.
type Domain struct {
	Domain          string        `json:"domain"`
	RobotsTxt       *string       `json:"robots_txt,omitempty"`
	RobotsFetchedAt *time.Time    `json:"robots_fetched_at,omitempty"`
	CrawlDelay      time.Duration `json:"crawl_delay"`
	PageCount       int64         `json:"page_count"`
	AvgQualityScore *float64      `json:"avg_quality_score,omitempty"`
	LastCrawled     *time.Time    `json:"last_crawled,omitempty"`
	CrawlAllowed    bool          `json:"crawl_allowed"`
}

// Page is a crawled document as stored by the persistence layer.
type Page struct {
	ID            int64      `json:"id"`
	URL           string     `json:"url"`
	URLHash       string     `json:"url_hash"`
	Domain        string     `json:"domain"`
	Title         *string    `json:"title,omitempty"`
	Description   *string    `json:"description,omitempty"`
	Content       *string    `json:"content,omitempty"`
	ContentHash   string     `json:"content_hash"`
	QualityScore  float64    `json:"quality_score"`
	WordCount     int        `json:"word_count"`
	Language      string     `json:"language"`
	CrawlDepth    int        `json:"crawl_depth"`
	CrawledAt     time.Time  `json:"crawled_at"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
	StatusCode    int        `json:"status_code"`
	ContentType   string     `json:"content_type"`
	ContentLength int        `json:"content_length"`
	PageRank      float64    `json:"pagerank"`
}

// Link is one outbound anchor recorded for a source page.
type Link struct {
	ID           int64     `json:"id"`
	SourcePageID int64     `json:"source_page_id"`
	TargetPageID *int64    `json:"target_page_id,omitempty"`
	TargetURL    string    `json:"target_url"`
	AnchorText   *string   `json:"anchor_text,omitempty"`
	Position     int       `json:"link_position"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionStatus is the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in crawl_sessions.status.
const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// CrawlSession records one invocation of the crawl orchestrator.
type CrawlSession struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	PagesCrawled   int64         `json:"pages_crawled"`
	PagesFailed    int64         `json:"pages_failed"`
	SeedURLs       []string      `json:"seed_urls"`
	ConfigSnapshot []byte        `json:"config_snapshot,omitempty"`
	Status         SessionStatus `json:"status"`
}

// FetchResult is the raw HTTP outcome handed back by a PageFetcher.
type FetchResult struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url"`
	StatusCode  int           `json:"status_code"`
	Headers     http.Header   `json:"headers"`
	Body        []byte        `json:"-"`
	ContentType string        `json:"content_type"`
	Duration    time.Duration `json:"duration"`
}

// ExtractedLink is an outbound link discovered by the page processor.
type ExtractedLink struct {
	URL      string
	Anchor   string
	Position int
	// Hint biases frontier ordering inside one depth band; lower is sooner.
	Hint float64
	// Self is set when the link resolves to the page it was found on.
	Self bool
}

// ProcessedPage is the structured result of parsing one HTML document.
type ProcessedPage struct {
	URL          string
	Title        string
	Description  string
	Text         string
	Language     string
	Links        []ExtractedLink
	WordCount    int
	QualityScore float64
	ContentHash  string
}

// PageFilter narrows ListPages. Zero-valued fields match everything; the
// crawl-time bounds are inclusive.
type PageFilter struct {
	Domain        string
	MinQuality    *float64
	MaxQuality    *float64
	CrawledAfter  *time.Time
	CrawledBefore *time.Time
	// Limit caps the result; zero means no cap.
	Limit int
}

// Matches reports whether p passes every set field of f except Limit.
func (f PageFilter) Matches(p Page) bool {
	switch {
	case f.Domain != "" && !strings.EqualFold(p.Domain, f.Domain):
		return false
	case f.MinQuality != nil && p.QualityScore < *f.MinQuality:
		return false
	case f.MaxQuality != nil && p.QualityScore > *f.MaxQuality:
		return false
	case f.CrawledAfter != nil && p.CrawledAt.Before(*f.CrawledAfter):
		return false
	case f.CrawledBefore != nil && p.CrawledAt.After(*f.CrawledBefore):
		return false
	}
	return true
}

// SortField selects the ordering for top-page queries.
type SortField string

// Supported orderings for TopPages.
const (
	SortByPageRank SortField = "pagerank"
	SortByQuality  SortField = "quality"
)

// LinkGraph is the crawled subgraph used by PageRank: nodes are page IDs and
// edges only connect pages that have both been persisted.
type LinkGraph struct {
	Nodes []int64
	Edges []Edge
}

// Edge is a directed link between two persisted pages.
type Edge struct {
	Source int64
	Target int64
}

// DatabaseStats summarises the persisted corpus.
type DatabaseStats struct {
	TotalPages      int64   `json:"total_pages"`
	TotalLinks      int64   `json:"total_links"`
	ResolvedLinks   int64   `json:"resolved_links"`
	TotalDomains    int64   `json:"total_domains"`
	AvgQualityScore float64 `json:"avg_quality_score"`
	TotalSessions   int64   `json:"total_sessions"`
}

// StringPtr returns nil for empty strings so optional columns stay NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
