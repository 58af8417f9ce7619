package crawler

import (
	"context"
	"time"
)

// PageFetcher retrieves a URL over the network.
// Failures are returned as *FetchError so callers can switch on the kind.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (FetchResult, error)
}

// RobotsPolicy answers robots.txt questions for a domain.
type RobotsPolicy interface {
	IsAllowed(ctx context.Context, domain, url string) bool
	CrawlDelay(ctx context.Context, domain string) (time.Duration, bool)
}

// RobotsDescriber is implemented by robots policies that can expose the raw
// robots.txt body they evaluated, so it can be stored on the domain record.
type RobotsDescriber interface {
	Describe(domain string) (body string, fetchedAt time.Time, ok bool)
}

// PageProcessor turns a fetched document into structured content and links.
type PageProcessor interface {
	Process(url string, depth int, body []byte, contentType string) (*ProcessedPage, error)
}

// DomainStore persists per-domain politeness records.
type DomainStore interface {
	GetDomain(ctx context.Context, domain string) (Domain, error)
	UpsertDomain(ctx context.Context, domain Domain) error
}

// PageStore persists pages and their outbound links.
type PageStore interface {
	// SavePage upserts by url_hash and returns the page id.
	SavePage(ctx context.Context, page Page) (int64, error)
	// SaveLinks is idempotent on (source_page_id, target_url).
	SaveLinks(ctx context.Context, sourcePageID int64, links []Link) error
	GetPage(ctx context.Context, url string) (Page, error)
}

// SessionStore persists crawl session lifecycle records.
type SessionStore interface {
	CreateSession(ctx context.Context, session CrawlSession) error
	UpdateSession(ctx context.Context, id string, pagesCrawled, pagesFailed int64) error
	CompleteSession(ctx context.Context, id string, status SessionStatus, endedAt time.Time) error
}

// GraphStore exposes the link graph to the ranking stage.
type GraphStore interface {
	LinkGraph(ctx context.Context) (LinkGraph, error)
	UpdatePageRanks(ctx context.Context, ranks map[int64]float64) error
}

// QueryStore serves read-only reporting queries.
type QueryStore interface {
	TopPages(ctx context.Context, by SortField, limit int) ([]Page, error)
	SearchPages(ctx context.Context, term string, limit int) ([]Page, error)
	// ListPages returns pages passing filter in id order.
	ListPages(ctx context.Context, filter PageFilter) ([]Page, error)
	Stats(ctx context.Context) (DatabaseStats, error)
}

// Store is the full persistence layer.
type Store interface {
	DomainStore
	PageStore
	SessionStore
	GraphStore
	QueryStore
	Close()
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
