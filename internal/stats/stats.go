// Package stats keeps crawl counters that every worker updates and that the
// reporter, the status API and the session record read.
package stats

import (
	"sync/atomic"
	"time"
)

// Counters is safe for concurrent use.
type Counters struct {
	started time.Time

	crawled   atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	denied    atomic.Int64
	rejected  atomic.Int64
	links     atomic.Int64
	bytes     atomic.Int64
	saveError atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	StartedAt       time.Time     `json:"started_at"`
	Elapsed         time.Duration `json:"elapsed"`
	PagesCrawled    int64         `json:"pages_crawled"`
	PagesFailed     int64         `json:"pages_failed"`
	PagesRetried    int64         `json:"pages_retried"`
	PagesDenied     int64         `json:"pages_denied"`
	URLsRejected    int64         `json:"urls_rejected"`
	LinksDiscovered int64         `json:"links_discovered"`
	BytesFetched    int64         `json:"bytes_fetched"`
	StorageErrors   int64         `json:"storage_errors"`
	// CrawlRate is crawled pages per second since StartedAt.
	CrawlRate float64 `json:"crawl_rate"`
}

// New starts the clock at now.
func New(now time.Time) *Counters {
	return &Counters{started: now}
}

// StartedAt returns the time passed to New.
func (c *Counters) StartedAt() time.Time { return c.started }

// PageCrawled counts a persisted page and its body size.
func (c *Counters) PageCrawled(bytes int) {
	c.crawled.Add(1)
	c.bytes.Add(int64(bytes))
}

// PageFailed counts a URL that was given up on. Denied URLs count here too.
func (c *Counters) PageFailed() { c.failed.Add(1) }

// PageRetried counts an attempt that was parked for another try.
func (c *Counters) PageRetried() { c.retried.Add(1) }

// PageDenied counts a URL refused by the scheduler.
func (c *Counters) PageDenied() { c.denied.Add(1) }

// URLRejected counts a discovered URL the frontier refused.
func (c *Counters) URLRejected() { c.rejected.Add(1) }

// LinksFound adds n discovered outbound links.
func (c *Counters) LinksFound(n int) { c.links.Add(int64(n)) }

// StorageError counts a failed write.
func (c *Counters) StorageError() { c.saveError.Add(1) }

// Crawled returns the number of pages persisted so far.
func (c *Counters) Crawled() int64 { return c.crawled.Load() }

// Failed returns the number of failed URLs so far.
func (c *Counters) Failed() int64 { return c.failed.Load() }

// Snapshot reads every counter. Individual fields are consistent but the
// set is not captured atomically.
func (c *Counters) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		StartedAt:       c.started,
		Elapsed:         now.Sub(c.started),
		PagesCrawled:    c.crawled.Load(),
		PagesFailed:     c.failed.Load(),
		PagesRetried:    c.retried.Load(),
		PagesDenied:     c.denied.Load(),
		URLsRejected:    c.rejected.Load(),
		LinksDiscovered: c.links.Load(),
		BytesFetched:    c.bytes.Load(),
		StorageErrors:   c.saveError.Load(),
	}
	if s.Elapsed < 0 {
		s.Elapsed = 0
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.CrawlRate = float64(s.PagesCrawled) / secs
	}
	return s
}
