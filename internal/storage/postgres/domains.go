package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

const selectDomainSQL = `
	SELECT domain, robots_txt, robots_fetched_at, crawl_delay, page_count,
		avg_quality_score, last_crawled, crawl_allowed
	FROM domains
	WHERE domain = $1;
`

// Only politeness fields are written here; page statistics belong to SavePage.
const upsertDomainSQL = `
	INSERT INTO domains (domain, robots_txt, robots_fetched_at, crawl_delay, crawl_allowed)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (domain) DO UPDATE SET
		robots_txt = COALESCE(EXCLUDED.robots_txt, domains.robots_txt),
		robots_fetched_at = COALESCE(EXCLUDED.robots_fetched_at, domains.robots_fetched_at),
		crawl_delay = EXCLUDED.crawl_delay,
		crawl_allowed = EXCLUDED.crawl_allowed;
`

// GetDomain loads a domain record or returns crawler.ErrNotFound.
func (s *Store) GetDomain(ctx context.Context, domain string) (crawler.Domain, error) {
	var (
		d       crawler.Domain
		delayMs int64
	)
	err := s.pool.QueryRow(ctx, selectDomainSQL, domain).Scan(
		&d.Domain,
		&d.RobotsTxt,
		&d.RobotsFetchedAt,
		&delayMs,
		&d.PageCount,
		&d.AvgQualityScore,
		&d.LastCrawled,
		&d.CrawlAllowed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Domain{}, crawler.ErrNotFound
		}
		return crawler.Domain{}, fmt.Errorf("get domain: %w", err)
	}
	d.CrawlDelay = time.Duration(delayMs) * time.Millisecond
	return d, nil
}

// UpsertDomain writes the politeness fields of a domain record.
func (s *Store) UpsertDomain(ctx context.Context, d crawler.Domain) error {
	if d.CrawlDelay < 0 {
		return fmt.Errorf("upsert domain %s: negative crawl delay", d.Domain)
	}
	_, err := s.pool.Exec(ctx, upsertDomainSQL,
		d.Domain,
		d.RobotsTxt,
		d.RobotsFetchedAt,
		d.CrawlDelay.Milliseconds(),
		d.CrawlAllowed,
	)
	if err != nil {
		return fmt.Errorf("upsert domain: %w", err)
	}
	return nil
}
