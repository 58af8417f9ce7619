package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

// CreateSession inserts a new crawl session row.
func (s *Store) CreateSession(ctx context.Context, session crawler.CrawlSession) error {
	query := `
		INSERT INTO crawl_sessions (id, started_at, pages_crawled, pages_failed, seed_urls, config_snapshot, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	seeds := session.SeedURLs
	if seeds == nil {
		seeds = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		session.ID,
		session.StartedAt,
		session.PagesCrawled,
		session.PagesFailed,
		seeds,
		session.ConfigSnapshot,
		string(session.Status),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateSession stores the live counters of a running session.
func (s *Store) UpdateSession(ctx context.Context, id string, pagesCrawled, pagesFailed int64) error {
	query := `
		UPDATE crawl_sessions
		SET pages_crawled = $1, pages_failed = $2
		WHERE id = $3;
	`
	if _, err := s.pool.Exec(ctx, query, pagesCrawled, pagesFailed, id); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// CompleteSession marks a session finished.
func (s *Store) CompleteSession(ctx context.Context, id string, status crawler.SessionStatus, endedAt time.Time) error {
	query := `
		UPDATE crawl_sessions
		SET ended_at = $1, status = $2
		WHERE id = $3;
	`
	res, err := s.pool.Exec(ctx, query, endedAt, string(status), id)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("complete session %s: %w", id, crawler.ErrNotFound)
	}
	return nil
}
