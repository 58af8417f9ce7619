package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/hash/sha256"
)

const pageColumns = `id, url, url_hash, domain, title, description, content, content_hash,
	quality_score, word_count, language, crawl_depth, crawled_at, last_modified,
	status_code, content_type, content_length, pagerank`

const upsertPageSQL = `
	INSERT INTO pages (
		url, url_hash, domain, title, description, content, content_hash,
		quality_score, word_count, language, crawl_depth, crawled_at, last_modified,
		status_code, content_type, content_length
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (url_hash) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		content = EXCLUDED.content,
		content_hash = EXCLUDED.content_hash,
		quality_score = EXCLUDED.quality_score,
		word_count = EXCLUDED.word_count,
		language = EXCLUDED.language,
		crawled_at = EXCLUDED.crawled_at,
		last_modified = EXCLUDED.last_modified,
		status_code = EXCLUDED.status_code,
		content_type = EXCLUDED.content_type,
		content_length = EXCLUDED.content_length
	RETURNING id;
`

const resolveInboundLinksSQL = `
	UPDATE links SET target_page_id = $1
	WHERE target_url = $2 AND target_page_id IS NULL;
`

const refreshDomainStatsSQL = `
	INSERT INTO domains (domain, page_count, avg_quality_score, last_crawled)
	VALUES (
		$1,
		(SELECT COUNT(*) FROM pages WHERE domain = $1),
		(SELECT AVG(quality_score) FROM pages WHERE domain = $1),
		$2
	)
	ON CONFLICT (domain) DO UPDATE SET
		page_count = EXCLUDED.page_count,
		avg_quality_score = EXCLUDED.avg_quality_score,
		last_crawled = EXCLUDED.last_crawled;
`

const insertLinksSQL = `
	INSERT INTO links (source_page_id, target_page_id, target_url, anchor_text, link_position)
	SELECT $1, p.id, l.target_url, l.anchor_text, l.link_position
	FROM unnest($2::text[], $3::text[], $4::int[]) AS l(target_url, anchor_text, link_position)
	LEFT JOIN pages p ON p.url = l.target_url
	ON CONFLICT (source_page_id, target_url) DO NOTHING;
`

// SavePage upserts a page by url_hash, resolves links that were waiting for
// it and refreshes its domain statistics in one transaction.
func (s *Store) SavePage(ctx context.Context, page crawler.Page) (int64, error) {
	if page.URLHash == "" {
		page.URLHash = sha256.SumString(page.URL)
	}
	var id int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, upsertPageSQL,
			page.URL,
			page.URLHash,
			page.Domain,
			page.Title,
			page.Description,
			page.Content,
			page.ContentHash,
			page.QualityScore,
			page.WordCount,
			page.Language,
			page.CrawlDepth,
			page.CrawledAt,
			page.LastModified,
			page.StatusCode,
			page.ContentType,
			page.ContentLength,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("upsert page: %w", err)
		}
		if _, err := tx.Exec(ctx, resolveInboundLinksSQL, id, page.URL); err != nil {
			return fmt.Errorf("resolve inbound links: %w", err)
		}
		if _, err := tx.Exec(ctx, refreshDomainStatsSQL, page.Domain, page.CrawledAt); err != nil {
			return fmt.Errorf("refresh domain stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save page %s: %w", page.URL, err)
	}
	return id, nil
}

// SaveLinks records outbound links for a page. Re-saving the same
// (source, target) pair is a no-op.
func (s *Store) SaveLinks(ctx context.Context, sourcePageID int64, links []crawler.Link) error {
	if len(links) == 0 {
		return nil
	}
	targets := make([]string, len(links))
	anchors := make([]*string, len(links))
	positions := make([]int32, len(links))
	for i, l := range links {
		targets[i] = l.TargetURL
		anchors[i] = l.AnchorText
		positions[i] = int32(l.Position) //nolint:gosec // positions are capped per page
	}
	if _, err := s.pool.Exec(ctx, insertLinksSQL, sourcePageID, targets, anchors, positions); err != nil {
		return fmt.Errorf("save links for page %d: %w", sourcePageID, err)
	}
	return nil
}

// GetPage loads a page by URL or returns crawler.ErrNotFound.
func (s *Store) GetPage(ctx context.Context, url string) (crawler.Page, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE url = $1;`, url)
	page, err := scanPage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Page{}, crawler.ErrNotFound
		}
		return crawler.Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

func scanPage(row pgx.Row) (crawler.Page, error) {
	var p crawler.Page
	err := row.Scan(
		&p.ID,
		&p.URL,
		&p.URLHash,
		&p.Domain,
		&p.Title,
		&p.Description,
		&p.Content,
		&p.ContentHash,
		&p.QualityScore,
		&p.WordCount,
		&p.Language,
		&p.CrawlDepth,
		&p.CrawledAt,
		&p.LastModified,
		&p.StatusCode,
		&p.ContentType,
		&p.ContentLength,
		&p.PageRank,
	)
	return p, err
}

func collectPages(rows pgx.Rows) ([]crawler.Page, error) {
	defer rows.Close()
	var pages []crawler.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page rows: %w", err)
	}
	return pages, nil
}
