package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// TopPages returns the highest ranked pages by the requested field.
func (s *Store) TopPages(ctx context.Context, by crawler.SortField, limit int) ([]crawler.Page, error) {
	var order string
	switch by {
	case crawler.SortByPageRank:
		order = "pagerank DESC, quality_score DESC"
	case crawler.SortByQuality:
		order = "quality_score DESC, pagerank DESC"
	default:
		return nil, fmt.Errorf("unknown sort field %q", by)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages ORDER BY `+order+`, id LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top pages: %w", err)
	}
	return collectPages(rows)
}

// SearchPages matches term case-insensitively against titles and content.
func (s *Store) SearchPages(ctx context.Context, term string, limit int) ([]crawler.Page, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(term)) + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE title ILIKE $1 OR content ILIKE $1
		ORDER BY pagerank DESC, quality_score DESC, id
		LIMIT $2;
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search pages: %w", err)
	}
	return collectPages(rows)
}

// ListPages returns pages passing filter in id order.
func (s *Store) ListPages(ctx context.Context, filter crawler.PageFilter) ([]crawler.Page, error) {
	var (
		where []string
		args  []any
	)
	cond := func(expr string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(expr, len(args)))
	}
	if filter.Domain != "" {
		cond("domain = $%d", strings.ToLower(filter.Domain))
	}
	if filter.MinQuality != nil {
		cond("quality_score >= $%d", *filter.MinQuality)
	}
	if filter.MaxQuality != nil {
		cond("quality_score <= $%d", *filter.MaxQuality)
	}
	if filter.CrawledAfter != nil {
		cond("crawled_at >= $%d", *filter.CrawledAfter)
	}
	if filter.CrawledBefore != nil {
		cond("crawled_at <= $%d", *filter.CrawledBefore)
	}

	var sql strings.Builder
	sql.WriteString(`SELECT ` + pageColumns + ` FROM pages`)
	if len(where) > 0 {
		sql.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	sql.WriteString(` ORDER BY id`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sql, ` LIMIT $%d`, len(args))
	}
	sql.WriteString(`;`)

	rows, err := s.pool.Query(ctx, sql.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return collectPages(rows)
}

// Stats summarises the stored corpus.
func (s *Store) Stats(ctx context.Context) (crawler.DatabaseStats, error) {
	var (
		st  crawler.DatabaseStats
		avg *float64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM pages),
			(SELECT COUNT(*) FROM links),
			(SELECT COUNT(*) FROM links WHERE target_page_id IS NOT NULL),
			(SELECT COUNT(*) FROM domains),
			(SELECT AVG(quality_score) FROM pages WHERE quality_score > 0),
			(SELECT COUNT(*) FROM crawl_sessions);
	`).Scan(
		&st.TotalPages,
		&st.TotalLinks,
		&st.ResolvedLinks,
		&st.TotalDomains,
		&avg,
		&st.TotalSessions,
	)
	if err != nil {
		return crawler.DatabaseStats{}, fmt.Errorf("query stats: %w", err)
	}
	if avg != nil {
		st.AvgQualityScore = *avg
	}
	return st, nil
}
