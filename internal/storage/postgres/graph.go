package postgres

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

// resolvePendingLinksSQL catches links whose insert raced the target page's
// save: neither the insert's join nor the page's back-fill saw the other row.
const resolvePendingLinksSQL = `
	UPDATE links SET target_page_id = p.id
	FROM pages p
	WHERE links.target_page_id IS NULL AND p.url = links.target_url;
`

// ResolvePendingLinks back-fills target_page_id for every link whose target
// page now exists and returns how many rows it fixed.
func (s *Store) ResolvePendingLinks(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, resolvePendingLinksSQL)
	if err != nil {
		return 0, fmt.Errorf("resolve pending links: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LinkGraph returns every persisted page and each resolved link between them.
// Pending links are resolved first so no edge is lost to a concurrent save.
func (s *Store) LinkGraph(ctx context.Context) (crawler.LinkGraph, error) {
	var graph crawler.LinkGraph

	resolved, err := s.ResolvePendingLinks(ctx)
	if err != nil {
		return graph, err
	}
	if resolved > 0 {
		s.logger.Info("resolved pending links", zap.Int64("links", resolved))
	}

	rows, err := s.pool.Query(ctx, `SELECT id FROM pages ORDER BY id;`)
	if err != nil {
		return graph, fmt.Errorf("query graph nodes: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return graph, fmt.Errorf("scan graph node: %w", err)
		}
		graph.Nodes = append(graph.Nodes, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return graph, fmt.Errorf("iterate graph nodes: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT DISTINCT source_page_id, target_page_id
		FROM links
		WHERE target_page_id IS NOT NULL
		ORDER BY source_page_id, target_page_id;
	`)
	if err != nil {
		return graph, fmt.Errorf("query graph edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e crawler.Edge
		if err := rows.Scan(&e.Source, &e.Target); err != nil {
			return graph, fmt.Errorf("scan graph edge: %w", err)
		}
		graph.Edges = append(graph.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return graph, fmt.Errorf("iterate graph edges: %w", err)
	}
	return graph, nil
}

// UpdatePageRanks writes scores for the given page ids in one statement.
func (s *Store) UpdatePageRanks(ctx context.Context, ranks map[int64]float64) error {
	if len(ranks) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(ranks))
	for id := range ranks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	scores := make([]float64, len(ids))
	for i, id := range ids {
		scores[i] = ranks[id]
	}

	query := `
		UPDATE pages SET pagerank = r.rank
		FROM unnest($1::bigint[], $2::float8[]) AS r(id, rank)
		WHERE pages.id = r.id;
	`
	if _, err := s.pool.Exec(ctx, query, ids, scores); err != nil {
		return fmt.Errorf("update pageranks: %w", err)
	}
	return nil
}
