// Package memory implements the persistence layer in process memory, for dry
// runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/hash/sha256"
)

var _ crawler.Store = (*Store)(nil)

type linkKey struct {
	source int64
	target string
}

// domainTally is the running page count and quality sum of one domain.
type domainTally struct {
	count int64
	sum   float64
}

// Store keeps domains, pages, links and sessions in maps guarded by one lock.
type Store struct {
	mu       sync.RWMutex
	domains  map[string]crawler.Domain
	pages    map[int64]crawler.Page
	byHash   map[string]int64
	links    []crawler.Link
	linkKeys map[linkKey]struct{}
	// pending indexes s.links entries without a target page by target url.
	pending  map[string][]int
	tallies  map[string]*domainTally
	sessions map[string]crawler.CrawlSession
	nextPage int64
	nextLink int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		domains:  make(map[string]crawler.Domain),
		pages:    make(map[int64]crawler.Page),
		byHash:   make(map[string]int64),
		linkKeys: make(map[linkKey]struct{}),
		pending:  make(map[string][]int),
		tallies:  make(map[string]*domainTally),
		sessions: make(map[string]crawler.CrawlSession),
	}
}

// Close is a no-op.
func (s *Store) Close() {}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// GetDomain returns a stored domain or crawler.ErrNotFound.
func (s *Store) GetDomain(_ context.Context, domain string) (crawler.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[domain]
	if !ok {
		return crawler.Domain{}, crawler.ErrNotFound
	}
	return d, nil
}

// UpsertDomain writes politeness fields and leaves page statistics alone.
func (s *Store) UpsertDomain(_ context.Context, d crawler.Domain) error {
	if d.CrawlDelay < 0 {
		return fmt.Errorf("upsert domain %s: negative crawl delay", d.Domain)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.domains[d.Domain]
	if !ok {
		existing = crawler.Domain{Domain: d.Domain}
	}
	if d.RobotsTxt != nil {
		existing.RobotsTxt = d.RobotsTxt
	}
	if d.RobotsFetchedAt != nil {
		existing.RobotsFetchedAt = d.RobotsFetchedAt
	}
	existing.CrawlDelay = d.CrawlDelay
	existing.CrawlAllowed = d.CrawlAllowed
	s.domains[d.Domain] = existing
	return nil
}

// SavePage upserts by url hash, resolves waiting links and refreshes domain
// statistics.
func (s *Store) SavePage(_ context.Context, page crawler.Page) (int64, error) {
	if page.URLHash == "" {
		page.URLHash = sha256.SumString(page.URL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.byHash[page.URLHash]
	if exists {
		old := s.pages[id]
		page.PageRank = old.PageRank
		s.tallyLocked(old.Domain, -1, -old.QualityScore)
	} else {
		s.nextPage++
		id = s.nextPage
		s.byHash[page.URLHash] = id
	}
	page.ID = id
	s.pages[id] = page

	for _, i := range s.pending[page.URL] {
		target := id
		s.links[i].TargetPageID = &target
	}
	delete(s.pending, page.URL)

	s.tallyLocked(page.Domain, 1, page.QualityScore)
	s.refreshDomainLocked(page.Domain, page.CrawledAt)
	return id, nil
}

func (s *Store) tallyLocked(domain string, count int64, quality float64) {
	t, ok := s.tallies[domain]
	if !ok {
		t = &domainTally{}
		s.tallies[domain] = t
	}
	t.count += count
	t.sum += quality
}

func (s *Store) refreshDomainLocked(domain string, crawledAt time.Time) {
	t := s.tallies[domain]
	d, ok := s.domains[domain]
	if !ok {
		d = crawler.Domain{Domain: domain, CrawlDelay: crawler.DefaultCrawlDelay, CrawlAllowed: true}
	}
	d.PageCount = t.count
	if t.count > 0 {
		avg := t.sum / float64(t.count)
		d.AvgQualityScore = &avg
	}
	last := crawledAt
	d.LastCrawled = &last
	s.domains[domain] = d
}

// SaveLinks appends links, skipping (source, target) pairs already stored.
func (s *Store) SaveLinks(_ context.Context, sourcePageID int64, links []crawler.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[sourcePageID]; !ok && len(links) > 0 {
		return fmt.Errorf("save links: source page %d: %w", sourcePageID, crawler.ErrNotFound)
	}
	now := time.Now().UTC()
	for _, l := range links {
		key := linkKey{source: sourcePageID, target: l.TargetURL}
		if _, dup := s.linkKeys[key]; dup {
			continue
		}
		s.linkKeys[key] = struct{}{}
		s.nextLink++
		l.ID = s.nextLink
		l.SourcePageID = sourcePageID
		l.TargetPageID = nil
		if target, ok := s.byHash[sha256.SumString(l.TargetURL)]; ok {
			l.TargetPageID = &target
		} else {
			s.pending[l.TargetURL] = append(s.pending[l.TargetURL], len(s.links))
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		s.links = append(s.links, l)
	}
	return nil
}

// GetPage returns a page by URL or crawler.ErrNotFound.
func (s *Store) GetPage(_ context.Context, url string) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[sha256.SumString(url)]
	if !ok {
		return crawler.Page{}, crawler.ErrNotFound
	}
	return s.pages[id], nil
}

// Links returns a copy of the stored links for a source page.
func (s *Store) Links(sourcePageID int64) []crawler.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Link
	for _, l := range s.links {
		if l.SourcePageID == sourcePageID {
			out = append(out, l)
		}
	}
	return out
}

// Pages returns every stored page ordered by id.
func (s *Store) Pages() []crawler.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPagesLocked(func(a, b crawler.Page) bool { return a.ID < b.ID })
}

// CreateSession stores a new session.
func (s *Store) CreateSession(_ context.Context, session crawler.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	session.SeedURLs = append([]string(nil), session.SeedURLs...)
	s.sessions[session.ID] = session
	return nil
}

// UpdateSession stores live counters.
func (s *Store) UpdateSession(_ context.Context, id string, pagesCrawled, pagesFailed int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("update session %s: %w", id, crawler.ErrNotFound)
	}
	session.PagesCrawled = pagesCrawled
	session.PagesFailed = pagesFailed
	s.sessions[id] = session
	return nil
}

// CompleteSession marks a session finished.
func (s *Store) CompleteSession(_ context.Context, id string, status crawler.SessionStatus, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("complete session %s: %w", id, crawler.ErrNotFound)
	}
	session.Status = status
	ended := endedAt
	session.EndedAt = &ended
	s.sessions[id] = session
	return nil
}

// Session returns a stored session.
func (s *Store) Session(id string) (crawler.CrawlSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// LinkGraph returns pages as nodes and resolved links as distinct edges.
func (s *Store) LinkGraph(_ context.Context) (crawler.LinkGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var graph crawler.LinkGraph
	for id := range s.pages {
		graph.Nodes = append(graph.Nodes, id)
	}
	sort.Slice(graph.Nodes, func(i, j int) bool { return graph.Nodes[i] < graph.Nodes[j] })

	seen := make(map[crawler.Edge]struct{})
	for _, l := range s.links {
		if l.TargetPageID == nil {
			continue
		}
		e := crawler.Edge{Source: l.SourcePageID, Target: *l.TargetPageID}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		graph.Edges = append(graph.Edges, e)
	}
	sort.Slice(graph.Edges, func(i, j int) bool {
		if graph.Edges[i].Source != graph.Edges[j].Source {
			return graph.Edges[i].Source < graph.Edges[j].Source
		}
		return graph.Edges[i].Target < graph.Edges[j].Target
	})
	return graph, nil
}

// UpdatePageRanks stores scores for known pages.
func (s *Store) UpdatePageRanks(_ context.Context, ranks map[int64]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rank := range ranks {
		if p, ok := s.pages[id]; ok {
			p.PageRank = rank
			s.pages[id] = p
		}
	}
	return nil
}

// TopPages orders pages by pagerank or quality score.
func (s *Store) TopPages(_ context.Context, by crawler.SortField, limit int) ([]crawler.Page, error) {
	var less func(a, b crawler.Page) bool
	switch by {
	case crawler.SortByPageRank:
		less = func(a, b crawler.Page) bool {
			if a.PageRank != b.PageRank {
				return a.PageRank > b.PageRank
			}
			if a.QualityScore != b.QualityScore {
				return a.QualityScore > b.QualityScore
			}
			return a.ID < b.ID
		}
	case crawler.SortByQuality:
		less = func(a, b crawler.Page) bool {
			if a.QualityScore != b.QualityScore {
				return a.QualityScore > b.QualityScore
			}
			if a.PageRank != b.PageRank {
				return a.PageRank > b.PageRank
			}
			return a.ID < b.ID
		}
	default:
		return nil, fmt.Errorf("unknown sort field %q", by)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return limitPages(s.sortedPagesLocked(less), limit), nil
}

// SearchPages matches term case-insensitively against titles and content.
func (s *Store) SearchPages(_ context.Context, term string, limit int) ([]crawler.Page, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sortedPagesLocked(func(a, b crawler.Page) bool {
		if a.PageRank != b.PageRank {
			return a.PageRank > b.PageRank
		}
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		return a.ID < b.ID
	})
	var out []crawler.Page
	for _, p := range all {
		if strings.Contains(strings.ToLower(crawler.Deref(p.Title)), needle) ||
			strings.Contains(strings.ToLower(crawler.Deref(p.Content)), needle) {
			out = append(out, p)
		}
	}
	return limitPages(out, limit), nil
}

// ListPages returns pages passing filter in id order.
func (s *Store) ListPages(_ context.Context, filter crawler.PageFilter) ([]crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Page
	for _, p := range s.sortedPagesLocked(func(a, b crawler.Page) bool { return a.ID < b.ID }) {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return limitPages(out, filter.Limit), nil
}

// Stats summarises the stored corpus.
func (s *Store) Stats(_ context.Context) (crawler.DatabaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := crawler.DatabaseStats{
		TotalPages:    int64(len(s.pages)),
		TotalLinks:    int64(len(s.links)),
		TotalDomains:  int64(len(s.domains)),
		TotalSessions: int64(len(s.sessions)),
	}
	for _, l := range s.links {
		if l.TargetPageID != nil {
			st.ResolvedLinks++
		}
	}
	var (
		sum   float64
		count int
	)
	for _, p := range s.pages {
		if p.QualityScore > 0 {
			sum += p.QualityScore
			count++
		}
	}
	if count > 0 {
		st.AvgQualityScore = sum / float64(count)
	}
	return st, nil
}

func (s *Store) sortedPagesLocked(less func(a, b crawler.Page) bool) []crawler.Page {
	out := make([]crawler.Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func limitPages(pages []crawler.Page, limit int) []crawler.Page {
	if limit > 0 && len(pages) > limit {
		return pages[:limit]
	}
	return pages
}
