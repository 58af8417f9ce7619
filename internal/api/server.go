package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/dispatcher"
	"github.com/shreyas-bk24/anvesha-crawler/internal/metrics"
)

// StatusSource reports the live state of a crawl.
type StatusSource interface {
	Status() dispatcher.Status
}

// Pinger is implemented by stores that can check their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	defaultLimit   = 10
	maxLimit       = 100
	requestTimeout = 30 * time.Second
	readyTimeout   = 2 * time.Second
)

// Server wires HTTP handlers to the running crawl and the store.
type Server struct {
	router  chi.Router
	status  StatusSource
	queries crawler.QueryStore
	pinger  Pinger
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. status and
// pinger may be nil.
func NewServer(status StatusSource, queries crawler.QueryStore, pinger Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		status:  status,
		queries: queries,
		pinger:  pinger,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/crawl", s.crawlStatus)
		r.Get("/stats", s.databaseStats)
		r.Route("/pages", func(r chi.Router) {
			r.Get("/", s.listPages)
			r.Get("/top", s.topPages)
			r.Get("/search", s.searchPages)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) crawlStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		s.writeError(w, http.StatusNotFound, "no crawl running")
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) databaseStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.queries.Stats(r.Context())
	if err != nil {
		s.logger.Error("database stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) topPages(w http.ResponseWriter, r *http.Request) {
	by := crawler.SortField(r.URL.Query().Get("by"))
	switch by {
	case "":
		by = crawler.SortByPageRank
	case crawler.SortByPageRank, crawler.SortByQuality:
	default:
		s.writeError(w, http.StatusBadRequest, "by must be pagerank or quality")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pages, err := s.queries.TopPages(r.Context(), by, limit)
	if err != nil {
		s.logger.Error("top pages failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load pages")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pages": summarize(pages)})
}

func (s *Server) searchPages(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		s.writeError(w, http.StatusBadRequest, "q required")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pages, err := s.queries.SearchPages(r.Context(), term, limit)
	if err != nil {
		s.logger.Error("search pages failed", zap.String("term", term), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to search pages")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pages": summarize(pages)})
}

// listPages serves ListPages. Accepts domain, min_quality, max_quality,
// since and until (RFC 3339) and limit.
func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	filter, err := parsePageFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pages, err := s.queries.ListPages(r.Context(), filter)
	if err != nil {
		s.logger.Error("list pages failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pages": summarize(pages)})
}

func parsePageFilter(q url.Values) (crawler.PageFilter, error) {
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return crawler.PageFilter{}, err
	}
	filter := crawler.PageFilter{Domain: q.Get("domain"), Limit: limit}
	for name, dst := range map[string]**float64{"min_quality": &filter.MinQuality, "max_quality": &filter.MaxQuality} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return crawler.PageFilter{}, fmt.Errorf("%s must be a number", name)
		}
		*dst = &v
	}
	for name, dst := range map[string]**time.Time{"since": &filter.CrawledAfter, "until": &filter.CrawledBefore} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return crawler.PageFilter{}, fmt.Errorf("%s must be an RFC 3339 time", name)
		}
		t = t.UTC()
		*dst = &t
	}
	return filter, nil
}

// pageSummary omits page content from listings.
type pageSummary struct {
	ID           int64     `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Domain       string    `json:"domain"`
	QualityScore float64   `json:"quality_score"`
	PageRank     float64   `json:"pagerank"`
	WordCount    int       `json:"word_count"`
	CrawledAt    time.Time `json:"crawled_at"`
}

func summarize(pages []crawler.Page) []pageSummary {
	out := make([]pageSummary, 0, len(pages))
	for _, p := range pages {
		out = append(out, pageSummary{
			ID:           p.ID,
			URL:          p.URL,
			Title:        crawler.Deref(p.Title),
			Domain:       p.Domain,
			QualityScore: p.QualityScore,
			PageRank:     p.PageRank,
			WordCount:    p.WordCount,
			CrawledAt:    p.CrawledAt,
		})
	}
	return out
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
