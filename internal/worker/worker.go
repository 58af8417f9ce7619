// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/frontier"
	"github.com/shreyas-bk24/anvesha-crawler/internal/hash/sha256"
	"github.com/shreyas-bk24/anvesha-crawler/internal/metrics"
	"github.com/shreyas-bk24/anvesha-crawler/internal/scheduler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/stats"
)

// Config controls Worker behavior.
type Config struct {
	MaxDepth       int
	RequestTimeout time.Duration
	// PollInterval is how long an idle worker waits before asking the
	// frontier again.
	PollInterval time.Duration
}

// Deps are the collaborators shared by every worker of one crawl.
type Deps struct {
	Frontier  *frontier.Frontier
	Scheduler *scheduler.Scheduler
	Fetcher   crawler.PageFetcher
	Processor crawler.PageProcessor
	Store     crawler.PageStore
	Budget    *Budget
	Stats     *stats.Counters
	Hasher    crawler.Hasher
	Clock     crawler.Clock
}

// Worker pulls entries from the frontier and runs each through the
// admit, fetch, process and persist stages.
type Worker struct {
	id     int
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

const defaultPollInterval = 50 * time.Millisecond

// New constructs a Worker.
func New(id int, cfg Config, deps Deps, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Budget == nil {
		deps.Budget = NewBudget(0)
	}
	if deps.Stats == nil {
		deps.Stats = stats.New(time.Now())
	}
	return &Worker{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, processing frontier entries until stop is closed, ctx ends or
// the page budget is spent. ctx bounds in-flight work; stop only prevents
// new work from starting.
func (w *Worker) Run(ctx context.Context, stop <-chan struct{}) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		switch w.deps.Budget.Reserve() {
		case Exhausted:
			w.logger.Debug("page budget exhausted")
			return
		case Saturated:
			if !w.idle(ctx, stop) {
				return
			}
			continue
		case Reserved:
		}

		entry, ok := w.deps.Frontier.Next()
		if !ok {
			w.deps.Budget.Cancel()
			if !w.idle(ctx, stop) {
				return
			}
			continue
		}
		w.handle(ctx, entry)
	}
}

func (w *Worker) idle(ctx context.Context, stop <-chan struct{}) bool {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// handle runs one leased entry to completion. The budget reservation taken
// by Run is committed only when the page is stored.
func (w *Worker) handle(ctx context.Context, e frontier.Entry) {
	committed := false
	defer func() {
		if !committed {
			w.deps.Budget.Cancel()
		}
	}()

	logger := w.logger.With(zap.String("url", e.URL), zap.Int("depth", e.Depth), zap.Int("attempt", e.Attempt))

	domain, err := crawler.DomainOf(e.URL)
	if err != nil {
		w.fail(logger, e, "invalid url", err)
		w.deps.Frontier.Done(e)
		return
	}

	if err := w.deps.Scheduler.Admit(ctx, domain, e.URL); err != nil {
		w.deny(logger, e, err)
		w.deps.Frontier.Done(e)
		return
	}

	permit, err := w.deps.Scheduler.Acquire(ctx, domain)
	if err != nil {
		if errors.Is(err, crawler.ErrSchedulerDenied) {
			w.deny(logger, e, err)
		} else {
			w.fail(logger, e, "acquire permit", err)
		}
		w.deps.Frontier.Done(e)
		return
	}

	result := w.crawl(ctx, logger, e, domain)
	permit.Release()

	if result.retry {
		w.deps.Frontier.Retry(e, result.backoff)
		return
	}
	committed = result.stored
	w.deps.Frontier.Done(e)
}

type crawlResult struct {
	stored  bool
	retry   bool
	backoff time.Duration
}

func (w *Worker) crawl(ctx context.Context, logger *zap.Logger, e frontier.Entry, domain string) crawlResult {
	res, fetchErr := w.deps.Fetcher.Fetch(ctx, e.URL, w.cfg.RequestTimeout)
	verdict := w.deps.Scheduler.RecordOutcome(ctx, domain, e.Attempt, fetchErr)
	switch verdict.Action {
	case scheduler.ActionRetry:
		w.deps.Stats.PageRetried()
		metrics.ObservePage(e.URL, "retried", 0)
		logger.Debug("fetch failed; retrying",
			zap.Stringer("kind", verdict.Kind),
			zap.Duration("backoff", verdict.Backoff),
			zap.Error(fetchErr),
		)
		return crawlResult{retry: true, backoff: verdict.Backoff}
	case scheduler.ActionFail:
		w.fail(logger, e, "fetch", fetchErr)
		return crawlResult{}
	case scheduler.ActionDone:
	}

	base := res.FinalURL
	if base == "" {
		base = e.URL
	}
	processed, err := w.deps.Processor.Process(base, e.Depth, res.Body, res.ContentType)
	if err != nil {
		w.fail(logger, e, "process", err)
		return crawlResult{}
	}

	pageID, err := w.save(ctx, e, domain, res, processed)
	if err != nil {
		return w.storageFailure(ctx, logger, e, domain, "save page", err)
	}
	if err := w.deps.Store.SaveLinks(ctx, pageID, toLinks(processed.Links)); err != nil {
		return w.storageFailure(ctx, logger, e, domain, "save links", err)
	}
	w.deps.Budget.Commit()

	w.deps.Stats.LinksFound(len(processed.Links))
	w.enqueue(logger, e, processed.Links)

	w.deps.Frontier.MarkCrawled(e.URL)
	w.deps.Stats.PageCrawled(len(res.Body))
	metrics.ObservePage(e.URL, "crawled", len(res.Body))
	logger.Debug("page crawled",
		zap.Int64("page_id", pageID),
		zap.Int("status", res.StatusCode),
		zap.Int("links", len(processed.Links)),
		zap.Float64("quality", processed.QualityScore),
		zap.Duration("fetch_duration", res.Duration),
	)
	return crawlResult{stored: true}
}

// storageFailure retries the entry while the retry budget allows. Both writes
// are idempotent, so a retried page converges on one row with all its links.
func (w *Worker) storageFailure(
	ctx context.Context,
	logger *zap.Logger,
	e frontier.Entry,
	domain, stage string,
	err error,
) crawlResult {
	w.deps.Stats.StorageError()
	verdict := w.deps.Scheduler.RecordOutcome(ctx, domain, e.Attempt, err)
	if verdict.Action == scheduler.ActionRetry {
		w.deps.Stats.PageRetried()
		metrics.ObservePage(e.URL, "retried", 0)
		logger.Warn("storage failed; retrying", zap.String("stage", stage), zap.Duration("backoff", verdict.Backoff), zap.Error(err))
		return crawlResult{retry: true, backoff: verdict.Backoff}
	}
	w.fail(logger, e, stage, err)
	return crawlResult{}
}

// save persists the page under the URL that was requested, even when the
// fetch was redirected.
func (w *Worker) save(
	ctx context.Context,
	e frontier.Entry,
	domain string,
	res crawler.FetchResult,
	processed *crawler.ProcessedPage,
) (int64, error) {
	urlHash, err := w.deps.Hasher.Hash([]byte(e.URL))
	if err != nil {
		return 0, fmt.Errorf("hash url: %w", err)
	}
	page := crawler.Page{
		URL:           e.URL,
		URLHash:       urlHash,
		Domain:        domain,
		Title:         crawler.StringPtr(processed.Title),
		Description:   crawler.StringPtr(processed.Description),
		Content:       crawler.StringPtr(processed.Text),
		ContentHash:   processed.ContentHash,
		QualityScore:  processed.QualityScore,
		WordCount:     processed.WordCount,
		Language:      processed.Language,
		CrawlDepth:    e.Depth,
		CrawledAt:     w.now(),
		LastModified:  lastModified(res.Headers),
		StatusCode:    res.StatusCode,
		ContentType:   res.ContentType,
		ContentLength: len(res.Body),
	}
	id, err := w.deps.Store.SavePage(ctx, page)
	if err != nil {
		return 0, fmt.Errorf("save page: %w", err)
	}
	return id, nil
}

// enqueue admits non-self links one level deeper, up to MaxDepth.
func (w *Worker) enqueue(logger *zap.Logger, e frontier.Entry, links []crawler.ExtractedLink) {
	depth := e.Depth + 1
	if depth > w.cfg.MaxDepth {
		return
	}
	for _, link := range links {
		if link.Self {
			continue
		}
		result, err := w.deps.Frontier.Add(link.URL, depth, link.Hint)
		metrics.ObserveFrontierAdd(result.String())
		if result == frontier.Rejected {
			w.deps.Stats.URLRejected()
			logger.Debug("frontier rejected link", zap.String("link", link.URL), zap.Error(err))
		}
	}
}

func (w *Worker) deny(logger *zap.Logger, e frontier.Entry, err error) {
	w.deps.Stats.PageDenied()
	w.deps.Stats.PageFailed()
	metrics.ObservePage(e.URL, "denied", 0)
	logger.Debug("url denied", zap.Error(err))
}

func (w *Worker) fail(logger *zap.Logger, e frontier.Entry, stage string, err error) {
	w.deps.Stats.PageFailed()
	metrics.ObservePage(e.URL, "failed", 0)
	logger.Info("page failed", zap.String("stage", stage), zap.Error(err))
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}

func toLinks(extracted []crawler.ExtractedLink) []crawler.Link {
	links := make([]crawler.Link, 0, len(extracted))
	for _, l := range extracted {
		links = append(links, crawler.Link{
			TargetURL:  l.URL,
			AnchorText: crawler.StringPtr(l.Anchor),
			Position:   l.Position,
		})
	}
	return links
}

func lastModified(h http.Header) *time.Time {
	raw := h.Get("Last-Modified")
	if raw == "" {
		return nil
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
