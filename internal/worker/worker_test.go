package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/frontier"
	"github.com/shreyas-bk24/anvesha-crawler/internal/processor"
	"github.com/shreyas-bk24/anvesha-crawler/internal/scheduler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/stats"
	"github.com/shreyas-bk24/anvesha-crawler/internal/storage/memory"
)

const seedHTML = `<html><head><title>Seed</title>
<meta name="description" content="seed page"></head>
<body><p>hello crawler world</p>
<a href="/x">X</a>
<a href="http://b.test/y">Y</a>
<a href="http://a.test/">Home</a>
</body></html>`

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]crawler.FetchResult
	errs     map[string]error
	requests map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:    make(map[string]crawler.FetchResult),
		errs:     make(map[string]error),
		requests: make(map[string]int),
	}
}

func (f *fakeFetcher) page(url, body string) {
	f.pages[url] = crawler.FetchResult{
		URL:         url,
		FinalURL:    url,
		StatusCode:  http.StatusOK,
		Headers:     http.Header{"Last-Modified": []string{"Wed, 21 Oct 2015 07:28:00 GMT"}},
		Body:        []byte(body),
		ContentType: "text/html; charset=utf-8",
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ time.Duration) (crawler.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[url]++
	if err, ok := f.errs[url]; ok {
		return crawler.FetchResult{URL: url}, err
	}
	if res, ok := f.pages[url]; ok {
		return res, nil
	}
	return crawler.FetchResult{URL: url, StatusCode: http.StatusNotFound}, crawler.NewStatusError(url, http.StatusNotFound)
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[url]
}

type harness struct {
	frontier *frontier.Frontier
	store    *memory.Store
	fetcher  *fakeFetcher
	budget   *Budget
	stats    *stats.Counters
	sched    *scheduler.Scheduler
	worker   *Worker
}

func newHarness(t *testing.T, maxDepth, maxPages int, blocked ...string) *harness {
	t.Helper()
	h := &harness{
		frontier: frontier.New(frontier.Config{}),
		store:    memory.NewStore(),
		fetcher:  newFakeFetcher(),
		budget:   NewBudget(maxPages),
		stats:    stats.New(time.Now()),
	}
	h.sched = scheduler.New(scheduler.Config{
		Concurrency:    2,
		BlockedDomains: blocked,
		Retry:          crawler.NewExponentialRetryPolicy(2, time.Millisecond, 2*time.Millisecond),
	}, h.store, nil, zap.NewNop())
	h.worker = New(1, Config{MaxDepth: maxDepth, PollInterval: 5 * time.Millisecond}, Deps{
		Frontier:  h.frontier,
		Scheduler: h.sched,
		Fetcher:   h.fetcher,
		Processor: processor.New(processor.Config{}),
		Store:     h.store,
		Budget:    h.budget,
		Stats:     h.stats,
	}, zap.NewNop())
	return h
}

func (h *harness) lease(t *testing.T, url string) frontier.Entry {
	t.Helper()
	_, err := h.frontier.Add(url, 0, 0)
	require.NoError(t, err)
	require.Equal(t, Reserved, h.budget.Reserve())
	e, ok := h.frontier.Next()
	require.True(t, ok)
	return e
}

func TestWorkerHandleStoresPageAndEnqueuesLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10)
	h.fetcher.page("http://a.test", seedHTML)

	h.worker.handle(context.Background(), h.lease(t, "http://a.test/"))

	page, err := h.store.GetPage(context.Background(), "http://a.test")
	require.NoError(t, err)
	assert.Equal(t, "Seed", crawler.Deref(page.Title))
	assert.Equal(t, "a.test", page.Domain)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Len(t, page.URLHash, 64)
	require.NotNil(t, page.LastModified)
	assert.Equal(t, 2015, page.LastModified.Year())

	links := h.store.Links(page.ID)
	require.Len(t, links, 3, "self links are recorded")

	st := h.frontier.Stats()
	assert.Equal(t, 2, st.Queued, "self link is not enqueued")
	assert.Equal(t, 0, st.InFlight)
	assert.True(t, h.frontier.IsCrawled("http://a.test"))
	assert.Equal(t, int64(1), h.budget.Committed())
	assert.Equal(t, int64(1), h.stats.Crawled())

	next, ok := h.frontier.Next()
	require.True(t, ok)
	assert.Equal(t, 1, next.Depth)
}

func TestWorkerHandleRespectsMaxDepth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0, 10)
	h.fetcher.page("http://a.test", seedHTML)

	h.worker.handle(context.Background(), h.lease(t, "http://a.test"))

	assert.Zero(t, h.frontier.Pending())
	assert.Equal(t, int64(1), h.stats.Crawled())
}

func TestWorkerHandleRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10)
	h.fetcher.errs["http://a.test"] = crawler.NewStatusError("http://a.test", http.StatusServiceUnavailable)

	h.worker.handle(context.Background(), h.lease(t, "http://a.test"))

	st := h.frontier.Stats()
	assert.Equal(t, 1, st.Parked)
	assert.Equal(t, 0, st.InFlight)
	assert.Zero(t, h.budget.Committed())
	snap := h.stats.Snapshot(time.Now())
	assert.Equal(t, int64(1), snap.PagesRetried)
	assert.Zero(t, snap.PagesFailed)

	var retry frontier.Entry
	require.Eventually(t, func() bool {
		var ok bool
		retry, ok = h.frontier.Next()
		return ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, retry.Attempt)

	require.Equal(t, Reserved, h.budget.Reserve())
	h.worker.handle(context.Background(), retry)
	assert.Zero(t, h.frontier.Pending(), "second attempt exhausts the retry budget")
	assert.Equal(t, int64(1), h.stats.Failed())
	assert.Equal(t, 2, h.fetcher.count("http://a.test"))
}

func TestWorkerHandlePermanentFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10)

	h.worker.handle(context.Background(), h.lease(t, "http://a.test/missing"))

	assert.Zero(t, h.frontier.Pending())
	assert.Equal(t, int64(1), h.stats.Failed())
	assert.Equal(t, 1, h.fetcher.count("http://a.test/missing"))
	_, err := h.store.GetPage(context.Background(), "http://a.test/missing")
	assert.True(t, errors.Is(err, crawler.ErrNotFound))
}

// failingLinkStore rejects the first failures SaveLinks calls.
type failingLinkStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
}

func (s *failingLinkStore) SaveLinks(ctx context.Context, sourcePageID int64, links []crawler.Link) error {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.Store.SaveLinks(ctx, sourcePageID, links)
}

func (h *harness) withStore(store crawler.PageStore) {
	h.worker = New(1, Config{MaxDepth: 1, PollInterval: 5 * time.Millisecond}, Deps{
		Frontier:  h.frontier,
		Scheduler: h.sched,
		Fetcher:   h.fetcher,
		Processor: processor.New(processor.Config{}),
		Store:     store,
		Budget:    h.budget,
		Stats:     h.stats,
	}, zap.NewNop())
}

func TestWorkerHandleRetriesWhenLinksAreNotSaved(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10)
	h.withStore(&failingLinkStore{Store: h.store, failures: 1})
	h.fetcher.page("http://a.test", seedHTML)

	h.worker.handle(context.Background(), h.lease(t, "http://a.test"))

	assert.Zero(t, h.budget.Committed(), "page without links is not counted")
	assert.Zero(t, h.stats.Crawled())
	assert.False(t, h.frontier.IsCrawled("http://a.test"))
	assert.Equal(t, 1, h.frontier.Stats().Parked)
	snap := h.stats.Snapshot(time.Now())
	assert.Equal(t, int64(1), snap.PagesRetried)
	assert.Equal(t, int64(1), snap.StorageErrors)

	var retry frontier.Entry
	require.Eventually(t, func() bool {
		var ok bool
		retry, ok = h.frontier.Next()
		return ok
	}, time.Second, time.Millisecond)
	require.Equal(t, Reserved, h.budget.Reserve())
	h.worker.handle(context.Background(), retry)

	page, err := h.store.GetPage(context.Background(), "http://a.test")
	require.NoError(t, err)
	assert.Len(t, h.store.Links(page.ID), 3)
	assert.Len(t, h.store.Pages(), 1, "retry upserts the same row")
	assert.Equal(t, int64(1), h.budget.Committed())
	assert.Equal(t, int64(1), h.stats.Crawled())
}

func TestWorkerHandleFailsWhenLinksNeverSave(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10)
	h.withStore(&failingLinkStore{Store: h.store, failures: 10})
	h.fetcher.page("http://a.test", seedHTML)

	e := h.lease(t, "http://a.test")
	e.Attempt = 2
	h.worker.handle(context.Background(), e)

	assert.Zero(t, h.frontier.Pending())
	assert.Equal(t, int64(1), h.stats.Failed())
	assert.Zero(t, h.budget.Committed())
}

func TestWorkerHandleDeniedDomain(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10, "blocked.test")
	h.fetcher.page("http://blocked.test", seedHTML)

	h.worker.handle(context.Background(), h.lease(t, "http://blocked.test"))

	assert.Zero(t, h.fetcher.count("http://blocked.test"))
	snap := h.stats.Snapshot(time.Now())
	assert.Equal(t, int64(1), snap.PagesDenied)
	assert.Equal(t, int64(1), snap.PagesFailed)
	assert.Zero(t, h.frontier.Pending())
}

func TestWorkerHandleRejectsNonHTML(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10)
	h.fetcher.pages["http://a.test/data"] = crawler.FetchResult{
		StatusCode:  http.StatusOK,
		Body:        []byte(`{"a":1}`),
		ContentType: "application/json",
	}

	h.worker.handle(context.Background(), h.lease(t, "http://a.test/data"))

	assert.Equal(t, int64(1), h.stats.Failed())
	assert.Zero(t, h.budget.Committed())
}

func TestWorkerRunStopsWhenBudgetExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 1)
	h.fetcher.page("http://a.test", seedHTML)
	_, err := h.frontier.Add("http://a.test", 0, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Run(context.Background(), make(chan struct{}))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after the budget was spent")
	}
	assert.Equal(t, int64(1), h.budget.Committed())
	assert.Len(t, h.store.Pages(), 1)
	assert.Equal(t, 2, h.frontier.Len(), "discovered links stay queued")
}

func TestWorkerRunExitsOnStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, 10)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Run(context.Background(), stop)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle worker ignored stop")
	}
}

func TestBudgetNeverOvershoots(t *testing.T) {
	t.Parallel()

	b := NewBudget(2)
	require.Equal(t, Reserved, b.Reserve())
	require.Equal(t, Reserved, b.Reserve())
	assert.Equal(t, Saturated, b.Reserve())

	b.Cancel()
	require.Equal(t, Reserved, b.Reserve())
	b.Commit()
	b.Commit()
	assert.True(t, b.Exhausted())
	assert.Equal(t, Exhausted, b.Reserve())
	assert.Equal(t, int64(2), b.Committed())

	unbounded := NewBudget(0)
	for i := 0; i < 100; i++ {
		require.Equal(t, Reserved, unbounded.Reserve())
	}
	assert.False(t, unbounded.Exhausted())
}
