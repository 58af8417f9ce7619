package scheduler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

type fakeDomainStore struct {
	mu      sync.Mutex
	domains map[string]crawler.Domain
	upserts int
}

func newFakeDomainStore(seed ...crawler.Domain) *fakeDomainStore {
	s := &fakeDomainStore{domains: make(map[string]crawler.Domain)}
	for _, d := range seed {
		s.domains[d.Domain] = d
	}
	return s
}

func (s *fakeDomainStore) GetDomain(_ context.Context, domain string) (crawler.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[domain]
	if !ok {
		return crawler.Domain{}, crawler.ErrNotFound
	}
	return d, nil
}

func (s *fakeDomainStore) UpsertDomain(_ context.Context, domain crawler.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains[domain.Domain] = domain
	s.upserts++
	return nil
}

func (s *fakeDomainStore) get(domain string) crawler.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domains[domain]
}

type fakeRobots struct {
	disallow map[string]bool
	delay    time.Duration
}

func (r *fakeRobots) IsAllowed(_ context.Context, _ string, url string) bool {
	return !r.disallow[url]
}

func (r *fakeRobots) CrawlDelay(context.Context, string) (time.Duration, bool) {
	return r.delay, r.delay > 0
}

func (r *fakeRobots) Describe(string) (string, time.Time, bool) {
	return "User-agent: *\nDisallow: /private", time.Unix(1700000000, 0).UTC(), true
}

func TestAcquireSpacesGrantsPerDomain(t *testing.T) {
	t.Parallel()

	const delay = 40 * time.Millisecond
	s := New(Config{Concurrency: 4, DefaultDelay: delay}, nil, nil, zap.NewNop())

	var (
		mu     sync.Mutex
		grants []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			permit, err := s.Acquire(context.Background(), "example.com")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			grants = append(grants, permit.GrantedAt())
			mu.Unlock()
			permit.Release()
		}()
	}
	wg.Wait()

	require.Len(t, grants, 5)
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	for i := 1; i < len(grants); i++ {
		require.GreaterOrEqual(t, grants[i].Sub(grants[i-1]), delay, "grant %d", i)
	}
}

func TestAcquireDoesNotSerializeDistinctDomains(t *testing.T) {
	t.Parallel()

	s := New(Config{Concurrency: 4, DefaultDelay: time.Second}, nil, nil, zap.NewNop())
	start := time.Now()
	for _, domain := range []string{"a.example", "b.example", "c.example"} {
		permit, err := s.Acquire(context.Background(), domain)
		require.NoError(t, err)
		permit.Release()
	}
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAcquireBoundsGlobalConcurrency(t *testing.T) {
	t.Parallel()

	s := New(Config{Concurrency: 1}, nil, nil, zap.NewNop())
	held, err := s.Acquire(context.Background(), "a.example")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "b.example")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	held.Release()
	held.Release()

	permit, err := s.Acquire(context.Background(), "b.example")
	require.NoError(t, err)
	permit.Release()
}

func TestAdmitDeniesBlockedDisallowedAndRobots(t *testing.T) {
	t.Parallel()

	store := newFakeDomainStore(crawler.Domain{Domain: "closed.example", CrawlAllowed: false})
	robots := &fakeRobots{disallow: map[string]bool{"https://open.example/private": true}}
	s := New(Config{Concurrency: 1, BlockedDomains: []string{"*.ads.example"}}, store, robots, zap.NewNop())
	ctx := context.Background()

	require.ErrorIs(t, s.Admit(ctx, "closed.example", "https://closed.example/"), crawler.ErrSchedulerDenied)
	require.ErrorIs(t, s.Admit(ctx, "x.ads.example", "https://x.ads.example/"), crawler.ErrSchedulerDenied)
	require.ErrorIs(t, s.Admit(ctx, "open.example", "https://open.example/private"), crawler.ErrSchedulerDenied)
	require.NoError(t, s.Admit(ctx, "open.example", "https://open.example/public"))

	_, err := s.Acquire(ctx, "closed.example")
	require.ErrorIs(t, err, crawler.ErrSchedulerDenied)
}

func TestDelayComesFromRecordThenRobotsThenDefault(t *testing.T) {
	t.Parallel()

	store := newFakeDomainStore(crawler.Domain{Domain: "slow.example", CrawlDelay: 3 * time.Second, CrawlAllowed: true})
	robots := &fakeRobots{delay: 2 * time.Second}
	s := New(Config{Concurrency: 1, DefaultDelay: time.Second}, store, robots, zap.NewNop())
	ctx := context.Background()

	require.Equal(t, 3*time.Second, s.Delay(ctx, "slow.example"))
	require.Equal(t, 2*time.Second, s.Delay(ctx, "fresh.example"))

	persisted := store.get("fresh.example")
	require.True(t, persisted.CrawlAllowed)
	require.Equal(t, 2*time.Second, persisted.CrawlDelay)
	require.NotNil(t, persisted.RobotsTxt)
	require.NotNil(t, persisted.RobotsFetchedAt)

	noRobots := New(Config{Concurrency: 1, DefaultDelay: 750 * time.Millisecond}, nil, nil, zap.NewNop())
	require.Equal(t, 750*time.Millisecond, noRobots.Delay(ctx, "any.example"))
}

func TestRecordOutcomeRetriesTransientUntilBudgetSpent(t *testing.T) {
	t.Parallel()

	retry := crawler.NewExponentialRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)
	s := New(Config{Concurrency: 1, Retry: retry}, nil, nil, zap.NewNop())
	ctx := context.Background()
	serverErr := crawler.NewStatusError("https://a.example/", http.StatusInternalServerError)

	first := s.RecordOutcome(ctx, "a.example", 1, serverErr)
	require.Equal(t, ActionRetry, first.Action)
	require.Equal(t, crawler.Transient, first.Kind)
	require.Positive(t, first.Backoff)

	require.Equal(t, ActionRetry, s.RecordOutcome(ctx, "a.example", 2, serverErr).Action)
	require.Equal(t, ActionFail, s.RecordOutcome(ctx, "a.example", 3, serverErr).Action)

	notFound := crawler.NewStatusError("https://a.example/missing", http.StatusNotFound)
	verdict := s.RecordOutcome(ctx, "a.example", 1, notFound)
	require.Equal(t, ActionFail, verdict.Action)
	require.Equal(t, crawler.Permanent, verdict.Kind)

	require.Equal(t, ActionDone, s.RecordOutcome(ctx, "a.example", 1, nil).Action)
}

func TestRepeatedForbiddenDisablesDomain(t *testing.T) {
	t.Parallel()

	store := newFakeDomainStore()
	s := New(Config{Concurrency: 1, MaxForbidden: 2}, store, nil, zap.NewNop())
	ctx := context.Background()
	forbidden := crawler.NewStatusError("https://walled.example/", http.StatusForbidden)

	require.NoError(t, s.Admit(ctx, "walled.example", "https://walled.example/"))
	require.Equal(t, ActionFail, s.RecordOutcome(ctx, "walled.example", 1, forbidden).Action)
	require.NoError(t, s.Admit(ctx, "walled.example", "https://walled.example/a"))
	s.RecordOutcome(ctx, "walled.example", 1, forbidden)

	require.ErrorIs(t, s.Admit(ctx, "walled.example", "https://walled.example/b"), crawler.ErrSchedulerDenied)
	require.False(t, store.get("walled.example").CrawlAllowed)
}

func TestBlocklistPatterns(t *testing.T) {
	t.Parallel()

	b := newDomainPatternBlocklist([]string{"Tracker.example", "*.ads.example", ".cdn.example", " "})
	require.True(t, b.IsBlocked("tracker.example"))
	require.True(t, b.IsBlocked("TRACKER.example:8080"))
	require.True(t, b.IsBlocked("x.ads.example"))
	require.True(t, b.IsBlocked("ads.example"))
	require.True(t, b.IsBlocked("img.cdn.example"))
	require.False(t, b.IsBlocked("sub.tracker.example"))
	require.False(t, b.IsBlocked("example.org"))
	require.Nil(t, newDomainPatternBlocklist(nil))
	require.False(t, newDomainPatternBlocklist(nil).IsBlocked("anything"))
}

type recordingLimiter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.err
}

func TestAcquireConsultsLimiter(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{}
	s := New(Config{Concurrency: 2, Limiter: limiter}, newFakeDomainStore(), nil, zap.NewNop())
	permit, err := s.Acquire(context.Background(), "a.test")
	require.NoError(t, err)
	permit.Release()
	assert.Equal(t, []string{"a.test"}, limiter.keys)

	limiter.err = context.DeadlineExceeded
	_, err = s.Acquire(context.Background(), "b.test")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
