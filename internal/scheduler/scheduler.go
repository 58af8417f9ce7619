// Package scheduler gates fetches between the frontier and the network. It
// bounds global concurrency with a weighted semaphore, spaces requests to
// each domain by that domain's crawl delay, refuses domains that robots.txt
// or configuration disallow, and turns fetch outcomes into retry decisions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/metrics"
)

// Waiter is an optional global rate ceiling applied before each grant.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Config controls scheduler behavior.
type Config struct {
	// Concurrency is the number of permits that may be held at once.
	Concurrency int
	// DefaultDelay applies to domains without a stored crawl delay.
	DefaultDelay time.Duration
	// MaxForbidden disables a domain after that many 403 responses. Zero disables the check.
	MaxForbidden   int
	BlockedDomains []string
	Retry          *crawler.ExponentialRetryPolicy
	Limiter        Waiter
}

// Scheduler is safe for concurrent use by all workers.
type Scheduler struct {
	cfg       Config
	slots     *semaphore.Weighted
	store     crawler.DomainStore
	robots    crawler.RobotsPolicy
	blocklist *domainPatternBlocklist
	logger    *zap.Logger

	mu      sync.Mutex
	domains map[string]*domainState
}

// New builds a Scheduler. store and robots may be nil.
func New(
	cfg Config,
	store crawler.DomainStore,
	robots crawler.RobotsPolicy,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DefaultDelay < 0 {
		cfg.DefaultDelay = 0
	}
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy(3, time.Second, 30*time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		slots:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		store:     store,
		robots:    robots,
		blocklist: newDomainPatternBlocklist(cfg.BlockedDomains),
		logger:    logger,
		domains:   make(map[string]*domainState),
	}
}

// Admit reports whether rawURL may be fetched at all. The returned error
// wraps crawler.ErrSchedulerDenied; such URLs are failed without a fetch.
func (s *Scheduler) Admit(ctx context.Context, domain, rawURL string) error {
	st := s.state(ctx, domain)
	if !st.isAllowed() {
		metrics.ObserveSchedulerDenied("domain")
		return fmt.Errorf("domain %s: %w", domain, crawler.ErrSchedulerDenied)
	}
	if s.robots != nil && !s.robots.IsAllowed(ctx, domain, rawURL) {
		metrics.ObserveSchedulerDenied("robots")
		return fmt.Errorf("robots.txt disallows %s: %w", rawURL, crawler.ErrSchedulerDenied)
	}
	return nil
}

// Acquire blocks until a global slot is free and the domain's delay has
// elapsed since its previous grant. The permit must be released.
func (s *Scheduler) Acquire(ctx context.Context, domain string) (*Permit, error) {
	st := s.state(ctx, domain)
	if !st.isAllowed() {
		return nil, fmt.Errorf("domain %s: %w", domain, crawler.ErrSchedulerDenied)
	}
	start := time.Now()
	for {
		if err := sleepCtx(ctx, st.reserve(time.Now())); err != nil {
			return nil, err
		}
		if s.cfg.Limiter != nil {
			if err := s.cfg.Limiter.Wait(ctx, domain); err != nil {
				return nil, err
			}
		}
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire slot: %w", err)
		}
		now := time.Now()
		if st.tryGrant(now) {
			metrics.ObserveDomainWait(now.Sub(start))
			return &Permit{grantedAt: now, release: func() { s.slots.Release(1) }}, nil
		}
		s.slots.Release(1)
	}
}

// Action is what the worker should do with a URL after an attempt.
type Action int

// Outcome actions.
const (
	ActionDone Action = iota + 1
	ActionRetry
	ActionFail
)

// Verdict is the scheduler's decision for one attempt.
type Verdict struct {
	Action  Action
	Kind    crawler.FailureKind
	Backoff time.Duration
}

// RecordOutcome classifies the result of attempt (1-based) against domain.
// A nil err is a success. Transient failures are retried until the attempt
// budget is spent; permanent failures never are.
func (s *Scheduler) RecordOutcome(ctx context.Context, domain string, attempt int, err error) Verdict {
	st := s.state(ctx, domain)
	if err == nil {
		st.resetForbidden()
		return Verdict{Action: ActionDone}
	}

	kind := crawler.KindOf(err)
	if crawler.StatusOf(err) == http.StatusForbidden {
		if record, disabled := st.markForbidden(s.cfg.MaxForbidden); disabled {
			s.logger.Warn("disabling domain after repeated forbidden responses",
				zap.String("domain", domain),
				zap.Int("threshold", s.cfg.MaxForbidden),
			)
			s.persist(ctx, record)
		}
	}
	if s.cfg.Retry.ShouldRetry(kind, attempt) {
		return Verdict{Action: ActionRetry, Kind: kind, Backoff: s.cfg.Retry.Backoff(attempt)}
	}
	return Verdict{Action: ActionFail, Kind: kind}
}

// Delay returns the inter-request delay currently applied to domain.
func (s *Scheduler) Delay(ctx context.Context, domain string) time.Duration {
	return s.state(ctx, domain).currentDelay()
}

// state returns the accounting entry for domain, loading it on first use.
func (s *Scheduler) state(ctx context.Context, domain string) *domainState {
	s.mu.Lock()
	st, ok := s.domains[domain]
	if !ok {
		st = &domainState{name: domain}
		s.domains[domain] = st
	}
	s.mu.Unlock()

	st.once.Do(func() { s.load(ctx, st) })
	return st
}

func (s *Scheduler) load(ctx context.Context, st *domainState) {
	record, err := s.lookup(ctx, st.name)
	switch {
	case err == nil:
	case errors.Is(err, crawler.ErrNotFound):
		record = s.discover(ctx, st.name)
		s.persist(ctx, record)
	default:
		s.logger.Warn("domain lookup failed; using defaults", zap.String("domain", st.name), zap.Error(err))
		record = crawler.Domain{Domain: st.name, CrawlDelay: s.cfg.DefaultDelay, CrawlAllowed: true}
	}
	if s.blocklist.IsBlocked(st.name) {
		record.CrawlAllowed = false
	}
	if record.CrawlDelay < 0 {
		record.CrawlDelay = 0
	}

	st.mu.Lock()
	st.record = record
	st.delay = record.CrawlDelay
	st.allowed = record.CrawlAllowed
	st.mu.Unlock()
}

func (s *Scheduler) lookup(ctx context.Context, domain string) (crawler.Domain, error) {
	if s.store == nil {
		return crawler.Domain{}, crawler.ErrNotFound
	}
	record, err := s.store.GetDomain(ctx, domain)
	if err != nil {
		return crawler.Domain{}, fmt.Errorf("get domain %s: %w", domain, err)
	}
	return record, nil
}

// discover builds a fresh record from configuration and robots.txt.
func (s *Scheduler) discover(ctx context.Context, domain string) crawler.Domain {
	record := crawler.Domain{
		Domain:       domain,
		CrawlDelay:   s.cfg.DefaultDelay,
		CrawlAllowed: !s.blocklist.IsBlocked(domain),
	}
	if s.robots == nil || !record.CrawlAllowed {
		return record
	}
	if d, ok := s.robots.CrawlDelay(ctx, domain); ok && d > record.CrawlDelay {
		record.CrawlDelay = d
	}
	if describer, ok := s.robots.(crawler.RobotsDescriber); ok {
		if body, fetchedAt, found := describer.Describe(domain); found {
			record.RobotsTxt = crawler.StringPtr(body)
			record.RobotsFetchedAt = &fetchedAt
		}
	}
	return record
}

func (s *Scheduler) persist(ctx context.Context, record crawler.Domain) {
	if s.store == nil {
		return
	}
	if err := s.store.UpsertDomain(ctx, record); err != nil {
		s.logger.Warn("persist domain failed", zap.String("domain", record.Domain), zap.Error(err))
	}
}

// Permit authorizes one fetch. Release frees its global slot and is safe to
// call more than once.
type Permit struct {
	grantedAt time.Time
	release   func()
	once      sync.Once
}

// GrantedAt returns when the permit was granted.
func (p *Permit) GrantedAt() time.Time { return p.grantedAt }

// Release returns the permit's slot to the scheduler.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.release)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("wait for domain slot: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait for domain slot: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
