// Package robots fetches, caches and evaluates robots.txt per domain.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/metrics"
)

const (
	defaultCacheTTL  = time.Hour
	maxRobotsBytes   = 512 * 1024
	robotsPath       = "/robots.txt"
	allowAllFallback = "User-agent: *\nAllow: /"
)

var retryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// Config controls the checker.
type Config struct {
	UserAgent string
	CacheTTL  time.Duration
	// Schemes are tried in order until one answers. Defaults to https, http.
	Schemes []string
	Client  *http.Client
}

// Checker implements crawler.RobotsPolicy and crawler.RobotsDescriber.
type Checker struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*entry
	// inflight collapses concurrent fetches for the same domain.
	inflight map[string]*sync.WaitGroup
}

type entry struct {
	data      *robotstxt.RobotsData
	body      string
	fetchedAt time.Time
	found     bool
}

// New builds a Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if len(cfg.Schemes) == 0 {
		cfg.Schemes = []string{"https", "http"}
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Checker{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		cache:    make(map[string]*entry),
		inflight: make(map[string]*sync.WaitGroup),
	}
}

// IsAllowed reports whether the configured user agent may fetch rawURL.
func (c *Checker) IsAllowed(ctx context.Context, domain, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	e := c.entryFor(ctx, domain)
	if e.data == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return e.data.TestAgent(target, c.cfg.UserAgent)
}

// CrawlDelay returns the crawl-delay declared for the user agent, if any.
func (c *Checker) CrawlDelay(ctx context.Context, domain string) (time.Duration, bool) {
	e := c.entryFor(ctx, domain)
	if e.data == nil {
		return 0, false
	}
	group := e.data.FindGroup(c.cfg.UserAgent)
	if group == nil || group.CrawlDelay <= 0 {
		return 0, false
	}
	return group.CrawlDelay, true
}

// Describe returns the cached robots.txt body for persistence.
func (c *Checker) Describe(domain string) (string, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[strings.ToLower(domain)]
	if !ok || !e.found {
		return "", time.Time{}, false
	}
	return e.body, e.fetchedAt, true
}

func (c *Checker) entryFor(ctx context.Context, domain string) *entry {
	key := strings.ToLower(domain)
	for {
		c.mu.Lock()
		if e, ok := c.cache[key]; ok && time.Since(e.fetchedAt) <= c.cfg.CacheTTL {
			c.mu.Unlock()
			return e
		}
		if wg, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			wg.Wait()
			continue
		}
		wg := &sync.WaitGroup{}
		wg.Add(1)
		c.inflight[key] = wg
		c.mu.Unlock()

		e := c.fetch(ctx, key)

		c.mu.Lock()
		c.cache[key] = e
		delete(c.inflight, key)
		c.mu.Unlock()
		wg.Done()
		return e
	}
}

func (c *Checker) fetch(ctx context.Context, domain string) *entry {
	var lastErr error
	for _, scheme := range c.cfg.Schemes {
		status, body, err := c.fetchWithRetry(ctx, scheme+"://"+domain+robotsPath)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := robotstxt.FromStatusAndBytes(status, body)
		if err != nil {
			c.logger.Debug("robots parse failed; allowing access", zap.String("domain", domain), zap.Error(err))
			return &entry{fetchedAt: time.Now()}
		}
		e := &entry{data: data, fetchedAt: time.Now()}
		if status >= 200 && status < 300 {
			e.body = string(body)
			e.found = true
		}
		return e
	}
	if ctx.Err() != nil {
		// Zero fetchedAt keeps the entry stale so the next caller refetches.
		return &entry{}
	}
	c.logger.Warn("robots fetch failed; allowing access", zap.String("domain", domain), zap.Error(lastErr))
	metrics.ObserveRobotsFallback()
	data, _ := robotstxt.FromString(allowAllFallback) //nolint:errcheck // constant input
	return &entry{data: data, fetchedAt: time.Now()}
}

func (c *Checker) fetchWithRetry(ctx context.Context, robotsURL string) (int, []byte, error) {
	var lastErr error
	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		status, body, err := c.get(ctx, robotsURL)
		if err == nil {
			return status, body, nil
		}
		lastErr = err
		if !isTransient(err) || attempt == len(retryBackoff) {
			break
		}
		if err := sleepWithContext(ctx, retryBackoff[attempt]); err != nil {
			return 0, nil, err
		}
	}
	return 0, nil, lastErr
}

func (c *Checker) get(ctx context.Context, robotsURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("new robots request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close robots body failed", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read robots body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
