// Package dispatcher runs a crawl: it seeds the frontier, fans work out to a
// pool of workers, decides when the crawl is over and records the session.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/frontier"
	"github.com/shreyas-bk24/anvesha-crawler/internal/metrics"
	"github.com/shreyas-bk24/anvesha-crawler/internal/stats"
	"github.com/shreyas-bk24/anvesha-crawler/internal/worker"
)

// ErrNoSeeds is returned when no seed URL could be admitted to the frontier.
var ErrNoSeeds = errors.New("no valid seed urls")

// StopReason says why a crawl ended.
type StopReason string

// Stop reasons.
const (
	StopCanceled        StopReason = "canceled"
	StopBudget          StopReason = "max_pages"
	StopFrontierDrained StopReason = "frontier_drained"
	StopWorkersExited   StopReason = "workers_exited"
)

// Config controls the worker pool and the crawl lifecycle.
type Config struct {
	Seeds   []string
	Workers int
	// PollInterval is how often the dispatcher checks the stop conditions.
	PollInterval time.Duration
	// StatsInterval is the cadence of progress reports and session flushes.
	StatsInterval time.Duration
	// ShutdownGrace bounds how long in-flight work may run after stopping.
	ShutdownGrace time.Duration
	// ConfigSnapshot is stored with the session as JSON.
	ConfigSnapshot []byte
	// Sinks receive progress snapshots in addition to the built-in ones.
	Sinks []stats.Sink
}

// Summary describes a finished crawl.
type Summary struct {
	SessionID    string                `json:"session_id"`
	Status       crawler.SessionStatus `json:"status"`
	Reason       StopReason            `json:"reason"`
	PagesCrawled int64                 `json:"pages_crawled"`
	PagesFailed  int64                 `json:"pages_failed"`
	FrontierSize int                   `json:"frontier_size"`
	Stats        stats.Snapshot        `json:"stats"`
}

// Status is a live view of a running crawl.
type Status struct {
	SessionID string         `json:"session_id"`
	Running   bool           `json:"running"`
	Stats     stats.Snapshot `json:"stats"`
	Frontier  frontier.Stats `json:"frontier"`
}

const (
	defaultPollInterval  = 50 * time.Millisecond
	defaultShutdownGrace = 10 * time.Second
	finalWriteTimeout    = 10 * time.Second
)

// Dispatcher owns one crawl run.
type Dispatcher struct {
	cfg       Config
	workerCfg worker.Config
	deps      worker.Deps
	sessions  crawler.SessionStore
	ids       crawler.IDGenerator
	logger    *zap.Logger
	running   atomic.Bool

	mu        sync.Mutex
	sessionID string
}

// New creates a Dispatcher. deps.Frontier, deps.Budget and deps.Stats are
// shared by every worker and must be set.
func New(
	cfg Config,
	workerCfg worker.Config,
	deps worker.Deps,
	sessions crawler.SessionStore,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if deps.Budget == nil {
		deps.Budget = worker.NewBudget(0)
	}
	if deps.Stats == nil {
		deps.Stats = stats.New(time.Now())
	}
	return &Dispatcher{
		cfg:       cfg,
		workerCfg: workerCfg,
		deps:      deps,
		sessions:  sessions,
		ids:       ids,
		logger:    logger,
	}
}

// Status returns the live crawl counters.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	id := d.sessionID
	d.mu.Unlock()
	return Status{
		SessionID: id,
		Running:   d.running.Load(),
		Stats:     d.deps.Stats.Snapshot(d.now()),
		Frontier:  d.deps.Frontier.Stats(),
	}
}

// Run executes the crawl and blocks until it is over. Per-URL failures never
// surface here; an error means the session could not be recorded or no seed
// was usable.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	sessionID, err := d.startSession(ctx)
	if err != nil {
		return Summary{}, err
	}
	logger := d.logger.With(zap.String("session_id", sessionID))

	if added := d.seed(logger); added == 0 {
		d.finish(ctx, logger, sessionID, crawler.SessionStatusFailed)
		return Summary{SessionID: sessionID, Status: crawler.SessionStatusFailed}, ErrNoSeeds
	}

	reporter := stats.NewReporter(stats.ReporterConfig{
		Interval: d.cfg.StatsInterval,
		Now:      d.now,
		Logger:   logger,
	}, d.deps.Stats, d.sinks(sessionID, logger)...)
	reporter.Start(ctx)

	d.running.Store(true)
	logger.Info("crawl started", zap.Int("workers", d.cfg.Workers), zap.Strings("seeds", d.cfg.Seeds))

	// In-flight work outlives the parent context by at most ShutdownGrace.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stop := make(chan struct{})

	var group errgroup.Group
	for i := 0; i < d.cfg.Workers; i++ {
		w := worker.New(i, d.workerCfg, d.deps, logger)
		group.Go(func() error {
			w.Run(workCtx, stop)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	reason := d.watch(ctx, done)
	close(stop)
	logger.Info("stopping crawl", zap.String("reason", string(reason)))

	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownGrace):
		logger.Warn("shutdown grace elapsed; cancelling in-flight work", zap.Duration("grace", d.cfg.ShutdownGrace))
		cancelWork()
		<-done
	}
	d.running.Store(false)

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	reporter.Stop(finalCtx)
	d.finish(finalCtx, logger, sessionID, crawler.SessionStatusCompleted)

	snap := d.deps.Stats.Snapshot(d.now())
	summary := Summary{
		SessionID:    sessionID,
		Status:       crawler.SessionStatusCompleted,
		Reason:       reason,
		PagesCrawled: snap.PagesCrawled,
		PagesFailed:  snap.PagesFailed,
		FrontierSize: d.deps.Frontier.Len(),
		Stats:        snap,
	}
	logger.Info("crawl finished",
		zap.String("reason", string(reason)),
		zap.Int64("pages_crawled", summary.PagesCrawled),
		zap.Int64("pages_failed", summary.PagesFailed),
		zap.Int("frontier_size", summary.FrontierSize),
		zap.Duration("elapsed", snap.Elapsed),
	)
	return summary, nil
}

// watch blocks until one of the stop conditions holds.
func (d *Dispatcher) watch(ctx context.Context, done <-chan struct{}) StopReason {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return StopCanceled
		case <-done:
			if d.deps.Budget.Exhausted() {
				return StopBudget
			}
			return StopWorkersExited
		case <-ticker.C:
			if d.deps.Budget.Exhausted() {
				return StopBudget
			}
			if d.deps.Frontier.Pending() == 0 {
				return StopFrontierDrained
			}
		}
	}
}

func (d *Dispatcher) startSession(ctx context.Context) (string, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	session := crawler.CrawlSession{
		ID:             id,
		StartedAt:      d.deps.Stats.StartedAt(),
		SeedURLs:       append([]string(nil), d.cfg.Seeds...),
		ConfigSnapshot: d.cfg.ConfigSnapshot,
		Status:         crawler.SessionStatusRunning,
	}
	if err := d.sessions.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	d.mu.Lock()
	d.sessionID = id
	d.mu.Unlock()
	return id, nil
}

func (d *Dispatcher) seed(logger *zap.Logger) int {
	added := 0
	for _, seed := range d.cfg.Seeds {
		result, err := d.deps.Frontier.Add(seed, 0, 0)
		metrics.ObserveFrontierAdd(result.String())
		switch result {
		case frontier.Added:
			added++
		case frontier.Rejected:
			logger.Warn("seed rejected", zap.String("url", seed), zap.Error(err))
		case frontier.AlreadySeen:
		}
	}
	return added
}

func (d *Dispatcher) finish(ctx context.Context, logger *zap.Logger, id string, status crawler.SessionStatus) {
	if err := d.sessions.CompleteSession(ctx, id, status, d.now()); err != nil {
		logger.Error("complete session failed", zap.String("status", string(status)), zap.Error(err))
	}
}

// sinks returns the progress sinks: a log line, the session counters and
// the frontier gauges, followed by any configured extras.
func (d *Dispatcher) sinks(sessionID string, logger *zap.Logger) []stats.Sink {
	sinks := []stats.Sink{
		stats.LogSink(logger),
		stats.SinkFunc(func(ctx context.Context, snap stats.Snapshot) error {
			if err := d.sessions.UpdateSession(ctx, sessionID, snap.PagesCrawled, snap.PagesFailed); err != nil {
				return fmt.Errorf("update session: %w", err)
			}
			return nil
		}),
		stats.SinkFunc(func(context.Context, stats.Snapshot) error {
			fs := d.deps.Frontier.Stats()
			metrics.SetFrontierSize(fs.Queued, fs.Parked, fs.InFlight)
			return nil
		}),
	}
	return append(sinks, d.cfg.Sinks...)
}

func (d *Dispatcher) now() time.Time {
	if d.deps.Clock == nil {
		return time.Now().UTC()
	}
	return d.deps.Clock.Now()
}
