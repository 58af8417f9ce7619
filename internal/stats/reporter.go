package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink receives periodic snapshots. Implementations must honor ctx deadlines.
type Sink interface {
	Report(ctx context.Context, snap Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, snap Snapshot) error

// Report calls f.
func (f SinkFunc) Report(ctx context.Context, snap Snapshot) error {
	return f(ctx, snap)
}

// ReporterConfig controls the reporting cadence.
//   - Interval: time between snapshots (default 10s).
//   - SinkTimeout: per-sink deadline for one report (default 5s).
//   - Now: optional clock, defaults to time.Now.
type ReporterConfig struct {
	Interval    time.Duration
	SinkTimeout time.Duration
	Now         func() time.Time
	Logger      *zap.Logger
}

const (
	defaultInterval    = 10 * time.Second
	defaultSinkTimeout = 5 * time.Second
)

// Reporter snapshots a Counters set on a ticker and fans the snapshot out to
// its sinks. Sink errors are logged and never stop the loop.
type Reporter struct {
	cfg      ReporterConfig
	counters *Counters
	sinks    []Sink
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReporter builds a Reporter; call Start to begin ticking.
func NewReporter(cfg ReporterConfig, counters *Counters, sinks ...Sink) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		cfg:      cfg,
		counters: counters,
		sinks:    append([]Sink(nil), sinks...),
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the ticker in a goroutine until Stop is called or ctx ends.
func (r *Reporter) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop halts the ticker, waits for it to exit, then reports one final
// snapshot so sinks see the closing counts.
func (r *Reporter) Stop(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stopCh) })
	select {
	case <-r.doneCh:
	case <-ctx.Done():
	}
	r.Flush(ctx)
}

// Flush reports the current snapshot to every sink immediately.
func (r *Reporter) Flush(ctx context.Context) {
	snap := r.counters.Snapshot(r.cfg.Now())
	for _, sink := range r.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
		if err := sink.Report(sinkCtx, snap); err != nil {
			r.logger.Warn("stats sink failed", zap.Error(err))
		}
		cancel()
	}
}

func (r *Reporter) run(ctx context.Context) {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Flush(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// LogSink writes each snapshot as one info line.
func LogSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return SinkFunc(func(_ context.Context, snap Snapshot) error {
		logger.Info("crawl progress",
			zap.Int64("pages_crawled", snap.PagesCrawled),
			zap.Int64("pages_failed", snap.PagesFailed),
			zap.Int64("pages_retried", snap.PagesRetried),
			zap.Int64("pages_denied", snap.PagesDenied),
			zap.Int64("links_discovered", snap.LinksDiscovered),
			zap.Int64("bytes_fetched", snap.BytesFetched),
			zap.Duration("elapsed", snap.Elapsed),
			zap.Float64("pages_per_second", snap.CrawlRate),
		)
		return nil
	})
}
