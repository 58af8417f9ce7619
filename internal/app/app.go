// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/api"
	"github.com/shreyas-bk24/anvesha-crawler/internal/clock/system"
	"github.com/shreyas-bk24/anvesha-crawler/internal/config"
	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/dispatcher"
	collyfetcher "github.com/shreyas-bk24/anvesha-crawler/internal/fetcher/colly"
	"github.com/shreyas-bk24/anvesha-crawler/internal/frontier"
	"github.com/shreyas-bk24/anvesha-crawler/internal/hash/sha256"
	"github.com/shreyas-bk24/anvesha-crawler/internal/id/uuid"
	"github.com/shreyas-bk24/anvesha-crawler/internal/pagerank"
	"github.com/shreyas-bk24/anvesha-crawler/internal/policy/ratelimit"
	"github.com/shreyas-bk24/anvesha-crawler/internal/processor"
	"github.com/shreyas-bk24/anvesha-crawler/internal/robots"
	"github.com/shreyas-bk24/anvesha-crawler/internal/scheduler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/stats"
	"github.com/shreyas-bk24/anvesha-crawler/internal/storage/memory"
	"github.com/shreyas-bk24/anvesha-crawler/internal/storage/postgres"
	"github.com/shreyas-bk24/anvesha-crawler/internal/worker"
)

// migrator is implemented by stores with a schema to apply.
type migrator interface {
	Migrate(ctx context.Context) error
}

// App holds the shared services for one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  crawler.Store
	clock  crawler.Clock
}

// New opens the configured store and, when auto_migrate is set, applies the
// schema. An unreachable database is fatal.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		clock:  system.New(),
	}
	if cfg.Storage.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	logger.Info("application services initialized", zap.String("storage", cfg.Storage.Driver))
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Info("using in-memory storage; nothing will be persisted")
		return memory.NewStore(), nil
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.Storage.DatabaseURL,
			MaxConns: cfg.Storage.MaxConnections,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the persistence layer.
func (a *App) Store() crawler.Store { return a.store }

// Migrate applies the storage schema if the store has one.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// NewDispatcher assembles the crawl pipeline from configuration: frontier,
// scheduler, fetcher, processor and the worker pool.
func (a *App) NewDispatcher() (*dispatcher.Dispatcher, error) {
	cfg := a.cfg
	if len(cfg.Crawler.SeedURLs) == 0 {
		return nil, dispatcher.ErrNoSeeds
	}
	snapshot, err := snapshotConfig(cfg)
	if err != nil {
		return nil, err
	}

	var robotsPolicy crawler.RobotsPolicy
	if cfg.Network.RespectRobotsTxt {
		robotsPolicy = robots.New(robots.Config{
			UserAgent: cfg.Crawler.UserAgent,
			CacheTTL:  cfg.Network.RobotsCacheTTL,
		}, a.logger.Named("robots"))
	}
	var limiter scheduler.Waiter
	if cfg.Crawler.MaxRequestsPerSecond > 0 {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.MaxRequestsPerSecond, Burst: 1})
	}
	sched := scheduler.New(scheduler.Config{
		Concurrency:    cfg.Crawler.ConcurrentRequests,
		DefaultDelay:   cfg.RequestDelay(),
		MaxForbidden:   cfg.Crawler.MaxForbidden,
		BlockedDomains: cfg.Crawler.BlockedDomains,
		Retry: crawler.NewExponentialRetryPolicy(
			cfg.Network.MaxRetries,
			cfg.Network.RetryBackoffBase,
			cfg.Network.RetryBackoffMax,
		),
		Limiter: limiter,
	}, a.store, robotsPolicy, a.logger.Named("scheduler"))

	hasher := sha256.New()
	deps := worker.Deps{
		Frontier: frontier.New(frontier.Config{
			MaxQueued: cfg.QueueLimit(),
			Hasher:    hasher,
			Clock:     a.clock,
		}),
		Scheduler: sched,
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.Crawler.UserAgent,
			MaxBodySize: cfg.MaxBodyBytes(),
		}),
		Processor: processor.New(processor.Config{
			MaxLinksPerPage: cfg.Crawler.MaxLinksPerPage,
			BoostDomains:    cfg.Crawler.PriorityBoostDomains,
		}),
		Store:  a.store,
		Budget: worker.NewBudget(cfg.Crawler.MaxPages),
		Stats:  stats.New(a.clock.Now()),
		Hasher: hasher,
		Clock:  a.clock,
	}
	return dispatcher.New(dispatcher.Config{
		Seeds:          cfg.Crawler.SeedURLs,
		Workers:        cfg.Crawler.ConcurrentRequests,
		PollInterval:   cfg.Crawler.PollInterval,
		StatsInterval:  cfg.Crawler.StatsInterval,
		ShutdownGrace:  cfg.Crawler.ShutdownGrace,
		ConfigSnapshot: snapshot,
	}, worker.Config{
		MaxDepth:       cfg.Crawler.MaxDepth,
		RequestTimeout: cfg.Network.RequestTimeout,
		PollInterval:   cfg.Crawler.PollInterval,
	}, deps, a.store, uuid.New(), a.logger.Named("crawl")), nil
}

// PageRank returns an engine tuned from configuration.
func (a *App) PageRank() pagerank.Engine {
	return pagerank.Engine{
		Damping:       a.cfg.PageRank.Damping,
		MaxIterations: a.cfg.PageRank.MaxIterations,
		Tolerance:     a.cfg.PageRank.Tolerance,
		Logger:        a.logger.Named("pagerank"),
	}
}

// StatusServer builds the status HTTP server, or nil when server.addr is empty.
func (a *App) StatusServer(status api.StatusSource) *http.Server {
	if a.cfg.Server.Addr == "" {
		return nil
	}
	var pinger api.Pinger
	if p, ok := a.store.(api.Pinger); ok {
		pinger = p
	}
	srv := api.NewServer(status, a.store, pinger, a.logger.Named("api"))
	return &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ServeStatus runs srv until ctx ends, then shuts it down.
func (a *App) ServeStatus(ctx context.Context, srv *http.Server) {
	if srv == nil {
		return
	}
	go func() {
		a.logger.Info("status server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}()
}

// Close releases the store and flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.store.Close()
	_ = a.logger.Sync()
}

// snapshotConfig serializes cfg for the session record with credentials removed.
func snapshotConfig(cfg config.Config) ([]byte, error) {
	if cfg.Storage.DatabaseURL != "" {
		cfg.Storage.DatabaseURL = "redacted"
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config snapshot: %w", err)
	}
	return data, nil
}
