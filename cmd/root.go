// Package cmd defines and implements the CLI commands for the anvesha crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/api"
	"github.com/shreyas-bk24/anvesha-crawler/internal/app"
	"github.com/shreyas-bk24/anvesha-crawler/internal/config"
	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/dispatcher"
	"github.com/shreyas-bk24/anvesha-crawler/internal/logging"
	"github.com/shreyas-bk24/anvesha-crawler/internal/pagerank"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the commands use. *app.App satisfies it.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Store() crawler.Store
	Migrate(ctx context.Context) error
	NewDispatcher() (*dispatcher.Dispatcher, error)
	PageRank() pagerank.Engine
	StatusServer(status api.StatusSource) *http.Server
	ServeStatus(ctx context.Context, srv *http.Server)
	Close()
}

// appFactory builds the App for one command invocation.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates the root command and a function that closes the App
// built for the invoked subcommand. cobra skips post-run hooks when RunE
// fails, so the caller closes the App after Execute returns.
func newRootCmd() (*cobra.Command, func()) {
	return buildRootCmd(newApp)
}

func buildRootCmd(factory appFactory) (*cobra.Command, func()) {
	var (
		cfgFile string
		built   App
	)
	closeApp := func() {
		if built != nil {
			built.Close()
			built = nil
		}
	}
	cmd := &cobra.Command{
		Use:   "anvesha",
		Short: "A polite, prioritized web crawler with PageRank scoring.",
		Long: `anvesha crawls the web from a set of seed URLs, honoring robots.txt and
per-domain crawl delays, stores page content and the link graph in Postgres,
and ranks the crawled pages with PageRank.`,
		SilenceUsage: true,

		// Runs before every subcommand: load configuration (with that
		// subcommand's flag overrides), build the logger and the app.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, flagOverrides(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or TOML)")

	cmd.AddCommand(
		newCrawlCmd(),
		newPageRankCmd(),
		newStatsCmd(),
		newMigrateCmd(),
		newExportCmd(),
	)
	return cmd, closeApp
}

// flagOverrides applies command-line flags on top of the loaded config. Only
// flags defined on the running subcommand and set by the user take effect.
func flagOverrides(cmd *cobra.Command) func(*config.Config) {
	return func(c *config.Config) {
		flags := cmd.Flags()
		if flags.Lookup("seed") != nil && flags.Changed("seed") {
			if seeds, err := flags.GetStringSlice("seed"); err == nil {
				c.Crawler.SeedURLs = seeds
			}
		}
		if flags.Lookup("max-pages") != nil && flags.Changed("max-pages") {
			if n, err := flags.GetInt("max-pages"); err == nil {
				c.Crawler.MaxPages = n
			}
		}
		if flags.Lookup("dry-run") != nil {
			if dry, err := flags.GetBool("dry-run"); err == nil && dry {
				c.Storage.Driver = config.DriverMemory
			}
		}
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command, which lets a crawl wind down and close its session.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
