package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/report"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl session
// from the configured seeds until the page budget is spent, the frontier
// drains or the process is interrupted.
func newCrawlCmd() *cobra.Command {
	var rank bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts a crawl session",
		Long: `Crawls outward from the seed URLs with a pool of workers, honoring
robots.txt and per-domain delays, and stores pages and links. Pass --rank to
recompute PageRank once the crawl finishes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, rank)
		},
	}
	cmd.Flags().StringSliceP("seed", "s", nil, "seed URL (repeatable); replaces crawler.seed_urls")
	cmd.Flags().Int("max-pages", 0, "stop after this many stored pages")
	cmd.Flags().Bool("dry-run", false, "crawl without persisting anything")
	cmd.Flags().BoolVar(&rank, "rank", false, "run PageRank after the crawl")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, rank bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	d, err := appInstance.NewDispatcher()
	if err != nil {
		return fmt.Errorf("build crawler: %w", err)
	}

	srvCtx, stopServer := context.WithCancel(cmd.Context())
	defer stopServer()
	appInstance.ServeStatus(srvCtx, appInstance.StatusServer(d))

	summary, err := d.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	report.Summary(cmd.OutOrStdout(), summary)

	if !rank {
		logger.Info("crawl command finished", zap.String("session_id", summary.SessionID))
		return nil
	}
	// The crawl context may already be canceled; ranking still runs over
	// whatever was stored.
	result, err := appInstance.PageRank().Run(context.WithoutCancel(cmd.Context()), appInstance.Store())
	if err != nil {
		return fmt.Errorf("run pagerank: %w", err)
	}
	report.PageRank(cmd.OutOrStdout(), result)
	return nil
}
