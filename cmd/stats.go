package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/report"
)

type statsOptions struct {
	top    int
	by     string
	search string
}

func newStatsCmd() *cobra.Command {
	var opts statsOptions
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Shows database totals and the best pages",
		Long: `Prints page, link and domain totals followed by the top pages ordered by
PageRank or quality score. With --search, lists pages whose title or content
matches the term instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatsCommand(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.top, "top", 10, "number of pages to list")
	cmd.Flags().StringVar(&opts.by, "by", string(crawler.SortByPageRank), "ordering: pagerank or quality")
	cmd.Flags().StringVar(&opts.search, "search", "", "search titles and content for a term")
	return cmd
}

func runStatsCommand(cmd *cobra.Command, opts statsOptions) error {
	by := crawler.SortField(opts.by)
	if by != crawler.SortByPageRank && by != crawler.SortByQuality {
		return fmt.Errorf("invalid --by %q: want pagerank or quality", opts.by)
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	store := appInstance.Store()

	var (
		totals crawler.DatabaseStats
		pages  []crawler.Page
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		var err error
		if totals, err = store.Stats(ctx); err != nil {
			return fmt.Errorf("load stats: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if opts.search != "" {
			pages, err = store.SearchPages(ctx, opts.search, opts.top)
		} else {
			pages, err = store.TopPages(ctx, by, opts.top)
		}
		if err != nil {
			return fmt.Errorf("load pages: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	report.Database(out, totals)
	title := fmt.Sprintf("Top pages by %s", by)
	if opts.search != "" {
		title = fmt.Sprintf("Pages matching %q", opts.search)
	}
	report.Pages(out, title, pages)
	return nil
}
