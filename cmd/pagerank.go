package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/report"
)

func newPageRankCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "pagerank",
		Short: "Recomputes PageRank over the stored link graph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := appInstance.PageRank().Run(cmd.Context(), appInstance.Store())
			if err != nil {
				return fmt.Errorf("run pagerank: %w", err)
			}
			out := cmd.OutOrStdout()
			report.PageRank(out, result)
			if top <= 0 {
				return nil
			}
			pages, err := appInstance.Store().TopPages(cmd.Context(), crawler.SortByPageRank, top)
			if err != nil {
				return fmt.Errorf("load top pages: %w", err)
			}
			report.Pages(out, "Top pages by PageRank", pages)
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "list this many top-ranked pages (0 to skip)")
	return cmd
}
