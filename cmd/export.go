package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

type exportOptions struct {
	format      string
	output      string
	domain      string
	minQuality  float64
	maxQuality  float64
	since       string
	until       string
	limit       int
	withContent bool
}

var csvHeader = []string{
	"id", "url", "domain", "title", "description", "quality_score", "pagerank",
	"word_count", "language", "crawl_depth", "status_code", "crawled_at",
}

func newExportCmd() *cobra.Command {
	var opts exportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Writes stored pages as JSON or CSV",
		Long: `Lists stored pages in id order, optionally narrowed by domain, quality
score range and crawl time, and writes them as a JSON array or CSV rows.`,
		Example: `  anvesha export --format csv --domain example.com --min-quality 0.5
  anvesha export --since 2026-01-01 --output pages.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExportCommand(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatJSON, "output format: json or csv")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().StringVar(&opts.domain, "domain", "", "only pages of this domain")
	cmd.Flags().Float64Var(&opts.minQuality, "min-quality", 0, "lowest quality score to include")
	cmd.Flags().Float64Var(&opts.maxQuality, "max-quality", 1, "highest quality score to include")
	cmd.Flags().StringVar(&opts.since, "since", "", "only pages crawled at or after this time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.until, "until", "", "only pages crawled at or before this time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of pages; 0 exports all")
	cmd.Flags().BoolVar(&opts.withContent, "with-content", false, "include page text in JSON output")
	return cmd
}

func runExportCommand(cmd *cobra.Command, opts exportOptions) error {
	if opts.format != formatJSON && opts.format != formatCSV {
		return fmt.Errorf("invalid --format %q: want json or csv", opts.format)
	}
	filter, err := buildPageFilter(cmd, opts)
	if err != nil {
		return err
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	pages, err := appInstance.Store().ListPages(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}

	logger := appInstance.Logger().With(zap.String("format", opts.format), zap.Int("pages", len(pages)))
	if opts.output == "" {
		if err := writeExport(cmd.OutOrStdout(), opts.format, pages, opts.withContent); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		logger.Debug("pages exported")
		return nil
	}

	f, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("create %s: %w", opts.output, err)
	}
	if err := writeExport(f, opts.format, pages, opts.withContent); err != nil {
		_ = f.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", opts.output, err)
	}
	logger.Info("pages exported", zap.String("path", opts.output))
	return nil
}

// buildPageFilter maps flags onto a PageFilter. Quality bounds apply only
// when their flag was set.
func buildPageFilter(cmd *cobra.Command, opts exportOptions) (crawler.PageFilter, error) {
	filter := crawler.PageFilter{Domain: opts.domain, Limit: opts.limit}
	flags := cmd.Flags()
	if flags.Changed("min-quality") {
		v := opts.minQuality
		filter.MinQuality = &v
	}
	if flags.Changed("max-quality") {
		v := opts.maxQuality
		filter.MaxQuality = &v
	}
	if filter.MinQuality != nil && filter.MaxQuality != nil && *filter.MinQuality > *filter.MaxQuality {
		return filter, fmt.Errorf("--min-quality %.2f exceeds --max-quality %.2f", *filter.MinQuality, *filter.MaxQuality)
	}
	var err error
	if filter.CrawledAfter, err = parseTimeFlag("since", opts.since); err != nil {
		return filter, err
	}
	if filter.CrawledBefore, err = parseTimeFlag("until", opts.until); err != nil {
		return filter, err
	}
	if opts.limit < 0 {
		return filter, fmt.Errorf("invalid --limit %d", opts.limit)
	}
	return filter, nil
}

func parseTimeFlag(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s %q: want RFC 3339 or YYYY-MM-DD", name, raw)
}

func writeExport(w io.Writer, format string, pages []crawler.Page, withContent bool) error {
	if format == formatCSV {
		return writeCSV(w, pages)
	}
	if !withContent {
		trimmed := make([]crawler.Page, len(pages))
		for i, p := range pages {
			p.Content = nil
			trimmed[i] = p
		}
		pages = trimmed
	}
	if pages == nil {
		pages = []crawler.Page{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pages)
}

func writeCSV(w io.Writer, pages []crawler.Page) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, p := range pages {
		record := []string{
			strconv.FormatInt(p.ID, 10),
			p.URL,
			p.Domain,
			crawler.Deref(p.Title),
			crawler.Deref(p.Description),
			strconv.FormatFloat(p.QualityScore, 'f', 4, 64),
			strconv.FormatFloat(p.PageRank, 'f', 6, 64),
			strconv.Itoa(p.WordCount),
			p.Language,
			strconv.Itoa(p.CrawlDepth),
			strconv.Itoa(p.StatusCode),
			p.CrawledAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
