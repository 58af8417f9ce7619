// Package report renders crawl results as terminal tables.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/dispatcher"
	"github.com/shreyas-bk24/anvesha-crawler/internal/pagerank"
)

const (
	urlColumnWidth   = 60
	titleColumnWidth = 40
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

// Summary renders the end-of-run crawl summary.
func Summary(w io.Writer, s dispatcher.Summary) {
	t := newTable(w, "Crawl summary")
	t.AppendRows([]table.Row{
		{"Session", s.SessionID},
		{"Status", s.Status},
		{"Stopped because", s.Reason},
		{"Pages crawled", s.PagesCrawled},
		{"Pages failed", s.PagesFailed},
		{"Retries", s.Stats.PagesRetried},
		{"Denied", s.Stats.PagesDenied},
		{"Links discovered", s.Stats.LinksDiscovered},
		{"Bytes fetched", s.Stats.BytesFetched},
		{"Frontier size", s.FrontierSize},
		{"Elapsed", s.Stats.Elapsed.Round(time.Millisecond)},
		{"Crawl rate", fmt.Sprintf("%.2f pages/s", s.Stats.CrawlRate)},
	})
	t.Render()
}

// Pages renders a ranked page listing.
func Pages(w io.Writer, title string, pages []crawler.Page) {
	t := newTable(w, title)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: urlColumnWidth},
		{Number: 3, WidthMax: titleColumnWidth},
	})
	t.AppendHeader(table.Row{"#", "URL", "Title", "Quality", "PageRank", "Words"})
	for i, p := range pages {
		t.AppendRow(table.Row{
			i + 1,
			p.URL,
			oneLine(crawler.Deref(p.Title)),
			fmt.Sprintf("%.3f", p.QualityScore),
			fmt.Sprintf("%.6f", p.PageRank),
			p.WordCount,
		})
	}
	t.AppendFooter(table.Row{"Total", len(pages)})
	t.Render()
}

// Database renders corpus statistics.
func Database(w io.Writer, s crawler.DatabaseStats) {
	t := newTable(w, "Database")
	t.AppendRows([]table.Row{
		{"Pages", s.TotalPages},
		{"Links", s.TotalLinks},
		{"Resolved links", s.ResolvedLinks},
		{"Domains", s.TotalDomains},
		{"Average quality", fmt.Sprintf("%.3f", s.AvgQualityScore)},
		{"Sessions", s.TotalSessions},
	})
	t.Render()
}

// PageRank renders the outcome of a ranking pass.
func PageRank(w io.Writer, r pagerank.Result) {
	t := newTable(w, "PageRank")
	t.AppendRows([]table.Row{
		{"Pages ranked", len(r.Ranks)},
		{"Iterations", r.Iterations},
		{"Final delta", fmt.Sprintf("%.2e", r.Delta)},
		{"Converged", r.Converged},
	})
	t.Render()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
