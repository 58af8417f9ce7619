package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/config"
	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

var exportFixture = []crawler.Page{
	{URL: "https://a.test/", Domain: "a.test", Title: crawler.StringPtr("Home, sweet"), Content: crawler.StringPtr("body"), QualityScore: 0.9},
	{URL: "https://a.test/low", Domain: "a.test", Title: crawler.StringPtr("Low"), QualityScore: 0.1},
	{URL: "https://b.test/", Domain: "b.test", Title: crawler.StringPtr("B"), QualityScore: 0.7},
}

// executeSeeded runs args against an app whose store already holds
// exportFixture, crawled one day apart starting 2026-03-01.
func executeSeeded(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, closeApp := buildRootCmd(func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, p := range exportFixture {
			p.CrawledAt = day.AddDate(0, 0, i)
			if _, err := a.Store().SavePage(ctx, p); err != nil {
				return nil, err
			}
		}
		return a, nil
	})
	defer closeApp()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--config", writeConfig(t)))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExportJSONFiltersByDomainAndQuality(t *testing.T) {
	t.Parallel()

	out, err := executeSeeded(t, "export", "--domain", "a.test", "--min-quality", "0.5")
	require.NoError(t, err)

	var pages []crawler.Page
	require.NoError(t, json.Unmarshal([]byte(out), &pages))
	require.Len(t, pages, 1)
	assert.Equal(t, "https://a.test/", pages[0].URL)
	assert.Nil(t, pages[0].Content, "content is omitted unless requested")

	out, err = executeSeeded(t, "export", "--domain", "a.test", "--min-quality", "0.5", "--with-content")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &pages))
	assert.Equal(t, "body", crawler.Deref(pages[0].Content))
}

func TestExportCSVByDateRange(t *testing.T) {
	t.Parallel()

	out, err := executeSeeded(t, "export", "-f", "csv", "--since", "2026-03-02", "--until", "2026-03-03T23:59:59Z")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "https://a.test/low", records[1][1])
	assert.Equal(t, "https://b.test/", records[2][1])
	assert.Equal(t, "2026-03-03T12:00:00Z", records[2][len(csvHeader)-1])
}

func TestExportToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pages.csv")
	out, err := executeSeeded(t, "export", "--format", "csv", "--max-quality", "0.8", "--output", path)
	require.NoError(t, err)
	assert.Empty(t, out)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Low", records[1][3])
}

func TestExportQuotesCSVFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeExport(&buf, formatCSV, exportFixture[:1], false))
	assert.Contains(t, buf.String(), `"Home, sweet"`)

	buf.Reset()
	require.NoError(t, writeExport(&buf, formatJSON, nil, false))
	assert.Equal(t, "[]\n", buf.String())
}

func TestExportRejectsBadFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--format", "xml"}, "invalid --format"},
		{[]string{"--since", "yesterday"}, "invalid --since"},
		{[]string{"--min-quality", "0.9", "--max-quality", "0.2"}, "exceeds --max-quality"},
		{[]string{"--limit", "-1"}, "invalid --limit"},
	}
	for _, tt := range tests {
		_, err := execute(t, append([]string{"export", "--config", writeConfig(t)}, tt.args...)...)
		require.ErrorContains(t, err, tt.want, tt.args)
	}
}
