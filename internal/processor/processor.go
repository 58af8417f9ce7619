// Package processor turns fetched HTML into page content, quality scores and
// outbound links.
package processor

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/hash/sha256"
)

const (
	defaultMaxLinks    = 1000
	defaultLanguage    = "en"
	descriptionLength  = 160
	strippedSelections = "script,style,noscript,template,svg"
)

var allowedContentTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
}

// Config tunes extraction.
type Config struct {
	MaxLinksPerPage int
	// BoostDomains get the lowest priority hint. Entries starting with a dot
	// match any host with that suffix.
	BoostDomains []string
}

// HTMLProcessor implements crawler.PageProcessor with goquery.
type HTMLProcessor struct {
	cfg Config
}

// New builds an HTMLProcessor.
func New(cfg Config) *HTMLProcessor {
	if cfg.MaxLinksPerPage <= 0 {
		cfg.MaxLinksPerPage = defaultMaxLinks
	}
	boost := make([]string, 0, len(cfg.BoostDomains))
	for _, d := range cfg.BoostDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			boost = append(boost, d)
		}
	}
	cfg.BoostDomains = boost
	return &HTMLProcessor{cfg: cfg}
}

// Process parses body and extracts title, text, metadata and links.
func (p *HTMLProcessor) Process(pageURL string, _ int, body []byte, contentType string) (*crawler.ProcessedPage, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse page url: %v", crawler.ErrParse, err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	if !isHTML(contentType) {
		return nil, fmt.Errorf("%w: unsupported content type %q", crawler.ErrParse, contentType)
	}

	decoded, err := decode(body, contentType)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", crawler.ErrParse, err)
	}

	page := &crawler.ProcessedPage{
		URL:      pageURL,
		Title:    extractTitle(doc),
		Language: extractLanguage(doc),
	}

	// Links are read before noise removal so anchors inside <noscript> still count.
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, rerr := base.Parse(strings.TrimSpace(href)); rerr == nil {
			base = resolved
		}
	}
	self, _ := crawler.NormalizeURL(pageURL) //nolint:errcheck // an unnormalizable page url just never matches
	links, anchorWords := p.extractLinks(doc, base, self)
	page.Links = links

	doc.Find(strippedSelections).Remove()
	page.Text = collapseWhitespace(doc.Find("body").Text())
	page.WordCount = len(strings.Fields(page.Text))
	page.Description = extractDescription(doc, page.Text)
	page.ContentHash = sha256.SumString(page.Text)
	page.QualityScore = qualityScore(page.WordCount, len(page.Text), len(decoded), anchorWords, page.Title != "")

	return page, nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	_, ok := allowedContentTypes[mediaType]
	return ok
}

func decode(body []byte, contentType string) ([]byte, error) {
	if bytes.IndexByte(body, 0) >= 0 {
		return nil, fmt.Errorf("%w: binary content", crawler.ErrParse)
	}
	if _, name, _ := charset.DetermineEncoding(body, contentType); name == "utf-8" {
		// The utf-8 decoder would silently replace invalid sequences.
		if !utf8.Valid(body) {
			return nil, fmt.Errorf("%w: invalid utf-8", crawler.ErrParse)
		}
		return body, nil
	}
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: decode charset: %v", crawler.ErrParse, err)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read decoded body: %v", crawler.ErrParse, err)
	}
	return decoded, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := collapseWhitespace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return metaContent(doc, `meta[property="og:title"]`)
}

func extractDescription(doc *goquery.Document, text string) string {
	if desc := metaContent(doc, `meta[name="description"]`); desc != "" {
		return desc
	}
	if desc := metaContent(doc, `meta[property="og:description"]`); desc != "" {
		return desc
	}
	return truncateRunes(text, descriptionLength)
}

func extractLanguage(doc *goquery.Document) string {
	lang, ok := doc.Find("html").First().Attr("lang")
	if !ok {
		return defaultLanguage
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return defaultLanguage
	}
	return lang
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return collapseWhitespace(content)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
