package processor

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

const (
	hintBoosted = 0
	hintArticle = 0.25
	hintDefault = 0.5
)

var skippedSchemes = []string{"mailto:", "tel:", "javascript:", "data:"}

var ignoredExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".pdf": {},
	".doc": {}, ".docx": {}, ".zip": {}, ".tar": {}, ".gz": {},
	".mp3": {}, ".mp4": {}, ".avi": {},
}

var articleMarkers = []string{"/article/", "/post/", "/blog/"}

// extractLinks returns normalized outbound links in document order plus the
// number of words inside anchors.
func (p *HTMLProcessor) extractLinks(doc *goquery.Document, base *url.URL, self string) ([]crawler.ExtractedLink, int) {
	var (
		links       []crawler.ExtractedLink
		anchorWords int
		seen        = make(map[string]struct{})
	)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		anchor := collapseWhitespace(s.Text())
		anchorWords += len(strings.Fields(anchor))

		if len(links) >= p.cfg.MaxLinksPerPage {
			return true
		}
		href, _ := s.Attr("href")
		target, ok := resolve(base, href)
		if !ok {
			return true
		}
		if _, dup := seen[target]; dup {
			return true
		}
		seen[target] = struct{}{}
		links = append(links, crawler.ExtractedLink{
			URL:      target,
			Anchor:   anchor,
			Position: len(links),
			Hint:     p.hint(target),
			Self:     target == self,
		})
		return true
	})
	return links, anchorWords
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}
	normalized, err := crawler.ResolveReference(base, href)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", false
	}
	if _, skip := ignoredExtensions[strings.ToLower(path.Ext(u.Path))]; skip {
		return "", false
	}
	return normalized, true
}

func (p *HTMLProcessor) hint(target string) float64 {
	if len(p.cfg.BoostDomains) == 0 {
		return hintBoosted
	}
	u, err := url.Parse(target)
	if err != nil {
		return hintDefault
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range p.cfg.BoostDomains {
		if strings.HasPrefix(d, ".") {
			if strings.HasSuffix(host, d) {
				return hintBoosted
			}
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return hintBoosted
		}
	}
	lowerPath := strings.ToLower(u.Path) + "/"
	for _, marker := range articleMarkers {
		if strings.Contains(lowerPath, marker) {
			return hintArticle
		}
	}
	return hintDefault
}
