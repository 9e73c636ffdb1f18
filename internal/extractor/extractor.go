// Package extractor turns a loaded page into a PageData record: canonical
// URL resolution, content-type-driven XML feed parsing, and the
// unconditional HTML extraction pass (title, description, links, feeds,
// sitemaps, headers, main text, robots directives).
package extractor

import (
	"mime"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/coreindex/sitecrawler/internal/browser"
	"github.com/coreindex/sitecrawler/internal/crawlerrors"
	"github.com/coreindex/sitecrawler/internal/model"
	"github.com/coreindex/sitecrawler/internal/robots"
)

// Extractor produces PageData records from navigation results. It carries
// no per-call state; its helpers are logically private to one extraction
// and take the parsed document as a parameter, per the local-function-
// closures design note.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Result bundles the extracted record with the URLs the caller should
// admit into the frontier: followable links, plus feeds and sitemaps.
type Result struct {
	Page     model.PageData
	ToAdmit  []model.URL
}

// Extract implements the ordered operations from the Page Extractor
// component design. requestedURL is the URL the crawler asked for (used to
// resolve relative hrefs when the navigation result's own URL is absent).
func (e *Extractor) Extract(nav *browser.NavigationResult, requestedURL model.URL) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = crawlerrors.New(crawlerrors.KindExtractionFailure, requestedURL.String(), panicToErr(r))
		}
	}()

	switch nav.StatusCode {
	case 301, 302:
		return Result{}, crawlerrors.New(crawlerrors.KindRedirectEncountered, requestedURL.String(), nil)
	}
	if nav.StatusCode < 200 || nav.StatusCode >= 300 {
		return Result{}, crawlerrors.New(crawlerrors.KindHTTPNotOK, requestedURL.String(), nil)
	}

	pageURL := requestedURL
	if nav.FinalURL != "" {
		if parsed, perr := model.ParseURL(nav.FinalURL); perr == nil {
			pageURL = parsed
		}
	}

	doc, derr := goquery.NewDocumentFromReader(strings.NewReader(nav.HTML))
	if derr != nil {
		return Result{}, crawlerrors.New(crawlerrors.KindExtractionFailure, requestedURL.String(), derr)
	}

	canonical := canonicalURL(doc, pageURL)

	page := model.PageData{
		CanonicalURL: canonical,
		CrawledAt:    time.Now().UTC(),
	}

	contentType := nav.Headers.Get("Content-Type")
	if contentType != "" {
		mt := contentType
		page.MimeType = &mt
	}

	var links []model.PageLink
	switch mediaType(contentType) {
	case "application/atom+xml":
		links = append(links, e.parseAtomLinks(nav.Body, canonical)...)
	case "application/rss+xml":
		links = append(links, e.parseRSSLinks(nav.Body, canonical)...)
	case "application/xml":
		links = append(links, e.parseAtomLinks(nav.Body, canonical)...)
		links = append(links, e.parseRSSLinks(nav.Body, canonical)...)
	}

	title := strings.TrimSpace(nav.Title)
	if title != "" {
		page.Title = &title
	}
	page.Description = extractDescription(doc)
	content := nav.HTML
	page.Content = &content
	robotsCfg := extractRobots(doc, nav.Headers)
	page.Robots = &robotsCfg

	htmlLinks := extractLinks(doc, pageURL, robotsCfg.FollowLinks)
	links = append(links, htmlLinks...)
	page.Links = links

	page.MainElementTexts = extractMainTexts(doc)
	page.Headers = extractHeadings(doc)
	page.Feeds = extractFeeds(doc, pageURL)
	page.Sitemaps = extractSitemaps(doc, pageURL)

	toAdmit := make([]model.URL, 0, len(links)+len(page.Feeds)+len(page.Sitemaps))
	for _, l := range links {
		if l.Follow {
			toAdmit = append(toAdmit, l.URL)
		}
	}
	toAdmit = append(toAdmit, page.Feeds...)
	toAdmit = append(toAdmit, page.Sitemaps...)

	return Result{Page: page, ToAdmit: toAdmit}, nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return strings.ToLower(mt)
}

func canonicalURL(doc *goquery.Document, pageURL model.URL) model.URL {
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok {
		return pageURL
	}
	resolved, ok := pageURL.ResolveReference(href)
	if !ok {
		return pageURL
	}
	return resolved
}

func extractDescription(doc *goquery.Document) *string {
	selectors := []string{
		`meta[name="description"]`,
		`meta[name="twitter:description"]`,
		`meta[property="og:description"]`,
	}
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			trimmed := strings.TrimSpace(content)
			if trimmed != "" {
				return &trimmed
			}
		}
	}
	return nil
}

func extractRobots(doc *goquery.Document, headers interface{ Values(string) []string }) model.RobotConfiguration {
	var directives []robots.Directive
	for _, v := range headerValues(headers) {
		directives = append(directives, robots.Parse(v))
	}
	doc.Find(`meta[name="robots"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			directives = append(directives, robots.Parse(content))
		}
	})
	return robots.Merge(directives...)
}

func headerValues(h interface{ Values(string) []string }) []string {
	return h.Values("X-Robots-Tag")
}

func extractLinks(doc *goquery.Document, pageURL model.URL, pageFollow bool) []model.PageLink {
	var out []model.PageLink
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved, ok := pageURL.ResolveReference(href)
		if !ok {
			return
		}
		text := innerText(s)
		var textPtr *string
		if text != "" {
			textPtr = &text
		}
		rel, _ := s.Attr("rel")
		out = append(out, model.PageLink{
			URL:    resolved,
			Text:   textPtr,
			Follow: robots.LinkFollow(pageFollow, rel),
		})
	})
	return out
}

func extractMainTexts(doc *goquery.Document) []string {
	main := doc.Find(`main, [role="main"]`)
	if main.Length() == 0 {
		return []string{innerText(doc.Find("body").First())}
	}
	var texts []string
	main.Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, innerText(s))
	})
	return texts
}

func extractHeadings(doc *goquery.Document) []string {
	var headers []string
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		headers = append(headers, innerText(s))
	})
	return headers
}

func extractFeeds(doc *goquery.Document, pageURL model.URL) []model.URL {
	feedTypes := map[string]bool{
		"application/atom+xml": true,
		"application/rss+xml":  true,
		"application/xml":      true,
	}
	var out []model.URL
	doc.Find(`link[rel="alternate"]`).Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		if !feedTypes[strings.ToLower(strings.TrimSpace(typ))] {
			return
		}
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if resolved, ok := pageURL.ResolveReference(href); ok {
			out = append(out, resolved)
		}
	})
	return out
}

func extractSitemaps(doc *goquery.Document, pageURL model.URL) []model.URL {
	var out []model.URL
	doc.Find(`link[rel="sitemap"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if resolved, ok := pageURL.ResolveReference(href); ok {
			out = append(out, resolved)
		}
	})
	return out
}

func panicToErr(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &stringError{msg: "panic during extraction"}
}

type stringError struct{ msg string }

func (e *stringError) Error() string { return e.msg }
