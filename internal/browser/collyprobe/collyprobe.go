// Package collyprobe implements browser.Browser without JavaScript, using
// gocolly. It is the optional non-JS fast path, selected with
// browser.engine "colly" in the configuration: pages that populate
// content client-side will extract incompletely under this browser, which
// is why the headless chromedp implementation remains the default (see the
// headless-browser dependency design note).
package collyprobe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/coreindex/sitecrawler/internal/browser"
)

// Config controls the underlying colly collector.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Browser fetches pages with a plain HTTP client wrapped by colly, with no
// script execution and no sub-resource fetching to abort in the first
// place (colly never fetches sub-resources).
type Browser struct {
	base *colly.Collector
}

// New builds a probe Browser.
func New(cfg Config) *Browser {
	if cfg.Timeout <= 0 {
		cfg.Timeout = browser.NavigationTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.ParseHTTPErrorResponse())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// A stock http.Client follows 301/302 transparently, so OnResponse would
	// only ever see the final 200 and the extractor's redirect check
	// (StatusCode == 301 || 302) could never fire for this fast path. Stop
	// at the first hop instead and let Navigate report the redirect itself,
	// same as the chromedp path where a redirect status reaches the
	// extractor directly.
	c.SetClient(&http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	})
	return &Browser{base: c}
}

// Close is a no-op: colly holds no persistent resources worth releasing.
func (b *Browser) Close(context.Context) error { return nil }

// Navigate performs a single GET, tracking every redirect hop as an
// observed URL.
func (b *Browser) Navigate(ctx context.Context, rawURL string) (*browser.NavigationResult, error) {
	collector := b.base.Clone()

	var (
		result   browser.NavigationResult
		fetchErr error
		mu       sync.Mutex
		once     sync.Once
	)
	result.RequestedURL = rawURL

	collector.OnRequest(func(r *colly.Request) {
		mu.Lock()
		result.ObservedURLs = append(result.ObservedURLs, r.URL.String())
		mu.Unlock()
	})
	collector.OnResponse(func(r *colly.Response) {
		mu.Lock()
		result.FinalURL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.HTML = string(r.Body)
		result.Body = r.Body
		result.Headers = http.Header(*r.Headers)
		// CheckRedirect leaves the client stopped at the first hop, so a
		// 301/302 response here carries a Location header rather than an
		// already-followed body; record the target the same way ObservedURLs
		// records every other navigation URL, so the coordinator marks it
		// visited (not pending) and a later link to it is not re-crawled.
		if loc := result.Headers.Get("Location"); loc != "" {
			if abs := r.Request.AbsoluteURL(loc); abs != "" {
				result.ObservedURLs = append(result.ObservedURLs, abs)
			}
		}
		mu.Unlock()
	})
	collector.OnHTML("title", func(e *colly.HTMLElement) {
		mu.Lock()
		if result.Title == "" {
			result.Title = strings.TrimSpace(e.Text)
		}
		mu.Unlock()
	})
	collector.OnError(func(r *colly.Response, err error) {
		once.Do(func() {
			mu.Lock()
			fetchErr = fmt.Errorf("colly probe fetch: %w", err)
			if r != nil {
				result.StatusCode = r.StatusCode
			}
			mu.Unlock()
		})
	})

	done := make(chan error, 1)
	go func() { done <- collector.Visit(rawURL) }()

	select {
	case err := <-done:
		if err != nil && fetchErr == nil {
			fetchErr = fmt.Errorf("colly visit: %w", err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("navigate canceled: %w", ctx.Err())
	}
	collector.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if result.StatusCode == 0 {
		return nil, browser.ErrNoResponse
	}
	return &result, nil
}
