// Package chromedp implements the browser.Browser contract using headless
// Chrome via chromedp, adapted from the teacher's renderer/fetcher pair to
// add per-request interception (aborting images, media, and fonts) and
// full observed-URL tracking across redirects.
package chromedp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/coreindex/sitecrawler/internal/browser"
)

// Config controls the shared allocator/browser context.
type Config struct {
	UserAgent   string
	Viewport    struct{ Width, Height int64 }
	Locale      string
	MaxParallel int
}

// Browser renders pages using a single shared headless Chrome instance,
// dispensing one tab per Navigate call under a concurrency semaphore.
type Browser struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	userAgent       string
	locale          string
	viewportW       int64
	viewportH       int64
}

var abortedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage:  true,
	network.ResourceTypeMedia:  true,
	network.ResourceTypeFont:   true,
}

// New starts the shared allocator and warms up the browser context.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.Viewport.Width == 0 {
		cfg.Viewport.Width = 1366
	}
	if cfg.Viewport.Height == 0 {
		cfg.Viewport.Height = 900
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxParallel),
		userAgent:       cfg.UserAgent,
		locale:          cfg.Locale,
		viewportW:       cfg.Viewport.Width,
		viewportH:       cfg.Viewport.Height,
	}, nil
}

// Close tears down the shared allocator and browser context.
func (b *Browser) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.browserCancel()
	b.allocatorCancel()
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

// Navigate loads rawURL in a fresh tab, aborting image/media/font
// sub-resource requests, and returns the rendered document.
func (b *Browser) Navigate(ctx context.Context, rawURL string) (*browser.NavigationResult, error) {
	release, err := b.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, browser.NavigationTimeout)
	defer cancelTask()

	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	// fetch.FailRequest/ContinueRequest issued from the event handler below
	// need an executor bound to this tab's target, not a bare
	// context.Background() (which carries none and would make every Do call
	// fail with cdp.ErrInvalidContext, leaving every paused request — the
	// main document included, since the pattern matches "*" — stalled until
	// the navigation timeout).
	target := chromedp.FromContext(taskCtx)
	execCtx := cdp.WithExecutor(taskCtx, target.Target)

	obs := newObserver(execCtx)
	chromedp.ListenTarget(taskCtx, obs.onEvent)

	var html, title, finalURL string
	tasks := chromedp.Tasks{
		network.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}),
		emulation.SetUserAgentOverride(b.userAgent),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if b.locale != "" {
				return emulation.SetLocaleOverride().WithLocale(b.locale).Do(ctx)
			}
			return nil
		}),
		emulation.SetDeviceMetricsOverride(b.viewportW, b.viewportH, 1, false),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitNetworkIdle(obs, 500*time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks...); err != nil {
		return nil, fmt.Errorf("chromedp navigate %s: %w", rawURL, err)
	}

	status, headers, docURL := obs.documentSnapshot()
	if status == 0 {
		return nil, browser.ErrNoResponse
	}
	if docURL != "" {
		finalURL = docURL
	}

	return &browser.NavigationResult{
		RequestedURL: rawURL,
		FinalURL:     finalURL,
		StatusCode:   status,
		Headers:      headers,
		HTML:         html,
		Title:        title,
		Body:         []byte(html),
		ObservedURLs: obs.observedURLs(),
	}, nil
}

func (b *Browser) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case b.sem <- struct{}{}:
		return func() { <-b.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser slot: %w", ctx.Err())
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// waitNetworkIdle approximates "wait until network activity is idle" by
// polling until a full quiet window passes with no network event recorded by
// the observer (or NavigationTimeout elapses). In-flight request counts are
// not tracked: network.EventRequestWillBeSent/network.EventLoadingFinished
// only refresh the observer's last-activity timestamp.
func waitNetworkIdle(obs *observer, quiet time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(browser.NavigationTimeout)
		for time.Now().Before(deadline) {
			last := obs.lastActivity()
			time.Sleep(quiet)
			if !obs.lastActivity().After(last) {
				return nil
			}
		}
		return nil
	})
}

type observer struct {
	mu         sync.Mutex
	status     int
	headers    http.Header
	docURL     string
	urls       map[string]struct{}
	lastActive time.Time
	execCtx    context.Context
}

func newObserver(execCtx context.Context) *observer {
	return &observer{
		headers:    http.Header{},
		urls:       map[string]struct{}{},
		lastActive: time.Now(),
		execCtx:    execCtx,
	}
}

func (o *observer) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		o.recordResponse(e)
	case *network.EventRequestWillBeSent:
		o.touch()
	case *network.EventLoadingFinished:
		o.touch()
	case *fetch.EventRequestPaused:
		go o.handlePaused(e)
	}
}

func (o *observer) touch() {
	o.mu.Lock()
	o.lastActive = time.Now()
	o.mu.Unlock()
}

func (o *observer) lastActivity() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastActive
}

func (o *observer) recordResponse(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	o.mu.Lock()
	o.urls[e.Response.URL] = struct{}{}
	if e.Type == network.ResourceTypeDocument {
		o.status = int(e.Response.Status)
		o.docURL = e.Response.URL
		for k, v := range e.Response.Headers {
			o.headers.Add(k, fmt.Sprint(v))
		}
	}
	o.lastActive = time.Now()
	o.mu.Unlock()
}

func (o *observer) documentSnapshot() (int, http.Header, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status, cloneHeader(o.headers), o.docURL
}

func (o *observer) observedURLs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.urls))
	for u := range o.urls {
		out = append(out, u)
	}
	return out
}

// handlePaused implements the sub-resource abort rule: image, media, and
// font requests are aborted; everything else continues unmodified.
func (o *observer) handlePaused(e *fetch.EventRequestPaused) {
	ctx := o.execCtx
	if abortedResourceTypes[e.ResourceType] {
		_ = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
		return
	}
	_ = fetch.ContinueRequest(e.RequestID).Do(ctx)
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
