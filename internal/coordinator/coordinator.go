// Package coordinator drives a crawl: it pulls URLs off the frontier, bounds
// how many navigate concurrently, invokes the extractor on each response,
// fans discovered records out to registered listeners, and admits newly
// discovered URLs back into the frontier until it drains.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/coreindex/sitecrawler/internal/browser"
	"github.com/coreindex/sitecrawler/internal/crawlerrors"
	"github.com/coreindex/sitecrawler/internal/extractor"
	"github.com/coreindex/sitecrawler/internal/frontier"
	"github.com/coreindex/sitecrawler/internal/model"
)

// Listener receives one PageCrawled event per successfully extracted page,
// synchronously with respect to the worker that produced it, per the
// synchronous-fan-out design note.
type Listener interface {
	PageCrawled(page model.PageData)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(page model.PageData)

// PageCrawled implements Listener.
func (f ListenerFunc) PageCrawled(page model.PageData) { f(page) }

// Metrics is the ambient counters collaborator; nil is a valid no-op value.
type Metrics interface {
	ObservePageExtracted()
	ObservePageFailed(kind crawlerrors.Kind)
	SetPendingGauge(n int)
}

// FileSink receives every extracted page regardless of its robots
// directives, per the asymmetry preserved in the coordinator's fan-out.
type FileSink interface {
	IndexPage(page model.PageData) error
}

// SearchSink receives only pages whose merged robots directive allows
// indexing; the coordinator enforces that skip, not the sink itself.
type SearchSink interface {
	IndexPage(ctx context.Context, page model.PageData) error
}

// Coordinator owns the permit semaphore and the driver loop described by
// the bounded-parallelism traversal design.
type Coordinator struct {
	frontier  *frontier.Frontier
	extractor *extractor.Extractor
	browser   browser.Browser
	logger    *zap.Logger
	metrics   Metrics

	fileSink   FileSink
	searchSink SearchSink
	listeners  []Listener
	permits    chan struct{}
	inFlight   sync.WaitGroup
}

// New builds a Coordinator. degreeOfParallelism must be >= 1.
func New(f *frontier.Frontier, b browser.Browser, e *extractor.Extractor, logger *zap.Logger, metrics Metrics, degreeOfParallelism int) *Coordinator {
	if degreeOfParallelism < 1 {
		degreeOfParallelism = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		frontier:  f,
		extractor: e,
		browser:   b,
		logger:    logger,
		metrics:   metrics,
		permits:   make(chan struct{}, degreeOfParallelism),
	}
}

// AddListener registers l to receive every PageCrawled event. Listeners must
// be registered before Run starts.
func (c *Coordinator) AddListener(l Listener) {
	c.listeners = append(c.listeners, l)
}

// SetFileSink wires the streaming file sink. A nil sink (the default) means
// no page is written to disk; a run without any configured sink still
// crawls, per the CLI's graceful nil-collaborator degradation.
func (c *Coordinator) SetFileSink(s FileSink) {
	c.fileSink = s
}

// SetSearchSink wires the search-backend sink.
func (c *Coordinator) SetSearchSink(s SearchSink) {
	c.searchSink = s
}

// Run seeds the frontier with the configured root URLs and drives the crawl
// to completion: it blocks until the frontier is closed and every in-flight
// worker has finished, then returns. A non-nil error is only ever an
// InvariantViolation, per the error propagation policy.
func (c *Coordinator) Run(ctx context.Context, roots []model.URL) error {
	for _, root := range roots {
		c.frontier.Admit(root)
	}
	if c.metrics != nil {
		c.metrics.SetPendingGauge(c.frontier.PendingLen())
	}

	var fatalMu sync.Mutex
	var fatal error

	// Closing the frontier on cancellation wakes any Take blocked on the
	// condition variable, wherever it is parked — the driver loop below
	// only ever selects on ctx.Done() while trying to acquire a permit, so
	// without this a cancellation arriving while the driver is inside Take
	// would never be observed.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			c.frontier.Close()
		case <-watchDone:
		}
	}()

	// Take dequeues (and marks active) before a permit is acquired, so the
	// active count the frontier tracks always includes a URL from the
	// moment it leaves pending — there is no window where a dequeued URL is
	// uncounted, which is what makes Done's pending-empty-and-no-active
	// check race-free. The permits channel here only bounds how many
	// crawlOne calls run concurrently; it plays no part in termination.
runLoop:
	for {
		u, ok := c.frontier.Take()
		if !ok {
			break runLoop
		}

		select {
		case c.permits <- struct{}{}:
		case <-ctx.Done():
			c.frontier.Done()
			break runLoop
		}

		c.inFlight.Add(1)
		go func(target model.URL) {
			defer c.inFlight.Done()
			defer func() { <-c.permits }()
			defer c.frontier.Done()
			if err := c.crawlOne(ctx, target); err != nil {
				var ce *crawlerrors.CrawlerError
				if errors.As(err, &ce) && ce.Fatal() {
					fatalMu.Lock()
					if fatal == nil {
						fatal = err
					}
					fatalMu.Unlock()
					c.frontier.Close()
				}
			}
		}(u)
	}

	c.inFlight.Wait()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return fatal
}

// crawlOne navigates to target, extracts its page, fans the result out to
// listeners, and admits every discovered URL. Errors other than
// InvariantViolation are logged and swallowed so one page's failure never
// aborts the run, per the error disposition table.
func (c *Coordinator) crawlOne(ctx context.Context, target model.URL) error {
	nav, err := c.browser.Navigate(ctx, target.String())
	for _, seen := range observedURLs(nav) {
		if parsed, perr := model.ParseURL(seen); perr == nil {
			c.frontier.AdmitSeen(parsed)
		}
	}
	if err != nil {
		cerr := crawlerrors.New(crawlerrors.KindNavigationFailure, target.String(), err)
		c.logFailure(cerr)
		return nil
	}
	if nav == nil {
		cerr := crawlerrors.New(crawlerrors.KindNavigationFailure, target.String(), browser.ErrNoResponse)
		c.logFailure(cerr)
		return nil
	}

	res, err := c.extractor.Extract(nav, target)
	if err != nil {
		var cerr *crawlerrors.CrawlerError
		if errors.As(err, &cerr) {
			c.logFailure(cerr)
			if cerr.Fatal() {
				return cerr
			}
			return nil
		}
		c.logFailure(crawlerrors.New(crawlerrors.KindExtractionFailure, target.String(), err))
		return nil
	}

	if c.metrics != nil {
		c.metrics.ObservePageExtracted()
	}
	for _, l := range c.listeners {
		l.PageCrawled(res.Page)
	}
	if c.fileSink != nil {
		if err := c.fileSink.IndexPage(res.Page); err != nil {
			c.logger.Warn("file sink failed", zap.String("url", target.String()), zap.Error(err))
		}
	}
	if c.searchSink != nil && (res.Page.Robots == nil || res.Page.Robots.IndexPage) {
		if err := c.searchSink.IndexPage(ctx, res.Page); err != nil {
			c.logger.Warn("search sink failed", zap.String("url", target.String()), zap.Error(err))
		}
	}
	for _, admit := range res.ToAdmit {
		c.frontier.Admit(admit)
	}
	if c.metrics != nil {
		c.metrics.SetPendingGauge(c.frontier.PendingLen())
	}
	return nil
}

func (c *Coordinator) logFailure(err *crawlerrors.CrawlerError) {
	if c.metrics != nil {
		c.metrics.ObservePageFailed(err.Kind)
	}
	c.logger.Warn("page crawl failed",
		zap.String("url", err.URL),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Unwrap()),
	)
}

func observedURLs(nav *browser.NavigationResult) []string {
	if nav == nil {
		return nil
	}
	return nav.ObservedURLs
}
