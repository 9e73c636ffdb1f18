// Package cmd defines and implements the CLI commands for the sitecrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coreindex/sitecrawler/internal/browser"
	"github.com/coreindex/sitecrawler/internal/browser/chromedp"
	"github.com/coreindex/sitecrawler/internal/browser/collyprobe"
	"github.com/coreindex/sitecrawler/internal/config"
	"github.com/coreindex/sitecrawler/internal/coordinator"
	"github.com/coreindex/sitecrawler/internal/crawlerrors"
	"github.com/coreindex/sitecrawler/internal/extractor"
	"github.com/coreindex/sitecrawler/internal/frontier"
	"github.com/coreindex/sitecrawler/internal/logging"
	"github.com/coreindex/sitecrawler/internal/metrics"
	"github.com/coreindex/sitecrawler/internal/sink/filesink"
	"github.com/coreindex/sitecrawler/internal/sink/searchsink"
)

var (
	flagRootURLs    []string
	flagParallelism int
	flagOutPath     string
	flagSearchAddrs []string
	flagSearchAlias string
	flagMetricsAddr string
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one or more site roots and index the pages found.",
		Long: `Walks the frontier rooted at one or more starting URLs, extracting each
page with a headless browser and streaming the results to a local JSON file
and/or a search backend, until the frontier drains.`,
		RunE: runCrawlCommand,
	}

	cmd.Flags().StringArrayVar(&flagRootURLs, "root", nil, "root URL to crawl (repeatable); overrides crawler.root_urls")
	cmd.Flags().IntVar(&flagParallelism, "parallelism", 0, "degree of parallelism; overrides crawler.degree_of_parallelism")
	cmd.Flags().StringVar(&flagOutPath, "out", "", "path to write the JSON page file; overrides sink.file_path")
	cmd.Flags().StringArrayVar(&flagSearchAddrs, "search-address", nil, "search backend address (repeatable); overrides sink.search_addresses")
	cmd.Flags().StringVar(&flagSearchAlias, "search-alias", "", "search backend alias name; overrides sink.search_alias")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address to serve /metrics on; overrides metrics.addr (empty in both disables it)")

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCrawlFlagOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	crawlerCfg, err := cfg.CrawlerConfiguration()
	if err != nil {
		return fmt.Errorf("derive crawler configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nav, err := buildBrowser(cfg, logger)
	if err != nil {
		return fmt.Errorf("build browser: %w", err)
	}
	defer func() {
		if cerr := nav.Close(context.Background()); cerr != nil {
			logger.Warn("browser close failed", zap.Error(cerr))
		}
	}()

	recorder := metrics.New()
	metricsAddr := cfg.Metrics.Addr
	if flagMetricsAddr != "" {
		metricsAddr = flagMetricsAddr
	}
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	coord := coordinator.New(
		frontier.New(crawlerCfg),
		nav,
		extractor.New(logger),
		logger,
		recorder,
		crawlerCfg.DegreeOfParallelism,
	)

	if cfg.Sink.FilePath != "" {
		fs, err := filesink.New(cfg.Sink.FilePath)
		if err != nil {
			return fmt.Errorf("build file sink: %w", err)
		}
		defer func() {
			if cerr := fs.Close(); cerr != nil {
				logger.Warn("file sink close failed", zap.Error(cerr))
			}
		}()
		coord.SetFileSink(fs)
	}

	if len(cfg.Sink.SearchAddresses) > 0 {
		ss, err := searchsink.New(ctx, searchsink.Config{
			Addresses: cfg.Sink.SearchAddresses,
			Alias:     cfg.Sink.SearchAlias,
			BatchSize: cfg.Sink.SearchBatchSize,
		}, logger)
		if err != nil {
			return fmt.Errorf("build search sink: %w", err)
		}
		defer func() {
			if cerr := ss.Close(context.Background()); cerr != nil {
				logger.Warn("search sink close failed", zap.Error(cerr))
			}
		}()
		coord.SetSearchSink(ss)
	}

	if cfg.Sink.FilePath == "" && len(cfg.Sink.SearchAddresses) == 0 {
		logger.Warn("no sink configured; pages will be extracted but not persisted anywhere")
	}

	if err := coord.Run(ctx, crawlerCfg.RootURLs); err != nil {
		var cerr *crawlerrors.CrawlerError
		if errors.As(err, &cerr) {
			return fmt.Errorf("crawl aborted: %w", cerr)
		}
		return fmt.Errorf("crawl aborted: %w", err)
	}

	logger.Info("crawl complete")
	return nil
}

func applyCrawlFlagOverrides(cfg *config.Config) {
	if len(flagRootURLs) > 0 {
		cfg.Crawler.RootURLs = flagRootURLs
	}
	if flagParallelism > 0 {
		cfg.Crawler.DegreeOfParallelism = flagParallelism
	}
	if flagOutPath != "" {
		cfg.Sink.FilePath = flagOutPath
	}
	if len(flagSearchAddrs) > 0 {
		cfg.Sink.SearchAddresses = flagSearchAddrs
	}
	if flagSearchAlias != "" {
		cfg.Sink.SearchAlias = flagSearchAlias
	}
}

func buildBrowser(cfg config.Config, logger *zap.Logger) (browser.Browser, error) {
	switch cfg.Browser.Engine {
	case "colly":
		return collyprobe.New(collyprobe.Config{UserAgent: cfg.Browser.UserAgent}), nil
	default:
		chromedpCfg := chromedp.Config{
			UserAgent:   cfg.Browser.UserAgent,
			Locale:      cfg.Browser.Locale,
			MaxParallel: cfg.Browser.MaxParallel,
		}
		chromedpCfg.Viewport.Width = cfg.Browser.ViewportW
		chromedpCfg.Viewport.Height = cfg.Browser.ViewportH
		return chromedp.New(chromedpCfg, logger)
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	r := chi.NewRouter()
	metrics.Mount(r)
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil { //nolint:gosec // internal metrics endpoint, no timeouts required
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
