// Package config loads and validates crawl run configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/coreindex/sitecrawler/internal/model"
)

// Config captures every knob a crawl run needs, loaded from file/env.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Browser BrowserConfig `mapstructure:"browser"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// CrawlerConfig governs the frontier's scope and traversal parallelism.
type CrawlerConfig struct {
	RootURLs            []string `mapstructure:"root_urls"`
	DegreeOfParallelism int      `mapstructure:"degree_of_parallelism"`
}

// BrowserConfig selects and configures the navigation collaborator.
type BrowserConfig struct {
	// Engine is "chromedp" (default, full JS rendering) or "colly" (the
	// lightweight non-JS probe fast path).
	Engine      string `mapstructure:"engine"`
	UserAgent   string `mapstructure:"user_agent"`
	Locale      string `mapstructure:"locale"`
	ViewportW   int64  `mapstructure:"viewport_width"`
	ViewportH   int64  `mapstructure:"viewport_height"`
	MaxParallel int    `mapstructure:"max_parallel"`
}

// SinkConfig configures the two output sinks. Either may be left empty to
// disable it; a run with neither still crawls, per the CLI's graceful
// nil-collaborator degradation.
type SinkConfig struct {
	FilePath        string   `mapstructure:"file_path"`
	SearchAddresses []string `mapstructure:"search_addresses"`
	SearchAlias     string   `mapstructure:"search_alias"`
	SearchBatchSize int      `mapstructure:"search_batch_size"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment. path may be empty to skip
// reading a config file and rely on defaults plus environment overrides
// (CRAWLER_-prefixed, "." replaced by "_"). Load does not call Validate:
// callers that accept further overrides (e.g. the CLI's --root flag) must
// apply them first and validate the result themselves, since root URLs
// supplied only via a flag would otherwise fail crawler.root_urls's
// required-non-empty check before ever seeing them.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.degree_of_parallelism", 4)
	v.SetDefault("browser.engine", "chromedp")
	v.SetDefault("browser.user_agent", "sitecrawler/0.1")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)
	v.SetDefault("browser.max_parallel", 4)
	v.SetDefault("sink.search_batch_size", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawler.RootURLs) == 0 {
		return fmt.Errorf("crawler.root_urls must contain at least one URL")
	}
	if c.Crawler.DegreeOfParallelism <= 0 {
		return fmt.Errorf("crawler.degree_of_parallelism must be > 0")
	}
	switch c.Browser.Engine {
	case "chromedp", "colly":
	default:
		return fmt.Errorf("browser.engine must be one of chromedp, colly")
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	if c.Sink.SearchAddresses != nil && c.Sink.SearchAlias == "" {
		return fmt.Errorf("sink.search_alias must be set when sink.search_addresses is configured")
	}
	return nil
}

// CrawlerConfiguration derives the model.CrawlerConfiguration for this run:
// parsed root URLs plus the host + www.-host filters each root implies.
func (c Config) CrawlerConfiguration() (model.CrawlerConfiguration, error) {
	roots := make([]model.URL, 0, len(c.Crawler.RootURLs))
	var filters []model.Filter
	for _, raw := range c.Crawler.RootURLs {
		u, err := model.ParseURL(raw)
		if err != nil {
			return model.CrawlerConfiguration{}, fmt.Errorf("parse root url %q: %w", raw, err)
		}
		roots = append(roots, u)
		filters = append(filters, model.FiltersFromRoot(u)...)
	}
	return model.CrawlerConfiguration{
		RootURLs:            roots,
		Filters:             filters,
		DegreeOfParallelism: c.Crawler.DegreeOfParallelism,
	}, nil
}
