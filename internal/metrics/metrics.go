// Package metrics exposes Prometheus collectors for a crawl run.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coreindex/sitecrawler/internal/crawlerrors"
)

// Recorder implements coordinator.Metrics over Prometheus collectors.
type Recorder struct {
	pagesExtracted prometheus.Counter
	pagesFailed    *prometheus.CounterVec
	frontierGauge  prometheus.Gauge
}

// New registers a fresh set of collectors with the default Prometheus
// registry and returns a Recorder over them. Call once per process, the way
// the CLI's main calls it once during startup.
func New() *Recorder {
	return &Recorder{
		pagesExtracted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawler_pages_extracted_total",
			Help: "Total number of pages successfully extracted.",
		}),
		pagesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pages_failed_total",
			Help: "Total number of pages that failed extraction, labeled by failure kind.",
		}, []string{"kind"}),
		frontierGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_frontier_pending",
			Help: "Current number of URLs waiting to be crawled.",
		}),
	}
}

// ObservePageExtracted implements coordinator.Metrics.
func (r *Recorder) ObservePageExtracted() {
	if r == nil || r.pagesExtracted == nil {
		return
	}
	r.pagesExtracted.Inc()
}

// ObservePageFailed implements coordinator.Metrics.
func (r *Recorder) ObservePageFailed(kind crawlerrors.Kind) {
	if r == nil || r.pagesFailed == nil {
		return
	}
	r.pagesFailed.WithLabelValues(string(kind)).Inc()
}

// SetPendingGauge implements coordinator.Metrics.
func (r *Recorder) SetPendingGauge(n int) {
	if r == nil || r.frontierGauge == nil {
		return
	}
	r.frontierGauge.Set(float64(n))
}

// Handler returns an http.Handler exposing the process's Prometheus
// registry, mounted by the CLI on chi when --metrics-addr is set.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Mount attaches the metrics endpoint to r at "/metrics".
func Mount(r chi.Router) {
	r.Handle("/metrics", Handler())
}
