// Package metrics exposes Prometheus collectors for the crawl loop, fetchers
// and the status server.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFetchesTotal         *prometheus.CounterVec
	crawlerFetchDurationSeconds prometheus.Histogram
	crawlerPagesSavedTotal      *prometheus.CounterVec
	crawlerURLsFailedTotal      *prometheus.CounterVec
	crawlerRetriesTotal         prometheus.Counter
	crawlerDiscoveriesDropped   prometheus.Counter
	crawlerFrontierDepth        *prometheus.GaugeVec
	crawlerInFlight             prometheus.Gauge
	crawlerCheckpointsTotal     *prometheus.CounterVec
	crawlerRateLimitDelays      *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_crawler_fetches_total",
				Help: "Fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "campus_crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		crawlerPagesSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_crawler_pages_saved_total",
				Help: "Pages persisted to the sink, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerURLsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_crawler_urls_failed_total",
				Help: "URLs moved to the failed set, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "campus_crawler_retries_total",
				Help: "Transient failures deferred for another attempt.",
			},
		)

		crawlerDiscoveriesDropped = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "campus_crawler_discoveries_dropped_total",
				Help: "Discovered links dropped because the normal lane was full.",
			},
		)

		crawlerFrontierDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "campus_crawler_frontier_depth",
				Help: "Number of queued targets per frontier lane.",
			},
			[]string{"lane"},
		)

		crawlerInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "campus_crawler_in_flight",
				Help: "Number of fetches currently running.",
			},
		)

		crawlerCheckpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_crawler_checkpoints_total",
				Help: "Checkpoint writes, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campus_crawler_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a fetch attempt outcome ("ok", "transient", "permanent").
func ObserveFetch(site, outcome string, duration time.Duration) {
	crawlerFetchesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
	crawlerFetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveSaved increments the saved page counter for site.
func ObserveSaved(site string) {
	crawlerPagesSavedTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveFailed increments the failed URL counter.
func ObserveFailed(reason string) {
	crawlerURLsFailedTotal.WithLabelValues(reason).Inc()
}

// ObserveRetry increments the deferred retry counter.
func ObserveRetry() {
	crawlerRetriesTotal.Inc()
}

// ObserveDropped increments the dropped discovery counter.
func ObserveDropped() {
	crawlerDiscoveriesDropped.Inc()
}

// SetFrontierDepth publishes the size of one frontier lane.
func SetFrontierDepth(lane string, n int) {
	crawlerFrontierDepth.WithLabelValues(lane).Set(float64(n))
}

// SetInFlight publishes the number of running fetches.
func SetInFlight(n int) {
	crawlerInFlight.Set(float64(n))
}

// ObserveCheckpoint records a checkpoint write result.
func ObserveCheckpoint(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	crawlerCheckpointsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	crawlerRateLimitDelays.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
