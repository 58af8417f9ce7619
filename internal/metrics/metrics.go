// Package metrics exposes Prometheus collectors for the crawler.
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
	crawlerPagesTotal           *prometheus.CounterVec
	crawlerBytesTotal           *prometheus.CounterVec
	crawlerFetchDurationSeconds *prometheus.HistogramVec
	crawlerFrontierAddsTotal    *prometheus.CounterVec
	crawlerFrontierSize         *prometheus.GaugeVec
	crawlerSchedulerDeniedTotal *prometheus.CounterVec
	crawlerDomainWaitSeconds    prometheus.Histogram
	crawlerActiveWorkers        prometheus.Gauge
	crawlerRobotsFallbackTotal  prometheus.Counter
	pagerankIterations          prometheus.Gauge
	pagerankDurationSeconds     prometheus.Histogram
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of page attempts, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		crawlerFrontierAddsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_frontier_adds_total",
				Help: "Frontier admissions, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerFrontierSize = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_frontier_entries",
				Help: "Frontier entries, labeled by state.",
			},
			[]string{"state"},
		)

		crawlerSchedulerDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_scheduler_denied_total",
				Help: "URLs refused by the scheduler without a fetch, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerDomainWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_domain_wait_seconds",
				Help:    "Time spent waiting for a scheduler permit.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a URL.",
			},
		)

		crawlerRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallback_total",
				Help: "robots.txt fetches that failed and fell back to allow-all.",
			},
		)

		pagerankIterations = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagerank_iterations",
				Help: "Iterations used by the most recent PageRank pass.",
			},
		)

		pagerankDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagerank_duration_seconds",
				Help:    "Wall time of PageRank passes.",
				Buckets: prometheus.DefBuckets,
			},
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
	Init()
	return promhttp.Handler()
}

// ObservePage counts one page outcome ("crawled", "failed", "retried", "denied").
func ObservePage(site, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetch records a fetch latency.
func ObserveFetch(outcome string, duration time.Duration) {
	Init()
	crawlerFetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveFrontierAdd counts a frontier admission result.
func ObserveFrontierAdd(result string) {
	Init()
	crawlerFrontierAddsTotal.WithLabelValues(result).Inc()
}

// SetFrontierSize publishes the frontier's queued, parked and leased counts.
func SetFrontierSize(queued, parked, inFlight int) {
	Init()
	crawlerFrontierSize.WithLabelValues("queued").Set(float64(queued))
	crawlerFrontierSize.WithLabelValues("parked").Set(float64(parked))
	crawlerFrontierSize.WithLabelValues("in_flight").Set(float64(inFlight))
}

// ObserveSchedulerDenied counts a scheduler refusal.
func ObserveSchedulerDenied(reason string) {
	Init()
	crawlerSchedulerDeniedTotal.WithLabelValues(reason).Inc()
}

// ObserveDomainWait records how long a worker waited for its permit.
func ObserveDomainWait(duration time.Duration) {
	Init()
	crawlerDomainWaitSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRobotsFallback counts a robots.txt fetch that degraded to allow-all.
func ObserveRobotsFallback() {
	Init()
	crawlerRobotsFallbackTotal.Inc()
}

// ObservePageRank records the shape of a completed ranking pass.
func ObservePageRank(iterations int, duration time.Duration) {
	Init()
	pagerankIterations.Set(float64(iterations))
	pagerankDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
