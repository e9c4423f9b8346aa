// Package metrics exposes Prometheus collectors for the scraper service.
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
	jobsTotal                  *prometheus.CounterVec
	fetchTotal                 *prometheus.CounterVec
	fetchRetriesTotal          prometheus.Counter
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	robotsDecisionsTotal       *prometheus.CounterVec
	rateLimitDenialsTotal      prometheus.Counter
	politenessDelaySeconds     prometheus.Histogram
	pacingSkippedTotal         prometheus.Counter
	ruleFailuresTotal          *prometheus.CounterVec
	dispatchedTotal            *prometheus.CounterVec
	cleanupDeletedTotal        *prometheus.CounterVec
	queueDeliveriesTotal       *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Jobs reaching a terminal state, labeled by job type and status.",
			},
			[]string{"type", "status"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_total",
				Help: "Fetches performed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Fetch attempts repeated after a retryable status.",
			},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_bytes_total",
				Help: "Response bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Wall time of fetch sequences including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		robotsDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_robots_decisions_total",
				Help: "robots.txt decisions, labeled by decision.",
			},
			[]string{"decision"},
		)

		rateLimitDenialsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_rate_limit_denials_total",
				Help: "Reservations refused by the hourly rate limit.",
			},
		)

		pacingSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_pacing_skipped_total",
				Help: "Politeness delays skipped because they would outlast the job time budget.",
			},
		)

		politenessDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_politeness_delay_seconds",
				Help:    "Time spent waiting on the per-target politeness delay.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		ruleFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_rule_failures_total",
				Help: "Extraction rules skipped after an error, labeled by kind.",
			},
			[]string{"kind"},
		)

		dispatchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_dispatched_total",
				Help: "Jobs created and enqueued, labeled by job type.",
			},
			[]string{"type"},
		)

		cleanupDeletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_cleanup_deleted_total",
				Help: "Rows removed by the cleanup policy, labeled by category.",
			},
			[]string{"category"},
		)

		queueDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_queue_deliveries_total",
				Help: "Queue deliveries settled by workers, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently executing a job.",
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

// ObserveJob counts a terminal job transition.
func ObserveJob(jobType, status string) {
	Init()
	jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveFetch records one fetch sequence.
func ObserveFetch(site, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	sanitized := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitized, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveFetchRetry counts a repeated fetch attempt.
func ObserveFetchRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObserveRobotsDecision counts an allowed, blocked, or fail-open robots check.
func ObserveRobotsDecision(decision string) {
	Init()
	robotsDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveRateLimitDenied counts a refused reservation.
func ObserveRateLimitDenied() {
	Init()
	rateLimitDenialsTotal.Inc()
}

// ObservePolitenessDelay records the duration of a pacer wait.
func ObservePolitenessDelay(duration time.Duration) {
	Init()
	politenessDelaySeconds.Observe(duration.Seconds())
}

// ObservePacingSkipped counts a politeness delay that did not fit the job budget.
func ObservePacingSkipped() {
	Init()
	pacingSkippedTotal.Inc()
}

// ObserveRuleFailure counts a skipped extraction rule.
func ObserveRuleFailure(kind string) {
	Init()
	ruleFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveDispatch counts a created and enqueued job.
func ObserveDispatch(jobType string) {
	Init()
	dispatchedTotal.WithLabelValues(jobType).Inc()
}

// ObserveCleanup adds deleted row counts for a category.
func ObserveCleanup(category string, deleted int64) {
	Init()
	if deleted > 0 {
		cleanupDeletedTotal.WithLabelValues(category).Add(float64(deleted))
	}
}

// ObserveDelivery counts an acked or nacked queue delivery.
func ObserveDelivery(result string) {
	Init()
	queueDeliveriesTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
