// Package telemetry exposes Prometheus collectors and trace propagation for the reviewer service.
package telemetry

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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var (
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "route"},
	)

	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewer_retry_attempts_total",
			Help: "Attempts made by the retry engine, labeled by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	stageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewer_stage_total",
			Help: "Pipeline stage invocations, labeled by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewer_stage_duration_seconds",
			Help:    "Histogram of pipeline stage latencies.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	browserActivePages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reviewer_browser_active_pages",
			Help: "Browser pages currently leased from the pool.",
		},
	)

	browserLaunchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewer_browser_launches_total",
			Help: "Browser instances created by the pool, labeled by reason.",
		},
		[]string{"reason"},
	)

	discoverySourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewer_discovery_source_total",
			Help: "Discovery source runs, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	discoveryItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewer_discovery_items_total",
			Help: "Items returned by discovery sources before deduplication.",
		},
		[]string{"source"},
	)

	publicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewer_publications_total",
			Help: "Publication attempts, labeled by platform and final status.",
		},
		[]string{"platform", "status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reviewer_active_workers",
			Help: "Number of workers currently advancing a product.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewer_rate_limit_delays_seconds",
			Help:    "Histogram of outbound rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

var propagationOnce sync.Once

// InitPropagation installs the W3C trace-context propagator used on outbound events.
func InitPropagation() {
	propagationOnce.Do(func() {
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
	})
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeSite extracts the lowercase hostname from a URL.
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

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRetryAttempt records one retry engine decision.
func ObserveRetryAttempt(operation, outcome string) {
	retryAttemptsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveStage records a finished pipeline stage.
func ObserveStage(stage, outcome string, duration time.Duration) {
	stageTotal.WithLabelValues(stage, outcome).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncActivePages increments the leased page gauge.
func IncActivePages() {
	browserActivePages.Inc()
}

// DecActivePages decrements the leased page gauge.
func DecActivePages() {
	browserActivePages.Dec()
}

// ObserveBrowserLaunch records a browser instance creation.
func ObserveBrowserLaunch(reason string) {
	browserLaunchesTotal.WithLabelValues(reason).Inc()
}

// ObserveDiscoverySource records one source outcome.
func ObserveDiscoverySource(source string, items int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	discoverySourceTotal.WithLabelValues(source, outcome).Inc()
	if items > 0 {
		discoveryItemsTotal.WithLabelValues(source).Add(float64(items))
	}
}

// ObservePublication records the final status of an upload.
func ObservePublication(platform, status string) {
	publicationsTotal.WithLabelValues(platform, status).Inc()
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
