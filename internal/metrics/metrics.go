// Package metrics exposes Prometheus collectors for the thumbnailer service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	capturesTotal              *prometheus.CounterVec
	captureStageSeconds        *prometheus.HistogramVec
	activeRenders              prometheus.Gauge
	workspaceCleanupFailures   prometheus.Counter
	rateLimitedTotal           prometheus.Counter
	notificationsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thumbnailer_captures_total",
				Help: "Total number of capture attempts, labeled by outcome kind.",
			},
			[]string{"outcome"},
		)

		captureStageSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thumbnailer_capture_stage_seconds",
				Help:    "Histogram of time spent reaching each capture stage.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		)

		activeRenders = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "thumbnailer_active_renders",
				Help: "Number of headless browser sessions currently running.",
			},
		)

		workspaceCleanupFailures = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "thumbnailer_workspace_cleanup_failures_total",
				Help: "Total number of scratch workspaces that could not be removed.",
			},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "thumbnailer_rate_limited_total",
				Help: "Total number of capture requests rejected by the per-user rate limit.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thumbnailer_notifications_total",
				Help: "Total number of capture events handled by the notification hub, labeled by outcome.",
			},
			[]string{"outcome"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture counts a finished capture. outcome is "success" or a failure kind.
func ObserveCapture(outcome string) {
	Init()
	capturesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the elapsed time from capture start to reaching stage.
func ObserveStage(stage string, elapsed time.Duration) {
	Init()
	captureStageSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// IncActiveRenders increments the active renders gauge.
func IncActiveRenders() {
	Init()
	activeRenders.Inc()
}

// DecActiveRenders decrements the active renders gauge.
func DecActiveRenders() {
	Init()
	activeRenders.Dec()
}

// ObserveWorkspaceCleanupFailure counts a workspace that survived cleanup.
func ObserveWorkspaceCleanupFailure() {
	Init()
	workspaceCleanupFailures.Inc()
}

// ObserveRateLimited counts a request rejected by the rate limiter.
func ObserveRateLimited() {
	Init()
	rateLimitedTotal.Inc()
}

// ObserveNotification counts a capture event. outcome is "delivered", "failed" or "dropped".
func ObserveNotification(outcome string) {
	Init()
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
