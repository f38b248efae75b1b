// Package metrics exposes Prometheus collectors for the special-days service.
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
	sourceRefreshTotal         *prometheus.CounterVec
	sourceObservances          *prometheus.GaugeVec
	extractionDurationSeconds  *prometheus.HistogramVec
	holidayAPICallsTotal       *prometheus.CounterVec
	holidayAPIMonthlyCalls     prometheus.Gauge
	dedupCollapsedTotal        prometheus.Counter
	announcementMarksTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	scheduledJobsTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceRefreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specialdays_source_refresh_total",
				Help: "Source cache refreshes, labeled by source, extraction method and outcome.",
			},
			[]string{"source", "method", "outcome"},
		)

		sourceObservances = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "specialdays_source_observances",
				Help: "Number of observances held in each source cache.",
			},
			[]string{"source"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "specialdays_extraction_duration_seconds",
				Help:    "Histogram of extraction pipeline durations, labeled by source.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)

		holidayAPICallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specialdays_holiday_api_calls_total",
				Help: "Holiday API calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		holidayAPIMonthlyCalls = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "specialdays_holiday_api_monthly_calls",
				Help: "Holiday API calls counted against the current month's quota.",
			},
		)

		dedupCollapsedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "specialdays_dedup_collapsed_total",
				Help: "Observances dropped as duplicates of a higher-priority entry.",
			},
		)

		announcementMarksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specialdays_announcement_marks_total",
				Help: "Announcement ledger mark attempts, labeled by kind and result.",
			},
			[]string{"kind", "result"},
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

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "specialdays_rate_limit_delay_seconds",
				Help:    "Time spent waiting for an outbound request token, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		scheduledJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specialdays_scheduled_jobs_total",
				Help: "Scheduled maintenance job runs, labeled by job and outcome.",
			},
			[]string{"job", "outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRefresh records one source refresh and the resulting cache size.
func ObserveRefresh(source, method, outcome string, count int, duration time.Duration) {
	Init()
	if method == "" {
		method = "none"
	}
	sourceRefreshTotal.WithLabelValues(source, method, outcome).Inc()
	if outcome == "success" {
		sourceObservances.WithLabelValues(source).Set(float64(count))
	}
	if duration > 0 {
		extractionDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// ObserveHolidayAPICall records an upstream holiday API call outcome.
func ObserveHolidayAPICall(outcome string) {
	Init()
	holidayAPICallsTotal.WithLabelValues(outcome).Inc()
}

// SetHolidayAPIMonthlyCalls publishes the current monthly call count.
func SetHolidayAPIMonthlyCalls(n int) {
	Init()
	holidayAPIMonthlyCalls.Set(float64(n))
}

// ObserveDedupCollapsed adds n suppressed duplicates.
func ObserveDedupCollapsed(n int) {
	Init()
	if n > 0 {
		dedupCollapsedTotal.Add(float64(n))
	}
}

// ObserveAnnouncementMark records a ledger mark attempt.
func ObserveAnnouncementMark(kind string, marked bool) {
	Init()
	result := "duplicate"
	if marked {
		result = "marked"
	}
	announcementMarksTotal.WithLabelValues(kind, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent waiting on the outbound pacer.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveScheduledJob records one scheduled job run.
func ObserveScheduledJob(job string, err error) {
	Init()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	scheduledJobsTotal.WithLabelValues(job, outcome).Inc()
}
