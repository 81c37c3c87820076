package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outreach",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	dispatchRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "dispatch",
			Name:      "records_total",
			Help:      "Dispatch cycle record outcomes.",
		},
		[]string{"outcome"},
	)
	sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "dispatch",
			Name:      "sends_total",
			Help:      "Confirmed successful sends per channel.",
		},
		[]string{"channel"},
	)
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "dispatch",
			Name:      "rate_limited_total",
			Help:      "Sends deferred by the rate limiter per channel.",
		},
		[]string{"channel"},
	)
	complianceBlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "compliance",
			Name:      "blocks_total",
			Help:      "Communications blocked by the compliance gate.",
		},
	)
	retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outreach",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retry sweep attempt outcomes.",
		},
		[]string{"outcome"},
	)
	failedBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outreach",
			Subsystem: "retry",
			Name:      "failed_backlog_size",
			Help:      "Current number of failed-send records awaiting retry.",
		},
	)
	deadLetterVolume = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outreach",
			Subsystem: "retry",
			Name:      "dead_letter_volume",
			Help:      "Total dead-lettered records. Unbounded growth indicates a channel outage.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			dispatchRecords, sends, rateLimited, complianceBlocks,
			retryAttempts, failedBacklog, deadLetterVolume,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDispatchOutcome(outcome string) {
	RegisterMetrics()
	dispatchRecords.WithLabelValues(outcome).Inc()
}

func RecordSend(channel string) {
	RegisterMetrics()
	sends.WithLabelValues(channel).Inc()
}

func RecordRateLimited(channel string) {
	RegisterMetrics()
	rateLimited.WithLabelValues(channel).Inc()
}

func RecordComplianceBlock() {
	RegisterMetrics()
	complianceBlocks.Inc()
}

func RecordRetryAttempt(outcome string) {
	RegisterMetrics()
	retryAttempts.WithLabelValues(outcome).Inc()
}

func SetFailedBacklogSize(n int) {
	RegisterMetrics()
	failedBacklog.Set(float64(n))
}

func SetDeadLetterVolume(n int) {
	RegisterMetrics()
	deadLetterVolume.Set(float64(n))
}
