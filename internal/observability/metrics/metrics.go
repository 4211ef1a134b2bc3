package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitysync_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identitysync_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitysync_runs_total",
		Help: "Count of reconciliation runs by job and result",
	}, []string{"job", "result"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "identitysync_run_duration_seconds",
		Help:    "Duration of reconciliation runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"job"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitysync_actions_total",
		Help: "Count of per-identity mutations by job, action and result",
	}, []string{"job", "action", "result"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitysync_cache_lookups_total",
		Help: "Snapshot cache lookups by key and result",
	}, []string{"key", "result"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitysync_retries_total",
		Help: "Count of retried admin API operations",
	}, []string{"operation"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "identitysync_notifications_total",
		Help: "Chat notifications by result",
	}, []string{"result"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveRun records a finished reconciliation run
func ObserveRun(job, result string, duration time.Duration) {
	runsTotal.WithLabelValues(job, result).Inc()
	runDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveAction increments the mutation counter, e.g. ("members", "invite", "success")
func ObserveAction(job, action, result string) {
	actionsTotal.WithLabelValues(job, action, result).Inc()
}

// ObserveCacheLookup records a snapshot cache hit or miss
func ObserveCacheLookup(key string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(key, result).Inc()
}

// ObserveRetry counts a retried operation attempt
func ObserveRetry(operation string) {
	retriesTotal.WithLabelValues(operation).Inc()
}

// ObserveNotification counts chat delivery outcomes (sent, failed, skipped)
func ObserveNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}
