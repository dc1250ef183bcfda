package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workspace_client_requests_total",
			Help: "Total number of workspace API requests by method and outcome",
		},
		[]string{"method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workspace_client_request_duration_seconds",
			Help:    "Workspace API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	tokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workspace_client_token_refresh_total",
			Help: "Token refresh cycles by result (attempt, success, failure)",
		},
		[]string{"result"},
	)

	pendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workspace_client_pending_requests",
			Help: "Requests queued behind an in-flight token refresh",
		},
	)
)

// observeRequest records one HTTP attempt. status is the numeric HTTP
// status, or the error code for requests that never completed.
func observeRequest(method, status string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(method, status).Inc()
	requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
