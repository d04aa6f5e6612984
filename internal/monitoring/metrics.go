// Package monitoring registers the service's Prometheus metrics.
package monitoring

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollux_http_requests_total",
			Help: "Total number of inbound HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pollux_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pollux_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Credential pool metrics.

	CredentialAssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollux_credential_assignments_total",
			Help: "Credential assignments handed to request handlers",
		},
		[]string{"model"},
	)

	CredentialNoAvailableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollux_credential_no_available_total",
			Help: "Acquisition attempts that found an empty pool",
		},
		[]string{"model"},
	)

	CredentialCooldownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollux_credential_cooldowns_total",
			Help: "Rate-limit cooldowns applied to (credential, model) pairs",
		},
		[]string{"model"},
	)

	CredentialBansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pollux_credential_bans_total",
			Help: "Credentials permanently retired",
		},
	)

	CredentialRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollux_credential_refreshes_total",
			Help: "Refresh job outcomes",
		},
		[]string{"kind", "status"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pollux_credential_refresh_duration_seconds",
			Help:    "Refresh job execution latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)

	RefreshQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pollux_refresh_queue_depth",
			Help: "Jobs currently buffered in the refresh pipeline",
		},
	)

	// Upstream data-plane metrics.

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollux_upstream_requests_total",
			Help: "Requests forwarded to the Code Assist upstream",
		},
		[]string{"status_class"},
	)

	UpstreamRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pollux_upstream_request_duration_seconds",
			Help:    "Upstream request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	UpstreamRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pollux_upstream_retries_total",
			Help: "Retry attempts against the upstream",
		},
	)
)

// StatusClass folds an HTTP status code into its class label ("2xx",
// "5xx", "error" for transport failures).
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", code/100)
}
