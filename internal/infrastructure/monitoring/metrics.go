package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	SecurityEvents     *prometheus.CounterVec
	RateLimitDecisions *prometheus.CounterVec
	Blocks             prometheus.Counter
	TokenRefreshes     *prometheus.CounterVec
	TokenRefreshTime   prometheus.Histogram
	StoreErrors        *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SecurityEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secstate_security_events_total",
				Help: "Total number of logged security events.",
			},
			[]string{"type"},
		),
		RateLimitDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secstate_rate_limit_decisions_total",
				Help: "Sliding window decisions by endpoint key and result.",
			},
			[]string{"key", "result"},
		),
		Blocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "secstate_blocks_total",
				Help: "Total number of identities that entered a block.",
			},
		),
		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secstate_token_refreshes_total",
				Help: "Token refresh attempts by result.",
			},
			[]string{"result"},
		),
		TokenRefreshTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "secstate_token_refresh_duration_seconds",
				Help:    "Latency of token refresh calls.",
				Buckets: prometheus.DefBuckets,
			},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secstate_store_errors_total",
				Help: "Persistent store failures by operation.",
			},
			[]string{"operation"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secstate_http_requests_total",
				Help: "Diagnostics API requests by method, route and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secstate_http_request_duration_seconds",
				Help:    "Diagnostics API request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordTokenRefresh records the outcome and latency of one refresh call.
func (m *Metrics) RecordTokenRefresh(success bool, duration time.Duration) {
	m.TokenRefreshes.WithLabelValues(result(success, "success", "failure")).Inc()
	m.TokenRefreshTime.Observe(duration.Seconds())
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
