package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the gateway's operational counters, exposed on /metrics.
type Metrics struct {
	Requests         *prometheus.CounterVec
	CacheEvents      *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Proxied requests by execution mode and status class.",
		}, []string{"mode", "status_class"}),

		CacheEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_events_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by scope.",
		}, []string{"scope"}),

		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Upstream call latency by execution mode.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
	}
}

// StatusClass buckets an HTTP status code for the requests counter.
func StatusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
