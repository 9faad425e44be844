package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sider_gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sider_gateway_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "path"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sider_gateway_routing_decisions_total",
			Help: "Routing decisions by backend and rule",
		},
		[]string{"backend", "rule"},
	)

	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sider_gateway_backend_requests_total",
			Help: "Backend calls by outcome",
		},
		[]string{"backend", "outcome"},
	)

	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sider_gateway_backend_latency_seconds",
			Help:    "Backend call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"backend"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sider_gateway_fallbacks_total",
			Help: "Fallback attempts by direction and outcome",
		},
		[]string{"from", "to", "outcome"},
	)

	SiderSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sider_gateway_sider_sessions",
			Help: "Number of tracked Sider sessions",
		},
	)
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)
