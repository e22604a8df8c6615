// Package metrics centralizes every Prometheus collector the gateway
// exposes, following the teacher's internal/metrics/metrics.go: flat
// package-level vars registered through promauto, grouped by the component
// that owns them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP front door.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_gateway_http_request_duration_seconds",
		Help:    "Duration of inbound HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status_code"})

	HTTPRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_gateway_http_requests_total",
		Help: "Total number of inbound HTTP requests.",
	}, []string{"method", "status_code"})

	// Health checker.
	HealthProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_gateway_health_probe_duration_seconds",
		Help:    "Duration of node health probes.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"node"})

	HealthProbeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_gateway_health_probe_errors_total",
		Help: "Total number of failed health probes.",
	}, []string{"node", "reason"})

	HealthTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_gateway_health_transitions_total",
		Help: "Total number of liveness transitions.",
	}, []string{"node", "direction"})

	NodeHealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rpc_gateway_node_health_score",
		Help: "Current health score (0-100) for each node.",
	}, []string{"node"})

	// Circuit breaker.
	CircuitStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rpc_gateway_circuit_state",
		Help: "Circuit breaker state per node (0=closed, 1=open, 2=half_open).",
	}, []string{"node"})

	CircuitTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_gateway_circuit_transitions_total",
		Help: "Total number of circuit breaker state transitions.",
	}, []string{"node", "to"})

	// Load balancer.
	SelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_gateway_lb_selections_total",
		Help: "Total number of node selections, by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	StickySessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpc_gateway_lb_sticky_sessions_active",
		Help: "Number of currently active sticky sessions.",
	})

	// RPC proxy.
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_gateway_proxy_requests_total",
		Help: "Total number of forwarded RPC requests, by outcome.",
	}, []string{"node", "method", "outcome"})

	ProxyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_gateway_proxy_request_duration_seconds",
		Help:    "Duration of forwarded RPC requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"node", "method"})

	ProxyRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_gateway_proxy_retries_total",
		Help: "Total number of retried RPC attempts.",
	}, []string{"node", "method"})

	// Cache.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_gateway_cache_hits_total",
		Help: "Total number of cache hits, by method.",
	}, []string{"method"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_gateway_cache_misses_total",
		Help: "Total number of cache misses, by method.",
	}, []string{"method"})

	CacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpc_gateway_cache_evictions_total",
		Help: "Total number of cache evictions.",
	})

	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpc_gateway_cache_size",
		Help: "Current number of entries in the response cache.",
	})
)

// Handler returns the Prometheus scrape endpoint, mirroring the teacher's
// metrics.MetricsHandler().
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
