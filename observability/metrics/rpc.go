package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics tracks JSON-RPC traffic per method.
type RPCMetrics struct {
	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	unauthorized *prometheus.CounterVec
}

var (
	rpcOnce     sync.Once
	rpcRegistry *RPCMetrics
)

// RPC returns the process-wide JSON-RPC metrics registry, registering the
// collectors on first use.
func RPC() *RPCMetrics {
	rpcOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rpc_requests_total",
				Help: "Count of JSON-RPC requests per method.",
			}, []string{"method"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rpc_errors_total",
				Help: "Count of JSON-RPC error responses per method.",
			}, []string{"method"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "rpc_request_duration_seconds",
				Help:    "JSON-RPC request handling latency per method.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method"}),
			unauthorized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rpc_unauthorized_total",
				Help: "Count of rejected privileged calls per method.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.unauthorized,
		)
	})
	return rpcRegistry
}

// ObserveRequest records one handled request and its wall-clock duration.
func (m *RPCMetrics) ObserveRequest(method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *RPCMetrics) ObserveError(method string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method).Inc()
}

func (m *RPCMetrics) ObserveUnauthorized(method string) {
	if m == nil {
		return
	}
	m.unauthorized.WithLabelValues(method).Inc()
}
