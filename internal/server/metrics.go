package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// requestMetrics 统计请求结论与耗时；nil 接收者不记录任何数据。
type requestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newRequestMetrics(reg prometheus.Registerer) *requestMetrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &requestMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_requests_total",
			Help: "HTTP requests by method and outcome",
		}, []string{"method", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edgecache_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func (m *requestMetrics) observe(method string, outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, string(outcome)).Inc()
	m.duration.WithLabelValues(method).Observe(seconds)
}
