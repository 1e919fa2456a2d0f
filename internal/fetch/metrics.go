package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fill outcomes recorded on edgecache_fills_total.
const (
	outcomeSuccess    = "success"
	outcomeFailed     = "failed"
	outcomeDuplicate  = "duplicate"
	outcomeIneligible = "ineligible"
	outcomePresent    = "present"
)

// Metrics groups the fill collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	fills        *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	bytes        prometheus.Counter
	duration     prometheus.Histogram
	inflight     prometheus.Gauge
	poolRejected prometheus.Counter
}

// NewMetrics registers the fill collectors on reg. A nil reg yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		fills: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_fills_total",
			Help: "Cache fill requests by outcome",
		}, []string{"outcome"}), // outcome: success/failed/duplicate/ineligible/present
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_origin_attempts_total",
			Help: "Origin fetch attempts by result",
		}, []string{"result"}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "edgecache_fill_bytes_total",
			Help: "Bytes published to the local cache",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgecache_fill_duration_seconds",
			Help:    "Wall time of a complete fill sequence, retries included",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "edgecache_fills_in_flight",
			Help: "Fill sequences currently running",
		}),
		poolRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "edgecache_fill_pool_rejected_total",
			Help: "Background fills dropped because the pool was full or closed",
		}),
	}
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeAttempt(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.Add(float64(n))
}

func (m *Metrics) observeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.duration.Observe(seconds)
}

func (m *Metrics) trackInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}

func (m *Metrics) observeRejected() {
	if m == nil {
		return
	}
	m.poolRejected.Inc()
}
