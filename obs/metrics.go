package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a Prometheus-backed Observer. It counts failures and records
// operation latency per component/op pair.
type Metrics struct {
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the subsystem's collectors with reg and returns the
// Observer. Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "failures_total",
			Help:      "Failures reported by the context memory subsystem.",
		}, []string{"component", "op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mnemo",
			Name:      "op_duration_seconds",
			Help:      "Latency of context memory operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"component", "op"}),
	}
	for _, c := range []prometheus.Collector{m.failures, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Observe(ev Event) {
	if ev.Err != nil {
		m.failures.WithLabelValues(ev.Component, ev.Op).Inc()
	}
	if ev.Duration > 0 {
		m.duration.WithLabelValues(ev.Component, ev.Op).Observe(ev.Duration.Seconds())
	}
}
