package transition

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid.
type Metrics struct {
	transitions *prometheus.CounterVec
	devices     *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graylogic",
				Subsystem: "transition",
				Name:      "total",
				Help:      "Recipe transitions by result.",
			},
			[]string{"result"},
		),
		devices: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graylogic",
				Subsystem: "transition",
				Name:      "device_outcomes_total",
				Help:      "Per-device transition outcomes.",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "graylogic",
				Subsystem: "transition",
				Name:      "duration_seconds",
				Help:      "Time taken to apply a recipe.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	reg.MustRegister(m.transitions, m.devices, m.duration)
	return m
}

func (m *Metrics) observe(r *Report) {
	if m == nil {
		return
	}
	result := "committed"
	switch {
	case !r.Committed:
		result = "partial_failure"
	case !r.Persisted:
		result = "not_persisted"
	}
	m.transitions.WithLabelValues(result).Inc()
	for _, d := range r.Devices {
		m.devices.WithLabelValues(string(d.Outcome)).Inc()
	}
	m.duration.Observe(r.Duration().Seconds())
}
