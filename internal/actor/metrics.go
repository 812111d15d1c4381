package actor

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runtime's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	messages        *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	lifecycle       *prometheus.CounterVec
	liveActors      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graylogic",
				Subsystem: "actor",
				Name:      "messages_total",
				Help:      "Messages sent to actors by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "graylogic",
				Subsystem: "actor",
				Name:      "handler_duration_seconds",
				Help:      "Handler execution time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"device_type", "message", "success"},
		),
		lifecycle: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graylogic",
				Subsystem: "actor",
				Name:      "lifecycle_transitions_total",
				Help:      "Actor lifecycle transitions by device type and resulting status.",
			},
			[]string{"device_type", "status"},
		),
		liveActors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "graylogic",
				Subsystem: "actor",
				Name:      "registered",
				Help:      "Actors currently registered.",
			},
		),
	}
	reg.MustRegister(m.messages, m.handlerDuration, m.lifecycle, m.liveActors)
	return m
}

func (m *Metrics) observeMessage(kind string, err error) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind, outcomeLabel(err)).Inc()
}

func (m *Metrics) observeHandler(deviceType, message string, d time.Duration, err error) {
	if m == nil {
		return
	}
	success := "true"
	if err != nil {
		success = "false"
	}
	m.handlerDuration.WithLabelValues(deviceType, message, success).Observe(d.Seconds())
}

func (m *Metrics) observeLifecycle(deviceType string, status Status) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(deviceType, string(status)).Inc()
}

func (m *Metrics) setRegistered(n int) {
	if m == nil {
		return
	}
	m.liveActors.Set(float64(n))
}

// outcomeLabel buckets an Ask/Tell result into a small label set.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAskTimeout):
		return "timeout"
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, ErrDeviceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrMailboxFull):
		return "mailbox_full"
	default:
		return "error"
	}
}
