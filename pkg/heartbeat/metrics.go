package heartbeat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the controller's instrumentation counters. Exposing them
// over any transport is the caller's concern; the core only increments.
type Metrics struct {
	Beats    prometheus.Counter
	Failures prometheus.Counter
	Renewals prometheus.Counter
	Alerts   *prometheus.CounterVec
	Latency  prometheus.Histogram
}

// NewMetrics registers the controller metrics on reg. A nil registerer
// yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Beats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "heartbeat",
			Name:      "beats_total",
			Help:      "Heartbeat ticks executed.",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "heartbeat",
			Name:      "beat_failures_total",
			Help:      "Heartbeat ticks whose scan failed after retries.",
		}),
		Renewals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "heartbeat",
			Name:      "renewals_total",
			Help:      "Renewal cycles performed.",
		}),
		Alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "heartbeat",
			Name:      "alerts_total",
			Help:      "Threshold breach alerts emitted.",
		}, []string{"level"}),
		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "heartbeat",
			Name:      "tick_latency_seconds",
			Help:      "Wall-clock duration of one heartbeat tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
