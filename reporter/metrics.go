package reporter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the reporter.
type Metrics struct {
	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	BatchesTotal     *prometheus.CounterVec
	BatchSize        prometheus.Histogram
}

// NewMetrics registers and returns reporter metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_dispatches_total",
			Help: "Total PagerDuty event dispatches by action and outcome.",
		}, []string{"action", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klaxon_dispatch_duration_seconds",
			Help:    "Duration of individual event dispatches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"action"}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_batches_total",
			Help: "Total flushed batches by mode and outcome.",
		}, []string{"mode", "outcome"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "klaxon_batch_size",
			Help:    "Issues queued per flushed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
	}

	reg.MustRegister(
		m.DispatchesTotal,
		m.DispatchDuration,
		m.BatchesTotal,
		m.BatchSize,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnDispatch: func(action string, duration time.Duration, err error) {
			m.DispatchesTotal.WithLabelValues(action, outcome(err)).Inc()
			m.DispatchDuration.WithLabelValues(action).Observe(duration.Seconds())
		},
		OnFinish: func(triggers, resolves int, dryRun bool, err error) {
			mode := "live"
			if dryRun {
				mode = "dry_run"
			}
			m.BatchesTotal.WithLabelValues(mode, outcome(err)).Inc()
			m.BatchSize.Observe(float64(triggers + resolves))
		},
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
