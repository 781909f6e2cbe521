// Package metrics holds the prometheus collectors of the delivery pipeline.
// Collectors are registered on an explicit registry so tests can build isolated sets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "delivery"

// Batch outcomes.
const (
	BatchCommitted = "committed"
	BatchAborted   = "aborted"
	BatchEmpty     = "empty"
	BatchError     = "error"
)

// Fan-out results.
const (
	PushDelivered = "delivered"
	PushOffline   = "offline"
	PushDuplicate = "duplicate"
	PushEncodeErr = "encode_error"
)

// Job outcomes.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobSkipped   = "skipped"
)

type Metrics struct {
	Registry *prometheus.Registry

	ReaderSkippedTicks prometheus.Counter
	ReaderBatches      *prometheus.CounterVec
	EventsEnqueued     prometheus.Counter
	Cursor             prometheus.Gauge

	Pushes *prometheus.CounterVec

	JobRuns     *prometheus.CounterVec
	JobDuration prometheus.Histogram
	JobDrains   *prometheus.CounterVec
}

// New registers every collector on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ReaderSkippedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "skipped_ticks_total",
			Help:      "Ticks skipped because the delivery channel was full.",
		}),
		ReaderBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "batches_total",
			Help:      "Reader cycles by outcome.",
		}, []string{"outcome"}),
		EventsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "events_enqueued_total",
			Help:      "Events handed to the delivery channel, replays included.",
		}),
		Cursor: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "cursor",
			Help:      "Last persisted sequence id.",
		}),

		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pusher",
			Name:      "events_total",
			Help:      "Events processed by pusher workers by result.",
		}, []string{"result"}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Scheduled job triggers by outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Job body latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 18),
		}),
		JobDrains: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "drains_total",
			Help:      "Shutdown drains by result.",
		}, []string{"result"}),
	}
}

// Gauge registers a callback gauge, used for values owned by other components.
func (m *Metrics) Gauge(subsystem, name, help string, fn func() float64) {
	promauto.With(m.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}
