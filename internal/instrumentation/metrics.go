package instrumentation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

const namespace = "grid_reconciler"

// Metrics contains all Prometheus metrics for the reconciler service.
type Metrics struct {
	MessagesTotal    *prometheus.CounterVec
	NegativeDeltas   prometheus.Counter
	QueueDropped     prometheus.Counter
	StoreReadings    prometheus.Gauge
	StoreTrimmed     prometheus.Counter
	ReconcileSeconds prometheus.Histogram
	TicksSkipped     prometheus.Counter
	NodeStates       *prometheus.GaugeVec
	SinkErrors       *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Raw meter messages by ingest outcome",
		}, []string{"outcome"}),

		NegativeDeltas: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negative_deltas_total",
			Help:      "Readings whose cumulative value went backwards (counter resets)",
		}),

		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_messages_total",
			Help:      "Messages dropped because the ingest queue was full",
		}),

		StoreReadings: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_readings",
			Help:      "Readings currently held in the rolling store",
		}),

		StoreTrimmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_trimmed_total",
			Help:      "Readings removed by the retention policy",
		}),

		ReconcileSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time to aggregate and reconcile all scope roots",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}),

		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Scheduler ticks skipped because the previous run was still in flight",
		}),

		NodeStates: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Internal nodes per scope root and classification in the latest run",
		}, []string{"scope_root", "classification"}),

		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed publications by sink",
		}, []string{"sink"}),
	}
}

// RecordIngest counts one message outcome
func (m *Metrics) RecordIngest(outcome string) {
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

// RecordNegativeDelta counts one counter reset
func (m *Metrics) RecordNegativeDelta() {
	m.NegativeDeltas.Inc()
}

// RecordQueueDrop counts messages dropped by a full queue
func (m *Metrics) RecordQueueDrop(n int) {
	m.QueueDropped.Add(float64(n))
}

// RecordStore updates the store gauges after a trim
func (m *Metrics) RecordStore(readings, trimmed int) {
	m.StoreReadings.Set(float64(readings))
	m.StoreTrimmed.Add(float64(trimmed))
}

// RecordReconcile observes one scheduler run
func (m *Metrics) RecordReconcile(d time.Duration) {
	m.ReconcileSeconds.Observe(d.Seconds())
}

// RecordSkippedTick counts a tick dropped while a run was in flight
func (m *Metrics) RecordSkippedTick() {
	m.TicksSkipped.Inc()
}

// RecordTree sets the classification gauges for one scope root
func (m *Metrics) RecordTree(scopeRoot string, tree models.Tree) {
	counts := map[models.Classification]int{
		models.Balanced: 0,
		models.Surplus:  0,
		models.Deficit:  0,
	}
	for _, n := range tree.Nodes {
		if n.Comparison != nil {
			counts[n.Comparison.Classification]++
		}
	}
	for class, c := range counts {
		m.NodeStates.WithLabelValues(scopeRoot, string(class)).Set(float64(c))
	}
}

// RecordSinkError counts a failed publication
func (m *Metrics) RecordSinkError(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}
