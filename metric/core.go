package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics contains engine-level metrics shared across components
type CoreMetrics struct {
	CollectorStatus    *prometheus.GaugeVec
	UpdatesReceived    *prometheus.CounterVec
	PipelineFailures   *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	RepositoryWrites   *prometheus.CounterVec
	ChangesPublished   prometheus.Counter
	ChangesDropped     *prometheus.CounterVec
	BindingApplies     *prometheus.CounterVec
	BindingSuppressed  *prometheus.CounterVec
	TriggerFires       *prometheus.CounterVec
	TriggerSuppressed  *prometheus.CounterVec
	ActionFailures     *prometheus.CounterVec
}

func newCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		CollectorStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dataflow",
			Subsystem: "collector",
			Name:      "status",
			Help:      "Collector status (0=stopped, 1=starting, 2=running, 3=reconnecting, 4=error)",
		}, []string{"collector"}),

		UpdatesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "collector",
			Name:      "updates_received_total",
			Help:      "Total updates emitted by collectors",
		}, []string{"collector"}),

		PipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Total pipeline executions that failed, by source and stage",
		}, []string{"source", "stage"}),

		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dataflow",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"source"}),

		RepositoryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "repository",
			Name:      "writes_total",
			Help:      "Total successful repository writes by root",
		}, []string{"root"}),

		ChangesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "repository",
			Name:      "changes_published_total",
			Help:      "Total change notifications published to subscribers",
		}),

		ChangesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "repository",
			Name:      "changes_dropped_total",
			Help:      "Change notifications dropped for slow subscribers",
		}, []string{"subscriber"}),

		BindingApplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "binding",
			Name:      "applies_total",
			Help:      "Total target property updates delivered",
		}, []string{"target"}),

		BindingSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "binding",
			Name:      "suppressed_total",
			Help:      "Binding updates suppressed as redundant",
		}, []string{"target"}),

		TriggerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "trigger",
			Name:      "fires_total",
			Help:      "Total trigger fires by action",
		}, []string{"action"}),

		TriggerSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "trigger",
			Name:      "suppressed_total",
			Help:      "Trigger fires suppressed by debounce or throttle",
		}, []string{"action", "reason"}),

		ActionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "trigger",
			Name:      "action_failures_total",
			Help:      "Total action executions that returned an error",
		}, []string{"action"}),
	}
}

func (m *CoreMetrics) mustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		m.CollectorStatus,
		m.UpdatesReceived,
		m.PipelineFailures,
		m.PipelineDuration,
		m.RepositoryWrites,
		m.ChangesPublished,
		m.ChangesDropped,
		m.BindingApplies,
		m.BindingSuppressed,
		m.TriggerFires,
		m.TriggerSuppressed,
		m.ActionFailures,
	)
}
