package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator's counters, constructed against an injected
// registerer so the owner controls lifecycle and exposure. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	runsTotal      *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	violationsSeen prometheus.Counter
	rollbacksTotal prometheus.Counter
}

// NewMetrics registers the gate's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modgate",
			Name:      "validation_runs_total",
			Help:      "Validation pipeline runs by recommended action.",
		}, []string{"action"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modgate",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		violationsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modgate",
			Name:      "violations_total",
			Help:      "Violations recorded across all runs.",
		}),
		rollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modgate",
			Name:      "rollbacks_triggered_total",
			Help:      "Automatic rollbacks triggered by critical post-modification failures.",
		}),
	}
	reg.MustRegister(m.runsTotal, m.stageDuration, m.violationsSeen, m.rollbacksTotal)
	return m
}

func (m *Metrics) observeRun(action string, violations int) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(action).Inc()
	m.violationsSeen.Add(float64(violations))
}

func (m *Metrics) observeStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) observeRollback() {
	if m == nil {
		return
	}
	m.rollbacksTotal.Inc()
}
