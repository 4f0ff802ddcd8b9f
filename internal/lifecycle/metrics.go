package lifecycle

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the lifecycle subsystem.
type Metrics struct {
	AlertsCreatedTotal prometheus.Counter
	TransitionsTotal   *prometheus.CounterVec
	EvaluationsTotal   *prometheus.CounterVec
	ConflictsTotal     prometheus.Counter
	RuleReloadsTotal   *prometheus.CounterVec
	SweepsTotal        prometheus.Counter
	SweepDuration      prometheus.Histogram
	SweepExpiredTotal  prometheus.Counter
	SweepErrorsTotal   prometheus.Counter
}

// NewMetrics registers and returns lifecycle metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_created_total",
			Help: "Total alerts ingested.",
		}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_transitions_total",
			Help: "Total applied status transitions by target status.",
		}, []string{"status"}),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_evaluations_total",
			Help: "Total rule evaluations by resulting action.",
		}, []string{"action"}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_transition_conflicts_total",
			Help: "Guarded transitions that lost the CAS race. Not errors.",
		}),
		RuleReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_rule_reloads_total",
			Help: "Total ruleset reloads by outcome.",
		}, []string{"outcome"}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_sweeps_total",
			Help: "Total sweeper runs.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alerts_sweep_duration_seconds",
			Help:    "Duration of sweeper runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		}),
		SweepExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_sweep_expired_total",
			Help: "Alerts auto-closed by the sweeper for age expiry.",
		}),
		SweepErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_sweep_errors_total",
			Help: "Per-alert sweeper failures (skipped and retried next cycle).",
		}),
	}

	reg.MustRegister(
		m.AlertsCreatedTotal,
		m.TransitionsTotal,
		m.EvaluationsTotal,
		m.ConflictsTotal,
		m.RuleReloadsTotal,
		m.SweepsTotal,
		m.SweepDuration,
		m.SweepExpiredTotal,
		m.SweepErrorsTotal,
	)

	return m
}
