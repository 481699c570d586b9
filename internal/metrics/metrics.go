// Package metrics exposes prometheus counters/gauges for job lifecycle and
// poll loop activity — an ambient concern every async engine in the
// retrieved pack carries, grounded on BaSui01-agentflow's metrics wiring,
// even though spec.md's component table doesn't name it explicitly
// (SPEC_FULL.md §2).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector the gateway registers.
type Metrics struct {
	JobsCreatedTotal    *prometheus.CounterVec
	JobsCompletedTotal  *prometheus.CounterVec
	ForwardRetriesTotal prometheus.Counter
	PollTasksActive     prometheus.Gauge
	PollIterationsTotal prometheus.Counter
	ObserverErrorsTotal *prometheus.CounterVec
}

// New builds and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ump_gateway",
			Name:      "jobs_created_total",
			Help:      "Jobs created, labeled by provider.",
		}, []string{"provider"}),
		JobsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ump_gateway",
			Name:      "jobs_completed_total",
			Help:      "Jobs reaching a terminal state, labeled by provider and final status.",
		}, []string{"provider", "status"}),
		ForwardRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ump_gateway",
			Name:      "forward_retries_total",
			Help:      "Retry attempts made while forwarding an execute request.",
		}),
		PollTasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ump_gateway",
			Name:      "poll_tasks_active",
			Help:      "Number of currently live background poll tasks.",
		}),
		PollIterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ump_gateway",
			Name:      "poll_iterations_total",
			Help:      "Total poll loop iterations across all jobs.",
		}),
		ObserverErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ump_gateway",
			Name:      "observer_errors_total",
			Help:      "Observer panics/errors isolated by the Observer Bus, labeled by hook.",
		}, []string{"hook"}),
	}
	reg.MustRegister(
		m.JobsCreatedTotal,
		m.JobsCompletedTotal,
		m.ForwardRetriesTotal,
		m.PollTasksActive,
		m.PollIterationsTotal,
		m.ObserverErrorsTotal,
	)
	return m
}
