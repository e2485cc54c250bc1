// Package metrics exposes Prometheus collectors for the widget runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the collectors the runtime records into.
type Registry struct {
	SubmissionsTotal   *prometheus.CounterVec
	SubmissionsDropped prometheus.Counter
	WorkflowsTotal     *prometheus.CounterVec
	WorkflowDuration   prometheus.Histogram
	PollsTotal         prometheus.Counter
	PollCutoffsTotal   prometheus.Counter
	ResumeAttempts     prometheus.Counter
	ExposuresEmitted   *prometheus.CounterVec
	ExposuresDeduped   prometheus.Counter
	ExposuresPruned    prometheus.Counter
}

// NewRegistry creates the collectors and registers them with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_submissions_total",
			Help: "Answer submissions received, by acceptance.",
		}, []string{"accepted"}),
		SubmissionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_submissions_dropped_total",
			Help: "Submissions dropped because another workflow held the submission lock.",
		}),
		WorkflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_workflows_total",
			Help: "Completed session workflows, by outcome.",
		}, []string{"outcome"}),
		WorkflowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "curator_workflow_duration_seconds",
			Help:    "Wall time from submit to a terminal workflow state.",
			Buckets: []float64{1, 5, 10, 25, 60, 120, 180, 300},
		}),
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_polls_total",
			Help: "Session status poll requests issued.",
		}),
		PollCutoffsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_poll_cutoffs_total",
			Help: "Workflows that hit the polling cutoff and paused for user action.",
		}),
		ResumeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_resume_attempts_total",
			Help: "Idempotent session-start resume attempts.",
		}),
		ExposuresEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_exposures_emitted_total",
			Help: "Experiment exposure events delivered upstream, by forced flag.",
		}, []string{"forced"}),
		ExposuresDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_exposures_deduped_total",
			Help: "Exposure emissions suppressed by the same-day dedupe record.",
		}),
		ExposuresPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_exposures_pruned_total",
			Help: "Exposure dedupe records removed by the retention pruner.",
		}),
	}

	reg.MustRegister(
		m.SubmissionsTotal,
		m.SubmissionsDropped,
		m.WorkflowsTotal,
		m.WorkflowDuration,
		m.PollsTotal,
		m.PollCutoffsTotal,
		m.ResumeAttempts,
		m.ExposuresEmitted,
		m.ExposuresDeduped,
		m.ExposuresPruned,
	)
	return m
}

// NewTestRegistry returns collectors registered against a throwaway registry.
func NewTestRegistry() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}
