package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foreman",
		Name:      "tasks_processed_total",
		Help:      "Tasks that completed a full engine pass, by outcome.",
	}, []string{"outcome"})

	reviewDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foreman",
		Name:      "review_decisions_total",
		Help:      "Review routing decisions, by mode.",
	}, []string{"mode"})

	forceTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foreman",
		Name:      "force_triggers_total",
		Help:      "Force trigger detections, by trigger kind.",
	}, []string{"trigger"})

	complexityScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "foreman",
		Name:      "complexity_score",
		Help:      "Distribution of computed complexity scores.",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})

	clarificationModes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foreman",
		Name:      "clarification_modes_total",
		Help:      "Clarification gate decisions, by context type and mode.",
	}, []string{"context", "mode"})

	fixAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "foreman",
		Name:      "fix_attempts_total",
		Help:      "Fix attempts made by the test verification loop.",
	})

	verifyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foreman",
		Name:      "verify_outcomes_total",
		Help:      "Verification loop outcomes: converged, exhausted, build_failed.",
	}, []string{"outcome"})

	verifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "foreman",
		Name:      "verify_duration_seconds",
		Help:      "Wall time of full verification loops.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foreman",
		Name:      "state_transitions_total",
		Help:      "Applied state machine transitions, by event.",
	}, []string{"event"})

	invalidTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foreman",
		Name:      "invalid_transitions_total",
		Help:      "Rejected state machine transitions, by state and event.",
	}, []string{"state", "event"})

	qualityResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foreman",
		Name:      "quality_gate_results_total",
		Help:      "Quality gate evaluations, by result.",
	}, []string{"result"})
)
