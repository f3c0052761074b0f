// Package task defines the data model shared by the orchestration engine:
// tasks, implementation plans, review decisions, clarification records, and
// the state/event vocabulary of the task lifecycle.
package task

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle phase of a task.
type State string

const (
	StateBacklog               State = "BACKLOG"
	StatePlanning              State = "PLANNING"
	StateAwaitingClarification State = "AWAITING_CLARIFICATION"
	StateImplementing          State = "IMPLEMENTING"
	StateVerifyingTests        State = "VERIFYING_TESTS"
	StateBlocked               State = "BLOCKED"
	StateInReview              State = "IN_REVIEW"
	StateDone                  State = "DONE"
)

// ParseState converts a stored string into a State.
func ParseState(s string) (State, error) {
	switch State(strings.ToUpper(strings.TrimSpace(s))) {
	case StateBacklog:
		return StateBacklog, nil
	case StatePlanning:
		return StatePlanning, nil
	case StateAwaitingClarification:
		return StateAwaitingClarification, nil
	case StateImplementing:
		return StateImplementing, nil
	case StateVerifyingTests:
		return StateVerifyingTests, nil
	case StateBlocked:
		return StateBlocked, nil
	case StateInReview:
		return StateInReview, nil
	case StateDone:
		return StateDone, nil
	default:
		return "", fmt.Errorf("unknown task state: %q", s)
	}
}

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == StateDone
}

// Event drives a state machine transition.
type Event string

const (
	EventPlanningStarted       Event = "planning_started"
	EventPlanApproved          Event = "plan_approved"
	EventClarificationComplete Event = "clarification_complete"
	EventClarificationAborted  Event = "clarification_aborted"
	EventImplementationDone    Event = "implementation_complete"
	EventTestsConverged        Event = "tests_converged"
	EventTestsExhausted        Event = "tests_exhausted"
	EventReviewApproved        Event = "review_approved"
	EventReviewRejected        Event = "review_rejected"
	EventRemediationPlanned    Event = "remediation_planned"
	EventRemediationResumed    Event = "remediation_resumed"
)

// Task is a unit of work moving through the engine. Tasks are created at
// intake, mutated only through state machine transitions, and archived
// rather than deleted.
type Task struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	AcceptanceCriteria []string    `json:"acceptance_criteria,omitempty"`
	Tags               []string    `json:"tags,omitempty"`
	State              State       `json:"state"`
	FrontMatter        FrontMatter `json:"front_matter"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	Archived           bool        `json:"archived,omitempty"`
}

// HasTag reports whether the task carries the given tag (case-insensitive).
func (t *Task) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if strings.EqualFold(strings.TrimSpace(have), tag) {
			return true
		}
	}
	return false
}

// FrontMatter is the persisted per-task engine state consumed by external
// collaborators (implementer, reviewer, UI).
type FrontMatter struct {
	Complexity    *ComplexityEvaluation `json:"complexity_evaluation,omitempty"`
	Clarification *ClarificationContext `json:"clarification_context,omitempty"`
	TestResults   *TestRun              `json:"test_results,omitempty"`
	Quality       *QualityResult        `json:"quality_result,omitempty"`
	BlockedReason string                `json:"blocked_reason,omitempty"`
}

// TransitionRecord is one entry of the append-only per-task event log.
type TransitionRecord struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Event     Event     `json:"event"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Flags are the CLI/API switches consumed by the gates.
type Flags struct {
	Review        bool           // force FULL_REQUIRED routing
	NoQuestions   bool           // force clarification skip
	WithQuestions bool           // force clarification full
	Defaults      bool           // apply question defaults without prompting
	Reclarify     bool           // ignore any cached clarification context
	Answers       map[int]string // pre-supplied answers by question index
}

// ParseAnswersFlag parses the --answers value ("<idx>:<val> <idx>:<val> ...").
func ParseAnswersFlag(raw string) (map[int]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	answers := make(map[int]string)
	for _, pair := range strings.Fields(raw) {
		idx, val, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("malformed answer %q (want <idx>:<val>)", pair)
		}
		var n int
		if _, err := fmt.Sscanf(idx, "%d", &n); err != nil {
			return nil, fmt.Errorf("malformed answer index %q: %w", idx, err)
		}
		answers[n] = val
	}
	return answers, nil
}
