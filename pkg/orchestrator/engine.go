package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/foreman/pkg/config"
	"github.com/odvcencio/foreman/pkg/logging"
	"github.com/odvcencio/foreman/pkg/storage"
	"github.com/odvcencio/foreman/pkg/task"
	"github.com/odvcencio/foreman/pkg/telemetry"
)

// clarificationContexts is the order in which clarification passes run
// during a single engine pass.
var clarificationContexts = []task.ContextType{
	task.ContextReviewScope,
	task.ContextImplPreferences,
	task.ContextImplPlanning,
}

// Implementer produces the code change for a task once clarification has
// resolved. It returns a short summary of what was done.
type Implementer interface {
	Implement(ctx context.Context, t *task.Task, plan *task.ImplementationPlan) (string, error)
}

// Reviewer scores a completed change per quality category (0-100).
type Reviewer interface {
	Review(ctx context.Context, t *task.Task, decision task.ReviewDecision) (map[string]int, error)
}

// ClarificationGate collects disambiguating decisions for one context type.
// An explicit abort must be reported as an error wrapping
// ErrClarificationAborted.
type ClarificationGate interface {
	Collect(ctx context.Context, t *task.Task, contextType task.ContextType, complexity int, flags task.Flags) (*task.ClarificationContext, error)
}

// Capabilities are the pluggable collaborators one engine pass drives.
type Capabilities struct {
	Implementer  Implementer
	BuildAndTest BuildAndTest
	Fix          Fix
	Reviewer     Reviewer
}

// Outcome summarizes where one engine pass left a task.
type Outcome struct {
	Task     *task.Task
	Decision task.ReviewDecision
	Verify   VerifyResult
	Quality  *task.QualityResult
	Rejected bool
}

// Engine drives tasks through the full pipeline: scoring, routing,
// clarification, implementation, verification, and review. All state
// mutations go through the state machine; the engine never writes task
// state directly.
type Engine struct {
	cfg     *config.Config
	store   storage.TaskStore
	machine *StateMachine
	scorer  *ComplexityScorer
	detect  *ForceTriggerDetector
	router  *ReviewRouter
	loop    *TestVerificationLoop
	gate    *QualityGateEvaluator
	clarify ClarificationGate
	logger  *logging.Logger
	hub     *telemetry.Hub
}

// NewEngine assembles an engine from its parts. logger and hub may be nil.
func NewEngine(cfg *config.Config, store storage.TaskStore, machine *StateMachine, gate ClarificationGate, logger *logging.Logger, hub *telemetry.Hub) *Engine {
	scorer := NewComplexityScorer()
	scorer.Floor = cfg.Scoring.Floor
	scorer.ErrorSentinel = cfg.Scoring.ErrorSentinel

	router := NewReviewRouter()
	router.AutoMax = cfg.Routing.AutoMax
	router.QuickMax = cfg.Routing.QuickMax

	return &Engine{
		cfg:     cfg,
		store:   store,
		machine: machine,
		scorer:  scorer,
		detect:  NewForceTriggerDetector(),
		router:  router,
		loop:    NewTestVerificationLoop(cfg.Verification.MaxFixAttempts),
		gate:    NewQualityGateEvaluator(cfg.Quality.Thresholds),
		clarify: gate,
		logger:  logger,
		hub:     hub,
	}
}

// Pipeline phases in execution order. A pass enters at the phase matching
// the task's persisted state and runs forward from there.
type phase int

const (
	phasePlan phase = iota
	phaseClarify
	phaseImplement
	phaseVerify
	phaseReview
	phaseDone
)

func entryPhase(state task.State) (phase, bool) {
	switch state {
	case task.StateBacklog, task.StatePlanning:
		return phasePlan, true
	case task.StateAwaitingClarification:
		return phaseClarify, true
	case task.StateImplementing:
		return phaseImplement, true
	case task.StateVerifyingTests:
		return phaseVerify, true
	case task.StateInReview:
		return phaseReview, true
	case task.StateDone:
		return phaseDone, true
	}
	return 0, false
}

// ProcessTask runs one engine pass for a task. The task is created if it
// does not exist yet; an existing task resumes at whatever phase its state
// calls for, so a pass over a task left in IMPLEMENTING by a rejected
// review picks up at implementation rather than re-planning. A rejected
// review is not an error: the task is returned in IMPLEMENTING with
// Outcome.Rejected set. Blocked tasks need a remediation event first.
func (e *Engine) ProcessTask(ctx context.Context, t *task.Task, plan *task.ImplementationPlan, caps Capabilities, flags task.Flags) (*Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.process_task",
		trace.WithAttributes(attribute.String("task.id", t.ID)))
	defer span.End()

	if err := e.ensureTask(ctx, t); err != nil {
		return nil, err
	}
	current, err := e.store.GetTask(t.ID)
	if err != nil {
		return nil, err
	}

	entry, ok := entryPhase(current.State)
	if !ok {
		return nil, fmt.Errorf("task %s is %s (%s): apply a remediation event before reprocessing", t.ID, current.State, current.FrontMatter.BlockedReason)
	}

	outcome := &Outcome{}
	if current.FrontMatter.Complexity != nil {
		outcome.Decision = decisionFromEvaluation(current.FrontMatter.Complexity)
	}

	if entry <= phasePlan {
		current, err = e.plan(ctx, current, plan, flags, outcome)
		if err != nil {
			return nil, err
		}
	}
	if entry <= phaseClarify {
		current, err = e.clarifyAll(ctx, current, flags, outcome)
		if err != nil {
			return nil, err
		}
	}
	if entry <= phaseImplement {
		current, err = e.implement(ctx, current, plan, caps)
		if err != nil {
			return nil, err
		}
	}
	if entry <= phaseVerify {
		current, err = e.verify(ctx, current, caps, outcome)
		if err != nil {
			return nil, err
		}
	}
	if entry <= phaseReview {
		current, err = e.review(ctx, current, caps, outcome)
		if err != nil {
			return nil, err
		}
	}

	outcome.Task = current
	return outcome, nil
}

// decisionFromEvaluation rebuilds the routing decision recorded by an
// earlier pass, so resumed tasks carry it without re-scoring.
func decisionFromEvaluation(eval *task.ComplexityEvaluation) task.ReviewDecision {
	return task.ReviewDecision{
		Score:    eval.Score,
		Mode:     eval.Mode,
		Triggers: eval.Triggers,
	}
}

// ProcessTasks runs engine passes for several tasks concurrently, bounded
// by limit. The first failure cancels the remaining passes.
func (e *Engine) ProcessTasks(ctx context.Context, items []*task.Task, plans map[string]*task.ImplementationPlan, caps Capabilities, flags task.Flags, limit int) ([]*Outcome, error) {
	group, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}

	outcomes := make([]*Outcome, len(items))
	for i, t := range items {
		i, t := i, t
		group.Go(func() error {
			outcome, err := e.ProcessTask(ctx, t, plans[t.ID], caps, flags)
			if err != nil {
				return fmt.Errorf("task %s: %w", t.ID, err)
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (e *Engine) ensureTask(ctx context.Context, t *task.Task) error {
	_, err := e.store.GetTask(t.ID)
	if errors.Is(err, storage.ErrNotFound) {
		if t.State == "" {
			t.State = task.StateBacklog
		}
		if err := e.store.CreateTask(t); err != nil {
			return fmt.Errorf("create task %s: %w", t.ID, err)
		}
		e.emit(telemetry.EventTaskCreated, t.ID, nil)
		e.logInfo(logging.CategoryEngine, "task_created", t.ID, "task registered", nil)
		return nil
	}
	return err
}

// plan scores the implementation plan, detects force triggers, routes the
// review decision, and records all of it on the task atomically with the
// PLANNING -> AWAITING_CLARIFICATION transition.
func (e *Engine) plan(ctx context.Context, current *task.Task, plan *task.ImplementationPlan, flags task.Flags, outcome *Outcome) (*task.Task, error) {
	if current.State == task.StateBacklog {
		var err error
		current, err = e.transition(ctx, current.ID, task.EventPlanningStarted, "", nil)
		if err != nil {
			return nil, err
		}
	}

	score := e.scorer.Score(plan)
	complexityScores.Observe(float64(score.Total))
	e.emit(telemetry.EventTaskScored, current.ID, map[string]any{"score": score.Total})
	e.logInfo(logging.CategoryScoring, "plan_scored", current.ID, "complexity computed", map[string]any{
		"score":   score.Total,
		"factors": score.Factors,
	})

	triggers := e.detect.Detect(current, plan, flags)
	for _, trigger := range triggers {
		forceTriggers.WithLabelValues(string(trigger)).Inc()
	}

	decision := e.router.Route(score, triggers)
	reviewDecisions.WithLabelValues(string(decision.Mode)).Inc()
	outcome.Decision = decision
	e.emit(telemetry.EventTaskRouted, current.ID, map[string]any{
		"mode":      string(decision.Mode),
		"rationale": decision.Rationale,
	})
	e.logInfo(logging.CategoryRouting, "review_routed", current.ID, decision.Rationale, map[string]any{
		"mode":     string(decision.Mode),
		"triggers": triggers,
	})

	evaluation := &task.ComplexityEvaluation{
		Score:    score.Total,
		Mode:     decision.Mode,
		Triggers: triggers,
		Factors:  score.Factors,
	}
	return e.transition(ctx, current.ID, task.EventPlanApproved, "", func(t *task.Task) {
		t.FrontMatter.Complexity = evaluation
	})
}

// clarifyAll runs every clarification pass in order. An abort blocks the
// task and surfaces the abort error.
func (e *Engine) clarifyAll(ctx context.Context, t *task.Task, flags task.Flags, outcome *Outcome) (*task.Task, error) {
	complexity := 0
	if t.FrontMatter.Complexity != nil {
		complexity = t.FrontMatter.Complexity.Score
	}

	var last *task.ClarificationContext
	for _, contextType := range clarificationContexts {
		e.emit(telemetry.EventClarificationStarted, t.ID, map[string]any{"context": string(contextType)})
		cc, err := e.clarify.Collect(ctx, t, contextType, complexity, flags)
		if err != nil {
			if errors.Is(err, ErrClarificationAborted) {
				e.emit(telemetry.EventClarificationAborted, t.ID, map[string]any{"context": string(contextType)})
				e.logWarn(logging.CategoryClarification, "clarification_aborted", t.ID, "user aborted clarification", map[string]any{
					"context": string(contextType),
				})
				if _, terr := e.transition(ctx, t.ID, task.EventClarificationAborted, ReasonClarifyAbort, nil); terr != nil {
					return nil, terr
				}
			}
			return nil, err
		}
		clarificationModes.WithLabelValues(string(contextType), string(cc.Mode)).Inc()
		e.emit(telemetry.EventClarificationResolved, t.ID, map[string]any{
			"context":   string(contextType),
			"mode":      string(cc.Mode),
			"decisions": len(cc.Decisions),
		})
		last = cc
	}

	return e.transition(ctx, t.ID, task.EventClarificationComplete, "", func(t *task.Task) {
		t.FrontMatter.Clarification = last
	})
}

func (e *Engine) implement(ctx context.Context, t *task.Task, plan *task.ImplementationPlan, caps Capabilities) (*task.Task, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.implement")
	defer span.End()

	summary, err := caps.Implementer.Implement(ctx, t, plan)
	if err != nil {
		return nil, fmt.Errorf("implement task %s: %w", t.ID, err)
	}
	e.logInfo(logging.CategoryEngine, "implementation_complete", t.ID, summary, nil)
	return e.transition(ctx, t.ID, task.EventImplementationDone, summary, nil)
}

// verify drives the bounded test verification loop. Build failures and an
// exhausted fix loop both block the task, with distinct reasons.
func (e *Engine) verify(ctx context.Context, t *task.Task, caps Capabilities, outcome *Outcome) (*task.Task, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.verify")
	defer span.End()

	e.emit(telemetry.EventVerifyStarted, t.ID, nil)
	started := time.Now()

	result, err := e.loop.Verify(ctx, caps.BuildAndTest, caps.Fix)
	verifyDuration.Observe(time.Since(started).Seconds())
	for range result.Attempts {
		fixAttempts.Inc()
	}
	outcome.Verify = result

	if err != nil {
		if ctx.Err() != nil {
			// Caller cancellation, not a verdict on the suite. Leave the
			// task in VERIFYING_TESTS so a later pass resumes there.
			verifyOutcomes.WithLabelValues("cancelled").Inc()
			return nil, err
		}
		reason := ReasonVerifyAborted
		outcomeLabel := "aborted"
		switch {
		case errors.Is(err, ErrBuildFailed):
			reason = ReasonBuildFailed
			outcomeLabel = "build_failed"
		case errors.Is(err, ErrLoopExhausted):
			reason = ReasonLoopExhausted
			outcomeLabel = "exhausted"
		}
		verifyOutcomes.WithLabelValues(outcomeLabel).Inc()
		e.emit(telemetry.EventVerifyExhausted, t.ID, map[string]any{"reason": reason})
		e.logWarn(logging.CategoryVerification, "verification_failed", t.ID, err.Error(), map[string]any{
			"reason":   reason,
			"attempts": len(result.Attempts),
		})
		if _, terr := e.transition(ctx, t.ID, task.EventTestsExhausted, reason, func(t *task.Task) {
			run := result.Final
			t.FrontMatter.TestResults = &run
		}); terr != nil {
			return nil, terr
		}
		return nil, err
	}

	verifyOutcomes.WithLabelValues("converged").Inc()
	if err := e.store.SaveTestRun(t.ID, result.Final); err != nil {
		return nil, fmt.Errorf("save test run for %s: %w", t.ID, err)
	}
	e.emit(telemetry.EventVerifyConverged, t.ID, map[string]any{
		"attempts": len(result.Attempts),
		"passed":   result.Final.PassCount,
	})
	e.logInfo(logging.CategoryVerification, "tests_converged", t.ID, "suite fully passing", map[string]any{
		"fix_attempts": len(result.Attempts),
	})

	return e.transition(ctx, t.ID, task.EventTestsConverged, "", func(t *task.Task) {
		run := result.Final
		t.FrontMatter.TestResults = &run
	})
}

// review collects category scores and evaluates the quality gate. Any
// category below its threshold blocks approval, regardless of the others.
func (e *Engine) review(ctx context.Context, t *task.Task, caps Capabilities, outcome *Outcome) (*task.Task, error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.review")
	defer span.End()

	scores, err := caps.Reviewer.Review(ctx, t, outcome.Decision)
	if err != nil {
		return nil, fmt.Errorf("review task %s: %w", t.ID, err)
	}

	quality := e.gate.Evaluate(scores)
	outcome.Quality = &quality
	e.emit(telemetry.EventQualityEvaluated, t.ID, map[string]any{
		"approved": quality.Approved,
		"blocking": quality.BlockingCategories,
	})
	e.logInfo(logging.CategoryQuality, "quality_evaluated", t.ID, "quality gate evaluated", map[string]any{
		"approved": quality.Approved,
		"scores":   scores,
		"blocking": quality.BlockingCategories,
	})

	if !quality.Approved {
		qualityResults.WithLabelValues("rejected").Inc()
		outcome.Rejected = true
		reason := fmt.Sprintf("quality below threshold: %v", quality.BlockingCategories)
		return e.transition(ctx, t.ID, task.EventReviewRejected, reason, func(t *task.Task) {
			t.FrontMatter.Quality = &quality
		})
	}

	qualityResults.WithLabelValues("approved").Inc()
	tasksProcessed.WithLabelValues("done").Inc()
	done, err := e.transition(ctx, t.ID, task.EventReviewApproved, "", func(t *task.Task) {
		t.FrontMatter.Quality = &quality
	})
	if err != nil {
		return nil, err
	}
	e.emit(telemetry.EventTaskDone, t.ID, nil)
	return done, nil
}

// transition applies one state machine event and records the outcome in
// metrics, telemetry, and the structured log.
func (e *Engine) transition(ctx context.Context, taskID string, event task.Event, reason string, apply Apply) (*task.Task, error) {
	t, err := e.machine.Transition(ctx, taskID, event, reason, apply)
	if err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			invalidTransitions.WithLabelValues(string(invalid.State), string(event)).Inc()
		}
		return nil, err
	}
	stateTransitions.WithLabelValues(string(event)).Inc()
	e.emit(telemetry.EventStateChanged, taskID, map[string]any{
		"event": string(event),
		"state": string(t.State),
	})
	if t.State == task.StateBlocked {
		e.emit(telemetry.EventTaskBlocked, taskID, map[string]any{"reason": t.FrontMatter.BlockedReason})
	}
	e.logInfo(logging.CategoryState, string(event), taskID, "state changed", map[string]any{
		"state":  string(t.State),
		"reason": reason,
	})
	return t, nil
}

func (e *Engine) emit(eventType telemetry.EventType, taskID string, data map[string]any) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Data:      data,
	})
}

func (e *Engine) logInfo(category logging.Category, eventType, taskID, message string, details map[string]any) {
	if e.logger == nil {
		return
	}
	_ = e.logger.Info(category, eventType, taskID, message, details)
}

func (e *Engine) logWarn(category logging.Category, eventType, taskID, message string, details map[string]any) {
	if e.logger == nil {
		return
	}
	_ = e.logger.Warn(category, eventType, taskID, message, details)
}
