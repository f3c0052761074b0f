package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/odvcencio/foreman/pkg/task"
)

// BuildAndTest runs the full suite from a clean build and reports the
// resulting run. A build failure must be reported by returning an error
// wrapping ErrBuildFailed (e.g. *BuildError); such failures never enter the
// fix loop.
type BuildAndTest func(ctx context.Context) (task.TestRun, error)

// Fix applies one automated change in response to a failing run and returns
// a summary of what was changed. The loop re-runs the suite itself to
// produce the attempt's resulting run.
type Fix func(ctx context.Context, failing task.TestRun) (string, error)

// VerifyResult is the outcome of one verification session.
type VerifyResult struct {
	Final     task.TestRun
	Attempts  []task.FixAttempt
	Converged bool
}

// TestVerificationLoop runs the suite and, on failure, drives a bounded
// fix-and-rerun cycle. The loop is stateless between invocations: each
// session starts with a fresh attempt counter.
type TestVerificationLoop struct {
	MaxAttempts int
}

// NewTestVerificationLoop creates a loop with the given attempt bound.
func NewTestVerificationLoop(maxAttempts int) *TestVerificationLoop {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &TestVerificationLoop{MaxAttempts: maxAttempts}
}

// Verify executes the loop. It terminates the instant a run has a 100% pass
// rate; partial pass rates are never accepted. When the attempt bound is
// reached without convergence it returns ErrLoopExhausted — callers must
// drive the task to BLOCKED, never treat the result as success.
//
// Build failures (errors wrapping ErrBuildFailed) and context cancellation
// abort the session immediately with zero or partial attempt history.
func (l *TestVerificationLoop) Verify(ctx context.Context, buildAndTest BuildAndTest, fix Fix) (VerifyResult, error) {
	var result VerifyResult

	run, err := l.runSuite(ctx, buildAndTest, 1)
	if err != nil {
		return result, err
	}
	result.Final = run
	if run.Passed() {
		result.Converged = true
		return result, nil
	}

	for len(result.Attempts) < l.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		summary, err := fix(ctx, result.Final)
		if err != nil {
			return result, fmt.Errorf("fix attempt %d: %w", len(result.Attempts)+1, err)
		}

		run, err := l.runSuite(ctx, buildAndTest, len(result.Attempts)+2)
		if err != nil {
			return result, err
		}

		result.Attempts = append(result.Attempts, task.FixAttempt{
			Number:        len(result.Attempts) + 1,
			ChangeSummary: summary,
			Result:        run,
		})
		result.Final = run

		if run.Passed() {
			result.Converged = true
			return result, nil
		}
	}

	return result, fmt.Errorf("still failing after %d fix attempts: %w", l.MaxAttempts, ErrLoopExhausted)
}

// runSuite executes one clean build-and-test pass and stamps the attempt
// number onto the resulting run.
func (l *TestVerificationLoop) runSuite(ctx context.Context, buildAndTest BuildAndTest, attempt int) (task.TestRun, error) {
	if err := ctx.Err(); err != nil {
		return task.TestRun{}, err
	}
	run, err := buildAndTest(ctx)
	if err != nil {
		if errors.Is(err, ErrBuildFailed) {
			return task.TestRun{}, err
		}
		return task.TestRun{}, fmt.Errorf("test run %d: %w", attempt, err)
	}
	run.Attempt = attempt
	return run, nil
}
