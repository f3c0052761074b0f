package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/odvcencio/foreman/pkg/task"
)

// scriptedSuite returns runs in sequence; the last entry repeats.
func scriptedSuite(runs ...task.TestRun) BuildAndTest {
	i := 0
	return func(ctx context.Context) (task.TestRun, error) {
		run := runs[i]
		if i < len(runs)-1 {
			i++
		}
		return run, nil
	}
}

func noopFix(ctx context.Context, failing task.TestRun) (string, error) {
	return "adjusted assertions", nil
}

func TestVerifyConvergesImmediately(t *testing.T) {
	loop := NewTestVerificationLoop(3)
	result, err := loop.Verify(context.Background(),
		scriptedSuite(task.TestRun{PassCount: 12}),
		noopFix)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Converged {
		t.Fatal("Verify() should converge on a passing initial run")
	}
	if len(result.Attempts) != 0 {
		t.Errorf("fix attempts = %d, want 0", len(result.Attempts))
	}
	if result.Final.Attempt != 1 {
		t.Errorf("final attempt = %d, want 1", result.Final.Attempt)
	}
}

func TestVerifyFailOnceThenPass(t *testing.T) {
	loop := NewTestVerificationLoop(3)
	result, err := loop.Verify(context.Background(),
		scriptedSuite(
			task.TestRun{PassCount: 10, FailCount: 2},
			task.TestRun{PassCount: 12},
		),
		noopFix)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Converged {
		t.Fatal("Verify() should converge after one fix")
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("fix attempts = %d, want 1", len(result.Attempts))
	}
	attempt := result.Attempts[0]
	if attempt.Number != 1 {
		t.Errorf("attempt number = %d, want 1", attempt.Number)
	}
	if attempt.ChangeSummary == "" {
		t.Error("attempt missing change summary")
	}
	if !attempt.Result.Passed() {
		t.Error("attempt result should be the passing re-run")
	}
}

func TestVerifyExhaustsAtBound(t *testing.T) {
	loop := NewTestVerificationLoop(3)
	fixes := 0
	result, err := loop.Verify(context.Background(),
		scriptedSuite(task.TestRun{PassCount: 10, FailCount: 1}),
		func(ctx context.Context, failing task.TestRun) (string, error) {
			fixes++
			return fmt.Sprintf("fix %d", fixes), nil
		})
	if !errors.Is(err, ErrLoopExhausted) {
		t.Fatalf("Verify() error = %v, want ErrLoopExhausted", err)
	}
	if result.Converged {
		t.Error("Verify() must not report convergence when exhausted")
	}
	if len(result.Attempts) != 3 {
		t.Errorf("fix attempts = %d, want exactly 3", len(result.Attempts))
	}
	if fixes != 3 {
		t.Errorf("fix calls = %d, want exactly 3", fixes)
	}
}

func TestVerifyPartialPassIsNotConvergence(t *testing.T) {
	loop := NewTestVerificationLoop(2)
	_, err := loop.Verify(context.Background(),
		scriptedSuite(task.TestRun{PassCount: 99, FailCount: 1}),
		noopFix)
	if !errors.Is(err, ErrLoopExhausted) {
		t.Fatalf("Verify() error = %v, want ErrLoopExhausted for 99%% pass rate", err)
	}
}

func TestVerifyBuildFailureBypassesFixLoop(t *testing.T) {
	loop := NewTestVerificationLoop(3)
	fixes := 0
	_, err := loop.Verify(context.Background(),
		func(ctx context.Context) (task.TestRun, error) {
			return task.TestRun{}, &BuildError{Output: "undefined: frobnicate", Err: ErrBuildFailed}
		},
		func(ctx context.Context, failing task.TestRun) (string, error) {
			fixes++
			return "", nil
		})
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("Verify() error = %v, want ErrBuildFailed", err)
	}
	if fixes != 0 {
		t.Errorf("fix calls = %d, want 0 on build failure", fixes)
	}
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatal("error should carry the BuildError with compiler output")
	}
	if buildErr.Output == "" {
		t.Error("BuildError missing output")
	}
}

func TestVerifyBuildFailureMidLoop(t *testing.T) {
	loop := NewTestVerificationLoop(3)
	calls := 0
	_, err := loop.Verify(context.Background(),
		func(ctx context.Context) (task.TestRun, error) {
			calls++
			if calls == 1 {
				return task.TestRun{PassCount: 5, FailCount: 1}, nil
			}
			return task.TestRun{}, &BuildError{Output: "syntax error", Err: ErrBuildFailed}
		},
		noopFix)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("Verify() error = %v, want ErrBuildFailed from the re-run", err)
	}
}

func TestVerifyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewTestVerificationLoop(3)
	_, err := loop.Verify(ctx,
		func(ctx context.Context) (task.TestRun, error) {
			cancel()
			return task.TestRun{PassCount: 1, FailCount: 1}, nil
		},
		noopFix)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Verify() error = %v, want context.Canceled", err)
	}
}

func TestVerifyAttemptNumbering(t *testing.T) {
	loop := NewTestVerificationLoop(3)
	result, err := loop.Verify(context.Background(),
		scriptedSuite(
			task.TestRun{FailCount: 3},
			task.TestRun{FailCount: 2},
			task.TestRun{PassCount: 8},
		),
		noopFix)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("fix attempts = %d, want 2", len(result.Attempts))
	}
	for i, attempt := range result.Attempts {
		if attempt.Number != i+1 {
			t.Errorf("attempt %d numbered %d", i, attempt.Number)
		}
		if attempt.Result.Attempt != i+2 {
			t.Errorf("attempt %d run numbered %d, want %d", i, attempt.Result.Attempt, i+2)
		}
	}
}
