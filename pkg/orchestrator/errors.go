package orchestrator

import (
	"errors"
	"fmt"

	"github.com/odvcencio/foreman/pkg/task"
)

// Reason codes recorded on BLOCKED transitions.
const (
	ReasonBuildFailed   = "build_failed"
	ReasonLoopExhausted = "fix_loop_exhausted"
	ReasonVerifyAborted = "verification_aborted"
	ReasonClarifyAbort  = "clarification_aborted"
)

var (
	// ErrBuildFailed marks a build failure, a harder failure class than a
	// test failure: it never enters the fix loop.
	ErrBuildFailed = errors.New("build failed")

	// ErrLoopExhausted is returned after the bounded fix loop runs out of
	// attempts without a fully passing run.
	ErrLoopExhausted = errors.New("fix loop exhausted")

	// ErrInvalidTransition is returned when an event is not legal for the
	// task's current state. The task is left unchanged; callers must not
	// retry blindly.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrClarificationAborted is returned when a full-mode clarification
	// wait is explicitly aborted by the user.
	ErrClarificationAborted = errors.New("clarification aborted")
)

// InvalidTransitionError carries the rejected event and the state it was
// rejected in.
type InvalidTransitionError struct {
	TaskID string
	State  task.State
	Event  task.Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: event %s not legal in state %s", e.TaskID, e.Event, e.State)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// BuildError wraps the toolchain failure that prevented tests from running.
type BuildError struct {
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build failed: %v", e.Err)
	}
	return "build failed"
}

func (e *BuildError) Unwrap() error {
	return ErrBuildFailed
}
