package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/odvcencio/foreman/pkg/bus"
	"github.com/odvcencio/foreman/pkg/task"
)

// RemoteCapabilities drives external workers over the message bus with
// request/reply. A worker subscribes on the capability subject for its kind
// and replies with the JSON result; no responders within the timeout fails
// the step.
type RemoteCapabilities struct {
	bus     bus.MessageBus
	timeout time.Duration
}

// NewRemoteCapabilities creates bus-backed capabilities with the given
// per-request timeout.
func NewRemoteCapabilities(messageBus bus.MessageBus, timeout time.Duration) *RemoteCapabilities {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RemoteCapabilities{bus: messageBus, timeout: timeout}
}

// Capabilities binds the remote workers to one task.
func (r *RemoteCapabilities) Capabilities(taskID string) Capabilities {
	return Capabilities{
		Implementer:  r,
		BuildAndTest: r.buildAndTest(taskID),
		Fix:          r.fix(taskID),
		Reviewer:     r,
	}
}

type implementRequest struct {
	Task *task.Task               `json:"task"`
	Plan *task.ImplementationPlan `json:"plan,omitempty"`
}

type implementReply struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// Implement delegates the change to the implement worker.
func (r *RemoteCapabilities) Implement(ctx context.Context, t *task.Task, plan *task.ImplementationPlan) (string, error) {
	var reply implementReply
	if err := r.roundTrip(ctx, "implement", t.ID, implementRequest{Task: t, Plan: plan}, &reply); err != nil {
		return "", err
	}
	if reply.Error != "" {
		return "", fmt.Errorf("implement worker: %s", reply.Error)
	}
	return reply.Summary, nil
}

type testReply struct {
	Run         task.TestRun `json:"run"`
	BuildFailed bool         `json:"build_failed,omitempty"`
	Output      string       `json:"output,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func (r *RemoteCapabilities) buildAndTest(taskID string) BuildAndTest {
	return func(ctx context.Context) (task.TestRun, error) {
		var reply testReply
		if err := r.roundTrip(ctx, "test", taskID, struct{}{}, &reply); err != nil {
			return task.TestRun{}, err
		}
		if reply.BuildFailed {
			return task.TestRun{}, &BuildError{Output: reply.Output, Err: ErrBuildFailed}
		}
		if reply.Error != "" {
			return task.TestRun{}, fmt.Errorf("test worker: %s", reply.Error)
		}
		return reply.Run, nil
	}
}

type fixRequest struct {
	Failing task.TestRun `json:"failing"`
}

type fixReply struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

func (r *RemoteCapabilities) fix(taskID string) Fix {
	return func(ctx context.Context, failing task.TestRun) (string, error) {
		var reply fixReply
		if err := r.roundTrip(ctx, "fix", taskID, fixRequest{Failing: failing}, &reply); err != nil {
			return "", err
		}
		if reply.Error != "" {
			return "", fmt.Errorf("fix worker: %s", reply.Error)
		}
		return reply.Summary, nil
	}
}

type reviewRequest struct {
	Task     *task.Task          `json:"task"`
	Decision task.ReviewDecision `json:"decision"`
}

type reviewReply struct {
	Scores map[string]int `json:"scores"`
	Error  string         `json:"error,omitempty"`
}

// Review delegates category scoring to the review worker.
func (r *RemoteCapabilities) Review(ctx context.Context, t *task.Task, decision task.ReviewDecision) (map[string]int, error) {
	var reply reviewReply
	if err := r.roundTrip(ctx, "review", t.ID, reviewRequest{Task: t, Decision: decision}, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("review worker: %s", reply.Error)
	}
	return reply.Scores, nil
}

func (r *RemoteCapabilities) roundTrip(ctx context.Context, kind, taskID string, req any, reply any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", kind, err)
	}
	resp, err := r.bus.Request(ctx, bus.CapabilitySubject(kind, taskID), data, r.timeout)
	if err != nil {
		return fmt.Errorf("%s worker for task %s: %w", kind, taskID, err)
	}
	if err := json.Unmarshal(resp, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", kind, err)
	}
	return nil
}
