package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/odvcencio/foreman/pkg/bus"
	"github.com/odvcencio/foreman/pkg/storage"
	"github.com/odvcencio/foreman/pkg/task"
)

// transitionTable is the fixed lifecycle graph. An event absent from a
// state's row is illegal in that state.
var transitionTable = map[task.State]map[task.Event]task.State{
	task.StateBacklog: {
		task.EventPlanningStarted: task.StatePlanning,
	},
	task.StatePlanning: {
		task.EventPlanApproved: task.StateAwaitingClarification,
	},
	task.StateAwaitingClarification: {
		task.EventClarificationComplete: task.StateImplementing,
		task.EventClarificationAborted:  task.StateBlocked,
	},
	task.StateImplementing: {
		task.EventImplementationDone: task.StateVerifyingTests,
	},
	task.StateVerifyingTests: {
		task.EventTestsConverged: task.StateInReview,
		task.EventTestsExhausted: task.StateBlocked,
	},
	task.StateInReview: {
		task.EventReviewApproved: task.StateDone,
		task.EventReviewRejected: task.StateImplementing,
	},
	task.StateBlocked: {
		task.EventRemediationPlanned: task.StatePlanning,
		task.EventRemediationResumed: task.StateImplementing,
	},
}

// StateMachine is the single writer of task state. Transitions for
// different tasks proceed concurrently; transitions for the same task are
// serialized by a per-task lock. The lock covers only the load-check-save
// critical section, never external calls.
type StateMachine struct {
	store storage.TaskStore
	bus   bus.MessageBus

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStateMachine creates a state machine over the given store. The bus is
// optional; when present every applied transition is published on the
// task's state subject.
func NewStateMachine(store storage.TaskStore, messageBus bus.MessageBus) *StateMachine {
	return &StateMachine{
		store: store,
		bus:   messageBus,
		locks: make(map[string]*sync.Mutex),
	}
}

// Apply is an optional mutation run inside the transition's critical
// section, used to persist decision results atomically with the state
// change.
type Apply func(t *task.Task)

// Transition applies an event to a task. An event not legal in the task's
// current state returns an *InvalidTransitionError and leaves the task
// unchanged. On success the new task snapshot is returned, the transition
// is appended to the event log, and the change is published.
func (m *StateMachine) Transition(ctx context.Context, taskID string, event task.Event, reason string, apply Apply) (*task.Task, error) {
	lock := m.taskLock(taskID)
	lock.Lock()

	t, err := m.store.GetTask(taskID)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	next, ok := transitionTable[t.State][event]
	if !ok {
		state := t.State
		lock.Unlock()
		if _, hasEvents := transitionTable[state]; !hasEvents {
			m.releaseLock(taskID)
		}
		return nil, &InvalidTransitionError{TaskID: taskID, State: state, Event: event}
	}

	from := t.State
	t.State = next
	if apply != nil {
		apply(t)
	}
	if next == task.StateBlocked && reason != "" {
		t.FrontMatter.BlockedReason = reason
	}
	if next != task.StateBlocked {
		t.FrontMatter.BlockedReason = ""
	}

	if err := m.store.SaveTask(t); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("save task %s: %w", taskID, err)
	}

	rec := &task.TransitionRecord{
		TaskID: taskID,
		Event:  event,
		From:   from,
		To:     next,
		Reason: reason,
	}
	if err := m.store.AppendTransition(rec); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("append transition for %s: %w", taskID, err)
	}

	snapshot := *t
	lock.Unlock()

	// A state with no outgoing events accepts nothing further, so its
	// lock entry is dropped rather than retained for the process
	// lifetime. A late caller gets a fresh lock and a clean rejection.
	if _, hasEvents := transitionTable[next]; !hasEvents {
		m.releaseLock(taskID)
	}

	// Publication happens outside the lock; a slow bus must not stall
	// unrelated transitions for the same task.
	m.publish(ctx, rec)

	return &snapshot, nil
}

// Legal reports whether an event is legal in the given state, without
// applying it.
func (m *StateMachine) Legal(state task.State, event task.Event) bool {
	_, ok := transitionTable[state][event]
	return ok
}

// History returns the task's transition log.
func (m *StateMachine) History(taskID string) ([]task.TransitionRecord, error) {
	return m.store.GetTransitions(taskID)
}

func (m *StateMachine) taskLock(taskID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[taskID] = lock
	}
	return lock
}

func (m *StateMachine) releaseLock(taskID string) {
	m.mu.Lock()
	delete(m.locks, taskID)
	m.mu.Unlock()
}

func (m *StateMachine) publish(ctx context.Context, rec *task.TransitionRecord) {
	if m.bus == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = m.bus.Publish(ctx, bus.TaskStateSubject(rec.TaskID), data)
}
