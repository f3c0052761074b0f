// Package telemetry fans engine events out to in-process subscribers and
// exposes tracing helpers for the pipeline stages.
package telemetry

import (
	"sync"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventTaskCreated           EventType = "task.created"
	EventTaskScored            EventType = "task.scored"
	EventTaskRouted            EventType = "task.routed"
	EventClarificationStarted  EventType = "clarification.started"
	EventClarificationResolved EventType = "clarification.resolved"
	EventClarificationAborted  EventType = "clarification.aborted"
	EventVerifyStarted         EventType = "verify.started"
	EventVerifyAttempt         EventType = "verify.attempt"
	EventVerifyConverged       EventType = "verify.converged"
	EventVerifyExhausted       EventType = "verify.exhausted"
	EventQualityEvaluated      EventType = "quality.evaluated"
	EventStateChanged          EventType = "state.changed"
	EventTaskBlocked           EventType = "task.blocked"
	EventTaskDone              EventType = "task.done"
)

// Event describes engine telemetry that UIs and API clients can consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"taskId,omitempty"`
	PlanID    string         `json:"planId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fan-outs telemetry events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if buffer full.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Drop if subscriber can't keep up; prevents blocking the pipeline.
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, 64)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
}
