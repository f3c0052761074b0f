// Package bus provides the message bus the engine uses for event fan-out and
// for the clarification answer channel. The default implementation is
// in-memory; a NATS backing is available for multi-process deployments.
//
// Subjects:
//
//	foreman.task.<id>.state        state machine transitions
//	foreman.task.<id>.decision     review routing decisions
//	foreman.clarify.<id>.<context> clarification answers for a task/context
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/foreman/pkg/task"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when no subscribers are available to handle a request.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is the engine's communication fabric.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The handler is called in a separate goroutine for each message.
	// Supports wildcards: "foreman.task.*" matches "foreman.task.abc".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a single response.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
// For request/reply, return data to send as response; return nil for no response.
type MessageHandler func(msg *Message) []byte

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string // Set if sender expects a response
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Ignored for the in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the default timeout for operations.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "foreman",
		Timeout: 30 * time.Second,
	}
}

// TaskStateSubject is the subject carrying transition events for a task.
func TaskStateSubject(taskID string) string {
	return fmt.Sprintf("foreman.task.%s.state", taskID)
}

// TaskDecisionSubject is the subject carrying routing decisions for a task.
func TaskDecisionSubject(taskID string) string {
	return fmt.Sprintf("foreman.task.%s.decision", taskID)
}

// ClarifySubject is the subject carrying clarification answers for one
// task/context pair.
func ClarifySubject(taskID string, contextType task.ContextType) string {
	return fmt.Sprintf("foreman.clarify.%s.%s", taskID, contextType)
}

// TaskSubmitSubject is the intake subject where new work is submitted.
const TaskSubmitSubject = "foreman.task.submit"

// CapabilitySubject is the request/reply subject a worker serves for one
// capability kind ("implement", "test", "fix", "review").
func CapabilitySubject(kind, taskID string) string {
	return fmt.Sprintf("foreman.capability.%s.%s", kind, taskID)
}
