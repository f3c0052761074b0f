package clarify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/foreman/pkg/bus"
	"github.com/odvcencio/foreman/pkg/orchestrator"
	"github.com/odvcencio/foreman/pkg/storage"
	"github.com/odvcencio/foreman/pkg/task"
)

// Answer is one inbound reply to a pending question. Abort applies to the
// whole session, not a single question.
type Answer struct {
	QuestionID string `json:"question_id"`
	Index      int    `json:"index"`
	Value      string `json:"value"`
	Abort      bool   `json:"abort,omitempty"`
}

// AnswerSource delivers user answers for one task/context session. Wait
// blocks until an answer arrives, the context is cancelled, or the source
// is exhausted.
type AnswerSource interface {
	Wait(ctx context.Context) (Answer, error)
	Close() error
}

// QuestionSource produces the questions for one context type. A nil or
// empty slice means the pass has nothing to ask.
type QuestionSource interface {
	Questions(ctx context.Context, t *task.Task, contextType task.ContextType) ([]task.Question, error)
}

// Collector runs clarification sessions and persists their outcomes.
type Collector struct {
	gate      *Gate
	store     storage.TaskStore
	questions QuestionSource
	answers   func(taskID string, contextType task.ContextType) (AnswerSource, error)
}

// NewCollector wires a collector. openAnswers is invoked once per quick or
// full session to open the answering channel.
func NewCollector(gate *Gate, store storage.TaskStore, questions QuestionSource, openAnswers func(taskID string, contextType task.ContextType) (AnswerSource, error)) *Collector {
	return &Collector{
		gate:      gate,
		store:     store,
		questions: questions,
		answers:   openAnswers,
	}
}

// Collect resolves one clarification pass. A cached context for the same
// context type is reused unless flags.Reclarify is set; re-collection
// overwrites the stored record, it never merges.
//
// Quick mode races the answering channel against the configured timeout and
// falls back to defaults for anything unanswered. Full mode waits
// indefinitely; the only exits are complete answers, context cancellation,
// or an explicit abort, which returns orchestrator.ErrClarificationAborted
// with an empty aborted context.
func (c *Collector) Collect(ctx context.Context, t *task.Task, contextType task.ContextType, complexity int, flags task.Flags) (*task.ClarificationContext, error) {
	if !flags.Reclarify {
		cached, err := c.store.GetClarification(t.ID, contextType)
		if err == nil && cached != nil && !cached.Aborted {
			return cached, nil
		}
	}

	mode := c.gate.Decide(contextType, complexity, flags)

	cc := &task.ClarificationContext{
		ContextType: contextType,
		Mode:        mode,
		Timestamp:   time.Now().UTC(),
	}

	if mode == task.ClarifySkip {
		return c.save(t.ID, cc)
	}

	if mode == task.ClarifyDefaults {
		questions, err := c.questions.Questions(ctx, t, contextType)
		if err != nil {
			return nil, fmt.Errorf("generate %s questions: %w", contextType, err)
		}
		if len(questions) == 0 {
			return c.save(t.ID, cc)
		}
		cc.Decisions = applyDefaults(questions, flags.Answers)
		return c.save(t.ID, cc)
	}

	// The answering channel must exist before questions become visible:
	// an answer posted the instant a question is published would otherwise
	// be lost, and in quick mode silently defaulted.
	source, err := c.answers(t.ID, contextType)
	if err != nil {
		return nil, fmt.Errorf("open answer channel: %w", err)
	}
	defer source.Close()

	questions, err := c.questions.Questions(ctx, t, contextType)
	if err != nil {
		return nil, fmt.Errorf("generate %s questions: %w", contextType, err)
	}
	if len(questions) == 0 {
		return c.save(t.ID, cc)
	}

	switch mode {
	case task.ClarifyQuick:
		quickCtx, cancel := context.WithTimeout(ctx, c.gate.quickTimeout)
		defer cancel()
		decisions, err := c.await(quickCtx, source, t.ID, contextType, task.ClarifyQuick, questions)
		if err != nil {
			if quickCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				// Timeout is not an error in quick mode: unanswered
				// questions fall back to their defaults.
				cc.Decisions = fillDefaults(questions, decisions)
				return c.save(t.ID, cc)
			}
			return nil, err
		}
		cc.Decisions = decisions
		return c.save(t.ID, cc)
	case task.ClarifyFull:
		decisions, err := c.await(ctx, source, t.ID, contextType, task.ClarifyFull, questions)
		if err != nil {
			return nil, err
		}
		cc.Decisions = decisions
		return c.save(t.ID, cc)
	default:
		return nil, fmt.Errorf("unknown clarification mode %q", mode)
	}
}

// await drives one interactive session, collecting answers until every
// question is resolved or the context ends. An abort answer persists an
// empty aborted context and returns ErrClarificationAborted.
func (c *Collector) await(ctx context.Context, source AnswerSource, taskID string, contextType task.ContextType, mode task.ClarificationMode, questions []task.Question) ([]task.Decision, error) {
	byID := make(map[string]task.Question, len(questions))
	byIndex := make(map[int]task.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
		byIndex[q.Index] = q
	}

	answered := make(map[string]task.Decision)
	for len(answered) < len(questions) {
		answer, err := source.Wait(ctx)
		if err != nil {
			return decisionsInOrder(questions, answered), err
		}
		if answer.Abort {
			aborted := &task.ClarificationContext{
				ContextType: contextType,
				Mode:        mode,
				Aborted:     true,
				Timestamp:   time.Now().UTC(),
			}
			if _, serr := c.save(taskID, aborted); serr != nil {
				return nil, serr
			}
			return nil, fmt.Errorf("task %s %s: %w", taskID, contextType, orchestrator.ErrClarificationAborted)
		}

		q, ok := byID[answer.QuestionID]
		if !ok {
			q, ok = byIndex[answer.Index]
		}
		if !ok {
			continue
		}
		answered[q.ID] = task.Decision{QuestionID: q.ID, Answer: answer.Value}
	}
	return decisionsInOrder(questions, answered), nil
}

func (c *Collector) save(taskID string, cc *task.ClarificationContext) (*task.ClarificationContext, error) {
	if err := c.store.SaveClarification(taskID, cc); err != nil {
		return nil, fmt.Errorf("save clarification %s/%s: %w", taskID, cc.ContextType, err)
	}
	if r, ok := c.questions.(interface {
		Resolve(taskID string, contextType task.ContextType)
	}); ok {
		r.Resolve(taskID, cc.ContextType)
	}
	return cc, nil
}

// applyDefaults resolves every question without prompting, preferring any
// pre-supplied answer over the question's default.
func applyDefaults(questions []task.Question, supplied map[int]string) []task.Decision {
	decisions := make([]task.Decision, 0, len(questions))
	for _, q := range questions {
		if answer, ok := supplied[q.Index]; ok {
			decisions = append(decisions, task.Decision{QuestionID: q.ID, Answer: answer})
			continue
		}
		decisions = append(decisions, task.Decision{QuestionID: q.ID, Answer: q.Default, WasDefault: true})
	}
	return decisions
}

// fillDefaults completes a partial answer set with defaults after a quick
// timeout.
func fillDefaults(questions []task.Question, partial []task.Decision) []task.Decision {
	have := make(map[string]task.Decision, len(partial))
	for _, d := range partial {
		have[d.QuestionID] = d
	}
	decisions := make([]task.Decision, 0, len(questions))
	for _, q := range questions {
		if d, ok := have[q.ID]; ok {
			decisions = append(decisions, d)
			continue
		}
		decisions = append(decisions, task.Decision{QuestionID: q.ID, Answer: q.Default, WasDefault: true})
	}
	return decisions
}

func decisionsInOrder(questions []task.Question, answered map[string]task.Decision) []task.Decision {
	decisions := make([]task.Decision, 0, len(answered))
	for _, q := range questions {
		if d, ok := answered[q.ID]; ok {
			decisions = append(decisions, d)
		}
	}
	return decisions
}

// NewQuestionID mints a stable identifier for a freshly generated question.
func NewQuestionID() string {
	return uuid.NewString()
}

// BusAnswerSource subscribes to a task's clarify subject and surfaces
// inbound answers. It is the bridge between the API's answer endpoint and a
// waiting session.
type BusAnswerSource struct {
	sub     bus.Subscription
	answers chan Answer
}

// OpenBusAnswerSource subscribes on the clarify subject for one session.
func OpenBusAnswerSource(ctx context.Context, messageBus bus.MessageBus, taskID string, contextType task.ContextType) (*BusAnswerSource, error) {
	s := &BusAnswerSource{answers: make(chan Answer, 16)}
	sub, err := messageBus.Subscribe(ctx, bus.ClarifySubject(taskID, contextType), func(msg *bus.Message) []byte {
		var answer Answer
		if err := json.Unmarshal(msg.Data, &answer); err != nil {
			return nil
		}
		select {
		case s.answers <- answer:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe clarify subject: %w", err)
	}
	s.sub = sub
	return s, nil
}

// Wait blocks for the next inbound answer.
func (s *BusAnswerSource) Wait(ctx context.Context) (Answer, error) {
	select {
	case answer := <-s.answers:
		return answer, nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}

// Close tears down the subject subscription.
func (s *BusAnswerSource) Close() error {
	return s.sub.Unsubscribe()
}
