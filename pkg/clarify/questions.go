package clarify

import (
	"context"
	"fmt"

	"github.com/odvcencio/foreman/pkg/task"
)

// Registry is where open questions are published for external answerers.
type Registry interface {
	Set(taskID string, contextType task.ContextType, questions []task.Question)
	Clear(taskID string, contextType task.ContextType)
}

// CriteriaQuestionSource derives clarification questions from a task's
// acceptance criteria and description. Each context type asks about a
// different facet of the work; every question carries a safe default so
// quick and defaults modes always resolve.
type CriteriaQuestionSource struct {
	registry Registry
}

// NewCriteriaQuestionSource creates a source. registry may be nil.
func NewCriteriaQuestionSource(registry Registry) *CriteriaQuestionSource {
	return &CriteriaQuestionSource{registry: registry}
}

// Questions produces the pass's questions and publishes them to the
// registry for answerers to see.
func (s *CriteriaQuestionSource) Questions(ctx context.Context, t *task.Task, contextType task.ContextType) ([]task.Question, error) {
	var questions []task.Question
	switch contextType {
	case task.ContextReviewScope:
		questions = []task.Question{
			{
				ID:      NewQuestionID(),
				Index:   0,
				Prompt:  "Which areas should the review focus on?",
				Options: []string{"correctness", "security", "performance", "all"},
				Default: "all",
			},
		}
	case task.ContextImplPreferences:
		questions = []task.Question{
			{
				ID:      NewQuestionID(),
				Index:   0,
				Prompt:  "Prefer minimal change or broader refactor?",
				Options: []string{"minimal", "refactor"},
				Default: "minimal",
			},
			{
				ID:      NewQuestionID(),
				Index:   1,
				Prompt:  "Should new behavior be feature-flagged?",
				Options: []string{"yes", "no"},
				Default: "no",
			},
		}
	case task.ContextImplPlanning:
		for i, criterion := range t.AcceptanceCriteria {
			questions = append(questions, task.Question{
				ID:      NewQuestionID(),
				Index:   i,
				Prompt:  fmt.Sprintf("Is this criterion in scope for the first pass: %q?", criterion),
				Options: []string{"yes", "no"},
				Default: "yes",
			})
		}
	default:
		return nil, fmt.Errorf("unknown clarification context %q", contextType)
	}

	if s.registry != nil && len(questions) > 0 {
		s.registry.Set(t.ID, contextType, questions)
	}
	return questions, nil
}

// Resolve clears a session's published questions once it completes.
func (s *CriteriaQuestionSource) Resolve(taskID string, contextType task.ContextType) {
	if s.registry != nil {
		s.registry.Clear(taskID, contextType)
	}
}
