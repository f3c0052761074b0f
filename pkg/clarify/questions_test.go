package clarify

import (
	"context"
	"testing"

	"github.com/odvcencio/foreman/pkg/task"
)

type fakeRegistry struct {
	set     map[string][]task.Question
	cleared []string
}

func (f *fakeRegistry) Set(taskID string, contextType task.ContextType, questions []task.Question) {
	if f.set == nil {
		f.set = make(map[string][]task.Question)
	}
	f.set[taskID+"/"+string(contextType)] = questions
}

func (f *fakeRegistry) Clear(taskID string, contextType task.ContextType) {
	f.cleared = append(f.cleared, taskID+"/"+string(contextType))
}

func TestCriteriaQuestionsPerContext(t *testing.T) {
	source := NewCriteriaQuestionSource(nil)
	tsk := &task.Task{
		ID:                 "t-1",
		AcceptanceCriteria: []string{"responds in under 100ms", "handles empty input"},
	}

	tests := []struct {
		context task.ContextType
		want    int
	}{
		{task.ContextReviewScope, 1},
		{task.ContextImplPreferences, 2},
		{task.ContextImplPlanning, 2},
	}
	for _, tt := range tests {
		questions, err := source.Questions(context.Background(), tsk, tt.context)
		if err != nil {
			t.Fatalf("Questions(%s): %v", tt.context, err)
		}
		if len(questions) != tt.want {
			t.Errorf("Questions(%s) = %d questions, want %d", tt.context, len(questions), tt.want)
		}
		for _, q := range questions {
			if q.ID == "" {
				t.Errorf("question %q has no id", q.Prompt)
			}
			if q.Default == "" {
				t.Errorf("question %q has no default; quick mode could not resolve it", q.Prompt)
			}
		}
	}
}

func TestCriteriaQuestionsPublishToRegistry(t *testing.T) {
	registry := &fakeRegistry{}
	source := NewCriteriaQuestionSource(registry)
	tsk := &task.Task{ID: "t-1"}

	if _, err := source.Questions(context.Background(), tsk, task.ContextReviewScope); err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if len(registry.set["t-1/review-scope"]) != 1 {
		t.Error("questions not published to the registry")
	}

	source.Resolve("t-1", task.ContextReviewScope)
	if len(registry.cleared) != 1 {
		t.Error("Resolve did not clear the registry")
	}
}

func TestCriteriaQuestionsUnknownContext(t *testing.T) {
	source := NewCriteriaQuestionSource(nil)
	if _, err := source.Questions(context.Background(), &task.Task{ID: "t-1"}, "mystery"); err == nil {
		t.Error("unknown context should error")
	}
}
