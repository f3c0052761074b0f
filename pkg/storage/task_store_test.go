package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/foreman/pkg/task"
)

// storeImpls runs the same contract tests over both TaskStore backends.
func storeImpls(t *testing.T) map[string]TaskStore {
	t.Helper()
	sqlite, err := New(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]TaskStore{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func sampleTask() *task.Task {
	return &task.Task{
		ID:                 "task-42",
		Title:              "add cursor pagination",
		Description:        "list endpoint returns everything at once",
		AcceptanceCriteria: []string{"page size respected", "stable ordering"},
		Tags:               []string{"api", "hotfix"},
	}
}

func TestTaskRoundTrip(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateTask(sampleTask()))

			got, err := store.GetTask("task-42")
			require.NoError(t, err)
			assert.Equal(t, "add cursor pagination", got.Title)
			assert.Equal(t, task.StateBacklog, got.State)
			assert.Equal(t, []string{"page size respected", "stable ordering"}, got.AcceptanceCriteria)
			assert.True(t, got.HasTag("hotfix"))
			assert.False(t, got.CreatedAt.IsZero())
		})
	}
}

func TestGetTaskNotFound(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetTask("missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCreateTaskDuplicateID(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateTask(sampleTask()))
			assert.Error(t, store.CreateTask(sampleTask()))
		})
	}
}

func TestSaveTaskPersistsFrontMatter(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateTask(sampleTask()))

			got, err := store.GetTask("task-42")
			require.NoError(t, err)
			got.State = task.StatePlanning
			got.FrontMatter.Complexity = &task.ComplexityEvaluation{
				Score: 7,
				Mode:  task.ReviewFullRequired,
				Triggers: []task.ForceTrigger{
					task.TriggerHotfix,
				},
			}
			require.NoError(t, store.SaveTask(got))

			reloaded, err := store.GetTask("task-42")
			require.NoError(t, err)
			assert.Equal(t, task.StatePlanning, reloaded.State)
			require.NotNil(t, reloaded.FrontMatter.Complexity)
			assert.Equal(t, 7, reloaded.FrontMatter.Complexity.Score)
			assert.Equal(t, task.ReviewFullRequired, reloaded.FrontMatter.Complexity.Mode)
		})
	}
}

func TestSaveTaskUnknownID(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			err := store.SaveTask(&task.Task{ID: "ghost", State: task.StateDone})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestArchiveHidesFromList(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateTask(sampleTask()))
			require.NoError(t, store.CreateTask(&task.Task{ID: "task-43", Title: "second"}))

			require.NoError(t, store.ArchiveTask("task-42"))

			tasks, err := store.ListTasks()
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, "task-43", tasks[0].ID)

			// Archived, not deleted: direct lookup still works.
			archived, err := store.GetTask("task-42")
			require.NoError(t, err)
			assert.True(t, archived.Archived)
		})
	}
}

func TestTransitionLogOrder(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateTask(sampleTask()))

			events := []task.Event{
				task.EventPlanningStarted,
				task.EventPlanApproved,
				task.EventClarificationComplete,
			}
			states := [][2]task.State{
				{task.StateBacklog, task.StatePlanning},
				{task.StatePlanning, task.StateAwaitingClarification},
				{task.StateAwaitingClarification, task.StateImplementing},
			}
			for i, event := range events {
				require.NoError(t, store.AppendTransition(&task.TransitionRecord{
					TaskID: "task-42",
					Event:  event,
					From:   states[i][0],
					To:     states[i][1],
				}))
			}

			recs, err := store.GetTransitions("task-42")
			require.NoError(t, err)
			require.Len(t, recs, 3)
			for i, rec := range recs {
				assert.Equal(t, events[i], rec.Event)
				assert.False(t, rec.Timestamp.IsZero())
			}
		})
	}
}

func TestClarificationUpsertOverwrites(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateTask(sampleTask()))

			first := &task.ClarificationContext{
				ContextType: task.ContextReviewScope,
				Mode:        task.ClarifyQuick,
				Decisions: []task.Decision{
					{QuestionID: "q1", Answer: "all", WasDefault: true},
					{QuestionID: "q2", Answer: "no", WasDefault: true},
				},
			}
			require.NoError(t, store.SaveClarification("task-42", first))

			second := &task.ClarificationContext{
				ContextType: task.ContextReviewScope,
				Mode:        task.ClarifyFull,
				Decisions: []task.Decision{
					{QuestionID: "q9", Answer: "security"},
				},
			}
			require.NoError(t, store.SaveClarification("task-42", second))

			got, err := store.GetClarification("task-42", task.ContextReviewScope)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, task.ClarifyFull, got.Mode)
			require.Len(t, got.Decisions, 1)
			assert.Equal(t, "q9", got.Decisions[0].QuestionID)
		})
	}
}

func TestClarificationContextsAreIndependent(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateTask(sampleTask()))

			require.NoError(t, store.SaveClarification("task-42", &task.ClarificationContext{
				ContextType: task.ContextReviewScope,
				Mode:        task.ClarifySkip,
			}))

			got, err := store.GetClarification("task-42", task.ContextImplPlanning)
			require.NoError(t, err)
			assert.Nil(t, got, "other context types must stay empty")
		})
	}
}

func TestTestRunHistory(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateTask(sampleTask()))

			runs := []task.TestRun{
				{Attempt: 1, PassCount: 10, FailCount: 2, Duration: 3 * time.Second},
				{Attempt: 2, PassCount: 12, CoverageLines: 81.5, Duration: 2 * time.Second},
			}
			for _, run := range runs {
				require.NoError(t, store.SaveTestRun("task-42", run))
			}

			got, err := store.GetTestRuns("task-42")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, 1, got[0].Attempt)
			assert.False(t, got[0].Passed())
			assert.True(t, got[1].Passed())
			assert.InDelta(t, 81.5, got[1].CoverageLines, 0.01)
			assert.Equal(t, 2*time.Second, got[1].Duration)
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetSetting("schema_version", "1"))
	require.NoError(t, store.SetSetting("schema_version", "2"))

	got, err := store.GetSetting("schema_version")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}
