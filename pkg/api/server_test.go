package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/foreman/pkg/bus"
	"github.com/odvcencio/foreman/pkg/storage"
	"github.com/odvcencio/foreman/pkg/task"
	"github.com/odvcencio/foreman/pkg/telemetry"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore, bus.MessageBus, *QuestionRegistry) {
	t.Helper()
	store := storage.NewMemoryStore()
	memBus := bus.NewMemoryBus()
	t.Cleanup(func() { memBus.Close() })
	hub := telemetry.NewHub()
	t.Cleanup(hub.Close)
	registry := NewQuestionRegistry()
	server := NewServer("127.0.0.1:0", store, memBus, hub, registry)
	return server, store, memBus, registry
}

func TestHealthz(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListAndGetTasks(t *testing.T) {
	server, store, _, _ := newTestServer(t)
	require.NoError(t, store.CreateTask(&task.Task{ID: "t-1", Title: "first", State: task.StatePlanning}))
	require.NoError(t, store.CreateTask(&task.Task{ID: "t-2", Title: "second"}))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks []task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 2)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/t-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "first", got.Title)
	assert.Equal(t, task.StatePlanning, got.State)
}

func TestGetTaskNotFound(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTransitions(t *testing.T) {
	server, store, _, _ := newTestServer(t)
	require.NoError(t, store.CreateTask(&task.Task{ID: "t-1", Title: "first"}))
	require.NoError(t, store.AppendTransition(&task.TransitionRecord{
		TaskID: "t-1",
		Event:  task.EventPlanningStarted,
		From:   task.StateBacklog,
		To:     task.StatePlanning,
	}))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/t-1/transitions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var recs []task.TransitionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, task.EventPlanningStarted, recs[0].Event)
}

func TestGetQuestions(t *testing.T) {
	server, store, _, registry := newTestServer(t)
	require.NoError(t, store.CreateTask(&task.Task{ID: "t-1", Title: "first"}))

	registry.Set("t-1", task.ContextReviewScope, []task.Question{
		{ID: "q-1", Index: 0, Prompt: "focus?", Default: "all"},
	})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/t-1/questions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var pending map[task.ContextType][]task.Question
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending[task.ContextReviewScope], 1)
	assert.Equal(t, "focus?", pending[task.ContextReviewScope][0].Prompt)

	registry.Clear("t-1", task.ContextReviewScope)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/t-1/questions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestPostAnswersRelaysToBus(t *testing.T) {
	server, store, memBus, _ := newTestServer(t)
	require.NoError(t, store.CreateTask(&task.Task{ID: "t-1", Title: "first"}))

	received := make(chan []byte, 1)
	sub, err := memBus.Subscribe(context.Background(), bus.ClarifySubject("t-1", task.ContextReviewScope), func(msg *bus.Message) []byte {
		received <- msg.Data
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	body := `{"context":"review-scope","question_id":"q-1","value":"security"}`
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/t-1/answers", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case data := <-received:
		var answer struct {
			QuestionID string `json:"question_id"`
			Value      string `json:"value"`
			Abort      bool   `json:"abort"`
		}
		require.NoError(t, json.Unmarshal(data, &answer))
		assert.Equal(t, "q-1", answer.QuestionID)
		assert.Equal(t, "security", answer.Value)
		assert.False(t, answer.Abort)
	case <-time.After(time.Second):
		t.Fatal("answer never reached the bus")
	}
}

func TestPostAnswersValidation(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing context", `{"value":"x"}`},
		{"empty answer", `{"context":"review-scope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/t-1/answers", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPostAnswersAbort(t *testing.T) {
	server, _, memBus, _ := newTestServer(t)

	received := make(chan []byte, 1)
	sub, err := memBus.Subscribe(context.Background(), bus.ClarifySubject("t-1", task.ContextImplPlanning), func(msg *bus.Message) []byte {
		received <- msg.Data
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	body := `{"context":"implementation-planning","abort":true}`
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/t-1/answers", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case data := <-received:
		var answer struct {
			Abort bool `json:"abort"`
		}
		require.NoError(t, json.Unmarshal(data, &answer))
		assert.True(t, answer.Abort)
	case <-time.After(time.Second):
		t.Fatal("abort never reached the bus")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
