// Package api exposes the engine over HTTP: task inspection, clarification
// answers, telemetry streaming, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/foreman/pkg/bus"
	"github.com/odvcencio/foreman/pkg/storage"
	"github.com/odvcencio/foreman/pkg/task"
	"github.com/odvcencio/foreman/pkg/telemetry"
)

// QuestionRegistry holds the questions currently awaiting answers, keyed by
// task and context type. The engine registers questions when a session
// opens and clears them when it resolves.
type QuestionRegistry struct {
	mu      sync.RWMutex
	pending map[string]map[task.ContextType][]task.Question
}

// NewQuestionRegistry creates an empty registry.
func NewQuestionRegistry() *QuestionRegistry {
	return &QuestionRegistry{pending: make(map[string]map[task.ContextType][]task.Question)}
}

// Set registers the open questions for one task/context session.
func (r *QuestionRegistry) Set(taskID string, contextType task.ContextType, questions []task.Question) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byContext, ok := r.pending[taskID]
	if !ok {
		byContext = make(map[task.ContextType][]task.Question)
		r.pending[taskID] = byContext
	}
	byContext[contextType] = questions
}

// Clear drops a resolved session's questions.
func (r *QuestionRegistry) Clear(taskID string, contextType task.ContextType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byContext, ok := r.pending[taskID]; ok {
		delete(byContext, contextType)
		if len(byContext) == 0 {
			delete(r.pending, taskID)
		}
	}
}

// Get returns all open questions for a task, grouped by context type.
func (r *QuestionRegistry) Get(taskID string) map[task.ContextType][]task.Question {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byContext, ok := r.pending[taskID]
	if !ok {
		return nil
	}
	out := make(map[task.ContextType][]task.Question, len(byContext))
	for ct, qs := range byContext {
		out[ct] = append([]task.Question(nil), qs...)
	}
	return out
}

// Server is the engine's HTTP surface.
type Server struct {
	store     storage.TaskStore
	bus       bus.MessageBus
	hub       *telemetry.Hub
	questions *QuestionRegistry
	http      *http.Server
}

// NewServer builds the server and its route table.
func NewServer(addr string, store storage.TaskStore, messageBus bus.MessageBus, hub *telemetry.Hub, questions *QuestionRegistry) *Server {
	s := &Server{
		store:     store,
		bus:       messageBus,
		hub:       hub,
		questions: questions,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/tasks", s.handleListTasks)
	r.Get("/tasks/{id}", s.handleGetTask)
	r.Get("/tasks/{id}/transitions", s.handleGetTransitions)
	r.Get("/tasks/{id}/questions", s.handleGetQuestions)
	r.Post("/tasks/{id}/answers", s.handlePostAnswers)
	r.Get("/events", s.handleEvents)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetTransitions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.GetTransitions(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetQuestions(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if _, err := s.store.GetTask(taskID); errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	pending := s.questions.Get(taskID)
	if pending == nil {
		pending = map[task.ContextType][]task.Question{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// answerRequest is the POST /tasks/{id}/answers body. Answers are relayed
// to the waiting clarification session over the bus.
type answerRequest struct {
	Context    task.ContextType `json:"context"`
	QuestionID string           `json:"question_id,omitempty"`
	Index      int              `json:"index,omitempty"`
	Value      string           `json:"value,omitempty"`
	Abort      bool             `json:"abort,omitempty"`
}

func (s *Server) handlePostAnswers(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Context == "" {
		writeError(w, http.StatusBadRequest, errors.New("context is required"))
		return
	}
	if !req.Abort && req.QuestionID == "" && req.Index == 0 && req.Value == "" {
		writeError(w, http.StatusBadRequest, errors.New("answer or abort is required"))
		return
	}

	payload, err := json.Marshal(map[string]any{
		"question_id": req.QuestionID,
		"index":       req.Index,
		"value":       req.Value,
		"abort":       req.Abort,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.bus.Publish(r.Context(), bus.ClarifySubject(taskID, req.Context), payload); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleEvents streams telemetry as server-sent events until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	events, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
