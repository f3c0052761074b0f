package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/foreman/pkg/task"
)

// MemoryStore implements TaskStore in memory, for tests and ephemeral runs.
type MemoryStore struct {
	mu             sync.RWMutex
	tasks          map[string]*task.Task
	order          []string
	events         map[string][]task.TransitionRecord
	clarifications map[string]map[task.ContextType]*task.ClarificationContext
	runs           map[string][]task.TestRun
	nextEventID    int64
}

var _ TaskStore = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:          make(map[string]*task.Task),
		events:         make(map[string][]task.TransitionRecord),
		clarifications: make(map[string]map[task.ContextType]*task.ClarificationContext),
		runs:           make(map[string][]task.TestRun),
	}
}

func (m *MemoryStore) CreateTask(t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		return fmt.Errorf("task id required")
	}
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.State == "" {
		t.State = task.StateBacklog
	}
	clone := *t
	m.tasks[t.ID] = &clone
	m.order = append(m.order, t.ID)
	return nil
}

func (m *MemoryStore) GetTask(id string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (m *MemoryStore) ListTasks() ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := make([]*task.Task, 0, len(m.order))
	for _, id := range m.order {
		if t, ok := m.tasks[id]; ok && !t.Archived {
			clone := *t
			tasks = append(tasks, &clone)
		}
	}
	return tasks, nil
}

func (m *MemoryStore) SaveTask(t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	clone := *t
	m.tasks[t.ID] = &clone
	return nil
}

func (m *MemoryStore) ArchiveTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.Archived = true
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) AppendTransition(rec *task.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	m.nextEventID++
	rec.ID = m.nextEventID
	m.events[rec.TaskID] = append(m.events[rec.TaskID], *rec)
	return nil
}

func (m *MemoryStore) GetTransitions(taskID string) ([]task.TransitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]task.TransitionRecord, len(m.events[taskID]))
	copy(records, m.events[taskID])
	return records, nil
}

func (m *MemoryStore) SaveClarification(taskID string, cc *task.ClarificationContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cc.Timestamp.IsZero() {
		cc.Timestamp = time.Now().UTC()
	}
	byType, ok := m.clarifications[taskID]
	if !ok {
		byType = make(map[task.ContextType]*task.ClarificationContext)
		m.clarifications[taskID] = byType
	}
	clone := *cc
	byType[cc.ContextType] = &clone
	return nil
}

func (m *MemoryStore) GetClarification(taskID string, contextType task.ContextType) (*task.ClarificationContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if byType, ok := m.clarifications[taskID]; ok {
		if cc, ok := byType[contextType]; ok {
			clone := *cc
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) SaveTestRun(taskID string, run task.TestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[taskID] = append(m.runs[taskID], run)
	return nil
}

func (m *MemoryStore) GetTestRuns(taskID string) ([]task.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]task.TestRun, len(m.runs[taskID]))
	copy(runs, m.runs[taskID])
	return runs, nil
}
