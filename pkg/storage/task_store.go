package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/foreman/pkg/task"
)

// TaskStore is the persistence surface the state machine and gates depend
// on. The SQLite Store is the production implementation; MemoryStore backs
// tests and ephemeral runs.
type TaskStore interface {
	CreateTask(t *task.Task) error
	GetTask(id string) (*task.Task, error)
	ListTasks() ([]*task.Task, error)
	SaveTask(t *task.Task) error
	ArchiveTask(id string) error

	AppendTransition(rec *task.TransitionRecord) error
	GetTransitions(taskID string) ([]task.TransitionRecord, error)

	SaveClarification(taskID string, cc *task.ClarificationContext) error
	GetClarification(taskID string, contextType task.ContextType) (*task.ClarificationContext, error)

	SaveTestRun(taskID string, run task.TestRun) error
	GetTestRuns(taskID string) ([]task.TestRun, error)
}

var _ TaskStore = (*Store)(nil)

// CreateTask inserts a new task row. Fails when the id already exists.
func (s *Store) CreateTask(t *task.Task) error {
	if t.ID == "" {
		return fmt.Errorf("task id required")
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.State == "" {
		t.State = task.StateBacklog
	}

	acceptance, err := json.Marshal(t.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("failed to marshal acceptance criteria: %w", err)
	}
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	front, err := json.Marshal(t.FrontMatter)
	if err != nil {
		return fmt.Errorf("failed to marshal front matter: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO tasks (id, title, description, acceptance, tags, state, front_matter, archived, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(acceptance), string(tags),
		string(t.State), string(front), boolToInt(t.Archived), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// GetTask loads a task row by id.
func (s *Store) GetTask(id string) (*task.Task, error) {
	row := s.db.QueryRow(
		`SELECT id, title, description, acceptance, tags, state, front_matter, archived, created_at, updated_at
		 FROM tasks WHERE id = ?`, id,
	)
	return scanTask(row)
}

// ListTasks returns all non-archived tasks ordered by creation time.
func (s *Store) ListTasks() ([]*task.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, title, description, acceptance, tags, state, front_matter, archived, created_at, updated_at
		 FROM tasks WHERE archived = 0 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveTask persists state and front matter for an existing task.
func (s *Store) SaveTask(t *task.Task) error {
	t.UpdatedAt = time.Now().UTC()
	front, err := json.Marshal(t.FrontMatter)
	if err != nil {
		return fmt.Errorf("failed to marshal front matter: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE tasks SET state = ?, front_matter = ?, archived = ?, updated_at = ? WHERE id = ?`,
		string(t.State), string(front), boolToInt(t.Archived), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveTask marks a task archived. Tasks are never deleted.
func (s *Store) ArchiveTask(id string) error {
	_, err := s.db.Exec(`UPDATE tasks SET archived = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// AppendTransition appends one entry to the task's event log.
func (s *Store) AppendTransition(rec *task.TransitionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO task_events (task_id, event, from_state, to_state, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TaskID, string(rec.Event), string(rec.From), string(rec.To), rec.Reason, rec.Timestamp,
	)
	if err != nil {
		return err
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// GetTransitions returns the event log for a task in chronological order.
func (s *Store) GetTransitions(taskID string) ([]task.TransitionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, event, from_state, to_state, reason, created_at
		 FROM task_events WHERE task_id = ? ORDER BY id ASC`, taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []task.TransitionRecord
	for rows.Next() {
		var rec task.TransitionRecord
		var event, from, to string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &event, &from, &to, &rec.Reason, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Event = task.Event(event)
		rec.From = task.State(from)
		rec.To = task.State(to)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveClarification stores a clarification context, replacing any prior
// context for the same task/context pair. Replacement is whole-record:
// re-collection overwrites, never merges.
func (s *Store) SaveClarification(taskID string, cc *task.ClarificationContext) error {
	decisions, err := json.Marshal(cc.Decisions)
	if err != nil {
		return fmt.Errorf("failed to marshal decisions: %w", err)
	}
	if cc.Timestamp.IsZero() {
		cc.Timestamp = time.Now().UTC()
	}
	_, err = s.db.Exec(
		`INSERT INTO clarification_contexts (task_id, context_type, mode, decisions, aborted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id, context_type) DO UPDATE SET
		   mode = excluded.mode,
		   decisions = excluded.decisions,
		   aborted = excluded.aborted,
		   created_at = excluded.created_at`,
		taskID, string(cc.ContextType), string(cc.Mode), string(decisions), boolToInt(cc.Aborted), cc.Timestamp,
	)
	return err
}

// GetClarification loads a cached clarification context, or nil when none
// has been collected for the task/context pair.
func (s *Store) GetClarification(taskID string, contextType task.ContextType) (*task.ClarificationContext, error) {
	var (
		mode      string
		decisions string
		aborted   int
		created   time.Time
	)
	err := s.db.QueryRow(
		`SELECT mode, decisions, aborted, created_at FROM clarification_contexts
		 WHERE task_id = ? AND context_type = ?`, taskID, string(contextType),
	).Scan(&mode, &decisions, &aborted, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cc := &task.ClarificationContext{
		ContextType: contextType,
		Mode:        task.ClarificationMode(mode),
		Aborted:     aborted != 0,
		Timestamp:   created,
	}
	if err := json.Unmarshal([]byte(decisions), &cc.Decisions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decisions: %w", err)
	}
	return cc, nil
}

// SaveTestRun appends one test run to the task's history.
func (s *Store) SaveTestRun(taskID string, run task.TestRun) error {
	_, err := s.db.Exec(
		`INSERT INTO test_runs (task_id, attempt, pass_count, fail_count, coverage_lines, coverage_branches, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, run.Attempt, run.PassCount, run.FailCount,
		run.CoverageLines, run.CoverageBranches, run.Duration.Milliseconds(), time.Now().UTC(),
	)
	return err
}

// GetTestRuns returns a task's test run history in execution order.
func (s *Store) GetTestRuns(taskID string) ([]task.TestRun, error) {
	rows, err := s.db.Query(
		`SELECT attempt, pass_count, fail_count, coverage_lines, coverage_branches, duration_ms
		 FROM test_runs WHERE task_id = ? ORDER BY id ASC`, taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []task.TestRun
	for rows.Next() {
		var run task.TestRun
		var durationMS int64
		if err := rows.Scan(&run.Attempt, &run.PassCount, &run.FailCount, &run.CoverageLines, &run.CoverageBranches, &durationMS); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanTask(row interface{ Scan(...any) error }) (*task.Task, error) {
	var (
		t          task.Task
		acceptance string
		tags       string
		state      string
		front      string
		archived   int
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &acceptance, &tags, &state, &front, &archived, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(acceptance), &t.AcceptanceCriteria); err != nil {
		return nil, fmt.Errorf("failed to unmarshal acceptance criteria: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(front), &t.FrontMatter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal front matter: %w", err)
	}
	t.State = task.State(state)
	t.Archived = archived != 0
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
