package task

import "time"

// ClarificationMode selects how disambiguating decisions are collected.
type ClarificationMode string

const (
	ClarifySkip     ClarificationMode = "skip"
	ClarifyQuick    ClarificationMode = "quick"
	ClarifyFull     ClarificationMode = "full"
	ClarifyDefaults ClarificationMode = "defaults"
)

// ContextType identifies which clarification pass a context belongs to.
// Each context type has its own skip/quick/full thresholds.
type ContextType string

const (
	ContextReviewScope     ContextType = "review-scope"
	ContextImplPreferences ContextType = "implementation-preferences"
	ContextImplPlanning    ContextType = "implementation-planning"
)

// Question is one disambiguating decision put to the answering channel.
type Question struct {
	ID      string   `json:"id"`
	Index   int      `json:"index"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
	Default string   `json:"default"`
}

// Decision is one answered (or defaulted) question.
type Decision struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
	WasDefault bool   `json:"was_default"`
}

// ClarificationContext is the persisted outcome of one clarification
// invocation. Contexts are reused across resumed sessions until explicitly
// invalidated; re-collection overwrites, never merges.
type ClarificationContext struct {
	ContextType ContextType       `json:"context_type"`
	Mode        ClarificationMode `json:"mode"`
	Decisions   []Decision        `json:"decisions,omitempty"`
	Aborted     bool              `json:"aborted,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// AllDefaulted reports whether every decision fell back to its default.
func (c ClarificationContext) AllDefaulted() bool {
	if len(c.Decisions) == 0 {
		return false
	}
	for _, d := range c.Decisions {
		if !d.WasDefault {
			return false
		}
	}
	return true
}
