// Package clarify implements the clarification gate: mode selection from
// complexity and flags, and collection of disambiguating decisions over the
// message bus with timeout and abort semantics.
package clarify

import (
	"time"

	"github.com/odvcencio/foreman/pkg/config"
	"github.com/odvcencio/foreman/pkg/task"
)

// Gate decides how clarification runs for a given context type. Flag
// precedence is fixed: skip beats everything, then full, then defaults;
// only flagless tasks fall through to the complexity thresholds.
type Gate struct {
	quickTimeout time.Duration
	contexts     map[task.ContextType]config.ContextThresholds
}

// NewGate builds a gate from the clarification config.
func NewGate(cfg config.ClarificationConfig) *Gate {
	return &Gate{
		quickTimeout: cfg.QuickTimeout,
		contexts:     cfg.Contexts,
	}
}

// Decide resolves the clarification mode for one context type.
func (g *Gate) Decide(contextType task.ContextType, complexity int, flags task.Flags) task.ClarificationMode {
	switch {
	case flags.NoQuestions:
		return task.ClarifySkip
	case flags.WithQuestions:
		return task.ClarifyFull
	case flags.Defaults || len(flags.Answers) > 0:
		return task.ClarifyDefaults
	}

	th, ok := g.contexts[contextType]
	if !ok {
		// Unknown context types get the middle treatment rather than
		// silently skipping.
		return task.ClarifyQuick
	}
	switch {
	case complexity < th.SkipBelow:
		return task.ClarifySkip
	case complexity >= th.FullAt:
		return task.ClarifyFull
	default:
		return task.ClarifyQuick
	}
}
