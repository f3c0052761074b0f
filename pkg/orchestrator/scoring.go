// Package orchestrator contains the decision core of the engine: complexity
// scoring, force-trigger detection, review routing, the bounded
// test-verification loop, the task state machine, and the quality gate.
package orchestrator

import (
	"fmt"
	"strings"

	"github.com/odvcencio/foreman/pkg/task"
)

// Factor names reported in complexity evaluations.
const (
	FactorFiles    = "file_complexity"
	FactorPatterns = "pattern_familiarity"
	FactorRisk     = "risk_level"
)

// ComplexityScore is the scorer's output: a bounded total plus the clamped
// per-factor breakdown that produced it.
type ComplexityScore struct {
	Total   int
	Factors []task.FactorScore
	// Err is set when the plan could not be scored; the total is then the
	// fail-safe sentinel and the router must treat the task as requiring
	// full review.
	Err error
}

// Pattern familiarity tiers. Classification is a fixed keyword table, not a
// free-text heuristic, so scoring stays deterministic.
var (
	moderatePatterns = []string{"strategy", "observer", "decorator", "command"}
	advancedPatterns = []string{"saga", "cqrs", "event-sourcing", "event sourcing", "mediator"}
)

// ComplexityScorer computes a bounded complexity score from plan signals.
// Score is a pure function: the same plan always yields the same score.
type ComplexityScorer struct {
	// Floor is the minimum reported total. Low-signal tasks are classified
	// as low risk, never zero risk.
	Floor int
	// ErrorSentinel is the fail-safe-high total reported when the plan
	// cannot be scored.
	ErrorSentinel int
}

// NewComplexityScorer creates a scorer with the default floor and sentinel.
func NewComplexityScorer() *ComplexityScorer {
	return &ComplexityScorer{Floor: 2, ErrorSentinel: 10}
}

// Score evaluates a plan. A nil or unreadable plan produces the sentinel
// maximal score with an error justification rather than an error return:
// scoring failures must fold into the most conservative routing outcome,
// never abort the pipeline.
func (s *ComplexityScorer) Score(plan *task.ImplementationPlan) ComplexityScore {
	if plan == nil {
		return s.errorScore(fmt.Errorf("no implementation plan"))
	}
	if plan.FileCount < 0 {
		return s.errorScore(fmt.Errorf("invalid file count %d", plan.FileCount))
	}

	factors := []task.FactorScore{
		s.scoreFiles(plan.FileCount),
		s.scorePatterns(plan.Patterns),
		s.scoreRisk(plan.RiskSet()),
	}

	total := 0
	for _, f := range factors {
		total += f.Value
	}
	if total < s.Floor {
		total = s.Floor
	}

	return ComplexityScore{Total: total, Factors: factors}
}

func (s *ComplexityScorer) scoreFiles(count int) task.FactorScore {
	var value int
	switch {
	case count <= 2:
		value = 0
	case count <= 5:
		value = 1
	case count <= 8:
		value = 2
	default:
		value = 3
	}
	return task.FactorScore{
		Name:          FactorFiles,
		Value:         value,
		Max:           3,
		Justification: fmt.Sprintf("%d files touched", count),
	}
}

func (s *ComplexityScorer) scorePatterns(patterns []string) task.FactorScore {
	tier := 0
	matched := ""
	for _, p := range patterns {
		lower := strings.ToLower(strings.TrimSpace(p))
		for _, adv := range advancedPatterns {
			if strings.Contains(lower, adv) {
				tier = 2
				matched = adv
			}
		}
		if tier >= 2 {
			break
		}
		for _, mod := range moderatePatterns {
			if strings.Contains(lower, mod) && tier < 1 {
				tier = 1
				matched = mod
			}
		}
	}

	justification := "no notable design patterns"
	switch tier {
	case 1:
		justification = "moderate pattern: " + matched
	case 2:
		justification = "advanced pattern: " + matched
	}
	return task.FactorScore{
		Name:          FactorPatterns,
		Value:         tier,
		Max:           2,
		Justification: justification,
	}
}

func (s *ComplexityScorer) scoreRisk(risks map[task.RiskCategory]struct{}) task.FactorScore {
	count := len(risks)
	var value int
	switch {
	case count == 0:
		value = 0
	case count <= 2:
		value = 1
	case count <= 4:
		value = 2
	default:
		value = 3
	}
	return task.FactorScore{
		Name:          FactorRisk,
		Value:         value,
		Max:           3,
		Justification: fmt.Sprintf("%d risk categories", count),
	}
}

// errorScore is the fail-safe-high result for unreadable plans.
func (s *ComplexityScorer) errorScore(err error) ComplexityScore {
	sentinel := s.ErrorSentinel
	if sentinel <= 0 {
		sentinel = 10
	}
	return ComplexityScore{
		Total: sentinel,
		Factors: []task.FactorScore{{
			Name:          "error",
			Value:         sentinel,
			Max:           sentinel,
			Justification: "scoring failed: " + err.Error(),
		}},
		Err: err,
	}
}
