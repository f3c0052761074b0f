package task

import (
	"strings"
	"time"
)

// RiskCategory is a known class of risk detected during planning.
type RiskCategory string

const (
	RiskSecurity            RiskCategory = "security"
	RiskDataIntegrity       RiskCategory = "data-integrity"
	RiskExternalIntegration RiskCategory = "external-integration"
	RiskPerformance         RiskCategory = "performance"
)

// ImplementationPlan is the structured summary produced by an external
// planning pass. Plans are immutable once produced; a new planning pass
// yields a new plan with a new ID.
type ImplementationPlan struct {
	ID             string         `json:"id"`
	TaskID         string         `json:"task_id"`
	Summary        string         `json:"summary"`
	FileCount      int            `json:"file_count"`
	Patterns       []string       `json:"patterns,omitempty"`
	RiskCategories []RiskCategory `json:"risk_categories,omitempty"`
	BreakingChange bool           `json:"breaking_change,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Text returns the searchable prose of the plan, used by keyword detectors.
func (p *ImplementationPlan) Text() string {
	var b strings.Builder
	b.WriteString(p.Summary)
	for _, pat := range p.Patterns {
		b.WriteByte('\n')
		b.WriteString(pat)
	}
	return b.String()
}

// RiskSet returns the deduplicated risk categories of the plan.
func (p *ImplementationPlan) RiskSet() map[RiskCategory]struct{} {
	set := make(map[RiskCategory]struct{}, len(p.RiskCategories))
	for _, r := range p.RiskCategories {
		set[RiskCategory(strings.ToLower(strings.TrimSpace(string(r))))] = struct{}{}
	}
	return set
}
