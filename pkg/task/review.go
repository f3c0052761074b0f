package task

import "time"

// ReviewMode is the review intensity the router selected for a task.
type ReviewMode string

const (
	ReviewAutoProceed   ReviewMode = "AUTO_PROCEED"
	ReviewQuickOptional ReviewMode = "QUICK_OPTIONAL"
	ReviewFullRequired  ReviewMode = "FULL_REQUIRED"
)

// ForceTrigger overrides score-based routing to the most conservative outcome.
type ForceTrigger string

const (
	TriggerUserFlag       ForceTrigger = "user_flag"
	TriggerSecurity       ForceTrigger = "security"
	TriggerBreakingChange ForceTrigger = "breaking_change"
	TriggerSchemaChange   ForceTrigger = "schema_change"
	TriggerHotfix         ForceTrigger = "hotfix"
)

// FactorScore is one clamped component of a complexity score.
type FactorScore struct {
	Name          string `json:"name"`
	Value         int    `json:"value"`
	Max           int    `json:"max"`
	Justification string `json:"justification"`
}

// ComplexityEvaluation is the persisted result of scoring plus routing.
type ComplexityEvaluation struct {
	Score    int            `json:"score"`
	Mode     ReviewMode     `json:"mode"`
	Triggers []ForceTrigger `json:"triggers,omitempty"`
	Factors  []FactorScore  `json:"factors,omitempty"`
}

// ReviewDecision is the router's output for one planning pass.
type ReviewDecision struct {
	Score     int            `json:"score"`
	Triggers  []ForceTrigger `json:"triggers,omitempty"`
	Mode      ReviewMode     `json:"mode"`
	Rationale string         `json:"rationale"`
}

// QualityResult is the quality gate's aggregate verdict.
type QualityResult struct {
	Approved           bool           `json:"approved"`
	Scores             map[string]int `json:"scores,omitempty"`
	BlockingCategories []string       `json:"blocking_categories,omitempty"`
	EvaluatedAt        time.Time      `json:"evaluated_at"`
}

// TestRun is one execution of the test suite.
type TestRun struct {
	Attempt          int           `json:"attempt"`
	PassCount        int           `json:"pass"`
	FailCount        int           `json:"fail"`
	CoverageLines    float64       `json:"coverage_lines"`
	CoverageBranches float64       `json:"coverage_branches"`
	Duration         time.Duration `json:"duration"`
}

// Passed reports a 100% pass rate; partial passes never count as good
// enough. A suite with nothing to run passes: zero failures is the
// condition, not a minimum test count.
func (r TestRun) Passed() bool {
	return r.FailCount == 0
}

// FixAttempt is one automated fix applied to a failing run, together with
// the test run that resulted from re-running the suite after the change.
type FixAttempt struct {
	Number        int     `json:"number"`
	ChangeSummary string  `json:"applied_change_summary"`
	Result        TestRun `json:"resulting_run"`
}
