package orchestrator

import (
	"testing"

	"github.com/odvcencio/foreman/pkg/task"
)

func TestScoreFactorBands(t *testing.T) {
	tests := []struct {
		name string
		plan *task.ImplementationPlan
		want int
	}{
		{
			name: "trivial plan hits the floor",
			plan: &task.ImplementationPlan{FileCount: 1},
			want: 2,
		},
		{
			name: "two files no patterns no risk",
			plan: &task.ImplementationPlan{FileCount: 2},
			want: 2,
		},
		{
			name: "three files crosses first file band",
			plan: &task.ImplementationPlan{FileCount: 3},
			want: 2,
		},
		{
			name: "six files moderate pattern one risk",
			plan: &task.ImplementationPlan{
				FileCount:      6,
				Patterns:       []string{"observer"},
				RiskCategories: []task.RiskCategory{task.RiskPerformance},
			},
			want: 4,
		},
		{
			name: "ten files advanced pattern two risks",
			plan: &task.ImplementationPlan{
				FileCount:      10,
				Patterns:       []string{"saga"},
				RiskCategories: []task.RiskCategory{task.RiskSecurity, task.RiskDataIntegrity},
			},
			want: 6,
		},
		{
			name: "maximal plan",
			plan: &task.ImplementationPlan{
				FileCount: 20,
				Patterns:  []string{"cqrs"},
				RiskCategories: []task.RiskCategory{
					task.RiskSecurity, task.RiskDataIntegrity,
					task.RiskExternalIntegration, task.RiskPerformance,
					"operational",
				},
			},
			want: 8,
		},
		{
			name: "duplicate risks count once",
			plan: &task.ImplementationPlan{
				FileCount:      1,
				RiskCategories: []task.RiskCategory{task.RiskSecurity, task.RiskSecurity, "Security"},
			},
			want: 2,
		},
	}

	scorer := NewComplexityScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Score(tt.plan)
			if got.Err != nil {
				t.Fatalf("Score() unexpected error: %v", got.Err)
			}
			if got.Total != tt.want {
				t.Errorf("Score() = %d, want %d (factors %+v)", got.Total, tt.want, got.Factors)
			}
		})
	}
}

func TestScoreDeterministicAndBounded(t *testing.T) {
	scorer := NewComplexityScorer()
	plan := &task.ImplementationPlan{
		FileCount:      7,
		Patterns:       []string{"decorator", "event sourcing"},
		RiskCategories: []task.RiskCategory{task.RiskSecurity, task.RiskPerformance, task.RiskDataIntegrity},
	}

	first := scorer.Score(plan)
	for i := 0; i < 50; i++ {
		got := scorer.Score(plan)
		if got.Total != first.Total {
			t.Fatalf("Score() not deterministic: run %d got %d, first %d", i, got.Total, first.Total)
		}
	}
	if first.Total < 2 || first.Total > 8 {
		t.Errorf("Score() = %d, want within [2, 8] for a readable plan", first.Total)
	}
}

func TestScorePatternTiers(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		want     int
	}{
		{"none", nil, 0},
		{"unknown pattern", []string{"builder"}, 0},
		{"moderate", []string{"strategy"}, 1},
		{"advanced", []string{"saga"}, 2},
		{"advanced wins over moderate", []string{"observer", "cqrs"}, 2},
		{"case insensitive", []string{"Event-Sourcing"}, 2},
	}

	scorer := NewComplexityScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.scorePatterns(tt.patterns)
			if got.Value != tt.want {
				t.Errorf("scorePatterns(%v) = %d, want %d", tt.patterns, got.Value, tt.want)
			}
			if got.Max != 2 {
				t.Errorf("scorePatterns max = %d, want 2", got.Max)
			}
		})
	}
}

func TestScoreErrorSentinel(t *testing.T) {
	scorer := NewComplexityScorer()

	tests := []struct {
		name string
		plan *task.ImplementationPlan
	}{
		{"nil plan", nil},
		{"negative file count", &task.ImplementationPlan{FileCount: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Score(tt.plan)
			if got.Err == nil {
				t.Fatal("Score() expected error for unscorable plan")
			}
			if got.Total != 10 {
				t.Errorf("Score() sentinel = %d, want 10", got.Total)
			}
		})
	}
}

func TestScoreFactorsCarryJustifications(t *testing.T) {
	scorer := NewComplexityScorer()
	got := scorer.Score(&task.ImplementationPlan{FileCount: 4, Patterns: []string{"command"}})
	if len(got.Factors) != 3 {
		t.Fatalf("Score() factors = %d, want 3", len(got.Factors))
	}
	for _, f := range got.Factors {
		if f.Justification == "" {
			t.Errorf("factor %s missing justification", f.Name)
		}
		if f.Value < 0 || f.Value > f.Max {
			t.Errorf("factor %s value %d outside [0, %d]", f.Name, f.Value, f.Max)
		}
	}
}
