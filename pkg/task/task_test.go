package task

import (
	"reflect"
	"testing"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		input   string
		want    State
		wantErr bool
	}{
		{"BACKLOG", StateBacklog, false},
		{"backlog", StateBacklog, false},
		{" In_Review ", StateInReview, false},
		{"VERIFYING_TESTS", StateVerifyingTests, false},
		{"DONE", StateDone, false},
		{"SHIPPED", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseState(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseState(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseState(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestHasTag(t *testing.T) {
	tk := &Task{Tags: []string{"API", " hotfix ", "storage"}}
	if !tk.HasTag("hotfix") {
		t.Error("HasTag should match case-insensitively and ignore padding")
	}
	if !tk.HasTag("api") {
		t.Error("HasTag should match api")
	}
	if tk.HasTag("security") {
		t.Error("HasTag matched a missing tag")
	}
}

func TestParseAnswersFlag(t *testing.T) {
	tests := []struct {
		input   string
		want    map[int]string
		wantErr bool
	}{
		{"", nil, false},
		{"0:yes", map[int]string{0: "yes"}, false},
		{"0:yes 2:lru 1:30s", map[int]string{0: "yes", 1: "30s", 2: "lru"}, false},
		{"1:a:b", map[int]string{1: "a:b"}, false},
		{"noseparator", nil, true},
		{"x:val", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAnswersFlag(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAnswersFlag(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseAnswersFlag(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTestRunPassed(t *testing.T) {
	tests := []struct {
		name string
		run  TestRun
		want bool
	}{
		{"all passing", TestRun{PassCount: 10}, true},
		{"one failure", TestRun{PassCount: 99, FailCount: 1}, false},
		{"empty suite with nothing to fail", TestRun{}, true},
		{"failures only", TestRun{FailCount: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.run.Passed(); got != tt.want {
				t.Errorf("Passed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllDefaulted(t *testing.T) {
	tests := []struct {
		name string
		cc   ClarificationContext
		want bool
	}{
		{"empty", ClarificationContext{}, false},
		{"all defaults", ClarificationContext{Decisions: []Decision{{WasDefault: true}, {WasDefault: true}}}, true},
		{"mixed", ClarificationContext{Decisions: []Decision{{WasDefault: true}, {}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cc.AllDefaulted(); got != tt.want {
				t.Errorf("AllDefaulted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanRiskSetDedupes(t *testing.T) {
	plan := &ImplementationPlan{
		RiskCategories: []RiskCategory{RiskSecurity, "Security", " security ", RiskPerformance},
	}
	set := plan.RiskSet()
	if len(set) != 2 {
		t.Errorf("RiskSet() = %v, want 2 entries", set)
	}
}
