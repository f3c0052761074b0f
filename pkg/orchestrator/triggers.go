package orchestrator

import (
	"sort"
	"strings"

	"github.com/odvcencio/foreman/pkg/task"
)

// Keyword tables for trigger detection. Fixed tables keep detection
// deterministic and independently testable.
var (
	securityKeywords = []string{"auth", "encrypt", "permission", "credential"}
	schemaKeywords   = []string{"schema", "migration", "migrate", "alter table"}
)

// ForceTriggerDetector scans task metadata and plan text for conditions that
// override score-based routing. Detection is pure and independent of the
// complexity scorer; all checks are evaluated and their results unioned.
type ForceTriggerDetector struct{}

// NewForceTriggerDetector creates a detector.
func NewForceTriggerDetector() *ForceTriggerDetector {
	return &ForceTriggerDetector{}
}

// Detect returns the set of force triggers carried by the task and plan,
// sorted by name for stable output. Any non-empty result is terminal: the
// router must select full review regardless of score.
func (d *ForceTriggerDetector) Detect(t *task.Task, plan *task.ImplementationPlan, flags task.Flags) []task.ForceTrigger {
	found := make(map[task.ForceTrigger]struct{})

	if flags.Review {
		found[task.TriggerUserFlag] = struct{}{}
	}

	if t != nil && t.HasTag("hotfix") {
		found[task.TriggerHotfix] = struct{}{}
	}

	if plan != nil {
		text := strings.ToLower(plan.Text())
		for _, kw := range securityKeywords {
			if strings.Contains(text, kw) {
				found[task.TriggerSecurity] = struct{}{}
				break
			}
		}
		for _, kw := range schemaKeywords {
			if strings.Contains(text, kw) {
				found[task.TriggerSchemaChange] = struct{}{}
				break
			}
		}
		if plan.BreakingChange {
			found[task.TriggerBreakingChange] = struct{}{}
		}
	}

	if len(found) == 0 {
		return nil
	}
	triggers := make([]task.ForceTrigger, 0, len(found))
	for trigger := range found {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
