package orchestrator

import (
	"fmt"
	"strings"

	"github.com/odvcencio/foreman/pkg/task"
)

// ReviewRouter maps a complexity score and trigger set to a review
// intensity. Band edges are closed on the lower bucket: a score equal to
// AutoMax still auto-proceeds, a score equal to QuickMax still gets the
// optional quick review.
type ReviewRouter struct {
	AutoMax  int // highest score that auto-proceeds
	QuickMax int // highest score that gets optional quick review
}

// NewReviewRouter creates a router with the default band edges.
func NewReviewRouter() *ReviewRouter {
	return &ReviewRouter{AutoMax: 3, QuickMax: 6}
}

// Route produces the review decision for one planning pass. Triggers are
// checked first and dominate the score unconditionally; a scoring error
// (sentinel score) also routes to full review.
func (r *ReviewRouter) Route(score ComplexityScore, triggers []task.ForceTrigger) task.ReviewDecision {
	decision := task.ReviewDecision{
		Score:    score.Total,
		Triggers: triggers,
	}

	if len(triggers) > 0 {
		names := make([]string, len(triggers))
		for i, trigger := range triggers {
			names[i] = string(trigger)
		}
		decision.Mode = task.ReviewFullRequired
		decision.Rationale = "force triggers present: " + strings.Join(names, ", ")
		return decision
	}

	if score.Err != nil {
		decision.Mode = task.ReviewFullRequired
		decision.Rationale = "complexity could not be determined; defaulting to full review"
		return decision
	}

	switch {
	case score.Total <= r.AutoMax:
		decision.Mode = task.ReviewAutoProceed
		decision.Rationale = fmt.Sprintf("complexity %d within auto-proceed band [0, %d]", score.Total, r.AutoMax)
	case score.Total <= r.QuickMax:
		decision.Mode = task.ReviewQuickOptional
		decision.Rationale = fmt.Sprintf("complexity %d within quick-review band [%d, %d]", score.Total, r.AutoMax+1, r.QuickMax)
	default:
		decision.Mode = task.ReviewFullRequired
		decision.Rationale = fmt.Sprintf("complexity %d above quick-review band (> %d)", score.Total, r.QuickMax)
	}
	return decision
}
