package orchestrator

import (
	"sort"
	"time"

	"github.com/odvcencio/foreman/pkg/task"
)

// EvaluateQuality checks every thresholded category. A category fails when
// its score is below its threshold; one failing category blocks approval
// regardless of how high the others score — there is no partial-credit
// averaging. Categories missing from the scores map count as zero, which
// fails any positive threshold: an absent review is a failed review.
func EvaluateQuality(scores map[string]int, thresholds map[string]int) (approved bool, blockingCategories []string) {
	for category, threshold := range thresholds {
		if scores[category] < threshold {
			blockingCategories = append(blockingCategories, category)
		}
	}
	sort.Strings(blockingCategories)
	return len(blockingCategories) == 0, blockingCategories
}

// QualityGateEvaluator binds a configured threshold table to the evaluation
// and renders persisted results.
type QualityGateEvaluator struct {
	Thresholds map[string]int
}

// NewQualityGateEvaluator creates an evaluator with the given per-category
// minimum scores.
func NewQualityGateEvaluator(thresholds map[string]int) *QualityGateEvaluator {
	return &QualityGateEvaluator{Thresholds: thresholds}
}

// Evaluate applies the configured thresholds to one set of review scores.
func (q *QualityGateEvaluator) Evaluate(scores map[string]int) task.QualityResult {
	approved, blocking := EvaluateQuality(scores, q.Thresholds)
	return task.QualityResult{
		Approved:           approved,
		Scores:             scores,
		BlockingCategories: blocking,
		EvaluatedAt:        time.Now().UTC(),
	}
}
