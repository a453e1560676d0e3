package trust

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allOutcomes = []Outcome{
	OutcomeHumanApprovesToolCall,
	OutcomeHumanRejectsToolCall,
	OutcomeHumanApprovesRecommended,
	OutcomeHumanPicksNonRecommended,
	OutcomeHumanOverridesAgentDecision,
	OutcomeHumanApprovesAlways,
	OutcomeTaskCompletedClean,
	OutcomeTaskCompletedPartial,
	OutcomeTaskAbandonedOrMaxTurns,
	OutcomeErrorEvent,
}

// TestApplyOutcomeStaysClamped checks that for any sequence of outcomes
// applied to one agent, the score after every ApplyOutcome call stays
// within [minScore, maxScore].
func TestApplyOutcomeStaysClamped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("score stays within [minScore, maxScore] after any outcome sequence", prop.ForAll(
		func(indices []int) bool {
			e := New(nil, nil)
			ctx := context.Background()
			for i, idx := range indices {
				outcome := allOutcomes[idx%len(allOutcomes)]
				score, err := e.ApplyOutcome(ctx, "agent-1", outcome, int64(i))
				if err != nil {
					return false
				}
				if score < minScore || score > maxScore {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(allOutcomes)-1)),
	))

	properties.TestingRun(t)
}

// TestDiminishingReturnsNeverExceedsHalfBase checks that above 90 with a
// positive delta, or below 20 with a negative delta, the applied delta's
// magnitude never exceeds ceil(|base|/2).
func TestDiminishingReturnsNeverExceedsHalfBase(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("diminished delta magnitude never exceeds half the base delta", prop.ForAll(
		func(score, base int) bool {
			applied := diminish(score, base)
			if (score > 90 && base > 0) || (score < 20 && base < 0) {
				half := (abs(base) + 1) / 2
				return abs(applied) <= half
			}
			return applied == base
		},
		gen.IntRange(minScore, maxScore),
		gen.OneConstOf(-3, -2, -1, 1, 2, 3),
	))

	properties.TestingRun(t)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
