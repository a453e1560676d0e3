package trust

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreDefaultsTo50OnFirstTouch(t *testing.T) {
	e := New(nil, nil)
	require.Equal(t, DefaultScore, e.Score(context.Background(), "agent-1"))
}

func TestApplyOutcomeAppliesBaseDelta(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()

	delta, err := e.ApplyOutcome(ctx, "agent-1", OutcomeTaskCompletedClean, 1)
	require.NoError(t, err)
	require.Equal(t, 3, delta)
	require.Equal(t, 53, e.Score(ctx, "agent-1"))
}

func TestApplyOutcomeUnrecognizedReturnsError(t *testing.T) {
	e := New(nil, nil)
	_, err := e.ApplyOutcome(context.Background(), "agent-1", Outcome("not_real"), 1)
	require.Error(t, err)
}

func TestApplyOutcomeClampsAtCeiling(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		e.ApplyOutcome(ctx, "agent-1", OutcomeHumanApprovesAlways, int64(i))
	}
	require.LessOrEqual(t, e.Score(ctx, "agent-1"), 100)
}

func TestApplyOutcomeClampsAtFloor(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		e.ApplyOutcome(ctx, "agent-1", OutcomeHumanOverridesAgentDecision, int64(i))
	}
	require.GreaterOrEqual(t, e.Score(ctx, "agent-1"), 10)
}

func TestDiminishingReturnsAboveNinety(t *testing.T) {
	require.Equal(t, 1, diminish(95, 1))
	require.Equal(t, 1, diminish(95, 2))
	require.Equal(t, 1, diminish(95, 3))
	require.Equal(t, 3, diminish(80, 3), "no diminishing below the 90 threshold")
}

func TestDiminishingReturnsBelowTwenty(t *testing.T) {
	require.Equal(t, -1, diminish(15, -2))
	require.Equal(t, 0, diminish(15, -1))
	require.Equal(t, -2, diminish(50, -2), "no diminishing above the 20 threshold")
}

func TestApplyOutcomeRecordsHistory(t *testing.T) {
	e := New(nil, nil)
	ctx := context.Background()
	e.ApplyOutcome(ctx, "agent-1", OutcomeErrorEvent, 7)

	rec := e.recordLocked(ctx, "agent-1")
	require.Len(t, rec.History, 1)
	require.Equal(t, OutcomeErrorEvent, rec.History[0].Outcome)
	require.Equal(t, int64(7), rec.History[0].Tick)
}
