package decision

import (
	"testing"

	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/stretchr/testify/require"
)

func decisionEvent(id string) event.Event {
	return event.DecisionEvent{DecisionID: id, Subtype: event.DecisionToolApproval}
}

func TestEnqueueStartsPending(t *testing.T) {
	q := New(nil)
	e := q.Enqueue("d-1", "agent-x", decisionEvent("d-1"), 0, PriorityHigh)
	require.Equal(t, StatusPending, e.Status)
	require.Len(t, q.ListPending(), 1)
}

func TestResolveMovesToResolvedAndIsImmutable(t *testing.T) {
	q := New(nil)
	q.Enqueue("d-1", "agent-x", decisionEvent("d-1"), 0, PriorityHigh)

	require.NoError(t, q.Resolve("d-1", map[string]string{"choice": "approve"}))
	require.Empty(t, q.ListPending())

	err := q.Resolve("d-1", "again")
	require.Error(t, err)
}

func TestResolveUnknownDecisionErrors(t *testing.T) {
	q := New(nil)
	require.Error(t, q.Resolve("missing", nil))
}

func TestGracePeriodThenOrphanExpiry(t *testing.T) {
	q := New(nil)
	q.Enqueue("d-1", "agent-x", decisionEvent("d-1"), 0, PriorityHigh)
	q.ScheduleOrphanTriage("agent-x", 0, 5)

	for tick := int64(1); tick <= 4; tick++ {
		q.OnTick(tick)
		all := q.ListAll()
		require.Equal(t, StatusPending, all[0].Status)
		require.Equal(t, "grace period", all[0].Badge)
		require.Equal(t, int64(5), *all[0].GraceDeadlineTick)
	}

	q.OnTick(5)
	all := q.ListAll()
	require.Equal(t, StatusTriage, all[0].Status)
	require.Equal(t, "agent killed", all[0].Badge)
}

func TestResolutionDuringGracePeriodWins(t *testing.T) {
	q := New(nil)
	q.Enqueue("d-1", "agent-x", decisionEvent("d-1"), 0, PriorityHigh)
	q.ScheduleOrphanTriage("agent-x", 0, 5)

	q.OnTick(1)
	q.OnTick(2)
	q.OnTick(3)
	require.NoError(t, q.Resolve("d-1", "approved"))

	q.OnTick(4)
	q.OnTick(5)

	all := q.ListAll()
	require.Equal(t, StatusResolved, all[0].Status)
}

func TestHandleAgentKilledSkipsGraceAndElevatesPriority(t *testing.T) {
	q := New(nil)
	q.Enqueue("d-1", "agent-x", decisionEvent("d-1"), 0, PriorityHigh)
	q.Enqueue("d-2", "agent-x", decisionEvent("d-2"), 0, PriorityMedium)

	q.HandleAgentKilled("agent-x")

	for _, e := range q.ListAll() {
		require.Equal(t, StatusTriage, e.Status)
		require.Equal(t, "agent killed", e.Badge)
		require.Equal(t, PriorityCritical, e.Priority)
	}
}

func TestResolvedEntriesNeverReorphaned(t *testing.T) {
	q := New(nil)
	q.Enqueue("d-1", "agent-x", decisionEvent("d-1"), 0, PriorityHigh)
	require.NoError(t, q.Resolve("d-1", "ok"))

	q.ScheduleOrphanTriage("agent-x", 0, 1)
	q.OnTick(1)
	q.OnTick(2)

	require.Equal(t, StatusResolved, q.ListAll()[0].Status)
}

func TestListPendingExcludesTriageAndResolved(t *testing.T) {
	q := New(nil)
	q.Enqueue("d-1", "agent-x", decisionEvent("d-1"), 0, PriorityHigh)
	q.Enqueue("d-2", "agent-y", decisionEvent("d-2"), 0, PriorityHigh)
	q.HandleAgentKilled("agent-x")

	pending := q.ListPending()
	require.Len(t, pending, 1)
	require.Equal(t, "d-2", pending[0].DecisionID)
}
