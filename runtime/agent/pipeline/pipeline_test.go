package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsagents/controlplane/runtime/agent/bus"
	"github.com/opsagents/controlplane/runtime/agent/collab"
	"github.com/opsagents/controlplane/runtime/agent/decision"
	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/registry"
	"github.com/opsagents/controlplane/runtime/agent/tick"
	"github.com/opsagents/controlplane/runtime/agent/trust"
)

func newTestPipeline(t *testing.T) (*Pipeline, *bus.Bus, *registry.Registry, *decision.Queue, *trust.Engine, *collab.CollectHub, *collab.MemKnowledgeStore) {
	t.Helper()
	b := bus.New()
	reg := registry.New()
	decisions := decision.New(nil)
	trustEngine := trust.New(nil, nil)
	ticks := tick.New(tick.ModeManual, 0, nil)
	hub := &collab.CollectHub{}
	store := collab.NewMemKnowledgeStore()

	p := New(Config{
		Bus:            b,
		Decisions:      decisions,
		Trust:          trustEngine,
		Registry:       reg,
		Ticks:          ticks,
		Hub:            hub,
		KnowledgeStore: store,
		Coherence:      collab.NopCoherenceMonitor{},
	})
	_, err := p.Start()
	require.NoError(t, err)
	return p, b, reg, decisions, trustEngine, hub, store
}

func envelope(agentID string, evt event.Event) event.EventEnvelope {
	return event.EventEnvelope{
		AdapterEvent: event.AdapterEvent{
			SourceEventID:    agentID + "-" + string(evt.Type()),
			SourceSequence:   1,
			SourceOccurredAt: time.Now(),
			RunID:            "run-1",
			AgentID:          agentID,
			Event:            evt,
		},
		IngestedAt: time.Now(),
	}
}

func TestDecisionEventEnqueuesAndSetsWaitingOnHuman(t *testing.T) {
	p, b, reg, decisions, _, hub, _ := newTestPipeline(t)
	require.NoError(t, reg.Register(registry.AgentHandle{ID: "agent-1", Status: registry.StatusRunning}))

	b.Publish(context.Background(), envelope("agent-1", event.DecisionEvent{
		DecisionID: "dec-1",
		Subtype:    event.DecisionOption,
		Summary:    "pick one",
	}))

	entries := decisions.ListPending()
	require.Len(t, entries, 1)
	require.Equal(t, "dec-1", entries[0].DecisionID)

	handle, err := reg.Get("agent-1")
	require.NoError(t, err)
	require.Equal(t, registry.StatusWaitingOnHuman, handle.Status)

	require.NotEmpty(t, hub.All())
	_ = p
}

func TestArtifactEventStoresAndPublishesCoherenceOnIssue(t *testing.T) {
	b := bus.New()
	reg := registry.New()
	decisions := decision.New(nil)
	trustEngine := trust.New(nil, nil)
	hub := &collab.CollectHub{}
	store := collab.NewMemKnowledgeStore()

	p := New(Config{
		Bus:            b,
		Decisions:      decisions,
		Trust:          trustEngine,
		Registry:       reg,
		Hub:            hub,
		KnowledgeStore: store,
		Coherence: coherenceStub{issue: &collab.CoherenceIssue{
			ID:       "issue-1",
			Severity: event.SeverityHigh,
			Category: "drift",
		}},
	})
	_, err := p.Start()
	require.NoError(t, err)

	var gotCoherence bool
	_, _ = b.Subscribe(bus.Filter{EventType: event.TypeCoherence}, bus.HandlerFunc(func(ctx context.Context, env event.EventEnvelope) error {
		gotCoherence = true
		return nil
	}))

	b.Publish(context.Background(), envelope("agent-1", event.ArtifactEvent{
		ID:         "artifact-1",
		Name:       "report.md",
		Kind:       "doc",
		Workstream: "ws-1",
	}))

	require.Len(t, store.Artifacts(), 1)
	require.Len(t, store.Issues(), 1)
	require.True(t, gotCoherence)
}

type coherenceStub struct {
	issue *collab.CoherenceIssue
}

func (c coherenceStub) Review(context.Context, event.ArtifactEvent) (*collab.CoherenceIssue, error) {
	return c.issue, nil
}

func TestLifecycleEventsUpdateRegistryAndKnowledgeStore(t *testing.T) {
	_, b, reg, _, _, _, store := newTestPipeline(t)
	require.NoError(t, reg.Register(registry.AgentHandle{ID: "agent-1", Status: registry.StatusRunning}))

	b.Publish(context.Background(), envelope("agent-1", event.LifecycleEvent{Action: event.LifecycleStarted}))
	require.True(t, store.HasAgent("agent-1"))

	b.Publish(context.Background(), envelope("agent-1", event.LifecycleEvent{Action: event.LifecyclePaused}))
	handle, err := reg.Get("agent-1")
	require.NoError(t, err)
	require.Equal(t, registry.StatusPaused, handle.Status)

	b.Publish(context.Background(), envelope("agent-1", event.LifecycleEvent{Action: event.LifecycleCrashed}))
	require.False(t, store.HasAgent("agent-1"))
}

func TestCrashedLifecycleEscalatesPendingDecisionsToTriage(t *testing.T) {
	_, b, reg, decisions, _, _, _ := newTestPipeline(t)
	require.NoError(t, reg.Register(registry.AgentHandle{ID: "agent-1", Status: registry.StatusRunning}))

	b.Publish(context.Background(), envelope("agent-1", event.DecisionEvent{
		DecisionID: "dec-1",
		Subtype:    event.DecisionOption,
		Summary:    "pick one",
	}))
	require.Len(t, decisions.ListPending(), 1)

	b.Publish(context.Background(), envelope("agent-1", event.LifecycleEvent{Action: event.LifecycleCrashed}))

	require.Empty(t, decisions.ListPending())
	all := decisions.ListAll()
	require.Len(t, all, 1)
	require.Equal(t, decision.StatusTriage, all[0].Status)
	require.Equal(t, decision.PriorityCritical, all[0].Priority)
}

func TestStartSubscribesDecisionQueueToTickService(t *testing.T) {
	b := bus.New()
	reg := registry.New()
	decisions := decision.New(nil)
	trustEngine := trust.New(nil, nil)
	ticks := tick.New(tick.ModeManual, 0, nil)

	p := New(Config{
		Bus:       b,
		Decisions: decisions,
		Trust:     trustEngine,
		Registry:  reg,
		Ticks:     ticks,
	})
	_, err := p.Start()
	require.NoError(t, err)

	b.Publish(context.Background(), envelope("agent-1", event.DecisionEvent{
		DecisionID: "dec-1",
		Subtype:    event.DecisionOption,
		Summary:    "pick one",
	}))
	decisions.ScheduleOrphanTriage("agent-1", ticks.CurrentTick(), 2)

	ticks.Advance()
	ticks.Advance()

	all := decisions.ListAll()
	require.Len(t, all, 1)
	require.Equal(t, decision.StatusTriage, all[0].Status, "OnTick must actually be subscribed to the tick service for grace-period expiry to fire")
}

func TestCompletionEventAppliesTrustOutcomeAndBroadcasts(t *testing.T) {
	p, b, _, _, trustEngine, hub, _ := newTestPipeline(t)
	before := trustEngine.Score(context.Background(), "agent-1")

	b.Publish(context.Background(), envelope("agent-1", event.CompletionEvent{
		Outcome: event.CompletionSuccess,
		Summary: "done",
	}))

	after := trustEngine.Score(context.Background(), "agent-1")
	require.Greater(t, after, before)

	found := false
	for _, bc := range hub.All() {
		if se, ok := bc.Envelope.Event.(event.StatusEvent); ok && bc.Envelope.AgentID == "agent-1" {
			require.Contains(t, se.Message, "trust_update")
			found = true
		}
	}
	require.True(t, found)
	_ = p
}

func TestWarningErrorDoesNotApplyTrustOutcome(t *testing.T) {
	_, b, _, _, trustEngine, _, _ := newTestPipeline(t)
	before := trustEngine.Score(context.Background(), "agent-1")

	b.Publish(context.Background(), envelope("agent-1", event.ErrorEvent{
		Severity: event.SeverityWarning,
		Category: "internal",
		Message:  "backpressure on agent-1",
	}))

	after := trustEngine.Score(context.Background(), "agent-1")
	require.Equal(t, before, after)
}

func TestCriticalErrorAppliesTrustOutcome(t *testing.T) {
	_, b, _, _, trustEngine, _, _ := newTestPipeline(t)
	before := trustEngine.Score(context.Background(), "agent-1")

	b.Publish(context.Background(), envelope("agent-1", event.ErrorEvent{
		Severity:    event.SeverityCritical,
		Recoverable: false,
		Category:    "crash",
		Message:     "agent process exited unexpectedly",
	}))

	after := trustEngine.Score(context.Background(), "agent-1")
	require.Less(t, after, before)
}
