// Package pipeline wires the bus, classifier, decision queue, trust engine,
// registry, plugin, and the out-of-scope collaborators into the
// single subscriber the rest of the control plane relies on: subscribe once,
// classify every envelope, forward it to the WebSocket hub, and run the
// per-event-type side effects (decision triage, artifact storage and
// coherence review, lifecycle/registry updates, trust scoring).
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/opsagents/controlplane/runtime/agent/bus"
	"github.com/opsagents/controlplane/runtime/agent/classifier"
	"github.com/opsagents/controlplane/runtime/agent/collab"
	"github.com/opsagents/controlplane/runtime/agent/decision"
	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/plugin"
	"github.com/opsagents/controlplane/runtime/agent/registry"
	"github.com/opsagents/controlplane/runtime/agent/telemetry"
	"github.com/opsagents/controlplane/runtime/agent/tick"
	"github.com/opsagents/controlplane/runtime/agent/trust"
)

// DefaultMaxCheckpointsPerAgent bounds how many checkpoints the decision
// handler retains per agent before evicting the oldest.
const DefaultMaxCheckpointsPerAgent = 3

// Config wires every collaborator the pipeline drives side effects through.
// Bus, Decisions and Registry are required. Every other field may be left
// nil or zero; the side effects that depend on it are then skipped (or, for
// Logger and MaxCheckpointsPerAgent, defaulted).
type Config struct {
	Bus       *bus.Bus
	Decisions *decision.Queue
	Trust     *trust.Engine
	Registry  *registry.Registry
	Plugin    *plugin.Plugin
	Ticks     *tick.Service

	Hub            collab.Hub
	KnowledgeStore collab.KnowledgeStore
	Coherence      collab.CoherenceMonitor

	MaxCheckpointsPerAgent int
	Logger                 telemetry.Logger
}

// Pipeline owns the single bus subscription that fans every envelope out to
// the collaborators and runs the per-event-type handlers above it. It keeps
// no state of its own beyond the checkpoint ring buffer the decision
// handler maintains.
type Pipeline struct {
	cfg Config

	checkpoints map[string][]registry.SerializedAgentState // agentID -> bounded ring, oldest first
}

// New constructs a Pipeline. Call Start to subscribe to the bus.
func New(cfg Config) *Pipeline {
	if cfg.MaxCheckpointsPerAgent <= 0 {
		cfg.MaxCheckpointsPerAgent = DefaultMaxCheckpointsPerAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	return &Pipeline{
		cfg:         cfg,
		checkpoints: make(map[string][]registry.SerializedAgentState),
	}
}

// Start subscribes the pipeline to every event on the bus and, if a tick
// service is configured, subscribes the decision queue's grace-period and
// orphan-triage bookkeeping to it. The returned Subscription's Close stops
// all further bus processing.
func (p *Pipeline) Start() (bus.Subscription, error) {
	if p.cfg.Ticks != nil && p.cfg.Decisions != nil {
		p.cfg.Ticks.SubscribeTo(p.cfg.Decisions.OnTick)
	}
	return p.cfg.Bus.Subscribe(bus.Filter{}, bus.HandlerFunc(p.handle))
}

func (p *Pipeline) handle(ctx context.Context, env event.EventEnvelope) error {
	routing := classifier.Classify(env.Event)
	if p.cfg.Hub != nil {
		if err := p.cfg.Hub.Broadcast(ctx, env, routing); err != nil {
			p.cfg.Logger.Warn(ctx, "pipeline: hub broadcast failed", "agentId", env.AgentID, "error", err)
		}
	}

	switch evt := env.Event.(type) {
	case event.DecisionEvent:
		p.handleDecision(ctx, env, evt)
	case event.ArtifactEvent:
		p.handleArtifact(ctx, evt)
	case event.LifecycleEvent:
		p.handleLifecycle(ctx, env, evt)
	case event.CompletionEvent:
		p.handleCompletion(ctx, env.AgentID, evt)
	case event.ErrorEvent:
		p.handleError(ctx, env.AgentID, evt)
	}
	return nil
}

func (p *Pipeline) handleDecision(ctx context.Context, env event.EventEnvelope, evt event.DecisionEvent) {
	nowTick := int64(0)
	if p.cfg.Ticks != nil {
		nowTick = p.cfg.Ticks.CurrentTick()
	}
	p.cfg.Decisions.Enqueue(evt.DecisionID, env.AgentID, evt, nowTick, decision.PriorityMedium)

	if err := p.cfg.Registry.UpdateStatus(env.AgentID, registry.StatusWaitingOnHuman); err != nil {
		p.cfg.Logger.Warn(ctx, "pipeline: decision status update failed", "agentId", env.AgentID, "error", err)
	}

	if p.cfg.Plugin == nil {
		return
	}
	handle, err := p.cfg.Registry.Get(env.AgentID)
	if err != nil {
		p.cfg.Logger.Warn(ctx, "pipeline: no handle for checkpoint request", "agentId", env.AgentID, "error", err)
		return
	}
	state, err := p.cfg.Plugin.RequestCheckpoint(ctx, handle, evt.DecisionID)
	if err != nil {
		p.cfg.Logger.Warn(ctx, "pipeline: checkpoint request failed", "agentId", env.AgentID, "decisionId", evt.DecisionID, "error", err)
		return
	}
	p.storeCheckpoint(env.AgentID, state)
}

func (p *Pipeline) storeCheckpoint(agentID string, state registry.SerializedAgentState) {
	ring := append(p.checkpoints[agentID], state)
	if len(ring) > p.cfg.MaxCheckpointsPerAgent {
		ring = ring[len(ring)-p.cfg.MaxCheckpointsPerAgent:]
	}
	p.checkpoints[agentID] = ring
}

// Checkpoints returns the retained checkpoints for agentID, oldest first.
func (p *Pipeline) Checkpoints(agentID string) []registry.SerializedAgentState {
	ring := p.checkpoints[agentID]
	out := make([]registry.SerializedAgentState, len(ring))
	copy(out, ring)
	return out
}

func (p *Pipeline) handleArtifact(ctx context.Context, evt event.ArtifactEvent) {
	if p.cfg.KnowledgeStore == nil {
		return
	}
	if err := p.cfg.KnowledgeStore.StoreArtifact(ctx, evt); err != nil {
		p.cfg.Logger.Warn(ctx, "pipeline: store artifact failed", "artifactId", evt.ID, "error", err)
		return
	}
	if p.cfg.Coherence == nil {
		return
	}
	issue, err := p.cfg.Coherence.Review(ctx, evt)
	if err != nil {
		p.cfg.Logger.Warn(ctx, "pipeline: coherence review failed", "artifactId", evt.ID, "error", err)
		return
	}
	if issue == nil {
		return
	}
	if err := p.cfg.KnowledgeStore.StoreCoherenceIssue(ctx, *issue); err != nil {
		p.cfg.Logger.Warn(ctx, "pipeline: store coherence issue failed", "issueId", issue.ID, "error", err)
	}
	p.cfg.Bus.Publish(ctx, event.EventEnvelope{
		AdapterEvent: event.AdapterEvent{
			SourceEventID:    fmt.Sprintf("%s%s", event.SyntheticCoherencePrefix, issue.ID),
			SourceSequence:   event.SyntheticSourceSequence,
			SourceOccurredAt: time.Now(),
			RunID:            event.SyntheticCoherencePrefix + issue.ID,
			Event: event.CoherenceEvent{
				ID:          issue.ID,
				Severity:    issue.Severity,
				Category:    issue.Category,
				AffectedIDs: issue.AffectedIDs,
			},
		},
		IngestedAt: time.Now(),
	})
}

func (p *Pipeline) handleLifecycle(ctx context.Context, env event.EventEnvelope, evt event.LifecycleEvent) {
	switch evt.Action {
	case event.LifecycleStarted:
		if p.cfg.KnowledgeStore == nil {
			return
		}
		brief, err := p.briefFor(env.AgentID)
		if err != nil {
			p.cfg.Logger.Warn(ctx, "pipeline: no brief for started agent", "agentId", env.AgentID, "error", err)
			return
		}
		if err := p.cfg.KnowledgeStore.RegisterAgent(ctx, env.AgentID, brief); err != nil {
			p.cfg.Logger.Warn(ctx, "pipeline: register agent failed", "agentId", env.AgentID, "error", err)
		}
	case event.LifecyclePaused:
		p.setStatus(ctx, env.AgentID, registry.StatusPaused)
	case event.LifecycleResumed:
		p.setStatus(ctx, env.AgentID, registry.StatusRunning)
	case event.LifecycleKilled, event.LifecycleCrashed:
		if p.cfg.Decisions != nil {
			p.cfg.Decisions.HandleAgentKilled(env.AgentID)
		}
		if p.cfg.KnowledgeStore == nil {
			return
		}
		if err := p.cfg.KnowledgeStore.RemoveAgent(ctx, env.AgentID); err != nil {
			p.cfg.Logger.Warn(ctx, "pipeline: remove agent failed", "agentId", env.AgentID, "error", err)
		}
	}
}

// briefFor returns a brief carrying only the agent id: the registry tracks
// handles, not briefs, so the pipeline has no fuller brief to hand the
// knowledge store.
func (p *Pipeline) briefFor(agentID string) (registry.AgentBrief, error) {
	return registry.AgentBrief{AgentID: agentID}, nil
}

func (p *Pipeline) setStatus(ctx context.Context, agentID string, status registry.Status) {
	if err := p.cfg.Registry.UpdateStatus(agentID, status); err != nil {
		p.cfg.Logger.Warn(ctx, "pipeline: status update failed", "agentId", agentID, "status", status, "error", err)
	}
}

func (p *Pipeline) handleCompletion(ctx context.Context, agentID string, evt event.CompletionEvent) {
	outcome, ok := completionOutcome(evt.Outcome)
	if !ok {
		return
	}
	p.applyOutcome(ctx, agentID, outcome)
}

func (p *Pipeline) handleError(ctx context.Context, agentID string, evt event.ErrorEvent) {
	if evt.Severity == event.SeverityWarning {
		return
	}
	p.applyOutcome(ctx, agentID, trust.OutcomeErrorEvent)
}

func (p *Pipeline) applyOutcome(ctx context.Context, agentID string, outcome trust.Outcome) {
	if p.cfg.Trust == nil {
		return
	}
	before := p.cfg.Trust.Score(ctx, agentID)
	if _, err := p.cfg.Trust.ApplyOutcome(ctx, agentID, outcome, p.currentTick()); err != nil {
		p.cfg.Logger.Warn(ctx, "pipeline: apply trust outcome failed", "agentId", agentID, "outcome", outcome, "error", err)
		return
	}
	after := p.cfg.Trust.Score(ctx, agentID)
	if after == before {
		return
	}
	p.broadcastTrustUpdate(ctx, agentID, after)
}

func (p *Pipeline) currentTick() int64 {
	if p.cfg.Ticks == nil {
		return 0
	}
	return p.cfg.Ticks.CurrentTick()
}

func (p *Pipeline) broadcastTrustUpdate(ctx context.Context, agentID string, score int) {
	if p.cfg.Hub == nil {
		return
	}
	env := event.EventEnvelope{
		AdapterEvent: event.AdapterEvent{
			SourceEventID:    fmt.Sprintf("trust-update-%s-%d", agentID, score),
			SourceSequence:   event.SyntheticSourceSequence,
			SourceOccurredAt: time.Now(),
			RunID:            fmt.Sprintf("trust-%s", agentID),
			AgentID:          agentID,
			Event: event.StatusEvent{
				Message: fmt.Sprintf("trust_update: score=%d", score),
			},
		},
		IngestedAt: time.Now(),
	}
	routing := classifier.Classify(env.Event)
	if err := p.cfg.Hub.Broadcast(ctx, env, routing); err != nil {
		p.cfg.Logger.Warn(ctx, "pipeline: trust_update broadcast failed", "agentId", agentID, "error", err)
	}
}

func completionOutcome(outcome event.CompletionOutcome) (trust.Outcome, bool) {
	switch outcome {
	case event.CompletionSuccess:
		return trust.OutcomeTaskCompletedClean, true
	case event.CompletionPartial:
		return trust.OutcomeTaskCompletedPartial, true
	case event.CompletionAbandon, event.CompletionMaxTurns:
		return trust.OutcomeTaskAbandonedOrMaxTurns, true
	default:
		return "", false
	}
}
