// Package collab declares the contracts for the three collaborators that
// live outside this module's scope: the WebSocket hub that fans events out
// to live UI clients, the knowledge store that persists artifacts and agent
// registrations, and the coherence monitor that reviews artifacts for
// workstream drift. Only the interfaces matter here; every concrete
// implementation (a real WS server, a database-backed store, an
// embedding-based reviewer) lives elsewhere and is wired in at startup.
package collab

import (
	"context"

	"github.com/opsagents/controlplane/runtime/agent/classifier"
	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/registry"
)

// Hub delivers a classified envelope to connected UI clients. Implementations
// must be safe for concurrent use: the bus delivers synchronously, so the
// pipeline calls Broadcast on whichever goroutine published the envelope,
// and several publishers may do so at once.
type Hub interface {
	// Broadcast sends env to every client subscribed to routing.Primary or
	// routing.Secondary. Implementations decide how workspaces map to
	// client-visible channels; this package only carries the routing
	// decision, not the fan-out mechanics.
	Broadcast(ctx context.Context, env event.EventEnvelope, routing classifier.Routing) error
}

// CoherenceIssue is what a CoherenceMonitor returns when it finds one or more
// artifacts or decisions drifted out of sync with each other.
type CoherenceIssue struct {
	ID          string
	Severity    event.Severity
	Category    string
	AffectedIDs []string
}

// KnowledgeStore persists the state this module deliberately does not own:
// artifacts, agent registrations, and coherence issues. The pipeline calls
// it from the lifecycle and artifact handlers; it never reads it back.
type KnowledgeStore interface {
	// RegisterAgent records that an agent has started, using brief for
	// whatever searchable metadata the store wants to index.
	RegisterAgent(ctx context.Context, agentID string, brief registry.AgentBrief) error

	// RemoveAgent drops an agent's registration once it is killed or has
	// crashed. Idempotent: removing an already-absent agent is not an error.
	RemoveAgent(ctx context.Context, agentID string) error

	// StoreArtifact persists a work product announced by an agent.
	StoreArtifact(ctx context.Context, artifact event.ArtifactEvent) error

	// StoreCoherenceIssue persists an issue surfaced by a CoherenceMonitor.
	StoreCoherenceIssue(ctx context.Context, issue CoherenceIssue) error
}

// CoherenceMonitor reviews a newly stored artifact against the rest of its
// workstream. A nil result with a nil error means the artifact is coherent.
type CoherenceMonitor interface {
	Review(ctx context.Context, artifact event.ArtifactEvent) (*CoherenceIssue, error)
}
