// Package classifier maps an event to the operator-facing workspace panels
// it should be forwarded to. It is a pure function with no state: the same
// event always classifies the same way, which keeps it trivially safe to
// call from the bus fan-out subscriber on every publish.
package classifier

import "github.com/opsagents/controlplane/runtime/agent/event"

// Workspace identifies one of the operator UI's panels.
type Workspace string

const (
	WorkspaceBriefing Workspace = "briefing"
	WorkspaceQueue    Workspace = "queue"
	WorkspaceMap      Workspace = "map"
	WorkspaceControls Workspace = "controls"
)

// Routing is the classification result: where an event is always forwarded,
// and where it is additionally forwarded when Secondary is non-empty.
type Routing struct {
	Primary   Workspace
	Secondary Workspace
}

// Classify routes evt per the fixed event-to-workspace table. Unknown or
// future event types fall through to the default row (controls only, no
// secondary) rather than panicking, so the classifier never needs to change
// in lockstep with every new Event variant.
func Classify(evt event.Event) Routing {
	switch e := evt.(type) {
	case event.StatusEvent:
		return Routing{Primary: WorkspaceBriefing}
	case event.ProgressEvent:
		return Routing{Primary: WorkspaceBriefing}
	case event.ToolCallEvent:
		return Routing{Primary: WorkspaceControls}
	case event.DecisionEvent:
		return classifyDecision(e)
	case event.ArtifactEvent:
		return Routing{Primary: WorkspaceMap, Secondary: WorkspaceBriefing}
	case event.CoherenceEvent:
		return classifyCoherence(e)
	case event.CompletionEvent:
		return Routing{Primary: WorkspaceBriefing, Secondary: WorkspaceControls}
	case event.ErrorEvent:
		return classifyError(e)
	case event.DelegationEvent:
		return Routing{Primary: WorkspaceControls, Secondary: WorkspaceBriefing}
	case event.GuardrailEvent:
		return classifyGuardrail(e)
	case event.LifecycleEvent:
		return Routing{Primary: WorkspaceControls, Secondary: WorkspaceBriefing}
	case event.RawProviderEvent:
		return Routing{Primary: WorkspaceControls}
	default:
		return Routing{Primary: WorkspaceControls}
	}
}

func classifyDecision(e event.DecisionEvent) Routing {
	if e.Subtype == event.DecisionToolApproval {
		return Routing{Primary: WorkspaceQueue, Secondary: WorkspaceControls}
	}
	return Routing{Primary: WorkspaceQueue, Secondary: WorkspaceBriefing}
}

func classifyCoherence(e event.CoherenceEvent) Routing {
	r := Routing{Primary: WorkspaceMap}
	if e.Severity.AtLeast(event.SeverityHigh) {
		r.Secondary = WorkspaceQueue
	}
	return r
}

func classifyError(e event.ErrorEvent) Routing {
	r := Routing{Primary: WorkspaceControls}
	if e.Severity.AtLeast(event.SeverityHigh) {
		r.Secondary = WorkspaceBriefing
	}
	return r
}

func classifyGuardrail(e event.GuardrailEvent) Routing {
	r := Routing{Primary: WorkspaceControls}
	if e.Tripped {
		r.Secondary = WorkspaceQueue
	}
	return r
}
