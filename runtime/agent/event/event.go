// Package event defines the closed event union that flows from sandboxes
// through the control plane: the wire-level AdapterEvent an agent process
// emits, the EventEnvelope the bus carries internally, and the twelve event
// variants a subscriber type-switches on.
//
// Subscribers use type switches to reach variant-specific fields:
//
//	switch e := envelope.Event.(type) {
//	case event.DecisionEvent:
//	    log.Printf("decision %s subtype=%s", e.DecisionID, e.Subtype)
//	case event.ErrorEvent:
//	    log.Printf("error severity=%s recoverable=%v", e.Severity, e.Recoverable)
//	}
package event

import "time"

// Type identifies one of the twelve event variants.
type Type string

const (
	TypeStatus      Type = "status"
	TypeProgress    Type = "progress"
	TypeToolCall    Type = "tool_call"
	TypeDecision    Type = "decision"
	TypeArtifact    Type = "artifact"
	TypeCoherence   Type = "coherence"
	TypeCompletion  Type = "completion"
	TypeError       Type = "error"
	TypeLifecycle   Type = "lifecycle"
	TypeDelegation  Type = "delegation"
	TypeGuardrail   Type = "guardrail"
	TypeRawProvider Type = "raw_provider"
)

// Severity orders from least to most urgent. Ordinal comparisons ("severity
// >= high") use Rank, not string comparison.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityWarning:  0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the severity's ordinal position, unrecognized severities rank
// below SeverityWarning so they never spuriously satisfy an AtLeast check.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at least as urgent as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ToolCallPhase is the lifecycle phase of a tool_call event.
type ToolCallPhase string

const (
	ToolCallRequested ToolCallPhase = "requested"
	ToolCallRunning   ToolCallPhase = "running"
	ToolCallCompleted ToolCallPhase = "completed"
)

// DecisionSubtype distinguishes the two shapes a decision event can take.
type DecisionSubtype string

const (
	DecisionOption       DecisionSubtype = "option"
	DecisionToolApproval DecisionSubtype = "tool_approval"
)

// CompletionOutcome is the terminal state of an agent's task.
type CompletionOutcome string

const (
	CompletionSuccess  CompletionOutcome = "success"
	CompletionPartial  CompletionOutcome = "partial"
	CompletionAbandon  CompletionOutcome = "abandoned"
	CompletionMaxTurns CompletionOutcome = "max_turns"
)

// LifecycleAction is the process-supervision transition a lifecycle event
// reports.
type LifecycleAction string

const (
	LifecycleStarted LifecycleAction = "started"
	LifecyclePaused  LifecycleAction = "paused"
	LifecycleResumed LifecycleAction = "resumed"
	LifecycleKilled  LifecycleAction = "killed"
	LifecycleCrashed LifecycleAction = "crashed"
)

type (
	// Event is the interface every variant implements. The bus routes on
	// Type(); the classifier and pipeline type-switch on the concrete
	// variant, so adding a variant means adding one case to each switch that
	// should handle it.
	Event interface {
		// Type returns the variant discriminator used for routing and
		// wire encoding.
		Type() Type
	}

	// StatusEvent is free-text progress narration.
	StatusEvent struct {
		Message string `json:"message"`
	}

	// ProgressEvent reports fractional completion of a named operation.
	ProgressEvent struct {
		OpID    string  `json:"opId"`
		Percent float64 `json:"percent"`
	}

	// ToolCallEvent tracks a single tool invocation through its phases.
	// Output is nil until Phase reaches ToolCallCompleted.
	ToolCallEvent struct {
		ToolCallID string        `json:"toolCallId"`
		ToolName   string        `json:"toolName"`
		Phase      ToolCallPhase `json:"phase"`
		Input      any           `json:"input,omitempty"`
		Output     any           `json:"output,omitempty"`
	}

	// DecisionEvent asks the operator to resolve something. Subtype
	// determines which of Options/Recommended (option) or
	// ToolName/ToolCallID (tool_approval) are populated.
	DecisionEvent struct {
		DecisionID  string          `json:"decisionId"`
		Subtype     DecisionSubtype `json:"subtype"`
		Summary     string          `json:"summary,omitempty"`
		Options     []string        `json:"options,omitempty"`
		Recommended string          `json:"recommended,omitempty"`
		ToolName    string          `json:"toolName,omitempty"`
		ToolCallID  string          `json:"toolCallId,omitempty"`
		Payload     any             `json:"payload,omitempty"`
	}

	// ArtifactProvenance traces an artifact back to the file (if any) the
	// sandbox produced it from.
	ArtifactProvenance struct {
		SourcePath string `json:"sourcePath,omitempty"`
	}

	// ArtifactEvent announces a work product. URI is set once a storage
	// backend has accepted the artifact; it is empty on first announcement.
	ArtifactEvent struct {
		ID         string             `json:"id"`
		Name       string             `json:"name"`
		Kind       string             `json:"kind"`
		Workstream string             `json:"workstream"`
		Provenance ArtifactProvenance `json:"provenance"`
		URI        string             `json:"uri,omitempty"`
	}

	// CoherenceEvent flags that one or more workstream artifacts or
	// decisions have drifted out of sync.
	CoherenceEvent struct {
		ID          string   `json:"id"`
		Severity    Severity `json:"severity"`
		Category    string   `json:"category"`
		AffectedIDs []string `json:"affectedIds,omitempty"`
	}

	// CompletionEvent marks the end of an agent's run.
	CompletionEvent struct {
		Outcome CompletionOutcome `json:"outcome"`
		Summary string            `json:"summary,omitempty"`
	}

	// ErrorEvent reports a fault. Recoverable indicates the agent can
	// continue without intervention; Category is a short stable label
	// ("internal", "provider", "tool", ...).
	ErrorEvent struct {
		Severity    Severity `json:"severity"`
		Recoverable bool     `json:"recoverable"`
		Category    string   `json:"category"`
		Message     string   `json:"message"`
	}

	// LifecycleEvent reports a process-supervision transition. Reason is
	// populated for Paused, Killed, and Crashed.
	LifecycleEvent struct {
		Action LifecycleAction `json:"action"`
		Reason string          `json:"reason,omitempty"`
	}

	// DelegationEvent reports that an agent handed a sub-task to another
	// agent.
	DelegationEvent struct {
		TargetAgentID string `json:"targetAgentId"`
		Reason        string `json:"reason,omitempty"`
	}

	// GuardrailEvent reports a policy check outcome. Tripped is true when
	// the guardrail blocked or flagged behavior.
	GuardrailEvent struct {
		Name    string `json:"name"`
		Tripped bool   `json:"tripped"`
		Detail  string `json:"detail,omitempty"`
	}

	// RawProviderEvent carries an unparsed model-provider payload, forwarded
	// verbatim for offline inspection. Forwarding of raw provider output is
	// opt-in per agent via AgentBrief.RawProviderLogForwarding (see plugin).
	RawProviderEvent struct {
		Payload any `json:"payload"`
	}
)

func (StatusEvent) Type() Type      { return TypeStatus }
func (ProgressEvent) Type() Type    { return TypeProgress }
func (ToolCallEvent) Type() Type    { return TypeToolCall }
func (DecisionEvent) Type() Type    { return TypeDecision }
func (ArtifactEvent) Type() Type    { return TypeArtifact }
func (CoherenceEvent) Type() Type   { return TypeCoherence }
func (CompletionEvent) Type() Type  { return TypeCompletion }
func (ErrorEvent) Type() Type       { return TypeError }
func (LifecycleEvent) Type() Type   { return TypeLifecycle }
func (DelegationEvent) Type() Type  { return TypeDelegation }
func (GuardrailEvent) Type() Type   { return TypeGuardrail }
func (RawProviderEvent) Type() Type { return TypeRawProvider }

const (
	// SyntheticCrashPrefix marks a run id synthesized by the aggregating
	// plugin when a sandbox process exits with a non-zero code or a signal.
	SyntheticCrashPrefix = "crash-"
	// SyntheticQuarantinePrefix marks a run id synthesized when an inbound
	// event fails validation and is quarantined instead of published.
	SyntheticQuarantinePrefix = "quarantine-"
	// SyntheticCoherencePrefix marks the run id (and source event id) of the
	// coherence envelope the pipeline publishes when the coherence monitor
	// collaborator reports an issue.
	SyntheticCoherencePrefix = "coherence-"
	// SyntheticSourceSequence is the sourceSequence value every synthetic
	// envelope carries; it is never a value a real sandbox would produce.
	SyntheticSourceSequence = -1
)

// AdapterEvent is what a sandbox emits over the stream link: an envelope
// identifying the source run and sequence, wrapping one Event variant.
type AdapterEvent struct {
	SourceEventID    string    `json:"sourceEventId"`
	SourceSequence   int64     `json:"sourceSequence"`
	SourceOccurredAt time.Time `json:"sourceOccurredAt"`
	RunID            string    `json:"runId"`
	AgentID          string    `json:"agentId"`
	Event            Event     `json:"event"`
}

// EventEnvelope is the bus's internal carrier: an AdapterEvent stamped with
// the time the control plane accepted it.
type EventEnvelope struct {
	AdapterEvent
	IngestedAt time.Time `json:"ingestedAt"`
}

// IsSynthetic reports whether the envelope was generated by the control
// plane itself (backpressure warning, crash detection, quarantine notice)
// rather than received from a sandbox.
func (e AdapterEvent) IsSynthetic() bool {
	return e.SourceSequence == SyntheticSourceSequence
}
