package registry

import "encoding/json"

// Status is an AgentHandle's lifecycle state as observed by the control
// plane (not to be confused with event.LifecycleAction, the sandbox's own
// process-supervision transitions).
type Status string

const (
	StatusRunning        Status = "running"
	StatusPaused         Status = "paused"
	StatusWaitingOnHuman Status = "waiting_on_human"
	StatusCompleted      Status = "completed"
	StatusError          Status = "error"
)

// ProjectBrief is the human-authored task description inside an AgentBrief.
type ProjectBrief struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Goals       []string `json:"goals,omitempty"`
	Checkpoints []string `json:"checkpoints,omitempty"`
}

// AgentBrief is the immutable task specification handed to a sandbox on
// spawn. It is never mutated after spawn; changes flow through a separate
// partial-overlay "update brief" operation. ProviderConfig is opaque and
// preserved bit-for-bit through the control plane (see providerconfig for
// the only validation performed on it).
type AgentBrief struct {
	AgentID              string          `json:"agentId"`
	Role                 string          `json:"role"`
	Description          string          `json:"description"`
	Workstream           string          `json:"workstream"`
	ProjectBrief         ProjectBrief    `json:"projectBrief"`
	AllowedTools         []string        `json:"allowedTools,omitempty"`
	KnowledgeSnapshot    json.RawMessage `json:"knowledgeSnapshot,omitempty"`
	EscalationProtocol   string          `json:"escalationProtocol,omitempty"`
	ControlMode          string          `json:"controlMode,omitempty"`
	ProviderConfig       json.RawMessage `json:"providerConfig,omitempty"`
	RawProviderLogForwarding bool        `json:"rawProviderLogForwarding,omitempty"`
}

// AgentHandle is the live identifier for a spawned agent, owned by the
// registry for the agent's lifetime.
type AgentHandle struct {
	ID         string `json:"id"`
	PluginName string `json:"pluginName"`
	Status     Status `json:"status"`
	SessionID  string `json:"sessionId"`
}

// SerializedAgentState is the opaque blob a sandbox returns from pause and
// accepts on resume. The control plane never interprets its contents.
type SerializedAgentState struct {
	AgentID string          `json:"agentId"`
	Blob    json.RawMessage `json:"blob"`
}

// UpdateBriefChanges is a partial overlay applied to a running agent's
// brief via updateBrief; any zero-valued field is left unchanged.
type UpdateBriefChanges struct {
	Description        *string          `json:"description,omitempty"`
	AllowedTools        []string         `json:"allowedTools,omitempty"`
	KnowledgeSnapshot   *json.RawMessage `json:"knowledgeSnapshot,omitempty"`
	EscalationProtocol  *string          `json:"escalationProtocol,omitempty"`
}

// KillOptions controls how forcefully kill tears an agent down.
type KillOptions struct {
	Grace           bool  `json:"grace"`
	GraceTimeoutMs  int64 `json:"graceTimeoutMs,omitempty"`
}

// KillResult reports what kill actually managed to do.
type KillResult struct {
	ArtifactsExtracted int  `json:"artifactsExtracted"`
	CleanShutdown      bool `json:"cleanShutdown"`
}

// ContextInjection is the payload for injectContext; its shape is left to
// callers (free-form operator-authored content surfaced to the sandbox).
type ContextInjection struct {
	Content json.RawMessage `json:"content"`
}

// DecisionResolution is the payload for resolveDecision.
type DecisionResolution struct {
	DecisionID string `json:"decisionId"`
	Resolution any    `json:"resolution"`
}
