// Package claudeshim parses the line-delimited JSON a provider-CLI-wrapping
// shim forwards on its stdout once port announcement completes. This is
// distinct from the sandbox's normalized AdapterEvent WebSocket stream: it
// exists for shims that re-forward the underlying CLI's own content-block
// protocol verbatim instead of re-emitting normalized events.
package claudeshim

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/opsagents/controlplane/runtime/agent/bus"
	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/telemetry"
)

// Content-block type discriminants, matching the shapes Anthropic's
// Messages content blocks use (sdk.ContentBlockParamUnion-equivalent:
// "text", "tool_use", "tool_result").
const (
	contentText       = "text"
	contentToolUse    = "tool_use"
	contentToolResult = "tool_result"
)

type shimLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Result  string `json:"result"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input"`
	ToolUseID  string          `json:"tool_use_id"`
	ToolResult json.RawMessage `json:"content"`
}

// ParseShimLine maps one line of shim stdout to an Event, per the fixed
// table of recognized shapes. The second return value is false for any
// shape not in that table; callers must log-and-skip, never treat it as an
// error.
func ParseShimLine(line []byte) (event.Event, bool) {
	var l shimLine
	if err := json.Unmarshal(line, &l); err != nil {
		return nil, false
	}

	switch l.Type {
	case "system":
		if l.Subtype == "init" {
			return event.LifecycleEvent{Action: event.LifecycleStarted}, true
		}
	case "assistant":
		for _, c := range l.Message.Content {
			switch c.Type {
			case contentText:
				if c.Text != "" {
					return event.StatusEvent{Message: c.Text}, true
				}
			case contentToolUse:
				return event.ToolCallEvent{
					ToolCallID: c.ID,
					ToolName:   c.Name,
					Phase:      event.ToolCallRequested,
					Input:      c.Input,
				}, true
			}
		}
	case "user":
		for _, c := range l.Message.Content {
			if c.Type == contentToolResult {
				return event.ToolCallEvent{
					ToolCallID: c.ToolUseID,
					Phase:      event.ToolCallCompleted,
					Output:     c.ToolResult,
				}, true
			}
		}
	case "result":
		switch l.Subtype {
		case "success":
			return event.CompletionEvent{Outcome: event.CompletionSuccess, Summary: l.Result}, true
		case "max_turns":
			return event.CompletionEvent{Outcome: event.CompletionMaxTurns}, true
		}
	}
	return nil, false
}

// Adapter line-buffers a shim's post-announcement stdout and publishes each
// recognized line as a synthetic AdapterEvent. sourceSequence is a counter
// scoped to this adapter's own agent, starting at 1; runId is
// "shim-{agentId}".
type Adapter struct {
	agentID string
	bus     *bus.Bus
	logger  telemetry.Logger
	seq     int64
}

// NewAdapter constructs an Adapter publishing onto b for agentID.
func NewAdapter(agentID string, b *bus.Bus, logger telemetry.Logger) *Adapter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Adapter{agentID: agentID, bus: b, logger: logger}
}

// HandleLine parses one stdout line and, if recognized, publishes it.
// Unrecognized lines are logged at Debug and otherwise ignored — never an
// error, never a reason to crash the shim's log forwarding.
func (a *Adapter) HandleLine(line []byte) {
	evt, ok := ParseShimLine(line)
	if !ok {
		a.logger.Debug(context.Background(), "shim stdout line did not match a recognized shape",
			"agentId", a.agentID, "line", string(line))
		return
	}

	seq := atomic.AddInt64(&a.seq, 1)
	envelope := event.EventEnvelope{
		AdapterEvent: event.AdapterEvent{
			SourceEventID:    "shim-" + a.agentID + "-" + strconv.FormatInt(seq, 10),
			SourceSequence:   seq,
			SourceOccurredAt: time.Now(),
			RunID:            "shim-" + a.agentID,
			AgentID:          a.agentID,
			Event:            evt,
		},
		IngestedAt: time.Now(),
	}
	a.bus.Publish(context.Background(), envelope)
}
