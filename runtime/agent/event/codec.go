package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireAdapterEvent mirrors AdapterEvent's wire shape but keeps the event
// payload as raw JSON until the "type" discriminator inside it has been read.
type wireAdapterEvent struct {
	SourceEventID    string          `json:"sourceEventId"`
	SourceSequence   int64           `json:"sourceSequence"`
	SourceOccurredAt time.Time       `json:"sourceOccurredAt"`
	RunID            string          `json:"runId"`
	AgentID          string          `json:"agentId"`
	Event            json.RawMessage `json:"event"`
}

type wireEvent struct {
	Type Type `json:"type"`
}

// MarshalJSON flattens the Event payload's fields alongside a "type"
// discriminator, so the wire shape is `{"type": "...", ...fields}` rather
// than a nested object.
func (e AdapterEvent) MarshalJSON() ([]byte, error) {
	payload, err := EncodeEvent(e.Event)
	if err != nil {
		return nil, fmt.Errorf("encode event for %s: %w", e.SourceEventID, err)
	}
	return json.Marshal(wireAdapterEvent{
		SourceEventID:    e.SourceEventID,
		SourceSequence:   e.SourceSequence,
		SourceOccurredAt: e.SourceOccurredAt,
		RunID:            e.RunID,
		AgentID:          e.AgentID,
		Event:            payload,
	})
}

// UnmarshalJSON reconstructs the typed Event variant from the "type"
// discriminator embedded in the wire payload.
func (e *AdapterEvent) UnmarshalJSON(data []byte) error {
	var w wireAdapterEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode adapter event envelope: %w", err)
	}
	evt, err := DecodeEvent(w.Event)
	if err != nil {
		return fmt.Errorf("decode adapter event %q payload: %w", w.SourceEventID, err)
	}
	e.SourceEventID = w.SourceEventID
	e.SourceSequence = w.SourceSequence
	e.SourceOccurredAt = w.SourceOccurredAt
	e.RunID = w.RunID
	e.AgentID = w.AgentID
	e.Event = evt
	return nil
}

// EncodeEvent marshals a variant together with its "type" discriminator into
// a single flat JSON object.
func EncodeEvent(evt Event) (json.RawMessage, error) {
	if evt == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	fields, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", evt.Type(), err)
	}
	// Merge {"type": "..."} into the variant's own field object.
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(fields, &merged); err != nil {
		return nil, fmt.Errorf("flatten %s payload: %w", evt.Type(), err)
	}
	typ, err := json.Marshal(evt.Type())
	if err != nil {
		return nil, fmt.Errorf("marshal type discriminator: %w", err)
	}
	merged["type"] = typ
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("remarshal %s payload: %w", evt.Type(), err)
	}
	return out, nil
}

// DecodeEvent reads the "type" discriminator from raw and unmarshals into
// the matching variant. Unrecognized types return an error rather than
// silently dropping the event; callers that must tolerate unknown variants
// (the validator's quarantine path) check for this before failing a batch.
func DecodeEvent(raw json.RawMessage) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode event type discriminator: %w", err)
	}
	switch w.Type {
	case TypeStatus:
		var v StatusEvent
		return decodeInto(raw, &v)
	case TypeProgress:
		var v ProgressEvent
		return decodeInto(raw, &v)
	case TypeToolCall:
		var v ToolCallEvent
		return decodeInto(raw, &v)
	case TypeDecision:
		var v DecisionEvent
		return decodeInto(raw, &v)
	case TypeArtifact:
		var v ArtifactEvent
		return decodeInto(raw, &v)
	case TypeCoherence:
		var v CoherenceEvent
		return decodeInto(raw, &v)
	case TypeCompletion:
		var v CompletionEvent
		return decodeInto(raw, &v)
	case TypeError:
		var v ErrorEvent
		return decodeInto(raw, &v)
	case TypeLifecycle:
		var v LifecycleEvent
		return decodeInto(raw, &v)
	case TypeDelegation:
		var v DelegationEvent
		return decodeInto(raw, &v)
	case TypeGuardrail:
		var v GuardrailEvent
		return decodeInto(raw, &v)
	case TypeRawProvider:
		var v RawProviderEvent
		return decodeInto(raw, &v)
	default:
		return nil, fmt.Errorf("unsupported event type %q", w.Type)
	}
}

// decodeInto is a small generic helper so DecodeEvent's switch stays a
// one-liner per case; Go generics let us avoid repeating the
// unmarshal-then-dereference boilerplate per variant.
func decodeInto[T Event](raw json.RawMessage, v *T) (Event, error) {
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", *v, err)
	}
	return *v, nil
}
