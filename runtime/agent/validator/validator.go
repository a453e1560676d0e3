// Package validator checks inbound adapter event frames against a JSON
// Schema before they are allowed onto the bus, and quarantines whatever
// fails so operators can inspect malformed traffic without it ever reaching
// a subscriber.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/opsagents/controlplane/runtime/agent/event"
)

// schemaDoc requires the envelope fields and recognizes every event
// variant's type discriminator. Per-variant required fields are left loose
// (the codec itself enforces exact shapes); this schema's job is to catch
// the envelope-level and discriminator-level issues the spec calls out.
var schemaDoc = map[string]any{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type":    "object",
	"required": []string{
		"sourceEventId", "sourceSequence", "sourceOccurredAt", "runId", "agentId", "event",
	},
	"properties": map[string]any{
		"sourceEventId":    map[string]any{"type": "string", "minLength": 1},
		"sourceSequence":   map[string]any{"type": "integer"},
		"sourceOccurredAt": map[string]any{"type": "string"},
		"runId":            map[string]any{"type": "string", "minLength": 1},
		"agentId":          map[string]any{"type": "string", "minLength": 1},
		"event": map[string]any{
			"type":     "object",
			"required": []string{"type"},
			"properties": map[string]any{
				"type": map[string]any{
					"enum": []string{
						string(event.TypeStatus), string(event.TypeProgress), string(event.TypeToolCall),
						string(event.TypeDecision), string(event.TypeArtifact), string(event.TypeCoherence),
						string(event.TypeCompletion), string(event.TypeError), string(event.TypeLifecycle),
						string(event.TypeDelegation), string(event.TypeGuardrail), string(event.TypeRawProvider),
					},
				},
			},
		},
	},
}

// ValidationError reports why a frame was rejected, alongside the raw bytes
// that failed so the caller can quarantine them unmodified.
type ValidationError struct {
	Issues []string
	Raw    json.RawMessage
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate adapter event: %s", strings.Join(e.Issues, "; "))
}

// Validator compiles the envelope schema once and validates frames against
// it before handing them to the event codec.
type Validator struct {
	schema *jsonschema.Schema
}

// New compiles the envelope schema. It panics only if the embedded schema
// itself is malformed, which would be a programming error, not a runtime
// condition callers need to handle.
func New() *Validator {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("adapter-event.json", schemaDoc); err != nil {
		panic(fmt.Sprintf("validator: add schema resource: %v", err))
	}
	schema, err := c.Compile("adapter-event.json")
	if err != nil {
		panic(fmt.Sprintf("validator: compile schema: %v", err))
	}
	return &Validator{schema: schema}
}

// ValidateAdapterEvent validates raw against the envelope schema and, on
// success, fully decodes it into an AdapterEvent (catching variant-shape
// issues the schema itself does not enforce). On any failure it returns a
// *ValidationError carrying every issue found and the original bytes,
// ready to hand to Quarantine.
func (v *Validator) ValidateAdapterEvent(raw json.RawMessage) (event.AdapterEvent, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return event.AdapterEvent{}, &ValidationError{Issues: []string{err.Error()}, Raw: raw}
	}

	if err := v.schema.Validate(doc); err != nil {
		return event.AdapterEvent{}, &ValidationError{Issues: issuesFrom(err), Raw: raw}
	}

	var ev event.AdapterEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return event.AdapterEvent{}, &ValidationError{Issues: []string{err.Error()}, Raw: raw}
	}
	return ev, nil
}

// issuesFrom flattens a jsonschema validation error into one issue message
// per line of its (already tree-formatted) error text, so a single failed
// "required" or "enum" keyword surfaces as one readable issue rather than
// one giant nested string.
func issuesFrom(err error) []string {
	lines := strings.Split(err.Error(), "\n")
	issues := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			issues = append(issues, l)
		}
	}
	if len(issues) == 0 {
		issues = []string{err.Error()}
	}
	return issues
}
