package validator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func validFrame(t *testing.T) json.RawMessage {
	t.Helper()
	return json.RawMessage(`{
		"sourceEventId": "evt-1",
		"sourceSequence": 1,
		"sourceOccurredAt": "2026-07-30T00:00:00Z",
		"runId": "run-1",
		"agentId": "agent-1",
		"event": {"type": "status", "message": "working"}
	}`)
}

func TestValidateAdapterEventAccepts(t *testing.T) {
	v := New()
	ev, err := v.ValidateAdapterEvent(validFrame(t))
	require.NoError(t, err)
	require.Equal(t, "agent-1", ev.AgentID)
	require.Equal(t, "run-1", ev.RunID)
}

func TestValidateAdapterEventRejectsMissingField(t *testing.T) {
	v := New()
	raw := json.RawMessage(`{"sourceSequence": 1, "event": {"type": "status"}}`)
	_, err := v.ValidateAdapterEvent(raw)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.NotEmpty(t, ve.Issues)
}

func TestValidateAdapterEventRejectsUnknownType(t *testing.T) {
	v := New()
	raw := json.RawMessage(`{
		"sourceEventId": "evt-1",
		"sourceSequence": 1,
		"sourceOccurredAt": "2026-07-30T00:00:00Z",
		"runId": "run-1",
		"agentId": "agent-1",
		"event": {"type": "not_a_real_type"}
	}`)
	_, err := v.ValidateAdapterEvent(raw)
	require.Error(t, err)
}

func TestValidateAdapterEventRejectsMalformedJSON(t *testing.T) {
	v := New()
	_, err := v.ValidateAdapterEvent(json.RawMessage(`{not json`))
	require.Error(t, err)
}

func TestQuarantineFIFOEviction(t *testing.T) {
	q := NewQuarantine(2)
	q.QuarantineEvent(json.RawMessage(`{"a":1}`), errString("first"))
	q.QuarantineEvent(json.RawMessage(`{"a":2}`), errString("second"))
	q.QuarantineEvent(json.RawMessage(`{"a":3}`), errString("third"))

	entries := q.ListQuarantine()
	require.Len(t, entries, 2)
	require.Equal(t, "second", entries[0].Error)
	require.Equal(t, "third", entries[1].Error)
}

func TestClearQuarantineEmpties(t *testing.T) {
	q := NewQuarantine(0)
	q.QuarantineEvent(json.RawMessage(`{}`), errString("x"))
	require.Len(t, q.ListQuarantine(), 1)

	q.ClearQuarantine()
	require.Empty(t, q.ListQuarantine())
}

type errString string

func (e errString) Error() string { return string(e) }
