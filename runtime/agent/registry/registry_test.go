package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(AgentHandle{ID: "agent-1", Status: StatusRunning}))

	h, err := r.Get("agent-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, h.Status)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(AgentHandle{ID: "agent-1"}))
	err := r.Register(AgentHandle{ID: "agent-1"})
	require.True(t, errors.Is(err, ErrAgentExists))
}

func TestGetUnknownFails(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	require.True(t, errors.Is(err, ErrAgentNotFound))
}

func TestUpdateStatus(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(AgentHandle{ID: "agent-1", Status: StatusRunning}))
	require.NoError(t, r.UpdateStatus("agent-1", StatusWaitingOnHuman))

	h, err := r.Get("agent-1")
	require.NoError(t, err)
	require.Equal(t, StatusWaitingOnHuman, h.Status)
}

func TestUpdateStatusUnknownFails(t *testing.T) {
	r := New()
	err := r.UpdateStatus("missing", StatusPaused)
	require.True(t, errors.Is(err, ErrAgentNotFound))
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(AgentHandle{ID: "agent-1"}))
	r.Remove("agent-1")
	r.Remove("agent-1")

	_, err := r.Get("agent-1")
	require.True(t, errors.Is(err, ErrAgentNotFound))
}

func TestListSnapshot(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(AgentHandle{ID: "agent-1"}))
	require.NoError(t, r.Register(AgentHandle{ID: "agent-2"}))

	require.Len(t, r.List(), 2)
}
