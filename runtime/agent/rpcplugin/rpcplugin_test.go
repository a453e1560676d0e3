package rpcplugin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsagents/controlplane/runtime/agent/registry"
)

func TestSpawnPostsBriefAndDecodesHandle(t *testing.T) {
	var gotPath string
	var gotBody registry.AgentBrief
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registry.AgentHandle{ID: "agent-1", Status: registry.StatusRunning})
	}))
	defer srv.Close()

	c := New(Config{RPCEndpoint: srv.URL})
	handle, err := c.Spawn(context.Background(), registry.AgentBrief{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, "/spawn", gotPath)
	require.Equal(t, "agent-1", gotBody.AgentID)
	require.Equal(t, registry.StatusRunning, handle.Status)
}

func TestCallReturnsTypedErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("sandbox unavailable"))
	}))
	defer srv.Close()

	c := New(Config{RPCEndpoint: srv.URL})
	_, err := c.Pause(context.Background(), registry.AgentHandle{ID: "agent-1"})
	require.Error(t, err)

	var httpErr *AdapterHTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, "/pause", httpErr.Endpoint)
	require.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	require.Contains(t, httpErr.Body, "sandbox unavailable")
}

func TestKillPostsOptsAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var opts registry.KillOptions
		require.NoError(t, json.NewDecoder(r.Body).Decode(&opts))
		require.True(t, opts.Grace)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registry.KillResult{ArtifactsExtracted: 2, CleanShutdown: true})
	}))
	defer srv.Close()

	c := New(Config{RPCEndpoint: srv.URL})
	result, err := c.Kill(context.Background(), registry.AgentHandle{ID: "agent-1"}, registry.KillOptions{Grace: true})
	require.NoError(t, err)
	require.Equal(t, 2, result.ArtifactsExtracted)
	require.True(t, result.CleanShutdown)
}

func TestResolveDecisionPostsPayloadNoResponseBody(t *testing.T) {
	var gotBody registry.DecisionResolution
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Config{RPCEndpoint: srv.URL})
	err := c.ResolveDecision(context.Background(), registry.AgentHandle{ID: "agent-1"}, "decision-1", "approve")
	require.NoError(t, err)
	require.Equal(t, "decision-1", gotBody.DecisionID)
}

func TestRequestCheckpointDecodesSerializedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registry.SerializedAgentState{AgentID: "agent-1", Blob: json.RawMessage(`{"k":"v"}`)})
	}))
	defer srv.Close()

	c := New(Config{RPCEndpoint: srv.URL})
	state, err := c.RequestCheckpoint(context.Background(), registry.AgentHandle{ID: "agent-1"}, "decision-1")
	require.NoError(t, err)
	require.Equal(t, "agent-1", state.AgentID)
}
