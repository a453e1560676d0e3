// Package rpcplugin translates each agent lifecycle operation into exactly
// one HTTP call against a spawned sandbox, per the fixed endpoint table in
// spawn/pause/resume/kill/resolveDecision/injectContext/
// updateBrief/requestCheckpoint.
package rpcplugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/opsagents/controlplane/runtime/agent/registry"
)

// AdapterHTTPError is returned for any non-2xx sandbox response.
type AdapterHTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *AdapterHTTPError) Error() string {
	return fmt.Sprintf("rpcplugin: %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// DefaultRequestsPerSecond bounds how often one Client issues HTTP calls to
// its sandbox, so a misbehaving sandbox issuing rapid checkpoint/resolve
// calls cannot starve the shared HTTP client's connection pool.
const DefaultRequestsPerSecond = 20

// Config configures one Client bound to a single sandbox's RPC endpoint.
type Config struct {
	// RPCEndpoint is the sandbox's base URL, e.g. "http://localhost:8080".
	RPCEndpoint string

	HTTPClient          *http.Client
	RequestsPerSecond   float64
	Burst               int
}

// Client translates lifecycle operations into HTTP calls on one sandbox.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New constructs a Client for one sandbox.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		endpoint:   cfg.RPCEndpoint,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Spawn calls POST /spawn with the brief's bit-exact JSON.
func (c *Client) Spawn(ctx context.Context, brief registry.AgentBrief) (registry.AgentHandle, error) {
	var out registry.AgentHandle
	err := c.call(ctx, "/spawn", brief, &out)
	return out, err
}

// Pause calls POST /pause.
func (c *Client) Pause(ctx context.Context, handle registry.AgentHandle) (registry.SerializedAgentState, error) {
	var out registry.SerializedAgentState
	err := c.call(ctx, "/pause", nil, &out)
	return out, err
}

// Resume calls POST /resume with the serialized state.
func (c *Client) Resume(ctx context.Context, state registry.SerializedAgentState) (registry.AgentHandle, error) {
	var out registry.AgentHandle
	err := c.call(ctx, "/resume", state, &out)
	return out, err
}

// Kill calls POST /kill. opts defaults to grace=true if zero-valued by the
// caller's intent; this package does not supply that default itself —
// callers (the aggregating plugin) are expected to pass an explicit value.
func (c *Client) Kill(ctx context.Context, handle registry.AgentHandle, opts registry.KillOptions) (registry.KillResult, error) {
	var out registry.KillResult
	err := c.call(ctx, "/kill", opts, &out)
	return out, err
}

// ResolveDecision calls POST /resolve.
func (c *Client) ResolveDecision(ctx context.Context, handle registry.AgentHandle, decisionID string, resolution any) error {
	body := registry.DecisionResolution{DecisionID: decisionID, Resolution: resolution}
	return c.call(ctx, "/resolve", body, nil)
}

// InjectContext calls POST /inject-context. The handle is not part of the
// request body per the fixed endpoint table.
func (c *Client) InjectContext(ctx context.Context, handle registry.AgentHandle, inj registry.ContextInjection) error {
	return c.call(ctx, "/inject-context", inj, nil)
}

// UpdateBrief calls POST /update-brief.
func (c *Client) UpdateBrief(ctx context.Context, handle registry.AgentHandle, changes registry.UpdateBriefChanges) error {
	return c.call(ctx, "/update-brief", struct {
		Changes registry.UpdateBriefChanges `json:"changes"`
	}{Changes: changes}, nil)
}

// RequestCheckpoint calls POST /checkpoint.
func (c *Client) RequestCheckpoint(ctx context.Context, handle registry.AgentHandle, decisionID string) (registry.SerializedAgentState, error) {
	var out registry.SerializedAgentState
	err := c.call(ctx, "/checkpoint", struct {
		DecisionID string `json:"decisionId"`
	}{DecisionID: decisionID}, &out)
	return out, err
}

// call issues one rate-limited POST to path with body marshaled as JSON
// (skipped entirely if body is nil), decoding the response into out
// (skipped if out is nil). Non-2xx responses return *AdapterHTTPError;
// network errors surface as-is, wrapped with %w.
func (c *Client) call(ctx context.Context, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rpcplugin: rate limiter wait for %s: %w", path, err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rpcplugin: marshal request for %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("rpcplugin: build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpcplugin: %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AdapterHTTPError{Endpoint: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("rpcplugin: decode response from %s: %w", path, err)
	}
	return nil
}
