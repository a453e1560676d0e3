// Package plugin implements the aggregating per-agent plugin: the public
// contract matches the RPC plugin's, but it transparently supervises the
// underlying sandbox process and event stream, and owns crash detection
// (deduplicated between process-exit and stream-drop observations).
package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opsagents/controlplane/runtime/agent/bus"
	"github.com/opsagents/controlplane/runtime/agent/claudeshim"
	"github.com/opsagents/controlplane/runtime/agent/errortaxonomy"
	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/providerconfig"
	"github.com/opsagents/controlplane/runtime/agent/registry"
	"github.com/opsagents/controlplane/runtime/agent/rpcplugin"
	"github.com/opsagents/controlplane/runtime/agent/streamclient"
	"github.com/opsagents/controlplane/runtime/agent/supervisor"
	"github.com/opsagents/controlplane/runtime/agent/telemetry"
	"github.com/opsagents/controlplane/runtime/agent/token"
	"github.com/opsagents/controlplane/runtime/agent/validator"
)

// DefaultKillGraceTimeout is used when KillOptions.GraceTimeoutMs is unset
// and Grace is true.
const DefaultKillGraceTimeout = 5 * time.Second

// Config configures one Plugin. A Plugin instance is bound to one shim
// command (e.g. one provider's sandbox launcher); the operator wires up
// one Plugin per distinct shim kind.
type Config struct {
	Name string

	ShimCommand string
	ShimArgs    []string
	ShimEnv     map[string]string

	BackendURL             string
	ArtifactUploadEndpoint string

	HealthPollIntervalMs   int64
	HealthStartupTimeoutMs int64
	AnnounceTimeoutMs      int64
	TokenTTL               time.Duration

	Supervisor *supervisor.Supervisor
	Tokens     *token.Service
	Bus        *bus.Bus
	Validator  *validator.Validator
	Quarantine *validator.Quarantine
	Logger     telemetry.Logger

	// OnAgentCrash, if set, is notified after every process exit the crash
	// path handles (clean exits with code 0 included), once handleCrash has
	// finished tearing down local state.
	OnAgentCrash func(agentID string, exitCode *int, signal *string)
}

type record struct {
	rpcClient    *rpcplugin.Client
	streamClient *streamclient.Client
	port         int
	crashHandled bool

	exited     bool
	exitCode   *int
	exitSignal *string
	exitCh     chan struct{}
}

// Plugin is the aggregating per-agent plugin.
type Plugin struct {
	cfg Config

	mu      sync.Mutex
	records map[string]*record
}

// New constructs a Plugin.
func New(cfg Config) *Plugin {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	return &Plugin{cfg: cfg, records: make(map[string]*record)}
}

// Spawn implements the spawn sequence.
func (p *Plugin) Spawn(ctx context.Context, brief registry.AgentBrief) (registry.AgentHandle, error) {
	if err := providerconfig.Validate(brief.ProviderConfig); err != nil {
		return registry.AgentHandle{}, err
	}

	issued, err := p.cfg.Tokens.IssueToken(brief.AgentID, "", p.cfg.TokenTTL)
	if err != nil {
		return registry.AgentHandle{}, fmt.Errorf("plugin: issue token for %s: %w", brief.AgentID, err)
	}

	var onLogLine func(line string)
	if brief.RawProviderLogForwarding {
		adapter := claudeshim.NewAdapter(brief.AgentID, p.cfg.Bus, p.cfg.Logger)
		onLogLine = func(line string) {
			adapter.HandleLine([]byte(line))
		}
	}

	result, err := p.cfg.Supervisor.SpawnShim(ctx, brief.AgentID, supervisor.SpawnOptions{
		Command: p.cfg.ShimCommand,
		Args:    p.cfg.ShimArgs,
		Env:     p.cfg.ShimEnv,
		Bootstrap: supervisor.Bootstrap{
			BackendURL:             p.cfg.BackendURL,
			BackendToken:           issued.Token,
			TokenExpiresAt:         issued.ExpiresAt,
			AgentID:                brief.AgentID,
			ArtifactUploadEndpoint: p.cfg.ArtifactUploadEndpoint,
		},
		HealthPollIntervalMs:   p.cfg.HealthPollIntervalMs,
		HealthStartupTimeoutMs: p.cfg.HealthStartupTimeoutMs,
		AnnounceTimeoutMs:      p.cfg.AnnounceTimeoutMs,
		OnLogLine:              onLogLine,
	})
	if err != nil {
		return registry.AgentHandle{}, fmt.Errorf("plugin: spawn shim for %s: %w", brief.AgentID, err)
	}

	rpcClient := rpcplugin.New(rpcplugin.Config{RPCEndpoint: result.Transport.RPCEndpoint})

	rec := &record{rpcClient: rpcClient, port: result.Port, exitCh: make(chan struct{})}

	streamClient := streamclient.New(streamclient.Config{
		URL:        result.Transport.EventStreamEndpoint,
		AgentID:    brief.AgentID,
		Bus:        p.cfg.Bus,
		Validator:  p.cfg.Validator,
		Quarantine: p.cfg.Quarantine,
		Logger:     p.cfg.Logger,
		OnDisconnect: func() {
			p.onStreamDisconnect(brief.AgentID)
		},
	})
	rec.streamClient = streamClient

	p.mu.Lock()
	p.records[brief.AgentID] = rec
	p.mu.Unlock()

	p.cfg.Supervisor.OnExit(brief.AgentID, p.onProcessExit(brief.AgentID))

	if err := streamClient.Connect(); err != nil {
		p.cfg.Logger.Warn(ctx, "initial event stream connect failed, reconnect already scheduled",
			"agentId", brief.AgentID, "error", err)
	}

	handle, err := rpcClient.Spawn(ctx, brief)
	if err != nil {
		_ = streamClient.Close()
		_ = p.cfg.Supervisor.KillProcess(brief.AgentID)
		p.cfg.Supervisor.Cleanup(brief.AgentID)
		p.mu.Lock()
		delete(p.records, brief.AgentID)
		p.mu.Unlock()
		return registry.AgentHandle{}, fmt.Errorf("plugin: rpc spawn for %s: %w", brief.AgentID, err)
	}

	handle.PluginName = p.cfg.Name
	return handle, nil
}

// onProcessExit returns the ExitListener registered with the supervisor at
// spawn time.
func (p *Plugin) onProcessExit(agentID string) supervisor.ExitListener {
	return func(code *int, signal *string) {
		p.mu.Lock()
		rec, ok := p.records[agentID]
		if ok {
			rec.exited = true
			rec.exitCode = code
			rec.exitSignal = signal
			select {
			case <-rec.exitCh:
			default:
				close(rec.exitCh)
			}
		}
		p.mu.Unlock()

		p.handleCrash(agentID, code, signal)
	}
}

// onStreamDisconnect implements the onDisconnect policy: look
// up the record; if it doesn't exist or crashHandled, do nothing. Otherwise
// check the process state — if still alive, the stream's own reconnection
// handles it; if dead, trigger the crash pipeline with the exit info the
// process-exit listener already observed.
func (p *Plugin) onStreamDisconnect(agentID string) {
	p.mu.Lock()
	rec, ok := p.records[agentID]
	if !ok || rec.crashHandled || !rec.exited {
		p.mu.Unlock()
		return
	}
	code, signal := rec.exitCode, rec.exitSignal
	p.mu.Unlock()

	p.handleCrash(agentID, code, signal)
}

// handleCrash implements the crash-handling sequence; crashHandled is the
// one-shot latch so the first of {process-exit, stream-drop-with-dead-
// process, explicit kill} to observe termination owns this pipeline.
func (p *Plugin) handleCrash(agentID string, code *int, signal *string) {
	p.mu.Lock()
	rec, ok := p.records[agentID]
	if !ok || rec.crashHandled {
		p.mu.Unlock()
		return
	}
	rec.crashHandled = true
	p.mu.Unlock()

	_ = rec.streamClient.Close()
	p.cfg.Supervisor.Cleanup(agentID)
	p.mu.Lock()
	delete(p.records, agentID)
	p.mu.Unlock()

	if p.cfg.OnAgentCrash != nil {
		p.cfg.OnAgentCrash(agentID, code, signal)
	}

	if code != nil && *code == 0 {
		return
	}

	p.publishCrashSynthetics(agentID, code, signal)
}

func (p *Plugin) publishCrashSynthetics(agentID string, code *int, signal *string) {
	runID := fmt.Sprintf("crash-%s-%d", agentID, time.Now().UnixMilli())
	reason := crashReason(code, signal)

	errEnvelope := event.EventEnvelope{
		AdapterEvent: event.AdapterEvent{
			SourceEventID:    runID + "-error",
			SourceSequence:   event.SyntheticSourceSequence,
			SourceOccurredAt: time.Now(),
			RunID:            runID,
			AgentID:          agentID,
			Event: event.ErrorEvent{
				Severity:    event.SeverityCritical,
				Recoverable: false,
				Category:    string(errortaxonomy.CategoryCrash),
				Message:     errortaxonomy.MessageCrash + " (" + reason + ")",
			},
		},
		IngestedAt: time.Now(),
	}
	lifecycleEnvelope := event.EventEnvelope{
		AdapterEvent: event.AdapterEvent{
			SourceEventID:    runID + "-lifecycle",
			SourceSequence:   event.SyntheticSourceSequence,
			SourceOccurredAt: time.Now(),
			RunID:            runID,
			AgentID:          agentID,
			Event: event.LifecycleEvent{
				Action: event.LifecycleCrashed,
				Reason: reason,
			},
		},
		IngestedAt: time.Now(),
	}

	p.cfg.Bus.Publish(context.Background(), errEnvelope)
	p.cfg.Bus.Publish(context.Background(), lifecycleEnvelope)
}

func crashReason(code *int, signal *string) string {
	switch {
	case signal != nil:
		return fmt.Sprintf("signal=%s", *signal)
	case code != nil:
		return fmt.Sprintf("code=%d", *code)
	default:
		return "unknown"
	}
}

// Kill implements the kill sequence.
func (p *Plugin) Kill(ctx context.Context, handle registry.AgentHandle, opts registry.KillOptions) (registry.KillResult, error) {
	p.mu.Lock()
	rec, ok := p.records[handle.ID]
	if ok {
		rec.crashHandled = true
	}
	p.mu.Unlock()
	if !ok {
		return registry.KillResult{}, fmt.Errorf("plugin: no record for %s", handle.ID)
	}

	result, err := rec.rpcClient.Kill(ctx, handle, opts)
	if err != nil {
		result = registry.KillResult{ArtifactsExtracted: 0, CleanShutdown: false}
	}

	p.terminate(handle.ID, rec, opts)
	return result, nil
}

// terminate closes the stream, signals the process to stop (honoring the
// requested grace period before escalating to SIGKILL), and removes all
// local tracking.
func (p *Plugin) terminate(agentID string, rec *record, opts registry.KillOptions) {
	_ = rec.streamClient.Close()

	if opts.Grace {
		_ = p.cfg.Supervisor.KillProcess(agentID)
		grace := time.Duration(opts.GraceTimeoutMs) * time.Millisecond
		if grace <= 0 {
			grace = DefaultKillGraceTimeout
		}
		select {
		case <-rec.exitCh:
		case <-time.After(grace):
			_ = p.cfg.Supervisor.ForceKillProcess(agentID)
		}
	} else {
		_ = p.cfg.Supervisor.ForceKillProcess(agentID)
	}

	p.cfg.Supervisor.Cleanup(agentID)
	p.mu.Lock()
	delete(p.records, agentID)
	p.mu.Unlock()
}

// KillAll tears down every tracked agent without consulting its sandbox.
func (p *Plugin) KillAll() {
	p.mu.Lock()
	agentIDs := make([]string, 0, len(p.records))
	for id := range p.records {
		agentIDs = append(agentIDs, id)
	}
	p.mu.Unlock()

	for _, id := range agentIDs {
		p.mu.Lock()
		rec, ok := p.records[id]
		if ok {
			rec.crashHandled = true
		}
		p.mu.Unlock()
		if !ok {
			continue
		}
		p.terminate(id, rec, registry.KillOptions{Grace: true})
	}
}

func (p *Plugin) get(agentID string) (*record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[agentID]
	if !ok {
		return nil, fmt.Errorf("plugin: no record for %s", agentID)
	}
	return rec, nil
}

// Pause delegates to the per-agent RPC client.
func (p *Plugin) Pause(ctx context.Context, handle registry.AgentHandle) (registry.SerializedAgentState, error) {
	rec, err := p.get(handle.ID)
	if err != nil {
		return registry.SerializedAgentState{}, err
	}
	return rec.rpcClient.Pause(ctx, handle)
}

// Resume delegates to the per-agent RPC client, keyed by state.AgentID.
func (p *Plugin) Resume(ctx context.Context, state registry.SerializedAgentState) (registry.AgentHandle, error) {
	rec, err := p.get(state.AgentID)
	if err != nil {
		return registry.AgentHandle{}, err
	}
	return rec.rpcClient.Resume(ctx, state)
}

// ResolveDecision delegates to the per-agent RPC client.
func (p *Plugin) ResolveDecision(ctx context.Context, handle registry.AgentHandle, decisionID string, resolution any) error {
	rec, err := p.get(handle.ID)
	if err != nil {
		return err
	}
	return rec.rpcClient.ResolveDecision(ctx, handle, decisionID, resolution)
}

// InjectContext delegates to the per-agent RPC client.
func (p *Plugin) InjectContext(ctx context.Context, handle registry.AgentHandle, inj registry.ContextInjection) error {
	rec, err := p.get(handle.ID)
	if err != nil {
		return err
	}
	return rec.rpcClient.InjectContext(ctx, handle, inj)
}

// UpdateBrief delegates to the per-agent RPC client.
func (p *Plugin) UpdateBrief(ctx context.Context, handle registry.AgentHandle, changes registry.UpdateBriefChanges) error {
	rec, err := p.get(handle.ID)
	if err != nil {
		return err
	}
	return rec.rpcClient.UpdateBrief(ctx, handle, changes)
}

// RequestCheckpoint delegates to the per-agent RPC client.
func (p *Plugin) RequestCheckpoint(ctx context.Context, handle registry.AgentHandle, decisionID string) (registry.SerializedAgentState, error) {
	rec, err := p.get(handle.ID)
	if err != nil {
		return registry.SerializedAgentState{}, err
	}
	return rec.rpcClient.RequestCheckpoint(ctx, handle, decisionID)
}
