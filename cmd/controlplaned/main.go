// Command controlplaned wires together the tick service, token service,
// event bus, decision queue, trust engine, registry, agent plugin, and
// pipeline described in this repository, then blocks until it receives a
// shutdown signal.
//
// CLI flags, config file loading, and graceful-shutdown orchestration
// beyond SIGINT/SIGTERM are deliberately out of scope;
// production deployments are expected to wrap this composition with their
// own flag parsing and secret loading.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/opsagents/controlplane/runtime/agent/bus"
	"github.com/opsagents/controlplane/runtime/agent/classifier"
	"github.com/opsagents/controlplane/runtime/agent/collab"
	"github.com/opsagents/controlplane/runtime/agent/decision"
	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/pipeline"
	"github.com/opsagents/controlplane/runtime/agent/plugin"
	"github.com/opsagents/controlplane/runtime/agent/registry"
	"github.com/opsagents/controlplane/runtime/agent/supervisor"
	"github.com/opsagents/controlplane/runtime/agent/telemetry"
	"github.com/opsagents/controlplane/runtime/agent/tick"
	"github.com/opsagents/controlplane/runtime/agent/token"
	"github.com/opsagents/controlplane/runtime/agent/trust"
	"github.com/opsagents/controlplane/runtime/agent/validator"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewClueLogger()

	secret := []byte(os.Getenv("CONTROLPLANE_TOKEN_SECRET"))
	if len(secret) == 0 {
		log.Fatal(ctx, errors.New("CONTROLPLANE_TOKEN_SECRET must be set"))
	}

	ticks := tick.New(tick.ModeWallClock, time.Second, logger)
	ticks.Start()
	defer ticks.Stop()

	eventBus := bus.New()
	decisions := decision.New(logger)
	trustEngine := trust.New(nil, logger)
	reg := registry.New()
	tokens := token.New(secret)
	sup := supervisor.New(logger)

	shimPlugin := plugin.New(plugin.Config{
		Name:                   "claude-shim",
		ShimCommand:            os.Getenv("CONTROLPLANE_SHIM_COMMAND"),
		BackendURL:             os.Getenv("CONTROLPLANE_BACKEND_URL"),
		ArtifactUploadEndpoint: os.Getenv("CONTROLPLANE_ARTIFACT_UPLOAD_ENDPOINT"),
		HealthPollIntervalMs:   200,
		HealthStartupTimeoutMs: 30_000,
		AnnounceTimeoutMs:      10_000,
		TokenTTL:               time.Hour,
		Supervisor:             sup,
		Tokens:                 tokens,
		Bus:                    eventBus,
		Validator:              validator.New(),
		Quarantine:             validator.NewQuarantine(1000),
		Logger:                 logger,
		OnAgentCrash: func(agentID string, exitCode *int, signal *string) {
			log.Print(ctx, log.KV{K: "event", V: "agent_crashed"}, log.KV{K: "agentId", V: agentID})
		},
	})

	p := pipeline.New(pipeline.Config{
		Bus:            eventBus,
		Decisions:      decisions,
		Trust:          trustEngine,
		Registry:       reg,
		Plugin:         shimPlugin,
		Ticks:          ticks,
		Hub:            noopHub{},
		KnowledgeStore: collab.NewMemKnowledgeStore(),
		Coherence:      collab.NopCoherenceMonitor{},
		Logger:         logger,
	})
	sub, err := p.Start()
	if err != nil {
		log.Fatal(ctx, err)
	}
	defer func() { _ = sub.Close() }()

	log.Print(ctx, log.KV{K: "event", V: "controlplane started"})

	<-ctx.Done()
	log.Print(ctx, log.KV{K: "event", V: "shutting down"})
	shimPlugin.KillAll()
}

// noopHub discards every broadcast. Production wiring replaces this with a
// real WebSocket hub implementing collab.Hub; this repository does not own
// that transport.
type noopHub struct{}

func (noopHub) Broadcast(context.Context, event.EventEnvelope, classifier.Routing) error {
	return nil
}
