// Package trust tracks a per-agent integer trust score in [10, 100],
// nudged up or down by a small table of human and task outcomes with
// diminishing returns near the clamp boundaries so no single outcome can
// swing an already-extreme score.
package trust

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/opsagents/controlplane/runtime/agent/telemetry"
)

// Outcome is a fixed label for something that happened that should move an
// agent's trust score.
type Outcome string

const (
	OutcomeHumanApprovesToolCall       Outcome = "human_approves_tool_call"
	OutcomeHumanRejectsToolCall        Outcome = "human_rejects_tool_call"
	OutcomeHumanApprovesRecommended    Outcome = "human_approves_recommended_option"
	OutcomeHumanPicksNonRecommended    Outcome = "human_picks_non_recommended"
	OutcomeHumanOverridesAgentDecision Outcome = "human_overrides_agent_decision"
	OutcomeHumanApprovesAlways         Outcome = "human_approves_always"
	OutcomeTaskCompletedClean          Outcome = "task_completed_clean"
	OutcomeTaskCompletedPartial        Outcome = "task_completed_partial"
	OutcomeTaskAbandonedOrMaxTurns     Outcome = "task_abandoned_or_max_turns"
	OutcomeErrorEvent                  Outcome = "error_event"
)

const (
	// DefaultScore is assigned to an agent the first time its score is
	// touched, either via Score or ApplyOutcome.
	DefaultScore = 50
	minScore     = 10
	maxScore     = 100
)

var baseDelta = map[Outcome]int{
	OutcomeHumanApprovesToolCall:       1,
	OutcomeHumanRejectsToolCall:        -2,
	OutcomeHumanApprovesRecommended:    2,
	OutcomeHumanPicksNonRecommended:    -1,
	OutcomeHumanOverridesAgentDecision: -3,
	OutcomeHumanApprovesAlways:         3,
	OutcomeTaskCompletedClean:          3,
	OutcomeTaskCompletedPartial:        1,
	OutcomeTaskAbandonedOrMaxTurns:     -2,
	OutcomeErrorEvent:                  -2,
}

type (
	// HistoryEntry records one applied outcome.
	HistoryEntry struct {
		Outcome Outcome   `json:"outcome"`
		Delta   int       `json:"delta"`
		Tick    int64     `json:"tick"`
		At      time.Time `json:"at"`
	}

	// Record is one agent's trust state.
	Record struct {
		AgentID string         `json:"agentId"`
		Score   int            `json:"score"`
		History []HistoryEntry `json:"history"`
	}

	// Ticker is the subset of the tick service's contract SubscribeTo
	// needs. Defined locally so this package never imports the tick
	// package — SubscribeTo is a stub today and any concrete dependency
	// would be premature.
	Ticker interface {
		SubscribeTo(handler func(tick int64))
	}

	// Engine computes and persists trust scores.
	Engine struct {
		mu      sync.Mutex
		records map[string]*Record
		store   Store
		logger  telemetry.Logger
	}
)

// New constructs an Engine. store may be nil, in which case scores live
// only in memory for the process lifetime.
func New(store Store, logger telemetry.Logger) *Engine {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Engine{
		records: make(map[string]*Record),
		store:   store,
		logger:  logger,
	}
}

// Score returns agentID's current trust score, initializing it to
// DefaultScore on first touch.
func (e *Engine) Score(ctx context.Context, agentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recordLocked(ctx, agentID).Score
}

// ApplyOutcome applies outcome's base delta (adjusted for diminishing
// returns near the clamp boundaries) to agentID's score and returns that
// signed, diminished delta; the score itself is then clamped to
// [10, 100], so at a bound it may move by less. An unrecognized outcome applies a zero
// delta and returns an error; the score is left unchanged.
func (e *Engine) ApplyOutcome(ctx context.Context, agentID string, outcome Outcome, tick int64) (int, error) {
	base, ok := baseDelta[outcome]
	if !ok {
		return 0, fmt.Errorf("trust: unrecognized outcome %q", outcome)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.recordLocked(ctx, agentID)
	delta := diminish(rec.Score, base)
	rec.Score = clamp(rec.Score+delta, minScore, maxScore)
	rec.History = append(rec.History, HistoryEntry{Outcome: outcome, Delta: delta, Tick: tick, At: time.Now()})

	if e.store != nil {
		if err := e.store.Save(ctx, rec); err != nil {
			e.logger.Warn(ctx, "trust: failed to persist record", "agentId", agentID, "error", err)
		}
	}

	return delta, nil
}

// SubscribeTo is a no-op reserved for a future time-decay policy (scores
// drifting back toward DefaultScore absent new outcomes). Safe to call
// today; it does not register anything with ticker.
func (e *Engine) SubscribeTo(ticker Ticker) {}

// recordLocked returns agentID's record, loading it from the store or
// creating it at DefaultScore if this is the first touch. Callers must
// hold e.mu.
func (e *Engine) recordLocked(ctx context.Context, agentID string) *Record {
	if rec, ok := e.records[agentID]; ok {
		return rec
	}
	if e.store != nil {
		if rec, err := e.store.Load(ctx, agentID); err == nil {
			e.records[agentID] = rec
			return rec
		}
	}
	rec := &Record{AgentID: agentID, Score: DefaultScore}
	e.records[agentID] = rec
	return rec
}

// diminish halves (floor, minimum magnitude 1) a positive delta when the
// score is already above 90, and halves (ceiling, toward zero) a negative
// delta when the score is already below 20. Otherwise delta passes through
// unchanged.
func diminish(score, delta int) int {
	switch {
	case score > 90 && delta > 0:
		h := delta / 2
		if h < 1 {
			h = 1
		}
		return h
	case score < 20 && delta < 0:
		return int(math.Ceil(float64(delta) / 2))
	default:
		return delta
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
