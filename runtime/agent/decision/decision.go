// Package decision implements the pending/triage state machine for human
// decision points raised by agents (tool approvals and multi-option
// choices). An entry starts pending, resolves directly, or — if its owning
// agent goes quiet past a grace period or is killed outright — escalates to
// triage for a human to pick up.
package decision

import (
	"context"
	"fmt"
	"sync"

	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/telemetry"
)

// Status is the lifecycle state of a DecisionQueueEntry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusTriage   Status = "triage"
	StatusResolved Status = "resolved"
)

// Priority mirrors the bus's notion of priority but is owned independently
// by the queue, since an entry's priority can be raised after enqueue
// (emergency-brake triage) without touching the bus.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	// PriorityCritical is reserved for entries escalated by
	// HandleAgentKilled; it outranks every priority a decision is ever
	// enqueued at.
	PriorityCritical Priority = "critical"
)

const (
	badgeGracePeriod = "grace period"
	badgeAgentKilled = "agent killed"
)

// Entry is a DecisionQueueEntry: one pending or resolved human decision
// point. Once Status is StatusResolved, an entry is immutable for queue
// purposes and retained only as history.
type Entry struct {
	DecisionID        string
	AgentID           string
	Event             event.Event
	EnqueuedAtTick    int64
	Status            Status
	Badge             string
	Priority          Priority
	GraceDeadlineTick *int64
	Resolution        any
}

// An Entry's Resolution is stored exactly as passed to Resolve; the queue
// does not interpret it, it only keeps it for callers of ListAll.

// Queue holds the control plane's decision entries, indexed by decisionId
// with a secondary per-agent index for HandleAgentKilled and
// ScheduleOrphanTriage.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*Entry
	byAgent map[string][]string
	grace   map[string]int64 // agentID -> grace deadline tick, for ScheduleOrphanTriage
	logger  telemetry.Logger
}

// New constructs an empty Queue.
func New(logger telemetry.Logger) *Queue {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Queue{
		entries: make(map[string]*Entry),
		byAgent: make(map[string][]string),
		grace:   make(map[string]int64),
		logger:  logger,
	}
}

// Enqueue adds a new pending entry for decisionID, raised by agentID at
// nowTick, carrying evt and the priority chosen by the caller (the pipeline
// enqueues decisions at PriorityMedium).
func (q *Queue) Enqueue(decisionID, agentID string, evt event.Event, nowTick int64, priority Priority) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := &Entry{
		DecisionID:     decisionID,
		AgentID:        agentID,
		Event:          evt,
		EnqueuedAtTick: nowTick,
		Status:         StatusPending,
		Priority:       priority,
	}
	q.entries[decisionID] = e
	q.byAgent[agentID] = append(q.byAgent[agentID], decisionID)
	return e
}

// Resolve moves decisionID to resolved, recording resolution for history.
// Resolution during the grace period is allowed. Returns an error if
// decisionID is unknown or already resolved.
func (q *Queue) Resolve(decisionID string, resolution any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[decisionID]
	if !ok {
		return fmt.Errorf("decision: unknown decision id %q", decisionID)
	}
	if e.Status == StatusResolved {
		return fmt.Errorf("decision: %q already resolved", decisionID)
	}
	e.Status = StatusResolved
	e.Resolution = resolution
	e.Badge = ""
	return nil
}

// ScheduleOrphanTriage is the policy path: it sets a grace deadline for
// agentID at nowTick+graceTicks. Every currently-pending entry for agentID
// is badged "grace period" with that deadline. Entries enqueued for
// agentID after this call while the grace window is still open inherit the
// same deadline via OnTick's bookkeeping, not this call.
func (q *Queue) ScheduleOrphanTriage(agentID string, nowTick, graceTicks int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := nowTick + graceTicks
	q.grace[agentID] = deadline
	for _, id := range q.byAgent[agentID] {
		e := q.entries[id]
		if e.Status != StatusPending {
			continue
		}
		d := deadline
		e.GraceDeadlineTick = &d
		e.Badge = badgeGracePeriod
	}
}

// HandleAgentKilled is the emergency-brake path: it skips the grace period
// entirely and moves every pending entry for agentID straight to triage
// with badge "agent killed" and PriorityCritical.
func (q *Queue) HandleAgentKilled(agentID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.grace, agentID)
	for _, id := range q.byAgent[agentID] {
		e := q.entries[id]
		if e.Status != StatusPending {
			continue
		}
		e.Status = StatusTriage
		e.Badge = badgeAgentKilled
		e.Priority = PriorityCritical
	}
}

// OnTick is the handler to subscribe to the tick service. On every tick it
// expires pending entries whose GraceDeadlineTick has passed into triage.
// A pending entry with no deadline that was enqueued for an agent before
// that agent's grace deadline first inherits the deadline and the "grace
// period" badge. Resolved entries are never demoted or re-orphaned; the
// grace period only ever moves an entry forward, never back to pending.
func (q *Queue) OnTick(tick int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.Status != StatusPending {
			continue
		}
		if e.GraceDeadlineTick == nil {
			deadline, ok := q.grace[e.AgentID]
			if !ok || e.EnqueuedAtTick >= deadline {
				continue
			}
			d := deadline
			e.GraceDeadlineTick = &d
			e.Badge = badgeGracePeriod
		}
		if tick >= *e.GraceDeadlineTick {
			e.Status = StatusTriage
			e.Badge = badgeAgentKilled
			q.logger.Info(context.Background(), "decision entry orphaned past grace deadline",
				"decisionId", e.DecisionID, "agentId", e.AgentID, "tick", tick)
		}
	}
}

// ListPending returns only entries with Status == StatusPending.
func (q *Queue) ListPending() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Entry
	for _, e := range q.entries {
		if e.Status == StatusPending {
			out = append(out, cloneEntry(e))
		}
	}
	return out
}

// ListAll returns every entry regardless of status.
func (q *Queue) ListAll() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, cloneEntry(e))
	}
	return out
}

func cloneEntry(e *Entry) *Entry {
	clone := *e
	if e.GraceDeadlineTick != nil {
		d := *e.GraceDeadlineTick
		clone.GraceDeadlineTick = &d
	}
	return &clone
}
