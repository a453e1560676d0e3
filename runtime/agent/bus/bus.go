// Package bus implements the control plane's fail-open, in-process event
// bus: per-agent bounded priority queues feeding a synchronous fan-out to
// subscribers, with dedup, sequence-gap detection, and backpressure
// eviction.
//
// Publish never blocks on a slow or failing subscriber: handler errors and
// panics are logged and swallowed so one bad subscriber can never stall
// delivery to the rest, and a flooded agent's queue sheds its own low-value
// events rather than growing without bound.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/telemetry"
)

type (
	// Handler reacts to envelopes delivered by the bus. Subscribers are
	// invoked synchronously under the publisher's goroutine and in
	// registration order; a handler that returns an error only prevents
	// that one handler's delivery from being considered successful — it
	// never stops delivery to the remaining subscribers.
	Handler interface {
		HandleEvent(ctx context.Context, envelope event.EventEnvelope) error
	}

	// HandlerFunc adapts a plain function to Handler.
	HandlerFunc func(ctx context.Context, envelope event.EventEnvelope) error

	// Filter narrows which envelopes a subscription receives. Empty fields
	// mean "any" and filter fields combine with AND.
	Filter struct {
		AgentID   string
		EventType event.Type
	}

	// Subscription is an active registration. Close is idempotent.
	Subscription interface {
		ID() string
		Close() error
	}

	// SequenceGapWarning records a skipped sourceSequence for a run. A gap
	// is a warning, never an error: the envelope that triggered it is still
	// published.
	SequenceGapWarning struct {
		RunID    string
		Previous int64
		Got      int64
		At       time.Time
	}

	// Metrics is a point-in-time snapshot of bus counters. QueueSizes and
	// SequenceGaps are copies, safe to retain after the call returns.
	Metrics struct {
		TotalPublished    uint64
		TotalDeduplicated uint64
		TotalDropped      uint64
		QueueSizes        map[string]int
		SequenceGaps      []SequenceGapWarning
	}

	subscriptionEntry struct {
		id      string
		filter  Filter
		handler Handler
	}

	// Bus is the event bus's public surface.
	Bus struct {
		cfg     Config
		logger  telemetry.Logger
		metrics telemetry.Metrics

		mu          sync.Mutex
		subscribers []*subscriptionEntry
		dedup       *dedupWindow
		lastSeq     map[string]int64
		queues      map[string]*agentQueue
		gaps        []SequenceGapWarning

		published   uint64
		deduped     uint64
		dropped     uint64
	}

	subscriptionHandle struct {
		id  string
		bus *Bus
	}
)

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, envelope event.EventEnvelope) error {
	return f(ctx, envelope)
}

// Match reports whether envelope satisfies every non-empty field of f.
func (f Filter) Match(envelope event.EventEnvelope) bool {
	if f.AgentID != "" && f.AgentID != envelope.AgentID {
		return false
	}
	if f.EventType != "" && envelope.Event != nil && f.EventType != envelope.Event.Type() {
		return false
	}
	return true
}

// New constructs a Bus. Unset options fall back to the defaults documented
// on Config.
func New(opts ...Option) *Bus {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxHighPriorityPerAgent <= 0 {
		cfg.MaxHighPriorityPerAgent = 2 * cfg.MaxQueuePerAgent
	}
	return &Bus{
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		dedup:   newDedupWindow(cfg.DedupCapacity),
		lastSeq: make(map[string]int64),
		queues:  make(map[string]*agentQueue),
	}
}

// Subscribe registers handler to receive envelopes matching filter. The
// returned Subscription's Close unregisters it; closing more than once is a
// no-op.
func (b *Bus) Subscribe(filter Filter, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("bus: handler is required")
	}
	entry := &subscriptionEntry{id: uuid.NewString(), filter: filter, handler: handler}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, entry)
	b.mu.Unlock()
	return &subscriptionHandle{id: entry.id, bus: b}, nil
}

// Unsubscribe removes the subscription with the given id, if still present.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, entry := range b.subscribers {
		if entry.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

func (s *subscriptionHandle) ID() string { return s.id }

func (s *subscriptionHandle) Close() error {
	s.bus.Unsubscribe(s.id)
	return nil
}

// Publish runs the full accept pipeline: dedup, sequence-gap tracking,
// synchronous fan-out to matching subscribers, and per-agent priority
// enqueue with backpressure eviction. It returns false only when the
// envelope was rejected as a duplicate.
func (b *Bus) Publish(ctx context.Context, envelope event.EventEnvelope) bool {
	return b.publish(ctx, envelope, true)
}

// publish is Publish's body. enqueue is false only for the bus's own
// backpressure warnings, which are delivered to subscribers but never queued.
func (b *Bus) publish(ctx context.Context, envelope event.EventEnvelope, enqueue bool) bool {
	b.mu.Lock()
	if b.dedup.seen(envelope.SourceEventID) {
		b.deduped++
		b.mu.Unlock()
		b.metrics.IncCounter("bus.deduplicated", 1, "agentId", envelope.AgentID)
		return false
	}
	b.dedup.insert(envelope.SourceEventID)
	b.published++

	var gap *SequenceGapWarning
	if !envelope.IsSynthetic() && envelope.RunID != "" {
		gap = b.recordSequence(envelope.RunID, envelope.SourceSequence)
	}

	subs := make([]*subscriptionEntry, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	b.metrics.IncCounter("bus.published", 1, "agentId", envelope.AgentID)

	if gap != nil {
		b.logger.Warn(ctx, "sequence gap detected", "runId", gap.RunID, "previous", gap.Previous, "got", gap.Got)
	}

	b.deliver(ctx, subs, envelope)
	if !enqueue {
		return true
	}

	// A single push can evict up to two entries (the over-capacity check
	// and the high-priority cap are independent), so emit one synthetic
	// backpressure warning per eviction, not one per Publish call. Warnings
	// are delivered but never queued, so a warning never evicts anything
	// itself. Only drops caused by non-synthetic envelopes get a warning.
	evicted := b.enqueue(envelope)
	for i := 0; i < evicted; i++ {
		b.metrics.IncCounter("bus.dropped", 1, "agentId", envelope.AgentID)
	}
	if envelope.IsSynthetic() {
		return true
	}
	for i := 0; i < evicted; i++ {
		warning := event.EventEnvelope{
			AdapterEvent: event.AdapterEvent{
				SourceEventID:    "backpressure-" + uuid.NewString(),
				SourceSequence:   event.SyntheticSourceSequence,
				SourceOccurredAt: time.Now(),
				RunID:            "backpressure-" + envelope.AgentID,
				AgentID:          envelope.AgentID,
				Event: event.ErrorEvent{
					Severity:    event.SeverityWarning,
					Recoverable: true,
					Category:    "internal",
					Message:     fmt.Sprintf("backpressure: dropped queued event for agent %s", envelope.AgentID),
				},
			},
			IngestedAt: time.Now(),
		}
		b.publish(ctx, warning, false)
	}

	return true
}

// deliver fans envelope out to every subscriber whose filter matches, in
// registration order. Handler errors and panics are logged and swallowed —
// the bus is fail-open by design, unlike the run-oriented hook bus it was
// adapted from.
func (b *Bus) deliver(ctx context.Context, subs []*subscriptionEntry, envelope event.EventEnvelope) {
	for _, sub := range subs {
		if !sub.filter.Match(envelope) {
			continue
		}
		b.invoke(ctx, sub, envelope)
	}
}

func (b *Bus) invoke(ctx context.Context, sub *subscriptionEntry, envelope event.EventEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "bus subscriber panicked", "subscriptionId", sub.id, "panic", r)
		}
	}()
	if err := sub.handler.HandleEvent(ctx, envelope); err != nil {
		b.logger.Warn(ctx, "bus subscriber returned error", "subscriptionId", sub.id, "error", err)
	}
}

// recordSequence updates the last-seen sourceSequence for runID and returns
// a gap warning when the new sequence skips ahead of the expected next
// value. Must be called with b.mu held.
func (b *Bus) recordSequence(runID string, seq int64) *SequenceGapWarning {
	prev, ok := b.lastSeq[runID]
	b.lastSeq[runID] = seq
	if !ok || seq <= prev+1 {
		return nil
	}
	warning := SequenceGapWarning{RunID: runID, Previous: prev, Got: seq, At: time.Now()}
	b.gaps = append(b.gaps, warning)
	if len(b.gaps) > b.cfg.GapWarningCapacity {
		b.gaps = b.gaps[len(b.gaps)-b.cfg.GapWarningCapacity:]
	}
	return &warning
}

// Metrics returns a point-in-time snapshot of bus counters.
func (b *Bus) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	sizes := make(map[string]int, len(b.queues))
	for agentID, q := range b.queues {
		sizes[agentID] = len(q.entries)
	}
	gaps := make([]SequenceGapWarning, len(b.gaps))
	copy(gaps, b.gaps)
	return Metrics{
		TotalPublished:    b.published,
		TotalDeduplicated: b.deduped,
		TotalDropped:      b.dropped,
		QueueSizes:        sizes,
		SequenceGaps:      gaps,
	}
}

// QueueSnapshot returns a copy of the envelopes currently queued for
// agentID, oldest first. It does not drain the queue; a future WebSocket
// hub collaborator can use it to replay backlog to a reconnecting client.
func (b *Bus) QueueSnapshot(agentID string) []event.EventEnvelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[agentID]
	if !ok {
		return nil
	}
	out := make([]event.EventEnvelope, len(q.entries))
	for i, entry := range q.entries {
		out[i] = entry.envelope
	}
	return out
}
