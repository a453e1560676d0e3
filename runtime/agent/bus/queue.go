package bus

import (
	"container/list"

	"github.com/opsagents/controlplane/runtime/agent/event"
)

// priority classifies an event type for per-agent queue eviction. Higher
// values are evicted last.
type priority int

const (
	priorityLow priority = iota
	priorityMedium
	priorityHigh
)

// priorityOf implements the fixed priority classification table: decision,
// artifact, and error are high priority; lifecycle, delegation, guardrail,
// completion, and coherence are medium; everything else is low.
func priorityOf(t event.Type) priority {
	switch t {
	case event.TypeDecision, event.TypeArtifact, event.TypeError:
		return priorityHigh
	case event.TypeLifecycle, event.TypeDelegation, event.TypeGuardrail, event.TypeCompletion, event.TypeCoherence:
		return priorityMedium
	default:
		return priorityLow
	}
}

type queueEntry struct {
	envelope event.EventEnvelope
	priority priority
}

// agentQueue is a single agent's bounded, priority-aware event backlog.
type agentQueue struct {
	entries []queueEntry
}

// push appends entry and evicts as needed: first the main over-capacity
// check (len exceeds max; removes at most one entry), then — independently,
// since the two checks are not mutually exclusive — the high-priority cap
// (removes at most one more entry if the high-priority count still exceeds
// maxHigh after the first eviction). It returns how many entries were
// evicted in this call: 0, 1, or 2.
func (q *agentQueue) push(entry queueEntry, maxLen, maxHigh int) (evicted int) {
	q.entries = append(q.entries, entry)

	if len(q.entries) > maxLen {
		if idx := q.oldestOfPriority(priorityLow); idx >= 0 {
			q.removeAt(idx)
			evicted++
		} else if idx := q.oldestBelow(priorityHigh); idx >= 0 {
			q.removeAt(idx)
			evicted++
		}
		// else: only high-priority entries remain, no eviction.
	}

	if q.countPriority(priorityHigh) > maxHigh {
		if idx := q.oldestOfPriority(priorityHigh); idx >= 0 {
			q.removeAt(idx)
			evicted++
		}
	}

	return evicted
}

func (q *agentQueue) oldestOfPriority(p priority) int {
	for i, e := range q.entries {
		if e.priority == p {
			return i
		}
	}
	return -1
}

func (q *agentQueue) oldestBelow(p priority) int {
	for i, e := range q.entries {
		if e.priority < p {
			return i
		}
	}
	return -1
}

func (q *agentQueue) countPriority(p priority) int {
	n := 0
	for _, e := range q.entries {
		if e.priority == p {
			n++
		}
	}
	return n
}

func (q *agentQueue) removeAt(idx int) {
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
}

// enqueue inserts envelope into its agent's queue, evicting per the
// backpressure rules, and updates the drop counter by however many entries
// were actually evicted (0, 1, or 2 — see agentQueue.push). Callers hold no
// lock; enqueue takes b.mu itself so it composes with the unlocked tail of
// Publish.
func (b *Bus) enqueue(envelope event.EventEnvelope) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[envelope.AgentID]
	if !ok {
		q = &agentQueue{}
		b.queues[envelope.AgentID] = q
	}

	typ := event.TypeRawProvider
	if envelope.Event != nil {
		typ = envelope.Event.Type()
	}
	entry := queueEntry{envelope: envelope, priority: priorityOf(typ)}

	evicted := q.push(entry, b.cfg.MaxQueuePerAgent, b.cfg.MaxHighPriorityPerAgent)
	b.dropped += uint64(evicted)
	return evicted
}

// dedupWindow is a FIFO-evicted set of recently seen ids, bounded at
// capacity. Seen ids outside the window are treated as new.
type dedupWindow struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newDedupWindow(capacity int) *dedupWindow {
	return &dedupWindow{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

func (d *dedupWindow) seen(id string) bool {
	_, ok := d.index[id]
	return ok
}

func (d *dedupWindow) insert(id string) {
	if _, ok := d.index[id]; ok {
		return
	}
	el := d.order.PushBack(id)
	d.index[id] = el
	if d.order.Len() <= d.capacity {
		return
	}
	oldest := d.order.Front()
	d.order.Remove(oldest)
	delete(d.index, oldest.Value.(string))
}
