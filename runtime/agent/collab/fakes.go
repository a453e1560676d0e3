package collab

import (
	"context"
	"sync"

	"github.com/opsagents/controlplane/runtime/agent/classifier"
	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/registry"
)

// Broadcast is what CollectHub records for one Broadcast call.
type Broadcast struct {
	Envelope event.EventEnvelope
	Routing  classifier.Routing
}

// CollectHub is an in-memory Hub fake for tests, following the same
// capture-everything-in-a-slice idiom as a bare collectSink test double.
type CollectHub struct {
	mu         sync.Mutex
	broadcasts []Broadcast
}

func (h *CollectHub) Broadcast(_ context.Context, env event.EventEnvelope, routing classifier.Routing) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasts = append(h.broadcasts, Broadcast{Envelope: env, Routing: routing})
	return nil
}

// All returns a snapshot of every broadcast recorded so far.
func (h *CollectHub) All() []Broadcast {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Broadcast, len(h.broadcasts))
	copy(out, h.broadcasts)
	return out
}

// MemKnowledgeStore is an in-memory KnowledgeStore fake for tests.
type MemKnowledgeStore struct {
	mu        sync.Mutex
	agents    map[string]registry.AgentBrief
	artifacts []event.ArtifactEvent
	issues    []CoherenceIssue
}

func NewMemKnowledgeStore() *MemKnowledgeStore {
	return &MemKnowledgeStore{agents: make(map[string]registry.AgentBrief)}
}

func (s *MemKnowledgeStore) RegisterAgent(_ context.Context, agentID string, brief registry.AgentBrief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentID] = brief
	return nil
}

func (s *MemKnowledgeStore) RemoveAgent(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentID)
	return nil
}

func (s *MemKnowledgeStore) StoreArtifact(_ context.Context, artifact event.ArtifactEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, artifact)
	return nil
}

func (s *MemKnowledgeStore) StoreCoherenceIssue(_ context.Context, issue CoherenceIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, issue)
	return nil
}

func (s *MemKnowledgeStore) HasAgent(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.agents[agentID]
	return ok
}

func (s *MemKnowledgeStore) Artifacts() []event.ArtifactEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.ArtifactEvent, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

func (s *MemKnowledgeStore) Issues() []CoherenceIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CoherenceIssue, len(s.issues))
	copy(out, s.issues)
	return out
}

// NopCoherenceMonitor always reports artifacts as coherent. Useful as the
// default collaborator in tests that don't exercise the coherence path.
type NopCoherenceMonitor struct{}

func (NopCoherenceMonitor) Review(context.Context, event.ArtifactEvent) (*CoherenceIssue, error) {
	return nil, nil
}
