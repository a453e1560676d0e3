package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Store.Load when no record exists yet for an
// agent id.
var ErrNotFound = errors.New("trust: record not found")

// Store persists trust records across control-plane restarts. It is
// optional: an Engine constructed with a nil Store keeps scores in memory
// only, which is sufficient for a single process lifetime and satisfies the
// spec's non-goal of durable cross-restart state for everything except this
// one narrow, explicitly-allowed case.
type Store interface {
	Load(ctx context.Context, agentID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
}

// RedisStore persists trust records as JSON values under a prefixed key per
// agent.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a Store backed by client. prefix defaults to
// "trust:" when empty.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "trust:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(agentID string) string {
	return s.prefix + agentID
}

// Load reads and decodes the record for agentID, returning ErrNotFound if
// absent.
func (s *RedisStore) Load(ctx context.Context, agentID string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(agentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trust: load %s: %w", agentID, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("trust: decode %s: %w", agentID, err)
	}
	return &rec, nil
}

// Save encodes and writes rec with no expiry; trust records are expected to
// live for the agent's lifetime and are cleaned up out-of-band when an
// agent is retired.
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("trust: encode %s: %w", rec.AgentID, err)
	}
	if err := s.client.Set(ctx, s.key(rec.AgentID), raw, 0).Err(); err != nil {
		return fmt.Errorf("trust: save %s: %w", rec.AgentID, err)
	}
	return nil
}
