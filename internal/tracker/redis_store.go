package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "godispatch:source:"

// RedisStateStore persists source states in Redis as JSON values under a
// common key prefix, so state survives process restarts.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore creates a state store backed by the given client.
func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) key(sourceID string) string {
	return s.prefix + sourceID
}

// Load fetches and decodes the state for a source.
func (s *RedisStateStore) Load(ctx context.Context, sourceID string) (*SourceState, error) {
	raw, err := s.client.Get(ctx, s.key(sourceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("source %s: %w", sourceID, ErrStateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", sourceID, err)
	}
	var state SourceState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decoding state for %s: %w", sourceID, err)
	}
	return &state, nil
}

// Save encodes and stores the state for a source.
func (s *RedisStateStore) Save(ctx context.Context, sourceID string, state *SourceState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", sourceID, err)
	}
	if err := s.client.Set(ctx, s.key(sourceID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", sourceID, err)
	}
	return nil
}

// SourceIDs scans for all keys under the prefix.
func (s *RedisStateStore) SourceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return ids, nil
}
