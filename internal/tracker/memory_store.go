package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStateStore keeps source states in memory. Suitable for tests and
// single-process deployments without Redis.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]SourceState
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]SourceState)}
}

// Load returns a copy of the stored state.
func (s *MemoryStateStore) Load(_ context.Context, sourceID string) (*SourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[sourceID]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", sourceID, ErrStateNotFound)
	}
	out := state
	return &out, nil
}

// Save stores a copy of the state.
func (s *MemoryStateStore) Save(_ context.Context, sourceID string, state *SourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[sourceID] = *state
	return nil
}

// SourceIDs lists all stored source IDs, sorted.
func (s *MemoryStateStore) SourceIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
