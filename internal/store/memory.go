package store

import (
	"context"
	"sync"

	"github.com/jonesrussell/godispatch/internal/domain"
)

const defaultMemoryLimit = 1000

// MemoryStore is a bounded in-memory history store. Oldest records are
// evicted first.
type MemoryStore struct {
	mu      sync.RWMutex
	limit   int
	results []*domain.ExecutionResult
	entries map[string][]*domain.ScheduleExecutionLogEntry
}

// NewMemoryStore creates a memory store retaining up to limit records per
// collection.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	return &MemoryStore{
		limit:   limit,
		entries: make(map[string][]*domain.ScheduleExecutionLogEntry),
	}
}

// SaveResult appends an execution result.
func (s *MemoryStore) SaveResult(_ context.Context, result *domain.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	if len(s.results) > s.limit {
		s.results = s.results[len(s.results)-s.limit:]
	}
	return nil
}

// RecentResults returns up to limit results, most recent first.
func (s *MemoryStore) RecentResults(_ context.Context, limit int) ([]*domain.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.results) {
		limit = len(s.results)
	}
	out := make([]*domain.ExecutionResult, 0, limit)
	for i := len(s.results) - 1; i >= len(s.results)-limit; i-- {
		out = append(out, s.results[i])
	}
	return out, nil
}

// SaveScheduleEntry appends a schedule execution log entry.
func (s *MemoryStore) SaveScheduleEntry(_ context.Context, entry *domain.ScheduleExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.entries[entry.ScheduleID], entry)
	if len(log) > s.limit {
		log = log[len(log)-s.limit:]
	}
	s.entries[entry.ScheduleID] = log
	return nil
}

// ScheduleEntries returns up to limit entries for a schedule, most recent
// first.
func (s *MemoryStore) ScheduleEntries(_ context.Context, scheduleID string, limit int) ([]*domain.ScheduleExecutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.entries[scheduleID]
	if limit <= 0 || limit > len(log) {
		limit = len(log)
	}
	out := make([]*domain.ScheduleExecutionLogEntry, 0, limit)
	for i := len(log) - 1; i >= len(log)-limit; i-- {
		out = append(out, log[i])
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
