// Package store persists execution history for the executor and scheduler.
package store

import (
	"context"

	"github.com/jonesrussell/godispatch/internal/domain"
)

// Store is the durable history surface. It satisfies both the executor's
// and the scheduler's history sink interfaces.
type Store interface {
	SaveResult(ctx context.Context, result *domain.ExecutionResult) error
	RecentResults(ctx context.Context, limit int) ([]*domain.ExecutionResult, error)
	SaveScheduleEntry(ctx context.Context, entry *domain.ScheduleExecutionLogEntry) error
	ScheduleEntries(ctx context.Context, scheduleID string, limit int) ([]*domain.ScheduleExecutionLogEntry, error)
	Close() error
}
