package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/store"
)

func TestMemoryStoreResults(t *testing.T) {
	s := store.NewMemoryStore(3)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.SaveResult(ctx, &domain.ExecutionResult{
			JobID:       fmt.Sprintf("job-%d", i),
			Success:     true,
			CompletedAt: time.Now(),
		}))
	}

	results, err := s.RecentResults(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 3, "oldest results are evicted beyond the cap")
	assert.Equal(t, "job-4", results[0].JobID, "most recent first")
	assert.Equal(t, "job-2", results[2].JobID)

	limited, err := s.RecentResults(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "job-4", limited[0].JobID)
}

func TestMemoryStoreScheduleEntries(t *testing.T) {
	s := store.NewMemoryStore(10)
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, s.SaveScheduleEntry(ctx, &domain.ScheduleExecutionLogEntry{
			ExecutionID: fmt.Sprintf("exec-%d", i),
			ScheduleID:  "sched-a",
			StartedAt:   time.Now(),
			Success:     true,
		}))
	}
	require.NoError(t, s.SaveScheduleEntry(ctx, &domain.ScheduleExecutionLogEntry{
		ExecutionID: "other",
		ScheduleID:  "sched-b",
		StartedAt:   time.Now(),
	}))

	entries, err := s.ScheduleEntries(ctx, "sched-a", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "exec-2", entries[0].ExecutionID)

	entries, err = s.ScheduleEntries(ctx, "sched-b", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = s.ScheduleEntries(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.NoError(t, s.Close())
}
