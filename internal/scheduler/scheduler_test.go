package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/logger"
	"github.com/jonesrussell/godispatch/internal/scheduler"
	"github.com/jonesrussell/godispatch/internal/tasks"
)

func newTestScheduler(t *testing.T) (*scheduler.Scheduler, *tasks.Registry) {
	t.Helper()
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("noop", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, nil
	}))

	sched, err := scheduler.New(scheduler.DefaultConfig(), registry, logger.NewNop())
	require.NoError(t, err)
	return sched, registry
}

func TestAddScheduleInvalidCron(t *testing.T) {
	sched, _ := newTestScheduler(t)

	_, err := sched.AddSchedule("bad", "not a cron", "noop", nil, domain.CategoryMaintenance)
	require.ErrorIs(t, err, scheduler.ErrInvalidCronExpression)

	// No partial registration.
	assert.Empty(t, sched.ListSchedules("", ""))
}

func TestAddScheduleDuplicateName(t *testing.T) {
	sched, _ := newTestScheduler(t)

	_, err := sched.AddSchedule("nightly", "0 2 * * *", "noop", nil, domain.CategoryCleanup)
	require.NoError(t, err)

	_, err = sched.AddSchedule("nightly", "0 3 * * *", "noop", nil, domain.CategoryCleanup)
	assert.ErrorIs(t, err, scheduler.ErrScheduleExists)
}

func TestAddScheduleComputesNextExecution(t *testing.T) {
	sched, _ := newTestScheduler(t)

	id, err := sched.AddSchedule("six-hourly", "0 */6 * * *", "noop", nil, domain.CategoryScraping)
	require.NoError(t, err)

	got, err := sched.GetSchedule(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusActive, got.Status)
	assert.True(t, got.NextExecutionTime.After(time.Now()))
	assert.Equal(t, 0, got.NextExecutionTime.Minute())
	assert.Equal(t, 0, got.NextExecutionTime.Hour()%6)
}

func TestPauseResumeIdempotency(t *testing.T) {
	sched, _ := newTestScheduler(t)

	id, err := sched.AddSchedule("pausable", "*/5 * * * *", "noop", nil, domain.CategoryMonitoring)
	require.NoError(t, err)

	assert.True(t, sched.PauseSchedule(id))
	assert.True(t, sched.PauseSchedule(id), "pausing a paused schedule succeeds")

	got, err := sched.GetSchedule(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusPaused, got.Status)

	assert.True(t, sched.ResumeSchedule(id))
	got, err = sched.GetSchedule(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusActive, got.Status)
	assert.False(t, got.NextExecutionTime.Before(time.Now().Add(-time.Second)))

	assert.False(t, sched.PauseSchedule("missing"))
	assert.False(t, sched.ResumeSchedule("missing"))
}

func TestRemoveSchedule(t *testing.T) {
	sched, _ := newTestScheduler(t)

	id, err := sched.AddSchedule("removable", "0 4 * * *", "noop", nil, domain.CategoryCleanup)
	require.NoError(t, err)

	assert.True(t, sched.RemoveSchedule(id))
	assert.False(t, sched.RemoveSchedule(id))

	_, err = sched.GetSchedule(id)
	assert.ErrorIs(t, err, scheduler.ErrScheduleNotFound)

	// The name is free again after removal.
	_, err = sched.AddSchedule("removable", "0 4 * * *", "noop", nil, domain.CategoryCleanup)
	assert.NoError(t, err)
}

func TestUpdateCronExpression(t *testing.T) {
	sched, _ := newTestScheduler(t)

	id, err := sched.AddSchedule("tunable", "0 2 * * *", "noop", nil, domain.CategoryMaintenance)
	require.NoError(t, err)

	require.NoError(t, sched.UpdateCronExpression(id, "0 4 * * *"))
	got, err := sched.GetSchedule(id)
	require.NoError(t, err)
	assert.Equal(t, "0 4 * * *", got.CronExpression)
	assert.Equal(t, 4, got.NextExecutionTime.Hour())

	// Invalid expressions leave the schedule untouched.
	require.ErrorIs(t, sched.UpdateCronExpression(id, "bogus"), scheduler.ErrInvalidCronExpression)
	got, err = sched.GetSchedule(id)
	require.NoError(t, err)
	assert.Equal(t, "0 4 * * *", got.CronExpression)

	assert.ErrorIs(t, sched.UpdateCronExpression("missing", "0 4 * * *"), scheduler.ErrScheduleNotFound)
}

func TestListSchedulesFiltersAndSorts(t *testing.T) {
	sched, _ := newTestScheduler(t)

	_, err := sched.AddSchedule("scrape", "0 */2 * * *", "noop", nil, domain.CategoryScraping)
	require.NoError(t, err)
	pausedID, err := sched.AddSchedule("cleanup", "0 3 * * *", "noop", nil, domain.CategoryCleanup)
	require.NoError(t, err)
	require.True(t, sched.PauseSchedule(pausedID))

	all := sched.ListSchedules("", "")
	require.Len(t, all, 2)
	assert.False(t, all[0].NextExecutionTime.After(all[1].NextExecutionTime))

	active := sched.ListSchedules(domain.ScheduleStatusActive, "")
	require.Len(t, active, 1)
	assert.Equal(t, "scrape", active[0].Name)

	cleanup := sched.ListSchedules("", domain.CategoryCleanup)
	require.Len(t, cleanup, 1)
	assert.Equal(t, "cleanup", cleanup[0].Name)
}

func TestGetExecutionLogsUnknownSchedule(t *testing.T) {
	sched, _ := newTestScheduler(t)

	_, err := sched.GetExecutionLogs("missing", 10)
	assert.ErrorIs(t, err, scheduler.ErrScheduleNotFound)
}

func TestStartStopLifecycle(t *testing.T) {
	sched, _ := newTestScheduler(t)

	assert.ErrorIs(t, sched.Stop(context.Background(), true), scheduler.ErrNotRunning)

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.ErrorIs(t, sched.Start(), scheduler.ErrAlreadyRunning)

	require.NoError(t, sched.Stop(context.Background(), true))
	assert.False(t, sched.IsRunning())
}

func TestScheduleMutationsAreVisibleClones(t *testing.T) {
	sched, _ := newTestScheduler(t)

	id, err := sched.AddSchedule("cloned", "0 1 * * *", "noop", map[string]any{"k": "v"}, domain.CategoryProcessing)
	require.NoError(t, err)

	got, err := sched.GetSchedule(id)
	require.NoError(t, err)
	got.Name = "mutated"
	got.Args["k"] = "mutated"

	fresh, err := sched.GetSchedule(id)
	require.NoError(t, err)
	assert.Equal(t, "cloned", fresh.Name)
	assert.Equal(t, "v", fresh.Args["k"])
}

func TestScheduleTaskErrorKeepsScheduleActive(t *testing.T) {
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("fails", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("downstream unavailable")
	}))

	cfg := scheduler.DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.DueTolerance = time.Minute
	sched, err := scheduler.New(cfg, registry, logger.NewNop())
	require.NoError(t, err)

	id, err := sched.AddSchedule("flaky", "* * * * *", "fails", nil, domain.CategoryMonitoring)
	require.NoError(t, err)

	require.NoError(t, sched.Start())
	defer func() {
		_ = sched.Stop(context.Background(), true)
	}()

	require.Eventually(t, func() bool {
		logs, logErr := sched.GetExecutionLogs(id, 10)
		return logErr == nil && len(logs) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	logs, err := sched.GetExecutionLogs(id, 10)
	require.NoError(t, err)
	assert.False(t, logs[0].Success)
	assert.Contains(t, logs[0].ErrorMessage, "downstream unavailable")

	got, err := sched.GetSchedule(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusActive, got.Status)
	assert.Equal(t, int64(1), got.Metrics.FailureCount)
}
