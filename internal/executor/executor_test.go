package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/executor"
	"github.com/jonesrussell/godispatch/internal/logger"
	"github.com/jonesrussell/godispatch/internal/tasks"
)

type stubGate struct {
	mu       sync.Mutex
	allow    bool
	snapshot domain.ResourceSnapshot
}

func newStubGate() *stubGate {
	return &stubGate{allow: true}
}

func (g *stubGate) Allow(_ context.Context) (bool, domain.ResourceSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allow, g.snapshot
}

func (g *stubGate) Snapshot(_ context.Context) (domain.ResourceSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot, nil
}

func (g *stubGate) setAllow(allow bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allow = allow
}

func testConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.DispatchInterval = 5 * time.Millisecond
	cfg.ResourceBackoff = 10 * time.Millisecond
	cfg.DrainTimeout = 2 * time.Second
	return cfg
}

func TestSubmitValidation(t *testing.T) {
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("noop", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, nil
	}))

	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	t.Run("unknown task", func(t *testing.T) {
		_, submitErr := exec.Submit("missing", nil, domain.PriorityNormal)
		assert.ErrorIs(t, submitErr, tasks.ErrUnknownTask)
	})

	t.Run("invalid priority", func(t *testing.T) {
		_, submitErr := exec.Submit("noop", nil, domain.Priority(7))
		assert.Error(t, submitErr)
	})

	t.Run("duplicate job id", func(t *testing.T) {
		_, submitErr := exec.Submit("noop", nil, domain.PriorityNormal, executor.WithJobID("job-1"))
		require.NoError(t, submitErr)
		_, submitErr = exec.Submit("noop", nil, domain.PriorityNormal, executor.WithJobID("job-1"))
		assert.ErrorIs(t, submitErr, executor.ErrDuplicateJob)
	})
}

func TestSubmitQueueFull(t *testing.T) {
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("noop", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, nil
	}))

	cfg := testConfig()
	cfg.MaxQueueDepth = 2
	exec, err := executor.New(cfg, registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	_, err = exec.Submit("noop", nil, domain.PriorityNormal)
	require.NoError(t, err)
	_, err = exec.Submit("noop", nil, domain.PriorityNormal)
	require.NoError(t, err)

	_, err = exec.Submit("noop", nil, domain.PriorityCritical)
	assert.ErrorIs(t, err, executor.ErrQueueFull)
}

func TestPriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string

	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("record", func(_ context.Context, args map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, args["label"].(string))
		return nil, nil
	}))

	cfg := testConfig()
	cfg.MaxWorkers = 1
	exec, err := executor.New(cfg, registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	submit := func(label string, p domain.Priority) {
		_, submitErr := exec.Submit("record", map[string]any{"label": label}, p)
		require.NoError(t, submitErr)
	}
	submit("low", domain.PriorityLow)
	submit("high", domain.PriorityHigh)
	submit("critical-1", domain.PriorityCritical)
	submit("critical-2", domain.PriorityCritical)

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), true)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical-1", "critical-2", "high", "low"}, order)
}

func TestConcurrencyBound(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	running, peak := 0, 0

	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("block", func(ctx context.Context, _ map[string]any) (any, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		select {
		case <-release:
		case <-ctx.Done():
		}
		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	}))

	cfg := testConfig()
	cfg.MaxWorkers = 2
	exec, err := executor.New(cfg, registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	for range 5 {
		_, submitErr := exec.Submit("block", nil, domain.PriorityNormal)
		require.NoError(t, submitErr)
	}

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), true)
	}()

	require.Eventually(t, func() bool {
		return exec.GetQueueStatus().ActiveCount == 2
	}, time.Second, 5*time.Millisecond)

	// Give the dispatcher a chance to (incorrectly) start more.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, exec.GetQueueStatus().ActiveCount)

	close(release)
	require.Eventually(t, func() bool {
		snapshot, _ := exec.GetMetrics(context.Background())
		return snapshot.SuccessCount == 5
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestResourceGateDefersDispatch(t *testing.T) {
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("noop", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, nil
	}))

	gate := newStubGate()
	gate.setAllow(false)

	exec, err := executor.New(testConfig(), registry, gate, logger.NewNop())
	require.NoError(t, err)

	jobID, err := exec.Submit("noop", nil, domain.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), true)
	}()

	time.Sleep(50 * time.Millisecond)
	info, err := exec.GetStatus(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, info.Status)
	assert.Equal(t, 1, exec.GetQueueStatus().TotalQueued)

	gate.setAllow(true)
	require.Eventually(t, func() bool {
		current, statusErr := exec.GetStatus(jobID)
		return statusErr == nil && current.Status == domain.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetryBound(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("flaky", func(_ context.Context, _ map[string]any) (any, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("boom")
	}))

	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	jobID, err := exec.Submit("flaky", nil, domain.PriorityNormal,
		executor.WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), true)
	}()

	require.Eventually(t, func() bool {
		info, statusErr := exec.GetStatus(jobID)
		return statusErr == nil && info.Status == domain.JobStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, attempts, "1 initial attempt + 3 retries")

	info, err := exec.GetStatus(jobID)
	require.NoError(t, err)
	assert.Equal(t, 3, info.RetryCount)
	assert.Contains(t, info.LastError, "boom")
}

func TestNoRetryWhenDisabled(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("flaky", func(_ context.Context, _ map[string]any) (any, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("boom")
	}))

	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	jobID, err := exec.Submit("flaky", nil, domain.PriorityNormal, executor.WithoutRetry())
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), true)
	}()

	require.Eventually(t, func() bool {
		info, statusErr := exec.GetStatus(jobID)
		return statusErr == nil && info.Status == domain.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestPanicIsolatedToJob(t *testing.T) {
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("panics", func(_ context.Context, _ map[string]any) (any, error) {
		panic("oh no")
	}))
	require.NoError(t, registry.Register("noop", func(_ context.Context, _ map[string]any) (any, error) {
		return "ok", nil
	}))

	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	panicID, err := exec.Submit("panics", nil, domain.PriorityHigh, executor.WithoutRetry())
	require.NoError(t, err)
	okID, err := exec.Submit("noop", nil, domain.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), true)
	}()

	require.Eventually(t, func() bool {
		panicInfo, err1 := exec.GetStatus(panicID)
		okInfo, err2 := exec.GetStatus(okID)
		return err1 == nil && err2 == nil &&
			panicInfo.Status == domain.JobStatusFailed &&
			okInfo.Status == domain.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	info, err := exec.GetStatus(panicID)
	require.NoError(t, err)
	assert.Contains(t, info.LastError, "task panicked")
}

func TestCancelQueuedJob(t *testing.T) {
	registry := tasks.NewRegistry()
	executed := false
	require.NoError(t, registry.Register("noop", func(_ context.Context, _ map[string]any) (any, error) {
		executed = true
		return nil, nil
	}))

	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	jobID, err := exec.Submit("noop", nil, domain.PriorityNormal)
	require.NoError(t, err)

	assert.True(t, exec.Cancel(jobID))
	assert.False(t, exec.Cancel(jobID), "terminal jobs cannot be cancelled again")

	info, err := exec.GetStatus(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, info.Status)
	assert.False(t, executed)
	assert.False(t, exec.Cancel("missing"))
}

func TestCancelRunningJobIsCooperative(t *testing.T) {
	started := make(chan struct{})
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("waits", func(ctx context.Context, _ map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	jobID, err := exec.Submit("waits", nil, domain.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), true)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	assert.True(t, exec.Cancel(jobID))
	require.Eventually(t, func() bool {
		info, statusErr := exec.GetStatus(jobID)
		return statusErr == nil && info.Status == domain.JobStatusCancelled && info.Phase == "terminal"
	}, 2*time.Second, 10*time.Millisecond)

	snapshot, _ := exec.GetMetrics(context.Background())
	assert.Equal(t, int64(1), snapshot.CancelledCount)
	assert.Equal(t, int64(0), snapshot.RetryCount, "cancelled jobs are not retried")
}

func TestCancelJobAwaitingRetry(t *testing.T) {
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("fails", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	}))

	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	jobID, err := exec.Submit("fails", nil, domain.PriorityNormal,
		executor.WithRetry(3, time.Hour))
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), true)
	}()

	require.Eventually(t, func() bool {
		info, statusErr := exec.GetStatus(jobID)
		return statusErr == nil && info.Status == domain.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, exec.Cancel(jobID), "a job waiting on its retry backoff is cancellable")

	info, err := exec.GetStatus(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, info.Status)
	assert.Equal(t, "terminal", info.Phase)
	assert.False(t, exec.Cancel(jobID), "terminal jobs cannot be cancelled again")
}

func TestJobIDReuseSurvivesHistoryEviction(t *testing.T) {
	release := make(chan struct{})
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("noop", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, nil
	}))
	require.NoError(t, registry.Register("waits", func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	cfg := testConfig()
	cfg.HistoryLimit = 1
	exec, err := executor.New(cfg, registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), true)
	}()

	// First run under the ID goes terminal and lands in history.
	_, err = exec.Submit("noop", nil, domain.PriorityNormal, executor.WithJobID("reused"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, statusErr := exec.GetStatus("reused")
		return statusErr == nil && info.Status == domain.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// Reusing a terminal ID is allowed; let the new run reach RUNNING.
	_, err = exec.Submit("waits", nil, domain.PriorityNormal, executor.WithJobID("reused"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, statusErr := exec.GetStatus("reused")
		return statusErr == nil && info.Status == domain.JobStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	// An unrelated completion pushes the old run out of the capped history.
	_, err = exec.Submit("noop", nil, domain.PriorityNormal, executor.WithJobID("other"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, statusErr := exec.GetStatus("other")
		return statusErr == nil && info.Status == domain.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	info, err := exec.GetStatus("reused")
	require.NoError(t, err, "eviction of the old run must not drop the live job")
	assert.Equal(t, domain.JobStatusRunning, info.Status)

	close(release)
	require.Eventually(t, func() bool {
		current, statusErr := exec.GetStatus("reused")
		return statusErr == nil && current.Status == domain.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGracefulStopWaitsForActiveJobs(t *testing.T) {
	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("short", func(_ context.Context, _ map[string]any) (any, error) {
		time.Sleep(150 * time.Millisecond)
		return nil, nil
	}))

	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	jobID, err := exec.Submit("short", nil, domain.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	require.Eventually(t, func() bool {
		info, statusErr := exec.GetStatus(jobID)
		return statusErr == nil && info.Status == domain.JobStatusRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, exec.Stop(context.Background(), true))

	info, err := exec.GetStatus(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, info.Status)
}

func TestGracefulStopReportsStillActive(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("stuck", func(_ context.Context, _ map[string]any) (any, error) {
		<-release
		return nil, nil
	}))

	cfg := testConfig()
	cfg.DrainTimeout = 100 * time.Millisecond
	exec, err := executor.New(cfg, registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	_, err = exec.Submit("stuck", nil, domain.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	require.Eventually(t, func() bool {
		return exec.GetQueueStatus().ActiveCount == 1
	}, time.Second, 5*time.Millisecond)

	err = exec.Stop(context.Background(), true)
	require.ErrorIs(t, err, executor.ErrDrainTimeout)
	assert.Contains(t, err.Error(), "1 jobs still active")
}

func TestStopWhenNotRunning(t *testing.T) {
	registry := tasks.NewRegistry()
	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	assert.ErrorIs(t, exec.Stop(context.Background(), true), executor.ErrNotRunning)
}

func TestGetStatusUnknownJob(t *testing.T) {
	registry := tasks.NewRegistry()
	exec, err := executor.New(testConfig(), registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	_, err = exec.GetStatus("missing")
	assert.ErrorIs(t, err, executor.ErrJobNotFound)
}

func TestHealthMonitorReportsOverruns(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	registry := tasks.NewRegistry()
	require.NoError(t, registry.Register("slow", func(_ context.Context, _ map[string]any) (any, error) {
		<-release
		return nil, nil
	}))

	cfg := testConfig()
	cfg.MaxJobRuntime = 20 * time.Millisecond
	exec, err := executor.New(cfg, registry, newStubGate(), logger.NewNop())
	require.NoError(t, err)

	jobID, err := exec.Submit("slow", nil, domain.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, exec.Start())
	defer func() {
		_ = exec.Stop(context.Background(), false)
	}()

	require.Eventually(t, func() bool {
		return exec.GetQueueStatus().ActiveCount == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	monitor := executor.NewHealthMonitor(exec, logger.NewNop(), time.Second)
	check := monitor.Check()

	require.Len(t, check.Overruns, 1)
	assert.Equal(t, jobID, check.Overruns[0].JobID)
	assert.NotEqual(t, executor.HealthStatusHealthy, check.Status)

	// Overruns are reported, never terminated.
	info, err := exec.GetStatus(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, info.Status)
}
