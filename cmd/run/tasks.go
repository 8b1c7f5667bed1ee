package run

import (
	"context"
	"fmt"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/executor"
	"github.com/jonesrussell/godispatch/internal/logger"
	"github.com/jonesrussell/godispatch/internal/tasks"
	"github.com/jonesrussell/godispatch/internal/tracker"
)

// submitArgs parameterizes the dispatch.submit bridge task.
type submitArgs struct {
	Task     string         `args:"task"`
	Priority string         `args:"priority"`
	Args     map[string]any `args:"args"`
}

// observeArgs parameterizes the source.observe task.
type observeArgs struct {
	SourceID string `args:"source_id"`
	Content  string `args:"content"`
}

// registerBuiltinTasks installs the housekeeping tasks every deployment
// gets. Domain tasks (scraping, processing) are registered by the embedding
// application before Start.
func registerBuiltinTasks(registry *tasks.Registry, exec *executor.Executor, changes *tracker.ChangeTracker, log logger.Interface) error {
	// dispatch.submit lets a schedule feed the job executor: the schedule
	// fires on cron, the work itself runs under the executor's priority
	// tiers and resource gate.
	err := registry.Register("dispatch.submit", func(_ context.Context, args map[string]any) (any, error) {
		var decoded submitArgs
		if err := tasks.DecodeArgs(args, &decoded); err != nil {
			return nil, err
		}
		priority, err := domain.ParsePriority(decoded.Priority)
		if err != nil {
			return nil, err
		}
		jobID, err := exec.Submit(decoded.Task, decoded.Args, priority)
		if err != nil {
			return nil, fmt.Errorf("submitting %q: %w", decoded.Task, err)
		}
		return jobID, nil
	})
	if err != nil {
		return err
	}

	// source.observe records a content observation for adaptive scheduling.
	err = registry.Register("source.observe", func(ctx context.Context, args map[string]any) (any, error) {
		var decoded observeArgs
		if err := tasks.DecodeArgs(args, &decoded); err != nil {
			return nil, err
		}
		state, changed, err := changes.Observe(ctx, decoded.SourceID, []byte(decoded.Content))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"changed":       changed,
			"next_interval": state.CurrentInterval.String(),
		}, nil
	})
	if err != nil {
		return err
	}

	// dispatch.report logs queue and throughput counters.
	return registry.Register("dispatch.report", func(ctx context.Context, _ map[string]any) (any, error) {
		queueStatus := exec.GetQueueStatus()
		metrics, usage := exec.GetMetrics(ctx)
		log.Info("Dispatch report",
			logger.Int("queued", queueStatus.TotalQueued),
			logger.Int("active", queueStatus.ActiveCount),
			logger.Int64("processed", metrics.TotalProcessed),
			logger.Int64("failed", metrics.FailureCount),
			logger.Float64("cpu_percent", usage.CPUPercent),
			logger.Float64("memory_mb", usage.MemoryMB))
		return nil, nil
	})
}
