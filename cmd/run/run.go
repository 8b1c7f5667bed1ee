// Package run implements the long-running daemon command.
package run

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/godispatch/internal/config"
	"github.com/jonesrussell/godispatch/internal/executor"
	"github.com/jonesrussell/godispatch/internal/logger"
	"github.com/jonesrussell/godispatch/internal/optimizer"
	"github.com/jonesrussell/godispatch/internal/resource"
	"github.com/jonesrussell/godispatch/internal/scheduler"
	"github.com/jonesrussell/godispatch/internal/store"
	"github.com/jonesrussell/godispatch/internal/tasks"
	"github.com/jonesrussell/godispatch/internal/tracker"
)

const healthCheckInterval = 30 * time.Second

// Command returns the run command. cfgFile points at the root --config
// flag value, resolved when the command executes.
func Command(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the orchestration daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), *cfgFile)
		},
	}
}

func runDaemon(parent context.Context, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := tasks.NewRegistry()

	historyStore, err := buildHistoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = historyStore.Close()
	}()

	gate := resource.NewGate(resource.NewSystemSampler(), cfg.ResourceLimits(), log)

	exec, err := executor.New(cfg.ExecutorConfig(), registry, gate, log,
		executor.WithHistorySink(historyStore))
	if err != nil {
		return fmt.Errorf("creating executor: %w", err)
	}

	sched, err := scheduler.New(cfg.SchedulerConfig(), registry, log,
		scheduler.WithHistorySink(historyStore))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	changes := tracker.NewChangeTracker(buildTrackerStore(cfg), log, tracker.DefaultBaselineInterval)

	if err := registerBuiltinTasks(registry, exec, changes, log); err != nil {
		return fmt.Errorf("registering tasks: %w", err)
	}

	if err := exec.Start(); err != nil {
		return fmt.Errorf("starting executor: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	health := executor.NewHealthMonitor(exec, log, healthCheckInterval)
	health.Start()

	if cfg.Optimizer.Enabled {
		opt, optErr := optimizer.New(cfg.OptimizerConfig(), sched, log,
			optimizer.WithSourceMetrics(changes))
		if optErr != nil {
			return fmt.Errorf("creating optimizer: %w", optErr)
		}
		go opt.Run(ctx)
	}

	log.Info("godispatch running",
		logger.String("environment", cfg.App.Environment),
		logger.Strings("tasks", registry.Names()))

	<-ctx.Done()
	log.Info("Shutdown signal received")

	health.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SchedulerConfig().DrainTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx, true); err != nil {
		log.Warn("Scheduler shutdown incomplete", logger.Error(err))
	}
	if err := exec.Stop(shutdownCtx, true); err != nil {
		log.Warn("Executor shutdown incomplete", logger.Error(err))
	}
	log.Info("godispatch stopped")
	return nil
}

func buildHistoryStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if !cfg.Database.Enabled {
		return store.NewMemoryStore(cfg.Executor.HistoryLimit), nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	return pg, nil
}

func buildTrackerStore(cfg *config.Config) tracker.StateStore {
	if !cfg.Redis.Enabled {
		return tracker.NewMemoryStateStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return tracker.NewRedisStateStore(client, cfg.Redis.KeyPrefix)
}
