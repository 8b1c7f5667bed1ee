package executor

import (
	"sync"
	"time"

	"github.com/jonesrussell/godispatch/internal/logger"
)

const defaultHealthInterval = 30 * time.Second

// HealthStatus represents the health state of the executor.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// JobOverrun describes a job that exceeded its soft runtime budget.
type JobOverrun struct {
	JobID    string        `json:"job_id"`
	TaskName string        `json:"task_name"`
	Runtime  time.Duration `json:"runtime"`
	Budget   time.Duration `json:"budget"`
}

// HealthCheck is the result of a single health evaluation.
type HealthCheck struct {
	Status           HealthStatus `json:"status"`
	Timestamp        time.Time    `json:"timestamp"`
	ActiveJobs       int          `json:"active_jobs"`
	QueuedJobs       int          `json:"queued_jobs"`
	AvailableWorkers int          `json:"available_workers"`
	Overruns         []JobOverrun `json:"overruns,omitempty"`
}

// HealthMonitor periodically evaluates executor health. Jobs that run past
// the runtime budget are surfaced as overruns; they keep running until they
// finish or are cancelled.
type HealthMonitor struct {
	executor *Executor
	logger   logger.Interface
	interval time.Duration
	budget   time.Duration

	mu        sync.RWMutex
	lastCheck HealthCheck

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHealthMonitor creates a health monitor for the given executor.
func NewHealthMonitor(exec *Executor, log logger.Interface, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HealthMonitor{
		executor: exec,
		logger:   log,
		interval: interval,
		budget:   exec.cfg.MaxJobRuntime,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic health checks.
func (h *HealthMonitor) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.Check()
			}
		}
	}()
}

// Stop halts periodic health checks.
func (h *HealthMonitor) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

// Check evaluates executor health once and records the result.
func (h *HealthMonitor) Check() HealthCheck {
	queueStatus := h.executor.GetQueueStatus()
	overruns := h.executor.Overruns(h.budget)

	check := HealthCheck{
		Status:           HealthStatusHealthy,
		Timestamp:        time.Now(),
		ActiveJobs:       queueStatus.ActiveCount,
		QueuedJobs:       queueStatus.TotalQueued,
		AvailableWorkers: queueStatus.AvailableWorkers,
		Overruns:         overruns,
	}

	switch {
	case len(overruns) > 0 && len(overruns) >= queueStatus.ActiveCount:
		check.Status = HealthStatusUnhealthy
	case len(overruns) > 0 || queueStatus.TotalQueued >= queueStatus.MaxQueueDepth:
		check.Status = HealthStatusDegraded
	}

	for _, o := range overruns {
		h.logger.Warn("Job exceeded runtime budget",
			logger.String("job_id", o.JobID),
			logger.String("task", o.TaskName),
			logger.Duration("runtime", o.Runtime),
			logger.Duration("budget", o.Budget))
	}

	h.mu.Lock()
	h.lastCheck = check
	h.mu.Unlock()
	return check
}

// LastCheck returns the most recent health check result.
func (h *HealthMonitor) LastCheck() HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastCheck
}
