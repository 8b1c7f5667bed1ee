package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/logger"
	"github.com/jonesrussell/godispatch/internal/tasks"
)

// Executor lifecycle states.
const (
	stateStopped int32 = iota
	stateRunning
	stateDraining
)

const maxRetryBackoff = 1 * time.Hour

var (
	// ErrQueueFull is returned when the queue depth cap is reached.
	ErrQueueFull = errors.New("job queue is full")

	// ErrDuplicateJob is returned when a submitted job ID is already active.
	ErrDuplicateJob = errors.New("job id already active")

	// ErrJobNotFound is returned when a job ID is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotRunning is returned when the executor has not been started.
	ErrNotRunning = errors.New("executor is not running")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("executor is already running")

	// ErrDrainTimeout is returned when graceful shutdown times out with
	// jobs still active.
	ErrDrainTimeout = errors.New("drain timeout")
)

// AdmissionGate decides whether system resources allow starting more work.
// *resource.Gate satisfies this interface.
type AdmissionGate interface {
	Allow(ctx context.Context) (bool, domain.ResourceSnapshot)
	Snapshot(ctx context.Context) (domain.ResourceSnapshot, error)
}

// HistorySink receives terminal execution results for durable storage.
type HistorySink interface {
	SaveResult(ctx context.Context, result *domain.ExecutionResult) error
}

// activeJob is the bookkeeping for a job currently held by a worker.
type activeJob struct {
	job       *domain.Job
	cancel    context.CancelFunc
	startedAt time.Time
}

// JobStatusInfo is the point-in-time view of a job returned by GetStatus.
type JobStatusInfo struct {
	JobID           string           `json:"job_id"`
	Status          domain.JobStatus `json:"status"`
	Phase           string           `json:"phase"`
	ProgressPercent float64          `json:"progress_percent"`
	ElapsedSeconds  float64          `json:"elapsed_seconds"`
	RetryCount      int              `json:"retry_count"`
	LastError       string           `json:"last_error,omitempty"`
}

// QueueStatus describes the current queue and worker occupancy.
type QueueStatus struct {
	TotalQueued      int            `json:"total_queued"`
	ByPriority       map[string]int `json:"by_priority"`
	ActiveCount      int            `json:"active_count"`
	AvailableWorkers int            `json:"available_workers"`
	MaxQueueDepth    int            `json:"max_queue_depth"`
}

// Executor runs submitted jobs on a bounded worker set, dequeuing strictly
// by priority tier and admitting work through the resource gate.
type Executor struct {
	cfg      Config
	logger   logger.Interface
	registry *tasks.Registry
	gate     AdmissionGate
	sink     HistorySink

	state  atomic.Int32
	stopCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	loopWG sync.WaitGroup
	jobWG  sync.WaitGroup

	mu           sync.Mutex
	queue        *tieredQueue
	jobs         map[string]*domain.Job
	active       map[string]*activeJob
	retryTimers  map[string]*time.Timer
	history      []*domain.ExecutionResult
	terminalJobs []*domain.Job

	metrics *Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithHistorySink attaches a durable store for terminal results.
func WithHistorySink(sink HistorySink) Option {
	return func(e *Executor) {
		e.sink = sink
	}
}

// New creates a new executor. The registry must contain every task name
// that will be submitted; unknown names are rejected at Submit time.
func New(cfg Config, registry *tasks.Registry, gate AdmissionGate, log logger.Interface, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	if registry == nil {
		return nil, errors.New("task registry is required")
	}
	if gate == nil {
		return nil, errors.New("admission gate is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		cfg:         cfg,
		logger:      log,
		registry:    registry,
		gate:        gate,
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		queue:       newTieredQueue(),
		jobs:        make(map[string]*domain.Job),
		active:      make(map[string]*activeJob),
		retryTimers: make(map[string]*time.Timer),
		metrics:     NewMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SubmitOption customizes a single job submission.
type SubmitOption func(*domain.Job)

// WithJobID overrides the generated job ID.
func WithJobID(id string) SubmitOption {
	return func(j *domain.Job) {
		j.ID = id
	}
}

// WithRetry sets an explicit retry budget and base backoff for the job.
func WithRetry(maxRetries int, backoff time.Duration) SubmitOption {
	return func(j *domain.Job) {
		j.RetryOnFailure = true
		j.MaxRetries = maxRetries
		j.RetryBackoff = backoff
	}
}

// WithoutRetry disables retries for the job.
func WithoutRetry() SubmitOption {
	return func(j *domain.Job) {
		j.RetryOnFailure = false
		j.MaxRetries = 0
	}
}

// Submit enqueues a job for execution and returns its ID. Admission fails
// with ErrQueueFull when the depth cap is reached, ErrDuplicateJob when the
// ID is already queued or running, and tasks.ErrUnknownTask when the task
// name is not registered.
func (e *Executor) Submit(taskName string, args map[string]any, priority domain.Priority, opts ...SubmitOption) (string, error) {
	if !priority.IsValid() {
		return "", fmt.Errorf("invalid priority: %d", priority)
	}
	if !e.registry.Has(taskName) {
		return "", fmt.Errorf("task %q: %w", taskName, tasks.ErrUnknownTask)
	}

	job := &domain.Job{
		TaskName:       taskName,
		Args:           args,
		Priority:       priority,
		Status:         domain.JobStatusPending,
		SubmittedAt:    time.Now(),
		RetryOnFailure: true,
		MaxRetries:     e.cfg.DefaultMaxRetries,
		RetryBackoff:   e.cfg.DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(job)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.jobs[job.ID]; ok && !existing.Status.IsTerminal() {
		return "", fmt.Errorf("job %s: %w", job.ID, ErrDuplicateJob)
	}
	if e.queue.len()+len(e.active) >= e.cfg.MaxQueueDepth {
		return "", fmt.Errorf("depth %d: %w", e.cfg.MaxQueueDepth, ErrQueueFull)
	}

	e.jobs[job.ID] = job
	e.queue.push(job)

	e.logger.Debug("Job submitted",
		logger.String("job_id", job.ID),
		logger.String("task", job.TaskName),
		logger.String("priority", job.Priority.String()))
	return job.ID, nil
}

// Start launches the dispatch loop.
func (e *Executor) Start() error {
	if !e.state.CompareAndSwap(stateStopped, stateRunning) {
		return ErrAlreadyRunning
	}
	e.loopWG.Add(1)
	go e.dispatchLoop()
	e.logger.Info("Executor started",
		logger.Int("max_workers", e.cfg.MaxWorkers),
		logger.Int("max_queue_depth", e.cfg.MaxQueueDepth))
	return nil
}

// Stop shuts the executor down. With graceful=true it stops dispatching,
// waits for active jobs to finish within the drain timeout (bounded further
// by ctx), and reports how many jobs were still active on timeout. With
// graceful=false it marks all active jobs cancelled and returns immediately.
func (e *Executor) Stop(ctx context.Context, graceful bool) error {
	if !e.state.CompareAndSwap(stateRunning, stateDraining) {
		return ErrNotRunning
	}
	close(e.stopCh)
	e.loopWG.Wait()
	e.stopRetryTimers()

	if !graceful {
		e.mu.Lock()
		for _, act := range e.active {
			act.job.Status = domain.JobStatusCancelled
			act.cancel()
		}
		n := len(e.active)
		e.mu.Unlock()
		e.cancel()
		e.state.Store(stateStopped)
		e.logger.Info("Executor stopped", logger.Int("cancelled_jobs", n))
		return nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, e.cfg.DrainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.jobWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.state.Store(stateStopped)
		e.logger.Info("Executor stopped gracefully")
		return nil
	case <-drainCtx.Done():
		e.mu.Lock()
		n := len(e.active)
		e.mu.Unlock()
		e.cancel()
		e.state.Store(stateStopped)
		e.logger.Warn("Executor drain timed out", logger.Int("still_active", n))
		return fmt.Errorf("%w: %d jobs still active", ErrDrainTimeout, n)
	}
}

func (e *Executor) stopRetryTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.retryTimers {
		t.Stop()
		delete(e.retryTimers, id)
	}
}

// dispatchLoop scans the queue tiers on every tick, starting as many jobs
// as free workers and the resource gate allow.
func (e *Executor) dispatchLoop() {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.dispatchReady()
		}
	}
}

func (e *Executor) dispatchReady() {
	for {
		e.mu.Lock()
		if e.state.Load() != stateRunning || len(e.active) >= e.cfg.MaxWorkers {
			e.mu.Unlock()
			return
		}
		job := e.queue.pop()
		if job == nil {
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		ok, snapshot := e.gate.Allow(e.ctx)
		if !ok {
			// Put the job back at the head of its tier so it keeps its
			// position, then back off before the next attempt.
			e.mu.Lock()
			e.queue.pushFront(job)
			e.mu.Unlock()
			e.logger.Debug("Dispatch deferred by resource gate",
				logger.String("job_id", job.ID),
				logger.Float64("cpu_percent", snapshot.CPUPercent),
				logger.Float64("memory_mb", snapshot.MemoryMB))
			select {
			case <-e.stopCh:
			case <-time.After(e.cfg.ResourceBackoff):
			}
			return
		}

		e.startJob(job, snapshot)
	}
}

func (e *Executor) startJob(job *domain.Job, before domain.ResourceSnapshot) {
	e.mu.Lock()
	if job.Status != domain.JobStatusPending {
		// Cancelled between dequeue and start.
		e.mu.Unlock()
		return
	}
	if err := ValidateTransition(job.Status, domain.JobStatusRunning); err != nil {
		e.mu.Unlock()
		e.logger.Error("Rejected job start", logger.Error(err), logger.String("job_id", job.ID))
		return
	}
	now := time.Now()
	job.Status = domain.JobStatusRunning
	job.StartedAt = &now

	jobCtx, cancel := context.WithCancel(e.ctx)
	e.active[job.ID] = &activeJob{job: job, cancel: cancel, startedAt: now}
	e.jobWG.Add(1)
	e.mu.Unlock()

	go e.runJob(jobCtx, cancel, job, before)
}

func (e *Executor) runJob(ctx context.Context, cancel context.CancelFunc, job *domain.Job, before domain.ResourceSnapshot) {
	defer e.jobWG.Done()
	defer cancel()

	started := time.Now()
	payload, err := e.invoke(ctx, job)
	duration := time.Since(started)

	after, snapErr := e.gate.Snapshot(context.Background())
	if snapErr != nil {
		after = domain.ResourceSnapshot{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, job.ID)

	switch {
	case job.Status == domain.JobStatusCancelled:
		// Cancel marked the job while the task was running.
		e.finalizeLocked(job, domain.JobStatusCancelled, payload, err, duration, before, after)
	case err != nil:
		job.LastError = err.Error()
		if job.RetryOnFailure && job.RetryCount < job.MaxRetries && e.state.Load() == stateRunning {
			e.scheduleRetryLocked(job)
		} else {
			e.finalizeLocked(job, domain.JobStatusFailed, payload, err, duration, before, after)
		}
	default:
		e.finalizeLocked(job, domain.JobStatusCompleted, payload, nil, duration, before, after)
	}
}

// invoke runs the task function with panic isolation. A panicking task
// fails its own job only; the worker survives.
func (e *Executor) invoke(ctx context.Context, job *domain.Job) (payload any, err error) {
	fn, lookupErr := e.registry.Lookup(job.TaskName)
	if lookupErr != nil {
		return nil, lookupErr
	}
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("task panicked: %v", r)
			e.logger.Error("Task panic recovered",
				logger.String("job_id", job.ID),
				logger.String("task", job.TaskName),
				logger.Any("panic", r))
		}
	}()
	return fn(ctx, job.Args)
}

// scheduleRetryLocked re-enqueues a failed job at the same priority after
/// an exponential backoff: base * 2^(attempt-1), capped at one hour.
func (e *Executor) scheduleRetryLocked(job *domain.Job) {
	if err := ValidateTransition(domain.JobStatusRunning, domain.JobStatusFailed); err == nil {
		job.Status = domain.JobStatusFailed
	}
	job.RetryCount++
	job.StartedAt = nil

	backoff := retryBackoff(job.RetryBackoff, job.RetryCount)
	e.metrics.RecordRetry()
	e.logger.Warn("Job failed, retry scheduled",
		logger.String("job_id", job.ID),
		logger.Int("attempt", job.RetryCount),
		logger.Int("max_retries", job.MaxRetries),
		logger.Duration("backoff", backoff),
		logger.String("error", job.LastError))

	e.retryTimers[job.ID] = time.AfterFunc(backoff, func() {
		e.requeue(job)
	})
}

func retryBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultRetryBackoff
	}
	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if backoff > maxRetryBackoff || backoff <= 0 {
		backoff = maxRetryBackoff
	}
	return backoff
}

func (e *Executor) requeue(job *domain.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.retryTimers, job.ID)

	if e.state.Load() != stateRunning {
		return
	}
	if job.Status != domain.JobStatusFailed {
		// Cancelled while waiting for the backoff timer.
		return
	}
	if err := ValidateTransition(job.Status, domain.JobStatusPending); err != nil {
		e.logger.Error("Rejected retry re-enqueue", logger.Error(err), logger.String("job_id", job.ID))
		return
	}
	job.Status = domain.JobStatusPending
	e.queue.push(job)
}

// finalizeLocked records the terminal state and the single execution result
// for the job, evicting the oldest history entry beyond the cap.
func (e *Executor) finalizeLocked(job *domain.Job, status domain.JobStatus, payload any, err error, duration time.Duration, before, after domain.ResourceSnapshot) {
	now := time.Now()
	job.Status = status
	job.CompletedAt = &now

	result := &domain.ExecutionResult{
		JobID:          job.ID,
		Success:        status == domain.JobStatusCompleted,
		Payload:        payload,
		Duration:       duration,
		RetryCount:     job.RetryCount,
		ResourceBefore: before,
		ResourceAfter:  after,
		CompletedAt:    now,
	}
	if err != nil {
		result.ErrorMessage = err.Error()
	} else if status == domain.JobStatusCancelled {
		result.ErrorMessage = "job cancelled"
	}

	switch status {
	case domain.JobStatusCompleted:
		e.metrics.RecordSuccess(duration)
	case domain.JobStatusFailed:
		e.metrics.RecordFailure(duration)
	case domain.JobStatusCancelled:
		e.metrics.RecordCancelled(duration)
	}

	e.history = append(e.history, result)
	e.terminalJobs = append(e.terminalJobs, job)
	for len(e.history) > e.cfg.HistoryLimit {
		evicted := e.terminalJobs[0]
		e.history = e.history[1:]
		e.terminalJobs = e.terminalJobs[1:]
		// The ID may have been reused by a later submission; only drop the
		// status entry when it still points at the evicted run.
		if cur, ok := e.jobs[evicted.ID]; ok && cur == evicted {
			delete(e.jobs, evicted.ID)
		}
	}

	if e.sink != nil {
		go e.persistResult(result)
	}

	e.logger.Info("Job finished",
		logger.String("job_id", job.ID),
		logger.String("status", string(status)),
		logger.Duration("duration", duration),
		logger.Int("retries", job.RetryCount))
}

func (e *Executor) persistResult(result *domain.ExecutionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.sink.SaveResult(ctx, result); err != nil {
		e.logger.Error("Failed to persist execution result",
			logger.Error(err),
			logger.String("job_id", result.JobID))
	}
}

// Cancel requests cancellation of a job. Queued jobs are removed and marked
// CANCELLED immediately; running jobs have their context cancelled and are
// finalized when the task returns. Returns false for unknown or already
// terminal jobs.
func (e *Executor) Cancel(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false
	}

	switch job.Status {
	case domain.JobStatusPending:
		e.queue.remove(jobID)
		e.finalizeLocked(job, domain.JobStatusCancelled, nil, nil, 0, domain.ResourceSnapshot{}, domain.ResourceSnapshot{})
		return true
	case domain.JobStatusFailed:
		// Waiting on a retry backoff timer.
		if err := ValidateTransition(job.Status, domain.JobStatusCancelled); err != nil {
			e.logger.Error("Rejected cancel", logger.Error(err), logger.String("job_id", jobID))
			return false
		}
		if t, exists := e.retryTimers[jobID]; exists {
			t.Stop()
			delete(e.retryTimers, jobID)
		}
		e.finalizeLocked(job, domain.JobStatusCancelled, nil, nil, 0, domain.ResourceSnapshot{}, domain.ResourceSnapshot{})
		return true
	case domain.JobStatusRunning:
		job.Status = domain.JobStatusCancelled
		if act, exists := e.active[jobID]; exists {
			act.cancel()
		}
		e.logger.Info("Cancellation requested for running job", logger.String("job_id", jobID))
		return true
	default:
		return false
	}
}

// GetStatus returns the last-known state of a job.
func (e *Executor) GetStatus(jobID string) (JobStatusInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return JobStatusInfo{}, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}

	info := JobStatusInfo{
		JobID:      job.ID,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		LastError:  job.LastError,
	}
	// Tasks are opaque, so progress is coarse: it tracks the phase rather
	// than work done inside the task.
	switch {
	case job.Status == domain.JobStatusRunning:
		info.Phase = "executing"
		info.ProgressPercent = 50
		if job.StartedAt != nil {
			info.ElapsedSeconds = time.Since(*job.StartedAt).Seconds()
		}
	case job.Status.IsTerminal():
		info.Phase = "terminal"
		info.ProgressPercent = 100
		if job.StartedAt != nil && job.CompletedAt != nil {
			info.ElapsedSeconds = job.CompletedAt.Sub(*job.StartedAt).Seconds()
		}
	default:
		info.Phase = "queued"
		info.ElapsedSeconds = time.Since(job.SubmittedAt).Seconds()
	}
	return info, nil
}

// GetQueueStatus returns queue depths per tier and worker occupancy.
func (e *Executor) GetQueueStatus() QueueStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	byPriority := make(map[string]int)
	for p, n := range e.queue.counts() {
		byPriority[p.String()] = n
	}
	return QueueStatus{
		TotalQueued:      e.queue.len(),
		ByPriority:       byPriority,
		ActiveCount:      len(e.active),
		AvailableWorkers: e.cfg.MaxWorkers - len(e.active),
		MaxQueueDepth:    e.cfg.MaxQueueDepth,
	}
}

// GetMetrics returns the executor counters plus the current resource usage.
func (e *Executor) GetMetrics(ctx context.Context) (MetricsSnapshot, domain.ResourceSnapshot) {
	snapshot := e.metrics.Snapshot()
	usage, err := e.gate.Snapshot(ctx)
	if err != nil {
		e.logger.Warn("Resource snapshot unavailable", logger.Error(err))
	}
	return snapshot, usage
}

// RecentResults returns up to limit terminal results, most recent first.
func (e *Executor) RecentResults(limit int) []*domain.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]*domain.ExecutionResult, 0, limit)
	for i := len(e.history) - 1; i >= len(e.history)-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// Overruns returns the jobs that have been running longer than the given
// budget, longest overrun first. Used by the health monitor; overrunning
// jobs are reported, not terminated.
func (e *Executor) Overruns(budget time.Duration) []JobOverrun {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	var overruns []JobOverrun
	for _, act := range e.active {
		runtime := now.Sub(act.startedAt)
		if runtime > budget {
			overruns = append(overruns, JobOverrun{
				JobID:    act.job.ID,
				TaskName: act.job.TaskName,
				Runtime:  runtime,
				Budget:   budget,
			})
		}
	}
	sort.Slice(overruns, func(i, j int) bool {
		return overruns[i].Runtime > overruns[j].Runtime
	})
	return overruns
}

// IsRunning reports whether the executor is accepting and dispatching jobs.
func (e *Executor) IsRunning() bool {
	return e.state.Load() == stateRunning
}
