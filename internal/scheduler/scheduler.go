package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/logger"
	"github.com/jonesrussell/godispatch/internal/tasks"
)

const (
	stateStopped int32 = iota
	stateRunning
	stateDraining
)

var (
	// ErrScheduleExists is returned when a schedule name is already taken.
	ErrScheduleExists = errors.New("schedule already exists")

	// ErrScheduleNotFound is returned when a schedule ID is unknown.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrNotRunning is returned when the scheduler has not been started.
	ErrNotRunning = errors.New("scheduler is not running")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("scheduler is already running")

	// ErrDrainTimeout is returned when graceful shutdown times out with
	// executions still in flight.
	ErrDrainTimeout = errors.New("drain timeout")
)

// HistorySink receives completed execution log entries for durable storage.
type HistorySink interface {
	SaveScheduleEntry(ctx context.Context, entry *domain.ScheduleExecutionLogEntry) error
}

// entry binds a schedule to its parsed cron expression and runtime state.
type entry struct {
	schedule *domain.Schedule
	cron     cron.Schedule
	running  atomic.Bool
	lastFire time.Time
	log      []domain.ScheduleExecutionLogEntry
}

// Scheduler owns a set of named cron schedules and executes their tasks
// when due. At most one execution per schedule is in flight at any time.
type Scheduler struct {
	cfg      Config
	logger   logger.Interface
	registry *tasks.Registry
	sink     HistorySink

	state  atomic.Int32
	stopCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	loopWG sync.WaitGroup
	execWG sync.WaitGroup
	sem    *semaphore.Weighted

	mu      sync.RWMutex
	entries map[string]*entry
	byName  map[string]string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHistorySink attaches a durable store for execution log entries.
func WithHistorySink(sink HistorySink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// New creates a new scheduler.
func New(cfg Config, registry *tasks.Registry, log logger.Interface, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if registry == nil {
		return nil, errors.New("task registry is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentSchedules),
		entries:  make(map[string]*entry),
		byName:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScheduleOption customizes a schedule at registration time.
type ScheduleOption func(*domain.Schedule)

// WithMaxRuntime sets the soft runtime budget for one execution.
func WithMaxRuntime(d time.Duration) ScheduleOption {
	return func(sc *domain.Schedule) {
		sc.MaxRuntime = d
	}
}

// WithMaxRetries sets the retry budget forwarded to downstream jobs.
func WithMaxRetries(n int) ScheduleOption {
	return func(sc *domain.Schedule) {
		sc.MaxRetries = n
	}
}

// AddSchedule registers a new schedule and returns its ID. The cron
// expression is parsed eagerly; an invalid expression leaves no partial
// registration behind.
func (s *Scheduler) AddSchedule(name, cronExpr, taskName string, args map[string]any, category domain.ScheduleCategory, opts ...ScheduleOption) (string, error) {
	if name == "" {
		return "", errors.New("schedule name is required")
	}
	if taskName == "" {
		return "", errors.New("task name is required")
	}

	parsed, err := ParseCron(cronExpr)
	if err != nil {
		return "", err
	}

	now := time.Now()
	schedule := &domain.Schedule{
		ID:                uuid.NewString(),
		Name:              name,
		CronExpression:    cronExpr,
		TaskName:          taskName,
		Args:              args,
		Category:          category,
		Status:            domain.ScheduleStatusActive,
		MaxRuntime:        DefaultMaxRuntime,
		NextExecutionTime: parsed.Next(now),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, opt := range opts {
		opt(schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[name]; taken {
		return "", fmt.Errorf("schedule %q: %w", name, ErrScheduleExists)
	}
	s.entries[schedule.ID] = &entry{schedule: schedule, cron: parsed}
	s.byName[name] = schedule.ID

	s.logger.Info("Schedule added",
		logger.String("schedule_id", schedule.ID),
		logger.String("name", name),
		logger.String("cron", cronExpr),
		logger.Time("next_execution", schedule.NextExecutionTime))
	return schedule.ID, nil
}

// RemoveSchedule deletes a schedule. Returns false if the schedule does
// not exist or is currently executing.
func (s *Scheduler) RemoveSchedule(scheduleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[scheduleID]
	if !ok || e.running.Load() {
		return false
	}
	delete(s.entries, scheduleID)
	delete(s.byName, e.schedule.Name)
	s.logger.Info("Schedule removed", logger.String("schedule_id", scheduleID))
	return true
}

// PauseSchedule suspends a schedule. Pausing an already paused schedule
// succeeds without effect. An in-flight execution is not interrupted.
func (s *Scheduler) PauseSchedule(scheduleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[scheduleID]
	if !ok {
		return false
	}
	if e.schedule.Status == domain.ScheduleStatusPaused {
		return true
	}
	e.schedule.Status = domain.ScheduleStatusPaused
	e.schedule.UpdatedAt = time.Now()
	s.logger.Info("Schedule paused", logger.String("schedule_id", scheduleID))
	return true
}

// ResumeSchedule reactivates a schedule and recomputes its next execution
// time from now, so no fire times from the paused period are replayed.
func (s *Scheduler) ResumeSchedule(scheduleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[scheduleID]
	if !ok {
		return false
	}
	now := time.Now()
	e.schedule.Status = domain.ScheduleStatusActive
	e.schedule.NextExecutionTime = e.cron.Next(now)
	e.schedule.UpdatedAt = now
	s.logger.Info("Schedule resumed",
		logger.String("schedule_id", scheduleID),
		logger.Time("next_execution", e.schedule.NextExecutionTime))
	return true
}

// UpdateCronExpression atomically replaces a schedule's cron expression
// and recomputes its next execution time. The running state of any
// in-flight execution is unaffected.
func (s *Scheduler) UpdateCronExpression(scheduleID, cronExpr string) error {
	parsed, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[scheduleID]
	if !ok {
		return fmt.Errorf("schedule %s: %w", scheduleID, ErrScheduleNotFound)
	}
	now := time.Now()
	e.cron = parsed
	e.schedule.CronExpression = cronExpr
	e.schedule.NextExecutionTime = parsed.Next(now)
	e.schedule.UpdatedAt = now
	if e.schedule.Status == domain.ScheduleStatusError {
		e.schedule.Status = domain.ScheduleStatusActive
	}
	s.logger.Info("Schedule cron updated",
		logger.String("schedule_id", scheduleID),
		logger.String("cron", cronExpr),
		logger.Time("next_execution", e.schedule.NextExecutionTime))
	return nil
}

// GetSchedule returns a copy of the schedule.
func (s *Scheduler) GetSchedule(scheduleID string) (*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[scheduleID]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, ErrScheduleNotFound)
	}
	return e.schedule.Clone(), nil
}

// ListSchedules returns copies of all schedules matching the given status
// and category filters (empty string matches everything), sorted by next
// execution time ascending.
func (s *Scheduler) ListSchedules(status domain.ScheduleStatus, category domain.ScheduleCategory) []*domain.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Schedule, 0, len(s.entries))
	for _, e := range s.entries {
		if status != "" && e.schedule.Status != status {
			continue
		}
		if category != "" && e.schedule.Category != category {
			continue
		}
		out = append(out, e.schedule.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextExecutionTime.Before(out[j].NextExecutionTime)
	})
	return out
}

// GetExecutionLogs returns up to limit entries of the schedule's capped
// execution log, oldest first.
func (s *Scheduler) GetExecutionLogs(scheduleID string, limit int) ([]domain.ScheduleExecutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[scheduleID]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, ErrScheduleNotFound)
	}
	log := e.log
	if limit > 0 && limit < len(log) {
		log = log[len(log)-limit:]
	}
	out := make([]domain.ScheduleExecutionLogEntry, len(log))
	copy(out, log)
	return out, nil
}

// Start launches the tick loop.
func (s *Scheduler) Start() error {
	if !s.state.CompareAndSwap(stateStopped, stateRunning) {
		return ErrAlreadyRunning
	}
	s.loopWG.Add(1)
	go s.tickLoop()
	s.logger.Info("Scheduler started",
		logger.Duration("tick_interval", s.cfg.TickInterval),
		logger.Int64("max_concurrent", s.cfg.MaxConcurrentSchedules))
	return nil
}

// Stop shuts the scheduler down. With graceful=true it waits up to the
// drain timeout (bounded further by ctx) for in-flight executions and
// reports how many were still running on timeout. With graceful=false it
// cancels all execution contexts and returns immediately.
func (s *Scheduler) Stop(ctx context.Context, graceful bool) error {
	if !s.state.CompareAndSwap(stateRunning, stateDraining) {
		return ErrNotRunning
	}
	close(s.stopCh)
	s.loopWG.Wait()

	if !graceful {
		s.cancel()
		s.state.Store(stateStopped)
		s.logger.Info("Scheduler stopped")
		return nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.execWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.state.Store(stateStopped)
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-drainCtx.Done():
		n := s.runningCount()
		s.cancel()
		s.state.Store(stateStopped)
		s.logger.Warn("Scheduler drain timed out", logger.Int("still_running", n))
		return fmt.Errorf("%w: %d schedules still running", ErrDrainTimeout, n)
	}
}

func (s *Scheduler) runningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.running.Load() {
			n++
		}
	}
	return n
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	return s.state.Load() == stateRunning
}

func (s *Scheduler) tickLoop() {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(time.Now())
		}
	}
}

// tick fires every due active schedule that is not already executing.
// Dueness: the next fire time computed from one tick back must fall within
// the tolerance window around now. Ticks missed while the process was
// stalled are not replayed.
func (s *Scheduler) tick(now time.Time) {
	due := s.collectDue(now)
	for _, e := range due {
		if !s.sem.TryAcquire(1) {
			s.logger.Debug("Concurrency cap reached, schedule skipped this tick",
				logger.String("schedule_id", e.schedule.ID))
			continue
		}
		if !e.running.CompareAndSwap(false, true) {
			s.sem.Release(1)
			continue
		}
		s.execWG.Add(1)
		go s.runSchedule(e)
	}
}

func (s *Scheduler) collectDue(now time.Time) []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for _, e := range s.entries {
		if e.schedule.Status != domain.ScheduleStatusActive || e.running.Load() {
			continue
		}
		fire := e.cron.Next(now.Add(-s.cfg.TickInterval))
		if fire.Before(now.Add(-s.cfg.DueTolerance)) || fire.After(now.Add(s.cfg.DueTolerance)) {
			continue
		}
		// The tolerance window spans several ticks; fire each cron time once.
		if fire.Equal(e.lastFire) {
			continue
		}
		e.lastFire = fire
		due = append(due, e)
	}
	return due
}

func (s *Scheduler) runSchedule(e *entry) {
	defer s.execWG.Done()
	defer s.sem.Release(1)
	defer e.running.Store(false)

	schedule := e.schedule
	execID := uuid.NewString()
	started := time.Now()

	s.logger.Info("Schedule execution started",
		logger.String("schedule_id", schedule.ID),
		logger.String("name", schedule.Name),
		logger.String("execution_id", execID))

	err := s.execute(schedule)
	duration := time.Since(started)
	completed := time.Now()

	if schedule.MaxRuntime > 0 && duration > schedule.MaxRuntime {
		s.logger.Warn("Schedule execution exceeded runtime budget",
			logger.String("schedule_id", schedule.ID),
			logger.Duration("duration", duration),
			logger.Duration("budget", schedule.MaxRuntime))
	}

	logEntry := domain.ScheduleExecutionLogEntry{
		ExecutionID: execID,
		ScheduleID:  schedule.ID,
		StartedAt:   started,
		CompletedAt: &completed,
		Success:     err == nil,
		Duration:    duration,
	}
	if err != nil {
		logEntry.ErrorMessage = err.Error()
		s.logger.Error("Schedule execution failed",
			logger.Error(err),
			logger.String("schedule_id", schedule.ID),
			logger.String("name", schedule.Name))
	}

	s.mu.Lock()
	e.log = append(e.log, logEntry)
	if len(e.log) > s.cfg.LogLimit {
		e.log = e.log[len(e.log)-s.cfg.LogLimit:]
	}

	m := &schedule.Metrics
	m.TotalExecutions++
	if err == nil {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}
	// Running mean over all executions.
	m.AverageDuration += (duration - m.AverageDuration) / time.Duration(m.TotalExecutions)
	m.LastExecutedAt = completed

	schedule.NextExecutionTime = e.cron.Next(completed)
	schedule.UpdatedAt = completed
	s.mu.Unlock()

	if s.sink != nil {
		s.persistEntry(&logEntry)
	}
}

// execute runs the bound task with panic isolation. A failing or panicking
// task marks this execution failed; the schedule itself stays ACTIVE.
func (s *Scheduler) execute(schedule *domain.Schedule) (err error) {
	fn, lookupErr := s.registry.Lookup(schedule.TaskName)
	if lookupErr != nil {
		return lookupErr
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	_, err = fn(s.ctx, schedule.Args)
	return err
}

func (s *Scheduler) persistEntry(logEntry *domain.ScheduleExecutionLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.SaveScheduleEntry(ctx, logEntry); err != nil {
		s.logger.Error("Failed to persist execution log entry",
			logger.Error(err),
			logger.String("schedule_id", logEntry.ScheduleID))
	}
}
