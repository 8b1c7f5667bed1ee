package domain

import "time"

// ScheduleStatus represents the lifecycle state of a schedule.
type ScheduleStatus string

const (
	ScheduleStatusActive   ScheduleStatus = "active"
	ScheduleStatusPaused   ScheduleStatus = "paused"
	ScheduleStatusDisabled ScheduleStatus = "disabled"
	ScheduleStatusError    ScheduleStatus = "error"
)

// ScheduleCategory groups schedules by the kind of work they trigger.
type ScheduleCategory string

const (
	CategoryScraping    ScheduleCategory = "scraping"
	CategoryMaintenance ScheduleCategory = "maintenance"
	CategoryCleanup     ScheduleCategory = "cleanup"
	CategoryMonitoring  ScheduleCategory = "monitoring"
	CategoryProcessing  ScheduleCategory = "processing"
)

// ScheduleMetrics holds aggregate execution metrics for a schedule.
type ScheduleMetrics struct {
	TotalExecutions int64         `json:"total_executions"`
	SuccessCount    int64         `json:"success_count"`
	FailureCount    int64         `json:"failure_count"`
	AverageDuration time.Duration `json:"average_duration"`
	LastExecutedAt  time.Time     `json:"last_executed_at"`
}

// SuccessRate returns the success rate as a fraction in [0, 1].
func (m ScheduleMetrics) SuccessRate() float64 {
	if m.TotalExecutions == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.TotalExecutions)
}

// Schedule is a named recurring trigger bound to a registered task.
type Schedule struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	CronExpression    string           `json:"cron_expression"`
	TaskName          string           `json:"task_name"`
	Args              map[string]any   `json:"args,omitempty"`
	Category          ScheduleCategory `json:"category"`
	Status            ScheduleStatus   `json:"status"`
	MaxRuntime        time.Duration    `json:"max_runtime"`
	MaxRetries        int              `json:"max_retries"`
	NextExecutionTime time.Time        `json:"next_execution_time"`
	Metrics           ScheduleMetrics  `json:"metrics"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Clone returns a copy of the schedule safe to hand to callers.
// Args are shallow-copied; callers must not mutate argument values.
func (s *Schedule) Clone() *Schedule {
	out := *s
	if s.Args != nil {
		out.Args = make(map[string]any, len(s.Args))
		for k, v := range s.Args {
			out.Args[k] = v
		}
	}
	return &out
}

// ScheduleExecutionLogEntry records a single execution of a schedule.
// Entries are append-only and capped per schedule.
type ScheduleExecutionLogEntry struct {
	ExecutionID  string        `json:"execution_id"`
	ScheduleID   string        `json:"schedule_id"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Success      bool          `json:"success"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
