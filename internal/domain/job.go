// Package domain provides domain models used across the orchestrator.
package domain

import (
	"errors"
	"time"
)

// Priority represents job priority level.
type Priority int

const (
	// PriorityCritical is for jobs that must preempt all other queued work.
	PriorityCritical Priority = 0

	// PriorityHigh is for urgent jobs that should be processed first.
	PriorityHigh Priority = 1

	// PriorityNormal is for standard jobs (default).
	PriorityNormal Priority = 2

	// PriorityLow is for background jobs that can wait.
	PriorityLow Priority = 3
)

// String returns the string representation of a priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority converts a string or int to a Priority.
func ParsePriority(value any) (Priority, error) {
	switch v := value.(type) {
	case int:
		return parsePriorityInt(v)
	case int64:
		return parsePriorityInt(int(v))
	case string:
		return parsePriorityString(v)
	case Priority:
		return v, nil
	default:
		return PriorityNormal, errors.New("invalid priority type")
	}
}

func parsePriorityInt(v int) (Priority, error) {
	p := Priority(v)
	if !p.IsValid() {
		return PriorityNormal, errors.New("invalid priority value: must be 0, 1, 2, or 3")
	}
	return p, nil
}

func parsePriorityString(v string) (Priority, error) {
	switch v {
	case "critical", "0":
		return PriorityCritical, nil
	case "high", "1":
		return PriorityHigh, nil
	case "normal", "2", "":
		return PriorityNormal, nil
	case "low", "3":
		return PriorityLow, nil
	default:
		return PriorityNormal, errors.New("invalid priority string: must be critical, high, normal, or low")
	}
}

// AllPriorities returns all priority levels in order of precedence (critical first).
func AllPriorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}
}

// Weight returns a numeric weight for the priority (lower = more important).
func (p Priority) Weight() int {
	return int(p)
}

// IsValid returns true if the priority is a valid value.
func (p Priority) IsValid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job represents a single unit of submitted work.
// A job is owned by exactly one queue tier at a time (its priority) and by
// at most one executing worker at a time.
type Job struct {
	ID             string         `json:"id"`
	TaskName       string         `json:"task_name"`
	Args           map[string]any `json:"args,omitempty"`
	Priority       Priority       `json:"priority"`
	Status         JobStatus      `json:"status"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	RetryOnFailure bool           `json:"retry_on_failure"`
	RetryBackoff   time.Duration  `json:"retry_backoff"`
	LastError      string         `json:"last_error,omitempty"`
}

// ExecutionResult is the immutable record produced when a job finishes.
// Exactly one ExecutionResult exists per terminal job.
type ExecutionResult struct {
	JobID          string           `json:"job_id"`
	Success        bool             `json:"success"`
	Payload        any              `json:"payload,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	Duration       time.Duration    `json:"duration"`
	RetryCount     int              `json:"retry_count"`
	ResourceBefore ResourceSnapshot `json:"resource_before"`
	ResourceAfter  ResourceSnapshot `json:"resource_after"`
	CompletedAt    time.Time        `json:"completed_at"`
}
