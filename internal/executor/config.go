// Package executor provides the priority-based job executor: a tiered queue
// of submitted jobs drained by a bounded set of workers under resource-gate
// admission control, with bounded retries and a capped result history.
package executor

import (
	"errors"
	"time"
)

const (
	// DefaultMaxWorkers is the default number of concurrent workers.
	DefaultMaxWorkers = 10

	// DefaultMaxQueueDepth is the default cap on queued plus active jobs.
	DefaultMaxQueueDepth = 1000

	// DefaultDispatchInterval is the default dequeue-loop tick.
	DefaultDispatchInterval = 100 * time.Millisecond

	// DefaultResourceBackoff is the pause after a resource-gate deferral.
	DefaultResourceBackoff = 1 * time.Second

	// DefaultDrainTimeout is the default timeout for graceful shutdown.
	DefaultDrainTimeout = 30 * time.Second

	// DefaultMaxJobRuntime is the soft runtime budget for a single job.
	// Overruns are reported by health checks, never force-terminated.
	DefaultMaxJobRuntime = 1 * time.Hour

	// DefaultHistoryLimit caps the completed/failed result history.
	DefaultHistoryLimit = 1000

	// DefaultMaxRetries is the default retry budget for retryable jobs.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the default base backoff between retries.
	DefaultRetryBackoff = 5 * time.Second

	// MinWorkers is the minimum allowed worker count.
	MinWorkers = 1

	// MaxWorkers is the maximum allowed worker count.
	MaxWorkers = 100
)

// Config holds configuration for the executor.
type Config struct {
	// MaxWorkers is the number of jobs that may run concurrently.
	MaxWorkers int

	// MaxQueueDepth caps queued plus active jobs; Submit beyond it fails.
	MaxQueueDepth int

	// MaxJobRuntime is the soft per-job runtime budget used by health checks.
	MaxJobRuntime time.Duration

	// DispatchInterval is how often the dequeue loop scans the tiers.
	DispatchInterval time.Duration

	// ResourceBackoff is how long the dequeue loop backs off after the
	// resource gate defers admission.
	ResourceBackoff time.Duration

	// DrainTimeout is the maximum wait for active jobs during graceful stop.
	DrainTimeout time.Duration

	// HistoryLimit caps how many terminal results are retained in memory.
	HistoryLimit int

	// DefaultMaxRetries applies to jobs submitted without an explicit budget.
	DefaultMaxRetries int

	// DefaultRetryBackoff applies to jobs submitted without an explicit base.
	DefaultRetryBackoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:          DefaultMaxWorkers,
		MaxQueueDepth:       DefaultMaxQueueDepth,
		MaxJobRuntime:       DefaultMaxJobRuntime,
		DispatchInterval:    DefaultDispatchInterval,
		ResourceBackoff:     DefaultResourceBackoff,
		DrainTimeout:        DefaultDrainTimeout,
		HistoryLimit:        DefaultHistoryLimit,
		DefaultMaxRetries:   DefaultMaxRetries,
		DefaultRetryBackoff: DefaultRetryBackoff,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxWorkers < MinWorkers {
		return errors.New("max workers must be at least 1")
	}
	if c.MaxWorkers > MaxWorkers {
		return errors.New("max workers cannot exceed 100")
	}
	if c.MaxQueueDepth <= 0 {
		return errors.New("max queue depth must be positive")
	}
	if c.MaxJobRuntime <= 0 {
		return errors.New("max job runtime must be positive")
	}
	if c.DispatchInterval <= 0 {
		return errors.New("dispatch interval must be positive")
	}
	if c.ResourceBackoff <= 0 {
		return errors.New("resource backoff must be positive")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("history limit must be positive")
	}
	if c.DefaultMaxRetries < 0 {
		return errors.New("default max retries cannot be negative")
	}
	if c.DefaultRetryBackoff <= 0 {
		return errors.New("default retry backoff must be positive")
	}
	return nil
}
