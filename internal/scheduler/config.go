// Package scheduler provides the cron-driven time scheduler: named
// schedules bound to registered tasks, checked for dueness on a fixed
// tick and executed without overlap.
package scheduler

import (
	"errors"
	"time"
)

const (
	// DefaultTickInterval is how often schedules are checked for dueness.
	DefaultTickInterval = 30 * time.Second

	// DefaultDueTolerance is the window around now within which a computed
	// fire time counts as due.
	DefaultDueTolerance = 60 * time.Second

	// DefaultMaxConcurrentSchedules caps schedule executions in flight.
	DefaultMaxConcurrentSchedules = 5

	// DefaultDrainTimeout is the graceful-stop wait for in-flight executions.
	DefaultDrainTimeout = 300 * time.Second

	// DefaultLogLimit caps the per-schedule execution log.
	DefaultLogLimit = 100

	// DefaultMaxRuntime is the soft runtime budget for one execution.
	DefaultMaxRuntime = 30 * time.Minute
)

// Config holds configuration for the scheduler.
type Config struct {
	// TickInterval is the dueness check period.
	TickInterval time.Duration

	// DueTolerance bounds how far from now a fire time may be and still
	// count as due on this tick.
	DueTolerance time.Duration

	// MaxConcurrentSchedules caps how many schedules may execute at once.
	// Due schedules beyond the cap are skipped until a later tick.
	MaxConcurrentSchedules int64

	// DrainTimeout is the maximum wait for in-flight executions on stop.
	DrainTimeout time.Duration

	// LogLimit caps the retained execution log entries per schedule.
	LogLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:           DefaultTickInterval,
		DueTolerance:           DefaultDueTolerance,
		MaxConcurrentSchedules: DefaultMaxConcurrentSchedules,
		DrainTimeout:           DefaultDrainTimeout,
		LogLimit:               DefaultLogLimit,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if c.DueTolerance <= 0 {
		return errors.New("due tolerance must be positive")
	}
	if c.MaxConcurrentSchedules <= 0 {
		return errors.New("max concurrent schedules must be positive")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.LogLimit <= 0 {
		return errors.New("log limit must be positive")
	}
	return nil
}
