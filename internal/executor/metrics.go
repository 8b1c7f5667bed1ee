package executor

import (
	"sync"
	"time"
)

// Metrics tracks executor statistics. All methods are safe for
// concurrent use.
type Metrics struct {
	mu                 sync.RWMutex
	totalProcessed     int64
	successCount       int64
	failureCount       int64
	cancelledCount     int64
	retryCount         int64
	avgDurationSeconds float64
	lastCompletedAt    time.Time
}

// MetricsSnapshot is a point-in-time copy of the executor counters.
type MetricsSnapshot struct {
	TotalProcessed     int64
	SuccessCount       int64
	FailureCount       int64
	CancelledCount     int64
	RetryCount         int64
	AvgDurationSeconds float64
	LastCompletedAt    time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordSuccess records a successfully completed job.
func (m *Metrics) RecordSuccess(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successCount++
	m.recordProcessedLocked(duration)
}

// RecordFailure records a terminally failed job.
func (m *Metrics) RecordFailure(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureCount++
	m.recordProcessedLocked(duration)
}

// RecordCancelled records a cancelled job.
func (m *Metrics) RecordCancelled(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledCount++
	m.recordProcessedLocked(duration)
}

// RecordRetry records a retry re-enqueue.
func (m *Metrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount++
}

func (m *Metrics) recordProcessedLocked(duration time.Duration) {
	m.totalProcessed++
	// Running mean over all processed jobs.
	m.avgDurationSeconds += (duration.Seconds() - m.avgDurationSeconds) / float64(m.totalProcessed)
	m.lastCompletedAt = time.Now()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		TotalProcessed:     m.totalProcessed,
		SuccessCount:       m.successCount,
		FailureCount:       m.failureCount,
		CancelledCount:     m.cancelledCount,
		RetryCount:         m.retryCount,
		AvgDurationSeconds: m.avgDurationSeconds,
		LastCompletedAt:    m.lastCompletedAt,
	}
}
