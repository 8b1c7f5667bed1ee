package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/jonesrussell/godispatch/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_results (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL,
	success       BOOLEAN NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL,
	retry_count   INTEGER NOT NULL,
	cpu_before    DOUBLE PRECISION NOT NULL,
	mem_before    DOUBLE PRECISION NOT NULL,
	cpu_after     DOUBLE PRECISION NOT NULL,
	mem_after     DOUBLE PRECISION NOT NULL,
	completed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_results_completed_at ON job_results (completed_at DESC);

CREATE TABLE IF NOT EXISTS schedule_executions (
	id            BIGSERIAL PRIMARY KEY,
	execution_id  TEXT NOT NULL,
	schedule_id   TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	success       BOOLEAN NOT NULL,
	duration_ms   BIGINT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_schedule_executions_schedule_id ON schedule_executions (schedule_id, started_at DESC);
`

// PostgresStore persists execution history in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgres connects to the database and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

type jobResultRow struct {
	JobID        string    `db:"job_id"`
	Success      bool      `db:"success"`
	ErrorMessage string    `db:"error_message"`
	DurationMS   int64     `db:"duration_ms"`
	RetryCount   int       `db:"retry_count"`
	CPUBefore    float64   `db:"cpu_before"`
	MemBefore    float64   `db:"mem_before"`
	CPUAfter     float64   `db:"cpu_after"`
	MemAfter     float64   `db:"mem_after"`
	CompletedAt  time.Time `db:"completed_at"`
}

// SaveResult inserts an execution result.
func (s *PostgresStore) SaveResult(ctx context.Context, result *domain.ExecutionResult) error {
	row := jobResultRow{
		JobID:        result.JobID,
		Success:      result.Success,
		ErrorMessage: result.ErrorMessage,
		DurationMS:   result.Duration.Milliseconds(),
		RetryCount:   result.RetryCount,
		CPUBefore:    result.ResourceBefore.CPUPercent,
		MemBefore:    result.ResourceBefore.MemoryMB,
		CPUAfter:     result.ResourceAfter.CPUPercent,
		MemAfter:     result.ResourceAfter.MemoryMB,
		CompletedAt:  result.CompletedAt,
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO job_results
			(job_id, success, error_message, duration_ms, retry_count,
			 cpu_before, mem_before, cpu_after, mem_after, completed_at)
		VALUES
			(:job_id, :success, :error_message, :duration_ms, :retry_count,
			 :cpu_before, :mem_before, :cpu_after, :mem_after, :completed_at)`, row)
	if err != nil {
		return fmt.Errorf("inserting job result: %w", err)
	}
	return nil
}

// RecentResults returns up to limit results, most recent first.
func (s *PostgresStore) RecentResults(ctx context.Context, limit int) ([]*domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []jobResultRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT job_id, success, error_message, duration_ms, retry_count,
		       cpu_before, mem_before, cpu_after, mem_after, completed_at
		FROM job_results
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting job results: %w", err)
	}

	out := make([]*domain.ExecutionResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.ExecutionResult{
			JobID:          row.JobID,
			Success:        row.Success,
			ErrorMessage:   row.ErrorMessage,
			Duration:       time.Duration(row.DurationMS) * time.Millisecond,
			RetryCount:     row.RetryCount,
			ResourceBefore: domain.ResourceSnapshot{CPUPercent: row.CPUBefore, MemoryMB: row.MemBefore},
			ResourceAfter:  domain.ResourceSnapshot{CPUPercent: row.CPUAfter, MemoryMB: row.MemAfter},
			CompletedAt:    row.CompletedAt,
		})
	}
	return out, nil
}

type scheduleEntryRow struct {
	ExecutionID  string     `db:"execution_id"`
	ScheduleID   string     `db:"schedule_id"`
	StartedAt    time.Time  `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	Success      bool       `db:"success"`
	DurationMS   int64      `db:"duration_ms"`
	ErrorMessage string     `db:"error_message"`
}

// SaveScheduleEntry inserts a schedule execution log entry.
func (s *PostgresStore) SaveScheduleEntry(ctx context.Context, entry *domain.ScheduleExecutionLogEntry) error {
	row := scheduleEntryRow{
		ExecutionID:  entry.ExecutionID,
		ScheduleID:   entry.ScheduleID,
		StartedAt:    entry.StartedAt,
		CompletedAt:  entry.CompletedAt,
		Success:      entry.Success,
		DurationMS:   entry.Duration.Milliseconds(),
		ErrorMessage: entry.ErrorMessage,
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO schedule_executions
			(execution_id, schedule_id, started_at, completed_at, success, duration_ms, error_message)
		VALUES
			(:execution_id, :schedule_id, :started_at, :completed_at, :success, :duration_ms, :error_message)`, row)
	if err != nil {
		return fmt.Errorf("inserting schedule execution: %w", err)
	}
	return nil
}

// ScheduleEntries returns up to limit entries for a schedule, most recent
// first.
func (s *PostgresStore) ScheduleEntries(ctx context.Context, scheduleID string, limit int) ([]*domain.ScheduleExecutionLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []scheduleEntryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT execution_id, schedule_id, started_at, completed_at, success, duration_ms, error_message
		FROM schedule_executions
		WHERE schedule_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting schedule executions: %w", err)
	}

	out := make([]*domain.ScheduleExecutionLogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.ScheduleExecutionLogEntry{
			ExecutionID:  row.ExecutionID,
			ScheduleID:   row.ScheduleID,
			StartedAt:    row.StartedAt,
			CompletedAt:  row.CompletedAt,
			Success:      row.Success,
			Duration:     time.Duration(row.DurationMS) * time.Millisecond,
			ErrorMessage: row.ErrorMessage,
		})
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
