package executor

import (
	"fmt"

	"github.com/jonesrussell/godispatch/internal/domain"
)

// validTransitions defines the allowed job status transitions.
// FAILED is not terminal: it moves back to PENDING when a retry is
// scheduled, or to CANCELLED when cancelled during the retry backoff.
var validTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusPending: {
		domain.JobStatusRunning,
		domain.JobStatusCancelled,
	},
	domain.JobStatusRunning: {
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		domain.JobStatusCancelled,
	},
	domain.JobStatusFailed: {
		domain.JobStatusPending,
		domain.JobStatusCancelled,
	},
	domain.JobStatusCompleted: {},
	domain.JobStatusCancelled: {},
}

// ValidateTransition checks whether a job status transition is allowed.
func ValidateTransition(from, to domain.JobStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown job status: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid job status transition from %s to %s", from, to)
}
