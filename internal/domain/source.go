package domain

import "time"

// SourceActivity summarizes observed change behaviour for one content
// source over an analysis period.
type SourceActivity struct {
	SourceID      string    `json:"source_id"`
	TotalChecks   int       `json:"total_checks"`
	ChangedChecks int       `json:"changed_checks"`
	ChangeHours   [24]int   `json:"change_hours"`
	LastChangeAt  time.Time `json:"last_change_at"`
	Quality       float64   `json:"quality"`
	Reliability   float64   `json:"reliability"`
}

// ChangeRatio returns the fraction of checks that observed a change.
func (a SourceActivity) ChangeRatio() float64 {
	if a.TotalChecks == 0 {
		return 0
	}
	return float64(a.ChangedChecks) / float64(a.TotalChecks)
}

// HealthScore averages quality and reliability into a single [0, 1] score.
func (a SourceActivity) HealthScore() float64 {
	return (a.Quality + a.Reliability) / 2
}
