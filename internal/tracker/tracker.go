// Package tracker observes content hashes per source, maintains adaptive
// check intervals, and feeds change activity to the optimizer.
package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/logger"
)

const (
	// DefaultBaselineInterval is the check interval for a changing source.
	DefaultBaselineInterval = 1 * time.Hour

	// MaxAdaptiveInterval caps how far the interval backs off.
	MaxAdaptiveInterval = 24 * time.Hour

	// backoffBase doubles the interval per run of unchanged checks.
	backoffBase = 2.0
)

// ErrStateNotFound is returned when no state exists for a source.
var ErrStateNotFound = errors.New("source state not found")

// SourceState is the persisted per-source tracking state.
type SourceState struct {
	LastHash        string        `json:"last_hash"`
	LastChangeAt    time.Time     `json:"last_change_at"`
	LastCheckedAt   time.Time     `json:"last_checked_at"`
	UnchangedCount  int           `json:"unchanged_count"`
	TotalChecks     int           `json:"total_checks"`
	ChangedChecks   int           `json:"changed_checks"`
	ChangeHours     [24]int       `json:"change_hours"`
	Quality         float64       `json:"quality"`
	Reliability     float64       `json:"reliability"`
	CurrentInterval time.Duration `json:"current_interval"`
}

// StateStore persists source states.
type StateStore interface {
	Load(ctx context.Context, sourceID string) (*SourceState, error)
	Save(ctx context.Context, sourceID string, state *SourceState) error
	SourceIDs(ctx context.Context) ([]string, error)
}

// ComputeHash returns the hex-encoded SHA-256 of the content.
func ComputeHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// AdaptiveInterval computes the next check interval: the baseline doubles
// per consecutive unchanged check, capped at max.
func AdaptiveInterval(baseline, max time.Duration, unchangedCount int) time.Duration {
	if baseline <= 0 {
		baseline = DefaultBaselineInterval
	}
	if max <= 0 {
		max = MaxAdaptiveInterval
	}
	if unchangedCount <= 0 {
		return baseline
	}
	interval := time.Duration(float64(baseline) * math.Pow(backoffBase, float64(unchangedCount)))
	if interval > max || interval <= 0 {
		return max
	}
	return interval
}

// ChangeTracker records content observations per source.
type ChangeTracker struct {
	store    StateStore
	logger   logger.Interface
	baseline time.Duration
	max      time.Duration
}

// NewChangeTracker creates a tracker over the given state store.
func NewChangeTracker(store StateStore, log logger.Interface, baseline time.Duration) *ChangeTracker {
	if baseline <= 0 {
		baseline = DefaultBaselineInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ChangeTracker{
		store:    store,
		logger:   log,
		baseline: baseline,
		max:      MaxAdaptiveInterval,
	}
}

// Observe records one content check for a source. It returns the updated
// state and whether the content changed since the previous observation.
// The first observation of a source counts as a change.
func (t *ChangeTracker) Observe(ctx context.Context, sourceID string, content []byte) (*SourceState, bool, error) {
	if sourceID == "" {
		return nil, false, errors.New("source id is required")
	}

	state, err := t.store.Load(ctx, sourceID)
	if errors.Is(err, ErrStateNotFound) {
		state = &SourceState{}
	} else if err != nil {
		return nil, false, fmt.Errorf("loading state for %s: %w", sourceID, err)
	}

	now := time.Now()
	hash := ComputeHash(content)
	changed := state.LastHash != hash

	state.TotalChecks++
	state.LastCheckedAt = now
	if changed {
		state.LastHash = hash
		state.LastChangeAt = now
		state.ChangedChecks++
		state.ChangeHours[now.Hour()]++
		state.UnchangedCount = 0
	} else {
		state.UnchangedCount++
	}
	state.CurrentInterval = AdaptiveInterval(t.baseline, t.max, state.UnchangedCount)

	if err := t.store.Save(ctx, sourceID, state); err != nil {
		return nil, false, fmt.Errorf("saving state for %s: %w", sourceID, err)
	}

	t.logger.Debug("Source observed",
		logger.String("source_id", sourceID),
		logger.Bool("changed", changed),
		logger.Int("unchanged_count", state.UnchangedCount),
		logger.Duration("next_interval", state.CurrentInterval))
	return state, changed, nil
}

// SetQuality records quality and reliability scores for a source.
// Both are clamped to [0, 1].
func (t *ChangeTracker) SetQuality(ctx context.Context, sourceID string, quality, reliability float64) error {
	state, err := t.store.Load(ctx, sourceID)
	if errors.Is(err, ErrStateNotFound) {
		state = &SourceState{CurrentInterval: t.baseline}
	} else if err != nil {
		return fmt.Errorf("loading state for %s: %w", sourceID, err)
	}
	state.Quality = clamp01(quality)
	state.Reliability = clamp01(reliability)
	return t.store.Save(ctx, sourceID, state)
}

// State returns the current tracking state for a source.
func (t *ChangeTracker) State(ctx context.Context, sourceID string) (*SourceState, error) {
	return t.store.Load(ctx, sourceID)
}

// SourceIDs lists all tracked sources.
func (t *ChangeTracker) SourceIDs(ctx context.Context) ([]string, error) {
	return t.store.SourceIDs(ctx)
}

// Activity summarizes change behaviour for the optimizer. The period is
// advisory; counters cover the store's retention.
func (t *ChangeTracker) Activity(ctx context.Context, sourceID string, _ int) (domain.SourceActivity, error) {
	state, err := t.store.Load(ctx, sourceID)
	if err != nil {
		return domain.SourceActivity{}, err
	}
	return domain.SourceActivity{
		SourceID:      sourceID,
		TotalChecks:   state.TotalChecks,
		ChangedChecks: state.ChangedChecks,
		ChangeHours:   state.ChangeHours,
		LastChangeAt:  state.LastChangeAt,
		Quality:       state.Quality,
		Reliability:   state.Reliability,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
