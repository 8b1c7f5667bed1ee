package tracker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/godispatch/internal/logger"
	"github.com/jonesrussell/godispatch/internal/tracker"
)

func newTestTracker() *tracker.ChangeTracker {
	return tracker.NewChangeTracker(tracker.NewMemoryStateStore(), logger.NewNop(), time.Hour)
}

func TestComputeHashIsStable(t *testing.T) {
	assert.Equal(t, tracker.ComputeHash([]byte("hello")), tracker.ComputeHash([]byte("hello")))
	assert.NotEqual(t, tracker.ComputeHash([]byte("hello")), tracker.ComputeHash([]byte("world")))
	assert.Len(t, tracker.ComputeHash(nil), 64)
}

func TestAdaptiveInterval(t *testing.T) {
	baseline := time.Hour

	assert.Equal(t, baseline, tracker.AdaptiveInterval(baseline, tracker.MaxAdaptiveInterval, 0))
	assert.Equal(t, 2*time.Hour, tracker.AdaptiveInterval(baseline, tracker.MaxAdaptiveInterval, 1))
	assert.Equal(t, 4*time.Hour, tracker.AdaptiveInterval(baseline, tracker.MaxAdaptiveInterval, 2))
	assert.Equal(t, 16*time.Hour, tracker.AdaptiveInterval(baseline, tracker.MaxAdaptiveInterval, 4))

	// Capped at the maximum.
	assert.Equal(t, tracker.MaxAdaptiveInterval, tracker.AdaptiveInterval(baseline, tracker.MaxAdaptiveInterval, 10))
	assert.Equal(t, tracker.MaxAdaptiveInterval, tracker.AdaptiveInterval(baseline, tracker.MaxAdaptiveInterval, 1000))
}

func TestObserveTracksChanges(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	// First observation counts as a change.
	state, changed, err := tr.Observe(ctx, "news", []byte("v1"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, state.TotalChecks)
	assert.Equal(t, 1, state.ChangedChecks)
	assert.Equal(t, time.Hour, state.CurrentInterval)

	// Same content: unchanged, interval backs off.
	state, changed, err = tr.Observe(ctx, "news", []byte("v1"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, state.UnchangedCount)
	assert.Equal(t, 2*time.Hour, state.CurrentInterval)

	state, changed, err = tr.Observe(ctx, "news", []byte("v1"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 4*time.Hour, state.CurrentInterval)

	// New content resets the backoff.
	state, changed, err = tr.Observe(ctx, "news", []byte("v2"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, state.UnchangedCount)
	assert.Equal(t, time.Hour, state.CurrentInterval)
	assert.Equal(t, 4, state.TotalChecks)
	assert.Equal(t, 2, state.ChangedChecks)
}

func TestObserveRequiresSourceID(t *testing.T) {
	tr := newTestTracker()
	_, _, err := tr.Observe(context.Background(), "", []byte("x"))
	assert.Error(t, err)
}

func TestSetQualityClampsScores(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	require.NoError(t, tr.SetQuality(ctx, "news", 1.7, -0.3))
	state, err := tr.State(ctx, "news")
	require.NoError(t, err)
	assert.Equal(t, 1.0, state.Quality)
	assert.Equal(t, 0.0, state.Reliability)
}

func TestActivityFeedsOptimizer(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	_, _, err := tr.Observe(ctx, "news", []byte("v1"))
	require.NoError(t, err)
	_, _, err = tr.Observe(ctx, "news", []byte("v1"))
	require.NoError(t, err)
	_, _, err = tr.Observe(ctx, "news", []byte("v2"))
	require.NoError(t, err)
	require.NoError(t, tr.SetQuality(ctx, "news", 0.8, 0.9))

	activity, err := tr.Activity(ctx, "news", 30)
	require.NoError(t, err)
	assert.Equal(t, "news", activity.SourceID)
	assert.Equal(t, 3, activity.TotalChecks)
	assert.Equal(t, 2, activity.ChangedChecks)
	assert.InDelta(t, 2.0/3.0, activity.ChangeRatio(), 0.001)
	assert.InDelta(t, 0.85, activity.HealthScore(), 0.001)

	_, err = tr.Activity(ctx, "missing", 30)
	assert.ErrorIs(t, err, tracker.ErrStateNotFound)
}

func TestMemoryStateStoreIsolation(t *testing.T) {
	store := tracker.NewMemoryStateStore()
	ctx := context.Background()

	state := &tracker.SourceState{LastHash: "abc", TotalChecks: 1}
	require.NoError(t, store.Save(ctx, "a", state))

	// Mutating the saved pointer does not affect the store.
	state.TotalChecks = 99
	loaded, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.TotalChecks)

	// Mutating a loaded copy does not affect later loads.
	loaded.LastHash = "zzz"
	fresh, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "abc", fresh.LastHash)

	ids, err := store.SourceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}
