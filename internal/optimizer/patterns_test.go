package optimizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/optimizer"
)

func businessHoursActivity() domain.SourceActivity {
	a := domain.SourceActivity{SourceID: "biz", TotalChecks: 40, ChangedChecks: 20}
	for hour := 9; hour <= 17; hour++ {
		a.ChangeHours[hour] = 2
	}
	a.ChangeHours[20] = 2
	return a
}

func TestClassifyPattern(t *testing.T) {
	tests := []struct {
		name     string
		activity domain.SourceActivity
		want     optimizer.UpdatePattern
	}{
		{
			name:     "no observations",
			activity: domain.SourceActivity{SourceID: "new"},
			want:     optimizer.PatternStatic,
		},
		{
			name:     "never changed",
			activity: domain.SourceActivity{SourceID: "stale", TotalChecks: 50},
			want:     optimizer.PatternStatic,
		},
		{
			name:     "almost always changed",
			activity: domain.SourceActivity{SourceID: "busy", TotalChecks: 20, ChangedChecks: 18},
			want:     optimizer.PatternFrequent,
		},
		{
			name:     "changes concentrated in business hours",
			activity: businessHoursActivity(),
			want:     optimizer.PatternBusinessHours,
		},
		{
			name:     "changes about half the time",
			activity: domain.SourceActivity{SourceID: "daily", TotalChecks: 20, ChangedChecks: 10},
			want:     optimizer.PatternDaily,
		},
		{
			name:     "changes rarely",
			activity: domain.SourceActivity{SourceID: "weekly", TotalChecks: 40, ChangedChecks: 8},
			want:     optimizer.PatternWeekly,
		},
		{
			name:     "changes almost never",
			activity: domain.SourceActivity{SourceID: "odd", TotalChecks: 100, ChangedChecks: 2},
			want:     optimizer.PatternIrregular,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, optimizer.ClassifyPattern(tt.activity))
		})
	}
}

func TestRecommendedCronHealthAdjustment(t *testing.T) {
	// Healthy sources get checked twice as often on stepped frequencies.
	assert.Equal(t, "0 */1 * * *", optimizer.RecommendedCron(optimizer.PatternFrequent, 0.9))

	// Unhealthy sources get backed off.
	assert.Equal(t, "0 */4 * * *", optimizer.RecommendedCron(optimizer.PatternFrequent, 0.2))

	// Mid-range health keeps the baseline.
	assert.Equal(t, "0 */2 * * *", optimizer.RecommendedCron(optimizer.PatternFrequent, 0.6))

	// Non-stepped frequencies are never adjusted.
	assert.Equal(t, "0 6 * * *", optimizer.RecommendedCron(optimizer.PatternDaily, 0.9))
	assert.Equal(t, "0 9-17 * * 1-5", optimizer.RecommendedCron(optimizer.PatternBusinessHours, 0.1))
}

func TestAnalyzeSourceConfidenceScalesWithSamples(t *testing.T) {
	small := optimizer.AnalyzeSource(domain.SourceActivity{SourceID: "a", TotalChecks: 2, ChangedChecks: 1})
	large := optimizer.AnalyzeSource(domain.SourceActivity{SourceID: "b", TotalChecks: 100, ChangedChecks: 50})

	assert.Less(t, small.Confidence, large.Confidence)
	assert.LessOrEqual(t, large.Confidence, 0.95)
	assert.NotEmpty(t, small.Rationale)
}

func TestWindowHours(t *testing.T) {
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, optimizer.HoursFor(optimizer.WindowLow))
	assert.ElementsMatch(t, []int{12, 13}, optimizer.HoursFor(optimizer.WindowPeak))
	assert.Nil(t, optimizer.HoursFor(optimizer.TrafficWindow("BOGUS")))

	assert.Equal(t, optimizer.WindowPeak, optimizer.WindowOf(13))
	assert.Equal(t, optimizer.WindowLow, optimizer.WindowOf(3))
	assert.True(t, optimizer.IsValidWindow(optimizer.WindowHigh))
	assert.False(t, optimizer.IsValidWindow("weekend"))
}
