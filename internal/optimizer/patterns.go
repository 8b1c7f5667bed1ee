package optimizer

import (
	"fmt"

	"github.com/jonesrussell/godispatch/internal/domain"
)

// UpdatePattern classifies how a content source changes over time.
type UpdatePattern string

const (
	PatternFrequent      UpdatePattern = "FREQUENT"
	PatternDaily         UpdatePattern = "DAILY"
	PatternBusinessHours UpdatePattern = "BUSINESS_HOURS"
	PatternWeekly        UpdatePattern = "WEEKLY"
	PatternIrregular     UpdatePattern = "IRREGULAR"
	PatternStatic        UpdatePattern = "STATIC"
)

// Change-ratio thresholds for pattern classification.
const (
	frequentRatio      = 0.8
	dailyRatio         = 0.4
	weeklyRatio        = 0.1
	businessHoursRatio = 0.3
	businessHoursShare = 0.8
)

// Health-score thresholds for frequency adjustment.
const (
	highHealthScore = 0.8
	lowHealthScore  = 0.4
)

// patternCrons maps each pattern to its baseline check frequency.
var patternCrons = map[UpdatePattern]string{
	PatternFrequent:      "0 */2 * * *",
	PatternDaily:         "0 6 * * *",
	PatternBusinessHours: "0 9-17 * * 1-5",
	PatternWeekly:        "0 6 * * 1",
	PatternIrregular:     "0 */12 * * *",
	PatternStatic:        "0 4 * * 0",
}

// PatternAnalysis is the outcome of classifying one source.
type PatternAnalysis struct {
	SourceID        string        `json:"source_id"`
	Pattern         UpdatePattern `json:"pattern"`
	ChangeRatio     float64       `json:"change_ratio"`
	SampleSize      int           `json:"sample_size"`
	RecommendedCron string        `json:"recommended_cron"`
	Confidence      float64       `json:"confidence"`
	Rationale       []string      `json:"rationale"`
}

// ClassifyPattern derives an update pattern from observed source activity.
func ClassifyPattern(activity domain.SourceActivity) UpdatePattern {
	ratio := activity.ChangeRatio()
	switch {
	case activity.TotalChecks == 0 || activity.ChangedChecks == 0:
		return PatternStatic
	case ratio >= frequentRatio:
		return PatternFrequent
	case ratio >= businessHoursRatio && businessHoursChangeShare(activity) >= businessHoursShare:
		return PatternBusinessHours
	case ratio >= dailyRatio:
		return PatternDaily
	case ratio >= weeklyRatio:
		return PatternWeekly
	default:
		return PatternIrregular
	}
}

// businessHoursChangeShare returns the fraction of observed changes that
// fell within 9:00-17:59.
func businessHoursChangeShare(activity domain.SourceActivity) float64 {
	if activity.ChangedChecks == 0 {
		return 0
	}
	inWindow := 0
	for hour := 9; hour <= 17; hour++ {
		inWindow += activity.ChangeHours[hour]
	}
	return float64(inWindow) / float64(activity.ChangedChecks)
}

// RecommendedCron returns the check frequency for a pattern, adjusted by
// the source health score: healthy sources are checked more often, poor
// ones less, where the pattern's frequency is step-based.
func RecommendedCron(pattern UpdatePattern, healthScore float64) string {
	base, ok := patternCrons[pattern]
	if !ok {
		base = patternCrons[PatternIrregular]
	}

	step, stepped := hourStep(base)
	if !stepped {
		return base
	}

	switch {
	case healthScore >= highHealthScore && step > 1:
		step /= 2
	case healthScore > 0 && healthScore < lowHealthScore && step <= 12:
		step *= 2
	default:
		return base
	}

	adjusted, err := withHourStep(base, step)
	if err != nil {
		return base
	}
	return adjusted
}

// AnalyzeSource classifies one source and packages the result.
func AnalyzeSource(activity domain.SourceActivity) PatternAnalysis {
	pattern := ClassifyPattern(activity)
	analysis := PatternAnalysis{
		SourceID:        activity.SourceID,
		Pattern:         pattern,
		ChangeRatio:     activity.ChangeRatio(),
		SampleSize:      activity.TotalChecks,
		RecommendedCron: RecommendedCron(pattern, activity.HealthScore()),
		Confidence:      sampleConfidence(activity.TotalChecks),
	}
	analysis.Rationale = append(analysis.Rationale,
		fmt.Sprintf("%d of %d checks observed a change (%.0f%%)",
			activity.ChangedChecks, activity.TotalChecks, analysis.ChangeRatio*100),
		fmt.Sprintf("classified as %s", pattern))
	return analysis
}

// sampleConfidence scales confidence with the number of observations:
// 0.3 floor, +0.05 per check, capped at 0.95.
func sampleConfidence(samples int) float64 {
	confidence := 0.3 + 0.05*float64(samples)
	if confidence > 0.95 {
		return 0.95
	}
	return confidence
}
