package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/logger"
)

const (
	// DefaultAutoApplyThreshold is the minimum confidence for auto-apply.
	DefaultAutoApplyThreshold = 0.8

	// DefaultMinImprovementPercent is the minimum expected improvement for
	// auto-apply.
	DefaultMinImprovementPercent = 10.0

	// DefaultInterval is the periodic optimization pass frequency.
	DefaultInterval = 6 * time.Hour

	// DefaultAnalysisPeriodDays is the source activity window analyzed.
	DefaultAnalysisPeriodDays = 30

	loadBalancingConfidence = 0.8
	trafficAwareConfidence  = 0.7
)

// SchedulerView is the scheduler surface the optimizer reads from and
// writes back to. *scheduler.Scheduler satisfies this interface.
type SchedulerView interface {
	ListSchedules(status domain.ScheduleStatus, category domain.ScheduleCategory) []*domain.Schedule
	UpdateCronExpression(scheduleID, cronExpr string) error
}

// SourceMetricsProvider supplies observed change activity per source.
// *tracker.ChangeTracker satisfies this interface.
type SourceMetricsProvider interface {
	SourceIDs(ctx context.Context) ([]string, error)
	Activity(ctx context.Context, sourceID string, periodDays int) (domain.SourceActivity, error)
}

// Config holds configuration for the optimizer.
type Config struct {
	// MaxConcurrentJobs is the per-hour schedule capacity used to detect
	// overloaded hours.
	MaxConcurrentJobs int

	// AutoApplyThreshold is the minimum confidence for auto-applying a
	// recommendation.
	AutoApplyThreshold float64

	// MinImprovementPercent is the minimum expected improvement for
	// auto-applying a recommendation.
	MinImprovementPercent float64

	// Interval is the period between automatic optimization passes.
	Interval time.Duration

	// AnalysisPeriodDays is the source activity window for pattern analysis.
	AnalysisPeriodDays int

	// AutoApply enables applying qualified recommendations in the periodic
	// pass; when false the pass runs dry.
	AutoApply bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:     3,
		AutoApplyThreshold:    DefaultAutoApplyThreshold,
		MinImprovementPercent: DefaultMinImprovementPercent,
		Interval:              DefaultInterval,
		AnalysisPeriodDays:    DefaultAnalysisPeriodDays,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return errors.New("max concurrent jobs must be positive")
	}
	if c.AutoApplyThreshold < 0 || c.AutoApplyThreshold > 1 {
		return errors.New("auto apply threshold must be in [0, 1]")
	}
	if c.MinImprovementPercent < 0 {
		return errors.New("min improvement percent cannot be negative")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.AnalysisPeriodDays <= 0 {
		return errors.New("analysis period days must be positive")
	}
	return nil
}

// Optimizer produces and applies schedule timing recommendations.
type Optimizer struct {
	cfg     Config
	logger  logger.Interface
	target  SchedulerView
	sources SourceMetricsProvider
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithSourceMetrics attaches a source activity provider, enabling
// pattern-based recommendations.
func WithSourceMetrics(provider SourceMetricsProvider) Option {
	return func(o *Optimizer) {
		o.sources = provider
	}
}

// New creates a new optimizer over the given scheduler view.
func New(cfg Config, target SchedulerView, log logger.Interface, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer config: %w", err)
	}
	if target == nil {
		return nil, errors.New("scheduler view is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	o := &Optimizer{cfg: cfg, logger: log, target: target}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// OptimizeDistribution proposes moves that spread fixed-hour schedules out
// of overloaded hours. An hour is overloaded when more than maxConcurrent
// active schedules fire in it; overflow schedules are moved toward the
// least-loaded hours, restricted to the target window when one is given.
// Expected improvement per move: (overloaded - target) / maxConcurrent * 100.
func (o *Optimizer) OptimizeDistribution(window TrafficWindow, maxConcurrent int) []domain.Recommendation {
	if maxConcurrent <= 0 {
		maxConcurrent = o.cfg.MaxConcurrentJobs
	}

	schedules := o.target.ListSchedules(domain.ScheduleStatusActive, "")

	var hourLoad [24]int
	byHour := make(map[int][]*domain.Schedule)
	for _, sched := range schedules {
		hour, ok := fixedHour(sched.CronExpression)
		if !ok {
			continue
		}
		hourLoad[hour]++
		byHour[hour] = append(byHour[hour], sched)
	}

	candidateHours := HoursFor(window)
	if candidateHours == nil {
		candidateHours = make([]int, 24)
		for h := range 24 {
			candidateHours[h] = h
		}
	}

	var recommendations []domain.Recommendation
	moved := make(map[string]bool)
	for hour := range 24 {
		if hourLoad[hour] <= maxConcurrent {
			continue
		}
		overflow := byHour[hour][maxConcurrent:]
		for _, sched := range overflow {
			targetHour, ok := leastLoadedHour(hourLoad, candidateHours, hour)
			if !ok {
				break
			}
			rec, err := o.moveRecommendation(sched, hour, targetHour, hourLoad, maxConcurrent, domain.RecommendationLoadBalancing, loadBalancingConfidence)
			if err != nil {
				o.logger.Warn("Skipping unbalanceable schedule",
					logger.Error(err),
					logger.String("schedule_id", sched.ID))
				continue
			}
			hourLoad[targetHour]++
			moved[sched.ID] = true
			recommendations = append(recommendations, rec)
		}
	}

	if IsValidWindow(window) {
		recommendations = append(recommendations,
			o.trafficAwareMoves(window, hourLoad, byHour, maxConcurrent, moved)...)
	}

	sortByScore(recommendations)
	return recommendations
}

// trafficCategories are the schedule categories eligible for traffic-aware
// retiming; monitoring and processing stay where their consumers expect them.
var trafficCategories = map[domain.ScheduleCategory]bool{
	domain.CategoryScraping:    true,
	domain.CategoryMaintenance: true,
	domain.CategoryCleanup:     true,
}

// trafficAwareMoves proposes moving eligible schedules whose hour falls
// outside the requested window onto a round-robin distribution of the
// window's hours.
func (o *Optimizer) trafficAwareMoves(window TrafficWindow, hourLoad [24]int, byHour map[int][]*domain.Schedule, maxConcurrent int, moved map[string]bool) []domain.Recommendation {
	targetHours := HoursFor(window)
	if len(targetHours) == 0 {
		return nil
	}

	var recommendations []domain.Recommendation
	next := 0
	for hour := range 24 {
		if inWindow(window, hour) {
			continue
		}
		for _, sched := range byHour[hour] {
			if moved[sched.ID] || !trafficCategories[sched.Category] {
				continue
			}
			targetHour := targetHours[next%len(targetHours)]
			next++
			rec, err := o.moveRecommendation(sched, hour, targetHour, hourLoad, maxConcurrent, domain.RecommendationTrafficAware, trafficAwareConfidence)
			if err != nil {
				continue
			}
			rec.Rationale = append(rec.Rationale,
				fmt.Sprintf("hour %d is outside the %s traffic window", hour, window))
			hourLoad[targetHour]++
			recommendations = append(recommendations, rec)
		}
	}
	return recommendations
}

func (o *Optimizer) moveRecommendation(sched *domain.Schedule, fromHour, toHour int, hourLoad [24]int, maxConcurrent int, kind domain.RecommendationKind, confidence float64) (domain.Recommendation, error) {
	recommendedCron, err := withHour(sched.CronExpression, toHour)
	if err != nil {
		return domain.Recommendation{}, err
	}
	improvement := float64(hourLoad[fromHour]-hourLoad[toHour]) / float64(maxConcurrent) * 100

	return domain.Recommendation{
		ScheduleID:                 sched.ID,
		ScheduleName:               sched.Name,
		CurrentCron:                sched.CronExpression,
		RecommendedCron:            recommendedCron,
		Kind:                       kind,
		ExpectedImprovementPercent: improvement,
		Confidence:                 confidence,
		Rationale: []string{
			fmt.Sprintf("%d schedules fire at hour %d, capacity is %d", hourLoad[fromHour], fromHour, maxConcurrent),
			fmt.Sprintf("hour %d currently has %d schedules", toHour, hourLoad[toHour]),
		},
		ImpactAssessment: []string{
			fmt.Sprintf("moves execution from %02d:00 to %02d:00", fromHour, toHour),
		},
		CreatedAt: time.Now(),
	}, nil
}

// leastLoadedHour picks the candidate hour with the lowest load, excluding
// the source hour. Ties break toward the earlier hour.
func leastLoadedHour(hourLoad [24]int, candidates []int, exclude int) (int, bool) {
	best, bestLoad, found := 0, 0, false
	for _, h := range candidates {
		if h == exclude {
			continue
		}
		if !found || hourLoad[h] < bestLoad {
			best, bestLoad, found = h, hourLoad[h], true
		}
	}
	return best, found
}

func inWindow(w TrafficWindow, hour int) bool {
	for _, h := range HoursFor(w) {
		if h == hour {
			return true
		}
	}
	return false
}

// AnalyzeSourcePatterns classifies change behaviour for the given sources
// (all known sources when none are given). A source whose activity cannot
// be read is skipped; its absence from the result marks it unanalyzed.
func (o *Optimizer) AnalyzeSourcePatterns(ctx context.Context, sourceIDs []string, periodDays int) (map[string]PatternAnalysis, error) {
	if o.sources == nil {
		return nil, errors.New("no source metrics provider configured")
	}
	if periodDays <= 0 {
		periodDays = o.cfg.AnalysisPeriodDays
	}
	if len(sourceIDs) == 0 {
		ids, err := o.sources.SourceIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing sources: %w", err)
		}
		sourceIDs = ids
	}

	analyses := make(map[string]PatternAnalysis, len(sourceIDs))
	for _, id := range sourceIDs {
		activity, err := o.sources.Activity(ctx, id, periodDays)
		if err != nil {
			o.logger.Warn("Source activity unavailable, skipping",
				logger.Error(err),
				logger.String("source_id", id))
			continue
		}
		analyses[id] = AnalyzeSource(activity)
	}
	return analyses, nil
}

// AdaptiveResult is the outcome of a full optimization pass.
type AdaptiveResult struct {
	Recommendations             []domain.Recommendation `json:"recommendations"`
	ImplementationPlan          []string                `json:"implementation_plan"`
	EstimatedImprovementPercent float64                 `json:"estimated_improvement_percent"`
}

// AdaptiveOptimization combines load-balancing with pattern-based
// frequency recommendations. Analysis failures shrink the result instead
// of failing the pass.
func (o *Optimizer) AdaptiveOptimization(ctx context.Context) (AdaptiveResult, error) {
	recommendations := o.OptimizeDistribution("", o.cfg.MaxConcurrentJobs)

	if o.sources != nil {
		analyses, err := o.AnalyzeSourcePatterns(ctx, nil, o.cfg.AnalysisPeriodDays)
		if err != nil {
			o.logger.Warn("Pattern analysis unavailable for this pass", logger.Error(err))
		} else {
			recommendations = append(recommendations, o.frequencyRecommendations(analyses)...)
		}
	}

	sortByScore(recommendations)

	result := AdaptiveResult{Recommendations: recommendations}
	auto, manual := 0, 0
	var weighted, weights float64
	for _, rec := range recommendations {
		weighted += rec.ExpectedImprovementPercent * rec.Confidence
		weights += rec.Confidence
		if o.qualifiesForAutoApply(rec, o.cfg.AutoApplyThreshold) {
			auto++
		} else {
			manual++
		}
	}
	if weights > 0 {
		result.EstimatedImprovementPercent = weighted / weights
	}
	if auto > 0 {
		result.ImplementationPlan = append(result.ImplementationPlan,
			fmt.Sprintf("auto-apply %d high-confidence recommendations", auto))
	}
	if manual > 0 {
		result.ImplementationPlan = append(result.ImplementationPlan,
			fmt.Sprintf("hold %d recommendations for manual review", manual))
	}
	if len(recommendations) == 0 {
		result.ImplementationPlan = append(result.ImplementationPlan,
			"schedule distribution is within capacity, no changes proposed")
	}
	return result, nil
}

// frequencyRecommendations matches analyzed sources to scraping schedules
// via the source_id argument and proposes the pattern-derived frequency.
func (o *Optimizer) frequencyRecommendations(analyses map[string]PatternAnalysis) []domain.Recommendation {
	var recommendations []domain.Recommendation
	for _, sched := range o.target.ListSchedules(domain.ScheduleStatusActive, domain.CategoryScraping) {
		sourceID, ok := sched.Args["source_id"].(string)
		if !ok {
			continue
		}
		analysis, analyzed := analyses[sourceID]
		if !analyzed || analysis.RecommendedCron == sched.CronExpression {
			continue
		}
		recommendations = append(recommendations, domain.Recommendation{
			ScheduleID:                 sched.ID,
			ScheduleName:               sched.Name,
			CurrentCron:                sched.CronExpression,
			RecommendedCron:            analysis.RecommendedCron,
			Kind:                       domain.RecommendationFreshness,
			ExpectedImprovementPercent: 15 + analysis.ChangeRatio*20,
			Confidence:                 analysis.Confidence,
			Rationale: append([]string{
				fmt.Sprintf("source %s follows a %s pattern", sourceID, analysis.Pattern),
			}, analysis.Rationale...),
			ImpactAssessment: []string{
				fmt.Sprintf("aligns check frequency with the %s update pattern", analysis.Pattern),
			},
			CreatedAt: time.Now(),
		})
	}
	return recommendations
}

// ApplyReport summarizes an ApplyRecommendations call.
type ApplyReport struct {
	AutoApplied  []domain.Recommendation `json:"auto_applied"`
	ManualReview []domain.Recommendation `json:"manual_review"`
	ChangesMade  int                     `json:"changes_made"`
	DryRun       bool                    `json:"dry_run"`
	Errors       []string                `json:"errors,omitempty"`
}

// ApplyRecommendations applies every recommendation whose confidence meets
// the threshold and whose expected improvement exceeds the configured
// minimum; the rest are returned for manual review. With dryRun=true the
// same decisions are reported but no schedule is changed.
func (o *Optimizer) ApplyRecommendations(ctx context.Context, recommendations []domain.Recommendation, autoApplyThreshold float64, dryRun bool) (ApplyReport, error) {
	if autoApplyThreshold <= 0 {
		autoApplyThreshold = o.cfg.AutoApplyThreshold
	}

	report := ApplyReport{DryRun: dryRun}
	for _, rec := range recommendations {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !o.qualifiesForAutoApply(rec, autoApplyThreshold) {
			report.ManualReview = append(report.ManualReview, rec)
			continue
		}

		report.ChangesMade++
		if !dryRun {
			if err := o.target.UpdateCronExpression(rec.ScheduleID, rec.RecommendedCron); err != nil {
				report.Errors = append(report.Errors,
					fmt.Sprintf("schedule %s: %v", rec.ScheduleID, err))
				o.logger.Error("Failed to apply recommendation",
					logger.Error(err),
					logger.String("schedule_id", rec.ScheduleID))
				continue
			}
			o.logger.Info("Recommendation applied",
				logger.String("schedule_id", rec.ScheduleID),
				logger.String("cron", rec.RecommendedCron),
				logger.String("kind", string(rec.Kind)))
		}
		report.AutoApplied = append(report.AutoApplied, rec)
	}
	return report, nil
}

func (o *Optimizer) qualifiesForAutoApply(rec domain.Recommendation, threshold float64) bool {
	return rec.Confidence >= threshold &&
		rec.ExpectedImprovementPercent > o.cfg.MinImprovementPercent
}

// Run executes periodic optimization passes until ctx is cancelled.
// Passes run dry unless auto-apply is enabled.
func (o *Optimizer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := o.AdaptiveOptimization(ctx)
			if err != nil {
				o.logger.Error("Optimization pass failed", logger.Error(err))
				continue
			}
			report, err := o.ApplyRecommendations(ctx, result.Recommendations, o.cfg.AutoApplyThreshold, !o.cfg.AutoApply)
			if err != nil {
				o.logger.Error("Applying recommendations failed", logger.Error(err))
				continue
			}
			o.logger.Info("Optimization pass finished",
				logger.Int("recommendations", len(result.Recommendations)),
				logger.Int("changes_made", report.ChangesMade),
				logger.Bool("dry_run", report.DryRun))
		}
	}
}

func sortByScore(recommendations []domain.Recommendation) {
	sort.SliceStable(recommendations, func(i, j int) bool {
		return recommendations[i].Score() > recommendations[j].Score()
	})
}
