package domain

import "time"

// RecommendationKind classifies what drove a timing recommendation.
type RecommendationKind string

const (
	RecommendationLoadBalancing RecommendationKind = "load_balancing"
	RecommendationTrafficAware  RecommendationKind = "traffic_aware"
	RecommendationResource      RecommendationKind = "resource"
	RecommendationQuality       RecommendationKind = "quality"
	RecommendationFreshness     RecommendationKind = "freshness"
)

// Recommendation is a proposed, not-yet-applied change to a schedule's
// cron expression. Never mutated after creation.
type Recommendation struct {
	ScheduleID                 string             `json:"schedule_id"`
	ScheduleName               string             `json:"schedule_name"`
	CurrentCron                string             `json:"current_cron"`
	RecommendedCron            string             `json:"recommended_cron"`
	Kind                       RecommendationKind `json:"kind"`
	ExpectedImprovementPercent float64            `json:"expected_improvement_percent"`
	Confidence                 float64            `json:"confidence"`
	Rationale                  []string           `json:"rationale"`
	ImpactAssessment           []string           `json:"impact_assessment"`
	CreatedAt                  time.Time          `json:"created_at"`
}

// Score orders recommendations: higher confidence and improvement first.
func (r Recommendation) Score() float64 {
	return r.Confidence * r.ExpectedImprovementPercent
}
