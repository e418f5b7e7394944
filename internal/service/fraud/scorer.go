package fraud

import (
	"time"

	"github.com/treumlabs/risk-engine/internal/domain/assessment"
)

// Confidence adjustments. Confidence starts at 100 and is penalized for
// sparse history; the floor of 50 is a documented business rule so the
// engine never reports near-zero confidence and masks genuine risk.
const (
	confidenceFloor   = 50
	confidenceCeiling = 100

	penaltyFewLocations  = 20
	penaltyFewDevices    = 15
	penaltyFewLoginHours = 10
	penaltyYoungAccount  = 25
	bonusBroadSignals    = 10

	minKnownLocations = 2
	minKnownDevices   = 2
	minTypicalHours   = 3
	youngAccountAge   = 30 * 24 * time.Hour

	blockScoreThreshold     = 85
	reviewScoreThreshold    = 70
	challengeScoreThreshold = 50
)

// Scorer combines evaluator outputs into an overall score, confidence
// and recommendation. It is stateless and safe for concurrent use.
type Scorer struct{}

func NewScorer() *Scorer { return &Scorer{} }

// Combine merges category results using the fixed weights. Missing
// categories contribute zero; the caller decides if a missing category is
// a degraded evaluation (see the orchestrator's fail-closed handling).
func (s *Scorer) Combine(in Input, results []CategoryResult) ScoreResult {
	out := ScoreResult{
		Categories: make(map[Category]float64, len(results)),
		Factors:    []RiskFactor{},
	}

	for _, r := range results {
		out.Categories[r.Category] = r.Score
		out.OverallScore += r.Score * CategoryWeights[r.Category]
		out.Factors = append(out.Factors, r.Factors...)
	}
	out.OverallScore = clamp(out.OverallScore, 0, 100)

	sortFactorsDesc(out.Factors)
	out.Recommendation = recommend(out.OverallScore, out.Factors)
	out.Confidence = confidence(in, out.Factors)
	return out
}

// recommend derives the action from the overall score and factor
// severities, strictest rule first. Deterministic for identical inputs.
func recommend(overall float64, factors []RiskFactor) assessment.Recommendation {
	var high, critical int
	for _, f := range factors {
		switch f.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		}
	}

	switch {
	case critical > 0 || overall > blockScoreThreshold:
		return assessment.RecommendBlock
	case high >= 2 || overall > reviewScoreThreshold:
		return assessment.RecommendReview
	case high >= 1 || overall > challengeScoreThreshold:
		return assessment.RecommendChallenge
	default:
		return assessment.RecommendAllow
	}
}

// confidence reflects how much history backs the decision, clamped to
// [50,100]
func confidence(in Input, factors []RiskFactor) float64 {
	c := float64(confidenceCeiling)

	if len(in.History.KnownCountries) < minKnownLocations {
		c -= penaltyFewLocations
	}
	if len(in.History.KnownDevices) < minKnownDevices {
		c -= penaltyFewDevices
	}
	if len(in.History.TypicalLoginHours) < minTypicalHours {
		c -= penaltyFewLoginHours
	}
	if in.History.AccountAge(in.Session.LoginAt) < youngAccountAge {
		c -= penaltyYoungAccount
	}

	categories := make(map[Category]struct{})
	for _, f := range factors {
		categories[f.Category] = struct{}{}
	}
	if len(categories) >= 3 {
		c += bonusBroadSignals
	}

	return clamp(c, confidenceFloor, confidenceCeiling)
}

// Advice renders human-readable next steps for the recommendation
func Advice(rec assessment.Recommendation, factors []RiskFactor) []string {
	var advice []string
	switch rec {
	case assessment.RecommendBlock:
		advice = append(advice, "block the action and lock the session pending review")
	case assessment.RecommendReview:
		advice = append(advice, "queue for manual review before settlement")
	case assessment.RecommendChallenge:
		advice = append(advice, "require step-up verification before proceeding")
	}

	for _, f := range factors {
		if f.Severity == SeverityCritical || f.Severity == SeverityHigh {
			advice = append(advice, "investigate: "+f.Description)
		}
	}
	return advice
}
