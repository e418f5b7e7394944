package fraud

import (
	"context"
	"sort"

	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	"github.com/treumlabs/risk-engine/internal/domain/profile"
)

// Category is one independent risk dimension
type Category string

const (
	CategoryLocation    Category = "location"
	CategoryDevice      Category = "device"
	CategoryBehavior    Category = "behavior"
	CategoryTransaction Category = "transaction"
	CategoryTemporal    Category = "temporal"
)

// CategoryWeights are the fixed combination weights; they sum to 1.0
var CategoryWeights = map[Category]float64{
	CategoryLocation:    0.25,
	CategoryDevice:      0.20,
	CategoryBehavior:    0.25,
	CategoryTransaction: 0.20,
	CategoryTemporal:    0.10,
}

// Severity of an individual risk factor
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityForScore buckets a factor score into a severity
func severityForScore(score float64) Severity {
	switch {
	case score >= 90:
		return SeverityCritical
	case score >= 70:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Input is everything an evaluator may inspect: the session under
// assessment, the optional transaction or trade, and the user's history.
// Evaluators are pure over this value; the session login time anchors all
// time arithmetic so results are reproducible.
type Input struct {
	Session     profile.Session
	Transaction *profile.Transaction
	Trade       *profile.TradeOrder
	History     profile.History
}

// RiskFactor is one flagged signal within a category
type RiskFactor struct {
	Factor      string   `json:"factor"`
	Category    Category `json:"category"`
	Score       float64  `json:"score"`
	Weight      float64  `json:"weight"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// CategoryResult is the outcome of one evaluator: a clamped sub-score
// and the factors that produced it
type CategoryResult struct {
	Category Category     `json:"category"`
	Score    float64      `json:"score"`
	Factors  []RiskFactor `json:"factors"`
}

// Evaluator computes the sub-score for one risk dimension. Implementations
// are side-effect-free; the context exists so the orchestrator can bound
// evaluators that consult external intelligence.
type Evaluator interface {
	Category() Category
	Evaluate(ctx context.Context, in Input) (CategoryResult, error)
}

// ScoreResult is the combined output of the fraud scorer
type ScoreResult struct {
	OverallScore   float64                   `json:"overall_score"`
	Confidence     float64                   `json:"confidence"`
	Recommendation assessment.Recommendation `json:"recommendation"`
	Factors        []RiskFactor              `json:"factors"`
	Categories     map[Category]float64      `json:"categories"`
}

// HighestFactors returns up to n top factors (already sorted descending)
func (r ScoreResult) HighestFactors(n int) []RiskFactor {
	if n > len(r.Factors) {
		n = len(r.Factors)
	}
	return r.Factors[:n]
}

func sortFactorsDesc(factors []RiskFactor) {
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Score > factors[j].Score
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
