package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	assessmentsvc "github.com/treumlabs/risk-engine/internal/service/assessment"
	"github.com/treumlabs/risk-engine/internal/service/fraud"
)

// AssessmentResponse renders an assessment with enum names instead of
// their storage values.
type AssessmentResponse struct {
	ID             uuid.UUID           `json:"id"`
	Type           string              `json:"type"`
	Status         string              `json:"status"`
	Subject        assessment.Subject  `json:"subject"`
	Score          float64             `json:"score"`
	Level          string              `json:"level"`
	Recommendation string              `json:"recommendation"`
	Confidence     float64             `json:"confidence"`
	Factors        []assessment.Factor `json:"factors"`
	Advice         []string            `json:"advice,omitempty"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`

	Degraded   []string           `json:"degraded_categories,omitempty"`
	Compliance *ComplianceSummary `json:"compliance,omitempty"`
	Categories map[string]float64 `json:"categories,omitempty"`
}

// ComplianceSummary is the check outcome embedded in an assessment
// response.
type ComplianceSummary struct {
	CheckID            uuid.UUID `json:"check_id"`
	Passed             bool      `json:"passed"`
	FailedRules        []string  `json:"failed_rules,omitempty"`
	RequiresEscalation bool      `json:"requires_escalation"`
	Score              float64   `json:"score"`
}

func newAssessmentResponse(a *assessment.Assessment) AssessmentResponse {
	return AssessmentResponse{
		ID:             a.ID,
		Type:           a.Type.String(),
		Status:         a.Status.String(),
		Subject: assessment.Subject{
			UserID:      a.UserID,
			AccountID:   a.AccountID,
			TradeID:     a.TradeID,
			PortfolioID: a.PortfolioID,
		},
		Score:          a.Score,
		Level:          a.Level.String(),
		Recommendation: a.Recommendation.String(),
		Confidence:     a.Confidence,
		Factors:        a.Factors,
		Advice:         a.Recommendations,
		FailureReason:  a.FailureReason,
		CreatedAt:      a.CreatedAt,
		CompletedAt:    a.CompletedAt,
		ExpiresAt:      a.ExpiresAt,
	}
}

func newAssessmentResultResponse(res *assessmentsvc.Result) AssessmentResponse {
	out := newAssessmentResponse(res.Assessment)

	for _, c := range res.DegradedCategories {
		out.Degraded = append(out.Degraded, string(c))
	}
	out.Categories = categoryNames(res.Score.Categories)

	if res.Check != nil {
		out.Compliance = &ComplianceSummary{
			CheckID:            res.Check.ID,
			Passed:             res.Check.Passed,
			FailedRules:        res.Check.FailedRules,
			RequiresEscalation: res.Check.RequiresEscalation,
			Score:              res.Check.Score,
		}
	}
	return out
}

func categoryNames(in map[fraud.Category]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for c, v := range in {
		out[string(c)] = v
	}
	return out
}

// ErrorResponse is the uniform error envelope
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
