package fixtures

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/treumlabs/risk-engine/internal/domain/assessment"
)

// AssessmentBuilder builds test Assessment entities
type AssessmentBuilder struct {
	assessmentType assessment.Type
	subject        assessment.Subject
	score          float64
	confidence     float64
	recommendation assessment.Recommendation
	factors        []assessment.Factor
	advice         []string
	completed      bool
}

// NewAssessmentBuilder creates a builder with a pending account-opening
// assessment for a fresh user.
func NewAssessmentBuilder() *AssessmentBuilder {
	userID := uuid.New()
	return &AssessmentBuilder{
		assessmentType: assessment.TypeAccountOpening,
		subject:        assessment.Subject{UserID: &userID},
		score:          15,
		confidence:     95,
		recommendation: assessment.RecommendAllow,
	}
}

func (b *AssessmentBuilder) WithType(t assessment.Type) *AssessmentBuilder {
	b.assessmentType = t
	return b
}

func (b *AssessmentBuilder) WithSubject(subject assessment.Subject) *AssessmentBuilder {
	b.subject = subject
	return b
}

func (b *AssessmentBuilder) WithScore(score, confidence float64) *AssessmentBuilder {
	b.score = score
	b.confidence = confidence
	return b
}

func (b *AssessmentBuilder) WithRecommendation(r assessment.Recommendation) *AssessmentBuilder {
	b.recommendation = r
	return b
}

func (b *AssessmentBuilder) WithFactors(factors ...assessment.Factor) *AssessmentBuilder {
	b.factors = factors
	return b
}

func (b *AssessmentBuilder) WithAdvice(advice ...string) *AssessmentBuilder {
	b.advice = advice
	return b
}

// Completed marks the built assessment completed with the configured
// score and recommendation.
func (b *AssessmentBuilder) Completed() *AssessmentBuilder {
	b.completed = true
	return b
}

func (b *AssessmentBuilder) Build(t *testing.T) *assessment.Assessment {
	t.Helper()

	a, err := assessment.New(b.assessmentType, b.subject)
	require.NoError(t, err)

	if b.completed {
		require.NoError(t, a.Complete(b.score, b.confidence, b.recommendation, b.factors, b.advice))
	}
	return a
}
