package assessment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SubjectValidation(t *testing.T) {
	userID := uuid.New()
	tradeID := uuid.New()
	portfolioID := uuid.New()

	tests := []struct {
		name    string
		typ     Type
		subject Subject
		wantErr bool
	}{
		{
			name:    "trade pre requires trade ID",
			typ:     TypeTradePre,
			subject: Subject{UserID: &userID},
			wantErr: true,
		},
		{
			name:    "trade pre with trade ID",
			typ:     TypeTradePre,
			subject: Subject{TradeID: &tradeID, UserID: &userID},
			wantErr: false,
		},
		{
			name:    "portfolio daily requires portfolio ID",
			typ:     TypePortfolioDaily,
			subject: Subject{},
			wantErr: true,
		},
		{
			name:    "position monitoring with portfolio ID",
			typ:     TypePositionMonitoring,
			subject: Subject{PortfolioID: &portfolioID},
			wantErr: false,
		},
		{
			name:    "account opening requires user ID",
			typ:     TypeAccountOpening,
			subject: Subject{AccountID: &userID},
			wantErr: true,
		},
		{
			name:    "market event needs no subject",
			typ:     TypeMarketEvent,
			subject: Subject{},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.typ, tt.subject)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusPending, a.Status)
			assert.NotEqual(t, uuid.Nil, a.ID)
		})
	}
}

func TestLevelFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0, LevelVeryLow},
		{19.9, LevelVeryLow},
		{20, LevelLow},
		{39.9, LevelLow},
		{40, LevelMedium},
		{60, LevelHigh},
		{75, LevelVeryHigh},
		{89.9, LevelVeryHigh},
		{90, LevelCritical},
		{100, LevelCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFromScore(tt.score), "score %.1f", tt.score)
	}

	// Monotonic: increasing score never lowers the level
	prev := LevelVeryLow
	for s := 0.0; s <= 100; s += 0.5 {
		level := LevelFromScore(s)
		assert.GreaterOrEqual(t, level, prev)
		prev = level
	}
}

func TestAssessment_Complete(t *testing.T) {
	userID := uuid.New()

	a, err := New(TypeAccountOpening, Subject{UserID: &userID})
	require.NoError(t, err)

	err = a.Complete(72.5, 85, RecommendReview, []Factor{
		{Factor: "unrecognized_location", Value: 70, Weight: 0.25, Contribution: 17.5},
	}, []string{"require step-up verification"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, LevelHigh, a.Level)
	assert.NotNil(t, a.CompletedAt)

	// Completing twice is rejected
	err = a.Complete(10, 90, RecommendAllow, nil, nil)
	assert.Error(t, err)
}

func TestAssessment_Complete_ScoreBounds(t *testing.T) {
	userID := uuid.New()

	for _, score := range []float64{-1, 100.1, 250} {
		a, err := New(TypeAccountOpening, Subject{UserID: &userID})
		require.NoError(t, err)
		assert.Error(t, a.Complete(score, 90, RecommendAllow, nil, nil))
	}
}

func TestAssessment_Fail(t *testing.T) {
	userID := uuid.New()

	a, err := New(TypeAccountOpening, Subject{UserID: &userID})
	require.NoError(t, err)

	require.NoError(t, a.Fail("all evaluators timed out"))
	assert.Equal(t, StatusFailed, a.Status)
	// Fail-closed: a failed assessment carries the most conservative recommendation
	assert.Equal(t, RecommendBlock, a.Recommendation)

	assert.Error(t, a.Fail("again"))
}

func TestAssessment_EscalateAndReview(t *testing.T) {
	userID := uuid.New()

	a, err := New(TypeAccountOpening, Subject{UserID: &userID})
	require.NoError(t, err)

	// Pending assessments cannot be reviewed
	assert.Error(t, a.Review(uuid.New(), "note"))

	require.NoError(t, a.Complete(92, 80, RecommendBlock, nil, nil))
	require.NoError(t, a.Escalate())
	assert.Equal(t, StatusEscalated, a.Status)

	reviewer := uuid.New()
	require.NoError(t, a.Review(reviewer, "confirmed account takeover"))
	assert.Equal(t, reviewer, *a.ReviewedBy)

	// Escalating a failed assessment is rejected
	b, err := New(TypeAccountOpening, Subject{UserID: &userID})
	require.NoError(t, err)
	require.NoError(t, b.Fail("boom"))
	assert.Error(t, b.Escalate())
}

func TestMostConservative(t *testing.T) {
	assert.Equal(t, RecommendBlock, MostConservative(RecommendAllow, RecommendBlock))
	assert.Equal(t, RecommendReview, MostConservative(RecommendReview, RecommendChallenge))
	assert.Equal(t, RecommendAllow, MostConservative(RecommendAllow, RecommendAllow))
}

func TestAssessment_IsExpired(t *testing.T) {
	userID := uuid.New()

	a, err := New(TypeAccountOpening, Subject{UserID: &userID})
	require.NoError(t, err)
	assert.False(t, a.IsExpired(time.Now()))

	expiry := time.Now().Add(-time.Minute)
	a.ExpiresAt = &expiry
	assert.True(t, a.IsExpired(time.Now()))
}
