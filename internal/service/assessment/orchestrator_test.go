package assessment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	domlimits "github.com/treumlabs/risk-engine/internal/domain/limits"
	"github.com/treumlabs/risk-engine/internal/domain/profile"
	"github.com/treumlabs/risk-engine/internal/domain/values"
	"github.com/treumlabs/risk-engine/internal/service/alerting"
	compliancesvc "github.com/treumlabs/risk-engine/internal/service/compliance"
	"github.com/treumlabs/risk-engine/internal/service/fraud"
	limitsvc "github.com/treumlabs/risk-engine/internal/service/limits"
)

var assessAt = time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC) // Tuesday morning

type pipeline struct {
	orchestrator *Orchestrator
	assessments  *MemoryRepository
	alerts       *alerting.MemoryRepository
	limits       *limitsvc.MemoryRepository
	tracker      *limitsvc.Tracker
}

func newPipeline(t *testing.T, opts ...Option) *pipeline {
	t.Helper()
	logger := zap.NewNop()

	assessRepo := NewMemoryRepository()
	alertRepo := alerting.NewMemoryRepository()
	limitRepo := limitsvc.NewMemoryRepository()

	alerter := alerting.NewEngine(alertRepo, nil, logger, alerting.DefaultConfig())
	tracker := limitsvc.NewTracker(limitRepo, alerter, logger)
	engine := compliancesvc.NewEngine(logger, compliancesvc.DefaultRules())

	cfg := DefaultConfig()
	cfg.HighRiskCountries = []string{"KP", "IR"}

	return &pipeline{
		orchestrator: NewOrchestrator(assessRepo, engine, tracker, alerter, logger, nil, cfg, opts...),
		assessments:  assessRepo,
		alerts:       alertRepo,
		limits:       limitRepo,
		tracker:      tracker,
	}
}

func establishedHistory(userID uuid.UUID) profile.History {
	lastLogin := assessAt.Add(-26 * time.Hour)
	lastActivity := assessAt.Add(-26 * time.Hour)
	return profile.History{
		UserID:             userID,
		RegisteredAt:       assessAt.Add(-2 * 365 * 24 * time.Hour),
		KnownCountries:     []string{"IN", "SG"},
		KnownCities:        []string{"Mumbai", "Singapore"},
		KnownDevices:       []string{"fp-macbook"},
		TypicalLoginHours:  []int{9, 10, 11},
		AvgSessionDuration: 30 * time.Minute,
		LastLoginAt:        &lastLogin,
		LastLoginCountry:   "IN",
		LastActivityAt:     &lastActivity,
	}
}

func routineRequest(userID uuid.UUID) Request {
	return Request{
		Type:         assessment.TypeAccountOpening,
		Subject:      assessment.Subject{UserID: &userID},
		Jurisdiction: "IN",
		Session: profile.Session{
			UserID:            userID,
			Country:           "IN",
			City:              "Mumbai",
			DeviceFingerprint: "fp-macbook",
			DeviceTrusted:     true,
			UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
			LoginAt:           assessAt,
			Duration:          25 * time.Minute,
		},
		History: establishedHistory(userID),
	}
}

func TestOrchestrator_RoutineLoginAllows(t *testing.T) {
	p := newPipeline(t)
	userID := uuid.New()

	result, err := p.orchestrator.Assess(context.Background(), routineRequest(userID))
	require.NoError(t, err)

	a := result.Assessment
	assert.Equal(t, assessment.StatusCompleted, a.Status)
	assert.Less(t, a.Score, float64(20))
	assert.Equal(t, assessment.LevelVeryLow, a.Level)
	assert.Equal(t, assessment.RecommendAllow, a.Recommendation)
	assert.Empty(t, result.DegradedCategories)
	require.NotNil(t, result.Check)
	assert.True(t, result.Check.Passed)

	stored, err := p.assessments.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, assessment.StatusCompleted, stored.Status)

	open, err := p.alerts.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open, "routine logins raise no alerts")
}

func TestOrchestrator_ImpossibleTravelBlocksAndEscalates(t *testing.T) {
	p := newPipeline(t)
	userID := uuid.New()

	req := routineRequest(userID)
	prior := assessAt.Add(-20 * time.Second)
	req.History.LastLoginAt = &prior
	req.Session.Country = "US"
	req.Session.City = "Ashburn"
	req.Session.DeviceFingerprint = "fp-never-seen"
	req.Session.DeviceTrusted = false

	result, err := p.orchestrator.Assess(context.Background(), req)
	require.NoError(t, err)

	a := result.Assessment
	assert.Equal(t, assessment.RecommendBlock, a.Recommendation)
	assert.Equal(t, assessment.StatusEscalated, a.Status)
	assert.NotEmpty(t, a.Factors)
	assert.NotEmpty(t, a.Recommendations)

	open, err := p.alerts.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, alert.TypeFraudDetection, open[0].Type)
	assert.Equal(t, alert.SeverityCritical, open[0].Severity)
	assert.Equal(t, a.ID, *open[0].SourceID)
}

func TestOrchestrator_SuspiciousTransferEscalatesCompliance(t *testing.T) {
	p := newPipeline(t)
	userID := uuid.New()

	req := routineRequest(userID)
	req.Transaction = &profile.Transaction{
		ID:         uuid.New(),
		Type:       profile.TransactionTransfer,
		Amount:     values.MustNewMoneyFromFloat(2_500_000, values.USD),
		Recipient:  "offshore crypto exchange",
		OccurredAt: assessAt,
	}

	result, err := p.orchestrator.Assess(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, result.Check)
	assert.False(t, result.Check.Passed)
	assert.True(t, result.Check.RequiresEscalation)
	assert.Equal(t, assessment.StatusEscalated, result.Assessment.Status)
	assert.GreaterOrEqual(t, result.Assessment.Recommendation, assessment.RecommendReview)

	// Both the fraud outcome and the compliance violation raise alerts
	open, err := p.alerts.ListOpen(context.Background())
	require.NoError(t, err)
	var sawCompliance bool
	for _, alrt := range open {
		if alrt.Type == alert.TypeComplianceViolation {
			sawCompliance = true
		}
	}
	assert.True(t, sawCompliance)
}

func TestOrchestrator_MissingSubjectCreatesNoRecord(t *testing.T) {
	p := newPipeline(t)
	req := routineRequest(uuid.New())
	req.Subject = assessment.Subject{}

	_, err := p.orchestrator.Assess(context.Background(), req)
	require.Error(t, err)
	assert.Zero(t, p.assessments.Count(), "input errors are rejected before any record exists")
}

func TestOrchestrator_ConsumesLimits(t *testing.T) {
	p := newPipeline(t)
	userID := uuid.New()
	scope := domlimits.Scope{Type: domlimits.ScopeUser, ID: userID.String()}

	_, err := p.tracker.Define(context.Background(), domlimits.TypeNotional, scope, decimal.NewFromInt(1_000_000))
	require.NoError(t, err)

	req := routineRequest(uuid.New())
	req.Type = assessment.TypeTradePre
	tradeID := uuid.New()
	req.Subject = assessment.Subject{UserID: &userID, TradeID: &tradeID}
	req.Trade = &profile.TradeOrder{
		ID:       tradeID,
		Symbol:   "RELIANCE",
		Side:     profile.SideBuy,
		Quantity: 100,
		Price:    values.MustNewMoneyFromFloat(1500, values.USD),
		Notional: values.MustNewMoneyFromFloat(150_000, values.USD),
		PlacedAt: assessAt,
	}
	req.Session.UserID = userID
	req.History.UserID = userID

	_, err = p.orchestrator.Assess(context.Background(), req)
	require.NoError(t, err)

	defined, err := p.tracker.Utilization(context.Background(), scope)
	require.NoError(t, err)
	require.Len(t, defined, 1)
	assert.True(t, defined[0].CurrentUtilization.Equal(decimal.NewFromInt(150_000)),
		"got %s", defined[0].CurrentUtilization)
}

type failingEvaluator struct {
	category fraud.Category
}

func (e *failingEvaluator) Category() fraud.Category { return e.category }

func (e *failingEvaluator) Evaluate(context.Context, fraud.Input) (fraud.CategoryResult, error) {
	return fraud.CategoryResult{}, context.DeadlineExceeded
}

func TestOrchestrator_EvaluatorFailureIsFailClosed(t *testing.T) {
	evaluators := fraud.DefaultEvaluators(nil)
	// Replace the location evaluator with one that always fails
	for i, e := range evaluators {
		if e.Category() == fraud.CategoryLocation {
			evaluators[i] = &failingEvaluator{category: fraud.CategoryLocation}
		}
	}

	p := newPipeline(t, WithEvaluators(evaluators))
	userID := uuid.New()

	result, err := p.orchestrator.Assess(context.Background(), routineRequest(userID))
	require.NoError(t, err, "one failed evaluator must not abort the assessment")

	a := result.Assessment
	assert.Equal(t, assessment.StatusCompleted, a.Status)
	require.Len(t, result.DegradedCategories, 1)
	assert.Equal(t, fraud.CategoryLocation, result.DegradedCategories[0])
	assert.LessOrEqual(t, a.Confidence, float64(90), "degraded evaluation lowers confidence")
}

func TestOrchestrator_AllEvaluatorsFailingFailsAssessment(t *testing.T) {
	evaluators := []fraud.Evaluator{
		&failingEvaluator{category: fraud.CategoryLocation},
		&failingEvaluator{category: fraud.CategoryDevice},
	}
	p := newPipeline(t, WithEvaluators(evaluators))

	_, err := p.orchestrator.Assess(context.Background(), routineRequest(uuid.New()))
	require.Error(t, err)

	// The failed record is persisted with the conservative recommendation
	require.Equal(t, 1, p.assessments.Count())
	open, listErr := p.alerts.ListOpen(context.Background())
	require.NoError(t, listErr)
	require.Len(t, open, 1, "a failed assessment still alerts")
	assert.Equal(t, alert.SeverityCritical, open[0].Severity)
}

type brokenRepo struct{ *MemoryRepository }

func (r *brokenRepo) Update(context.Context, *assessment.Assessment) error {
	return assert.AnError
}

func TestOrchestrator_PersistenceFailureIsHard(t *testing.T) {
	logger := zap.NewNop()
	repo := &brokenRepo{NewMemoryRepository()}
	orchestrator := NewOrchestrator(repo, nil, nil, nil, logger, nil, DefaultConfig())

	_, err := orchestrator.Assess(context.Background(), routineRequest(uuid.New()))
	require.Error(t, err, "an unsaved decision cannot be trusted")
}
