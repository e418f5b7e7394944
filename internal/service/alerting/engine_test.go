package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	"github.com/treumlabs/risk-engine/internal/domain/compliance"
	domlimits "github.com/treumlabs/risk-engine/internal/domain/limits"
	limitsvc "github.com/treumlabs/risk-engine/internal/service/limits"
)

type capturePublisher struct {
	mu        sync.Mutex
	published []alert.Alert
}

func (p *capturePublisher) PublishAlert(_ context.Context, a alert.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, a)
}

func (p *capturePublisher) all() []alert.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]alert.Alert(nil), p.published...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *MemoryRepository, *capturePublisher, *testClock) {
	t.Helper()
	repo := NewMemoryRepository()
	publisher := &capturePublisher{}
	// The alert entity stamps CreatedAt with the wall clock, so the fake
	// clock must start from it for escalation windows to line up.
	clock := &testClock{now: time.Now()}
	engine := NewEngine(repo, publisher, zap.NewNop(), DefaultConfig(), WithClock(clock.Now))
	return engine, repo, publisher, clock
}

func blockedAssessment(t *testing.T, rec assessment.Recommendation, score float64) *assessment.Assessment {
	t.Helper()
	userID := uuid.New()
	a, err := assessment.New(assessment.TypeAccountOpening, assessment.Subject{UserID: &userID})
	require.NoError(t, err)
	factors := []assessment.Factor{
		{Factor: "impossible_travel", Value: 90, Weight: 0.25, Contribution: 22.5, Description: "location changed too fast"},
	}
	require.NoError(t, a.Complete(score, 80, rec, factors, nil))
	return a
}

func TestEngine_CreateFromAssessment(t *testing.T) {
	ctx := context.Background()

	t.Run("block is critical P1", func(t *testing.T) {
		engine, _, publisher, _ := newTestEngine(t)
		a := blockedAssessment(t, assessment.RecommendBlock, 92)

		alrt, err := engine.CreateFromAssessment(ctx, a)
		require.NoError(t, err)
		require.NotNil(t, alrt)

		assert.Equal(t, alert.TypeFraudDetection, alrt.Type)
		assert.Equal(t, alert.SeverityCritical, alrt.Severity)
		assert.Equal(t, alert.PriorityP1, alrt.Priority)
		assert.Equal(t, alert.StatusActive, alrt.Status)
		assert.Equal(t, a.UserID, alrt.UserID)
		assert.Equal(t, a.ID, *alrt.SourceID)
		assert.Equal(t, float64(92), alrt.Trigger.ActualValue)
		assert.Contains(t, alrt.NotificationChannels, alert.ChannelSMS)
		require.NotNil(t, alrt.Escalation)
		assert.Equal(t, 10*time.Minute, alrt.Escalation.EscalateAfter)
		require.NotNil(t, alrt.ExpiresAt)

		require.Len(t, publisher.all(), 1)
	})

	t.Run("review is high P2", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t)
		a := blockedAssessment(t, assessment.RecommendReview, 74)

		alrt, err := engine.CreateFromAssessment(ctx, a)
		require.NoError(t, err)
		require.NotNil(t, alrt)
		assert.Equal(t, alert.SeverityHigh, alrt.Severity)
		assert.Equal(t, alert.PriorityP2, alrt.Priority)
		assert.NotContains(t, alrt.NotificationChannels, alert.ChannelSMS)
	})

	t.Run("challenge and allow raise nothing", func(t *testing.T) {
		engine, _, publisher, _ := newTestEngine(t)
		for _, rec := range []assessment.Recommendation{assessment.RecommendChallenge, assessment.RecommendAllow} {
			alrt, err := engine.CreateFromAssessment(ctx, blockedAssessment(t, rec, 40))
			require.NoError(t, err)
			assert.Nil(t, alrt)
		}
		assert.Empty(t, publisher.all())
	})
}

func limitEvent(t *testing.T, kind limitsvc.EventKind, actions ...domlimits.BreachAction) limitsvc.Event {
	t.Helper()
	limit, err := domlimits.New(domlimits.TypeDailyLoss,
		domlimits.Scope{Type: domlimits.ScopeUser, ID: "user-1"}, decimal.NewFromInt(1000))
	require.NoError(t, err)
	limit.BreachActions = actions
	limit.ApplyDelta(decimal.NewFromInt(1100), time.Now())
	return limitsvc.Event{Kind: kind, Limit: *limit, Previous: domlimits.StatusWarning, OccurredAt: time.Now()}
}

func TestEngine_CreateFromLimitEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("breach severity scales with breach action", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t)

		alrt, err := engine.CreateFromLimitEvent(ctx, limitEvent(t, limitsvc.EventBreached, domlimits.ActionClosePositions))
		require.NoError(t, err)
		assert.Equal(t, alert.TypeRiskLimitBreach, alrt.Type)
		assert.Equal(t, alert.SeverityEmergency, alrt.Severity)
		assert.Equal(t, alert.PriorityP1, alrt.Priority)

		alrt, err = engine.CreateFromLimitEvent(ctx, limitEvent(t, limitsvc.EventBreached, domlimits.ActionPreventNewTrades))
		require.NoError(t, err)
		assert.Equal(t, alert.SeverityCritical, alrt.Severity)

		alrt, err = engine.CreateFromLimitEvent(ctx, limitEvent(t, limitsvc.EventBreached, domlimits.ActionNotify))
		require.NoError(t, err)
		assert.Equal(t, alert.SeverityHigh, alrt.Severity)
		assert.Equal(t, alert.PriorityP2, alrt.Priority)
	})

	t.Run("warning transition raises a heads-up", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t)
		alrt, err := engine.CreateFromLimitEvent(ctx, limitEvent(t, limitsvc.EventWarning))
		require.NoError(t, err)
		assert.Equal(t, alert.TypeRiskLimitWarning, alrt.Type)
		assert.Equal(t, alert.SeverityWarning, alrt.Severity)
	})

	t.Run("recovery raises nothing", func(t *testing.T) {
		engine, _, publisher, _ := newTestEngine(t)
		alrt, err := engine.CreateFromLimitEvent(ctx, limitEvent(t, limitsvc.EventRecovered))
		require.NoError(t, err)
		assert.Nil(t, alrt)
		assert.Empty(t, publisher.all())
	})
}

func TestEngine_CreateFromCompliance(t *testing.T) {
	ctx := context.Background()
	engine, _, _, _ := newTestEngine(t)
	userID := uuid.New()

	check := compliance.NewCheck(compliance.TypeAML, &userID, nil)
	flags := []compliance.Flag{{Name: "structuring", Severity: compliance.SeveritySevere, Value: 3, Threshold: 1_000_000}}
	require.NoError(t, check.Complete([]string{"aml-structuring"}, []string{"aml-structuring"}, flags, 60))

	alrt, err := engine.CreateFromCompliance(ctx, check)
	require.NoError(t, err)
	require.NotNil(t, alrt)
	assert.Equal(t, alert.TypeComplianceViolation, alrt.Type)
	assert.Equal(t, alert.SeverityCritical, alrt.Severity)
	assert.Equal(t, "aml-structuring", alrt.Trigger.Rule)

	// Passing checks raise nothing
	passing := compliance.NewCheck(compliance.TypeAML, &userID, nil)
	require.NoError(t, passing.Complete([]string{"aml-structuring"}, nil, nil, 0))
	alrt, err = engine.CreateFromCompliance(ctx, passing)
	require.NoError(t, err)
	assert.Nil(t, alrt)
}

func TestEngine_AcknowledgeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, _, _, _ := newTestEngine(t)

	created, err := engine.CreateFromAssessment(ctx, blockedAssessment(t, assessment.RecommendBlock, 92))
	require.NoError(t, err)

	first, err := engine.Acknowledge(ctx, created.ID, "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, alert.StatusAcknowledged, first.Status)
	require.NotNil(t, first.AcknowledgedAt)

	second, err := engine.Acknowledge(ctx, created.ID, "analyst-2")
	require.NoError(t, err)
	assert.Equal(t, "analyst-1", *second.AcknowledgedBy, "first acknowledger is preserved")
	assert.Equal(t, *first.AcknowledgedAt, *second.AcknowledgedAt)
}

func TestEngine_ResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, _, _, _ := newTestEngine(t)

	created, err := engine.CreateFromAssessment(ctx, blockedAssessment(t, assessment.RecommendBlock, 92))
	require.NoError(t, err)

	resolved, err := engine.Resolve(ctx, created.ID, "analyst-1", "false positive")
	require.NoError(t, err)
	assert.Equal(t, alert.StatusResolved, resolved.Status)

	again, err := engine.Resolve(ctx, created.ID, "analyst-2", "duplicate")
	require.NoError(t, err)
	assert.Equal(t, "analyst-1", *again.ResolvedBy)
}

func TestEngine_EscalationScan(t *testing.T) {
	ctx := context.Background()
	engine, repo, publisher, clock := newTestEngine(t)

	created, err := engine.CreateFromAssessment(ctx, blockedAssessment(t, assessment.RecommendBlock, 92))
	require.NoError(t, err)
	require.Len(t, publisher.all(), 1)

	// Before the window nothing happens
	clock.Advance(5 * time.Minute)
	engine.ScanOnce(ctx)
	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusActive, stored.Status)

	// Past 10 minutes the alert escalates and severity rises
	clock.Advance(6 * time.Minute)
	engine.ScanOnce(ctx)

	stored, err = repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusEscalated, stored.Status)
	assert.True(t, stored.IsEscalated)
	require.NotNil(t, stored.EscalatedAt)
	assert.Equal(t, alert.SeverityEmergency, stored.Severity)
	assert.Equal(t, alert.SeverityCritical, stored.OriginalSeverity)
	require.Len(t, publisher.all(), 2, "escalation re-notifies")

	// A second scan does not escalate again
	engine.ScanOnce(ctx)
	require.Len(t, publisher.all(), 2)
}

func TestEngine_ExpirySweep(t *testing.T) {
	ctx := context.Background()
	engine, repo, _, clock := newTestEngine(t)

	created, err := engine.CreateFromAssessment(ctx, blockedAssessment(t, assessment.RecommendBlock, 92))
	require.NoError(t, err)

	// Acknowledged alerts do not escalate but still expire
	_, err = engine.Acknowledge(ctx, created.ID, "analyst-1")
	require.NoError(t, err)

	clock.Advance(DefaultConfig().DefaultAlertTTL + time.Minute)
	engine.ScanOnce(ctx)

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusExpired, stored.Status)
	assert.False(t, stored.IsOpen())
}
