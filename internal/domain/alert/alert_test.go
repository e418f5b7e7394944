package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAlert() *Alert {
	return New(TypeFraudDetection, SeverityHigh, PriorityP2, "suspicious login", "login from new country", TriggerCondition{
		Rule:        "fraud_score",
		Threshold:   70,
		ActualValue: 82.4,
		Operator:    "gt",
	})
}

func TestAlert_Lifecycle(t *testing.T) {
	a := newTestAlert()
	assert.Equal(t, StatusActive, a.Status)
	assert.True(t, a.IsOpen())

	require.NoError(t, a.Acknowledge("ops@treum"))
	assert.Equal(t, StatusAcknowledged, a.Status)

	require.NoError(t, a.StartProgress())
	require.NoError(t, a.Resolve("ops@treum", "confirmed legitimate travel"))
	assert.Equal(t, StatusResolved, a.Status)
	assert.False(t, a.IsOpen())

	// Resolved is terminal
	assert.Error(t, a.StartProgress())
	assert.Error(t, a.Acknowledge("someone-else"))
}

func TestAlert_AcknowledgeIdempotent(t *testing.T) {
	a := newTestAlert()

	require.NoError(t, a.Acknowledge("first"))
	firstAt := *a.AcknowledgedAt
	firstBy := *a.AcknowledgedBy

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, a.Acknowledge("second"))

	assert.Equal(t, firstAt, *a.AcknowledgedAt)
	assert.Equal(t, firstBy, *a.AcknowledgedBy)
}

func TestAlert_ResolveIdempotent(t *testing.T) {
	a := newTestAlert()

	require.NoError(t, a.Resolve("ops", "done"))
	firstAt := *a.ResolvedAt

	require.NoError(t, a.Resolve("other", "again"))
	assert.Equal(t, firstAt, *a.ResolvedAt)
	assert.Equal(t, "ops", *a.ResolvedBy)
}

func TestAlert_Escalation(t *testing.T) {
	a := newTestAlert()
	a.Escalation = &EscalationRule{
		EscalateAfter:      10 * time.Minute,
		EscalateTo:         []string{"risk-desk"},
		EscalationSeverity: SeverityCritical,
	}

	assert.False(t, a.NeedsEscalation(a.CreatedAt.Add(9*time.Minute)))

	deadline := a.CreatedAt.Add(10 * time.Minute)
	assert.True(t, a.NeedsEscalation(deadline))

	require.NoError(t, a.Escalate(deadline))
	assert.Equal(t, StatusEscalated, a.Status)
	assert.True(t, a.IsEscalated)
	require.NotNil(t, a.EscalatedAt)
	assert.GreaterOrEqual(t, a.Severity, a.OriginalSeverity)
	assert.Equal(t, SeverityCritical, a.Severity)

	// Already escalated: the scan must not pick it up again
	assert.False(t, a.NeedsEscalation(deadline.Add(time.Hour)))

	// Escalated alerts can still be worked and closed
	require.NoError(t, a.Acknowledge("risk-desk"))
	require.NoError(t, a.Resolve("risk-desk", "handled"))
}

func TestAlert_EscalationNeverLowersSeverity(t *testing.T) {
	a := newTestAlert()
	a.Severity = SeverityCritical
	a.OriginalSeverity = SeverityCritical
	a.Escalation = &EscalationRule{
		EscalateAfter:      time.Minute,
		EscalationSeverity: SeverityWarning,
	}

	require.NoError(t, a.Escalate(a.CreatedAt.Add(2*time.Minute)))
	assert.Equal(t, SeverityCritical, a.Severity)
}

func TestAlert_AcknowledgedDoesNotEscalate(t *testing.T) {
	a := newTestAlert()
	a.Escalation = &EscalationRule{EscalateAfter: time.Minute}

	require.NoError(t, a.Acknowledge("ops"))
	assert.False(t, a.NeedsEscalation(a.CreatedAt.Add(time.Hour)))
}

func TestAlert_Expiry(t *testing.T) {
	a := newTestAlert()
	expiry := a.CreatedAt.Add(time.Hour)
	a.ExpiresAt = &expiry

	assert.False(t, a.ShouldExpire(a.CreatedAt.Add(30*time.Minute)))
	assert.True(t, a.ShouldExpire(expiry.Add(time.Second)))

	require.NoError(t, a.Expire(expiry.Add(time.Second)))
	assert.Equal(t, StatusExpired, a.Status)
	assert.False(t, a.IsOpen())

	// Resolved alerts never expire
	b := newTestAlert()
	b.ExpiresAt = &expiry
	require.NoError(t, b.Resolve("ops", "ok"))
	assert.False(t, b.ShouldExpire(expiry.Add(time.Hour)))
}

func TestAlert_TransitionTable(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusActive, StatusAcknowledged, true},
		{StatusActive, StatusEscalated, true},
		{StatusAcknowledged, StatusInProgress, true},
		{StatusInProgress, StatusExpired, false},
		{StatusResolved, StatusActive, false},
		{StatusDismissed, StatusAcknowledged, false},
		{StatusExpired, StatusResolved, false},
		{StatusEscalated, StatusResolved, true},
	}

	for _, tt := range tests {
		a := newTestAlert()
		a.Status = tt.from
		assert.Equal(t, tt.allowed, a.canTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
