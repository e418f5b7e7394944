package compliance

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Complete(t *testing.T) {
	userID := uuid.New()
	c := NewCheck(TypeAML, &userID, nil)
	require.Equal(t, StatusPending, c.Status)

	flags := []Flag{
		{Name: "large_value", Severity: SeverityModerate, Value: 150000, Threshold: 100000},
		{Name: "structuring", Severity: SeverityMajor, Value: 4, Threshold: 3},
	}
	err := c.Complete([]string{"aml-large-value", "aml-structuring", "aml-dormant"},
		[]string{"aml-large-value", "aml-structuring"}, flags, 65)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, c.Status)
	assert.False(t, c.Passed)
	assert.Equal(t, SeverityMajor, c.Severity, "check severity is the worst flag severity")
	assert.NotNil(t, c.CompletedAt)

	// Completing twice is rejected
	assert.Error(t, c.Complete(nil, nil, nil, 0))
}

func TestCheck_FailedRulesMustBeEvaluated(t *testing.T) {
	userID := uuid.New()
	c := NewCheck(TypeAML, &userID, nil)

	err := c.Complete([]string{"aml-large-value"}, []string{"aml-structuring"}, nil, 0)
	assert.Error(t, err)
	assert.Equal(t, StatusPending, c.Status, "invariant violation leaves the check untouched")
}

func TestCheck_CleanRun(t *testing.T) {
	userID := uuid.New()
	c := NewCheck(TypeTransactionLimit, &userID, nil)

	require.NoError(t, c.Complete([]string{"txn-daily", "txn-single"}, nil, nil, 0))
	assert.True(t, c.Passed)
	assert.Equal(t, SeverityMinor, c.Severity)
	assert.False(t, c.RequiresEscalation)
}

func TestCheck_Fail(t *testing.T) {
	c := NewCheck(TypeSanctions, nil, nil)

	require.NoError(t, c.Fail("screening provider unavailable"))
	assert.Equal(t, StatusFailed, c.Status)
	assert.Error(t, c.Fail("again"))
}

func TestCheck_MarkForEscalation(t *testing.T) {
	userID := uuid.New()
	c := NewCheck(TypeAML, &userID, nil)

	c.MarkForEscalation("major severity flags", []string{"freeze withdrawals", "file STR"})
	assert.True(t, c.RequiresEscalation)
	assert.Len(t, c.RemedialActions, 2)
}

func TestRule_AppliesTo(t *testing.T) {
	global := Rule{ID: "r1"}
	assert.True(t, global.AppliesTo("IN"))
	assert.True(t, global.AppliesTo(""))

	scoped := Rule{ID: "r2", Jurisdictions: []string{"IN", "SG"}}
	assert.True(t, scoped.AppliesTo("IN"))
	assert.False(t, scoped.AppliesTo("US"))
}
