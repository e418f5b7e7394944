package riskmetrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treumlabs/risk-engine/internal/domain/limits"
)

func TestNewSnapshot(t *testing.T) {
	now := time.Now()

	s, err := NewSnapshot(limits.Scope{Type: limits.ScopePortfolio, ID: "p-1"}, now)
	require.NoError(t, err)
	assert.Equal(t, TrendStable, s.Trend)
	assert.Equal(t, DefaultStaleThreshold, s.StaleThreshold)

	_, err = NewSnapshot(limits.Scope{Type: limits.ScopePortfolio}, now)
	assert.Error(t, err)
}

func TestSnapshot_IsStale(t *testing.T) {
	now := time.Now()
	s, err := NewSnapshot(limits.Scope{Type: limits.ScopeGlobal}, now)
	require.NoError(t, err)

	assert.False(t, s.IsStale(now.Add(10*time.Minute)))
	assert.True(t, s.IsStale(now.Add(16*time.Minute)))

	// Zero threshold falls back to the default
	s.StaleThreshold = 0
	assert.False(t, s.IsStale(now.Add(10*time.Minute)))

	s.StaleThreshold = time.Minute
	assert.True(t, s.IsStale(now.Add(2*time.Minute)))
}

func TestClassifyTrend(t *testing.T) {
	assert.Equal(t, TrendDeteriorating, ClassifyTrend(0.10, 0.18, 0.05))
	assert.Equal(t, TrendImproving, ClassifyTrend(0.18, 0.10, 0.05))
	assert.Equal(t, TrendStable, ClassifyTrend(0.10, 0.12, 0.05))
}
