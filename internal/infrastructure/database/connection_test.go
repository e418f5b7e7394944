package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/treumlabs/risk-engine/internal/infrastructure/config"
)

func TestNewConnectionPool_InvalidURL(t *testing.T) {
	_, err := NewConnectionPool(&config.DatabaseConfig{
		URL: "not-a-postgres-url://",
	}, zaptest.NewLogger(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing database URL")
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := &CircuitBreaker{
		threshold: 3,
		timeout:   time.Minute,
		state:     CircuitClosed,
	}

	assert.True(t, cb.Allow())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.Allow(), "below threshold the breaker stays closed")

	cb.RecordFailure()
	assert.False(t, cb.Allow(), "at threshold the breaker opens")
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := &CircuitBreaker{
		threshold: 1,
		timeout:   10 * time.Millisecond,
		state:     CircuitClosed,
	}

	cb.RecordFailure()
	require.False(t, cb.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.Allow(), "after the timeout one probe is allowed")

	cb.RecordSuccess()
	assert.True(t, cb.Allow(), "a successful probe closes the breaker")
}

func TestCircuitBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	cb := &CircuitBreaker{
		threshold: 1,
		timeout:   10 * time.Millisecond,
		state:     CircuitClosed,
	}

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	assert.False(t, cb.Allow(), "a failed probe reopens the breaker")
}
