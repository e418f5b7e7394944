package fixtures

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/treumlabs/risk-engine/internal/domain/limits"
)

// LimitBuilder builds test Limit entities
type LimitBuilder struct {
	limitType limits.LimitType
	scope     limits.Scope
	value     decimal.Decimal
	warning   decimal.Decimal
	actions   []limits.BreachAction
}

// NewLimitBuilder creates a builder with a $1M user notional limit
func NewLimitBuilder() *LimitBuilder {
	return &LimitBuilder{
		limitType: limits.TypeNotional,
		scope:     limits.Scope{Type: limits.ScopeUser, ID: "test-user"},
		value:     decimal.NewFromInt(1_000_000),
		warning:   limits.DefaultWarningThreshold,
		actions:   []limits.BreachAction{limits.ActionPreventNewTrades},
	}
}

func (b *LimitBuilder) WithType(t limits.LimitType) *LimitBuilder {
	b.limitType = t
	return b
}

func (b *LimitBuilder) WithScope(scopeType limits.ScopeType, id string) *LimitBuilder {
	b.scope = limits.Scope{Type: scopeType, ID: id}
	return b
}

func (b *LimitBuilder) WithValue(value decimal.Decimal) *LimitBuilder {
	b.value = value
	return b
}

func (b *LimitBuilder) WithWarningThreshold(pct decimal.Decimal) *LimitBuilder {
	b.warning = pct
	return b
}

func (b *LimitBuilder) WithBreachActions(actions ...limits.BreachAction) *LimitBuilder {
	b.actions = actions
	return b
}

func (b *LimitBuilder) Build(t *testing.T) *limits.Limit {
	t.Helper()

	limit, err := limits.New(b.limitType, b.scope, b.value)
	require.NoError(t, err)

	limit.WarningThreshold = b.warning
	limit.BreachActions = b.actions
	return limit
}
