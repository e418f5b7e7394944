package rest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	"github.com/treumlabs/risk-engine/internal/domain/limits"
	"github.com/treumlabs/risk-engine/internal/domain/profile"
	"github.com/treumlabs/risk-engine/internal/domain/riskmetrics"
)

// AssessmentRequest is the wire form of an assessment submission. The
// profile payloads reuse the domain structs; only the enum comes in as
// its string name.
type AssessmentRequest struct {
	Type         string             `json:"type" validate:"required"`
	Subject      assessment.Subject `json:"subject"`
	Jurisdiction string             `json:"jurisdiction,omitempty"`

	Session     profile.Session      `json:"session"`
	Transaction *profile.Transaction `json:"transaction,omitempty"`
	Trade       *profile.TradeOrder  `json:"trade,omitempty"`
	History     profile.History      `json:"history"`

	RecentTransactions []profile.Transaction `json:"recent_transactions,omitempty"`
	RecentOrders       []profile.TradeOrder  `json:"recent_orders,omitempty"`
}

// ScopeRequest identifies the limit scope in requests
type ScopeRequest struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id"`
}

func (s ScopeRequest) toDomain() limits.Scope {
	return limits.Scope{Type: limits.ScopeType(s.Type), ID: s.ID}
}

// LimitDefineRequest creates or replaces a limit definition
type LimitDefineRequest struct {
	Type  string          `json:"type" validate:"required"`
	Scope ScopeRequest    `json:"scope"`
	Value decimal.Decimal `json:"value"`
}

// LimitConsumeRequest charges utilization against a limit
type LimitConsumeRequest struct {
	Type  string          `json:"type" validate:"required"`
	Scope ScopeRequest    `json:"scope"`
	Delta decimal.Decimal `json:"delta"`
}

// LimitResetRequest zeroes a limit's utilization window
type LimitResetRequest struct {
	Type  string       `json:"type" validate:"required"`
	Scope ScopeRequest `json:"scope"`
}

// LimitOverrideRequest applies a temporary limit override
type LimitOverrideRequest struct {
	Type   string          `json:"type" validate:"required"`
	Scope  ScopeRequest    `json:"scope"`
	By     string          `json:"by" validate:"required"`
	Reason string          `json:"reason" validate:"required"`
	Value  decimal.Decimal `json:"value"`
	Until  time.Time       `json:"until"`
}

// SnapshotRequest ingests one analytic observation for a scope
type SnapshotRequest struct {
	Scope ScopeRequest `json:"scope"`

	VaR95         float64 `json:"var_95"`
	CVaR95        float64 `json:"cvar_95"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	Volatility    float64 `json:"volatility"`
	Beta          float64 `json:"beta"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	Concentration float64 `json:"concentration"`

	Statistics  riskmetrics.Statistics    `json:"statistics"`
	Attribution []riskmetrics.Attribution `json:"attribution,omitempty"`

	Timestamp             time.Time `json:"timestamp"`
	StaleThresholdMinutes int       `json:"stale_threshold_minutes,omitempty" validate:"min=0"`
}

// AlertActionRequest carries the actor for alert state transitions
type AlertActionRequest struct {
	By     string `json:"by" validate:"required"`
	Note   string `json:"note,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func parseAssessmentType(s string) (assessment.Type, error) {
	for t := assessment.TypeTradePre; t <= assessment.TypeMarketEvent; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown assessment type %q", s)
}
