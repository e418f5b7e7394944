package limits

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Limit is a consumable ceiling on some measurable exposure, scoped to a
// user, account, portfolio, symbol or similar. Utilization mutates on
// every consuming event; the Version field is the compare-and-swap token
// repositories use to serialize concurrent updates per scope.
type Limit struct {
	ID    uuid.UUID `json:"id"`
	Type  LimitType `json:"type"`
	Scope Scope     `json:"scope"`

	LimitValue       decimal.Decimal `json:"limit_value"`
	WarningThreshold decimal.Decimal `json:"warning_threshold"` // percent of limit

	CurrentUtilization decimal.Decimal `json:"current_utilization"`
	UtilizationPct     decimal.Decimal `json:"utilization_pct"`
	PeakUtilization    decimal.Decimal `json:"peak_utilization"`
	PeakUtilizationAt  *time.Time      `json:"peak_utilization_at,omitempty"`

	Status        Status         `json:"status"`
	BreachActions []BreachAction `json:"breach_actions,omitempty"`

	EffectiveFrom  *time.Time `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`

	Overrides []Override    `json:"overrides,omitempty"`
	History   []ChangeEntry `json:"history,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope identifies what a limit constrains
type Scope struct {
	Type ScopeType `json:"type"`
	ID   string    `json:"id"`
}

// Key returns the canonical scope key used for per-scope serialization
func (s Scope) Key() string {
	return string(s.Type) + ":" + s.ID
}

type ScopeType string

const (
	ScopeUser       ScopeType = "user"
	ScopeAccount    ScopeType = "account"
	ScopePortfolio  ScopeType = "portfolio"
	ScopeAssetClass ScopeType = "asset_class"
	ScopeSector     ScopeType = "sector"
	ScopeSymbol     ScopeType = "symbol"
	ScopeStrategy   ScopeType = "strategy"
	ScopeGlobal     ScopeType = "global"
)

type LimitType string

const (
	TypePositionSize   LimitType = "position_size"
	TypeDailyLoss      LimitType = "daily_loss"
	TypeWeeklyLoss     LimitType = "weekly_loss"
	TypeMonthlyLoss    LimitType = "monthly_loss"
	TypeDrawdown       LimitType = "drawdown"
	TypeLeverage       LimitType = "leverage"
	TypeConcentration  LimitType = "concentration"
	TypeVaR            LimitType = "var"
	TypeExposure       LimitType = "exposure"
	TypeOpenOrders     LimitType = "open_orders"
	TypeOrderRate      LimitType = "order_rate"
	TypeNotional       LimitType = "notional"
	TypeSectorExposure LimitType = "sector_exposure"
	TypeSinglePosition LimitType = "single_position"
	TypeMargin         LimitType = "margin"
	TypeCashReserve    LimitType = "cash_reserve"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusBreached  Status = "breached"
	StatusWarning   Status = "warning"
	StatusExpired   Status = "expired"
)

// BreachAction is what the host platform does when a limit breaches
type BreachAction string

const (
	ActionPreventNewTrades BreachAction = "prevent_new_trades"
	ActionClosePositions   BreachAction = "close_positions"
	ActionReduceLeverage   BreachAction = "reduce_leverage"
	ActionNotify           BreachAction = "notify"
)

// Override temporarily raises the effective limit for breach computation.
// The base limit value is never mutated by an override.
type Override struct {
	ID             uuid.UUID       `json:"id"`
	By             string          `json:"by"`
	Reason         string          `json:"reason"`
	NewValue       decimal.Decimal `json:"new_value"`
	EffectiveUntil time.Time       `json:"effective_until"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ChangeEntry is one row of the limit's change history
type ChangeEntry struct {
	At    time.Time `json:"at"`
	By    string    `json:"by"`
	Field string    `json:"field"`
	Old   string    `json:"old"`
	New   string    `json:"new"`
}

// DefaultWarningThreshold is the warning level as a percent of the limit
var DefaultWarningThreshold = decimal.NewFromInt(80)

var hundred = decimal.NewFromInt(100)

// New creates an active limit with the default warning threshold
func New(t LimitType, scope Scope, value decimal.Decimal) (*Limit, error) {
	if !value.IsPositive() {
		return nil, fmt.Errorf("limit value must be positive, got %s", value)
	}
	if scope.ID == "" && scope.Type != ScopeGlobal {
		return nil, fmt.Errorf("%s scope requires an ID", scope.Type)
	}

	now := time.Now()
	return &Limit{
		ID:                 uuid.New(),
		Type:               t,
		Scope:              scope,
		LimitValue:         value,
		WarningThreshold:   DefaultWarningThreshold,
		CurrentUtilization: decimal.Zero,
		UtilizationPct:     decimal.Zero,
		PeakUtilization:    decimal.Zero,
		Status:             StatusActive,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// EffectiveLimit returns the limit used for breach computation: the base
// value, or the largest active override above it.
func (l *Limit) EffectiveLimit(now time.Time) decimal.Decimal {
	effective := l.LimitValue
	for _, o := range l.Overrides {
		if now.Before(o.EffectiveUntil) && o.NewValue.GreaterThan(effective) {
			effective = o.NewValue
		}
	}
	return effective
}

// ApplyDelta adds delta to the current utilization and reclassifies.
// Call only under the repository's per-scope CAS discipline.
func (l *Limit) ApplyDelta(delta decimal.Decimal, now time.Time) {
	l.setUtilization(l.CurrentUtilization.Add(delta), now)
}

// Reset zeroes utilization (e.g. daily loss reset) and reclassifies
func (l *Limit) Reset(now time.Time) {
	l.setUtilization(decimal.Zero, now)
}

func (l *Limit) setUtilization(value decimal.Decimal, now time.Time) {
	l.CurrentUtilization = value
	l.UtilizationPct = utilizationPercent(value, l.LimitValue)

	if value.GreaterThan(l.PeakUtilization) {
		l.PeakUtilization = value
		at := now
		l.PeakUtilizationAt = &at
	}

	l.reclassify(now)
	l.UpdatedAt = now
}

// utilizationPercent is clamp(utilization/limit*100, 0, +inf)
func utilizationPercent(utilization, limit decimal.Decimal) decimal.Decimal {
	if limit.IsZero() {
		return decimal.Zero
	}
	pct := utilization.Div(limit).Mul(hundred)
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

// reclassify recomputes the breach state. Suspended, inactive and expired
// limits keep their status; only the active family transitions.
func (l *Limit) reclassify(now time.Time) {
	switch l.Status {
	case StatusActive, StatusWarning, StatusBreached:
	default:
		return
	}

	effective := l.EffectiveLimit(now)
	switch {
	case l.CurrentUtilization.GreaterThanOrEqual(effective):
		l.Status = StatusBreached
	case l.UtilizationPct.GreaterThanOrEqual(l.WarningThreshold):
		l.Status = StatusWarning
	default:
		l.Status = StatusActive
	}
}

// AddOverride registers a time-bounded, reason-logged override
func (l *Limit) AddOverride(by, reason string, newValue decimal.Decimal, until time.Time, now time.Time) error {
	if reason == "" {
		return fmt.Errorf("override requires a reason")
	}
	if !until.After(now) {
		return fmt.Errorf("override must expire in the future")
	}
	if !newValue.GreaterThan(l.LimitValue) {
		return fmt.Errorf("override value %s must exceed base limit %s", newValue, l.LimitValue)
	}

	l.Overrides = append(l.Overrides, Override{
		ID:             uuid.New(),
		By:             by,
		Reason:         reason,
		NewValue:       newValue,
		EffectiveUntil: until,
		CreatedAt:      now,
	})
	l.History = append(l.History, ChangeEntry{
		At:    now,
		By:    by,
		Field: "override",
		Old:   l.LimitValue.String(),
		New:   newValue.String(),
	})

	l.reclassify(now)
	l.UpdatedAt = now
	return nil
}

// UpdateValue changes the base limit value, recording history
func (l *Limit) UpdateValue(by string, newValue decimal.Decimal, now time.Time) error {
	if !newValue.IsPositive() {
		return fmt.Errorf("limit value must be positive, got %s", newValue)
	}

	l.History = append(l.History, ChangeEntry{
		At:    now,
		By:    by,
		Field: "limit_value",
		Old:   l.LimitValue.String(),
		New:   newValue.String(),
	})
	l.LimitValue = newValue
	l.UtilizationPct = utilizationPercent(l.CurrentUtilization, newValue)
	l.reclassify(now)
	l.UpdatedAt = now
	return nil
}

// Suspend takes the limit out of enforcement without losing its state
func (l *Limit) Suspend(by, reason string, now time.Time) {
	l.History = append(l.History, ChangeEntry{
		At: now, By: by, Field: "status", Old: string(l.Status), New: string(StatusSuspended),
	})
	if reason != "" {
		l.History[len(l.History)-1].New += " (" + reason + ")"
	}
	l.Status = StatusSuspended
	l.UpdatedAt = now
}

// Resume reactivates a suspended limit and reclassifies immediately
func (l *Limit) Resume(by string, now time.Time) error {
	if l.Status != StatusSuspended {
		return fmt.Errorf("cannot resume limit in status %s", l.Status)
	}
	l.History = append(l.History, ChangeEntry{
		At: now, By: by, Field: "status", Old: string(StatusSuspended), New: string(StatusActive),
	})
	l.Status = StatusActive
	l.reclassify(now)
	l.UpdatedAt = now
	return nil
}

// IsEnforced reports whether the limit currently constrains consumption
func (l *Limit) IsEnforced(now time.Time) bool {
	switch l.Status {
	case StatusInactive, StatusSuspended, StatusExpired:
		return false
	}
	if l.EffectiveFrom != nil && now.Before(*l.EffectiveFrom) {
		return false
	}
	if l.EffectiveUntil != nil && now.After(*l.EffectiveUntil) {
		return false
	}
	return true
}

// IsBreached reports the breach invariant
func (l *Limit) IsBreached() bool {
	return l.Status == StatusBreached
}
