package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/treumlabs/risk-engine/internal/domain/values"
)

// Alert is a notification-worthy risk event. Status moves forward through
// an explicit transition table; resolved and dismissed are terminal.
type Alert struct {
	ID       uuid.UUID `json:"id"`
	Type     Type      `json:"type"`
	Severity Severity  `json:"severity"`
	Priority Priority  `json:"priority"`
	Status   Status    `json:"status"`

	Title   string `json:"title"`
	Message string `json:"message"`

	// Subject references
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	PortfolioID *uuid.UUID `json:"portfolio_id,omitempty"`
	SourceID    *uuid.UUID `json:"source_id,omitempty"` // assessment, limit or check that raised this

	Trigger TriggerCondition `json:"trigger"`
	Impact  *Impact          `json:"impact,omitempty"`

	Escalation       *EscalationRule `json:"escalation,omitempty"`
	IsEscalated      bool            `json:"is_escalated"`
	EscalatedAt      *time.Time      `json:"escalated_at,omitempty"`
	OriginalSeverity Severity        `json:"original_severity"`

	NotificationChannels []Channel `json:"notification_channels,omitempty"`

	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     *string    `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TriggerCondition records what rule fired and with which values
type TriggerCondition struct {
	Rule        string        `json:"rule"`
	Threshold   float64       `json:"threshold"`
	ActualValue float64       `json:"actual_value"`
	Operator    string        `json:"operator"`
	Window      time.Duration `json:"window,omitempty"`
}

// Impact is the assessed blast radius of the alert
type Impact struct {
	Description       string        `json:"description"`
	Scope             string        `json:"scope"`
	EstimatedExposure *values.Money `json:"estimated_exposure,omitempty"`
}

// EscalationRule defines when and how an unhandled alert escalates
type EscalationRule struct {
	EscalateAfter      time.Duration `json:"escalate_after"`
	EscalateTo         []string      `json:"escalate_to"`
	EscalationSeverity Severity      `json:"escalation_severity"`
}

type Type int

const (
	TypeRiskLimitBreach Type = iota
	TypeRiskLimitWarning
	TypeFraudDetection
	TypeComplianceViolation
	TypeConcentrationRisk
	TypeDrawdown
	TypeLeverage
	TypeVarBreach
	TypeLiquidity
	TypeVolatility
	TypeMarginCall
	TypePositionSize
	TypeDailyLoss
	TypeSuspiciousActivity
	TypeManualReview
	TypeMarketEvent
)

func (t Type) String() string {
	switch t {
	case TypeRiskLimitBreach:
		return "risk_limit_breach"
	case TypeRiskLimitWarning:
		return "risk_limit_warning"
	case TypeFraudDetection:
		return "fraud_detection"
	case TypeComplianceViolation:
		return "compliance_violation"
	case TypeConcentrationRisk:
		return "concentration_risk"
	case TypeDrawdown:
		return "drawdown"
	case TypeLeverage:
		return "leverage"
	case TypeVarBreach:
		return "var_breach"
	case TypeLiquidity:
		return "liquidity"
	case TypeVolatility:
		return "volatility"
	case TypeMarginCall:
		return "margin_call"
	case TypePositionSize:
		return "position_size"
	case TypeDailyLoss:
		return "daily_loss"
	case TypeSuspiciousActivity:
		return "suspicious_activity"
	case TypeManualReview:
		return "manual_review"
	case TypeMarketEvent:
		return "market_event"
	default:
		return "unknown"
	}
}

// Severity is ordered from least to most severe
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityHigh
	SeverityCritical
	SeverityEmergency
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	case SeverityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Priority is SLA-like; P1 is most urgent
type Priority int

const (
	PriorityP1 Priority = iota + 1
	PriorityP2
	PriorityP3
	PriorityP4
	PriorityP5
)

func (p Priority) String() string {
	if p < PriorityP1 || p > PriorityP5 {
		return "unknown"
	}
	return fmt.Sprintf("P%d", int(p))
}

type Status int

const (
	StatusActive Status = iota
	StatusAcknowledged
	StatusInProgress
	StatusResolved
	StatusDismissed
	StatusEscalated
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusInProgress:
		return "in_progress"
	case StatusResolved:
		return "resolved"
	case StatusDismissed:
		return "dismissed"
	case StatusEscalated:
		return "escalated"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Channel selects where notifications for this alert are delivered
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelPush      Channel = "push"
	ChannelDashboard Channel = "dashboard"
	ChannelWebhook   Channel = "webhook"
)

// validTransitions is the enumerated status transition table. Resolved,
// dismissed and expired have no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusActive:       {StatusAcknowledged, StatusInProgress, StatusResolved, StatusDismissed, StatusEscalated, StatusExpired},
	StatusAcknowledged: {StatusInProgress, StatusResolved, StatusDismissed, StatusEscalated, StatusExpired},
	StatusInProgress:   {StatusResolved, StatusDismissed, StatusEscalated},
	StatusEscalated:    {StatusAcknowledged, StatusInProgress, StatusResolved, StatusDismissed},
}

func (a *Alert) canTransition(to Status) bool {
	for _, s := range validTransitions[a.Status] {
		if s == to {
			return true
		}
	}
	return false
}

func (a *Alert) transition(to Status) error {
	if !a.canTransition(to) {
		return fmt.Errorf("invalid alert transition %s -> %s", a.Status, to)
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	return nil
}

// New creates an active alert
func New(t Type, severity Severity, priority Priority, title, message string, trigger TriggerCondition) *Alert {
	now := time.Now()
	return &Alert{
		ID:               uuid.New(),
		Type:             t,
		Severity:         severity,
		OriginalSeverity: severity,
		Priority:         priority,
		Status:           StatusActive,
		Title:            title,
		Message:          message,
		Trigger:          trigger,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Acknowledge records who took ownership. Idempotent: re-acknowledging
// an already-acknowledged alert leaves actor and timestamp unchanged.
func (a *Alert) Acknowledge(by string) error {
	if a.AcknowledgedAt != nil {
		return nil
	}
	if err := a.transition(StatusAcknowledged); err != nil {
		return err
	}

	now := time.Now()
	a.AcknowledgedBy = &by
	a.AcknowledgedAt = &now
	return nil
}

// StartProgress marks the alert as actively being worked
func (a *Alert) StartProgress() error {
	return a.transition(StatusInProgress)
}

// Resolve closes the alert. Idempotent on an already-resolved alert.
func (a *Alert) Resolve(by, note string) error {
	if a.Status == StatusResolved {
		return nil
	}
	if err := a.transition(StatusResolved); err != nil {
		return err
	}

	now := time.Now()
	a.ResolvedBy = &by
	a.ResolvedAt = &now
	a.ResolutionNote = note
	return nil
}

// Dismiss closes the alert as not actionable
func (a *Alert) Dismiss(by, reason string) error {
	if a.Status == StatusDismissed {
		return nil
	}
	if err := a.transition(StatusDismissed); err != nil {
		return err
	}

	now := time.Now()
	a.ResolvedBy = &by
	a.ResolvedAt = &now
	a.ResolutionNote = reason
	return nil
}

// NeedsEscalation is a pure function of "now" and the alert's recorded
// schedule: an active alert whose escalation window has elapsed.
func (a *Alert) NeedsEscalation(now time.Time) bool {
	if a.Status != StatusActive || a.Escalation == nil || a.IsEscalated {
		return false
	}
	return now.Sub(a.CreatedAt) >= a.Escalation.EscalateAfter
}

// Escalate raises the alert's severity and marks it escalated. Severity
// never decreases: the configured escalation severity applies only when
// it exceeds the current one.
func (a *Alert) Escalate(now time.Time) error {
	if a.Escalation == nil {
		return fmt.Errorf("alert %s has no escalation rule", a.ID)
	}
	if err := a.transition(StatusEscalated); err != nil {
		return err
	}

	a.IsEscalated = true
	a.EscalatedAt = &now
	if a.Escalation.EscalationSeverity > a.Severity {
		a.Severity = a.Escalation.EscalationSeverity
	}
	return nil
}

// ShouldExpire reports whether an unhandled alert has passed its expiry
func (a *Alert) ShouldExpire(now time.Time) bool {
	if a.ExpiresAt == nil {
		return false
	}
	if a.Status != StatusActive && a.Status != StatusAcknowledged {
		return false
	}
	return now.After(*a.ExpiresAt)
}

// Expire transitions an unhandled alert past its expiry to expired
func (a *Alert) Expire(now time.Time) error {
	if !a.ShouldExpire(now) {
		return fmt.Errorf("alert %s is not expirable in status %s", a.ID, a.Status)
	}
	return a.transition(StatusExpired)
}

// IsOpen reports whether the alert still demands attention
func (a *Alert) IsOpen() bool {
	switch a.Status {
	case StatusResolved, StatusDismissed, StatusExpired:
		return false
	default:
		return true
	}
}
