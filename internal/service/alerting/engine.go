package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	"github.com/treumlabs/risk-engine/internal/domain/compliance"
	"github.com/treumlabs/risk-engine/internal/domain/errors"
	limitsvc "github.com/treumlabs/risk-engine/internal/service/limits"
)

// Repository persists alerts. ListOpen returns alerts whose status still
// demands attention (active, acknowledged, in progress, escalated).
type Repository interface {
	Create(ctx context.Context, a *alert.Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error)
	Update(ctx context.Context, a *alert.Alert) error
	ListOpen(ctx context.Context) ([]*alert.Alert, error)
}

// Publisher delivers alerts to the notification transports. Implemented
// by the events package; must not block the engine.
type Publisher interface {
	PublishAlert(ctx context.Context, a alert.Alert)
}

// Config tunes the engine's background scans and default escalation
// schedule.
type Config struct {
	ScanInterval     time.Duration `json:"scan_interval"`
	DefaultAlertTTL  time.Duration `json:"default_alert_ttl"`
	EscalateCritical time.Duration `json:"escalate_critical"`
	EscalateHigh     time.Duration `json:"escalate_high"`
	EscalateWarning  time.Duration `json:"escalate_warning"`
}

// DefaultConfig mirrors the production escalation SLAs
func DefaultConfig() Config {
	return Config{
		ScanInterval:     time.Minute,
		DefaultAlertTTL:  72 * time.Hour,
		EscalateCritical: 10 * time.Minute,
		EscalateHigh:     30 * time.Minute,
		EscalateWarning:  2 * time.Hour,
	}
}

// Engine maps assessment, limit and compliance outcomes to alerts,
// publishes them, and runs the periodic escalation and expiry scans.
type Engine struct {
	repo      Repository
	publisher Publisher
	logger    *zap.Logger
	config    Config
	now       func() time.Time
}

type Option func(*Engine)

// WithClock substitutes the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(repo Repository, publisher Publisher, logger *zap.Logger, config Config, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateFromAssessment raises an alert for a qualifying assessment:
// BLOCK is a critical P1 fraud detection, REVIEW a high P2. Lesser
// outcomes raise no alert.
func (e *Engine) CreateFromAssessment(ctx context.Context, a *assessment.Assessment) (*alert.Alert, error) {
	var severity alert.Severity
	var priority alert.Priority
	switch {
	case a.Recommendation == assessment.RecommendBlock:
		severity, priority = alert.SeverityCritical, alert.PriorityP1
	case a.Recommendation == assessment.RecommendReview:
		severity, priority = alert.SeverityHigh, alert.PriorityP2
	default:
		return nil, nil
	}

	alrt := alert.New(
		alert.TypeFraudDetection,
		severity,
		priority,
		fmt.Sprintf("Fraud indicators on %s assessment", a.Type),
		topFactorSummary(a),
		alert.TriggerCondition{
			Rule:        "fraud_score",
			Threshold:   0,
			ActualValue: a.Score,
			Operator:    "gte",
		},
	)
	alrt.UserID = a.UserID
	alrt.PortfolioID = a.PortfolioID
	alrt.SourceID = &a.ID
	alrt.NotificationChannels = channelsFor(severity)
	e.applyDefaults(alrt, severity)

	return alrt, e.commit(ctx, alrt)
}

// CreateFromLimitEvent implements the limit tracker's EventSink. Breaches
// map to a breach alert with severity scaled by the configured breach
// action; warning transitions raise a lower-severity heads-up;
// recoveries raise nothing.
func (e *Engine) CreateFromLimitEvent(ctx context.Context, event limitsvc.Event) (*alert.Alert, error) {
	var (
		alertType alert.Type
		severity  alert.Severity
		priority  alert.Priority
	)
	switch event.Kind {
	case limitsvc.EventBreached:
		alertType = alert.TypeRiskLimitBreach
		severity, priority = breachSeverity(event.Limit.BreachActions)
	case limitsvc.EventWarning:
		alertType = alert.TypeRiskLimitWarning
		severity, priority = alert.SeverityWarning, alert.PriorityP3
	default:
		return nil, nil
	}

	limit := event.Limit
	alrt := alert.New(
		alertType,
		severity,
		priority,
		fmt.Sprintf("%s limit %s on %s", limit.Type, event.Kind, limit.Scope.Key()),
		fmt.Sprintf("utilization %s of %s (%s%%)",
			limit.CurrentUtilization, limit.LimitValue, limit.UtilizationPct.StringFixed(1)),
		alert.TriggerCondition{
			Rule:        string(limit.Type),
			Threshold:   limit.LimitValue.InexactFloat64(),
			ActualValue: limit.CurrentUtilization.InexactFloat64(),
			Operator:    "gte",
		},
	)
	alrt.SourceID = &limit.ID
	alrt.NotificationChannels = channelsFor(severity)
	e.applyDefaults(alrt, severity)

	return alrt, e.commit(ctx, alrt)
}

// PublishLimitEvent adapts CreateFromLimitEvent to the tracker's
// fire-and-forget sink contract
func (e *Engine) PublishLimitEvent(ctx context.Context, event limitsvc.Event) {
	if _, err := e.CreateFromLimitEvent(ctx, event); err != nil {
		e.logger.Error("creating alert from limit event failed",
			zap.String("kind", string(event.Kind)),
			zap.String("scope", event.Limit.Scope.Key()),
			zap.Error(err),
		)
	}
}

// CreateFromCompliance raises a compliance-violation alert for a failed
// check. Passing checks raise nothing.
func (e *Engine) CreateFromCompliance(ctx context.Context, check *compliance.Check) (*alert.Alert, error) {
	if check.Passed || check.Status != compliance.StatusCompleted {
		return nil, nil
	}

	severity, priority := complianceSeverity(check.Severity)
	alrt := alert.New(
		alert.TypeComplianceViolation,
		severity,
		priority,
		fmt.Sprintf("%s compliance check failed", check.Type),
		fmt.Sprintf("%d of %d rules failed", len(check.FailedRules), len(check.RulesEvaluated)),
		alert.TriggerCondition{
			Rule:        firstOrEmpty(check.FailedRules),
			ActualValue: check.Score,
			Operator:    "gte",
		},
	)
	alrt.UserID = check.UserID
	alrt.SourceID = &check.ID
	alrt.NotificationChannels = channelsFor(severity)
	e.applyDefaults(alrt, severity)

	return alrt, e.commit(ctx, alrt)
}

// Acknowledge records ownership of an alert; idempotent
func (e *Engine) Acknowledge(ctx context.Context, id uuid.UUID, by string) (*alert.Alert, error) {
	return e.update(ctx, id, func(a *alert.Alert) error {
		return a.Acknowledge(by)
	})
}

// Resolve closes an alert with a note; idempotent
func (e *Engine) Resolve(ctx context.Context, id uuid.UUID, by, note string) (*alert.Alert, error) {
	return e.update(ctx, id, func(a *alert.Alert) error {
		return a.Resolve(by, note)
	})
}

// Dismiss closes an alert as not actionable
func (e *Engine) Dismiss(ctx context.Context, id uuid.UUID, by, reason string) (*alert.Alert, error) {
	return e.update(ctx, id, func(a *alert.Alert) error {
		return a.Dismiss(by, reason)
	})
}

func (e *Engine) update(ctx context.Context, id uuid.UUID, apply func(*alert.Alert) error) (*alert.Alert, error) {
	a, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(a); err != nil {
		return nil, errors.NewBusinessError("INVALID_ALERT_TRANSITION", err.Error()).WithCause(err)
	}
	if err := e.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Run drives the escalation and expiry scans until the context ends.
// The scan never blocks assessment processing; it shares nothing with
// the hot path beyond the repository.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.ScanOnce(ctx)
		}
	}
}

// ScanOnce escalates overdue alerts and expires stale ones. Exported so
// deployments and tests can drive the scan directly.
func (e *Engine) ScanOnce(ctx context.Context) {
	open, err := e.repo.ListOpen(ctx)
	if err != nil {
		e.logger.Error("escalation scan: listing open alerts failed", zap.Error(err))
		return
	}

	now := e.now()
	for _, a := range open {
		switch {
		case a.NeedsEscalation(now):
			e.escalate(ctx, a, now)
		case a.ShouldExpire(now):
			e.expire(ctx, a, now)
		}
	}
}

func (e *Engine) escalate(ctx context.Context, a *alert.Alert, now time.Time) {
	if err := a.Escalate(now); err != nil {
		e.logger.Error("escalating alert failed", zap.String("alert_id", a.ID.String()), zap.Error(err))
		return
	}
	if err := e.repo.Update(ctx, a); err != nil {
		e.logger.Error("persisting escalated alert failed", zap.String("alert_id", a.ID.String()), zap.Error(err))
		return
	}

	e.logger.Warn("alert escalated",
		zap.String("alert_id", a.ID.String()),
		zap.String("type", a.Type.String()),
		zap.String("severity", a.Severity.String()),
		zap.Strings("escalate_to", a.Escalation.EscalateTo),
		zap.Duration("open_for", now.Sub(a.CreatedAt)),
	)
	if e.publisher != nil {
		e.publisher.PublishAlert(ctx, *a)
	}
}

func (e *Engine) expire(ctx context.Context, a *alert.Alert, now time.Time) {
	if err := a.Expire(now); err != nil {
		e.logger.Error("expiring alert failed", zap.String("alert_id", a.ID.String()), zap.Error(err))
		return
	}
	if err := e.repo.Update(ctx, a); err != nil {
		e.logger.Error("persisting expired alert failed", zap.String("alert_id", a.ID.String()), zap.Error(err))
	}
}

// applyDefaults attaches the TTL and the severity-based escalation rule
func (e *Engine) applyDefaults(a *alert.Alert, severity alert.Severity) {
	if e.config.DefaultAlertTTL > 0 {
		at := e.now().Add(e.config.DefaultAlertTTL)
		a.ExpiresAt = &at
	}

	switch severity {
	case alert.SeverityCritical, alert.SeverityEmergency:
		a.Escalation = &alert.EscalationRule{
			EscalateAfter:      e.config.EscalateCritical,
			EscalateTo:         []string{"risk-desk", "head-of-risk"},
			EscalationSeverity: alert.SeverityEmergency,
		}
	case alert.SeverityHigh:
		a.Escalation = &alert.EscalationRule{
			EscalateAfter:      e.config.EscalateHigh,
			EscalateTo:         []string{"risk-desk"},
			EscalationSeverity: alert.SeverityCritical,
		}
	case alert.SeverityWarning:
		a.Escalation = &alert.EscalationRule{
			EscalateAfter:      e.config.EscalateWarning,
			EscalateTo:         []string{"risk-desk"},
			EscalationSeverity: alert.SeverityHigh,
		}
	}
}

func (e *Engine) commit(ctx context.Context, a *alert.Alert) error {
	if err := e.repo.Create(ctx, a); err != nil {
		return err
	}

	e.logger.Info("alert created",
		zap.String("alert_id", a.ID.String()),
		zap.String("type", a.Type.String()),
		zap.String("severity", a.Severity.String()),
		zap.String("priority", a.Priority.String()),
		zap.String("title", a.Title),
	)
	if e.publisher != nil {
		e.publisher.PublishAlert(ctx, *a)
	}
	return nil
}
