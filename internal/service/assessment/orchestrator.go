package assessment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	domcompliance "github.com/treumlabs/risk-engine/internal/domain/compliance"
	"github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/domain/limits"
	"github.com/treumlabs/risk-engine/internal/domain/profile"
	"github.com/treumlabs/risk-engine/internal/metrics"
	compliancesvc "github.com/treumlabs/risk-engine/internal/service/compliance"
	"github.com/treumlabs/risk-engine/internal/service/fraud"
)

// Repository persists assessments. Create stores the pending record;
// Update commits the completed outcome.
type Repository interface {
	Create(ctx context.Context, a *assessment.Assessment) error
	Update(ctx context.Context, a *assessment.Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*assessment.Assessment, error)
}

// ComplianceRunner runs the rule engine for one check
type ComplianceRunner interface {
	Run(ctx context.Context, checkType domcompliance.Type, in compliancesvc.Input) (*domcompliance.Check, error)
}

// CheckStore persists completed compliance checks for audit. Optional;
// a store failure never fails the assessment that triggered the check.
type CheckStore interface {
	Create(ctx context.Context, check *domcompliance.Check) error
}

// Alerter receives qualifying outcomes; the alerting engine implements it
type Alerter interface {
	CreateFromAssessment(ctx context.Context, a *assessment.Assessment) (*alert.Alert, error)
	CreateFromCompliance(ctx context.Context, check *domcompliance.Check) (*alert.Alert, error)
}

// LimitConsumer charges risk limits for the assessed activity
type LimitConsumer interface {
	Consume(ctx context.Context, limitType limits.LimitType, scope limits.Scope, delta decimal.Decimal) (*limits.Limit, error)
}

// HistorySource supplies cached behavioral history when the caller
// omits it, and absorbs the assessed session afterwards. Optional; a
// miss or cache failure just means evaluators see less context.
type HistorySource interface {
	GetHistory(ctx context.Context, userID uuid.UUID) (*profile.History, error)
	SetLastSession(ctx context.Context, session *profile.Session) error
}

// Config tunes the orchestrator
type Config struct {
	EvaluatorTimeout  time.Duration `json:"evaluator_timeout"`
	EscalateScore     float64       `json:"escalate_score"`
	DegradedPenalty   float64       `json:"degraded_penalty"`
	HighRiskCountries []string      `json:"high_risk_countries"`
}

func DefaultConfig() Config {
	return Config{
		EvaluatorTimeout: 500 * time.Millisecond,
		EscalateScore:    80,
		DegradedPenalty:  10,
	}
}

// Request is one assessment to run. The subject must match the
// assessment type; recent activity backs the compliance pattern rules.
type Request struct {
	Type         assessment.Type
	Subject      assessment.Subject
	Jurisdiction string

	Session     profile.Session
	Transaction *profile.Transaction
	Trade       *profile.TradeOrder
	History     profile.History

	RecentTransactions []profile.Transaction
	RecentOrders       []profile.TradeOrder
}

// Result carries the persisted assessment plus the raw scoring and
// compliance outcomes for the caller
type Result struct {
	Assessment *assessment.Assessment
	Score      fraud.ScoreResult
	Check      *domcompliance.Check

	// DegradedCategories lists evaluators that failed or timed out;
	// their absence lowered confidence but did not abort the assessment.
	DegradedCategories []fraud.Category
}

// Orchestrator runs the full assessment pipeline: parallel evaluators,
// scoring, compliance, limit consumption, persistence, escalation and
// alerting. It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	repo       Repository
	evaluators []fraud.Evaluator
	scorer     *fraud.Scorer
	compliance ComplianceRunner
	checks     CheckStore
	history    HistorySource
	limiter    LimitConsumer
	alerter    Alerter
	logger     *zap.Logger
	registry   *metrics.Registry
	config     Config
}

type Option func(*Orchestrator)

// WithEvaluators replaces the default evaluator set
func WithEvaluators(evaluators []fraud.Evaluator) Option {
	return func(o *Orchestrator) { o.evaluators = evaluators }
}

// WithCheckStore enables persistence of completed compliance checks
func WithCheckStore(store CheckStore) Option {
	return func(o *Orchestrator) { o.checks = store }
}

// WithHistorySource enables history hydration from the cache layer
func WithHistorySource(src HistorySource) Option {
	return func(o *Orchestrator) { o.history = src }
}

func NewOrchestrator(
	repo Repository,
	compliance ComplianceRunner,
	limiter LimitConsumer,
	alerter Alerter,
	logger *zap.Logger,
	registry *metrics.Registry,
	config Config,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		repo:       repo,
		evaluators: fraud.DefaultEvaluators(config.HighRiskCountries),
		scorer:     fraud.NewScorer(),
		compliance: compliance,
		limiter:    limiter,
		alerter:    alerter,
		logger:     logger,
		registry:   registry,
		config:     config,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Assess runs one assessment end to end. Input errors reject before a
// record exists; evaluator failures degrade fail-closed; persistence
// failures are hard errors because an unsaved high-risk decision cannot
// be trusted.
func (o *Orchestrator) Assess(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	a, err := assessment.New(req.Type, req.Subject)
	if err != nil {
		return nil, err
	}
	if err := o.repo.Create(ctx, a); err != nil {
		return nil, errors.Wrap(err, "persisting pending assessment")
	}

	o.hydrateHistory(ctx, &req)

	in := fraud.Input{
		Session:     req.Session,
		Transaction: req.Transaction,
		Trade:       req.Trade,
		History:     req.History,
	}

	results, degraded := o.runEvaluators(ctx, in)
	if len(results) == 0 {
		return o.failAssessment(ctx, a, started, "all factor evaluators failed")
	}

	score := o.scorer.Combine(in, results)
	confidence := degradeConfidence(score.Confidence, len(degraded), o.config.DegradedPenalty)

	check := o.runCompliance(ctx, req)
	escalate := score.Recommendation == assessment.RecommendBlock ||
		score.OverallScore > o.config.EscalateScore ||
		(check != nil && check.RequiresEscalation) ||
		(o.compliance != nil && check == nil) // declining to verify is not a pass

	advice := fraud.Advice(score.Recommendation, score.Factors)
	if check != nil {
		advice = append(advice, check.RemedialActions...)
	}

	if err := a.Complete(score.OverallScore, confidence, score.Recommendation, toFactors(score.Factors), advice); err != nil {
		return nil, errors.NewInternalError("completing assessment").WithCause(err)
	}
	if escalate {
		if err := a.Escalate(); err != nil {
			return nil, errors.NewInternalError("escalating assessment").WithCause(err)
		}
		if o.registry != nil {
			o.registry.RecordEscalation(ctx, a.Type.String())
		}
	}
	if err := o.repo.Update(ctx, a); err != nil {
		return nil, errors.Wrap(err, "persisting completed assessment")
	}

	o.consumeLimits(ctx, req)
	o.raiseAlerts(ctx, a, check)
	o.record(ctx, a, started, degraded)

	if o.history != nil && req.Session.UserID != uuid.Nil {
		if err := o.history.SetLastSession(ctx, &req.Session); err != nil {
			o.logger.Warn("session could not be cached", zap.Error(err))
		}
	}

	return &Result{
		Assessment:         a,
		Score:              score,
		Check:              check,
		DegradedCategories: degraded,
	}, nil
}

// runEvaluators runs all evaluators concurrently, each under its own
// timeout. A failed or timed-out evaluator is dropped, never fatal.
func (o *Orchestrator) runEvaluators(ctx context.Context, in fraud.Input) ([]fraud.CategoryResult, []fraud.Category) {
	var (
		mu       sync.Mutex
		results  []fraud.CategoryResult
		degraded []fraud.Category
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, evaluator := range o.evaluators {
		g.Go(func() error {
			evalCtx, cancel := context.WithTimeout(gctx, o.config.EvaluatorTimeout)
			defer cancel()

			result, err := evaluator.Evaluate(evalCtx, in)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				degraded = append(degraded, evaluator.Category())
				o.logger.Error("factor evaluator failed",
					zap.String("category", string(evaluator.Category())),
					zap.Error(err),
				)
				if o.registry != nil {
					o.registry.RecordEvaluatorFailure(ctx, string(evaluator.Category()))
				}
				return nil
			}
			results = append(results, result)
			return nil
		})
	}
	_ = g.Wait()

	return results, degraded
}

// hydrateHistory fills an omitted history from the cache. A caller-
// provided history always wins.
func (o *Orchestrator) hydrateHistory(ctx context.Context, req *Request) {
	if o.history == nil || req.Subject.UserID == nil || req.History.UserID != uuid.Nil {
		return
	}

	h, err := o.history.GetHistory(ctx, *req.Subject.UserID)
	if err != nil {
		return
	}
	req.History = *h
}

// runCompliance runs the rule engine; a nil return means the check
// itself could not run and the assessment escalates conservatively
func (o *Orchestrator) runCompliance(ctx context.Context, req Request) *domcompliance.Check {
	if o.compliance == nil {
		return nil
	}

	checkStarted := time.Now()
	check, err := o.compliance.Run(ctx, complianceTypeFor(req), compliancesvc.Input{
		Jurisdiction:       req.Jurisdiction,
		Session:            req.Session,
		Transaction:        req.Transaction,
		Trade:              req.Trade,
		History:            req.History,
		RecentTransactions: req.RecentTransactions,
		RecentOrders:       req.RecentOrders,
	})
	if err != nil {
		o.logger.Error("compliance check could not run", zap.Error(err))
		return nil
	}
	check.UserID = req.Subject.UserID
	check.AccountID = req.Subject.AccountID
	if o.registry != nil {
		o.registry.RecordComplianceCheck(ctx, time.Since(checkStarted), check.Type.String(), check.Passed)
	}
	if o.checks != nil {
		if err := o.checks.Create(ctx, check); err != nil {
			o.logger.Error("compliance check could not be persisted",
				zap.String("check_id", check.ID.String()),
				zap.Error(err),
			)
		}
	}
	return check
}

// consumeLimits charges the limits relevant to the assessed activity.
// A missing limit definition is not an error; anything else is logged
// loudly but does not unwind the already-persisted assessment.
func (o *Orchestrator) consumeLimits(ctx context.Context, req Request) {
	if o.limiter == nil || req.Subject.UserID == nil {
		return
	}
	scope := limits.Scope{Type: limits.ScopeUser, ID: req.Subject.UserID.String()}

	charge := func(limitType limits.LimitType, delta decimal.Decimal) {
		_, err := o.limiter.Consume(ctx, limitType, scope, delta)
		switch {
		case err == nil:
		case errors.IsType(err, errors.ErrorTypeNotFound):
			// No limit configured for this scope
		default:
			o.logger.Error("limit consumption failed",
				zap.String("limit_type", string(limitType)),
				zap.String("scope", scope.Key()),
				zap.Error(err),
			)
		}
	}

	if req.Trade != nil {
		charge(limits.TypeNotional, req.Trade.Notional.Amount())
	}
	if req.Transaction != nil {
		charge(limits.TypeExposure, req.Transaction.Amount.Amount())
	}
}

func (o *Orchestrator) raiseAlerts(ctx context.Context, a *assessment.Assessment, check *domcompliance.Check) {
	if o.alerter == nil {
		return
	}
	if _, err := o.alerter.CreateFromAssessment(ctx, a); err != nil {
		o.logger.Error("raising assessment alert failed", zap.String("assessment_id", a.ID.String()), zap.Error(err))
	}
	if check != nil {
		if _, err := o.alerter.CreateFromCompliance(ctx, check); err != nil {
			o.logger.Error("raising compliance alert failed", zap.String("check_id", check.ID.String()), zap.Error(err))
		}
	}
}

// failAssessment records a hard evaluation failure: status FAILED with
// the conservative block recommendation, still alertable.
func (o *Orchestrator) failAssessment(ctx context.Context, a *assessment.Assessment, started time.Time, reason string) (*Result, error) {
	if err := a.Fail(reason); err != nil {
		return nil, errors.NewInternalError("failing assessment").WithCause(err)
	}
	if err := o.repo.Update(ctx, a); err != nil {
		return nil, errors.Wrap(err, "persisting failed assessment")
	}

	o.raiseAlerts(ctx, a, nil)
	o.record(ctx, a, started, nil)

	return nil, errors.NewInternalError(fmt.Sprintf("assessment %s failed: %s", a.ID, reason))
}

func (o *Orchestrator) record(ctx context.Context, a *assessment.Assessment, started time.Time, degraded []fraud.Category) {
	elapsed := time.Since(started)

	o.logger.Info("assessment finished",
		zap.String("assessment_id", a.ID.String()),
		zap.String("type", a.Type.String()),
		zap.String("status", a.Status.String()),
		zap.Float64("score", a.Score),
		zap.String("level", a.Level.String()),
		zap.String("recommendation", a.Recommendation.String()),
		zap.Float64("confidence", a.Confidence),
		zap.Int("degraded_evaluators", len(degraded)),
		zap.Duration("duration", elapsed),
	)
	if o.registry != nil {
		o.registry.RecordAssessment(ctx, elapsed, a.Type.String(), a.Recommendation.String(),
			a.Score, a.Status != assessment.StatusFailed)
	}
}

// degradeConfidence lowers confidence per lost evaluator, holding the
// documented floor
func degradeConfidence(confidence float64, failures int, penalty float64) float64 {
	confidence -= float64(failures) * penalty
	if confidence < 50 {
		return 50
	}
	return confidence
}

// complianceTypeFor picks the check type matching the assessed activity
func complianceTypeFor(req Request) domcompliance.Type {
	switch {
	case req.Transaction != nil:
		return domcompliance.TypeAML
	case req.Trade != nil:
		return domcompliance.TypeTransactionLimit
	default:
		return domcompliance.TypeKYC
	}
}

func toFactors(factors []fraud.RiskFactor) []assessment.Factor {
	out := make([]assessment.Factor, 0, len(factors))
	for _, f := range factors {
		out = append(out, assessment.Factor{
			Factor:       f.Factor,
			Value:        f.Score,
			Weight:       f.Weight,
			Contribution: f.Score * f.Weight,
			Description:  f.Description,
		})
	}
	return out
}
