package compliance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/domain/compliance"
	"github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/domain/profile"
)

// Input is everything the rule engine may inspect for one check. Recent
// activity windows back the pattern heuristics; the threshold rules only
// look at the primary session/transaction/trade.
type Input struct {
	Jurisdiction string

	Session     profile.Session
	Transaction *profile.Transaction
	Trade       *profile.TradeOrder
	History     profile.History

	RecentTransactions []profile.Transaction
	RecentOrders       []profile.TradeOrder
}

// Engine evaluates configured compliance rules against assessment input,
// independent of the fraud score. Safe for concurrent use; the rule set
// is fixed at construction.
type Engine struct {
	logger   *zap.Logger
	rules    []compliance.Rule
	patterns map[string]patternFunc
}

// patternFunc runs one named heuristic. It returns whether the rule is
// violated, the observed value, and a human-readable description.
type patternFunc func(in Input, rule compliance.Rule) (violated bool, value float64, description string)

func NewEngine(logger *zap.Logger, rules []compliance.Rule) *Engine {
	return &Engine{
		logger:   logger,
		rules:    rules,
		patterns: defaultPatterns(),
	}
}

// Run evaluates every enabled rule applicable to the input's jurisdiction
// and returns the completed check. Rules whose inputs are absent (e.g. a
// transaction rule with no transaction) are skipped, not failed.
func (e *Engine) Run(ctx context.Context, checkType compliance.Type, in Input) (*compliance.Check, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTimeoutError("compliance check cancelled").WithCause(err)
	}

	userID := in.Session.UserID
	check := compliance.NewCheck(checkType, &userID, nil)

	var (
		evaluated []string
		failed    []string
		flags     []compliance.Flag
		score     float64
		escalate  bool
		actions   []string
	)

	for _, rule := range e.rules {
		if !rule.Enabled || !rule.AppliesTo(in.Jurisdiction) {
			continue
		}

		violated, value, description, ok := e.evaluateRule(in, rule)
		if !ok {
			continue
		}
		evaluated = append(evaluated, rule.ID)

		if !violated {
			continue
		}
		failed = append(failed, rule.ID)
		score += rule.Score
		flags = append(flags, compliance.Flag{
			Name:        rule.Name,
			Severity:    rule.Severity,
			Description: description,
			Value:       value,
			Threshold:   rule.Threshold,
		})
		if rule.Escalate {
			escalate = true
			actions = append(actions, rule.Remediation...)
		}
	}

	if score > 100 {
		score = 100
	}

	if err := check.Complete(evaluated, failed, flags, score); err != nil {
		return nil, errors.NewInternalError("completing compliance check").WithCause(err)
	}

	if check.Severity >= compliance.SeverityMajor || escalate {
		reason := fmt.Sprintf("%d of %d rules failed, max severity %s",
			len(failed), len(evaluated), check.Severity)
		check.MarkForEscalation(reason, actions)
	}

	if !check.Passed {
		e.logger.Warn("compliance check failed",
			zap.String("check_id", check.ID.String()),
			zap.String("check_type", checkType.String()),
			zap.String("user_id", userID.String()),
			zap.Strings("failed_rules", failed),
			zap.Float64("score", score),
			zap.Bool("requires_escalation", check.RequiresEscalation),
		)
	}
	return check, nil
}

// evaluateRule dispatches on rule kind. ok=false means the rule could not
// be evaluated against this input and must not count as evaluated.
func (e *Engine) evaluateRule(in Input, rule compliance.Rule) (violated bool, value float64, description string, ok bool) {
	switch rule.Kind {
	case compliance.KindThreshold:
		value, ok = resolveField(in, rule.Field)
		if !ok {
			return false, 0, "", false
		}
		violated = compareValue(value, rule.Operator, rule.Threshold)
		if violated {
			description = fmt.Sprintf("%s is %.2f, %s %.2f", rule.Field, value, rule.Operator, rule.Threshold)
		}
		return violated, value, description, true

	case compliance.KindPattern:
		fn, found := e.patterns[rule.Pattern]
		if !found {
			e.logger.Error("unknown compliance pattern", zap.String("rule_id", rule.ID), zap.String("pattern", rule.Pattern))
			return false, 0, "", false
		}
		violated, value, description = fn(in, rule)
		return violated, value, description, true

	default:
		return false, 0, "", false
	}
}

// resolveField maps a threshold rule's field name onto the input. Absent
// optional inputs make the field unresolvable.
func resolveField(in Input, field string) (float64, bool) {
	switch field {
	case "transaction.amount":
		if in.Transaction == nil {
			return 0, false
		}
		return in.Transaction.Amount.ToFloat64(), true
	case "trade.notional":
		if in.Trade == nil {
			return 0, false
		}
		return in.Trade.Notional.ToFloat64(), true
	case "trade.quantity":
		if in.Trade == nil {
			return 0, false
		}
		return in.Trade.Quantity, true
	case "account.age_days":
		return in.History.AccountAge(in.Session.LoginAt).Hours() / 24, true
	case "session.duration_minutes":
		return in.Session.Duration.Minutes(), true
	default:
		return 0, false
	}
}

func compareValue(value float64, operator string, threshold float64) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	default:
		return false
	}
}

// withinWindow reports whether t falls inside the window ending at ref
func withinWindow(t, ref time.Time, window time.Duration) bool {
	gap := ref.Sub(t)
	return gap >= 0 && gap <= window
}
