package compliance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Check is one compliance rule-engine run. It is scoped like an
// assessment but has an independent lifecycle: created pending, completed
// or failed once, immutable afterwards.
type Check struct {
	ID       uuid.UUID `json:"id"`
	Type     Type      `json:"type"`
	Status   Status    `json:"status"`
	Severity Severity  `json:"severity"`

	UserID    *uuid.UUID `json:"user_id,omitempty"`
	AccountID *uuid.UUID `json:"account_id,omitempty"`

	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`

	RulesEvaluated []string `json:"rules_evaluated"`
	FailedRules    []string `json:"failed_rules"`
	Flags          []Flag   `json:"flags,omitempty"`

	RequiresEscalation bool     `json:"requires_escalation"`
	RemedialActions    []string `json:"remedial_actions,omitempty"`
	EscalationReason   string   `json:"escalation_reason,omitempty"`

	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Flag is one structured finding from a rule evaluation
type Flag struct {
	Name        string   `json:"name"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Value       float64  `json:"value"`
	Threshold   float64  `json:"threshold"`
}

type Type int

const (
	TypeKYC Type = iota
	TypeAML
	TypeSanctions
	TypeTransactionLimit
	TypeInsiderWindow
	TypeDisclosure
	TypeMargin
	TypeCustom
)

func (t Type) String() string {
	switch t {
	case TypeKYC:
		return "kyc"
	case TypeAML:
		return "aml"
	case TypeSanctions:
		return "sanctions"
	case TypeTransactionLimit:
		return "transaction_limit"
	case TypeInsiderWindow:
		return "insider_window"
	case TypeDisclosure:
		return "disclosure"
	case TypeMargin:
		return "margin"
	case TypeCustom:
		return "custom"
	default:
		return "unknown"
	}
}

type Status int

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Severity is ordered; Major and above force escalation
type Severity int

const (
	SeverityMinor Severity = iota
	SeverityModerate
	SeverityMajor
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityMinor:
		return "minor"
	case SeverityModerate:
		return "moderate"
	case SeverityMajor:
		return "major"
	case SeveritySevere:
		return "severe"
	default:
		return "unknown"
	}
}

// RuleKind distinguishes pattern rules from numeric threshold rules
type RuleKind int

const (
	KindThreshold RuleKind = iota
	KindPattern
)

// Rule is one configured compliance rule. Threshold rules compare a
// named numeric field against a bound; pattern rules run a named
// heuristic over the whole assessment input.
type Rule struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Kind          RuleKind `json:"kind"`
	Field         string   `json:"field,omitempty"`
	Operator      string   `json:"operator,omitempty"`
	Threshold     float64  `json:"threshold,omitempty"`
	Pattern       string   `json:"pattern,omitempty"`
	Jurisdictions []string `json:"jurisdictions,omitempty"`
	Severity      Severity `json:"severity"`
	Score         float64  `json:"score"`
	Escalate      bool     `json:"escalate"`
	Remediation   []string `json:"remediation,omitempty"`
	Enabled       bool     `json:"enabled"`
}

// AppliesTo reports whether the rule covers the given jurisdiction.
// An empty jurisdiction list means the rule is global.
func (r Rule) AppliesTo(jurisdiction string) bool {
	if len(r.Jurisdictions) == 0 {
		return true
	}
	for _, j := range r.Jurisdictions {
		if j == jurisdiction {
			return true
		}
	}
	return false
}

// NewCheck creates a pending compliance check
func NewCheck(t Type, userID, accountID *uuid.UUID) *Check {
	return &Check{
		ID:        uuid.New(),
		Type:      t,
		Status:    StatusPending,
		UserID:    userID,
		AccountID: accountID,
		CreatedAt: time.Now(),
	}
}

// Complete records the rule-engine outcome. Every failed rule must also
// appear in the evaluated set.
func (c *Check) Complete(evaluated, failed []string, flags []Flag, score float64) error {
	if c.Status != StatusPending {
		return fmt.Errorf("cannot complete check in status %s", c.Status)
	}

	evaluatedSet := make(map[string]struct{}, len(evaluated))
	for _, id := range evaluated {
		evaluatedSet[id] = struct{}{}
	}
	for _, id := range failed {
		if _, ok := evaluatedSet[id]; !ok {
			return fmt.Errorf("failed rule %s was not evaluated", id)
		}
	}

	now := time.Now()
	c.Status = StatusCompleted
	c.RulesEvaluated = evaluated
	c.FailedRules = failed
	c.Flags = flags
	c.Score = score
	c.Passed = len(failed) == 0
	c.Severity = maxFlagSeverity(flags)
	c.CompletedAt = &now
	return nil
}

// Fail marks the check as unable to run
func (c *Check) Fail(reason string) error {
	if c.Status != StatusPending {
		return fmt.Errorf("cannot fail check in status %s", c.Status)
	}

	now := time.Now()
	c.Status = StatusFailed
	c.FailureReason = reason
	c.CompletedAt = &now
	return nil
}

// MarkForEscalation flags the check for escalation with remedial actions.
// Severity >= major always escalates.
func (c *Check) MarkForEscalation(reason string, actions []string) {
	c.RequiresEscalation = true
	c.EscalationReason = reason
	c.RemedialActions = append(c.RemedialActions, actions...)
}

func maxFlagSeverity(flags []Flag) Severity {
	max := SeverityMinor
	for _, f := range flags {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}
