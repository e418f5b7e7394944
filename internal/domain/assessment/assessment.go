package assessment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Assessment is one risk evaluation instance. It is created pending,
// transitions to completed or failed exactly once, and is immutable
// afterwards except for human-review annotations.
type Assessment struct {
	ID     uuid.UUID `json:"id"`
	Type   Type      `json:"type"`
	Status Status    `json:"status"`

	// Subject identifiers; which one is mandatory depends on Type
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	AccountID   *uuid.UUID `json:"account_id,omitempty"`
	TradeID     *uuid.UUID `json:"trade_id,omitempty"`
	PortfolioID *uuid.UUID `json:"portfolio_id,omitempty"`

	Score          float64        `json:"score"`
	Level          RiskLevel      `json:"level"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`

	Factors         []Factor `json:"factors"`
	Recommendations []string `json:"recommendations,omitempty"`
	FailureReason   string   `json:"failure_reason,omitempty"`

	// Human review annotations, allowed after completion
	ReviewedBy  *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Factor is one entry in the structured factor breakdown
type Factor struct {
	Factor       string  `json:"factor"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Description  string  `json:"description"`
}

// Subject bundles the candidate subject identifiers for a new assessment
type Subject struct {
	UserID      *uuid.UUID
	AccountID   *uuid.UUID
	TradeID     *uuid.UUID
	PortfolioID *uuid.UUID
}

type Type int

const (
	TypeTradePre Type = iota
	TypeTradePost
	TypePortfolioDaily
	TypePortfolioRealtime
	TypeAccountOpening
	TypePositionMonitoring
	TypeMarketEvent
)

func (t Type) String() string {
	switch t {
	case TypeTradePre:
		return "trade_pre"
	case TypeTradePost:
		return "trade_post"
	case TypePortfolioDaily:
		return "portfolio_daily"
	case TypePortfolioRealtime:
		return "portfolio_realtime"
	case TypeAccountOpening:
		return "account_opening"
	case TypePositionMonitoring:
		return "position_monitoring"
	case TypeMarketEvent:
		return "market_event"
	default:
		return "unknown"
	}
}

type Status int

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
	StatusEscalated
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

// RiskLevel is the ordered bucketing of the numeric score
type RiskLevel int

const (
	LevelVeryLow RiskLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelVeryHigh
	LevelCritical
)

func (l RiskLevel) String() string {
	switch l {
	case LevelVeryLow:
		return "very_low"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelVeryHigh:
		return "very_high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// LevelFromScore buckets a [0,100] score into a risk level. The bucketing
// is monotonic: a higher score never yields a lower level.
func LevelFromScore(score float64) RiskLevel {
	switch {
	case score < 20:
		return LevelVeryLow
	case score < 40:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 75:
		return LevelHigh
	case score < 90:
		return LevelVeryHigh
	default:
		return LevelCritical
	}
}

// Recommendation is the actionable output of the fraud scorer, ordered
// from least to most conservative.
type Recommendation int

const (
	RecommendAllow Recommendation = iota
	RecommendChallenge
	RecommendReview
	RecommendBlock
)

func (r Recommendation) String() string {
	switch r {
	case RecommendAllow:
		return "allow"
	case RecommendChallenge:
		return "challenge"
	case RecommendReview:
		return "review"
	case RecommendBlock:
		return "block"
	default:
		return "unknown"
	}
}

// MostConservative returns the stricter of the two recommendations
func MostConservative(a, b Recommendation) Recommendation {
	if a > b {
		return a
	}
	return b
}

// New creates a pending assessment, enforcing the mandatory subject for
// the assessment type. Missing subjects are rejected before any record exists.
func New(t Type, subject Subject) (*Assessment, error) {
	a := &Assessment{
		ID:          uuid.New(),
		Type:        t,
		Status:      StatusPending,
		UserID:      subject.UserID,
		AccountID:   subject.AccountID,
		TradeID:     subject.TradeID,
		PortfolioID: subject.PortfolioID,
		CreatedAt:   time.Now(),
	}

	switch t {
	case TypeTradePre, TypeTradePost:
		if subject.TradeID == nil {
			return nil, fmt.Errorf("%s assessment requires a trade ID", t)
		}
	case TypePortfolioDaily, TypePortfolioRealtime, TypePositionMonitoring:
		if subject.PortfolioID == nil {
			return nil, fmt.Errorf("%s assessment requires a portfolio ID", t)
		}
	case TypeAccountOpening:
		if subject.UserID == nil {
			return nil, fmt.Errorf("%s assessment requires a user ID", t)
		}
	case TypeMarketEvent:
		// Market-wide; no subject required
	default:
		return nil, fmt.Errorf("invalid assessment type %d", t)
	}

	return a, nil
}

// Complete records the scoring outcome. Only a pending assessment can complete.
func (a *Assessment) Complete(score, confidence float64, rec Recommendation, factors []Factor, advice []string) error {
	if a.Status != StatusPending {
		return fmt.Errorf("cannot complete assessment in status %s", a.Status)
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("score %.2f outside [0,100]", score)
	}
	if confidence < 0 || confidence > 100 {
		return fmt.Errorf("confidence %.2f outside [0,100]", confidence)
	}

	now := time.Now()
	a.Status = StatusCompleted
	a.Score = score
	a.Level = LevelFromScore(score)
	a.Confidence = confidence
	a.Recommendation = rec
	a.Factors = factors
	a.Recommendations = advice
	a.CompletedAt = &now
	return nil
}

// Fail marks the assessment failed with a reason. Reserved for failures
// that prevent any decision at all; degraded evaluations still complete.
func (a *Assessment) Fail(reason string) error {
	if a.Status != StatusPending {
		return fmt.Errorf("cannot fail assessment in status %s", a.Status)
	}

	now := time.Now()
	a.Status = StatusFailed
	a.FailureReason = reason
	a.Recommendation = RecommendBlock
	a.CompletedAt = &now
	return nil
}

// Escalate flags the assessment for human review
func (a *Assessment) Escalate() error {
	switch a.Status {
	case StatusPending, StatusCompleted:
		a.Status = StatusEscalated
		return nil
	default:
		return fmt.Errorf("cannot escalate assessment in status %s", a.Status)
	}
}

// Review records a human-review annotation on a finished assessment
func (a *Assessment) Review(by uuid.UUID, notes string) error {
	if a.Status == StatusPending {
		return fmt.Errorf("cannot review a pending assessment")
	}

	now := time.Now()
	a.ReviewedBy = &by
	a.ReviewedAt = &now
	a.ReviewNotes = notes
	return nil
}

// IsExpired reports whether the assessment has passed its expiry
func (a *Assessment) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}
