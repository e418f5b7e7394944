package riskmetrics

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/treumlabs/risk-engine/internal/domain/limits"
)

// Snapshot is one append-only analytic observation for a scope. Snapshots
// are never mutated after creation; newer snapshots supersede older ones.
type Snapshot struct {
	ID    uuid.UUID    `json:"id"`
	Scope limits.Scope `json:"scope"`

	VaR95         float64 `json:"var_95"`
	CVaR95        float64 `json:"cvar_95"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	Volatility    float64 `json:"volatility"`
	Beta          float64 `json:"beta"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	Concentration float64 `json:"concentration"`

	Statistics  Statistics    `json:"statistics"`
	Trend       Trend         `json:"trend"`
	Attribution []Attribution `json:"attribution,omitempty"`

	Timestamp      time.Time     `json:"timestamp"`
	StaleThreshold time.Duration `json:"stale_threshold"`
}

// Statistics summarizes the observation window behind the snapshot
type Statistics struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// Attribution assigns a share of the measured risk to a contributor
type Attribution struct {
	Source       string  `json:"source"`
	Contribution float64 `json:"contribution"` // fraction of total, [0,1]
}

type Trend int

const (
	TrendImproving Trend = iota
	TrendStable
	TrendDeteriorating
)

func (t Trend) String() string {
	switch t {
	case TrendImproving:
		return "improving"
	case TrendStable:
		return "stable"
	case TrendDeteriorating:
		return "deteriorating"
	default:
		return "unknown"
	}
}

// DefaultStaleThreshold applies when a snapshot does not carry its own
const DefaultStaleThreshold = 15 * time.Minute

// NewSnapshot creates a snapshot stamped at the given observation time
func NewSnapshot(scope limits.Scope, at time.Time) (*Snapshot, error) {
	if scope.ID == "" && scope.Type != limits.ScopeGlobal {
		return nil, fmt.Errorf("%s scope requires an ID", scope.Type)
	}

	return &Snapshot{
		ID:             uuid.New(),
		Scope:          scope,
		Trend:          TrendStable,
		Timestamp:      at,
		StaleThreshold: DefaultStaleThreshold,
	}, nil
}

// IsStale reports whether the snapshot is older than its stale threshold
func (s *Snapshot) IsStale(now time.Time) bool {
	threshold := s.StaleThreshold
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return now.Sub(s.Timestamp) > threshold
}

// ClassifyTrend compares this snapshot's volatility-adjusted risk against
// a previous one. Movement within tolerance is stable.
func ClassifyTrend(prev, current float64, tolerance float64) Trend {
	delta := current - prev
	switch {
	case delta > tolerance:
		return TrendDeteriorating
	case delta < -tolerance:
		return TrendImproving
	default:
		return TrendStable
	}
}
