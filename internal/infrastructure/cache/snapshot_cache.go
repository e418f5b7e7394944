package cache

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/domain/limits"
	"github.com/treumlabs/risk-engine/internal/domain/riskmetrics"
)

// SnapshotCache keeps the latest analytic snapshot per scope. Snapshots
// are append-only: a write older than the stored snapshot is dropped so
// late-arriving recomputations cannot roll a scope backwards.
type SnapshotCache struct {
	cache  Cache
	logger *zap.Logger
}

func NewSnapshotCache(c Cache, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{cache: c, logger: logger}
}

func snapshotKey(scope limits.Scope) string {
	return MetricsPrefix + scope.Key()
}

// Put stores the snapshot unless a newer one is already present
func (s *SnapshotCache) Put(ctx context.Context, snap *riskmetrics.Snapshot) error {
	key := snapshotKey(snap.Scope)

	var existing riskmetrics.Snapshot
	err := s.cache.GetJSON(ctx, key, &existing)
	if err == nil && existing.Timestamp.After(snap.Timestamp) {
		s.logger.Debug("stale snapshot write dropped",
			zap.String("scope", snap.Scope.Key()),
			zap.Time("stored", existing.Timestamp),
			zap.Time("incoming", snap.Timestamp),
		)
		return nil
	}
	if err != nil && !IsMiss(err) {
		return fmt.Errorf("reading current snapshot: %w", err)
	}
	if err == nil {
		// Movement within 5% of the prior VaR counts as stable.
		snap.Trend = riskmetrics.ClassifyTrend(existing.VaR95, snap.VaR95, 0.05*math.Abs(existing.VaR95))
	}

	ttl := 2 * snap.StaleThreshold
	if ttl <= 0 {
		ttl = 2 * riskmetrics.DefaultStaleThreshold
	}
	if err := s.cache.SetJSON(ctx, key, snap, ttl); err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}
	return nil
}

// Latest returns the current snapshot for a scope; a miss is typed so
// callers can distinguish "no data yet" from a cache failure.
func (s *SnapshotCache) Latest(ctx context.Context, scope limits.Scope) (*riskmetrics.Snapshot, error) {
	var snap riskmetrics.Snapshot
	if err := s.cache.GetJSON(ctx, snapshotKey(scope), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
