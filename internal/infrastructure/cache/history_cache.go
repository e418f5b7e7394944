package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/domain/profile"
	"github.com/treumlabs/risk-engine/internal/metrics"
)

// HistoryCache keeps user risk profiles and their most recent session
// close to the engine so evaluators do not hit the profile service on
// every assessment. Entries expire on TTL; writes after an assessment
// refresh them.
type HistoryCache struct {
	cache    Cache
	registry *metrics.Registry
	logger   *zap.Logger
	ttl      time.Duration
}

// NewHistoryCache creates a history cache with the given TTL. A zero
// ttl falls back to HistoryTTL.
func NewHistoryCache(c Cache, registry *metrics.Registry, logger *zap.Logger, ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = HistoryTTL
	}
	return &HistoryCache{
		cache:    c,
		registry: registry,
		logger:   logger,
		ttl:      ttl,
	}
}

func historyKey(userID uuid.UUID) string {
	return HistoryPrefix + userID.String()
}

func sessionKey(userID uuid.UUID) string {
	return SessionPrefix + userID.String()
}

// GetHistory returns the cached profile for the user, or a miss.
func (h *HistoryCache) GetHistory(ctx context.Context, userID uuid.UUID) (*profile.History, error) {
	var history profile.History
	err := h.cache.GetJSON(ctx, historyKey(userID), &history)
	if err != nil {
		if h.registry != nil {
			h.registry.RecordCacheLookup(false)
		}
		return nil, err
	}
	if h.registry != nil {
		h.registry.RecordCacheLookup(true)
	}
	return &history, nil
}

// SetHistory stores the profile under the cache TTL.
func (h *HistoryCache) SetHistory(ctx context.Context, history *profile.History) error {
	return h.cache.SetJSON(ctx, historyKey(history.UserID), history, h.ttl)
}

// GetLastSession returns the most recent login recorded for the user.
// The location evaluators compare it against the current login to flag
// impossible travel.
func (h *HistoryCache) GetLastSession(ctx context.Context, userID uuid.UUID) (*profile.Session, error) {
	var session profile.Session
	err := h.cache.GetJSON(ctx, sessionKey(userID), &session)
	if err != nil {
		if h.registry != nil {
			h.registry.RecordCacheLookup(false)
		}
		return nil, err
	}
	if h.registry != nil {
		h.registry.RecordCacheLookup(true)
	}
	return &session, nil
}

// SetLastSession records the session just assessed as the user's most
// recent login. Sessions keep a longer TTL than profiles; a login from
// yesterday is still evidence for travel checks.
func (h *HistoryCache) SetLastSession(ctx context.Context, session *profile.Session) error {
	return h.cache.SetJSON(ctx, sessionKey(session.UserID), session, SessionTTL)
}

// Invalidate drops the user's cached profile and session. Called when
// the profile service reports an out-of-band change.
func (h *HistoryCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := h.cache.Delete(ctx, historyKey(userID)); err != nil {
		h.logger.Warn("failed to invalidate history cache",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
	if err := h.cache.Delete(ctx, sessionKey(userID)); err != nil {
		h.logger.Warn("failed to invalidate session cache",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}
