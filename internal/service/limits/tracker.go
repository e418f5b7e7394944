package limits

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/domain/limits"
)

// Repository persists limits with optimistic concurrency. Update must
// fail with errors.ErrLimitUpdateConflict when the stored version does
// not match the version the limit was loaded at.
type Repository interface {
	Create(ctx context.Context, limit *limits.Limit) error
	GetByTypeAndScope(ctx context.Context, t limits.LimitType, scope limits.Scope) (*limits.Limit, error)
	ListByScope(ctx context.Context, scope limits.Scope) ([]*limits.Limit, error)
	Update(ctx context.Context, limit *limits.Limit) error
}

// EventKind distinguishes the limit transitions worth alerting on
type EventKind string

const (
	EventWarning   EventKind = "warning"
	EventBreached  EventKind = "breached"
	EventRecovered EventKind = "recovered"
)

// Event describes a status transition produced by a consuming update.
// The limit is a snapshot taken after the update was committed.
type Event struct {
	Kind       EventKind
	Limit      limits.Limit
	Previous   limits.Status
	Delta      decimal.Decimal
	OccurredAt time.Time
}

// EventSink receives limit events; the alerting engine implements it.
// Publish must not block the tracker.
type EventSink interface {
	PublishLimitEvent(ctx context.Context, event Event)
}

const defaultMaxRetries = 5

// Tracker applies consuming events to limits under a bounded CAS retry
// loop. Updates to one scope are linearized by the repository's version
// check; the tracker never holds locks of its own.
type Tracker struct {
	repo       Repository
	sink       EventSink
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

type TrackerOption func(*Tracker)

// WithMaxRetries bounds the CAS retry loop
func WithMaxRetries(n int) TrackerOption {
	return func(t *Tracker) { t.maxRetries = n }
}

// WithClock substitutes the time source, for tests
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(repo Repository, sink EventSink, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		repo:       repo,
		sink:       sink,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Consume applies delta to the limit's utilization. On a version
// conflict the limit is reloaded and the delta reapplied, a bounded
// number of times. Returns the committed limit snapshot.
func (t *Tracker) Consume(ctx context.Context, limitType limits.LimitType, scope limits.Scope, delta decimal.Decimal) (*limits.Limit, error) {
	return t.mutate(ctx, limitType, scope, delta, func(l *limits.Limit, now time.Time) error {
		l.ApplyDelta(delta, now)
		return nil
	})
}

// Reset zeroes the limit's utilization (e.g. the daily-loss rollover)
func (t *Tracker) Reset(ctx context.Context, limitType limits.LimitType, scope limits.Scope) (*limits.Limit, error) {
	return t.mutate(ctx, limitType, scope, decimal.Zero, func(l *limits.Limit, now time.Time) error {
		l.Reset(now)
		return nil
	})
}

func (t *Tracker) mutate(ctx context.Context, limitType limits.LimitType, scope limits.Scope, delta decimal.Decimal, apply func(*limits.Limit, time.Time) error) (*limits.Limit, error) {
	var lastErr error

	for attempt := 0; attempt < t.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewTimeoutError("limit update cancelled").WithCause(err)
		}

		limit, err := t.repo.GetByTypeAndScope(ctx, limitType, scope)
		if err != nil {
			return nil, err
		}

		now := t.now()
		if !limit.IsEnforced(now) {
			return nil, errors.ErrLimitSuspended
		}

		previous := limit.Status
		if err := apply(limit, now); err != nil {
			return nil, err
		}

		if err := t.repo.Update(ctx, limit); err != nil {
			if errors.IsType(err, errors.ErrorTypeConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		t.emitTransition(ctx, previous, limit, delta, now)
		return limit, nil
	}

	t.logger.Error("limit update exhausted retries",
		zap.String("limit_type", string(limitType)),
		zap.String("scope", scope.Key()),
		zap.Int("attempts", t.maxRetries),
	)
	return nil, lastErr
}

// emitTransition publishes an event when the update crossed a
// classification boundary
func (t *Tracker) emitTransition(ctx context.Context, previous limits.Status, limit *limits.Limit, delta decimal.Decimal, now time.Time) {
	if t.sink == nil || previous == limit.Status {
		return
	}

	var kind EventKind
	switch limit.Status {
	case limits.StatusBreached:
		kind = EventBreached
	case limits.StatusWarning:
		kind = EventWarning
	case limits.StatusActive:
		if previous != limits.StatusWarning && previous != limits.StatusBreached {
			return
		}
		kind = EventRecovered
	default:
		return
	}

	t.logger.Warn("limit status transition",
		zap.String("limit_type", string(limit.Type)),
		zap.String("scope", limit.Scope.Key()),
		zap.String("from", string(previous)),
		zap.String("to", string(limit.Status)),
		zap.String("utilization_pct", limit.UtilizationPct.StringFixed(1)),
	)

	t.sink.PublishLimitEvent(ctx, Event{
		Kind:       kind,
		Limit:      *limit,
		Previous:   previous,
		Delta:      delta,
		OccurredAt: now,
	})
}

// Define creates and persists a new limit
func (t *Tracker) Define(ctx context.Context, limitType limits.LimitType, scope limits.Scope, value decimal.Decimal) (*limits.Limit, error) {
	limit, err := limits.New(limitType, scope, value)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_LIMIT", err.Error()).WithCause(err)
	}
	if err := t.repo.Create(ctx, limit); err != nil {
		return nil, err
	}
	return limit, nil
}

// Override applies a time-bounded override and persists it under the
// same CAS discipline as consumption
func (t *Tracker) Override(ctx context.Context, limitType limits.LimitType, scope limits.Scope, by, reason string, newValue decimal.Decimal, until time.Time) (*limits.Limit, error) {
	return t.mutate(ctx, limitType, scope, decimal.Zero, func(l *limits.Limit, now time.Time) error {
		if err := l.AddOverride(by, reason, newValue, until, now); err != nil {
			return errors.NewValidationError("INVALID_OVERRIDE", err.Error()).WithCause(err)
		}
		return nil
	})
}

// Utilization reports all limits for a scope, read-only
func (t *Tracker) Utilization(ctx context.Context, scope limits.Scope) ([]*limits.Limit, error) {
	return t.repo.ListByScope(ctx, scope)
}
