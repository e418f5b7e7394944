package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/domain/limits"
	"github.com/treumlabs/risk-engine/internal/infrastructure/telemetry"
)

// limitRepository persists risk limits in PostgreSQL. Updates carry a
// version predicate so concurrent writers lose with a conflict instead
// of trampling each other.
type limitRepository struct {
	pool   *pgxpool.Pool
	tracer *telemetry.DomainTracer
}

// NewLimitRepository creates a PostgreSQL-backed limit store
func NewLimitRepository(pool *pgxpool.Pool) *limitRepository {
	return &limitRepository{
		pool:   pool,
		tracer: telemetry.NewDomainTracer("repository.limit"),
	}
}

func (r *limitRepository) Create(ctx context.Context, limit *limits.Limit) error {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "insert", "risk_limits")
	defer span.End()

	overrides, history, err := marshalLimitJSON(limit)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO risk_limits (
			id, type, scope_type, scope_id,
			limit_value, warning_threshold,
			current_utilization, utilization_pct, peak_utilization, peak_utilization_at,
			status, breach_actions, effective_from, effective_until,
			overrides, history, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = r.pool.Exec(ctx, query,
		limit.ID, string(limit.Type), string(limit.Scope.Type), limit.Scope.ID,
		limit.LimitValue, limit.WarningThreshold,
		limit.CurrentUtilization, limit.UtilizationPct, limit.PeakUtilization, limit.PeakUtilizationAt,
		string(limit.Status), breachActionStrings(limit.BreachActions), limit.EffectiveFrom, limit.EffectiveUntil,
		overrides, history, limit.Version, limit.CreatedAt, limit.UpdatedAt,
	)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return errors.NewInternalError("failed to create limit").WithCause(err)
	}
	return nil
}

func (r *limitRepository) GetByTypeAndScope(ctx context.Context, t limits.LimitType, scope limits.Scope) (*limits.Limit, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "select", "risk_limits")
	defer span.End()

	query := limitSelectColumns + ` WHERE type = $1 AND scope_type = $2 AND scope_id = $3`
	row := r.pool.QueryRow(ctx, query, string(t), string(scope.Type), scope.ID)

	limit, err := scanLimit(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrLimitNotFound
		}
		telemetry.WithSpanError(span, err)
		return nil, err
	}
	return limit, nil
}

func (r *limitRepository) ListByScope(ctx context.Context, scope limits.Scope) ([]*limits.Limit, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "select", "risk_limits")
	defer span.End()

	query := limitSelectColumns + ` WHERE scope_type = $1 AND scope_id = $2 ORDER BY type`
	rows, err := r.pool.Query(ctx, query, string(scope.Type), scope.ID)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return nil, errors.NewInternalError("failed to list limits").WithCause(err)
	}
	defer rows.Close()

	var result []*limits.Limit
	for rows.Next() {
		limit, err := scanLimit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, limit)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to list limits").WithCause(err)
	}
	return result, nil
}

// Update writes the limit back only if the stored version still matches
// the one the caller loaded. A zero-row update means another writer got
// there first and the caller should reload and retry.
func (r *limitRepository) Update(ctx context.Context, limit *limits.Limit) error {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "update", "risk_limits")
	defer span.End()

	overrides, history, err := marshalLimitJSON(limit)
	if err != nil {
		return err
	}

	query := `
		UPDATE risk_limits SET
			limit_value = $3, warning_threshold = $4,
			current_utilization = $5, utilization_pct = $6,
			peak_utilization = $7, peak_utilization_at = $8,
			status = $9, breach_actions = $10,
			effective_from = $11, effective_until = $12,
			overrides = $13, history = $14,
			version = version + 1, updated_at = $15
		WHERE id = $1 AND version = $2
	`

	tag, err := r.pool.Exec(ctx, query,
		limit.ID, limit.Version,
		limit.LimitValue, limit.WarningThreshold,
		limit.CurrentUtilization, limit.UtilizationPct,
		limit.PeakUtilization, limit.PeakUtilizationAt,
		string(limit.Status), breachActionStrings(limit.BreachActions),
		limit.EffectiveFrom, limit.EffectiveUntil,
		overrides, history, limit.UpdatedAt,
	)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return errors.NewInternalError("failed to update limit").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM risk_limits WHERE id = $1)`, limit.ID).Scan(&exists); err == nil && !exists {
			return errors.ErrLimitNotFound
		}
		return errors.ErrLimitUpdateConflict
	}
	limit.Version++
	return nil
}

const limitSelectColumns = `
	SELECT id, type, scope_type, scope_id,
		limit_value, warning_threshold,
		current_utilization, utilization_pct, peak_utilization, peak_utilization_at,
		status, breach_actions, effective_from, effective_until,
		overrides, history, version, created_at, updated_at
	FROM risk_limits`

func scanLimit(row pgx.Row) (*limits.Limit, error) {
	var (
		l                          limits.Limit
		typ, scopeType, status     string
		actions                    []string
		overridesJSON, historyJSON []byte
	)
	err := row.Scan(
		&l.ID, &typ, &scopeType, &l.Scope.ID,
		&l.LimitValue, &l.WarningThreshold,
		&l.CurrentUtilization, &l.UtilizationPct, &l.PeakUtilization, &l.PeakUtilizationAt,
		&status, &actions, &l.EffectiveFrom, &l.EffectiveUntil,
		&overridesJSON, &historyJSON, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewInternalError("failed to scan limit").WithCause(err)
	}

	l.Type = limits.LimitType(typ)
	l.Scope.Type = limits.ScopeType(scopeType)
	l.Status = limits.Status(status)
	l.BreachActions = make([]limits.BreachAction, len(actions))
	for i, a := range actions {
		l.BreachActions[i] = limits.BreachAction(a)
	}

	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &l.Overrides); err != nil {
			return nil, errors.NewInternalError("corrupt limit overrides").WithCause(err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &l.History); err != nil {
			return nil, errors.NewInternalError("corrupt limit history").WithCause(err)
		}
	}
	return &l, nil
}

func marshalLimitJSON(limit *limits.Limit) (overrides, history []byte, err error) {
	overrides, err = json.Marshal(limit.Overrides)
	if err != nil {
		return nil, nil, errors.NewInternalError("failed to marshal limit overrides").WithCause(err)
	}
	history, err = json.Marshal(limit.History)
	if err != nil {
		return nil, nil, errors.NewInternalError("failed to marshal limit history").WithCause(err)
	}
	return overrides, history, nil
}

func breachActionStrings(actions []limits.BreachAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
