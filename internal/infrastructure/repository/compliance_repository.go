package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/treumlabs/risk-engine/internal/domain/compliance"
	"github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/infrastructure/telemetry"
)

// complianceRepository persists completed compliance checks for audit
type complianceRepository struct {
	pool   *pgxpool.Pool
	tracer *telemetry.DomainTracer
}

// NewComplianceRepository creates a PostgreSQL-backed compliance check store
func NewComplianceRepository(pool *pgxpool.Pool) *complianceRepository {
	return &complianceRepository{
		pool:   pool,
		tracer: telemetry.NewDomainTracer("repository.compliance"),
	}
}

func (r *complianceRepository) Create(ctx context.Context, check *compliance.Check) error {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "insert", "compliance_checks")
	defer span.End()

	flags, err := json.Marshal(check.Flags)
	if err != nil {
		return errors.NewInternalError("failed to marshal check flags").WithCause(err)
	}

	query := `
		INSERT INTO compliance_checks (
			id, type, status, severity, user_id, account_id,
			passed, score, rules_evaluated, failed_rules, flags,
			requires_escalation, remedial_actions, escalation_reason,
			failure_reason, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.pool.Exec(ctx, query,
		check.ID, int(check.Type), int(check.Status), int(check.Severity), check.UserID, check.AccountID,
		check.Passed, check.Score, check.RulesEvaluated, check.FailedRules, flags,
		check.RequiresEscalation, check.RemedialActions, check.EscalationReason,
		check.FailureReason, check.CreatedAt, check.CompletedAt,
	)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return errors.NewInternalError("failed to create compliance check").WithCause(err)
	}
	return nil
}

func (r *complianceRepository) GetByID(ctx context.Context, id uuid.UUID) (*compliance.Check, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "select", "compliance_checks")
	defer span.End()

	row := r.pool.QueryRow(ctx, complianceSelectColumns+` WHERE id = $1`, id)
	check, err := scanCheck(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("compliance check")
		}
		telemetry.WithSpanError(span, err)
		return nil, err
	}
	return check, nil
}

// ListRequiringEscalation returns failed checks flagged for human review,
// newest first.
func (r *complianceRepository) ListRequiringEscalation(ctx context.Context, limit int) ([]*compliance.Check, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "select", "compliance_checks")
	defer span.End()

	query := complianceSelectColumns + `
		WHERE requires_escalation
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return nil, errors.NewInternalError("failed to list escalated checks").WithCause(err)
	}
	defer rows.Close()

	var result []*compliance.Check
	for rows.Next() {
		check, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, check)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to list escalated checks").WithCause(err)
	}
	return result, nil
}

const complianceSelectColumns = `
	SELECT id, type, status, severity, user_id, account_id,
		passed, score, rules_evaluated, failed_rules, flags,
		requires_escalation, remedial_actions, escalation_reason,
		failure_reason, created_at, completed_at
	FROM compliance_checks`

func scanCheck(row pgx.Row) (*compliance.Check, error) {
	var (
		c                     compliance.Check
		typ, status, severity int
		flagsJSON             []byte
	)
	err := row.Scan(
		&c.ID, &typ, &status, &severity, &c.UserID, &c.AccountID,
		&c.Passed, &c.Score, &c.RulesEvaluated, &c.FailedRules, &flagsJSON,
		&c.RequiresEscalation, &c.RemedialActions, &c.EscalationReason,
		&c.FailureReason, &c.CreatedAt, &c.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewInternalError("failed to scan compliance check").WithCause(err)
	}

	c.Type = compliance.Type(typ)
	c.Status = compliance.Status(status)
	c.Severity = compliance.Severity(severity)

	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &c.Flags); err != nil {
			return nil, errors.NewInternalError("corrupt check flags").WithCause(err)
		}
	}
	return &c, nil
}
