package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	"github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/infrastructure/telemetry"
)

// assessmentRepository persists risk assessments in PostgreSQL
type assessmentRepository struct {
	pool   *pgxpool.Pool
	tracer *telemetry.DomainTracer
}

// NewAssessmentRepository creates a PostgreSQL-backed assessment store
func NewAssessmentRepository(pool *pgxpool.Pool) *assessmentRepository {
	return &assessmentRepository{
		pool:   pool,
		tracer: telemetry.NewDomainTracer("repository.assessment"),
	}
}

func (r *assessmentRepository) Create(ctx context.Context, a *assessment.Assessment) error {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "insert", "risk_assessments")
	defer span.End()

	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return errors.NewInternalError("failed to marshal assessment factors").WithCause(err)
	}

	query := `
		INSERT INTO risk_assessments (
			id, type, status, user_id, account_id, trade_id, portfolio_id,
			score, level, recommendation, confidence,
			factors, recommendations, failure_reason,
			created_at, completed_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.pool.Exec(ctx, query,
		a.ID, int(a.Type), int(a.Status), a.UserID, a.AccountID, a.TradeID, a.PortfolioID,
		a.Score, int(a.Level), int(a.Recommendation), a.Confidence,
		factors, a.Recommendations, a.FailureReason,
		a.CreatedAt, a.CompletedAt, a.ExpiresAt,
	)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return errors.NewInternalError("failed to create assessment").WithCause(err)
	}
	return nil
}

func (r *assessmentRepository) Update(ctx context.Context, a *assessment.Assessment) error {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "update", "risk_assessments")
	defer span.End()

	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return errors.NewInternalError("failed to marshal assessment factors").WithCause(err)
	}

	query := `
		UPDATE risk_assessments SET
			status = $2, score = $3, level = $4, recommendation = $5, confidence = $6,
			factors = $7, recommendations = $8, failure_reason = $9,
			reviewed_by = $10, reviewed_at = $11, review_notes = $12,
			completed_at = $13, expires_at = $14
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		a.ID, int(a.Status), a.Score, int(a.Level), int(a.Recommendation), a.Confidence,
		factors, a.Recommendations, a.FailureReason,
		a.ReviewedBy, a.ReviewedAt, a.ReviewNotes,
		a.CompletedAt, a.ExpiresAt,
	)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return errors.NewInternalError("failed to update assessment").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrAssessmentNotFound
	}
	return nil
}

func (r *assessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*assessment.Assessment, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "select", "risk_assessments")
	defer span.End()

	query := `
		SELECT id, type, status, user_id, account_id, trade_id, portfolio_id,
			score, level, recommendation, confidence,
			factors, recommendations, failure_reason,
			reviewed_by, reviewed_at, review_notes,
			created_at, completed_at, expires_at
		FROM risk_assessments
		WHERE id = $1
	`

	var (
		a                          assessment.Assessment
		typ, status, level, recomm int
		factorsJSON                []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &typ, &status, &a.UserID, &a.AccountID, &a.TradeID, &a.PortfolioID,
		&a.Score, &level, &recomm, &a.Confidence,
		&factorsJSON, &a.Recommendations, &a.FailureReason,
		&a.ReviewedBy, &a.ReviewedAt, &a.ReviewNotes,
		&a.CreatedAt, &a.CompletedAt, &a.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrAssessmentNotFound
		}
		telemetry.WithSpanError(span, err)
		return nil, errors.NewInternalError("failed to get assessment").WithCause(err)
	}

	a.Type = assessment.Type(typ)
	a.Status = assessment.Status(status)
	a.Level = assessment.RiskLevel(level)
	a.Recommendation = assessment.Recommendation(recomm)

	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
			return nil, errors.NewInternalError(fmt.Sprintf("corrupt factor breakdown for assessment %s", id)).WithCause(err)
		}
	}
	return &a, nil
}
