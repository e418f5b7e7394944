package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
	"github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/infrastructure/telemetry"
)

// alertRepository persists alerts in PostgreSQL
type alertRepository struct {
	pool   *pgxpool.Pool
	tracer *telemetry.DomainTracer
}

// NewAlertRepository creates a PostgreSQL-backed alert store
func NewAlertRepository(pool *pgxpool.Pool) *alertRepository {
	return &alertRepository{
		pool:   pool,
		tracer: telemetry.NewDomainTracer("repository.alert"),
	}
}

func (r *alertRepository) Create(ctx context.Context, a *alert.Alert) error {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "insert", "risk_alerts")
	defer span.End()

	trigger, impact, escalation, err := marshalAlertJSON(a)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO risk_alerts (
			id, type, severity, priority, status,
			title, message, user_id, portfolio_id, source_id,
			trigger_condition, impact, escalation,
			is_escalated, escalated_at, original_severity,
			notification_channels,
			acknowledged_by, acknowledged_at, resolved_by, resolved_at, resolution_note,
			created_at, updated_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)
	`

	_, err = r.pool.Exec(ctx, query,
		a.ID, int(a.Type), int(a.Severity), int(a.Priority), int(a.Status),
		a.Title, a.Message, a.UserID, a.PortfolioID, a.SourceID,
		trigger, impact, escalation,
		a.IsEscalated, a.EscalatedAt, int(a.OriginalSeverity),
		channelStrings(a.NotificationChannels),
		a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedBy, a.ResolvedAt, a.ResolutionNote,
		a.CreatedAt, a.UpdatedAt, a.ExpiresAt,
	)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return errors.NewInternalError("failed to create alert").WithCause(err)
	}
	return nil
}

func (r *alertRepository) Update(ctx context.Context, a *alert.Alert) error {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "update", "risk_alerts")
	defer span.End()

	trigger, impact, escalation, err := marshalAlertJSON(a)
	if err != nil {
		return err
	}

	query := `
		UPDATE risk_alerts SET
			severity = $2, priority = $3, status = $4,
			trigger_condition = $5, impact = $6, escalation = $7,
			is_escalated = $8, escalated_at = $9, original_severity = $10,
			notification_channels = $11,
			acknowledged_by = $12, acknowledged_at = $13,
			resolved_by = $14, resolved_at = $15, resolution_note = $16,
			updated_at = $17, expires_at = $18
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		a.ID, int(a.Severity), int(a.Priority), int(a.Status),
		trigger, impact, escalation,
		a.IsEscalated, a.EscalatedAt, int(a.OriginalSeverity),
		channelStrings(a.NotificationChannels),
		a.AcknowledgedBy, a.AcknowledgedAt,
		a.ResolvedBy, a.ResolvedAt, a.ResolutionNote,
		a.UpdatedAt, a.ExpiresAt,
	)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return errors.NewInternalError("failed to update alert").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrAlertNotFound
	}
	return nil
}

func (r *alertRepository) GetByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "select", "risk_alerts")
	defer span.End()

	row := r.pool.QueryRow(ctx, alertSelectColumns+` WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrAlertNotFound
		}
		telemetry.WithSpanError(span, err)
		return nil, err
	}
	return a, nil
}

// ListOpen returns alerts still requiring operator attention, newest
// first. The status filter mirrors alert.IsOpen.
func (r *alertRepository) ListOpen(ctx context.Context) ([]*alert.Alert, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "select", "risk_alerts")
	defer span.End()

	query := alertSelectColumns + `
		WHERE status IN ($1, $2, $3, $4)
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query,
		int(alert.StatusActive), int(alert.StatusAcknowledged),
		int(alert.StatusInProgress), int(alert.StatusEscalated),
	)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return nil, errors.NewInternalError("failed to list open alerts").WithCause(err)
	}
	defer rows.Close()

	var result []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to list open alerts").WithCause(err)
	}
	return result, nil
}

const alertSelectColumns = `
	SELECT id, type, severity, priority, status,
		title, message, user_id, portfolio_id, source_id,
		trigger_condition, impact, escalation,
		is_escalated, escalated_at, original_severity,
		notification_channels,
		acknowledged_by, acknowledged_at, resolved_by, resolved_at, resolution_note,
		created_at, updated_at, expires_at
	FROM risk_alerts`

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a                                     alert.Alert
		typ, severity, priority, status, orig int
		channels                              []string
		triggerJSON, impactJSON, escJSON      []byte
	)
	err := row.Scan(
		&a.ID, &typ, &severity, &priority, &status,
		&a.Title, &a.Message, &a.UserID, &a.PortfolioID, &a.SourceID,
		&triggerJSON, &impactJSON, &escJSON,
		&a.IsEscalated, &a.EscalatedAt, &orig,
		&channels,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt, &a.ResolutionNote,
		&a.CreatedAt, &a.UpdatedAt, &a.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewInternalError("failed to scan alert").WithCause(err)
	}

	a.Type = alert.Type(typ)
	a.Severity = alert.Severity(severity)
	a.Priority = alert.Priority(priority)
	a.Status = alert.Status(status)
	a.OriginalSeverity = alert.Severity(orig)
	a.NotificationChannels = make([]alert.Channel, len(channels))
	for i, c := range channels {
		a.NotificationChannels[i] = alert.Channel(c)
	}

	if len(triggerJSON) > 0 {
		if err := json.Unmarshal(triggerJSON, &a.Trigger); err != nil {
			return nil, errors.NewInternalError("corrupt alert trigger").WithCause(err)
		}
	}
	if len(impactJSON) > 0 {
		if err := json.Unmarshal(impactJSON, &a.Impact); err != nil {
			return nil, errors.NewInternalError("corrupt alert impact").WithCause(err)
		}
	}
	if len(escJSON) > 0 {
		if err := json.Unmarshal(escJSON, &a.Escalation); err != nil {
			return nil, errors.NewInternalError("corrupt alert escalation rule").WithCause(err)
		}
	}
	return &a, nil
}

func marshalAlertJSON(a *alert.Alert) (trigger, impact, escalation []byte, err error) {
	trigger, err = json.Marshal(a.Trigger)
	if err != nil {
		return nil, nil, nil, errors.NewInternalError("failed to marshal alert trigger").WithCause(err)
	}
	if a.Impact != nil {
		impact, err = json.Marshal(a.Impact)
		if err != nil {
			return nil, nil, nil, errors.NewInternalError("failed to marshal alert impact").WithCause(err)
		}
	}
	if a.Escalation != nil {
		escalation, err = json.Marshal(a.Escalation)
		if err != nil {
			return nil, nil, nil, errors.NewInternalError("failed to marshal alert escalation rule").WithCause(err)
		}
	}
	return trigger, impact, escalation, nil
}

func channelStrings(channels []alert.Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}
