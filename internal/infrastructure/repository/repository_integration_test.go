package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	"github.com/treumlabs/risk-engine/internal/domain/compliance"
	"github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/domain/limits"
	"github.com/treumlabs/risk-engine/internal/testutil/containers"
	"github.com/treumlabs/risk-engine/internal/testutil/fixtures"
)

// setupTestPool starts a postgres container, applies migrations and
// returns a pool against the fresh database.
func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg, err := containers.NewPostgresContainer(ctx)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	db, err := sql.Open("postgres", pg.ConnectionString)
	require.NoError(t, err)
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	require.NoError(t, err)

	m, err := migrate.NewWithDatabaseInstance("file://../../../migrations", "postgres", driver)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	pool, err := pgxpool.New(ctx, pg.ConnectionString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func TestAssessmentRepository_Roundtrip(t *testing.T) {
	pool := setupTestPool(t)
	repo := NewAssessmentRepository(pool)
	ctx := context.Background()

	userID := uuid.New()
	a := fixtures.NewAssessmentBuilder().
		WithSubject(assessment.Subject{UserID: &userID}).
		Build(t)

	require.NoError(t, repo.Create(ctx, a))

	require.NoError(t, a.Complete(72.5, 85, assessment.RecommendReview,
		[]assessment.Factor{{Factor: "unrecognized_location", Value: 70, Weight: 0.25, Contribution: 17.5}},
		[]string{"require additional verification"},
	))
	require.NoError(t, repo.Update(ctx, a))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, assessment.StatusCompleted, got.Status)
	assert.Equal(t, assessment.RecommendReview, got.Recommendation)
	assert.InDelta(t, 72.5, got.Score, 0.001)
	require.NotNil(t, got.UserID)
	assert.Equal(t, userID, *got.UserID)
	require.Len(t, got.Factors, 1)
	assert.Equal(t, "unrecognized_location", got.Factors[0].Factor)
	assert.Equal(t, []string{"require additional verification"}, got.Recommendations)
	require.NotNil(t, got.CompletedAt)
}

func TestAssessmentRepository_NotFound(t *testing.T) {
	pool := setupTestPool(t)
	repo := NewAssessmentRepository(pool)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestLimitRepository_VersionConflict(t *testing.T) {
	pool := setupTestPool(t)
	repo := NewLimitRepository(pool)
	ctx := context.Background()

	limit := fixtures.NewLimitBuilder().
		WithScope(limits.ScopeUser, uuid.NewString()).
		Build(t)
	require.NoError(t, repo.Create(ctx, limit))

	// Two writers load the same version; only one update lands.
	first, err := repo.GetByTypeAndScope(ctx, limit.Type, limit.Scope)
	require.NoError(t, err)
	second, err := repo.GetByTypeAndScope(ctx, limit.Type, limit.Scope)
	require.NoError(t, err)

	first.ApplyDelta(decimal.NewFromInt(500_000), time.Now())
	require.NoError(t, repo.Update(ctx, first))

	second.ApplyDelta(decimal.NewFromInt(300_000), time.Now())
	err = repo.Update(ctx, second)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	// The stored row reflects only the winning write.
	stored, err := repo.GetByTypeAndScope(ctx, limit.Type, limit.Scope)
	require.NoError(t, err)
	assert.True(t, stored.CurrentUtilization.Equal(decimal.NewFromInt(500_000)),
		"got %s", stored.CurrentUtilization)
	assert.Equal(t, first.Version, stored.Version)
}

func TestLimitRepository_ListByScope(t *testing.T) {
	pool := setupTestPool(t)
	repo := NewLimitRepository(pool)
	ctx := context.Background()

	scopeID := uuid.NewString()
	notional := fixtures.NewLimitBuilder().
		WithScope(limits.ScopeUser, scopeID).
		Build(t)
	exposure := fixtures.NewLimitBuilder().
		WithType(limits.TypeExposure).
		WithScope(limits.ScopeUser, scopeID).
		WithValue(decimal.NewFromInt(250_000)).
		Build(t)
	require.NoError(t, repo.Create(ctx, notional))
	require.NoError(t, repo.Create(ctx, exposure))

	got, err := repo.ListByScope(ctx, limits.Scope{Type: limits.ScopeUser, ID: scopeID})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestAlertRepository_OpenLifecycle(t *testing.T) {
	pool := setupTestPool(t)
	repo := NewAlertRepository(pool)
	ctx := context.Background()

	open := fixtures.NewAlertBuilder().Build(t)
	resolved := fixtures.NewAlertBuilder().
		WithTitle("Resolved breach", "handled").
		Build(t)
	require.NoError(t, resolved.Resolve("ops", "false positive"))

	require.NoError(t, repo.Create(ctx, open))
	require.NoError(t, repo.Create(ctx, resolved))

	got, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, open.ID, got[0].ID)

	// Acknowledge and verify the annotation survives the roundtrip.
	require.NoError(t, got[0].Acknowledge("risk-desk"))
	require.NoError(t, repo.Update(ctx, got[0]))

	stored, err := repo.GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusAcknowledged, stored.Status)
	require.NotNil(t, stored.AcknowledgedBy)
	assert.Equal(t, "risk-desk", *stored.AcknowledgedBy)
	assert.Equal(t, open.Trigger.Rule, stored.Trigger.Rule)
}

func TestComplianceRepository_EscalationQueue(t *testing.T) {
	pool := setupTestPool(t)
	repo := NewComplianceRepository(pool)
	ctx := context.Background()

	userID := uuid.New()

	passed := compliance.NewCheck(compliance.TypeAML, &userID, nil)
	require.NoError(t, passed.Complete([]string{"aml-large-value"}, nil, nil, 0))

	failed := compliance.NewCheck(compliance.TypeAML, &userID, nil)
	require.NoError(t, failed.Complete(
		[]string{"aml-large-value", "aml-structuring"},
		[]string{"aml-structuring"},
		[]compliance.Flag{{Name: "aml-structuring", Severity: compliance.SeveritySevere, Value: 950_000, Threshold: 1_000_000}},
		60,
	))
	failed.MarkForEscalation("structuring pattern detected", []string{"file suspicious activity report"})

	require.NoError(t, repo.Create(ctx, passed))
	require.NoError(t, repo.Create(ctx, failed))

	queue, err := repo.ListRequiringEscalation(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, failed.ID, queue[0].ID)
	assert.Equal(t, compliance.SeveritySevere, queue[0].Severity)
	require.Len(t, queue[0].Flags, 1)

	got, err := repo.GetByID(ctx, passed.ID)
	require.NoError(t, err)
	assert.True(t, got.Passed)
}
