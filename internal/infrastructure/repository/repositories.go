package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories holds all repository instances sharing one pool
type Repositories struct {
	Assessments *assessmentRepository
	Limits      *limitRepository
	Alerts      *alertRepository
	Checks      *complianceRepository
}

// NewRepositories creates a new repository collection
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Assessments: NewAssessmentRepository(pool),
		Limits:      NewLimitRepository(pool),
		Alerts:      NewAlertRepository(pool),
		Checks:      NewComplianceRepository(pool),
	}
}
