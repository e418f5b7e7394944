package assessment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	"github.com/treumlabs/risk-engine/internal/domain/errors"
)

// MemoryRepository is an in-memory assessment store for tests and
// single-process deployments
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*assessment.Assessment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[uuid.UUID]*assessment.Assessment)}
}

func (r *MemoryRepository) Create(_ context.Context, a *assessment.Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[a.ID]; exists {
		return errors.NewConflictError("assessment already exists")
	}
	stored := *a
	r.records[a.ID] = &stored
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, a *assessment.Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[a.ID]; !ok {
		return errors.ErrAssessmentNotFound
	}
	stored := *a
	r.records[a.ID] = &stored
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*assessment.Assessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.records[id]
	if !ok {
		return nil, errors.ErrAssessmentNotFound
	}
	copied := *stored
	return &copied, nil
}

// Count reports how many assessments are stored; used by tests asserting
// that rejected input never creates a record
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
