package alerting

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
	"github.com/treumlabs/risk-engine/internal/domain/errors"
)

// MemoryRepository is an in-memory alert store for tests and
// single-process deployments
type MemoryRepository struct {
	mu     sync.RWMutex
	alerts map[uuid.UUID]*alert.Alert
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{alerts: make(map[uuid.UUID]*alert.Alert)}
}

func (r *MemoryRepository) Create(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.alerts[a.ID]; exists {
		return errors.NewConflictError("alert already exists")
	}
	stored := *a
	r.alerts[a.ID] = &stored
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*alert.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.alerts[id]
	if !ok {
		return nil, errors.ErrAlertNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *MemoryRepository) Update(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.alerts[a.ID]; !ok {
		return errors.ErrAlertNotFound
	}
	stored := *a
	r.alerts[a.ID] = &stored
	return nil
}

func (r *MemoryRepository) ListOpen(_ context.Context) ([]*alert.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*alert.Alert
	for _, stored := range r.alerts {
		if stored.IsOpen() {
			copied := *stored
			out = append(out, &copied)
		}
	}
	return out, nil
}
