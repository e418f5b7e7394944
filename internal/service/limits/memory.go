package limits

import (
	"context"
	"sync"

	"github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/domain/limits"
)

// MemoryRepository is a version-checked in-memory Repository. It backs
// tests and single-process deployments; the pgx repository is the
// production implementation.
type MemoryRepository struct {
	mu     sync.RWMutex
	limits map[string]*limits.Limit // key: type + scope key
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{limits: make(map[string]*limits.Limit)}
}

func storageKey(t limits.LimitType, scope limits.Scope) string {
	return string(t) + "|" + scope.Key()
}

func (r *MemoryRepository) Create(_ context.Context, limit *limits.Limit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := storageKey(limit.Type, limit.Scope)
	if _, exists := r.limits[key]; exists {
		return errors.NewConflictError("limit already defined for scope " + limit.Scope.Key())
	}
	stored := *limit
	r.limits[key] = &stored
	return nil
}

func (r *MemoryRepository) GetByTypeAndScope(_ context.Context, t limits.LimitType, scope limits.Scope) (*limits.Limit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.limits[storageKey(t, scope)]
	if !ok {
		return nil, errors.ErrLimitNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *MemoryRepository) ListByScope(_ context.Context, scope limits.Scope) ([]*limits.Limit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*limits.Limit
	for _, stored := range r.limits {
		if stored.Scope == scope {
			copied := *stored
			out = append(out, &copied)
		}
	}
	return out, nil
}

// Update commits the limit only if its version still matches the stored
// one, then bumps the version. This is the CAS the tracker retries on.
func (r *MemoryRepository) Update(_ context.Context, limit *limits.Limit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := storageKey(limit.Type, limit.Scope)
	stored, ok := r.limits[key]
	if !ok {
		return errors.ErrLimitNotFound
	}
	if stored.Version != limit.Version {
		return errors.ErrLimitUpdateConflict
	}

	limit.Version++
	committed := *limit
	r.limits[key] = &committed
	return nil
}
