package cache

import (
	"context"
	"time"
)

// Cache provides a generic caching interface with TTL and atomic
// operations.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// SetNX sets a value only if the key doesn't exist (atomic)
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Increment atomically increments a numeric value
	Increment(ctx context.Context, key string) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error

	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Close() error
}

// Key prefixes for consistent cache key naming
const (
	HistoryPrefix = "riskengine:history:"
	SessionPrefix = "riskengine:session:"
	MetricsPrefix = "riskengine:metrics:"
)

// Common TTL values
const (
	DefaultTTL    = time.Hour
	HistoryTTL    = 15 * time.Minute
	SessionTTL    = 24 * time.Hour
	ShortCacheTTL = 30 * time.Second
)

// ErrCacheKeyNotFound is returned when a cache key doesn't exist
type ErrCacheKeyNotFound struct {
	Key string
}

func (e ErrCacheKeyNotFound) Error() string {
	return "cache key not found: " + e.Key
}

// IsMiss reports whether err is a cache miss rather than a transport
// failure.
func IsMiss(err error) bool {
	_, ok := err.(ErrCacheKeyNotFound)
	return ok
}
