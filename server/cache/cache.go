package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache holds the most recent frame result for readers that
// must not wait on the frame pipeline.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}) error

	// Get copies the cached value into dest, which must be a pointer to the
	// stored type.
	Get(ctx context.Context, key string, dest interface{}) error

	Delete(ctx context.Context, key string) error

	// SetWithTTL stores value for ttl. A ttl of zero or less never expires.
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	GetStats(ctx context.Context) (*CacheStats, error)

	Close() error
}

type CacheStats struct {
	Connected bool   `json:"connected"`
	Info      string `json:"info"`
}
