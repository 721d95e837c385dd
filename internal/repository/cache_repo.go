package repository

import (
	"context"
	"time"
)

// CacheRepository defines a key-value cache with expiry.
type CacheRepository interface {
	// Get returns the value at key. The boolean is false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value at key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching a glob pattern and returns the count.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	// Update performs a serialized read-modify-write of key. fn receives the current
	// value (nil when absent) and returns the new one.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(current []byte) ([]byte, error)) error
}
