// Package kv abstracts the shared key-value store that all coordination
// state (cache entries, locks, rate counters, idempotency records, jobs)
// lives in. Every operation is a single-key atomic network call; no
// multi-key transactions are offered or required.
package kv

import (
	"context"
	"fmt"
	"time"
)

// Strategy defines which storage backend to use.
type Strategy string

const (
	StrategyRedis  Strategy = "redis"
	StrategyMemory Strategy = "memory"
)

// Options configures the store constructor.
type Options struct {
	// Strategy selects the storage backend.
	Strategy Strategy

	// Addr is the backend address (Redis only), e.g. "localhost:6379".
	Addr string

	// Password is the backend password (Redis only).
	Password string

	// DB is the logical database index (Redis only).
	DB int
}

// Store is the interface consumers depend on for shared state.
// Implementations must be safe for concurrent use. Every method is
// individually atomic at the single-key level.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) when the key
	// is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// SetWithTTL stores value under key with the given TTL, overwriting any
	// existing value.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsentWithTTL atomically stores value only when the key does not
	// exist. Returns true iff this call created the key.
	SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// HashGetAll returns all fields of a hash key. An absent key yields an
	// empty map and no error.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// HashSetFields writes all given fields of a hash key in one call.
	HashSetFields(ctx context.Context, key string, fields map[string]string) error

	// Expire sets or refreshes the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTLRemaining returns the remaining TTL of key. ok is false when the
	// key is absent or has no expiry.
	TTLRemaining(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)

	// Increment atomically adds amount to the integer value at key,
	// creating it at zero first if absent, and returns the new value.
	Increment(ctx context.Context, key string, amount int64) (int64, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// New creates a Store based on the provided options.
// Returns an error if the strategy is unknown or configuration is invalid.
func New(opts Options) (Store, error) {
	switch opts.Strategy {
	case StrategyRedis:
		return NewRedisStore(opts)
	case StrategyMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("kv: unknown strategy %q", opts.Strategy)
	}
}
