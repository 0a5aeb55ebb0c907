// Package lock provides a TTL-bounded distributed mutex over the shared
// store, used to serialize expensive inference per fingerprint. The TTL
// trades perfect mutual exclusion for deadlock-freedom: a crashed holder
// self-heals once the TTL elapses, at the cost of at most one redundant
// concurrent execution per TTL window.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/joshuarp/inference-api/internal/shared/kv"
)

const lockValue = "1"

// Mutex acquires and releases exclusive, TTL-bounded locks.
type Mutex struct {
	store  kv.Store
	logger *slog.Logger
}

// NewMutex creates a Mutex over the given store.
func NewMutex(store kv.Store, logger *slog.Logger) *Mutex {
	return &Mutex{store: store, logger: logger}
}

// Acquire attempts to take the lock at key for at most ttl. It returns true
// iff this caller became the holder. Acquisition is a single atomic
// check-and-set; ttl must exceed the worst-case duration of the protected
// operation, since an expired lock admits a second holder.
func (m *Mutex) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.store.SetIfAbsentWithTTL(ctx, key, []byte(lockValue), ttl)
}

// Release deletes the lock at key. Best effort: a failed delete only delays
// reclaiming the key until its TTL elapses, so the error is logged and
// swallowed rather than surfaced to the caller.
func (m *Mutex) Release(ctx context.Context, key string) {
	if err := m.store.Delete(ctx, key); err != nil {
		if m.logger != nil {
			m.logger.Warn("lock release failed, waiting for TTL expiry", "key", key, "error", err)
		}
	}
}
