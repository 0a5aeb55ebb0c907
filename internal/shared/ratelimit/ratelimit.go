// Package ratelimit provides fixed-window rate limiting per subject over a
// pluggable storage backend. Implementations are safe for concurrent use.
//
// Fixed-window semantics are deliberate: a burst straddling a window
// boundary can admit up to twice the nominal limit within a short interval.
// That is an accepted simplification, kept for behavioral compatibility;
// switching to sliding-window or token-bucket would be a behavior change.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// KeyExtractor extracts a rate limit key from context.
// Common use: subject, IP address, or a combination.
type KeyExtractor func(ctx context.Context) (string, error)

// Result contains the rate limit decision and metadata.
type Result struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Limit is the maximum requests per window.
	Limit int64

	// Remaining is the number of requests left in current window.
	Remaining int64

	// ResetAt is when the rate limit window resets.
	ResetAt time.Time

	// RetryAfter is the duration to wait before retrying (if not allowed).
	RetryAfter time.Duration
}

// Config configures the rate limiter.
type Config struct {
	// Limit is the maximum number of requests allowed per window.
	Limit int64

	// Window is the fixed time window for rate limiting.
	Window time.Duration

	// KeyExtractor extracts the rate limit key from context.
	// If nil, defaults to IP-based extraction.
	KeyExtractor KeyExtractor

	// OnLimited is called when rate limit is exceeded.
	// Can be used for custom logging or metrics.
	OnLimited func(ctx context.Context, key string, result Result)
}

// Store is the interface for rate limit storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Allow atomically counts a request against the key's current window
	// and returns the decision with metadata.
	Allow(ctx context.Context, key string, config Config) (Result, error)

	// Reset resets the rate limit for a specific key.
	Reset(ctx context.Context, key string) error
}

// Limiter is the main rate limiter interface.
type Limiter interface {
	// Allow checks if a request is allowed for the given context.
	// The key is extracted using the configured KeyExtractor.
	Allow(ctx context.Context) (Result, error)

	// AllowKey checks if a request is allowed for a specific key.
	// Useful for manual key management.
	AllowKey(ctx context.Context, key string) (Result, error)

	// ResetKey resets the rate limit for a specific key.
	ResetKey(ctx context.Context, key string) error
}

// limiter is the concrete implementation of Limiter.
type limiter struct {
	store  Store
	config Config
}

// New creates a new rate limiter with the provided store and configuration.
func New(store Store, config Config) (Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}

	if config.Limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive")
	}

	if config.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive")
	}

	if config.KeyExtractor == nil {
		config.KeyExtractor = DefaultKeyExtractor
	}

	return &limiter{
		store:  store,
		config: config,
	}, nil
}

func (l *limiter) Allow(ctx context.Context) (Result, error) {
	key, err := l.config.KeyExtractor(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: failed to extract key: %w", err)
	}
	return l.AllowKey(ctx, key)
}

func (l *limiter) AllowKey(ctx context.Context, key string) (Result, error) {
	result, err := l.store.Allow(ctx, key, l.config)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: store error: %w", err)
	}

	if !result.Allowed && l.config.OnLimited != nil {
		l.config.OnLimited(ctx, key, result)
	}

	return result, nil
}

func (l *limiter) ResetKey(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// DefaultKeyExtractor extracts IP address as the rate limit key.
// Override with custom KeyExtractor for subject-based limiting.
func DefaultKeyExtractor(ctx context.Context) (string, error) {
	if ip, ok := ctx.Value(contextKeyIP).(string); ok && ip != "" {
		return "ip:" + ip, nil
	}

	// Fallback to a default key (should not happen in production)
	return "default", nil
}

// SubjectKeyExtractor creates a KeyExtractor that uses the authenticated
// subject from context. Used where quota is per-subject, not per-host.
func SubjectKeyExtractor(prefix string) KeyExtractor {
	return func(ctx context.Context) (string, error) {
		if subject, ok := ctx.Value(contextKeySubject).(string); ok && subject != "" {
			if prefix != "" {
				return prefix + ":user:" + subject, nil
			}
			return "user:" + subject, nil
		}
		return "", fmt.Errorf("ratelimit: subject not found in context")
	}
}

// Context key types for type-safe context values.
type contextKey string

const (
	contextKeyIP      contextKey = "ratelimit:ip"
	contextKeySubject contextKey = "ratelimit:subject"
)

// WithIP adds IP address to context for rate limiting.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyIP, ip)
}

// WithSubject adds the authenticated subject to context for rate limiting.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, contextKeySubject, subject)
}

// GetIP retrieves IP from context.
func GetIP(ctx context.Context) string {
	if ip, ok := ctx.Value(contextKeyIP).(string); ok {
		return ip
	}
	return ""
}

// GetSubject retrieves the authenticated subject from context.
func GetSubject(ctx context.Context) string {
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}
