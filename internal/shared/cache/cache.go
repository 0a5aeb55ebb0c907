// Package cache implements the fingerprint-keyed cache-aside layer in front
// of inference runs. Fingerprints are content-derived and stable across
// process restarts; cache and lock keys share the fingerprint but live under
// distinct prefixes so they can never collide.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/shared/kv"
)

const (
	cacheKeyPrefix = "cache"
	lockKeyPrefix  = "lock"

	payloadField = "payload"
)

// Fingerprint derives the deterministic identifier for a cacheable request:
// a SHA-256 digest over the kind and every parameter that affects the
// inference output. Parameters are newline-delimited so that no two distinct
// tuples can collide by concatenation.
func Fingerprint(kind domain.Kind, params ...string) string {
	hasher := sha256.New()
	hasher.Write([]byte(kind))
	for _, param := range params {
		hasher.Write([]byte("\n"))
		hasher.Write([]byte(param))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Key returns the cache entry key for a request.
func Key(kind domain.Kind, params ...string) string {
	return fmt.Sprintf("%s:%s:%s", cacheKeyPrefix, kind, Fingerprint(kind, params...))
}

// LockKey returns the stampede-lock key for a request.
func LockKey(kind domain.Kind, params ...string) string {
	return fmt.Sprintf("%s:%s:%s", lockKeyPrefix, kind, Fingerprint(kind, params...))
}

// Entry is a cached result together with its remaining lifetime.
type Entry struct {
	Payload []byte
	TTL     time.Duration
}

// Config holds the per-kind TTLs. Zero entries fall back to DefaultTTL.
type Config struct {
	TTLs       map[domain.Kind]time.Duration
	DefaultTTL time.Duration
}

const fallbackTTL = 30 * time.Minute

// Engine reads and writes cache entries through the shared store.
type Engine struct {
	store  kv.Store
	config Config
	logger *slog.Logger
}

// NewEngine creates a cache engine over the given store.
func NewEngine(store kv.Store, config Config, logger *slog.Logger) *Engine {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = fallbackTTL
	}
	return &Engine{store: store, config: config, logger: logger}
}

// TTLFor returns the configured TTL for a kind.
func (e *Engine) TTLFor(kind domain.Kind) time.Duration {
	if ttl, ok := e.config.TTLs[kind]; ok && ttl > 0 {
		return ttl
	}
	return e.config.DefaultTTL
}

// Get returns the cached entry for (kind, params) with its remaining TTL.
// Store read failures degrade to a miss: when the store is unhealthy the
// system stays available at the cost of redundant inference.
func (e *Engine) Get(ctx context.Context, kind domain.Kind, params ...string) (Entry, bool, error) {
	key := Key(kind, params...)

	fields, err := e.store.HashGetAll(ctx, key)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		return Entry{}, false, nil
	}

	payload, exists := fields[payloadField]
	if !exists {
		return Entry{}, false, nil
	}

	ttl, ok, err := e.store.TTLRemaining(ctx, key)
	if err != nil || !ok {
		ttl = 0
	}

	return Entry{Payload: []byte(payload), TTL: ttl}, true, nil
}

// Put stores a fresh result under the request fingerprint and returns the
// TTL it assigned. The entry is written with a single field-set call so a
// reader can never observe a partially-written payload.
func (e *Engine) Put(ctx context.Context, kind domain.Kind, payload []byte, params ...string) (time.Duration, error) {
	key := Key(kind, params...)
	ttl := e.TTLFor(kind)

	if err := e.store.HashSetFields(ctx, key, map[string]string{payloadField: string(payload)}); err != nil {
		return 0, fmt.Errorf("cache: write for kind %q failed: %w", kind, err)
	}

	if err := e.store.Expire(ctx, key, ttl); err != nil {
		return 0, fmt.Errorf("cache: expire for kind %q failed: %w", kind, err)
	}

	return ttl, nil
}

// NormalizeParam trims a request parameter before it joins the fingerprint
// tuple, so incidental whitespace cannot fork cache entries.
func NormalizeParam(value string) string {
	return strings.TrimSpace(value)
}
