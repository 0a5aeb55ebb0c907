package kv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	value     []byte
	hash      map[string]string
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store for tests and single-node development.
// Expiry is evaluated lazily on access, so TTL semantics match the Redis
// backend without a background sweeper.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty in-process Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// live returns the entry for key if present and not expired, pruning it
// otherwise. Callers must hold s.mu.
func (s *MemoryStore) live(key string, now time.Time) (*memoryEntry, bool) {
	entry, exists := s.entries[key]
	if !exists {
		return nil, false
	}
	if entry.expired(now) {
		delete(s.entries, key)
		return nil, false
	}
	return entry, true
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.live(key, time.Now())
	if !exists || entry.value == nil {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (s *MemoryStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.live(key, time.Now()); exists {
		return false, nil
	}

	entry := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = entry
	return true, nil
}

func (s *MemoryStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := make(map[string]string)
	entry, exists := s.live(key, time.Now())
	if !exists {
		return fields, nil
	}
	for field, value := range entry.hash {
		fields[field] = value
	}
	return fields, nil
}

func (s *MemoryStore) HashSetFields(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.live(key, time.Now())
	if !exists {
		entry = &memoryEntry{hash: make(map[string]string)}
		s.entries[key] = entry
	}
	if entry.hash == nil {
		entry.hash = make(map[string]string)
	}
	for field, value := range fields {
		entry.hash[field] = value
	}
	return nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.live(key, time.Now())
	if !exists {
		return nil
	}
	entry.expiresAt = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) TTLRemaining(ctx context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, exists := s.live(key, now)
	if !exists || entry.expiresAt.IsZero() {
		return 0, false, nil
	}
	return entry.expiresAt.Sub(now), true, nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.live(key, time.Now())
	if !exists {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}

	current := int64(0)
	if len(entry.value) > 0 {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: value at %q is not an integer: %w", key, err)
		}
		current = parsed
	}

	current += amount
	entry.value = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*memoryEntry)
	return nil
}
