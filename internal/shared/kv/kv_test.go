package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryStoreSuite struct {
	suite.Suite

	store *MemoryStore
	ctx   context.Context
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) TestGetSetRoundTrip() {
	_, found, err := s.store.Get(s.ctx, "missing")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)

	require.NoError(s.T(), s.store.SetWithTTL(s.ctx, "k", []byte("v"), time.Minute))

	value, found, err := s.store.Get(s.ctx, "k")
	require.NoError(s.T(), err)
	require.True(s.T(), found)
	assert.Equal(s.T(), []byte("v"), value)
}

func (s *MemoryStoreSuite) TestSetIfAbsentIsAtomicPerKey() {
	created, err := s.store.SetIfAbsentWithTTL(s.ctx, "lock", []byte("1"), time.Minute)
	require.NoError(s.T(), err)
	assert.True(s.T(), created)

	created, err = s.store.SetIfAbsentWithTTL(s.ctx, "lock", []byte("1"), time.Minute)
	require.NoError(s.T(), err)
	assert.False(s.T(), created)

	require.NoError(s.T(), s.store.Delete(s.ctx, "lock"))

	created, err = s.store.SetIfAbsentWithTTL(s.ctx, "lock", []byte("1"), time.Minute)
	require.NoError(s.T(), err)
	assert.True(s.T(), created)
}

func (s *MemoryStoreSuite) TestExpiryTreatsKeyAsAbsent() {
	require.NoError(s.T(), s.store.SetWithTTL(s.ctx, "short", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, found, err := s.store.Get(s.ctx, "short")
	require.NoError(s.T(), err)
	assert.False(s.T(), found)

	created, err := s.store.SetIfAbsentWithTTL(s.ctx, "short", []byte("v2"), time.Minute)
	require.NoError(s.T(), err)
	assert.True(s.T(), created, "expired key must be reclaimable")
}

func (s *MemoryStoreSuite) TestHashFieldsRoundTrip() {
	fields, err := s.store.HashGetAll(s.ctx, "h")
	require.NoError(s.T(), err)
	assert.Empty(s.T(), fields)

	require.NoError(s.T(), s.store.HashSetFields(s.ctx, "h", map[string]string{"a": "1", "b": "2"}))
	require.NoError(s.T(), s.store.HashSetFields(s.ctx, "h", map[string]string{"b": "3"}))

	fields, err = s.store.HashGetAll(s.ctx, "h")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), map[string]string{"a": "1", "b": "3"}, fields)
}

func (s *MemoryStoreSuite) TestTTLRemaining() {
	_, ok, err := s.store.TTLRemaining(s.ctx, "missing")
	require.NoError(s.T(), err)
	assert.False(s.T(), ok)

	require.NoError(s.T(), s.store.SetWithTTL(s.ctx, "k", []byte("v"), 0))
	_, ok, err = s.store.TTLRemaining(s.ctx, "k")
	require.NoError(s.T(), err)
	assert.False(s.T(), ok, "key without expiry reports no TTL")

	require.NoError(s.T(), s.store.Expire(s.ctx, "k", time.Minute))
	ttl, ok, err := s.store.TTLRemaining(s.ctx, "k")
	require.NoError(s.T(), err)
	require.True(s.T(), ok)
	assert.Greater(s.T(), ttl, time.Duration(0))
	assert.LessOrEqual(s.T(), ttl, time.Minute)
}

func (s *MemoryStoreSuite) TestIncrementCountsFromZero() {
	count, err := s.store.Increment(s.ctx, "counter", 1)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), count)

	count, err = s.store.Increment(s.ctx, "counter", 2)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), count)

	require.NoError(s.T(), s.store.SetWithTTL(s.ctx, "junk", []byte("not-a-number"), time.Minute))
	_, err = s.store.Increment(s.ctx, "junk", 1)
	require.Error(s.T(), err)
	assert.ErrorContains(s.T(), err, "not an integer")
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func TestNew_TableDriven(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		assertion func(*testing.T, Store, error)
	}{
		{
			name: "memory strategy",
			opts: Options{Strategy: StrategyMemory},
			assertion: func(t *testing.T, store Store, err error) {
				require.NoError(t, err)
				assert.IsType(t, &MemoryStore{}, store)
			},
		},
		{
			name: "redis strategy requires address",
			opts: Options{Strategy: StrategyRedis},
			assertion: func(t *testing.T, store Store, err error) {
				require.Error(t, err)
				assert.ErrorContains(t, err, "redis address is required")
			},
		},
		{
			name: "unknown strategy",
			opts: Options{Strategy: "etcd"},
			assertion: func(t *testing.T, store Store, err error) {
				require.Error(t, err)
				assert.ErrorContains(t, err, "unknown strategy")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := New(tc.opts)
			tc.assertion(t, store, err)
		})
	}
}
