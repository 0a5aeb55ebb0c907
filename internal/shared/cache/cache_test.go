package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/shared/kv"
)

func TestFingerprint_TableDriven(t *testing.T) {
	tests := []struct {
		name   string
		first  func() string
		second func() string
		equal  bool
	}{
		{
			name:   "same kind and params are deterministic",
			first:  func() string { return Fingerprint(domain.KindOCR, "https://x/a.png") },
			second: func() string { return Fingerprint(domain.KindOCR, "https://x/a.png") },
			equal:  true,
		},
		{
			name:   "changed parameter changes the fingerprint",
			first:  func() string { return Fingerprint(domain.KindObjectDetection, "https://x/a.png", "0.25") },
			second: func() string { return Fingerprint(domain.KindObjectDetection, "https://x/a.png", "0.5") },
			equal:  false,
		},
		{
			name:   "kind participates in the fingerprint",
			first:  func() string { return Fingerprint(domain.KindOCR, "https://x/a.png") },
			second: func() string { return Fingerprint(domain.KindSceneCaption, "https://x/a.png") },
			equal:  false,
		},
		{
			name:   "param boundaries cannot collide by concatenation",
			first:  func() string { return Fingerprint(domain.KindOCR, "ab", "c") },
			second: func() string { return Fingerprint(domain.KindOCR, "a", "bc") },
			equal:  false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.equal {
				assert.Equal(t, tc.first(), tc.second())
			} else {
				assert.NotEqual(t, tc.first(), tc.second())
			}
		})
	}
}

func TestKeyNamespaces(t *testing.T) {
	cacheKey := Key(domain.KindOCR, "https://x/a.png")
	lockKey := LockKey(domain.KindOCR, "https://x/a.png")

	assert.NotEqual(t, cacheKey, lockKey)
	assert.Contains(t, cacheKey, "cache:ocr:")
	assert.Contains(t, lockKey, "lock:ocr:")
}

type EngineSuite struct {
	suite.Suite

	store  *kv.MemoryStore
	engine *Engine
	ctx    context.Context
}

func (s *EngineSuite) SetupTest() {
	s.store = kv.NewMemoryStore()
	s.engine = NewEngine(s.store, Config{
		TTLs: map[domain.Kind]time.Duration{
			domain.KindOCR:           30 * time.Minute,
			domain.KindMultimodalLLM: time.Hour,
		},
		DefaultTTL: 30 * time.Minute,
	}, nil)
	s.ctx = context.Background()
}

func (s *EngineSuite) TestPutThenGetReturnsJustWrittenPayload() {
	payload := []byte(`{"text":"placeholder text","confidence":0.42}`)

	assigned, err := s.engine.Put(s.ctx, domain.KindOCR, payload, "https://x/a.png")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 30*time.Minute, assigned)

	entry, hit, err := s.engine.Get(s.ctx, domain.KindOCR, "https://x/a.png")
	require.NoError(s.T(), err)
	require.True(s.T(), hit)
	assert.Equal(s.T(), payload, entry.Payload)
	assert.Greater(s.T(), entry.TTL, time.Duration(0))
	assert.LessOrEqual(s.T(), entry.TTL, assigned)
}

func (s *EngineSuite) TestMissOnUnknownFingerprint() {
	_, hit, err := s.engine.Get(s.ctx, domain.KindOCR, "https://x/never-seen.png")
	require.NoError(s.T(), err)
	assert.False(s.T(), hit)
}

func (s *EngineSuite) TestParameterVariantsDoNotCrossContaminate() {
	_, err := s.engine.Put(s.ctx, domain.KindObjectDetection, []byte(`{"total_objects":1}`), "https://x/a.png", "0.25")
	require.NoError(s.T(), err)

	_, hit, err := s.engine.Get(s.ctx, domain.KindObjectDetection, "https://x/a.png", "0.5")
	require.NoError(s.T(), err)
	assert.False(s.T(), hit)
}

func (s *EngineSuite) TestPerKindTTL() {
	assert.Equal(s.T(), time.Hour, s.engine.TTLFor(domain.KindMultimodalLLM))
	assert.Equal(s.T(), 30*time.Minute, s.engine.TTLFor(domain.KindSceneCaption), "unconfigured kind falls back to default")
}

func (s *EngineSuite) TestOverwriteReplacesWholePayload() {
	_, err := s.engine.Put(s.ctx, domain.KindOCR, []byte(`{"text":"first"}`), "https://x/a.png")
	require.NoError(s.T(), err)
	_, err = s.engine.Put(s.ctx, domain.KindOCR, []byte(`{"text":"second"}`), "https://x/a.png")
	require.NoError(s.T(), err)

	entry, hit, err := s.engine.Get(s.ctx, domain.KindOCR, "https://x/a.png")
	require.NoError(s.T(), err)
	require.True(s.T(), hit)
	assert.Equal(s.T(), []byte(`{"text":"second"}`), entry.Payload)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
