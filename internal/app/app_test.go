package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/joshuarp/inference-api/internal/domain"
	sharedjwt "github.com/joshuarp/inference-api/internal/shared/jwt"
	sharedkv "github.com/joshuarp/inference-api/internal/shared/kv"
)

// stubConfig is a map-backed ConfigProvider for provider helper tests.
type stubConfig struct {
	strings   map[string]string
	ints      map[string]int
	bools     map[string]bool
	durations map[string]time.Duration
}

func newStubConfig() *stubConfig {
	return &stubConfig{
		strings:   map[string]string{},
		ints:      map[string]int{},
		bools:     map[string]bool{},
		durations: map[string]time.Duration{},
	}
}

func (c *stubConfig) GetString(key string) string          { return c.strings[key] }
func (c *stubConfig) GetInt(key string) int                { return c.ints[key] }
func (c *stubConfig) GetBool(key string) bool              { return c.bools[key] }
func (c *stubConfig) GetDuration(key string) time.Duration { return c.durations[key] }
func (c *stubConfig) GetFloat64(string) float64            { return 0 }
func (c *stubConfig) GetStringSlice(string) []string       { return nil }
func (c *stubConfig) GetStringMap(string) map[string]any   { return nil }
func (c *stubConfig) AllSettings() map[string]any          { return nil }
func (c *stubConfig) WatchChanges()                        {}
func (c *stubConfig) OnChange(func())                      {}
func (c *stubConfig) StopWatching()                        {}
func (c *stubConfig) Source() string                       { return "test" }

func (c *stubConfig) IsSet(key string) bool {
	if _, ok := c.strings[key]; ok {
		return true
	}
	if _, ok := c.ints[key]; ok {
		return true
	}
	if _, ok := c.bools[key]; ok {
		return true
	}
	_, ok := c.durations[key]
	return ok
}

type AppHelpersSuite struct {
	suite.Suite

	cfg *stubConfig
}

func (s *AppHelpersSuite) SetupTest() {
	s.cfg = newStubConfig()
}

func (s *AppHelpersSuite) TestDBString_TableDriven() {
	tests := []struct {
		name   string
		setup  func()
		expect string
	}{
		{
			name: "prefer yaml key",
			setup: func() {
				s.cfg.strings["database.host"] = "pg-host"
				s.cfg.strings["DATABASE_HOST"] = "pg-env-host"
			},
			expect: "pg-host",
		},
		{
			name: "fallback to env key",
			setup: func() {
				s.cfg.strings["DATABASE_HOST"] = "pg-env-host"
			},
			expect: "pg-env-host",
		},
		{
			name:   "missing everywhere yields empty",
			setup:  func() {},
			expect: "",
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.SetupTest()
			tc.setup()

			assert.Equal(s.T(), tc.expect, dbString(s.cfg, "host"))
		})
	}
}

func (s *AppHelpersSuite) TestDBInt_TableDriven() {
	tests := []struct {
		name   string
		setup  func()
		expect int
	}{
		{
			name: "prefer yaml int",
			setup: func() {
				s.cfg.ints["database.port"] = 5433
				s.cfg.ints["DATABASE_PORT"] = 5432
			},
			expect: 5433,
		},
		{
			name: "fallback to env int",
			setup: func() {
				s.cfg.ints["DATABASE_PORT"] = 5432
			},
			expect: 5432,
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.SetupTest()
			tc.setup()

			assert.Equal(s.T(), tc.expect, dbInt(s.cfg, "port"))
		})
	}
}

func (s *AppHelpersSuite) TestDBEnvKey() {
	assert.Equal(s.T(), "DATABASE_HOST", dbEnvKey("host"))
	assert.Equal(s.T(), "DATABASE_SSL_MODE", dbEnvKey("ssl_mode"))
}

func (s *AppHelpersSuite) TestProvideFiberApp_TableDriven() {
	tests := []struct {
		name       string
		readValue  time.Duration
		writeValue time.Duration
	}{
		{name: "defaults when config missing", readValue: 0, writeValue: 0},
		{name: "uses configured timeouts", readValue: 10 * time.Second, writeValue: 12 * time.Second},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.cfg.durations["server.read_timeout"] = tc.readValue
			s.cfg.durations["server.write_timeout"] = tc.writeValue

			fiberApp := provideFiberApp(s.cfg)
			assert.NotNil(s.T(), fiberApp)
		})
	}
}

func (s *AppHelpersSuite) TestProvideJWTTokenManager_TableDriven() {
	tests := []struct {
		name  string
		setup func()
	}{
		{
			name: "uses security jwt secret",
			setup: func() {
				s.cfg.strings["security.jwt.secret"] = "12345678901234567890123456789012"
				s.cfg.durations["security.jwt.ttl"] = 15 * time.Minute
				s.cfg.strings["security.jwt.issuer"] = "inference-api"
			},
		},
		{
			name: "pads short legacy secret and defaults ttl",
			setup: func() {
				s.cfg.strings["jwt.secret"] = "legacy"
			},
		},
		{
			name:  "falls back to placeholder secret when unset",
			setup: func() {},
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.SetupTest()
			tc.setup()

			manager, err := provideJWTTokenManager(s.cfg)
			require.NoError(s.T(), err)
			require.NotNil(s.T(), manager)

			token, err := manager.Sign(context.Background(), sharedjwt.Claims{Subject: "user-1"})
			require.NoError(s.T(), err)

			claims, err := manager.Verify(context.Background(), token)
			require.NoError(s.T(), err)
			assert.Equal(s.T(), "user-1", claims.Subject)
		})
	}
}

func (s *AppHelpersSuite) TestProvideKVStore_MemoryStrategy() {
	s.cfg.strings["kv.strategy"] = string(sharedkv.StrategyMemory)

	store, err := provideKVStore(s.cfg)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), store)
	s.T().Cleanup(func() { store.Close() })
}

func (s *AppHelpersSuite) TestCacheTTLs_TableDriven() {
	tests := []struct {
		name   string
		setup  func()
		kind   domain.Kind
		expect time.Duration
	}{
		{
			name:   "ocr default",
			setup:  func() {},
			kind:   domain.KindOCR,
			expect: 30 * time.Minute,
		},
		{
			name:   "multimodal default is longer",
			setup:  func() {},
			kind:   domain.KindMultimodalLLM,
			expect: time.Hour,
		},
		{
			name: "configured value wins",
			setup: func() {
				s.cfg.durations["cache.ttl.ocr"] = 5 * time.Minute
			},
			kind:   domain.KindOCR,
			expect: 5 * time.Minute,
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.SetupTest()
			tc.setup()

			ttls := cacheTTLs(s.cfg)
			assert.Equal(s.T(), tc.expect, ttls[tc.kind])
		})
	}
}

func (s *AppHelpersSuite) TestInferenceTimeouts_TableDriven() {
	tests := []struct {
		name   string
		setup  func()
		kind   domain.Kind
		expect time.Duration
	}{
		{
			name:   "detection default",
			setup:  func() {},
			kind:   domain.KindObjectDetection,
			expect: 10 * time.Second,
		},
		{
			name: "configured value wins",
			setup: func() {
				s.cfg.durations["inference.timeout.multimodal_llm"] = time.Minute
			},
			kind:   domain.KindMultimodalLLM,
			expect: time.Minute,
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.SetupTest()
			tc.setup()

			timeouts := inferenceTimeouts(s.cfg)
			assert.Equal(s.T(), tc.expect, timeouts[tc.kind])
		})
	}
}

func (s *AppHelpersSuite) TestProvideHistoryPostgresSQLX_DisabledReturnsNil() {
	db, err := provideHistoryPostgresSQLX(s.cfg)
	require.NoError(s.T(), err)
	assert.Nil(s.T(), db)
}

func TestAppHelpersSuite(t *testing.T) {
	suite.Run(t, new(AppHelpersSuite))
}
