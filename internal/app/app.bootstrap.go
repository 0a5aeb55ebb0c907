package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/fx"

	"github.com/joshuarp/inference-api/internal/inference"
	sharedconfig "github.com/joshuarp/inference-api/internal/shared/config"
	sharedjwt "github.com/joshuarp/inference-api/internal/shared/jwt"
	sharedlog "github.com/joshuarp/inference-api/internal/shared/log"
	shareduid "github.com/joshuarp/inference-api/internal/shared/uid"
)

type configBinIn struct {
	fx.In
	Bin string `name:"bin"`
}

func New(bin string, modules ...fx.Option) *fx.App {
	normalizedBin := strings.TrimSpace(strings.ToLower(bin))
	opts := []fx.Option{
		fx.Supply(
			fx.Annotate(
				normalizedBin,
				fx.ResultTags(`name:"bin"`),
			),
		),
		CoreModule(),
	}
	opts = append(opts, modules...)
	opts = append(opts, fx.Invoke(registerLifecycle))
	return fx.New(opts...)
}

func CoreModule() fx.Option {
	return fx.Module("core",
		fx.Provide(
			provideConfig,
			sharedlog.NewJSONLogger,
			provideKVStore,
			fx.Annotate(
				provideHistoryPostgresSQLX,
				fx.ResultTags(`name:"db_history"`),
			),
			provideFiberApp,
			provideJWTTokenManager,
			provideUIDGenerator,
			provideInferenceRegistry,
			provideRouterGroups,
		),
	)
}

func provideConfig(in configBinIn) (sharedconfig.ConfigProvider, error) {
	bin := strings.TrimSpace(strings.ToLower(in.Bin))

	loadOrder := make([]sharedconfig.Options, 0, 4)
	if bin == "api" || bin == "jobs" {
		loadOrder = append(loadOrder,
			sharedconfig.Options{
				YAMLPath: fmt.Sprintf("config.%s.yaml", bin),
				EnvPath:  fmt.Sprintf(".env.%s", bin),
			},
			sharedconfig.Options{
				YAMLPath: fmt.Sprintf("config.%s.yaml.example", bin),
				EnvPath:  fmt.Sprintf(".env.%s.example", bin),
			},
		)
	}

	loadOrder = append(loadOrder,
		sharedconfig.Options{
			YAMLPath: "config.yaml",
			EnvPath:  ".env",
		},
		sharedconfig.Options{
			YAMLPath: "config.yaml.example",
			EnvPath:  ".env.example",
		},
	)

	var lastErr error
	for _, opts := range loadOrder {
		provider, err := sharedconfig.Init(opts)
		if err == nil {
			return provider, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

func provideFiberApp(cfg sharedconfig.ConfigProvider) *fiber.App {
	readTimeout := cfg.GetDuration("server.read_timeout")
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}

	writeTimeout := cfg.GetDuration("server.write_timeout")
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}

	return fiber.New(fiber.Config{
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})
}

func provideJWTTokenManager(cfg sharedconfig.ConfigProvider) (sharedjwt.TokenManager, error) {
	secret := cfg.GetString("security.jwt.secret")
	if secret == "" {
		secret = cfg.GetString("jwt.secret")
	}
	if secret == "" {
		secret = "change-me-please-use-strong-secret-in-production"
	}

	if len(secret) < 32 {
		secret = secret + strings.Repeat("x", 32-len(secret))
	}

	ttl := cfg.GetDuration("security.jwt.ttl")
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	tokenManager, err := sharedjwt.New(sharedjwt.Options{
		Strategy:  sharedjwt.StrategyHMAC,
		Secret:    []byte(secret),
		Algorithm: "HS256",
		TTL:       ttl,
		Issuer:    cfg.GetString("security.jwt.issuer"),
	})
	if err != nil {
		return nil, fmt.Errorf("app: failed to init JWT manager: %w", err)
	}

	return tokenManager, nil
}

func provideUIDGenerator(cfg sharedconfig.ConfigProvider) (shareduid.UIDGenerator, error) {
	strategy := shareduid.Strategy(strings.TrimSpace(strings.ToLower(cfg.GetString("uid.strategy"))))
	if strategy == "" {
		strategy = shareduid.StrategyUUIDv7
	}

	return shareduid.New(shareduid.Options{
		Strategy: strategy,
		NodeID:   int64(cfg.GetInt("uid.node_id")),
	})
}

func provideInferenceRegistry(cfg sharedconfig.ConfigProvider) *inference.Registry {
	return inference.NewRegistry(inference.NewPlaceholderRunners(), inference.Config{
		Timeouts:       inferenceTimeouts(cfg),
		DefaultTimeout: 30 * time.Second,
	})
}
