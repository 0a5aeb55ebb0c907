package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sharedconfig "github.com/joshuarp/inference-api/internal/shared/config"
	sharedkv "github.com/joshuarp/inference-api/internal/shared/kv"
	sharedratelimit "github.com/joshuarp/inference-api/internal/shared/ratelimit"
)

// provideKVStore builds the single store every coordination component
// shares. Redis is the production backend; the memory strategy exists for
// local development without infrastructure.
func provideKVStore(cfg sharedconfig.ConfigProvider) (sharedkv.Store, error) {
	strategy := sharedkv.Strategy(strings.TrimSpace(strings.ToLower(cfg.GetString("kv.strategy"))))
	if strategy == "" {
		strategy = sharedkv.StrategyRedis
	}

	host := strings.TrimSpace(cfg.GetString("redis.host"))
	if host == "" {
		host = "localhost"
	}
	port := cfg.GetInt("redis.port")
	if port == 0 {
		port = 6379
	}

	store, err := sharedkv.New(sharedkv.Options{
		Strategy: strategy,
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: cfg.GetString("redis.password"),
		DB:       cfg.GetInt("redis.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("app: failed to init kv store: %w", err)
	}

	return store, nil
}

func provideInferenceRateLimiter(cfg sharedconfig.ConfigProvider, store sharedkv.Store, logger *slog.Logger) (sharedratelimit.Limiter, error) {
	limit := cfg.GetInt("rate_limit.limit")
	if limit <= 0 {
		limit = 30
	}

	window := cfg.GetDuration("rate_limit.window")
	if window <= 0 {
		window = time.Minute
	}

	limiterStore := sharedratelimit.NewKVStore(store, sharedratelimit.WithLogger(logger))

	return sharedratelimit.New(limiterStore, sharedratelimit.Config{
		Limit:  int64(limit),
		Window: window,
		OnLimited: func(_ context.Context, key string, result sharedratelimit.Result) {
			if logger != nil {
				logger.Warn("rate limit exceeded", "scope", "inference", "key", key, "limit", result.Limit)
			}
		},
	})
}

func provideJobsRateLimiter(cfg sharedconfig.ConfigProvider, store sharedkv.Store, logger *slog.Logger) (sharedratelimit.Limiter, error) {
	limit := cfg.GetInt("rate_limit.jobs.limit")
	if limit <= 0 {
		limit = 60
	}

	window := cfg.GetDuration("rate_limit.jobs.window")
	if window <= 0 {
		window = time.Minute
	}

	limiterStore := sharedratelimit.NewKVStore(store,
		sharedratelimit.WithPrefix("rate:jobs"),
		sharedratelimit.WithLogger(logger),
	)

	return sharedratelimit.New(limiterStore, sharedratelimit.Config{
		Limit:  int64(limit),
		Window: window,
		OnLimited: func(_ context.Context, key string, result sharedratelimit.Result) {
			if logger != nil {
				logger.Warn("rate limit exceeded", "scope", "jobs", "key", key, "limit", result.Limit)
			}
		},
	})
}
