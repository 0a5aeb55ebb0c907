package app

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/handlers"
	"github.com/joshuarp/inference-api/internal/repository"
	"github.com/joshuarp/inference-api/internal/services"
	"github.com/joshuarp/inference-api/internal/shared/cache"
	sharedconfig "github.com/joshuarp/inference-api/internal/shared/config"
	sharedidempotency "github.com/joshuarp/inference-api/internal/shared/idempotency"
	sharedkv "github.com/joshuarp/inference-api/internal/shared/kv"
	"github.com/joshuarp/inference-api/internal/shared/lock"
	sharedratelimit "github.com/joshuarp/inference-api/internal/shared/ratelimit"
)

func InferenceModule() fx.Option {
	return fx.Module("inference",
		fx.Provide(
			provideCacheEngine,
			provideStampedeMutex,
			fx.Annotate(
				provideInferenceRateLimiter,
				fx.ResultTags(`name:"inference_rate_limiter"`),
			),
			provideIdempotencyLedger,
			provideOrchestrator,
			handlers.NewOCRHandler,
			handlers.NewObjectDetectionHandler,
			handlers.NewSceneCaptionHandler,
			handlers.NewMultimodalHandler,
		),
		fx.Invoke(registerInferenceRoutes),
	)
}

func provideCacheEngine(cfg sharedconfig.ConfigProvider, store sharedkv.Store, logger *slog.Logger) *cache.Engine {
	return cache.NewEngine(store, cache.Config{
		TTLs:       cacheTTLs(cfg),
		DefaultTTL: 30 * time.Minute,
	}, logger)
}

func provideStampedeMutex(store sharedkv.Store, logger *slog.Logger) *lock.Mutex {
	return lock.NewMutex(store, logger)
}

func provideIdempotencyLedger(store sharedkv.Store) sharedidempotency.Ledger {
	return sharedidempotency.NewKVLedger(store)
}

type orchestratorIn struct {
	fx.In

	Cache   *cache.Engine
	Mutex   *lock.Mutex
	Limiter sharedratelimit.Limiter `name:"inference_rate_limiter"`
	Ledger  sharedidempotency.Ledger
	Config  sharedconfig.ConfigProvider
	Logger  *slog.Logger

	HistoryDB *sqlx.DB `name:"db_history" optional:"true"`
}

func provideOrchestrator(in orchestratorIn) handlers.InferenceOrchestrator {
	lockTTL := in.Config.GetDuration("lock.ttl")
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	backoff := in.Config.GetDuration("lock.backoff")
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	opts := make([]services.OrchestratorOption, 0, 1)
	if in.HistoryDB != nil {
		opts = append(opts, services.WithHistoryRecorder(repository.NewInferenceHistoryRepository(in.HistoryDB)))
	}

	return services.NewOrchestrator(in.Cache, in.Mutex, in.Limiter, in.Ledger, services.OrchestratorConfig{
		LockTTL:           lockTTL,
		ContentionBackoff: backoff,
	}, in.Logger, opts...)
}

// cacheTTLs reads the per-kind cache lifetimes. OCR, detection, and caption
// results share a half-hour default; multimodal answers are costlier to
// recompute and keep for an hour.
func cacheTTLs(cfg sharedconfig.ConfigProvider) map[domain.Kind]time.Duration {
	defaults := map[domain.Kind]time.Duration{
		domain.KindOCR:             30 * time.Minute,
		domain.KindObjectDetection: 30 * time.Minute,
		domain.KindSceneCaption:    30 * time.Minute,
		domain.KindMultimodalLLM:   time.Hour,
	}

	ttls := make(map[domain.Kind]time.Duration, len(defaults))
	for kind, fallback := range defaults {
		ttls[kind] = fallback
		if value := cfg.GetDuration("cache.ttl." + string(kind)); value > 0 {
			ttls[kind] = value
		}
	}

	return ttls
}

func inferenceTimeouts(cfg sharedconfig.ConfigProvider) map[domain.Kind]time.Duration {
	defaults := map[domain.Kind]time.Duration{
		domain.KindOCR:             8 * time.Second,
		domain.KindObjectDetection: 10 * time.Second,
		domain.KindSceneCaption:    15 * time.Second,
		domain.KindMultimodalLLM:   30 * time.Second,
	}

	timeouts := make(map[domain.Kind]time.Duration, len(defaults))
	for kind, fallback := range defaults {
		timeouts[kind] = fallback
		if value := cfg.GetDuration("inference.timeout." + string(kind)); value > 0 {
			timeouts[kind] = value
		}
	}

	return timeouts
}
