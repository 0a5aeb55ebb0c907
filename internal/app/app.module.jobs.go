package app

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/joshuarp/inference-api/internal/handlers"
	"github.com/joshuarp/inference-api/internal/inference"
	"github.com/joshuarp/inference-api/internal/services"
	sharedconfig "github.com/joshuarp/inference-api/internal/shared/config"
	sharedkv "github.com/joshuarp/inference-api/internal/shared/kv"
	shareduid "github.com/joshuarp/inference-api/internal/shared/uid"
)

func JobsModule() fx.Option {
	return fx.Module("jobs",
		fx.Provide(
			provideJobService,
			provideDispatcher,
			fx.Annotate(
				provideJobsRateLimiter,
				fx.ResultTags(`name:"jobs_rate_limiter"`),
			),
			handlers.NewAsyncJobHandler,
		),
		fx.Invoke(registerJobRoutes),
	)
}

func provideJobService(cfg sharedconfig.ConfigProvider, store sharedkv.Store, uid shareduid.UIDGenerator, logger *slog.Logger) *services.JobService {
	pendingBuffer := cfg.GetDuration("jobs.pending_buffer")
	if pendingBuffer <= 0 {
		pendingBuffer = 5 * time.Minute
	}

	terminalRetention := cfg.GetDuration("jobs.terminal_retention")
	if terminalRetention <= 0 {
		terminalRetention = time.Hour
	}

	return services.NewJobService(store, uid, services.JobConfig{
		PendingBuffer:     pendingBuffer,
		TerminalRetention: terminalRetention,
	}, logger)
}

// provideDispatcher starts the worker pool immediately and ties its drain to
// the fx shutdown hook, so in-flight jobs finish before the process exits.
func provideDispatcher(
	lifecycle fx.Lifecycle,
	cfg sharedconfig.ConfigProvider,
	service *services.JobService,
	registry *inference.Registry,
	logger *slog.Logger,
) *services.Dispatcher {
	dispatcher := services.NewDispatcher(service, registry, services.DispatcherConfig{
		Workers:   cfg.GetInt("jobs.workers"),
		QueueSize: cfg.GetInt("jobs.queue_size"),
	}, logger)

	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return dispatcher.Stop(ctx)
		},
	})

	return dispatcher
}
