package app

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/fx"

	"github.com/joshuarp/inference-api/internal/handlers"
	"github.com/joshuarp/inference-api/internal/middlewares"
	sharedjwt "github.com/joshuarp/inference-api/internal/shared/jwt"
	sharedratelimit "github.com/joshuarp/inference-api/internal/shared/ratelimit"
)

type routerGroupsOut struct {
	fx.Out
	Public    fiber.Router `name:"api_public"`
	Protected fiber.Router `name:"api_protected"`
}

func provideRouterGroups(
	app *fiber.App,
	logger *slog.Logger,
	tokenManager sharedjwt.TokenManager,
) routerGroupsOut {
	app.Use(middlewares.NewHTTPRecoveryMiddleware())
	app.Use(middlewares.NewHTTPRequestIDMiddleware())
	app.Use(middlewares.NewHTTPCORSMiddleware())
	app.Use(middlewares.NewHTTPRequestResponseLogMiddleware(logger))

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	protected := api.Group("", middlewares.NewHTTPJWTMiddleware(tokenManager))

	return routerGroupsOut{
		Public:    api,
		Protected: protected,
	}
}

type inferenceRoutesIn struct {
	fx.In
	Protected fiber.Router `name:"api_protected"`

	OCR        *handlers.OCRHandler
	Detection  *handlers.ObjectDetectionHandler
	Caption    *handlers.SceneCaptionHandler
	Multimodal *handlers.MultimodalHandler
}

// registerInferenceRoutes attaches the synchronous endpoints. No rate-limit
// middleware here: the orchestrator enforces the per-subject quota itself so
// replayed requests never consume it.
func registerInferenceRoutes(in inferenceRoutesIn) {
	in.OCR.Register(in.Protected)
	in.Detection.Register(in.Protected)
	in.Caption.Register(in.Protected)
	in.Multimodal.Register(in.Protected)
}

type jobRoutesIn struct {
	fx.In
	Protected   fiber.Router            `name:"api_protected"`
	RateLimiter sharedratelimit.Limiter `name:"jobs_rate_limiter"`
	Logger      *slog.Logger
	Handler     *handlers.AsyncJobHandler
}

// registerJobRoutes attaches the async job endpoints behind their own
// fixed-window limiter; job submissions bypass the orchestrator, so the
// quota has to be enforced at the edge.
func registerJobRoutes(in jobRoutesIn) {
	rateLimitMiddleware := middlewares.NewHTTPRateLimitMiddleware(middlewares.RateLimitConfig{
		Limiter:      in.RateLimiter,
		Logger:       in.Logger,
		KeyExtractor: middlewares.PerUserKeyExtractor("jobs"),
	})

	jobsRouter := in.Protected.Group("/jobs", rateLimitMiddleware)
	in.Handler.Register(jobsRouter)
}
