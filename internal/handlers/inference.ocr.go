package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/inference"
	"github.com/joshuarp/inference-api/internal/middlewares"
	"github.com/joshuarp/inference-api/internal/services"
	"github.com/joshuarp/inference-api/internal/shared/cache"
)

type OCRHandler struct {
	orchestrator InferenceOrchestrator
	registry     *inference.Registry
	logger       *slog.Logger
}

type ocrRequest struct {
	ImageURL string `json:"image_url"`
	Locale   string `json:"locale"`
}

type ocrResponse struct {
	domain.OCRResult
	RequestID  string `json:"request_id"`
	CacheHit   bool   `json:"cache_hit"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func NewOCRHandler(orchestrator InferenceOrchestrator, registry *inference.Registry, logger *slog.Logger) *OCRHandler {
	return &OCRHandler{orchestrator: orchestrator, registry: registry, logger: logger}
}

func (h *OCRHandler) Register(router fiber.Router) {
	router.Post("/ocr", h.Handle)
}

func (h *OCRHandler) Handle(c fiber.Ctx) error {
	subject, ok := subjectFromLocals(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing authenticated user",
		})
	}

	var requestBody ocrRequest
	if err := c.Bind().JSON(&requestBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	imageURL, err := validateResourceURL(requestBody.ImageURL)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	locale := cache.NormalizeParam(requestBody.Locale)

	outcome, err := h.orchestrator.Orchestrate(c.Context(), services.InferenceRequest{
		Kind:             domain.KindOCR,
		Params:           []string{imageURL, locale},
		Subject:          subject,
		IdempotencyToken: c.Get(IdempotencyKeyHeader),
		Infer: func(ctx context.Context) ([]byte, error) {
			return h.registry.Run(ctx, domain.KindOCR, imageURL, map[string]string{"locale": locale})
		},
	})
	if err != nil {
		return respondOrchestrationError(c, h.logger, subject, err)
	}

	var result domain.OCRResult
	if err := json.Unmarshal(outcome.Payload, &result); err != nil {
		h.logger.Error("failed to decode ocr payload", "subject", subject, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(ocrResponse{
		OCRResult:  result,
		RequestID:  middlewares.ChainIDFromContext(c),
		CacheHit:   outcome.CacheHit,
		TTLSeconds: ttlSeconds(outcome),
	})
}
