package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/inference"
	"github.com/joshuarp/inference-api/internal/middlewares"
	"github.com/joshuarp/inference-api/internal/services"
)

const defaultCaptionMaxLength = 50

type SceneCaptionHandler struct {
	orchestrator InferenceOrchestrator
	registry     *inference.Registry
	logger       *slog.Logger
}

type sceneCaptionRequest struct {
	ImageURL  string `json:"image_url"`
	MaxLength *int   `json:"max_length"`
}

type sceneCaptionResponse struct {
	domain.CaptionResult
	RequestID  string `json:"request_id"`
	CacheHit   bool   `json:"cache_hit"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func NewSceneCaptionHandler(orchestrator InferenceOrchestrator, registry *inference.Registry, logger *slog.Logger) *SceneCaptionHandler {
	return &SceneCaptionHandler{orchestrator: orchestrator, registry: registry, logger: logger}
}

func (h *SceneCaptionHandler) Register(router fiber.Router) {
	router.Post("/scene-caption", h.Handle)
}

func (h *SceneCaptionHandler) Handle(c fiber.Ctx) error {
	subject, ok := subjectFromLocals(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing authenticated user",
		})
	}

	var requestBody sceneCaptionRequest
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

	maxLength := defaultCaptionMaxLength
	if requestBody.MaxLength != nil {
		maxLength = *requestBody.MaxLength
	}
	if maxLength <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "max_length must be greater than 0",
		})
	}

	maxLengthParam := strconv.Itoa(maxLength)

	outcome, err := h.orchestrator.Orchestrate(c.Context(), services.InferenceRequest{
		Kind:             domain.KindSceneCaption,
		Params:           []string{imageURL, maxLengthParam},
		Subject:          subject,
		IdempotencyToken: c.Get(IdempotencyKeyHeader),
		Infer: func(ctx context.Context) ([]byte, error) {
			return h.registry.Run(ctx, domain.KindSceneCaption, imageURL, map[string]string{
				"max_length": maxLengthParam,
			})
		},
	})
	if err != nil {
		return respondOrchestrationError(c, h.logger, subject, err)
	}

	var result domain.CaptionResult
	if err := json.Unmarshal(outcome.Payload, &result); err != nil {
		h.logger.Error("failed to decode caption payload", "subject", subject, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(sceneCaptionResponse{
		CaptionResult: result,
		RequestID:     middlewares.ChainIDFromContext(c),
		CacheHit:      outcome.CacheHit,
		TTLSeconds:    ttlSeconds(outcome),
	})
}
