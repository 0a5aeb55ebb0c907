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

const defaultConfidenceThreshold = 0.25

type ObjectDetectionHandler struct {
	orchestrator InferenceOrchestrator
	registry     *inference.Registry
	logger       *slog.Logger
}

type objectDetectionRequest struct {
	ImageURL            string   `json:"image_url"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
}

type objectDetectionResponse struct {
	domain.DetectionResult
	RequestID  string `json:"request_id"`
	CacheHit   bool   `json:"cache_hit"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func NewObjectDetectionHandler(orchestrator InferenceOrchestrator, registry *inference.Registry, logger *slog.Logger) *ObjectDetectionHandler {
	return &ObjectDetectionHandler{orchestrator: orchestrator, registry: registry, logger: logger}
}

func (h *ObjectDetectionHandler) Register(router fiber.Router) {
	router.Post("/object-detection", h.Handle)
}

func (h *ObjectDetectionHandler) Handle(c fiber.Ctx) error {
	subject, ok := subjectFromLocals(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing authenticated user",
		})
	}

	var requestBody objectDetectionRequest
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

	threshold := defaultConfidenceThreshold
	if requestBody.ConfidenceThreshold != nil {
		threshold = *requestBody.ConfidenceThreshold
	}
	if threshold < 0 || threshold > 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "confidence_threshold must be between 0 and 1",
		})
	}

	// The threshold affects which objects survive filtering, so it is part
	// of the fingerprint tuple.
	thresholdParam := strconv.FormatFloat(threshold, 'f', -1, 64)

	outcome, err := h.orchestrator.Orchestrate(c.Context(), services.InferenceRequest{
		Kind:             domain.KindObjectDetection,
		Params:           []string{imageURL, thresholdParam},
		Subject:          subject,
		IdempotencyToken: c.Get(IdempotencyKeyHeader),
		Infer: func(ctx context.Context) ([]byte, error) {
			return h.registry.Run(ctx, domain.KindObjectDetection, imageURL, map[string]string{
				"confidence_threshold": thresholdParam,
			})
		},
	})
	if err != nil {
		return respondOrchestrationError(c, h.logger, subject, err)
	}

	var result domain.DetectionResult
	if err := json.Unmarshal(outcome.Payload, &result); err != nil {
		h.logger.Error("failed to decode detection payload", "subject", subject, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(objectDetectionResponse{
		DetectionResult: result,
		RequestID:       middlewares.ChainIDFromContext(c),
		CacheHit:        outcome.CacheHit,
		TTLSeconds:      ttlSeconds(outcome),
	})
}
