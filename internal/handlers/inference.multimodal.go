package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/domain/vo"
	"github.com/joshuarp/inference-api/internal/inference"
	"github.com/joshuarp/inference-api/internal/middlewares"
	"github.com/joshuarp/inference-api/internal/services"
)

const (
	defaultMultimodalMaxTokens   = 512
	defaultQueryMaxTokens        = 256
	defaultMultimodalTemperature = 0.7
)

// MultimodalHandler serves free-form prompts about an image plus the
// question-answering convenience route, which reshapes the question into a
// prompt and reuses the same pipeline.
type MultimodalHandler struct {
	orchestrator InferenceOrchestrator
	registry     *inference.Registry
	logger       *slog.Logger
}

type multimodalRequest struct {
	ImageURL    string   `json:"image_url"`
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
}

type multimodalResponse struct {
	domain.MultimodalResult
	RequestID  string `json:"request_id"`
	CacheHit   bool   `json:"cache_hit"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type naturalLanguageQueryRequest struct {
	ImageURL  string `json:"image_url"`
	Question  string `json:"question"`
	MaxTokens *int   `json:"max_tokens"`
}

type naturalLanguageQueryResponse struct {
	Answer     string   `json:"answer"`
	Confidence *float64 `json:"confidence"`
	RequestID  string   `json:"request_id"`
	CacheHit   bool     `json:"cache_hit"`
	TTLSeconds int      `json:"ttl_seconds"`
}

func NewMultimodalHandler(orchestrator InferenceOrchestrator, registry *inference.Registry, logger *slog.Logger) *MultimodalHandler {
	return &MultimodalHandler{orchestrator: orchestrator, registry: registry, logger: logger}
}

func (h *MultimodalHandler) Register(router fiber.Router) {
	router.Post("/multimodal-llm", h.Handle)
	router.Post("/multimodal-llm/query", h.HandleQuery)
}

func (h *MultimodalHandler) Handle(c fiber.Ctx) error {
	subject, ok := subjectFromLocals(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing authenticated user",
		})
	}

	var requestBody multimodalRequest
	if err := c.Bind().JSON(&requestBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if strings.TrimSpace(requestBody.Prompt) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "prompt is required",
		})
	}

	maxTokens := defaultMultimodalMaxTokens
	if requestBody.MaxTokens != nil {
		maxTokens = *requestBody.MaxTokens
	}
	temperature := defaultMultimodalTemperature
	if requestBody.Temperature != nil {
		temperature = *requestBody.Temperature
	}

	result, outcome, handled, err := h.runMultimodal(c, subject, requestBody.ImageURL, requestBody.Prompt, maxTokens, temperature)
	if handled {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(multimodalResponse{
		MultimodalResult: result,
		RequestID:        middlewares.ChainIDFromContext(c),
		CacheHit:         outcome.CacheHit,
		TTLSeconds:       ttlSeconds(outcome),
	})
}

func (h *MultimodalHandler) HandleQuery(c fiber.Ctx) error {
	subject, ok := subjectFromLocals(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing authenticated user",
		})
	}

	var requestBody naturalLanguageQueryRequest
	if err := c.Bind().JSON(&requestBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if strings.TrimSpace(requestBody.Question) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "question is required",
		})
	}

	maxTokens := defaultQueryMaxTokens
	if requestBody.MaxTokens != nil {
		maxTokens = *requestBody.MaxTokens
	}

	// The question becomes a prompt, so identical questions share the same
	// cache entry as the equivalent free-form prompt.
	prompt := "Question: " + requestBody.Question + "\nAnswer:"

	result, outcome, handled, err := h.runMultimodal(c, subject, requestBody.ImageURL, prompt, maxTokens, defaultMultimodalTemperature)
	if handled {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(naturalLanguageQueryResponse{
		Answer:     result.Response,
		Confidence: result.Confidence,
		RequestID:  middlewares.ChainIDFromContext(c),
		CacheHit:   outcome.CacheHit,
		TTLSeconds: ttlSeconds(outcome),
	})
}

// runMultimodal is the shared pipeline behind both routes: validate the URL,
// orchestrate, decode. When handled is true a failure response has already
// been written and the returned error is that write's result.
func (h *MultimodalHandler) runMultimodal(c fiber.Ctx, subject, rawURL, prompt string, maxTokens int, temperature float64) (domain.MultimodalResult, vo.InferenceOutcome, bool, error) {
	imageURL, err := validateResourceURL(rawURL)
	if err != nil {
		return domain.MultimodalResult{}, vo.InferenceOutcome{}, true, c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	maxTokensParam := strconv.Itoa(maxTokens)
	temperatureParam := strconv.FormatFloat(temperature, 'f', -1, 64)

	outcome, err := h.orchestrator.Orchestrate(c.Context(), services.InferenceRequest{
		Kind:             domain.KindMultimodalLLM,
		Params:           []string{imageURL, prompt, maxTokensParam, temperatureParam},
		Subject:          subject,
		IdempotencyToken: c.Get(IdempotencyKeyHeader),
		Infer: func(ctx context.Context) ([]byte, error) {
			return h.registry.Run(ctx, domain.KindMultimodalLLM, imageURL, map[string]string{
				"prompt":      prompt,
				"max_tokens":  maxTokensParam,
				"temperature": temperatureParam,
			})
		},
	})
	if err != nil {
		return domain.MultimodalResult{}, vo.InferenceOutcome{}, true, respondOrchestrationError(c, h.logger, subject, err)
	}

	var result domain.MultimodalResult
	if err := json.Unmarshal(outcome.Payload, &result); err != nil {
		h.logger.Error("failed to decode multimodal payload", "subject", subject, "error", err)
		return domain.MultimodalResult{}, vo.InferenceOutcome{}, true, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	return result, outcome, false, nil
}
