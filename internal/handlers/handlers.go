// Package handlers exposes the HTTP surface of the inference coordination
// layer. Every synchronous endpoint funnels through the orchestrator, which
// owns replay, rate limiting, caching, and stampede locking; handlers only
// translate between HTTP and the protocol.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/joshuarp/inference-api/internal/domain/vo"
	"github.com/joshuarp/inference-api/internal/services"
)

// IdempotencyKeyHeader is the client-supplied replay token header.
const IdempotencyKeyHeader = "Idempotency-Key"

// InferenceOrchestrator runs the request coordination protocol for one call.
type InferenceOrchestrator interface {
	Orchestrate(ctx context.Context, req services.InferenceRequest) (vo.InferenceOutcome, error)
}

func subjectFromLocals(c fiber.Ctx) (string, bool) {
	subjectValue := c.Locals("user_id")
	subject, ok := subjectValue.(string)
	return subject, ok && subject != ""
}

// validateResourceURL accepts only absolute URLs. Relative references would
// alias distinct resources under one fingerprint.
func validateResourceURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("image_url must be absolute")
	}
	return trimmed, nil
}

// respondOrchestrationError maps the protocol's typed failures onto HTTP
// statuses. Unknown errors are logged and masked as 500.
func respondOrchestrationError(c fiber.Ctx, logger *slog.Logger, subject string, err error) error {
	switch {
	case errors.Is(err, vo.ErrRateLimited):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "rate limit exceeded",
		})
	case errors.Is(err, vo.ErrLockUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "resource busy, please retry",
		})
	case errors.Is(err, vo.ErrInferTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error": "inference timed out",
		})
	case errors.Is(err, vo.ErrUnsupportedKind):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unsupported inference kind",
		})
	default:
		logger.Error("inference request failed", "subject", subject, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}
}

func ttlSeconds(outcome vo.InferenceOutcome) int {
	return int(outcome.TTL.Seconds())
}
