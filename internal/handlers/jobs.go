package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/middlewares"
	"github.com/joshuarp/inference-api/internal/services"
)

// jobEstimatedDurations is the per-kind completion hint handed to clients and
// used for the initial job record TTL.
var jobEstimatedDurations = map[domain.Kind]time.Duration{
	domain.KindOCR:             10 * time.Second,
	domain.KindObjectDetection: 15 * time.Second,
	domain.KindSceneCaption:    20 * time.Second,
	domain.KindMultimodalLLM:   30 * time.Second,
}

type AsyncJobHandler struct {
	service    *services.JobService
	dispatcher *services.Dispatcher
	logger     *slog.Logger
}

type createJobRequest struct {
	JobType    string            `json:"job_type"`
	ImageURL   string            `json:"image_url"`
	Parameters map[string]string `json:"parameters"`
}

type createJobResponse struct {
	JobID                      string `json:"job_id"`
	Status                     string `json:"status"`
	CreatedAt                  string `json:"created_at"`
	EstimatedCompletionSeconds int    `json:"estimated_completion_seconds"`
}

type jobStatusResponse struct {
	JobID           string          `json:"job_id"`
	Status          string          `json:"status"`
	CreatedAt       string          `json:"created_at"`
	CompletedAt     *string         `json:"completed_at"`
	Result          json.RawMessage `json:"result"`
	Error           *string         `json:"error"`
	ProgressPercent int             `json:"progress_percent"`
}

func NewAsyncJobHandler(service *services.JobService, dispatcher *services.Dispatcher, logger *slog.Logger) *AsyncJobHandler {
	return &AsyncJobHandler{service: service, dispatcher: dispatcher, logger: logger}
}

// Register expects a router already rooted at the jobs prefix.
func (h *AsyncJobHandler) Register(router fiber.Router) {
	router.Post("", h.HandleCreate)
	router.Get("/:job_id", h.HandleStatus)
}

func (h *AsyncJobHandler) HandleCreate(c fiber.Ctx) error {
	subject, ok := subjectFromLocals(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing authenticated user",
		})
	}

	var requestBody createJobRequest
	if err := c.Bind().JSON(&requestBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	kind := domain.Kind(requestBody.JobType)
	estimated, supported := jobEstimatedDurations[kind]
	if !supported {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unsupported job type: " + requestBody.JobType,
		})
	}

	imageURL, err := validateResourceURL(requestBody.ImageURL)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	job, err := h.service.CreateJob(c.Context(), kind, imageURL, requestBody.Parameters, estimated)
	if err != nil {
		h.logger.Error("failed to create job", "subject", subject, "kind", kind, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	if err := h.dispatcher.Enqueue(job); err != nil {
		h.logger.Error("failed to enqueue job", "job_id", job.ID, "error", err)
		if errors.Is(err, services.ErrQueueFull) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "job queue is full, please retry",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	h.logger.Info("created async job",
		"request_id", middlewares.ChainIDFromContext(c),
		"job_id", job.ID, "kind", kind, "subject", subject)

	return c.Status(fiber.StatusAccepted).JSON(createJobResponse{
		JobID:                      job.ID,
		Status:                     string(job.Status),
		CreatedAt:                  job.CreatedAt.Format(time.RFC3339Nano),
		EstimatedCompletionSeconds: job.EstimatedSeconds,
	})
}

func (h *AsyncJobHandler) HandleStatus(c fiber.Ctx) error {
	if _, ok := subjectFromLocals(c); !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing authenticated user",
		})
	}

	jobID := c.Params("job_id")
	job, err := h.service.GetJob(c.Context(), jobID)
	if err != nil {
		// Expired records are indistinguishable from unknown ids.
		if errors.Is(err, services.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "job " + jobID + " not found or expired",
			})
		}
		h.logger.Error("failed to read job", "job_id", jobID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	response := jobStatusResponse{
		JobID:           job.ID,
		Status:          string(job.Status),
		CreatedAt:       job.CreatedAt.Format(time.RFC3339Nano),
		ProgressPercent: job.ProgressPercent,
	}
	if job.CompletedAt != nil {
		completedAt := job.CompletedAt.Format(time.RFC3339Nano)
		response.CompletedAt = &completedAt
	}
	if len(job.Result) > 0 {
		response.Result = json.RawMessage(job.Result)
	}
	if job.Error != "" {
		response.Error = &job.Error
	}

	return c.Status(fiber.StatusOK).JSON(response)
}
