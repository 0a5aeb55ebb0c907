package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/domain/vo"
	"github.com/joshuarp/inference-api/internal/inference"
	"github.com/joshuarp/inference-api/internal/services"
	"github.com/joshuarp/inference-api/internal/shared/kv"
	"github.com/joshuarp/inference-api/internal/shared/uid"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry() *inference.Registry {
	return inference.NewRegistry(inference.NewPlaceholderRunners(), inference.Config{DefaultTimeout: time.Second})
}

// fakeOrchestrator replays a canned error when set; otherwise it executes
// the request's Infer and reports the result as fresh.
type fakeOrchestrator struct {
	err    error
	source vo.HitSource
	ttl    time.Duration

	lastRequest services.InferenceRequest
	called      bool
}

func (f *fakeOrchestrator) Orchestrate(ctx context.Context, req services.InferenceRequest) (vo.InferenceOutcome, error) {
	f.called = true
	f.lastRequest = req

	if f.err != nil {
		return vo.InferenceOutcome{}, f.err
	}

	payload, err := req.Infer(ctx)
	if err != nil {
		return vo.InferenceOutcome{}, err
	}

	source := f.source
	if source == "" {
		source = vo.SourceFresh
	}
	ttl := f.ttl
	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	return vo.InferenceOutcome{
		Payload:  payload,
		CacheHit: source != vo.SourceFresh,
		TTL:      ttl,
		Source:   source,
	}, nil
}

// withTestSubject stands in for the JWT middleware.
func withTestSubject(subject string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if subject != "" {
			c.Locals("user_id", subject)
		}
		return c.Next()
	}
}

func performJSONRequest(app *fiber.App, method, path string, body []byte, headers map[string]string) (*http.Response, map[string]interface{}, []byte) {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if len(body) > 0 {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req)
	if err != nil {
		return nil, nil, nil
	}

	defer resp.Body.Close()
	rawBody, _ := io.ReadAll(resp.Body)
	parsed := map[string]interface{}{}
	_ = json.Unmarshal(rawBody, &parsed)

	return resp, parsed, rawBody
}

type OCRHandlerSuite struct {
	suite.Suite

	orchestrator *fakeOrchestrator
	app          *fiber.App
}

func (s *OCRHandlerSuite) SetupTest() {
	s.orchestrator = &fakeOrchestrator{}
	handler := NewOCRHandler(s.orchestrator, newTestRegistry(), newTestLogger())

	s.app = fiber.New()
	group := s.app.Group("/api/v1", withTestSubject("user-1"))
	handler.Register(group)
}

func (s *OCRHandlerSuite) TestHandle_TableDriven() {
	tests := []struct {
		name      string
		body      []byte
		setup     func()
		assertion func(*http.Response, map[string]interface{})
	}{
		{
			name: "invalid body",
			body: []byte(`{"image_url":`),
			assertion: func(resp *http.Response, payload map[string]interface{}) {
				require.NotNil(s.T(), resp)
				assert.Equal(s.T(), fiber.StatusBadRequest, resp.StatusCode)
				assert.Equal(s.T(), "invalid request body", payload["error"])
			},
		},
		{
			name: "relative url rejected",
			body: []byte(`{"image_url":"/images/a.png"}`),
			assertion: func(resp *http.Response, payload map[string]interface{}) {
				require.NotNil(s.T(), resp)
				assert.Equal(s.T(), fiber.StatusUnprocessableEntity, resp.StatusCode)
				assert.Equal(s.T(), "image_url must be absolute", payload["error"])
				assert.False(s.T(), s.orchestrator.called)
			},
		},
		{
			name: "rate limited",
			body: []byte(`{"image_url":"https://example.com/a.png"}`),
			setup: func() {
				s.orchestrator.err = vo.ErrRateLimited
			},
			assertion: func(resp *http.Response, payload map[string]interface{}) {
				require.NotNil(s.T(), resp)
				assert.Equal(s.T(), fiber.StatusTooManyRequests, resp.StatusCode)
				assert.Equal(s.T(), "rate limit exceeded", payload["error"])
			},
		},
		{
			name: "lock unavailable",
			body: []byte(`{"image_url":"https://example.com/a.png"}`),
			setup: func() {
				s.orchestrator.err = vo.ErrLockUnavailable
			},
			assertion: func(resp *http.Response, payload map[string]interface{}) {
				require.NotNil(s.T(), resp)
				assert.Equal(s.T(), fiber.StatusServiceUnavailable, resp.StatusCode)
			},
		},
		{
			name: "inference timeout",
			body: []byte(`{"image_url":"https://example.com/a.png"}`),
			setup: func() {
				s.orchestrator.err = vo.ErrInferTimeout
			},
			assertion: func(resp *http.Response, payload map[string]interface{}) {
				require.NotNil(s.T(), resp)
				assert.Equal(s.T(), fiber.StatusGatewayTimeout, resp.StatusCode)
			},
		},
		{
			name: "success",
			body: []byte(`{"image_url":"https://example.com/a.png","locale":"en"}`),
			assertion: func(resp *http.Response, payload map[string]interface{}) {
				require.NotNil(s.T(), resp)
				assert.Equal(s.T(), fiber.StatusOK, resp.StatusCode)
				assert.Equal(s.T(), "placeholder text", payload["text"])
				assert.Equal(s.T(), false, payload["cache_hit"])
				assert.Equal(s.T(), float64(1800), payload["ttl_seconds"])

				assert.Equal(s.T(), domain.KindOCR, s.orchestrator.lastRequest.Kind)
				assert.Equal(s.T(), "user-1", s.orchestrator.lastRequest.Subject)
				assert.Equal(s.T(), []string{"https://example.com/a.png", "en"}, s.orchestrator.lastRequest.Params)
			},
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.orchestrator.ttl = 1800 * time.Second
			if tc.setup != nil {
				tc.setup()
			}

			resp, payload, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/ocr", tc.body, nil)
			tc.assertion(resp, payload)
		})
	}
}

func (s *OCRHandlerSuite) TestHandleForwardsIdempotencyKey() {
	body := []byte(`{"image_url":"https://example.com/a.png"}`)
	resp, _, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/ocr", body, map[string]string{
		IdempotencyKeyHeader: "tok-123",
	})

	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusOK, resp.StatusCode)
	assert.Equal(s.T(), "tok-123", s.orchestrator.lastRequest.IdempotencyToken)
}

func (s *OCRHandlerSuite) TestHandleRequiresSubject() {
	app := fiber.New()
	handler := NewOCRHandler(s.orchestrator, newTestRegistry(), newTestLogger())
	handler.Register(app.Group("/api/v1"))

	body := []byte(`{"image_url":"https://example.com/a.png"}`)
	resp, payload, _ := performJSONRequest(app, fiber.MethodPost, "/api/v1/ocr", body, nil)

	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(s.T(), "missing authenticated user", payload["error"])
}

func TestOCRHandlerSuite(t *testing.T) {
	suite.Run(t, new(OCRHandlerSuite))
}

type ObjectDetectionHandlerSuite struct {
	suite.Suite

	orchestrator *fakeOrchestrator
	app          *fiber.App
}

func (s *ObjectDetectionHandlerSuite) SetupTest() {
	s.orchestrator = &fakeOrchestrator{}
	handler := NewObjectDetectionHandler(s.orchestrator, newTestRegistry(), newTestLogger())

	s.app = fiber.New()
	handler.Register(s.app.Group("/api/v1", withTestSubject("user-1")))
}

func (s *ObjectDetectionHandlerSuite) TestThresholdJoinsFingerprintParams() {
	body := []byte(`{"image_url":"https://example.com/a.png","confidence_threshold":0.5}`)
	resp, payload, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/object-detection", body, nil)

	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusOK, resp.StatusCode)
	assert.Equal(s.T(), []string{"https://example.com/a.png", "0.5"}, s.orchestrator.lastRequest.Params)
	assert.Equal(s.T(), float64(1), payload["total_objects"])
}

func (s *ObjectDetectionHandlerSuite) TestThresholdDefaultsAndBounds() {
	body := []byte(`{"image_url":"https://example.com/a.png"}`)
	resp, _, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/object-detection", body, nil)
	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusOK, resp.StatusCode)
	assert.Equal(s.T(), []string{"https://example.com/a.png", "0.25"}, s.orchestrator.lastRequest.Params)

	body = []byte(`{"image_url":"https://example.com/a.png","confidence_threshold":1.5}`)
	resp, payload, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/object-detection", body, nil)
	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(s.T(), "confidence_threshold must be between 0 and 1", payload["error"])
}

func TestObjectDetectionHandlerSuite(t *testing.T) {
	suite.Run(t, new(ObjectDetectionHandlerSuite))
}

type MultimodalHandlerSuite struct {
	suite.Suite

	orchestrator *fakeOrchestrator
	app          *fiber.App
}

func (s *MultimodalHandlerSuite) SetupTest() {
	s.orchestrator = &fakeOrchestrator{}
	handler := NewMultimodalHandler(s.orchestrator, newTestRegistry(), newTestLogger())

	s.app = fiber.New()
	handler.Register(s.app.Group("/api/v1", withTestSubject("user-1")))
}

func (s *MultimodalHandlerSuite) TestPromptIsRequired() {
	body := []byte(`{"image_url":"https://example.com/a.png","prompt":"  "}`)
	resp, payload, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/multimodal-llm", body, nil)

	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(s.T(), "prompt is required", payload["error"])
}

func (s *MultimodalHandlerSuite) TestPromptSuccess() {
	body := []byte(`{"image_url":"https://example.com/a.png","prompt":"describe the scene"}`)
	resp, payload, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/multimodal-llm", body, nil)

	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusOK, resp.StatusCode)
	assert.Equal(s.T(), "placeholder response for: describe the scene", payload["response"])

	assert.Equal(s.T(), domain.KindMultimodalLLM, s.orchestrator.lastRequest.Kind)
	assert.Equal(s.T(),
		[]string{"https://example.com/a.png", "describe the scene", "512", "0.7"},
		s.orchestrator.lastRequest.Params)
}

func (s *MultimodalHandlerSuite) TestQueryWrapsQuestionIntoPrompt() {
	body := []byte(`{"image_url":"https://example.com/a.png","question":"what is shown?"}`)
	resp, payload, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/multimodal-llm/query", body, nil)

	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusOK, resp.StatusCode)
	assert.Contains(s.T(), payload["answer"], "Question: what is shown?")

	require.Len(s.T(), s.orchestrator.lastRequest.Params, 4)
	assert.Equal(s.T(), "Question: what is shown?\nAnswer:", s.orchestrator.lastRequest.Params[1])
	assert.Equal(s.T(), "256", s.orchestrator.lastRequest.Params[2])
}

func (s *MultimodalHandlerSuite) TestQueryRequiresQuestion() {
	body := []byte(`{"image_url":"https://example.com/a.png"}`)
	resp, payload, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/multimodal-llm/query", body, nil)

	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(s.T(), "question is required", payload["error"])
}

func TestMultimodalHandlerSuite(t *testing.T) {
	suite.Run(t, new(MultimodalHandlerSuite))
}

type AsyncJobHandlerSuite struct {
	suite.Suite

	service    *services.JobService
	dispatcher *services.Dispatcher
	app        *fiber.App
}

func (s *AsyncJobHandlerSuite) SetupTest() {
	store := kv.NewMemoryStore()
	generator, err := uid.New(uid.Options{Strategy: uid.StrategyUUIDv7})
	require.NoError(s.T(), err)

	s.service = services.NewJobService(store, generator, services.JobConfig{}, newTestLogger())
	s.dispatcher = services.NewDispatcher(s.service, newTestRegistry(), services.DispatcherConfig{Workers: 1, QueueSize: 4}, newTestLogger())
	s.T().Cleanup(func() { _ = s.dispatcher.Stop(context.Background()) })

	handler := NewAsyncJobHandler(s.service, s.dispatcher, newTestLogger())

	s.app = fiber.New()
	handler.Register(s.app.Group("/api/v1/jobs", withTestSubject("user-1")))
}

func (s *AsyncJobHandlerSuite) TestCreateRejectsUnsupportedType() {
	body := []byte(`{"job_type":"tts","image_url":"https://example.com/a.png"}`)
	resp, payload, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/jobs", body, nil)

	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(s.T(), "unsupported job type: tts", payload["error"])
}

func (s *AsyncJobHandlerSuite) TestCreateThenPollToCompletion() {
	body := []byte(`{"job_type":"ocr","image_url":"https://example.com/a.png","parameters":{"locale":"en"}}`)
	resp, payload, _ := performJSONRequest(s.app, fiber.MethodPost, "/api/v1/jobs", body, nil)

	require.NotNil(s.T(), resp)
	require.Equal(s.T(), fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(s.T(), string(domain.JobStatusPending), payload["status"])
	assert.Equal(s.T(), float64(10), payload["estimated_completion_seconds"])

	jobID, ok := payload["job_id"].(string)
	require.True(s.T(), ok)
	require.NotEmpty(s.T(), jobID)

	deadline := time.Now().Add(2 * time.Second)
	var status map[string]interface{}
	for time.Now().Before(deadline) {
		statusResp, statusPayload, _ := performJSONRequest(s.app, fiber.MethodGet, "/api/v1/jobs/"+jobID, nil, nil)
		require.NotNil(s.T(), statusResp)
		require.Equal(s.T(), fiber.StatusOK, statusResp.StatusCode)

		if statusPayload["status"] == string(domain.JobStatusCompleted) {
			status = statusPayload
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NotNil(s.T(), status, "job never completed")
	assert.Equal(s.T(), float64(100), status["progress_percent"])
	require.NotNil(s.T(), status["result"])
	result, ok := status["result"].(map[string]interface{})
	require.True(s.T(), ok)
	assert.Equal(s.T(), "placeholder text", result["text"])
}

func (s *AsyncJobHandlerSuite) TestStatusUnknownJobIsNotFound() {
	resp, payload, _ := performJSONRequest(s.app, fiber.MethodGet, "/api/v1/jobs/no-such-job", nil, nil)

	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), fiber.StatusNotFound, resp.StatusCode)
	assert.Contains(s.T(), payload["error"], "not found or expired")
}

func TestAsyncJobHandlerSuite(t *testing.T) {
	suite.Run(t, new(AsyncJobHandlerSuite))
}
