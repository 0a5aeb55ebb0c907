package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/domain/vo"
	"github.com/joshuarp/inference-api/internal/shared/cache"
	"github.com/joshuarp/inference-api/internal/shared/idempotency"
	"github.com/joshuarp/inference-api/internal/shared/lock"
	"github.com/joshuarp/inference-api/internal/shared/ratelimit"
)

// InferFunc is the opaque inference operation the caller supplies. It must
// already be bounded by the kind's timeout budget.
type InferFunc func(ctx context.Context) ([]byte, error)

// HistoryRecorder persists one line per orchestrated request. Writes are
// best-effort; a failed insert never fails the request.
type HistoryRecorder interface {
	RecordRequest(ctx context.Context, record domain.RequestRecord) error
}

// InferenceRequest carries everything the orchestrator needs for one call.
type InferenceRequest struct {
	// Kind selects cache TTL and lock namespace.
	Kind domain.Kind

	// Params are the cache-relevant parameters, resource identifier first.
	// Any parameter that affects the inference output must be included.
	Params []string

	// Subject is the rate-limit subject (opaque, handed in by the caller).
	Subject string

	// IdempotencyToken is the optional client-supplied replay token.
	IdempotencyToken string

	// Infer performs the actual work when no cached result exists.
	Infer InferFunc
}

// OrchestratorConfig tunes the protocol.
type OrchestratorConfig struct {
	// LockTTL bounds the stampede lock. Must exceed the worst-case duration
	// of the protected inference; an expired lock admits a second run.
	LockTTL time.Duration

	// ContentionBackoff is how long a loser waits before its single cache
	// re-check.
	ContentionBackoff time.Duration
}

const (
	defaultLockTTL           = 30 * time.Second
	defaultContentionBackoff = 50 * time.Millisecond
)

// Orchestrator runs the request protocol in front of every synchronous
// inference call: idempotency replay, rate limiting, cache-aside read,
// stampede lock, inference, cache write, replay record — in that order.
//
// Replay is checked before rate limiting on purpose: idempotent replays do
// not consume quota.
type Orchestrator struct {
	cache   *cache.Engine
	mutex   *lock.Mutex
	limiter ratelimit.Limiter
	ledger  idempotency.Ledger
	history HistoryRecorder
	config  OrchestratorConfig
	logger  *slog.Logger
}

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

// WithHistoryRecorder attaches a best-effort request history sink.
func WithHistoryRecorder(recorder HistoryRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.history = recorder
	}
}

// NewOrchestrator wires the protocol over its four coordination components.
func NewOrchestrator(
	cacheEngine *cache.Engine,
	mutex *lock.Mutex,
	limiter ratelimit.Limiter,
	ledger idempotency.Ledger,
	config OrchestratorConfig,
	logger *slog.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if config.LockTTL <= 0 {
		config.LockTTL = defaultLockTTL
	}
	if config.ContentionBackoff <= 0 {
		config.ContentionBackoff = defaultContentionBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		cache:   cacheEngine,
		mutex:   mutex,
		limiter: limiter,
		ledger:  ledger,
		config:  config,
		logger:  logger,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Orchestrate executes the protocol and returns the payload with its cache
// metadata, or one of the typed failures: vo.ErrRateLimited,
// vo.ErrLockUnavailable, vo.ErrInferTimeout, or the inference error itself.
func (o *Orchestrator) Orchestrate(ctx context.Context, req InferenceRequest) (vo.InferenceOutcome, error) {
	if !req.Kind.Valid() {
		return vo.InferenceOutcome{}, fmt.Errorf("orchestrator: %w: %s", vo.ErrUnsupportedKind, req.Kind)
	}
	if strings.TrimSpace(req.Subject) == "" {
		return vo.InferenceOutcome{}, errors.New("orchestrator: subject is required")
	}
	if req.Infer == nil {
		return vo.InferenceOutcome{}, errors.New("orchestrator: infer operation is required")
	}

	started := time.Now()
	outcome, err := o.run(ctx, req)
	o.record(ctx, req, outcome, err, time.Since(started))
	return outcome, err
}

func (o *Orchestrator) run(ctx context.Context, req InferenceRequest) (vo.InferenceOutcome, error) {
	token := strings.TrimSpace(req.IdempotencyToken)

	// Replay short-circuits everything, including the rate limiter.
	if token != "" {
		payload, found, err := o.ledger.CheckReplay(ctx, token)
		if err != nil {
			// Degraded ledger reads fall through to the normal path.
			o.logger.Warn("idempotency replay check failed", "error", err)
		} else if found {
			return vo.InferenceOutcome{
				Payload:  payload,
				CacheHit: true,
				TTL:      o.cache.TTLFor(req.Kind),
				Source:   vo.SourceReplay,
			}, nil
		}
	}

	result, err := o.limiter.AllowKey(ctx, "user:"+req.Subject)
	if err != nil {
		return vo.InferenceOutcome{}, fmt.Errorf("orchestrator: rate limit check failed: %w", err)
	}
	if !result.Allowed {
		return vo.InferenceOutcome{}, vo.ErrRateLimited
	}

	if entry, hit, err := o.cache.Get(ctx, req.Kind, req.Params...); err == nil && hit {
		return vo.InferenceOutcome{
			Payload:  entry.Payload,
			CacheHit: true,
			TTL:      entry.TTL,
			Source:   vo.SourceCache,
		}, nil
	}

	lockKey := cache.LockKey(req.Kind, req.Params...)
	acquired, err := o.mutex.Acquire(ctx, lockKey, o.config.LockTTL)
	if err != nil {
		return vo.InferenceOutcome{}, fmt.Errorf("orchestrator: lock acquire failed: %w", err)
	}

	if !acquired {
		return o.awaitHolder(ctx, req)
	}

	payload, inferErr := req.Infer(ctx)
	if inferErr != nil {
		// No cache write, no replay record. The lock is still reclaimed.
		o.mutex.Release(ctx, lockKey)
		return vo.InferenceOutcome{}, inferErr
	}

	ttl, putErr := o.cache.Put(ctx, req.Kind, payload, req.Params...)
	o.mutex.Release(ctx, lockKey)
	if putErr != nil {
		return vo.InferenceOutcome{}, fmt.Errorf("orchestrator: %w", putErr)
	}

	if token != "" {
		if err := o.ledger.Record(ctx, token, payload, ttl); err != nil {
			return vo.InferenceOutcome{}, fmt.Errorf("orchestrator: %w", err)
		}
	}

	return vo.InferenceOutcome{
		Payload:  payload,
		CacheHit: false,
		TTL:      ttl,
		Source:   vo.SourceFresh,
	}, nil
}

// awaitHolder handles lock contention: wait one short backoff for the
// current holder to publish its result, then re-check the cache exactly
// once. Running the inference without the lock is never an option.
func (o *Orchestrator) awaitHolder(ctx context.Context, req InferenceRequest) (vo.InferenceOutcome, error) {
	timer := time.NewTimer(o.config.ContentionBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return vo.InferenceOutcome{}, ctx.Err()
	case <-timer.C:
	}

	if entry, hit, err := o.cache.Get(ctx, req.Kind, req.Params...); err == nil && hit {
		return vo.InferenceOutcome{
			Payload:  entry.Payload,
			CacheHit: true,
			TTL:      entry.TTL,
			Source:   vo.SourceContentionCache,
		}, nil
	}

	return vo.InferenceOutcome{}, vo.ErrLockUnavailable
}

func (o *Orchestrator) record(ctx context.Context, req InferenceRequest, outcome vo.InferenceOutcome, err error, elapsed time.Duration) {
	if o.history == nil {
		return
	}

	record := domain.RequestRecord{
		Subject:     req.Subject,
		Kind:        req.Kind,
		Fingerprint: cache.Fingerprint(req.Kind, req.Params...),
		CacheHit:    outcome.CacheHit,
		Source:      string(outcome.Source),
		DurationMS:  elapsed.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if err != nil {
		record.Source = ""
		record.Failure = failureClass(err)
	}

	if recordErr := o.history.RecordRequest(ctx, record); recordErr != nil {
		o.logger.Warn("request history write failed", "error", recordErr)
	}
}

func failureClass(err error) string {
	switch {
	case errors.Is(err, vo.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, vo.ErrLockUnavailable):
		return "lock_unavailable"
	case errors.Is(err, vo.ErrInferTimeout):
		return "infer_timeout"
	default:
		return "infer_error"
	}
}
