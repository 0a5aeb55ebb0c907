package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joshuarp/inference-api/internal/domain"
	sharedkv "github.com/joshuarp/inference-api/internal/shared/kv"
	shareduid "github.com/joshuarp/inference-api/internal/shared/uid"
)

// ErrJobNotFound is returned for unknown and expired job ids alike; the two
// are indistinguishable once the store key has lapsed.
var ErrJobNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when an update would move a job backwards
// in its state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

// JobConfig tunes job record lifetimes.
type JobConfig struct {
	// PendingBuffer is added to the estimated duration for the initial TTL.
	PendingBuffer time.Duration

	// TerminalRetention replaces the TTL once a job reaches a terminal
	// state, giving clients time to poll the final result.
	TerminalRetention time.Duration
}

const (
	defaultPendingBuffer     = 5 * time.Minute
	defaultTerminalRetention = time.Hour

	jobKeyPrefix = "job"
)

// JobUpdate carries the optional fields of a status transition.
type JobUpdate struct {
	Progress *int
	Result   []byte
	Error    string
}

// JobService is the async alternative to the orchestration protocol: it
// tracks job lifecycle state in the store with its own TTL discipline. The
// store owns all state; every read here is a fresh store read.
type JobService struct {
	store  sharedkv.Store
	uid    shareduid.UIDGenerator
	config JobConfig
	logger *slog.Logger
}

// NewJobService creates a job state machine over the given store.
func NewJobService(store sharedkv.Store, uid shareduid.UIDGenerator, config JobConfig, logger *slog.Logger) *JobService {
	if config.PendingBuffer <= 0 {
		config.PendingBuffer = defaultPendingBuffer
	}
	if config.TerminalRetention <= 0 {
		config.TerminalRetention = defaultTerminalRetention
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &JobService{store: store, uid: uid, config: config, logger: logger}
}

func jobKey(jobID string) string {
	return jobKeyPrefix + ":" + jobID
}

// CreateJob writes a new PENDING job and returns it. The record's TTL is
// the estimated duration plus a fixed buffer; the dispatcher extends it on
// terminal transitions.
func (s *JobService) CreateJob(ctx context.Context, kind domain.Kind, resource string, params map[string]string, estimated time.Duration) (domain.Job, error) {
	if !kind.Valid() {
		return domain.Job{}, fmt.Errorf("jobs: unsupported kind %q", kind)
	}
	if strings.TrimSpace(resource) == "" {
		return domain.Job{}, errors.New("jobs: resource is required")
	}

	jobID, err := s.uid.Generate(ctx)
	if err != nil {
		return domain.Job{}, fmt.Errorf("jobs: failed to generate job id: %w", err)
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:               jobID,
		Kind:             kind,
		Resource:         resource,
		Params:           params,
		Status:           domain.JobStatusPending,
		CreatedAt:        now,
		ProgressPercent:  0,
		EstimatedSeconds: int(estimated.Seconds()),
	}

	encodedParams, err := json.Marshal(params)
	if err != nil {
		return domain.Job{}, fmt.Errorf("jobs: failed to encode params: %w", err)
	}

	fields := map[string]string{
		"job_id":            job.ID,
		"kind":              string(job.Kind),
		"resource":          job.Resource,
		"params":            string(encodedParams),
		"status":            string(job.Status),
		"created_at":        now.Format(time.RFC3339Nano),
		"progress_percent":  "0",
		"estimated_seconds": strconv.Itoa(job.EstimatedSeconds),
	}

	key := jobKey(jobID)
	if err := s.store.HashSetFields(ctx, key, fields); err != nil {
		return domain.Job{}, fmt.Errorf("jobs: failed to write job: %w", err)
	}
	if err := s.store.Expire(ctx, key, estimated+s.config.PendingBuffer); err != nil {
		return domain.Job{}, fmt.Errorf("jobs: failed to set job ttl: %w", err)
	}

	return job, nil
}

// GetJob reads the current job state. An expired job is indistinguishable
// from one that never existed; both return ErrJobNotFound.
func (s *JobService) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	fields, err := s.store.HashGetAll(ctx, jobKey(jobID))
	if err != nil {
		return domain.Job{}, fmt.Errorf("jobs: failed to read job: %w", err)
	}
	if len(fields) == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	return jobFromFields(jobID, fields), nil
}

// UpdateStatus is called by the dispatcher to advance the state machine.
// Setting a result or error stamps the completion timestamp and re-keys the
// TTL to the terminal retention window. Backwards transitions are rejected.
func (s *JobService) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, update JobUpdate) error {
	key := jobKey(jobID)

	current, err := s.store.HashGetAll(ctx, key)
	if err != nil {
		return fmt.Errorf("jobs: failed to read job: %w", err)
	}
	if len(current) == 0 {
		return ErrJobNotFound
	}

	currentStatus := domain.JobStatus(current["status"])
	if !currentStatus.CanTransitionTo(status) {
		return fmt.Errorf("jobs: %w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	fields := map[string]string{"status": string(status)}
	if update.Progress != nil {
		fields["progress_percent"] = strconv.Itoa(clampProgress(*update.Progress))
	}

	terminal := false
	if update.Result != nil {
		fields["result"] = string(update.Result)
		terminal = true
	}
	if update.Error != "" {
		fields["error"] = update.Error
		terminal = true
	}
	if terminal {
		fields["completed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if err := s.store.HashSetFields(ctx, key, fields); err != nil {
		return fmt.Errorf("jobs: failed to update job: %w", err)
	}

	if terminal {
		if err := s.store.Expire(ctx, key, s.config.TerminalRetention); err != nil {
			return fmt.Errorf("jobs: failed to extend job retention: %w", err)
		}
	}

	return nil
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

func jobFromFields(jobID string, fields map[string]string) domain.Job {
	job := domain.Job{
		ID:       jobID,
		Kind:     domain.Kind(fields["kind"]),
		Resource: fields["resource"],
		Status:   domain.JobStatus(fields["status"]),
		Error:    fields["error"],
	}

	if id := fields["job_id"]; id != "" {
		job.ID = id
	}

	if raw := fields["params"]; raw != "" {
		params := make(map[string]string)
		if err := json.Unmarshal([]byte(raw), &params); err == nil {
			job.Params = params
		}
	}

	if raw := fields["created_at"]; raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.CreatedAt = parsed
		}
	}

	if raw := fields["completed_at"]; raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.CompletedAt = &parsed
		}
	}

	if raw := fields["progress_percent"]; raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			job.ProgressPercent = parsed
		}
	}

	if raw := fields["estimated_seconds"]; raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			job.EstimatedSeconds = parsed
		}
	}

	if raw := fields["result"]; raw != "" {
		job.Result = []byte(raw)
	}

	return job
}
