package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/inference"
)

// ErrDispatcherStopped is returned by Enqueue after Stop has begun.
var ErrDispatcherStopped = errors.New("dispatcher is stopped")

// ErrQueueFull is returned when the job queue cannot accept more work.
var ErrQueueFull = errors.New("job queue is full")

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	// Workers is the number of concurrent job consumers.
	Workers int

	// QueueSize bounds the handoff queue between submitters and workers.
	QueueSize int
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
)

// Dispatcher decouples job submission from job runtime: the submitting
// request enqueues a job description and returns immediately; a worker pool
// consumes the queue and drives the PENDING -> terminal transitions. Stop
// drains in-flight jobs so shutdown never strands a PROCESSING record.
type Dispatcher struct {
	queue    chan domain.Job
	service  *JobService
	registry *inference.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given job service and
// inference registry.
func NewDispatcher(service *JobService, registry *inference.Registry, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		queue:    make(chan domain.Job, config.QueueSize),
		service:  service,
		registry: registry,
		logger:   logger,
	}

	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Enqueue hands a created job to the worker pool. Non-blocking: a full
// queue is surfaced to the submitter instead of stalling its request.
func (d *Dispatcher) Enqueue(job domain.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- job:
		return nil
	default:
		return fmt.Errorf("dispatcher: %w", ErrQueueFull)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish, or for ctx
// to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher: drain interrupted: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.queue {
		d.process(job)
	}
}

// process drives one job to a terminal state. Jobs outlive the submitting
// request, so work runs under a background context; the registry applies
// the kind's timeout budget.
func (d *Dispatcher) process(job domain.Job) {
	ctx := context.Background()

	progress := 10
	if err := d.service.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, JobUpdate{Progress: &progress}); err != nil {
		d.logger.Error("failed to mark job processing", "job_id", job.ID, "error", err)
		return
	}

	payload, err := d.registry.Run(ctx, job.Kind, job.Resource, job.Params)
	if err != nil {
		if updateErr := d.service.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, JobUpdate{Error: err.Error()}); updateErr != nil {
			d.logger.Error("failed to mark job failed", "job_id", job.ID, "error", updateErr)
		}
		d.logger.Warn("job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		return
	}

	progress = 100
	if err := d.service.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, JobUpdate{Progress: &progress, Result: payload}); err != nil {
		d.logger.Error("failed to mark job completed", "job_id", job.ID, "error", err)
		return
	}

	d.logger.Info("job completed", "job_id", job.ID, "kind", job.Kind)
}
