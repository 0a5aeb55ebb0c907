// Package inference models the opaque inference operations the coordination
// layer fronts. Runners are injected values, not module-level singletons;
// the registry owns the per-kind timeout budget and failure classification
// so callers see a uniform typed result.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshuarp/inference-api/internal/domain"
	"github.com/joshuarp/inference-api/internal/domain/vo"
)

// Runner executes one inference kind. Implementations own model lifecycle
// and resource pooling; the coordination layer never looks inside.
type Runner interface {
	// Run performs inference on resource with kind-specific params and
	// returns the serialized result payload.
	Run(ctx context.Context, resource string, params map[string]string) ([]byte, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, resource string, params map[string]string) ([]byte, error)

func (f RunnerFunc) Run(ctx context.Context, resource string, params map[string]string) ([]byte, error) {
	return f(ctx, resource, params)
}

// Config holds the per-kind timeout budgets. Zero entries fall back to
// DefaultTimeout.
type Config struct {
	Timeouts       map[domain.Kind]time.Duration
	DefaultTimeout time.Duration
}

const fallbackTimeout = 30 * time.Second

// Registry dispatches to the Runner registered for each kind, bounding every
// run by the kind's timeout budget.
type Registry struct {
	runners map[domain.Kind]Runner
	config  Config
}

// NewRegistry creates a registry with the given runners.
func NewRegistry(runners map[domain.Kind]Runner, config Config) *Registry {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = fallbackTimeout
	}

	owned := make(map[domain.Kind]Runner, len(runners))
	for kind, runner := range runners {
		owned[kind] = runner
	}

	return &Registry{runners: owned, config: config}
}

// TimeoutFor returns the configured timeout budget for a kind.
func (r *Registry) TimeoutFor(kind domain.Kind) time.Duration {
	if timeout, ok := r.config.Timeouts[kind]; ok && timeout > 0 {
		return timeout
	}
	return r.config.DefaultTimeout
}

// Supports reports whether a runner is registered for kind.
func (r *Registry) Supports(kind domain.Kind) bool {
	_, ok := r.runners[kind]
	return ok
}

// Run executes the kind's runner under its timeout budget. Deadline expiry
// is classified as vo.ErrInferTimeout; every other runner failure propagates
// wrapped, so callers can distinguish timeout from processing error.
func (r *Registry) Run(ctx context.Context, kind domain.Kind, resource string, params map[string]string) ([]byte, error) {
	runner, ok := r.runners[kind]
	if !ok {
		return nil, fmt.Errorf("inference: %w: %s", vo.ErrUnsupportedKind, kind)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.TimeoutFor(kind))
	defer cancel()

	payload, err := runner.Run(runCtx, resource, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("inference: %w: kind %s exceeded %s", vo.ErrInferTimeout, kind, r.TimeoutFor(kind))
		}
		return nil, fmt.Errorf("inference: run for kind %q failed: %w", kind, err)
	}

	return payload, nil
}
