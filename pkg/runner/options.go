package runner

import (
	"log/slog"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

// DefaultMaxSteps bounds the nodes executed by a single Start or Resume call.
const DefaultMaxSteps = 100

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithHooks registers lifecycle callbacks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Runner) {
		r.hooks = hooks
	}
}

// WithMaxSteps overrides DefaultMaxSteps. Zero or negative disables the limit.
func WithMaxSteps(n int) Option {
	return func(r *Runner) {
		r.maxSteps = n
	}
}

// WithLocker serializes thread access across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(r *Runner) {
		r.locker = locker
	}
}

// WithClock overrides time.Now for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}
