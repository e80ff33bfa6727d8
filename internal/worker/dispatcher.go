package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/google/uuid"
)

// Handler executes one job type
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *domain.Job) error

// Handle calls f(ctx, job)
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

// TargetLookup reports whether the entity a job points at exists
type TargetLookup func(ctx context.Context, id uuid.UUID) (bool, error)

// Dispatcher routes jobs to the handler registered for their type
type Dispatcher struct {
	handlers map[domain.JobType]Handler
	targets  map[domain.TargetType]TargetLookup
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.JobType]Handler),
		targets:  make(map[domain.TargetType]TargetLookup),
		logger:   logger,
	}
}

// Register binds a handler to a job type, replacing any previous one
func (d *Dispatcher) Register(jobType domain.JobType, h Handler) {
	d.handlers[jobType] = h
}

// RegisterTarget binds an existence check to a target type
func (d *Dispatcher) RegisterTarget(targetType domain.TargetType, lookup TargetLookup) {
	d.targets[targetType] = lookup
}

// Dispatch resolves the job's target and runs its handler. An unregistered
// job type is a permanent failure.
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.Job) error {
	h, ok := d.handlers[job.Type]
	if !ok {
		return domain.NewPermanentError(fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.Type))
	}

	if err := d.resolveTarget(ctx, job.Target); err != nil {
		return err
	}

	d.logger.Debug("Dispatching job",
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)),
	)
	return h.Handle(ctx, job)
}

func (d *Dispatcher) resolveTarget(ctx context.Context, target domain.Target) error {
	lookup, ok := d.targets[target.Type]
	if !ok {
		return domain.NewPermanentError(fmt.Errorf("%w: no lookup for target_type %q", domain.ErrValidation, target.Type))
	}

	exists, err := lookup(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("failed to resolve target %s %s: %w", target.Type, target.ID, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, target.Type, target.ID)
	}
	return nil
}
