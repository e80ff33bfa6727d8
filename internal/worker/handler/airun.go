package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/metrics"
	"github.com/cuongbtq/docflow/shared/inference"
	"github.com/google/uuid"
)

// DefaultModel is the inference model used when none is configured
const DefaultModel = "gpt-4o-mini"

// failRunTimeout bounds the FAILED write, which runs detached from the job
// context so it lands after a timeout
const failRunTimeout = 5 * time.Second

// RunStore is the persistence the AI-run handler needs
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.AIRun, error)
	StartRun(ctx context.Context, run *domain.AIRun) error
	CompleteRun(ctx context.Context, run *domain.AIRun, out domain.RunOutput) error
	FailRun(ctx context.Context, run *domain.AIRun, message string) error
}

// Completer is the inference service
type Completer interface {
	Complete(ctx context.Context, req inference.Request) (*inference.Response, error)
}

// AIRun executes one AI run against its frozen context
type AIRun struct {
	store  RunStore
	llm    Completer
	model  string
	logger *slog.Logger
}

// NewAIRun creates the AI_RUN handler
func NewAIRun(store RunStore, llm Completer, model string, logger *slog.Logger) *AIRun {
	if model == "" {
		model = DefaultModel
	}
	return &AIRun{
		store:  store,
		llm:    llm,
		model:  model,
		logger: logger,
	}
}

// Handle runs inference for the run named by the payload's run_id, falling
// back to job.Target.ID. A run that already succeeded is not executed again.
func (h *AIRun) Handle(ctx context.Context, job *domain.Job) error {
	runID, err := runIDFor(job)
	if err != nil {
		return err
	}

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status == domain.RunStatusSuccess {
		h.logger.Info("AI run already succeeded, skipping",
			slog.String("job_id", job.ID.String()),
			slog.String("run_id", run.ID.String()),
		)
		return nil
	}

	if err := h.store.StartRun(ctx, run); err != nil {
		return err
	}

	input, err := run.Input()
	if err != nil {
		return h.fail(ctx, run, domain.NewPermanentError(err))
	}

	start := time.Now()
	resp, err := h.llm.Complete(ctx, inference.Request{
		Model:       h.model,
		Messages:    BuildMessages(input),
		Temperature: 0,
	})
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveInference(h.model, false, elapsed, 0, 0)
		return h.fail(ctx, run, classifyInferenceError(err))
	}
	metrics.ObserveInference(resp.Model, true, elapsed, resp.PromptTokens, resp.CompletionTokens)

	out := domain.RunOutput{
		Answer: resp.Answer,
		Model:  resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
		},
	}
	if out.Model == "" {
		out.Model = h.model
	}

	if err := h.store.CompleteRun(ctx, run, out); err != nil {
		return h.fail(ctx, run, err)
	}

	h.logger.Info("AI run completed",
		slog.String("job_id", job.ID.String()),
		slog.String("run_id", run.ID.String()),
		slog.String("model", out.Model),
		slog.Int64("prompt_tokens", out.Usage.PromptTokens),
		slog.Int64("completion_tokens", out.Usage.CompletionTokens),
		slog.Duration("latency", elapsed),
	)
	return nil
}

// fail records cause on the run and returns it for the job
func (h *AIRun) fail(ctx context.Context, run *domain.AIRun, cause error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failRunTimeout)
	defer cancel()

	if err := h.store.FailRun(failCtx, run, cause.Error()); err != nil {
		h.logger.Error("Failed to mark AI run as failed",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return cause
}

// runIDFor reads the run id from the payload. A payload that cannot name a
// run fails the job permanently.
func runIDFor(job *domain.Job) (uuid.UUID, error) {
	var payload domain.RunPayload
	if err := job.DecodePayload(&payload); err != nil {
		return uuid.Nil, domain.NewPermanentError(err)
	}
	if payload.RunID == "" {
		return job.Target.ID, nil
	}
	id, err := uuid.Parse(payload.RunID)
	if err != nil {
		return uuid.Nil, domain.NewPermanentError(
			fmt.Errorf("%w: invalid run_id %q", domain.ErrValidation, payload.RunID))
	}
	return id, nil
}

// classifyInferenceError maps inference failures onto the job error taxonomy
func classifyInferenceError(err error) error {
	switch {
	case errors.Is(err, inference.ErrRejected):
		return domain.NewPermanentError(fmt.Errorf("%w: %v", domain.ErrInferenceRejected, err))
	default:
		return fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}
}
