package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/metrics"
)

// processJob claims a leased job, dispatches it under the job timeout and
// records the outcome. The returned error is always a store failure.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) error {
	// Step 1: Claim job (PENDING → RUNNING)
	if err := w.store.MarkRunning(ctx, job); err != nil {
		if isClaimConflict(err) {
			// Another worker won the claim - nothing to do
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", job.ID.String()),
				slog.String("worker_id", w.workerID),
			)
			metrics.ObserveJob(string(job.Type), metrics.OutcomeSkipped, 0)
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}
	w.statusChanged(ctx, job)

	w.logger.Info("Processing job",
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)),
		slog.String("worker_id", w.workerID),
		slog.Int("attempt", job.Attempts+1),
		slog.Int("max_attempts", job.MaxAttempts),
	)

	// Step 2: Execute under the job timeout
	start := time.Now()
	err := w.execute(ctx, job)
	elapsed := time.Since(start)

	// Status updates must land even if shutdown started mid-job
	markCtx := context.WithoutCancel(ctx)

	// Step 3: Record the outcome
	if err == nil {
		if markErr := w.store.MarkSuccess(markCtx, job); markErr != nil {
			return fmt.Errorf("failed to mark job success: %w", markErr)
		}
		w.statusChanged(markCtx, job)
		metrics.ObserveJob(string(job.Type), metrics.OutcomeSuccess, elapsed)

		w.logger.Info("Job completed successfully",
			slog.String("job_id", job.ID.String()),
			slog.String("job_type", string(job.Type)),
			slog.Duration("duration", elapsed),
		)
		return nil
	}

	w.logger.Error("Job execution failed",
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)),
		slog.Bool("permanent", domain.IsPermanent(err)),
		slog.String("error", err.Error()),
	)

	if markErr := w.store.MarkFailed(markCtx, job, err); markErr != nil {
		return fmt.Errorf("failed to mark job failed: %w", markErr)
	}
	w.statusChanged(markCtx, job)

	if job.Status == domain.JobStatusPending {
		metrics.ObserveJob(string(job.Type), metrics.OutcomeRetry, elapsed)
		w.logger.Info("Job will be retried",
			slog.String("job_id", job.ID.String()),
			slog.Int("attempts", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Time("available_at", job.AvailableAt),
		)
		return nil
	}

	metrics.ObserveJob(string(job.Type), metrics.OutcomeFailed, elapsed)
	w.logger.Warn("Job exceeded max attempts",
		slog.String("job_id", job.ID.String()),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
	)
	return nil
}

// execute dispatches the job. A handler that panics or outlives the job
// timeout fails the attempt instead of the worker. Cancelling ctx does not
// reach the handler: a claimed job runs to completion or to its timeout, and
// shutdown only stops the next lease.
func (w *Worker) execute(ctx context.Context, job *domain.Job) (err error) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	err = w.dispatcher.Dispatch(jobCtx, job)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: job timed out after %s: %v", domain.ErrTransientIO, w.jobTimeout, err)
	}
	return err
}
