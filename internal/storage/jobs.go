package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, project_id, job_type, status, target_type, target_id, payload,
	attempts, max_attempts, last_error, available_at, created_at, updated_at, started_at, completed_at`

// StaleJobError is recorded on jobs that were RUNNING when their worker went away
const StaleJobError = "job abandoned while running; worker stopped before finishing"

// Enqueue inserts a PENDING job. It joins the transaction bound to ctx, so
// producers can write a job together with the entity it targets.
func (s *Storage) Enqueue(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", domain.ErrValidation)
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("%w: new jobs must be %s", domain.ErrValidation, domain.JobStatusPending)
	}

	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}

	query := `
		INSERT INTO jobs (
			id, project_id, job_type, status, target_type, target_id, payload,
			attempts, max_attempts, available_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::jsonb,
			$8, $9, $10, $11, $12
		)
	`

	_, err := s.conn(ctx).ExecContext(ctx, query,
		job.ID,
		job.ProjectID,
		job.Type,
		job.Status,
		job.Target.Type,
		job.Target.ID,
		payload,
		job.Attempts,
		job.MaxAttempts,
		job.AvailableAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Debug("Job enqueued",
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)),
		slog.String("target_type", string(job.Target.Type)),
		slog.String("target_id", job.Target.ID.String()),
	)
	return nil
}

// LeaseNext returns up to limit PENDING jobs that are due, oldest first.
// It does not change their status; callers claim a job with MarkRunning.
func (s *Storage) LeaseNext(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND available_at <= $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`

	var jobs []domain.Job
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &jobs, query, domain.JobStatusPending, s.now(), limit); err != nil {
		return nil, fmt.Errorf("failed to lease jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning claims a job with a compare-and-swap on PENDING. When another
// worker got there first it returns domain.ErrJobAlreadyClaimed.
func (s *Storage) MarkRunning(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = $2,
		    completed_at = NULL,
		    updated_at = $2
		WHERE id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var claimed domain.Job
	err := sqlx.GetContext(ctx, s.conn(ctx), &claimed, query,
		domain.JobStatusRunning, s.now(), job.ID, domain.JobStatusPending)
	if err != nil {
		if isNoRows(err) {
			s.logger.Warn("Failed to claim job - already claimed or not pending",
				slog.String("job_id", job.ID.String()),
			)
			return domain.ErrJobAlreadyClaimed
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	*job = claimed
	return nil
}

// MarkSuccess moves a RUNNING job to SUCCESS
func (s *Storage) MarkSuccess(ctx context.Context, job *domain.Job) error {
	next := *job
	if err := next.Succeed(s.now()); err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    last_error = NULL,
		    completed_at = $2,
		    updated_at = $2
		WHERE id = $3
		  AND status = $4
	`

	if err := s.execTransition(ctx, job.ID, query,
		next.Status, *next.CompletedAt, job.ID, domain.JobStatusRunning); err != nil {
		return err
	}

	*job = next
	return nil
}

// MarkFailed records a failed attempt. The job is reopened to PENDING after
// the retry delay unless its attempts are spent or cause is permanent.
func (s *Storage) MarkFailed(ctx context.Context, job *domain.Job, cause error) error {
	if cause == nil {
		cause = errors.New("job failed without an error")
	}

	next := *job
	if err := next.Fail(cause.Error(), domain.IsPermanent(cause), s.now(), s.retryDelay); err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    attempts = $2,
		    last_error = $3,
		    available_at = $4,
		    completed_at = $5,
		    updated_at = $6
		WHERE id = $7
		  AND status = $8
	`

	if err := s.execTransition(ctx, job.ID, query,
		next.Status, next.Attempts, next.LastError, next.AvailableAt, next.CompletedAt, next.UpdatedAt,
		job.ID, domain.JobStatusRunning); err != nil {
		return err
	}

	*job = next
	return nil
}

func (s *Storage) execTransition(ctx context.Context, jobID uuid.UUID, query string, args ...any) error {
	result, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: job %s is no longer %s", domain.ErrInvalidTransition, jobID, domain.JobStatusRunning)
	}
	return nil
}

// RecoverStale charges one attempt to every job left RUNNING for longer than
// olderThan and reopens or fails it. It returns the jobs in their new state.
func (s *Storage) RecoverStale(ctx context.Context, olderThan time.Duration) ([]domain.Job, error) {
	now := s.now()

	query := `
		UPDATE jobs
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN $3 ELSE $4 END,
		    completed_at = CASE WHEN attempts + 1 >= max_attempts THEN $1::timestamptz ELSE NULL END,
		    available_at = $1,
		    updated_at = $1
		WHERE status = $5
		  AND started_at < $6
		RETURNING ` + jobColumns

	var jobs []domain.Job
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &jobs, query,
		now, StaleJobError, domain.JobStatusFailed, domain.JobStatusPending,
		domain.JobStatusRunning, now.Add(-olderThan)); err != nil {
		return nil, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	return jobs, nil
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var job domain.Job
	if err := sqlx.GetContext(ctx, s.conn(ctx), &job, query, id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// JobFilter narrows ListJobs
type JobFilter struct {
	ProjectID uuid.UUID
	JobType   string
	Status    string
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor marks the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     uuid.UUID
}

// ListJobs returns a project's jobs newest first. It fetches one row more
// than PageSize so the caller can tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE project_id = $1
	`
	args := []any{filter.ProjectID}
	argIdx := 2

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
