package storage

import (
	"context"
	"fmt"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const runColumns = `id, project_id, job_id, run_type, status, input_payload, output_payload,
	error_message, created_at, started_at, finished_at`

// CreateRun inserts an AI run in CREATED
func (s *Storage) CreateRun(ctx context.Context, run *domain.AIRun) error {
	query := `
		INSERT INTO ai_runs (id, project_id, job_id, run_type, status, input_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		run.ID, run.ProjectID, run.JobID, run.RunType, run.Status, string(run.InputPayload), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ai run: %w", err)
	}
	return nil
}

// GetRun retrieves an AI run by its ID
func (s *Storage) GetRun(ctx context.Context, id uuid.UUID) (*domain.AIRun, error) {
	query := `SELECT ` + runColumns + ` FROM ai_runs WHERE id = $1`

	var run domain.AIRun
	if err := sqlx.GetContext(ctx, s.conn(ctx), &run, query, id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: ai run %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get ai run: %w", err)
	}
	return &run, nil
}

// ListRuns returns a project's runs newest first
func (s *Storage) ListRuns(ctx context.Context, projectID uuid.UUID) ([]domain.AIRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM ai_runs
		WHERE project_id = $1
		ORDER BY created_at DESC, id DESC
	`

	runs := []domain.AIRun{}
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &runs, query, projectID); err != nil {
		return nil, fmt.Errorf("failed to list ai runs: %w", err)
	}
	return runs, nil
}

// RunExists reports whether an AI run row exists
func (s *Storage) RunExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, s.conn(ctx), &exists,
		`SELECT EXISTS (SELECT 1 FROM ai_runs WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check ai run: %w", err)
	}
	return exists, nil
}

// StartRun moves a run to RUNNING
func (s *Storage) StartRun(ctx context.Context, run *domain.AIRun) error {
	next := *run
	if err := next.Start(s.now()); err != nil {
		return err
	}

	query := `
		UPDATE ai_runs
		SET status = $1,
		    started_at = $2,
		    finished_at = NULL,
		    error_message = NULL
		WHERE id = $3
		  AND status IN ($4, $5, $6)
	`
	if err := s.execRunTransition(ctx, run.ID, query,
		next.Status, next.StartedAt, run.ID,
		domain.RunStatusCreated, domain.RunStatusFailed, domain.RunStatusRunning); err != nil {
		return err
	}

	*run = next
	return nil
}

// CompleteRun stores the output and moves a RUNNING run to SUCCESS. Output
// is only ever written once.
func (s *Storage) CompleteRun(ctx context.Context, run *domain.AIRun, out domain.RunOutput) error {
	next := *run
	if err := next.Succeed(out, s.now()); err != nil {
		return err
	}

	query := `
		UPDATE ai_runs
		SET status = $1,
		    output_payload = $2::jsonb,
		    finished_at = $3
		WHERE id = $4
		  AND status = $5
		  AND output_payload IS NULL
	`
	if err := s.execRunTransition(ctx, run.ID, query,
		next.Status, string(*next.OutputPayload), next.FinishedAt, run.ID, domain.RunStatusRunning); err != nil {
		return err
	}

	*run = next
	return nil
}

// FailRun moves a RUNNING run to FAILED with message
func (s *Storage) FailRun(ctx context.Context, run *domain.AIRun, message string) error {
	next := *run
	if err := next.Fail(message, s.now()); err != nil {
		return err
	}

	query := `
		UPDATE ai_runs
		SET status = $1,
		    error_message = $2,
		    finished_at = $3
		WHERE id = $4
		  AND status = $5
	`
	if err := s.execRunTransition(ctx, run.ID, query,
		next.Status, next.ErrorMessage, next.FinishedAt, run.ID, domain.RunStatusRunning); err != nil {
		return err
	}

	*run = next
	return nil
}

func (s *Storage) execRunTransition(ctx context.Context, runID uuid.UUID, query string, args ...any) error {
	result, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update ai run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: ai run %s changed concurrently", domain.ErrInvalidTransition, runID)
	}
	return nil
}
