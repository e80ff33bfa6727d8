package dto

import (
	"time"

	"github.com/cuongbtq/docflow/internal/domain"
)

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string  `json:"job_id"`
	ProjectID   string  `json:"project_id"`
	JobType     string  `json:"job_type"`
	Status      string  `json:"status"`
	TargetType  string  `json:"target_type"`
	TargetID    string  `json:"target_id"`
	Attempts    int     `json:"attempts"`
	MaxAttempts int     `json:"max_attempts"`
	LastError   *string `json:"last_error,omitempty"`
	AvailableAt string  `json:"available_at"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type JobStatusDTO struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Source string `json:"source"`
}

func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:       job.ID.String(),
		ProjectID:   job.ProjectID.String(),
		JobType:     string(job.Type),
		Status:      string(job.Status),
		TargetType:  string(job.Target.Type),
		TargetID:    job.Target.ID.String(),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		LastError:   job.LastError,
		AvailableAt: formatTime(job.AvailableAt),
		CreatedAt:   formatTime(job.CreatedAt),
		UpdatedAt:   formatTime(job.UpdatedAt),
		StartedAt:   formatTimePtr(job.StartedAt),
		CompletedAt: formatTimePtr(job.CompletedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
