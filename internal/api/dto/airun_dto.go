package dto

import (
	"encoding/json"

	"github.com/cuongbtq/docflow/internal/domain"
)

type CreateRunRequest struct {
	RunType     string         `json:"run_type"`
	DocumentIDs []string       `json:"document_ids"`
	Parameters  map[string]any `json:"parameters"`
}

type RunDTO struct {
	RunID        string           `json:"run_id"`
	ProjectID    string           `json:"project_id"`
	JobID        *string          `json:"job_id,omitempty"`
	RunType      string           `json:"run_type"`
	Status       string           `json:"status"`
	Input        json.RawMessage  `json:"input"`
	Output       *json.RawMessage `json:"output,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	CreatedAt    string           `json:"created_at"`
	StartedAt    *string          `json:"started_at,omitempty"`
	FinishedAt   *string          `json:"finished_at,omitempty"`
}

type ListRunsResponse struct {
	Runs []RunDTO `json:"runs"`
}

func NewRunDTO(run *domain.AIRun) RunDTO {
	out := RunDTO{
		RunID:        run.ID.String(),
		ProjectID:    run.ProjectID.String(),
		RunType:      run.RunType,
		Status:       string(run.Status),
		Input:        run.InputPayload,
		Output:       run.OutputPayload,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    formatTime(run.CreatedAt),
		StartedAt:    formatTimePtr(run.StartedAt),
		FinishedAt:   formatTimePtr(run.FinishedAt),
	}
	if run.JobID != nil {
		id := run.JobID.String()
		out.JobID = &id
	}
	return out
}
