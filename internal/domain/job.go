package domain

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Target is the entity a job operates on. Type selects the table, ID the row.
type Target struct {
	Type TargetType `db:"target_type" json:"target_type"`
	ID   uuid.UUID  `db:"target_id" json:"target_id"`
}

// Job is a durable, queued unit of deferred work
type Job struct {
	ID        uuid.UUID `db:"id"`
	ProjectID uuid.UUID `db:"project_id"`
	Type      JobType   `db:"job_type"`
	Status    JobStatus `db:"status"`
	Target
	Payload     json.RawMessage `db:"payload"`
	Attempts    int             `db:"attempts"`
	MaxAttempts int             `db:"max_attempts"`
	LastError   *string         `db:"last_error"`
	AvailableAt time.Time       `db:"available_at"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	StartedAt   *time.Time      `db:"started_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}

// IngestPayload is the payload of a DOCUMENT_INGEST job
type IngestPayload struct {
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
}

// RunPayload is the payload of an AI_RUN job
type RunPayload struct {
	RunID string `json:"run_id"`
}

// NewJob builds a PENDING job. payload is marshaled to JSON; nil becomes {}.
func NewJob(projectID uuid.UUID, jobType JobType, target Target, payload any, maxAttempts int) (*Job, error) {
	raw := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrValidation, err)
		}
		raw = b
	}
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Type:        jobType,
		Status:      JobStatusPending,
		Target:      target,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks the fields enqueue depends on
func (j *Job) Validate() error {
	switch {
	case j.Type == "":
		return fmt.Errorf("%w: job_type is required", ErrValidation)
	case !j.Type.Valid():
		return fmt.Errorf("%w: unsupported job_type %q", ErrValidation, j.Type)
	case j.Target.Type == "":
		return fmt.Errorf("%w: target_type is required", ErrValidation)
	case !j.Target.Type.Valid():
		return fmt.Errorf("%w: unsupported target_type %q", ErrValidation, j.Target.Type)
	case j.Target.ID == uuid.Nil:
		return fmt.Errorf("%w: target_id is required", ErrValidation)
	case j.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrValidation)
	case len(j.Payload) > 0 && !json.Valid(j.Payload):
		return fmt.Errorf("%w: payload must be valid JSON", ErrValidation)
	}
	return nil
}

// Start moves a PENDING job to RUNNING
func (j *Job) Start(now time.Time) error {
	if j.Status != JobStatusPending {
		return fmt.Errorf("%w: job %s is %s, want %s", ErrInvalidTransition, j.ID, j.Status, JobStatusPending)
	}
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.CompletedAt = nil
	j.UpdatedAt = now
	return nil
}

// Succeed moves a RUNNING job to SUCCESS
func (j *Job) Succeed(now time.Time) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("%w: job %s is %s, want %s", ErrInvalidTransition, j.ID, j.Status, JobStatusRunning)
	}
	j.Status = JobStatusSuccess
	j.LastError = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Fail records a failed attempt on a RUNNING job. The job goes back to
// PENDING, eligible again after retryDelay, while attempts remain; otherwise
// it ends FAILED. A permanent failure spends the whole budget at once.
func (j *Job) Fail(reason string, permanent bool, now time.Time, retryDelay time.Duration) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("%w: job %s is %s, want %s", ErrInvalidTransition, j.ID, j.Status, JobStatusRunning)
	}

	reason = truncateError(reason)
	j.LastError = &reason
	j.UpdatedAt = now

	if permanent {
		j.Attempts = j.MaxAttempts
	} else {
		j.Attempts++
	}

	if j.Exhausted() {
		j.Status = JobStatusFailed
		j.CompletedAt = &now
		return nil
	}

	j.Status = JobStatusPending
	j.AvailableAt = now.Add(retryDelay)
	j.CompletedAt = nil
	return nil
}

// Exhausted reports whether the retry budget is spent
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// DecodePayload unmarshals the job payload into v
func (j *Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("%w: job %s payload: %v", ErrValidation, j.ID, err)
	}
	return nil
}

func truncateError(s string) string {
	if len(s) <= MaxErrorLength {
		return s
	}
	cut := MaxErrorLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
