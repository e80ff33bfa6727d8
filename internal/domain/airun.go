package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AIRun is one execution of a prompt against a frozen document context
type AIRun struct {
	ID            uuid.UUID        `db:"id"`
	ProjectID     uuid.UUID        `db:"project_id"`
	JobID         *uuid.UUID       `db:"job_id"`
	RunType       string           `db:"run_type"`
	Status        RunStatus        `db:"status"`
	InputPayload  json.RawMessage  `db:"input_payload"`
	OutputPayload *json.RawMessage `db:"output_payload"`
	ErrorMessage  *string          `db:"error_message"`
	CreatedAt     time.Time        `db:"created_at"`
	StartedAt     *time.Time       `db:"started_at"`
	FinishedAt    *time.Time       `db:"finished_at"`
}

// RunInput is the context snapshot taken when the run was created
type RunInput struct {
	RunType          string            `json:"run_type"`
	ContextDocuments []ContextDocument `json:"context_documents"`
	UserParameters   map[string]any    `json:"user_parameters"`
}

// ContextDocument is one document version captured into a run's input
type ContextDocument struct {
	DocumentID    string         `json:"document_id"`
	DocumentTitle string         `json:"document_title"`
	VersionID     string         `json:"version_id"`
	Chunks        []ContextChunk `json:"chunks"`
}

// ContextChunk is one chunk captured into a run's input
type ContextChunk struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
	Index   int    `json:"index"`
}

// RunOutput is written once when a run succeeds
type RunOutput struct {
	Answer string `json:"answer"`
	Model  string `json:"model"`
	Usage  Usage  `json:"usage"`
}

// Usage holds token counters reported by the inference service
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// NewAIRun creates a run in CREATED with its input frozen
func NewAIRun(projectID uuid.UUID, input RunInput) (*AIRun, error) {
	if input.RunType == "" {
		input.RunType = RunTypeDocumentQA
	}
	if input.ContextDocuments == nil {
		input.ContextDocuments = []ContextDocument{}
	}
	if input.UserParameters == nil {
		input.UserParameters = map[string]any{}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: input payload: %v", ErrValidation, err)
	}

	return &AIRun{
		ID:           uuid.New(),
		ProjectID:    projectID,
		RunType:      input.RunType,
		Status:       RunStatusCreated,
		InputPayload: raw,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Start moves the run to RUNNING. FAILED runs restart on job retry and a
// RUNNING run is resumed after a worker crash.
func (r *AIRun) Start(now time.Time) error {
	switch r.Status {
	case RunStatusCreated, RunStatusFailed, RunStatusRunning:
	default:
		return fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, r.ID, r.Status)
	}
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.FinishedAt = nil
	r.ErrorMessage = nil
	return nil
}

// Succeed stores the output and moves the run to SUCCESS
func (r *AIRun) Succeed(out RunOutput, now time.Time) error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("%w: run %s is %s, want %s", ErrInvalidTransition, r.ID, r.Status, RunStatusRunning)
	}
	if r.OutputPayload != nil {
		return fmt.Errorf("%w: run %s already has output", ErrInvalidTransition, r.ID)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal run output: %w", err)
	}
	msg := json.RawMessage(raw)
	r.OutputPayload = &msg
	r.Status = RunStatusSuccess
	r.FinishedAt = &now
	return nil
}

// Fail moves the run to FAILED with the given message
func (r *AIRun) Fail(message string, now time.Time) error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("%w: run %s is %s, want %s", ErrInvalidTransition, r.ID, r.Status, RunStatusRunning)
	}
	message = truncateError(message)
	r.Status = RunStatusFailed
	r.ErrorMessage = &message
	r.FinishedAt = &now
	return nil
}

// Input decodes the frozen input payload. Chunks come back sorted by index.
func (r *AIRun) Input() (RunInput, error) {
	var in RunInput
	if err := json.Unmarshal(r.InputPayload, &in); err != nil {
		return RunInput{}, fmt.Errorf("%w: run %s input payload: %v", ErrValidation, r.ID, err)
	}
	for i := range in.ContextDocuments {
		chunks := in.ContextDocuments[i].Chunks
		sort.SliceStable(chunks, func(a, b int) bool { return chunks[a].Index < chunks[b].Index })
	}
	return in, nil
}

// Output decodes the output payload, if any
func (r *AIRun) Output() (*RunOutput, error) {
	if r.OutputPayload == nil {
		return nil, nil
	}
	var out RunOutput
	if err := json.Unmarshal(*r.OutputPayload, &out); err != nil {
		return nil, fmt.Errorf("run %s output payload: %w", r.ID, err)
	}
	return &out, nil
}

// Question returns user_parameters.question as a string
func (in RunInput) Question() string {
	q, ok := in.UserParameters["question"]
	if !ok || q == nil {
		return ""
	}
	if s, ok := q.(string); ok {
		return s
	}
	return fmt.Sprint(q)
}
