package domain

// JobType identifies which handler processes a job
type JobType string

// Job type constants
const (
	JobTypeDocumentIngest JobType = "DOCUMENT_INGEST"
	JobTypeAIRun          JobType = "AI_RUN"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

// Job status constants
const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// TargetType names the table a job's target_id points into
type TargetType string

// Target type constants
const (
	TargetDocumentVersion TargetType = "DOCUMENT_VERSION"
	TargetAIRun           TargetType = "AI_RUN"
)

// RunStatus is the lifecycle state of an AI run
type RunStatus string

// AI run status constants
const (
	RunStatusCreated RunStatus = "CREATED"
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// RunTypeDocumentQA is the default AI run type
const RunTypeDocumentQA = "DOCUMENT_QA"

// DefaultMaxAttempts is used when a job is created without an explicit retry budget
const DefaultMaxAttempts = 3

// MaxErrorLength caps persisted error messages
const MaxErrorLength = 4000

func (t JobType) Valid() bool {
	return t == JobTypeDocumentIngest || t == JobTypeAIRun
}

func (t TargetType) Valid() bool {
	return t == TargetDocumentVersion || t == TargetAIRun
}

// Terminal reports whether no further transition is possible without a retry
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}
