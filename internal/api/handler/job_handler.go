package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/docflow/internal/api/dto"
	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/storage"
	"github.com/cuongbtq/docflow/shared/cache"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	store  JobReader
	cache  cache.StatusCache
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	statusCache := deps.Cache
	if statusCache == nil {
		statusCache = cache.Nop{}
	}
	return &JobHandler{
		logger: deps.Logger,
		store:  deps.Store,
		cache:  statusCache,
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := parseUUIDParam(c, "job_id")
	if !ok {
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// GetJobStatus handles GET /api/v1/jobs/:job_id/status
// Answers from the status cache when it holds the job, else from the database.
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	jobID, ok := parseUUIDParam(c, "job_id")
	if !ok {
		return
	}

	status, found, err := h.cache.GetJobStatus(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Warn("Status cache read failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err == nil && found {
		c.JSON(http.StatusOK, dto.JobStatusDTO{JobID: jobID.String(), Status: status, Source: "cache"})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.JobStatusDTO{JobID: jobID.String(), Status: string(job.Status), Source: "database"})
}

// ListJobs handles GET /api/v1/projects/:project_id/jobs
// Lists a project's jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	projectID, ok := parseUUIDParam(c, "project_id")
	if !ok {
		return
	}

	// 1. Parse query parameters
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	// 2. Validate parameters
	if req.JobType != "" && !domain.JobType(req.JobType).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job_type " + req.JobType})
		return
	}
	if req.Status != "" && !validJobStatus(domain.JobStatus(req.Status)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + req.Status})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	// 3. Decode cursor for pagination
	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// 4. Query one extra row to learn whether another page exists
	jobs, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		ProjectID: projectID,
		JobType:   req.JobType,
		Status:    req.Status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to list jobs", err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

func validJobStatus(s domain.JobStatus) bool {
	switch s {
	case domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusSuccess, domain.JobStatusFailed:
		return true
	}
	return false
}
