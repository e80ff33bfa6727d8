package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/docflow/internal/api/dto"
	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/producer"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AIRunHandler handles AI run requests
type AIRunHandler struct {
	logger *slog.Logger
	store  RunReader
	runs   RunCreator
}

// NewAIRunHandler creates a new AIRunHandler instance
func NewAIRunHandler(deps *Dependencies) *AIRunHandler {
	return &AIRunHandler{
		logger: deps.Logger,
		store:  deps.Store,
		runs:   deps.Runs,
	}
}

// CreateRun handles POST /api/v1/projects/:project_id/ai/runs
// Freezes the requested documents into the run input and queues the run
func (h *AIRunHandler) CreateRun(c *gin.Context) {
	projectID, ok := parseUUIDParam(c, "project_id")
	if !ok {
		return
	}

	var req dto.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	documentIDs, err := parseUUIDs(req.DocumentIDs)
	if err != nil {
		respondError(c, h.logger, "Invalid document ids", err)
		return
	}

	run, err := h.runs.Create(c.Request.Context(), producer.CreateRunInput{
		ProjectID:   projectID,
		RunType:     req.RunType,
		DocumentIDs: documentIDs,
		Parameters:  req.Parameters,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to create AI run", err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewRunDTO(run))
}

// GetRun handles GET /api/v1/projects/:project_id/ai/runs/:run_id
func (h *AIRunHandler) GetRun(c *gin.Context) {
	projectID, ok := parseUUIDParam(c, "project_id")
	if !ok {
		return
	}
	runID, ok := parseUUIDParam(c, "run_id")
	if !ok {
		return
	}

	run, err := h.store.GetRun(c.Request.Context(), runID)
	if err == nil && run.ProjectID != projectID {
		err = fmt.Errorf("%w: ai run %s", domain.ErrNotFound, runID)
	}
	if err != nil {
		respondError(c, h.logger, "Failed to get AI run", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewRunDTO(run))
}

// ListRuns handles GET /api/v1/projects/:project_id/ai/runs
func (h *AIRunHandler) ListRuns(c *gin.Context) {
	projectID, ok := parseUUIDParam(c, "project_id")
	if !ok {
		return
	}

	runs, err := h.store.ListRuns(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, h.logger, "Failed to list AI runs", err)
		return
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.RunDTO, len(runs))}
	for i := range runs {
		resp.Runs[i] = dto.NewRunDTO(&runs[i])
	}
	c.JSON(http.StatusOK, resp)
}

// parseUUIDs converts request ids, rejecting the first malformed one
func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid document id %q", domain.ErrValidation, s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
