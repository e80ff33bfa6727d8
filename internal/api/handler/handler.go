package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/producer"
	"github.com/cuongbtq/docflow/internal/storage"
	"github.com/cuongbtq/docflow/shared/cache"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JobReader reads jobs for the job endpoints
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
}

// DocumentReader reads documents and their versions
type DocumentReader interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	ListDocuments(ctx context.Context, projectID uuid.UUID) ([]domain.Document, error)
	ListVersions(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error)
}

// RunReader reads AI runs
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.AIRun, error)
	ListRuns(ctx context.Context, projectID uuid.UUID) ([]domain.AIRun, error)
}

// Store is everything the read endpoints need from the database
type Store interface {
	JobReader
	DocumentReader
	RunReader
}

// DocumentUploader creates documents and versions
type DocumentUploader interface {
	Upload(ctx context.Context, in producer.UploadInput) (*producer.Upload, error)
	AddVersion(ctx context.Context, in producer.VersionInput) (*producer.Upload, error)
}

// RunCreator creates AI runs
type RunCreator interface {
	Create(ctx context.Context, in producer.CreateRunInput) (*domain.AIRun, error)
}

// HealthChecker reports whether the database answers queries
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	DB             HealthChecker
	Store          Store
	Documents      DocumentUploader
	Runs           RunCreator
	Cache          cache.StatusCache
	MaxUploadBytes int64
}

// userIDHeader carries the acting user. Requests without it are attributed to
// the nil UUID.
const userIDHeader = "X-User-ID"

// respondError maps domain errors to HTTP status codes
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	logger.Warn(msg,
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	c.JSON(status, gin.H{"error": err.Error()})
}

// parseUUIDParam reads a path parameter that must be a UUID. It writes a 400
// and returns false otherwise.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": name + " must be a valid UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader(userIDHeader)
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": userIDHeader + " must be a valid UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}
