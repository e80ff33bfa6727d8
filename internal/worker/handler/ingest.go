// Package handler holds the job handlers the worker dispatches to.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/metrics"
	"github.com/cuongbtq/docflow/shared/blobstore"
	"github.com/google/uuid"
)

// IngestStore is the persistence the ingestion handler needs
type IngestStore interface {
	GetVersion(ctx context.Context, id uuid.UUID) (*domain.DocumentVersion, error)
	CountChunks(ctx context.Context, versionID uuid.UUID) (int, error)
	InsertChunks(ctx context.Context, versionID uuid.UUID, chunks []domain.DocumentChunk) (int, error)
}

// Ingest turns a stored document version into ordered text chunks
type Ingest struct {
	store     IngestStore
	blobs     blobstore.Store
	chunkSize int
	logger    *slog.Logger
}

// NewIngest creates the DOCUMENT_INGEST handler
func NewIngest(store IngestStore, blobs blobstore.Store, chunkSize int, logger *slog.Logger) *Ingest {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Ingest{
		store:     store,
		blobs:     blobs,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Handle ingests the version named by job.Target.ID. A version that already
// has chunks is left untouched.
func (h *Ingest) Handle(ctx context.Context, job *domain.Job) error {
	versionID := job.Target.ID

	version, err := h.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}

	existing, err := h.store.CountChunks(ctx, versionID)
	if err != nil {
		return err
	}
	if existing > 0 {
		h.logger.Info("Version already chunked, skipping ingestion",
			slog.String("job_id", job.ID.String()),
			slog.String("version_id", versionID.String()),
			slog.Int("chunks", existing),
		)
		return nil
	}

	path := version.FilePath
	if path == "" {
		var payload domain.IngestPayload
		if err := job.DecodePayload(&payload); err != nil {
			return err
		}
		path = payload.FilePath
	}

	data, err := h.blobs.Read(ctx, path)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}

	if !utf8.Valid(data) {
		return fmt.Errorf("%w: version %s is not valid UTF-8", domain.ErrDecode, versionID)
	}

	pieces := SplitChunks(string(data), h.chunkSize)
	if len(pieces) == 0 {
		h.logger.Info("Version is empty, nothing to chunk",
			slog.String("job_id", job.ID.String()),
			slog.String("version_id", versionID.String()),
		)
		return nil
	}

	now := time.Now().UTC()
	chunks := make([]domain.DocumentChunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = domain.DocumentChunk{
			ID:                uuid.New(),
			DocumentVersionID: versionID,
			ChunkIndex:        i,
			Text:              text,
			CreatedAt:         now,
		}
	}

	inserted, err := h.store.InsertChunks(ctx, versionID, chunks)
	if err != nil {
		return err
	}
	metrics.AddChunksInserted(inserted)

	h.logger.Info("Document version ingested",
		slog.String("job_id", job.ID.String()),
		slog.String("version_id", versionID.String()),
		slog.Int("chunks", inserted),
		slog.Int("bytes", len(data)),
	)
	return nil
}
