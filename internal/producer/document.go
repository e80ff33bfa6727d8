// Package producer creates domain entities together with the jobs that
// process them.
package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/metrics"
	"github.com/cuongbtq/docflow/internal/notify"
	"github.com/cuongbtq/docflow/shared/blobstore"
	"github.com/google/uuid"
)

// Transactor runs fn in one database transaction
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// JobWriter enqueues jobs, joining the transaction bound to ctx
type JobWriter interface {
	Enqueue(ctx context.Context, job *domain.Job) error
}

// DocumentStore is the persistence DocumentService needs
type DocumentStore interface {
	Transactor
	JobWriter
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	NextVersionNumber(ctx context.Context, documentID uuid.UUID) (int, error)
	CreateVersion(ctx context.Context, v *domain.DocumentVersion) error
}

// DocumentService stores uploaded documents and queues their ingestion
type DocumentService struct {
	store       DocumentStore
	blobs       blobstore.Store
	notifier    notify.Notifier
	maxAttempts int
	logger      *slog.Logger
}

// NewDocumentService creates a DocumentService. maxAttempts of 0 uses the
// job default.
func NewDocumentService(store DocumentStore, blobs blobstore.Store, notifier notify.Notifier, maxAttempts int, logger *slog.Logger) *DocumentService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &DocumentService{
		store:       store,
		blobs:       blobs,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// UploadInput is a new document's first version
type UploadInput struct {
	ProjectID uuid.UUID
	CreatedBy uuid.UUID
	FileName  string
	Content   []byte
}

// VersionInput is a new version of an existing document
type VersionInput struct {
	ProjectID  uuid.UUID
	DocumentID uuid.UUID
	CreatedBy  uuid.UUID
	FileName   string
	Content    []byte
}

// Upload is the result of storing a version
type Upload struct {
	Document *domain.Document
	Version  *domain.DocumentVersion
	Job      *domain.Job
}

// Upload saves the bytes, then creates the document, its first version and
// the ingestion job in one transaction.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*Upload, error) {
	if in.ProjectID == uuid.Nil {
		return nil, fmt.Errorf("%w: project_id is required", domain.ErrValidation)
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	filePath, err := domain.DocumentPath(in.ProjectID, in.FileName, 1)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:        uuid.New(),
		ProjectID: in.ProjectID,
		Title:     titleFor(in.FileName),
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
	}
	version := &domain.DocumentVersion{
		ID:            uuid.New(),
		DocumentID:    doc.ID,
		VersionNumber: 1,
		FilePath:      filePath,
		ContentHash:   domain.ContentHash(in.Content),
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
	}
	job, err := s.ingestJob(in.ProjectID, version, in.FileName)
	if err != nil {
		return nil, err
	}

	created, err := s.saveBlob(ctx, filePath, in.Content)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateDocument(ctx, doc); err != nil {
			return err
		}
		if err := s.store.CreateVersion(ctx, version); err != nil {
			return err
		}
		return s.store.Enqueue(ctx, job)
	})
	if err != nil {
		s.discardBlob(ctx, filePath, created)
		return nil, err
	}

	s.enqueued(ctx, job)
	s.logger.Info("Document uploaded",
		slog.String("document_id", doc.ID.String()),
		slog.String("version_id", version.ID.String()),
		slog.String("job_id", job.ID.String()),
		slog.Int("bytes", len(in.Content)),
	)
	return &Upload{Document: doc, Version: version, Job: job}, nil
}

// AddVersion stores a new version of an existing document and queues its
// ingestion. Earlier versions are left untouched.
func (s *DocumentService) AddVersion(ctx context.Context, in VersionInput) (*Upload, error) {
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.ProjectID != in.ProjectID {
		return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, in.DocumentID)
	}

	fileName := in.FileName
	if fileName == "" {
		fileName = doc.Title
	}

	var (
		version *domain.DocumentVersion
		job     *domain.Job
		path    string
		created bool
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		next, err := s.store.NextVersionNumber(ctx, doc.ID)
		if err != nil {
			return err
		}

		path, err = domain.DocumentPath(doc.ProjectID, fileName, next)
		if err != nil {
			return err
		}

		version = &domain.DocumentVersion{
			ID:            uuid.New(),
			DocumentID:    doc.ID,
			VersionNumber: next,
			FilePath:      path,
			ContentHash:   domain.ContentHash(in.Content),
			CreatedBy:     in.CreatedBy,
			CreatedAt:     time.Now().UTC(),
		}
		job, err = s.ingestJob(doc.ProjectID, version, fileName)
		if err != nil {
			return err
		}

		// The document row is locked, so no other version can claim this path.
		created, err = s.saveBlob(ctx, path, in.Content)
		if err != nil {
			return err
		}

		if err := s.store.CreateVersion(ctx, version); err != nil {
			return err
		}
		return s.store.Enqueue(ctx, job)
	})
	if err != nil {
		if path != "" {
			s.discardBlob(ctx, path, created)
		}
		return nil, err
	}

	s.enqueued(ctx, job)
	s.logger.Info("Document version added",
		slog.String("document_id", doc.ID.String()),
		slog.String("version_id", version.ID.String()),
		slog.Int("version_number", version.VersionNumber),
		slog.String("job_id", job.ID.String()),
	)
	return &Upload{Document: doc, Version: version, Job: job}, nil
}

func (s *DocumentService) ingestJob(projectID uuid.UUID, version *domain.DocumentVersion, fileName string) (*domain.Job, error) {
	return domain.NewJob(projectID, domain.JobTypeDocumentIngest,
		domain.Target{Type: domain.TargetDocumentVersion, ID: version.ID},
		domain.IngestPayload{FileName: fileName, FilePath: version.FilePath},
		s.maxAttempts)
}

// saveBlob writes data at p unless different bytes are already stored there.
// It reports whether it created the blob.
func (s *DocumentService) saveBlob(ctx context.Context, p string, data []byte) (bool, error) {
	existing, err := s.blobs.Read(ctx, p)
	switch {
	case err == nil:
		if bytes.Equal(existing, data) {
			return false, nil
		}
		return false, fmt.Errorf("%w: a different file is already stored at %s", domain.ErrValidation, p)
	case !errors.Is(err, blobstore.ErrNotFound):
		return false, fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}

	if err := s.blobs.Save(ctx, p, data); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
	}
	return true, nil
}

// discardBlob removes a blob written for a transaction that rolled back
func (s *DocumentService) discardBlob(ctx context.Context, p string, created bool) {
	if !created {
		return
	}
	if err := s.blobs.Delete(context.WithoutCancel(ctx), p); err != nil {
		s.logger.Warn("Failed to remove orphaned blob",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}

func (s *DocumentService) enqueued(ctx context.Context, job *domain.Job) {
	metrics.IncJobsEnqueued(string(job.Type))
	s.notifier.JobEnqueued(ctx, job.ID)
}

func validateContent(content []byte) error {
	if !utf8.Valid(content) {
		return fmt.Errorf("%w: file must be valid UTF-8 text", domain.ErrValidation)
	}
	return nil
}

// titleFor is the file name without any directory part
func titleFor(fileName string) string {
	name := strings.ReplaceAll(fileName, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
