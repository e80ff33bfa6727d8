package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/metrics"
	"github.com/cuongbtq/docflow/internal/notify"
	"github.com/google/uuid"
)

// RunStore is the persistence AIRunService needs
type RunStore interface {
	Transactor
	JobWriter
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	LatestVersion(ctx context.Context, documentID uuid.UUID) (*domain.DocumentVersion, error)
	ListChunks(ctx context.Context, versionID uuid.UUID) ([]domain.DocumentChunk, error)
	CreateRun(ctx context.Context, run *domain.AIRun) error
}

// AIRunService freezes a run's document context and queues its execution
type AIRunService struct {
	store       RunStore
	notifier    notify.Notifier
	maxAttempts int
	logger      *slog.Logger
}

// NewAIRunService creates an AIRunService
func NewAIRunService(store RunStore, notifier notify.Notifier, maxAttempts int, logger *slog.Logger) *AIRunService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &AIRunService{
		store:       store,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// CreateRunInput describes a run request
type CreateRunInput struct {
	ProjectID   uuid.UUID
	RunType     string
	DocumentIDs []uuid.UUID
	Parameters  map[string]any
}

// Create snapshots the latest version of every requested document into the
// run input, then writes the job and the run in one transaction.
func (s *AIRunService) Create(ctx context.Context, in CreateRunInput) (*domain.AIRun, error) {
	if in.RunType == "" {
		in.RunType = domain.RunTypeDocumentQA
	}
	if in.RunType != domain.RunTypeDocumentQA {
		return nil, fmt.Errorf("%w: unsupported run_type %q", domain.ErrValidation, in.RunType)
	}

	input := domain.RunInput{RunType: in.RunType, UserParameters: in.Parameters}
	if strings.TrimSpace(input.Question()) == "" {
		return nil, fmt.Errorf("%w: parameters.question is required", domain.ErrValidation)
	}

	docs, err := s.snapshot(ctx, in.ProjectID, in.DocumentIDs)
	if err != nil {
		return nil, err
	}
	input.ContextDocuments = docs

	run, err := domain.NewAIRun(in.ProjectID, input)
	if err != nil {
		return nil, err
	}
	job, err := domain.NewJob(in.ProjectID, domain.JobTypeAIRun,
		domain.Target{Type: domain.TargetAIRun, ID: run.ID},
		domain.RunPayload{RunID: run.ID.String()},
		s.maxAttempts)
	if err != nil {
		return nil, err
	}
	run.JobID = &job.ID

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.Enqueue(ctx, job); err != nil {
			return err
		}
		return s.store.CreateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncJobsEnqueued(string(job.Type))
	s.notifier.JobEnqueued(ctx, job.ID)

	s.logger.Info("AI run created",
		slog.String("run_id", run.ID.String()),
		slog.String("job_id", job.ID.String()),
		slog.Int("documents", len(docs)),
	)
	return run, nil
}

// snapshot resolves each document's latest version and its chunks.
// Documents without a version are skipped.
func (s *AIRunService) snapshot(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID) ([]domain.ContextDocument, error) {
	seen := make(map[uuid.UUID]bool, len(ids))
	docs := make([]domain.ContextDocument, 0, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		doc, err := s.store.GetDocument(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if doc == nil || doc.ProjectID != projectID {
			return nil, fmt.Errorf("%w: document %s not found or does not belong to project %s",
				domain.ErrValidation, id, projectID)
		}

		version, err := s.store.LatestVersion(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}

		chunks, err := s.store.ListChunks(ctx, version.ID)
		if err != nil {
			return nil, err
		}

		cd := domain.ContextDocument{
			DocumentID:    doc.ID.String(),
			DocumentTitle: doc.Title,
			VersionID:     version.ID.String(),
			Chunks:        make([]domain.ContextChunk, len(chunks)),
		}
		for i, c := range chunks {
			cd.Chunks[i] = domain.ContextChunk{ChunkID: c.ID.String(), Text: c.Text, Index: c.ChunkIndex}
		}
		docs = append(docs, cd)
	}
	return docs, nil
}
