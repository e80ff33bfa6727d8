package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// chunkBatchSize bounds the number of rows per INSERT statement
const chunkBatchSize = 1000

// CreateDocument inserts a document row
func (s *Storage) CreateDocument(ctx context.Context, doc *domain.Document) error {
	query := `
		INSERT INTO documents (id, project_id, title, created_by, created_at)
		VALUES (:id, :project_id, :title, :created_by, :created_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx), query, doc); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by its ID
func (s *Storage) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	query := `SELECT id, project_id, title, created_by, created_at FROM documents WHERE id = $1`

	var doc domain.Document
	if err := sqlx.GetContext(ctx, s.conn(ctx), &doc, query, id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns a project's documents newest first
func (s *Storage) ListDocuments(ctx context.Context, projectID uuid.UUID) ([]domain.Document, error) {
	query := `
		SELECT id, project_id, title, created_by, created_at
		FROM documents
		WHERE project_id = $1
		ORDER BY created_at DESC, id DESC
	`

	docs := []domain.Document{}
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &docs, query, projectID); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// NextVersionNumber locks the document row and returns the number the next
// version should get. Call it inside WithinTx so the lock is held until commit.
func (s *Storage) NextVersionNumber(ctx context.Context, documentID uuid.UUID) (int, error) {
	var locked uuid.UUID
	if err := sqlx.GetContext(ctx, s.conn(ctx), &locked,
		`SELECT id FROM documents WHERE id = $1 FOR UPDATE`, documentID); err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
		}
		return 0, fmt.Errorf("failed to lock document: %w", err)
	}

	var next int
	if err := sqlx.GetContext(ctx, s.conn(ctx), &next,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM document_versions WHERE document_id = $1`, documentID); err != nil {
		return 0, fmt.Errorf("failed to get next version number: %w", err)
	}
	return next, nil
}

// CreateVersion inserts a document version row
func (s *Storage) CreateVersion(ctx context.Context, v *domain.DocumentVersion) error {
	query := `
		INSERT INTO document_versions (id, document_id, version_number, file_path, content_hash, created_by, created_at)
		VALUES (:id, :document_id, :version_number, :file_path, :content_hash, :created_by, :created_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx), query, v); err != nil {
		return fmt.Errorf("failed to create document version: %w", err)
	}
	return nil
}

const versionColumns = `id, document_id, version_number, file_path, content_hash, created_by, created_at`

// GetVersion retrieves a document version by its ID
func (s *Storage) GetVersion(ctx context.Context, id uuid.UUID) (*domain.DocumentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE id = $1`

	var v domain.DocumentVersion
	if err := sqlx.GetContext(ctx, s.conn(ctx), &v, query, id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: document version %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get document version: %w", err)
	}
	return &v, nil
}

// ListVersions returns a document's versions in ascending order
func (s *Storage) ListVersions(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_number ASC
	`

	versions := []domain.DocumentVersion{}
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &versions, query, documentID); err != nil {
		return nil, fmt.Errorf("failed to list document versions: %w", err)
	}
	return versions, nil
}

// LatestVersion returns the highest-numbered version of a document
func (s *Storage) LatestVersion(ctx context.Context, documentID uuid.UUID) (*domain.DocumentVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_number DESC
		LIMIT 1
	`

	var v domain.DocumentVersion
	if err := sqlx.GetContext(ctx, s.conn(ctx), &v, query, documentID); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: no versions for document %s", domain.ErrNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}
	return &v, nil
}

// VersionExists reports whether a document version row exists
func (s *Storage) VersionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, s.conn(ctx), &exists,
		`SELECT EXISTS (SELECT 1 FROM document_versions WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check document version: %w", err)
	}
	return exists, nil
}

// CountChunks returns how many chunks a version has
func (s *Storage) CountChunks(ctx context.Context, versionID uuid.UUID) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.conn(ctx), &n,
		`SELECT COUNT(*) FROM document_chunks WHERE document_version_id = $1`, versionID); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// ListChunks returns a version's chunks in index order
func (s *Storage) ListChunks(ctx context.Context, versionID uuid.UUID) ([]domain.DocumentChunk, error) {
	query := `
		SELECT id, document_version_id, chunk_index, text, created_at
		FROM document_chunks
		WHERE document_version_id = $1
		ORDER BY chunk_index ASC
	`

	var chunks []domain.DocumentChunk
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &chunks, query, versionID); err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

// InsertChunks writes a version's complete chunk set in one transaction.
// The version row is locked and the chunk count re-checked first, so two
// concurrent ingestions cannot both write. It returns the number of rows
// inserted, which is 0 when the version already had chunks.
func (s *Storage) InsertChunks(ctx context.Context, versionID uuid.UUID, chunks []domain.DocumentChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		var locked uuid.UUID
		if err := sqlx.GetContext(ctx, s.conn(ctx), &locked,
			`SELECT id FROM document_versions WHERE id = $1 FOR UPDATE`, versionID); err != nil {
			if isNoRows(err) {
				return fmt.Errorf("%w: document version %s", domain.ErrNotFound, versionID)
			}
			return fmt.Errorf("failed to lock document version: %w", err)
		}

		existing, err := s.CountChunks(ctx, versionID)
		if err != nil {
			return err
		}
		if existing > 0 {
			s.logger.Info("Chunks already present, skipping insert",
				slog.String("version_id", versionID.String()),
				slog.Int("existing", existing),
			)
			return nil
		}

		query := `
			INSERT INTO document_chunks (id, document_version_id, chunk_index, text, created_at)
			VALUES (:id, :document_version_id, :chunk_index, :text, :created_at)
		`
		for start := 0; start < len(chunks); start += chunkBatchSize {
			end := min(start+chunkBatchSize, len(chunks))
			if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx), query, chunks[start:end]); err != nil {
				return fmt.Errorf("failed to insert chunks: %w", err)
			}
		}
		inserted = len(chunks)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
