package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is the logical container for a sequence of versions
type Document struct {
	ID        uuid.UUID `db:"id"`
	ProjectID uuid.UUID `db:"project_id"`
	Title     string    `db:"title"`
	CreatedBy uuid.UUID `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
}

// DocumentVersion is an immutable snapshot of a document's bytes
type DocumentVersion struct {
	ID            uuid.UUID `db:"id"`
	DocumentID    uuid.UUID `db:"document_id"`
	VersionNumber int       `db:"version_number"`
	FilePath      string    `db:"file_path"`
	ContentHash   string    `db:"content_hash"`
	CreatedBy     uuid.UUID `db:"created_by"`
	CreatedAt     time.Time `db:"created_at"`
}

// DocumentChunk is a contiguous slice of a version's text
type DocumentChunk struct {
	ID                uuid.UUID `db:"id"`
	DocumentVersionID uuid.UUID `db:"document_version_id"`
	ChunkIndex        int       `db:"chunk_index"`
	Text              string    `db:"text"`
	CreatedAt         time.Time `db:"created_at"`
}

// ContentHash returns the hex sha256 of data
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DocumentPath returns the byte store path for an uploaded file.
// Versions after the first get a "v<n>-" prefix so earlier bytes are kept.
func DocumentPath(projectID uuid.UUID, fileName string, version int) (string, error) {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: invalid file name %q", ErrValidation, fileName)
	}
	if version > 1 {
		name = fmt.Sprintf("v%d-%s", version, name)
	}
	return path.Join("documents", projectID.String(), name), nil
}
