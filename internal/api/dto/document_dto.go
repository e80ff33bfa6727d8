package dto

import "github.com/cuongbtq/docflow/internal/domain"

type DocumentDTO struct {
	DocumentID string `json:"document_id"`
	ProjectID  string `json:"project_id"`
	Title      string `json:"title"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at"`
}

type VersionDTO struct {
	VersionID     string `json:"version_id"`
	DocumentID    string `json:"document_id"`
	VersionNumber int    `json:"version_number"`
	ContentHash   string `json:"content_hash"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
}

// UploadResponse is returned for a new document or a new version
type UploadResponse struct {
	Document DocumentDTO `json:"document"`
	Version  VersionDTO  `json:"version"`
	JobID    string      `json:"job_id"`
}

type ListDocumentsResponse struct {
	Documents []DocumentDTO `json:"documents"`
}

type ListVersionsResponse struct {
	Versions []VersionDTO `json:"versions"`
}

func NewDocumentDTO(doc *domain.Document) DocumentDTO {
	return DocumentDTO{
		DocumentID: doc.ID.String(),
		ProjectID:  doc.ProjectID.String(),
		Title:      doc.Title,
		CreatedBy:  doc.CreatedBy.String(),
		CreatedAt:  formatTime(doc.CreatedAt),
	}
}

func NewVersionDTO(v *domain.DocumentVersion) VersionDTO {
	return VersionDTO{
		VersionID:     v.ID.String(),
		DocumentID:    v.DocumentID.String(),
		VersionNumber: v.VersionNumber,
		ContentHash:   v.ContentHash,
		CreatedBy:     v.CreatedBy.String(),
		CreatedAt:     formatTime(v.CreatedAt),
	}
}
