package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/docflow/internal/api/dto"
	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/producer"
	"github.com/gin-gonic/gin"
)

// multipartOverhead leaves room for multipart headers on top of the file limit
const multipartOverhead = 1 << 20

// DocumentHandler handles document uploads and reads
type DocumentHandler struct {
	logger         *slog.Logger
	store          DocumentReader
	documents      DocumentUploader
	maxUploadBytes int64
}

// NewDocumentHandler creates a new DocumentHandler instance
func NewDocumentHandler(deps *Dependencies) *DocumentHandler {
	return &DocumentHandler{
		logger:         deps.Logger,
		store:          deps.Store,
		documents:      deps.Documents,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// UploadDocument handles POST /api/v1/projects/:project_id/documents
// Stores the file as version 1 of a new document and queues its ingestion
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	projectID, ok := parseUUIDParam(c, "project_id")
	if !ok {
		return
	}
	createdBy, ok := userID(c)
	if !ok {
		return
	}

	fileName, content, ok := h.readUpload(c)
	if !ok {
		return
	}

	upload, err := h.documents.Upload(c.Request.Context(), producer.UploadInput{
		ProjectID: projectID,
		CreatedBy: createdBy,
		FileName:  fileName,
		Content:   content,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to upload document", err)
		return
	}

	c.JSON(http.StatusCreated, uploadResponse(upload))
}

// AddVersion handles POST /api/v1/projects/:project_id/documents/:document_id/versions
func (h *DocumentHandler) AddVersion(c *gin.Context) {
	projectID, ok := parseUUIDParam(c, "project_id")
	if !ok {
		return
	}
	documentID, ok := parseUUIDParam(c, "document_id")
	if !ok {
		return
	}
	createdBy, ok := userID(c)
	if !ok {
		return
	}

	fileName, content, ok := h.readUpload(c)
	if !ok {
		return
	}

	upload, err := h.documents.AddVersion(c.Request.Context(), producer.VersionInput{
		ProjectID:  projectID,
		DocumentID: documentID,
		CreatedBy:  createdBy,
		FileName:   fileName,
		Content:    content,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to add document version", err)
		return
	}

	c.JSON(http.StatusCreated, uploadResponse(upload))
}

// ListDocuments handles GET /api/v1/projects/:project_id/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	projectID, ok := parseUUIDParam(c, "project_id")
	if !ok {
		return
	}

	docs, err := h.store.ListDocuments(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, h.logger, "Failed to list documents", err)
		return
	}

	resp := dto.ListDocumentsResponse{Documents: make([]dto.DocumentDTO, len(docs))}
	for i := range docs {
		resp.Documents[i] = dto.NewDocumentDTO(&docs[i])
	}
	c.JSON(http.StatusOK, resp)
}

// GetDocument handles GET /api/v1/projects/:project_id/documents/:document_id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, ok := h.projectDocument(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewDocumentDTO(doc))
}

// ListVersions handles GET /api/v1/projects/:project_id/documents/:document_id/versions
func (h *DocumentHandler) ListVersions(c *gin.Context) {
	doc, ok := h.projectDocument(c)
	if !ok {
		return
	}

	versions, err := h.store.ListVersions(c.Request.Context(), doc.ID)
	if err != nil {
		respondError(c, h.logger, "Failed to list document versions", err)
		return
	}

	resp := dto.ListVersionsResponse{Versions: make([]dto.VersionDTO, len(versions))}
	for i := range versions {
		resp.Versions[i] = dto.NewVersionDTO(&versions[i])
	}
	c.JSON(http.StatusOK, resp)
}

// projectDocument loads the document named in the path. Documents of other
// projects answer 404.
func (h *DocumentHandler) projectDocument(c *gin.Context) (*domain.Document, bool) {
	projectID, ok := parseUUIDParam(c, "project_id")
	if !ok {
		return nil, false
	}
	documentID, ok := parseUUIDParam(c, "document_id")
	if !ok {
		return nil, false
	}

	doc, err := h.store.GetDocument(c.Request.Context(), documentID)
	if err == nil && doc.ProjectID != projectID {
		err = fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
	}
	if err != nil {
		respondError(c, h.logger, "Failed to get document", err)
		return nil, false
	}
	return doc, true
}

// readUpload reads the multipart "file" field, enforcing the upload limit
func (h *DocumentHandler) readUpload(c *gin.Context) (string, []byte, bool) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(c)
			return "", nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return "", nil, false
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		h.tooLarge(c)
		return "", nil, false
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, h.logger, "Failed to read upload", err)
		return "", nil, false
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		respondError(c, h.logger, "Failed to read upload", err)
		return "", nil, false
	}
	return fh.Filename, content, true
}

func (h *DocumentHandler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("file exceeds the %d byte upload limit", h.maxUploadBytes),
	})
}

func uploadResponse(u *producer.Upload) dto.UploadResponse {
	return dto.UploadResponse{
		Document: dto.NewDocumentDTO(u.Document),
		Version:  dto.NewVersionDTO(u.Version),
		JobID:    u.Job.ID.String(),
	}
}
