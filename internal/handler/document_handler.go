package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/response"
)

type documentService interface {
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Upload(ctx context.Context, req service.UploadDocumentRequest, content io.Reader, meta models.RequestMeta) (*models.Document, error)
	Download(ctx context.Context, id string) (*service.DocumentDownload, error)
	Validate(ctx context.Context, id string, req service.ValidateDocumentRequest, meta models.RequestMeta) (*models.Document, error)
	Delete(ctx context.Context, id string, meta models.RequestMeta) error
}

// DocumentHandler manages student document endpoints.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(svc documentService) *DocumentHandler {
	return &DocumentHandler{service: svc}
}

// Upload godoc
// @Summary Upload a student document
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param student_id formData string true "Student ID"
// @Param type formData string true "BIRTH_CERTIFICATE, ENROLLMENT_CERTIFICATE, PHOTO or MEDICAL_CERTIFICATE"
// @Param file formData file true "Document (PDF, JPEG or PNG)"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	req := service.UploadDocumentRequest{
		StudentID: strings.TrimSpace(c.PostForm("student_id")),
		Type:      strings.ToUpper(strings.TrimSpace(c.PostForm("type"))),
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Field("file", "is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to open upload"))
		return
	}
	defer src.Close()
	req.FileName = fileHeader.Filename

	doc, err := h.service.Upload(c.Request.Context(), req, src, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// List godoc
// @Summary List documents
// @Tags Documents
// @Produce json
// @Param student_id query string false "Student ID"
// @Param type query string false "Document type"
// @Param validated query bool false "Validated filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	h.list(c, c.Query("student_id"))
}

// StudentDocuments godoc
// @Summary List the documents of a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param type query string false "Document type"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/documents [get]
func (h *DocumentHandler) StudentDocuments(c *gin.Context) {
	h.list(c, c.Param("id"))
}

func (h *DocumentHandler) list(c *gin.Context, studentID string) {
	validated, err := queryBool(c, "validated")
	if err != nil {
		response.Error(c, err)
		return
	}
	page, size := paging(c)
	filter := models.DocumentFilter{
		StudentID: studentID,
		Type:      models.DocumentType(strings.ToUpper(c.Query("type"))),
		Validated: validated,
		Page:      page,
		PageSize:  size,
	}
	docs, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, pagination)
}

// Get godoc
// @Summary Get document metadata
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Download godoc
// @Summary Download a document
// @Tags Documents
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Success 200 {file} binary
// @Router /documents/{id}/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	download, err := h.service.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", download.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, download.Document.SizeBytes, download.Document.MimeType, download.File, nil)
}

// Validate godoc
// @Summary Validate a document
// @Description Sets the validated flag, or flips it when the body omits it.
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body service.ValidateDocumentRequest false "Validation flag"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/validate [patch]
func (h *DocumentHandler) Validate(c *gin.Context) {
	var req service.ValidateDocumentRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req, "validation") {
			return
		}
	}
	doc, err := h.service.Validate(c.Request.Context(), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Delete godoc
// @Summary Delete a document
// @Tags Documents
// @Param id path string true "Document ID"
// @Success 204
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
