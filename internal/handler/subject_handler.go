package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/response"
)

type subjectCatalog interface {
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Subject, error)
	Create(ctx context.Context, req service.CreateSubjectRequest) (*models.Subject, error)
	Update(ctx context.Context, id string, req service.UpdateSubjectRequest) (*models.Subject, error)
	Delete(ctx context.Context, id string) error
}

// SubjectHandler serves the subject catalog.
type SubjectHandler struct {
	catalog subjectCatalog
}

func NewSubjectHandler(catalog subjectCatalog) *SubjectHandler {
	return &SubjectHandler{catalog: catalog}
}

// List godoc
// @Summary List subjects
// @Tags Subjects
// @Produce json
// @Param level query string false "LOWER_SECONDARY, UPPER_SECONDARY or ALL"
// @Param search query string false "Name or code"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /subjects [get]
func (h *SubjectHandler) List(c *gin.Context) {
	level, err := subjectLevelQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	page, size := paging(c)
	subjects, pagination, err := h.catalog.List(c.Request.Context(), models.SubjectFilter{
		Level:     string(level),
		Search:    strings.TrimSpace(c.Query("search")),
		Page:      page,
		PageSize:  size,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects, pagination)
}

// Get godoc
// @Summary Get subject
// @Tags Subjects
// @Produce json
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id} [get]
func (h *SubjectHandler) Get(c *gin.Context) {
	subject, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	h.respond(c, http.StatusOK, subject, err)
}

// Create godoc
// @Summary Add a subject to the catalog
// @Tags Subjects
// @Accept json
// @Produce json
// @Param payload body service.CreateSubjectRequest true "Subject payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /subjects [post]
func (h *SubjectHandler) Create(c *gin.Context) {
	var req service.CreateSubjectRequest
	if !bindJSON(c, &req, "subject") {
		return
	}
	req.Level = strings.ToUpper(req.Level)
	subject, err := h.catalog.Create(c.Request.Context(), req)
	h.respond(c, http.StatusCreated, subject, err)
}

// Update godoc
// @Summary Rename or re-level a subject
// @Tags Subjects
// @Accept json
// @Produce json
// @Param id path string true "Subject ID"
// @Param payload body service.UpdateSubjectRequest true "Subject payload"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id} [put]
func (h *SubjectHandler) Update(c *gin.Context) {
	var req service.UpdateSubjectRequest
	if !bindJSON(c, &req, "subject") {
		return
	}
	subject, err := h.catalog.Update(c.Request.Context(), c.Param("id"), req)
	h.respond(c, http.StatusOK, subject, err)
}

// Delete godoc
// @Summary Remove a subject
// @Description Refused with 409 while classes or grades still reference it.
// @Tags Subjects
// @Param id path string true "Subject ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /subjects/{id} [delete]
func (h *SubjectHandler) Delete(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *SubjectHandler) respond(c *gin.Context, status int, subject *models.Subject, err error) {
	switch {
	case err != nil:
		response.Error(c, err)
	case status == http.StatusCreated:
		response.Created(c, subject)
	default:
		response.JSON(c, status, subject, nil)
	}
}

func subjectLevelQuery(c *gin.Context) (models.SubjectLevel, error) {
	raw := strings.ToUpper(strings.TrimSpace(c.Query("level")))
	switch level := models.SubjectLevel(raw); level {
	case "", models.SubjectLevelLowerSecondary, models.SubjectLevelUpperSecondary, models.SubjectLevelAll:
		return level, nil
	}
	return "", appErrors.Field("level", "must be one of LOWER_SECONDARY UPPER_SECONDARY ALL")
}
