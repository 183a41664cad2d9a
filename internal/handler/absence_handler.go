package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	"github.com/noah-isme/school-bulletin-api/pkg/response"
)

type absenceService interface {
	List(ctx context.Context, filter models.AbsenceFilter) ([]models.Absence, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Absence, error)
	Create(ctx context.Context, req service.CreateAbsenceRequest, meta models.RequestMeta) (*models.Absence, error)
	Update(ctx context.Context, id string, req service.UpdateAbsenceRequest, meta models.RequestMeta) (*models.Absence, error)
	Justify(ctx context.Context, id string, req service.JustifyAbsenceRequest, role models.UserRole, meta models.RequestMeta) (*models.Absence, error)
	Delete(ctx context.Context, id string, meta models.RequestMeta) error
	CountByStudent(ctx context.Context, studentID string, from, to *time.Time) (*models.AbsenceSummary, error)
}

// AbsenceHandler handles absence endpoints.
type AbsenceHandler struct {
	service absenceService
}

// NewAbsenceHandler constructs the handler.
func NewAbsenceHandler(svc absenceService) *AbsenceHandler {
	return &AbsenceHandler{service: svc}
}

// List godoc
// @Summary List absences
// @Tags Absences
// @Produce json
// @Param student_id query string false "Student ID"
// @Param class_id query string false "Class ID"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param justified query bool false "Justified filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /absences [get]
func (h *AbsenceHandler) List(c *gin.Context) {
	h.list(c, c.Query("student_id"))
}

// StudentAbsences godoc
// @Summary List the absences of a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param justified query bool false "Justified filter"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/absences [get]
func (h *AbsenceHandler) StudentAbsences(c *gin.Context) {
	h.list(c, c.Param("id"))
}

func (h *AbsenceHandler) list(c *gin.Context, studentID string) {
	from, err := queryDate(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := queryDate(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	justified, err := queryBool(c, "justified")
	if err != nil {
		response.Error(c, err)
		return
	}
	page, size := paging(c)
	filter := models.AbsenceFilter{
		StudentID: studentID,
		ClassID:   c.Query("class_id"),
		From:      from,
		To:        to,
		Justified: justified,
		Page:      page,
		PageSize:  size,
	}
	absences, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, absences, pagination)
}

// Summary godoc
// @Summary Count the absences of a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/absences/summary [get]
func (h *AbsenceHandler) Summary(c *gin.Context) {
	from, err := queryDate(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := queryDate(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.service.CountByStudent(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Get godoc
// @Summary Get absence
// @Tags Absences
// @Produce json
// @Param id path string true "Absence ID"
// @Success 200 {object} response.Envelope
// @Router /absences/{id} [get]
func (h *AbsenceHandler) Get(c *gin.Context) {
	absence, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, absence, nil)
}

// Create godoc
// @Summary Record an absence
// @Tags Absences
// @Accept json
// @Produce json
// @Param payload body service.CreateAbsenceRequest true "Absence payload"
// @Success 201 {object} response.Envelope
// @Router /absences [post]
func (h *AbsenceHandler) Create(c *gin.Context) {
	var req service.CreateAbsenceRequest
	if !bindJSON(c, &req, "absence") {
		return
	}
	absence, err := h.service.Create(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, absence)
}

// Update godoc
// @Summary Update an absence
// @Tags Absences
// @Accept json
// @Produce json
// @Param id path string true "Absence ID"
// @Param payload body service.UpdateAbsenceRequest true "Absence payload"
// @Success 200 {object} response.Envelope
// @Router /absences/{id} [put]
func (h *AbsenceHandler) Update(c *gin.Context) {
	var req service.UpdateAbsenceRequest
	if !bindJSON(c, &req, "absence") {
		return
	}
	absence, err := h.service.Update(c.Request.Context(), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, absence, nil)
}

// Justify godoc
// @Summary Justify an absence
// @Description Guardians may justify the absences of their own children.
// @Tags Absences
// @Accept json
// @Produce json
// @Param id path string true "Absence ID"
// @Param payload body service.JustifyAbsenceRequest true "Justification"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /absences/{id}/justify [patch]
func (h *AbsenceHandler) Justify(c *gin.Context) {
	var req service.JustifyAbsenceRequest
	if !bindJSON(c, &req, "justification") {
		return
	}
	absence, err := h.service.Justify(c.Request.Context(), c.Param("id"), req, callerRole(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, absence, nil)
}

// Delete godoc
// @Summary Delete an absence
// @Tags Absences
// @Param id path string true "Absence ID"
// @Success 204
// @Router /absences/{id} [delete]
func (h *AbsenceHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
