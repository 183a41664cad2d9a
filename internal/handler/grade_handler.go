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

type gradeService interface {
	List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.GradeDetail, error)
	Create(ctx context.Context, req service.CreateGradeRequest, role models.UserRole, meta models.RequestMeta) (*models.GradeDetail, error)
	Update(ctx context.Context, id string, req service.UpdateGradeRequest, meta models.RequestMeta) (*models.GradeDetail, error)
	Delete(ctx context.Context, id string, meta models.RequestMeta) error
	StudentAverages(ctx context.Context, studentID string, period models.Period) (*service.PeriodAverages, error)
}

// GradeHandler handles grade endpoints.
type GradeHandler struct {
	service gradeService
}

// NewGradeHandler constructs the handler.
func NewGradeHandler(svc gradeService) *GradeHandler {
	return &GradeHandler{service: svc}
}

// List godoc
// @Summary List grades
// @Tags Grades
// @Produce json
// @Param student_id query string false "Student ID"
// @Param subject_id query string false "Subject ID"
// @Param teacher_id query string false "Teacher ID"
// @Param class_id query string false "Class ID"
// @Param period query string false "Period"
// @Param school_year query string false "School year, e.g. 2024-2025"
// @Param type query string false "Grade type"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Router /grades [get]
func (h *GradeHandler) List(c *gin.Context) {
	h.list(c, c.Query("student_id"))
}

// StudentGrades godoc
// @Summary List the grades of a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param period query string false "Period"
// @Param subject_id query string false "Subject ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/grades [get]
func (h *GradeHandler) StudentGrades(c *gin.Context) {
	h.list(c, c.Param("id"))
}

func (h *GradeHandler) list(c *gin.Context, studentID string) {
	page, size := paging(c)
	filter := models.GradeFilter{
		StudentID:  studentID,
		SubjectID:  c.Query("subject_id"),
		TeacherID:  c.Query("teacher_id"),
		ClassID:    c.Query("class_id"),
		Period:     models.Period(strings.ToUpper(c.Query("period"))),
		SchoolYear: strings.TrimSpace(c.Query("school_year")),
		Type:       models.GradeType(strings.ToUpper(c.Query("type"))),
		Page:       page,
		PageSize:   size,
		SortBy:     c.Query("sort_by"),
		SortOrder:  c.Query("sort_order"),
	}
	grades, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, pagination)
}

// Get godoc
// @Summary Get grade
// @Tags Grades
// @Produce json
// @Param id path string true "Grade ID"
// @Success 200 {object} response.Envelope
// @Router /grades/{id} [get]
func (h *GradeHandler) Get(c *gin.Context) {
	grade, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// Create godoc
// @Summary Record a grade
// @Description Teachers grade as themselves; administrators must name the teacher.
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body service.CreateGradeRequest true "Grade payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /grades [post]
func (h *GradeHandler) Create(c *gin.Context) {
	var req service.CreateGradeRequest
	if !bindJSON(c, &req, "grade") {
		return
	}
	grade, err := h.service.Create(c.Request.Context(), req, callerRole(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grade)
}

// Update godoc
// @Summary Update a grade
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Grade ID"
// @Param payload body service.UpdateGradeRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grades/{id} [put]
func (h *GradeHandler) Update(c *gin.Context) {
	var req service.UpdateGradeRequest
	if !bindJSON(c, &req, "grade") {
		return
	}
	grade, err := h.service.Update(c.Request.Context(), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// Delete godoc
// @Summary Delete a grade
// @Tags Grades
// @Param id path string true "Grade ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /grades/{id} [delete]
func (h *GradeHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// StudentAverages godoc
// @Summary Period averages of a student
// @Description Computes subject means, weighted overall average and mention without storing a bulletin.
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param period query string true "Period"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/averages [get]
func (h *GradeHandler) StudentAverages(c *gin.Context) {
	period := models.Period(strings.ToUpper(c.Query("period")))
	if period == "" {
		response.Error(c, appErrors.Field("period", "is required"))
		return
	}
	averages, err := h.service.StudentAverages(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, averages, nil)
}
