package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/grading"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
)

type gradeServiceMock struct {
	lastFilter  models.GradeFilter
	lastRole    models.UserRole
	lastCreate  service.CreateGradeRequest
	lastPeriod  models.Period
	createErr   error
	deleteErr   error
	averages    *service.PeriodAverages
	averagesErr error
}

func (m *gradeServiceMock) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.GradeDetail{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *gradeServiceMock) Get(ctx context.Context, id string) (*models.GradeDetail, error) {
	return nil, appErrors.ErrNotFound
}

func (m *gradeServiceMock) Create(ctx context.Context, req service.CreateGradeRequest, role models.UserRole, meta models.RequestMeta) (*models.GradeDetail, error) {
	m.lastCreate = req
	m.lastRole = role
	if m.createErr != nil {
		return nil, m.createErr
	}
	grade := &models.GradeDetail{}
	grade.ID = "grade-1"
	grade.Value = *req.Value
	return grade, nil
}

func (m *gradeServiceMock) Update(ctx context.Context, id string, req service.UpdateGradeRequest, meta models.RequestMeta) (*models.GradeDetail, error) {
	return nil, appErrors.Clone(appErrors.ErrConflict, "grade is already part of a report")
}

func (m *gradeServiceMock) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	return m.deleteErr
}

func (m *gradeServiceMock) StudentAverages(ctx context.Context, studentID string, period models.Period) (*service.PeriodAverages, error) {
	m.lastPeriod = period
	return m.averages, m.averagesErr
}

func TestGradeHandlerCreatePassesCallerRole(t *testing.T) {
	mockSvc := &gradeServiceMock{}
	handler := NewGradeHandler(mockSvc)

	body := []byte(`{"student_id":"s","subject_id":"m","value":14.5,"type":"EXAM","period":"TRIMESTER_1"}`)
	c, w := newGinContext(http.MethodPost, "/grades", body)
	asUser(c, "teacher-user", models.RoleTeacher)

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.RoleTeacher, mockSvc.lastRole)
	require.NotNil(t, mockSvc.lastCreate.Value)
	assert.Equal(t, 14.5, *mockSvc.lastCreate.Value)
}

func TestGradeHandlerCreateDuplicate(t *testing.T) {
	mockSvc := &gradeServiceMock{createErr: appErrors.Clone(appErrors.ErrConflict, "a grade of this type already exists")}
	handler := NewGradeHandler(mockSvc)

	c, w := newGinContext(http.MethodPost, "/grades", []byte(`{"value":10}`))
	asUser(c, "admin", models.RoleAdmin)

	handler.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestGradeHandlerUpdateReportedGrade(t *testing.T) {
	handler := NewGradeHandler(&gradeServiceMock{})
	c, w := newGinContext(http.MethodPut, "/grades/g-1", []byte(`{"value":12}`))
	c.Params = gin.Params{{Key: "id", Value: "g-1"}}

	handler.Update(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestGradeHandlerDelete(t *testing.T) {
	handler := NewGradeHandler(&gradeServiceMock{})
	c, w := newGinContext(http.MethodDelete, "/grades/g-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "g-1"}}

	handler.Delete(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestGradeHandlerStudentGradesScopesToPath(t *testing.T) {
	mockSvc := &gradeServiceMock{}
	handler := NewGradeHandler(mockSvc)
	c, w := newGinContext(http.MethodGet, "/students/s-1/grades?student_id=other&period=trimester_1&type=exam", nil)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}

	handler.StudentGrades(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-1", mockSvc.lastFilter.StudentID)
	assert.Equal(t, models.PeriodTrimester1, mockSvc.lastFilter.Period)
	assert.Equal(t, models.GradeTypeExam, mockSvc.lastFilter.Type)
}

func TestGradeHandlerStudentAverages(t *testing.T) {
	mockSvc := &gradeServiceMock{averages: &service.PeriodAverages{
		StudentID: "s-1",
		Period:    models.PeriodTrimester1,
		Result:    grading.Result{Overall: 11, Mention: grading.MentionPassing, GradeCount: 2},
	}}
	handler := NewGradeHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/students/s-1/averages?period=TRIMESTER_1", nil)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}
	handler.StudentAverages(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"student_id":"s-1"`)

	c, w = newGinContext(http.MethodGet, "/students/s-1/averages", nil)
	handler.StudentAverages(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
