package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/middleware"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
)

type studentServiceMock struct {
	getCalls   int
	lastEnroll service.EnrollStudentRequest
	lastFilter models.StudentFilter
	deleteErr  error
}

func (m *studentServiceMock) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.StudentDetail{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *studentServiceMock) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	m.getCalls++
	student := &models.StudentDetail{}
	student.ID = id
	return student, nil
}

func (m *studentServiceMock) Enroll(ctx context.Context, req service.EnrollStudentRequest, meta models.RequestMeta) (*models.StudentDetail, error) {
	m.lastEnroll = req
	student := &models.StudentDetail{}
	student.ID = "student-1"
	student.RollNumber = "2024-6A-001"
	return student, nil
}

func (m *studentServiceMock) Update(ctx context.Context, id string, req service.UpdateStudentRequest, meta models.RequestMeta) (*models.StudentDetail, error) {
	return m.Get(ctx, id)
}

func (m *studentServiceMock) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	return m.deleteErr
}

func TestStudentHandlerGetUsesScopedStudent(t *testing.T) {
	mockSvc := &studentServiceMock{}
	handler := NewStudentHandler(mockSvc)

	scoped := &models.StudentDetail{}
	scoped.ID = "s-1"
	c, w := newGinContext(http.MethodGet, "/students/s-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}
	c.Set(middleware.ContextStudentKey, scoped)

	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, mockSvc.getCalls)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "s-1", data["id"])
}

func TestStudentHandlerGetFallsBackToService(t *testing.T) {
	mockSvc := &studentServiceMock{}
	handler := NewStudentHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/students/s-2", nil)
	c.Params = gin.Params{{Key: "id", Value: "s-2"}}

	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, mockSvc.getCalls)
}

func TestStudentHandlerEnroll(t *testing.T) {
	mockSvc := &studentServiceMock{}
	handler := NewStudentHandler(mockSvc)

	body := []byte(`{"email":"awa@example.com","first_name":"Awa","last_name":"Ndiaye","birth_date":"2013-02-11",` +
		`"birth_place":"Dakar","gender":"F","class_id":"c-1","guardian":{"email":"fatou@example.com"}}`)
	c, w := newGinContext(http.MethodPost, "/students", body)
	asUser(c, "admin", models.RoleAdmin)

	handler.Enroll(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Awa", mockSvc.lastEnroll.FirstName)
	assert.Equal(t, "fatou@example.com", mockSvc.lastEnroll.Guardian.Email)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "2024-6A-001", data["roll_number"])
}

func TestStudentHandlerDeleteWithGrades(t *testing.T) {
	mockSvc := &studentServiceMock{deleteErr: appErrors.Clone(appErrors.ErrConflict, "student has grades")}
	handler := NewStudentHandler(mockSvc)

	c, w := newGinContext(http.MethodDelete, "/students/s-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}
	handler.Delete(c)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestStudentHandlerListFilter(t *testing.T) {
	mockSvc := &studentServiceMock{}
	handler := NewStudentHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/students?class_id=c-1&search=ndiaye&page=2", nil)
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-1", mockSvc.lastFilter.ClassID)
	assert.Equal(t, "ndiaye", mockSvc.lastFilter.Search)
	assert.Equal(t, 2, mockSvc.lastFilter.Page)
}
