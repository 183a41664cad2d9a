package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
)

type accountServiceMock struct {
	lastFilter models.UserFilter
	lastMeta   models.RequestMeta
	listCalls  int
	toggleErr  error
}

func (m *accountServiceMock) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	m.listCalls++
	m.lastFilter = filter
	return []models.User{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *accountServiceMock) Get(ctx context.Context, id string) (*models.User, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
}

func (m *accountServiceMock) Create(ctx context.Context, req service.CreateUserRequest, meta models.RequestMeta) (*models.User, error) {
	m.lastMeta = meta
	return &models.User{ID: "user-1", Email: req.Email, Role: models.RoleAdmin}, nil
}

func (m *accountServiceMock) Update(ctx context.Context, id string, req service.UpdateUserRequest, meta models.RequestMeta) (*models.User, error) {
	m.lastMeta = meta
	return &models.User{ID: id}, nil
}

func (m *accountServiceMock) ToggleActive(ctx context.Context, id string, meta models.RequestMeta) (*models.User, error) {
	m.lastMeta = meta
	if m.toggleErr != nil {
		return nil, m.toggleErr
	}
	return &models.User{ID: id, Active: false}, nil
}

func (m *accountServiceMock) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	return nil
}

func TestUserHandlerListParsesRoleAndActive(t *testing.T) {
	mockSvc := &accountServiceMock{}
	handler := NewUserHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/users?role=guardian&active=true&page=2", nil)
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.lastFilter.Role)
	assert.Equal(t, models.RoleGuardian, *mockSvc.lastFilter.Role)
	require.NotNil(t, mockSvc.lastFilter.Active)
	assert.True(t, *mockSvc.lastFilter.Active)
	assert.Equal(t, 2, mockSvc.lastFilter.Page)
}

func TestUserHandlerListRejectsUnknownRole(t *testing.T) {
	mockSvc := &accountServiceMock{}
	handler := NewUserHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/users?role=principal", nil)
	handler.List(c)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeEnvelope(t, w)["errors"], "role")
	assert.Zero(t, mockSvc.listCalls)
}

func TestUserHandlerToggleStatusRecordsActor(t *testing.T) {
	mockSvc := &accountServiceMock{}
	handler := NewUserHandler(mockSvc)

	c, w := newGinContext(http.MethodPatch, "/users/u-2/toggle-status", nil)
	c.Params = gin.Params{{Key: "id", Value: "u-2"}}
	asUser(c, "admin-1", models.RoleAdmin)
	handler.ToggleStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", mockSvc.lastMeta.ActorID)
}

func TestUserHandlerToggleStatusSelf(t *testing.T) {
	mockSvc := &accountServiceMock{toggleErr: appErrors.Clone(appErrors.ErrBadRequest, "cannot deactivate your own account")}
	handler := NewUserHandler(mockSvc)

	c, w := newGinContext(http.MethodPatch, "/users/admin-1/toggle-status", nil)
	c.Params = gin.Params{{Key: "id", Value: "admin-1"}}
	handler.ToggleStatus(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserHandlerGetNotFound(t *testing.T) {
	handler := NewUserHandler(&accountServiceMock{})
	c, w := newGinContext(http.MethodGet, "/users/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
