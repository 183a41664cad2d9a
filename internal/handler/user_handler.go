package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/response"
)

type accountService interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, req service.CreateUserRequest, meta models.RequestMeta) (*models.User, error)
	Update(ctx context.Context, id string, req service.UpdateUserRequest, meta models.RequestMeta) (*models.User, error)
	ToggleActive(ctx context.Context, id string, meta models.RequestMeta) (*models.User, error)
	Delete(ctx context.Context, id string, meta models.RequestMeta) error
}

// UserHandler exposes account administration to ADMIN callers.
type UserHandler struct {
	accounts accountService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(accounts accountService) *UserHandler {
	return &UserHandler{accounts: accounts}
}

// List godoc
// @Summary List accounts
// @Tags Users
// @Produce json
// @Param role query string false "ADMIN, TEACHER, STUDENT or GUARDIAN"
// @Param active query bool false "Active filter"
// @Param search query string false "Name or e-mail"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	filter, err := userFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	users, pagination, err := h.accounts.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get account
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Create godoc
// @Summary Create administrator account
// @Description Teachers, students and guardians are created through their own endpoints.
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body service.CreateUserRequest true "User payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	var req service.CreateUserRequest
	if !bindJSON(c, &req, "user") {
		return
	}
	user, err := h.accounts.Create(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// Update godoc
// @Summary Update account
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body service.UpdateUserRequest true "User payload"
// @Success 200 {object} response.Envelope
// @Router /users/{id} [put]
func (h *UserHandler) Update(c *gin.Context) {
	var req service.UpdateUserRequest
	if !bindJSON(c, &req, "user") {
		return
	}
	h.mutate(c, func(meta models.RequestMeta) (*models.User, error) {
		return h.accounts.Update(c.Request.Context(), c.Param("id"), req, meta)
	})
}

// ToggleStatus godoc
// @Summary Activate or deactivate an account
// @Description Deactivation also revokes the account's refresh tokens.
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/toggle-status [patch]
func (h *UserHandler) ToggleStatus(c *gin.Context) {
	h.mutate(c, func(meta models.RequestMeta) (*models.User, error) {
		return h.accounts.ToggleActive(c.Request.Context(), c.Param("id"), meta)
	})
}

// Delete godoc
// @Summary Delete account
// @Tags Users
// @Param id path string true "User ID"
// @Success 204
// @Router /users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.accounts.Delete(c.Request.Context(), c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *UserHandler) mutate(c *gin.Context, fn func(meta models.RequestMeta) (*models.User, error)) {
	user, err := fn(requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

func userFilterFromQuery(c *gin.Context) (models.UserFilter, error) {
	active, err := queryBool(c, "active")
	if err != nil {
		return models.UserFilter{}, err
	}
	page, size := paging(c)
	filter := models.UserFilter{
		Active:    active,
		Search:    c.Query("search"),
		Page:      page,
		PageSize:  size,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if raw := c.Query("role"); raw != "" {
		role, ok := models.ParseRole(raw)
		if !ok {
			return models.UserFilter{}, appErrors.Field("role", "is not a known role")
		}
		filter.Role = &role
	}
	return filter, nil
}
