package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-bulletin-api/internal/middleware"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/response"
)

const dateQueryLayout = "2006-01-02"

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// callerRole returns the role of the authenticated caller, empty for anonymous requests.
func callerRole(c *gin.Context) models.UserRole {
	if claims := claimsFromContext(c); claims != nil {
		return claims.Role
	}
	return ""
}

func requestMeta(c *gin.Context) models.RequestMeta {
	meta := models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
	if claims := claimsFromContext(c); claims != nil {
		meta.ActorID = claims.UserID
	}
	return meta
}

func paging(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil {
		size = 20
	}
	return page, size
}

func queryBool(c *gin.Context, key string) (*bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, appErrors.Field(key, "must be a boolean")
	}
	return &val, nil
}

func queryDate(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	val, err := time.Parse(dateQueryLayout, raw)
	if err != nil {
		return nil, appErrors.Field(key, "must match format "+dateQueryLayout)
	}
	return &val, nil
}

// bindJSON decodes the request body and writes a 400 response on malformed input.
func bindJSON(c *gin.Context, dst interface{}, what string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrBadRequest.Code, http.StatusBadRequest, "invalid "+what+" payload"))
		return false
	}
	return true
}
