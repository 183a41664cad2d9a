package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/response"
)

// RequireRoles only lets callers with one of the given roles through. It must run after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(claims.Role)+" may not access this resource"))
			return
		}
		c.Next()
	}
}

// AdminOnly is RequireRoles(ADMIN).
func AdminOnly() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin)
}

// Staff is RequireRoles(ADMIN, TEACHER).
func Staff() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin, models.RoleTeacher)
}
