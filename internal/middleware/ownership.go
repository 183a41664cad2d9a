package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/response"
)

// ContextStudentKey holds the student resolved by StudentAccess.
const ContextStudentKey = "scopedStudent"

// StudentAccessChecker resolves a student on behalf of a caller, failing when the caller may not see it.
type StudentAccessChecker interface {
	GetFor(ctx context.Context, id, userID string, role models.UserRole) (*models.StudentDetail, error)
}

// StudentAccess guards /students/:id routes: staff see every student, guardians their own children
// and students themselves.
func StudentAccess(checker StudentAccessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		student, err := checker.GetFor(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(ContextStudentKey, student)
		c.Next()
	}
}

// ScopedStudent returns the student stored by StudentAccess, or nil.
func ScopedStudent(c *gin.Context) *models.StudentDetail {
	value, exists := c.Get(ContextStudentKey)
	if !exists {
		return nil
	}
	student, _ := value.(*models.StudentDetail)
	return student
}
