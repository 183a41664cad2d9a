package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
	err    error
	token  string
}

func (v *validatorStub) ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error) {
	v.token = token
	return v.claims, v.err
}

type studentCheckerStub struct {
	student *models.StudentDetail
	err     error
}

func (s studentCheckerStub) GetFor(ctx context.Context, id, userID string, role models.UserRole) (*models.StudentDetail, error) {
	return s.student, s.err
}

type auditStub struct {
	entries []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

type observerStub struct {
	path   string
	status int
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.path = path
	o.status = status
}

func newRouter(middlewares ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append(middlewares, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/students/:id", handlers...)
	r.DELETE("/classes/:id", handlers...)
	return r
}

func withClaims(role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: role})
		c.Next()
	}
}

func perform(r http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndMalformedHeaders(t *testing.T) {
	stub := &validatorStub{claims: &models.JWTClaims{UserID: "u"}}
	r := newRouter(JWT(stub))

	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/students/1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/students/1", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/students/1", "Bearer ").Code)
	assert.Empty(t, stub.token)
}

func TestJWTStoresClaims(t *testing.T) {
	stub := &validatorStub{claims: &models.JWTClaims{UserID: "u-7", Role: models.RoleTeacher}}
	var seen *models.JWTClaims
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWT(stub), func(c *gin.Context) {
		seen = Claims(c)
		c.Status(http.StatusOK)
	})

	w := perform(r, http.MethodGet, "/me", "bearer abc.def")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc.def", stub.token)
	require.NotNil(t, seen)
	assert.Equal(t, "u-7", seen.UserID)
}

func TestJWTPropagatesRevokedToken(t *testing.T) {
	stub := &validatorStub{err: appErrors.ErrTokenRevoked}
	r := newRouter(JWT(stub))

	w := perform(r, http.MethodGet, "/students/1", "Bearer abc")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_REVOKED")
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	stub := &validatorStub{err: errors.New("bad token")}
	r := newRouter(OptionalJWT(stub))

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/students/1", "Bearer abc").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/students/1", "").Code)
}

func TestRequireRoles(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, perform(newRouter(AdminOnly()), http.MethodGet, "/students/1", "").Code)
	assert.Equal(t, http.StatusForbidden, perform(newRouter(withClaims(models.RoleGuardian), Staff()), http.MethodGet, "/students/1", "").Code)
	assert.Equal(t, http.StatusOK, perform(newRouter(withClaims(models.RoleTeacher), Staff()), http.MethodGet, "/students/1", "").Code)
	assert.Equal(t, http.StatusForbidden, perform(newRouter(withClaims(models.RoleTeacher), AdminOnly()), http.MethodGet, "/students/1", "").Code)
}

func TestStudentAccess(t *testing.T) {
	student := &models.StudentDetail{}
	student.ID = "student-1"

	var scoped *models.StudentDetail
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/students/:id", withClaims(models.RoleGuardian), StudentAccess(studentCheckerStub{student: student}), func(c *gin.Context) {
		scoped = ScopedStudent(c)
		c.Status(http.StatusOK)
	})
	require.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/students/student-1", "").Code)
	require.NotNil(t, scoped)
	assert.Equal(t, "student-1", scoped.ID)

	denied := newRouter(withClaims(models.RoleGuardian), StudentAccess(studentCheckerStub{err: appErrors.ErrForbidden}))
	assert.Equal(t, http.StatusForbidden, perform(denied, http.MethodGet, "/students/student-2", "").Code)

	missing := newRouter(withClaims(models.RoleAdmin), StudentAccess(studentCheckerStub{err: appErrors.ErrNotFound}))
	assert.Equal(t, http.StatusNotFound, perform(missing, http.MethodGet, "/students/student-3", "").Code)
}

func TestAuditRecordsSuccessfulWrites(t *testing.T) {
	recorder := &auditStub{}
	r := newRouter(withClaims(models.RoleAdmin), Audit(recorder, "classes", nil))

	require.Equal(t, http.StatusOK, perform(r, http.MethodDelete, "/classes/class-9", "").Code)
	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, models.AuditActionDelete, entry.Action)
	assert.Equal(t, "classes", entry.Resource)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "class-9", *entry.ResourceID)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "user-1", *entry.UserID)

	perform(r, http.MethodGet, "/students/1", "")
	assert.Len(t, recorder.entries, 1)
}

func TestAuditSkipsFailedRequests(t *testing.T) {
	recorder := &auditStub{}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.DELETE("/classes/:id", Audit(recorder, "classes", nil), func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	perform(r, http.MethodDelete, "/classes/class-1", "")
	assert.Empty(t, recorder.entries)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &observerStub{}
	r := newRouter(Metrics(observer))

	perform(r, http.MethodGet, "/students/abc", "")
	assert.Equal(t, "/students/:id", observer.path)
	assert.Equal(t, http.StatusOK, observer.status)
}
