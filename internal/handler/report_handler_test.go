package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/middleware"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
)

type reportServiceMock struct {
	generated   *models.Report
	generateErr error
	lastRequest service.GenerateReportRequest
	lastMeta    models.RequestMeta
	lastFilter  models.ReportFilter
	download    *service.ReportDownload
	downloadErr error
	lastToken   string
	lastPeriod  models.Period
	link        *service.SignedLink
	results     *service.ClassResults
	csv         []byte
}

func (m *reportServiceMock) Generate(ctx context.Context, req service.GenerateReportRequest, meta models.RequestMeta) (*models.Report, error) {
	m.lastRequest = req
	m.lastMeta = meta
	return m.generated, m.generateErr
}

func (m *reportServiceMock) Regenerate(ctx context.Context, req service.GenerateReportRequest, meta models.RequestMeta) (*models.Report, error) {
	return m.Generate(ctx, req, meta)
}

func (m *reportServiceMock) Get(ctx context.Context, id string) (*models.Report, error) {
	return m.generated, m.generateErr
}

func (m *reportServiceMock) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.Report{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *reportServiceMock) ListByStudent(ctx context.Context, studentID string, page, pageSize int) ([]models.Report, *models.Pagination, error) {
	return m.List(ctx, models.ReportFilter{StudentID: studentID, Page: page, PageSize: pageSize})
}

func (m *reportServiceMock) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	return m.generateErr
}

func (m *reportServiceMock) Download(ctx context.Context, studentID string, period models.Period, schoolYear string) (*service.ReportDownload, error) {
	m.lastPeriod = period
	return m.download, m.downloadErr
}

func (m *reportServiceMock) SignedURL(ctx context.Context, id string) (*service.SignedLink, error) {
	return m.link, nil
}

func (m *reportServiceMock) OpenSigned(ctx context.Context, token string) (*service.ReportDownload, error) {
	m.lastToken = token
	return m.download, m.downloadErr
}

func (m *reportServiceMock) ClassResults(ctx context.Context, classID string, period models.Period) (*service.ClassResults, error) {
	m.lastPeriod = period
	return m.results, nil
}

func (m *reportServiceMock) ClassResultsCSV(ctx context.Context, classID string, period models.Period) ([]byte, error) {
	m.lastPeriod = period
	return m.csv, nil
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func asUser(c *gin.Context, userID string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID, Role: role})
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func tempPDF(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bulletin.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.3 test"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)
	return file
}

func TestReportHandlerGenerate(t *testing.T) {
	mockSvc := &reportServiceMock{generated: &models.Report{ID: "report-1", Rank: 2}}
	handler := NewReportHandler(mockSvc, "http://api.local/api/v1/reports/download")

	payload, _ := json.Marshal(map[string]string{"student_id": "2f0c7f5e-7f0e-4b43-9d49-3f0e7dbe0a11", "period": "TRIMESTER_1"})
	c, w := newGinContext(http.MethodPost, "/reports", payload)
	asUser(c, "teacher-user", models.RoleTeacher)

	handler.Generate(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.PeriodTrimester1, mockSvc.lastRequest.Period)
	assert.Equal(t, "teacher-user", mockSvc.lastMeta.ActorID)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "report-1", data["id"])
}

func TestReportHandlerGenerateConflict(t *testing.T) {
	mockSvc := &reportServiceMock{generateErr: appErrors.Clone(appErrors.ErrConflict, "report already exists")}
	handler := NewReportHandler(mockSvc, "")

	c, w := newGinContext(http.MethodPost, "/reports", []byte(`{"student_id":"x","period":"TRIMESTER_1"}`))
	handler.Generate(c)

	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "CONFLICT", body["code"])
}

func TestReportHandlerGenerateMalformedBody(t *testing.T) {
	handler := NewReportHandler(&reportServiceMock{}, "")
	c, w := newGinContext(http.MethodPost, "/reports", []byte(`{"student_id":`))

	handler.Generate(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportHandlerListFilter(t *testing.T) {
	mockSvc := &reportServiceMock{}
	handler := NewReportHandler(mockSvc, "")
	c, w := newGinContext(http.MethodGet, "/reports?class_id=class-1&period=trimester_2&page=3&page_size=5", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "class-1", mockSvc.lastFilter.ClassID)
	assert.Equal(t, models.PeriodTrimester2, mockSvc.lastFilter.Period)
	assert.Equal(t, 3, mockSvc.lastFilter.Page)
	assert.Equal(t, 5, mockSvc.lastFilter.PageSize)
}

func TestReportHandlerLink(t *testing.T) {
	mockSvc := &reportServiceMock{link: &service.SignedLink{ReportID: "report-1", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}}
	handler := NewReportHandler(mockSvc, "http://api.local/api/v1/reports/download/")
	c, w := newGinContext(http.MethodGet, "/reports/report-1/link", nil)
	c.Params = gin.Params{{Key: "id", Value: "report-1"}}

	handler.Link(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "http://api.local/api/v1/reports/download/tok", data["url"])
	assert.Equal(t, "tok", data["token"])
}

func TestReportHandlerDownloadSigned(t *testing.T) {
	mockSvc := &reportServiceMock{download: &service.ReportDownload{File: tempPDF(t), Filename: "bulletin.pdf"}}
	handler := NewReportHandler(mockSvc, "")
	c, w := newGinContext(http.MethodGet, "/reports/download/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}

	handler.DownloadSigned(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok", mockSvc.lastToken)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "bulletin.pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestReportHandlerDownloadSignedExpired(t *testing.T) {
	mockSvc := &reportServiceMock{downloadErr: appErrors.Clone(appErrors.ErrUnauthorized, "download link has expired")}
	handler := NewReportHandler(mockSvc, "")
	c, w := newGinContext(http.MethodGet, "/reports/download/old", nil)
	c.Params = gin.Params{{Key: "token", Value: "old"}}

	handler.DownloadSigned(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReportHandlerStudentDownloadUppercasesPeriod(t *testing.T) {
	mockSvc := &reportServiceMock{download: &service.ReportDownload{File: tempPDF(t), Filename: "bulletin.pdf"}}
	handler := NewReportHandler(mockSvc, "")
	c, w := newGinContext(http.MethodGet, "/students/s-1/reports/semester_1/download", nil)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}, {Key: "period", Value: "semester_1"}}

	handler.StudentDownload(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PeriodSemester1, mockSvc.lastPeriod)
}

func TestReportHandlerClassResults(t *testing.T) {
	mockSvc := &reportServiceMock{
		results: &service.ClassResults{ClassID: "class-1", Rows: []service.ClassResultRow{{StudentName: "Moussa Ba", Rank: 1}}},
		csv:     []byte("rank,roll_number\n1,2024-6A-002\n"),
	}
	handler := NewReportHandler(mockSvc, "")

	c, w := newGinContext(http.MethodGet, "/classes/class-1/results?period=TRIMESTER_1", nil)
	c.Params = gin.Params{{Key: "id", Value: "class-1"}}
	handler.ClassResults(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Moussa Ba")

	c, w = newGinContext(http.MethodGet, "/classes/class-1/results?period=TRIMESTER_1&format=csv", nil)
	c.Params = gin.Params{{Key: "id", Value: "class-1"}}
	handler.ClassResults(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Body.String(), "2024-6A-002")

	c, w = newGinContext(http.MethodGet, "/classes/class-1/results?period=TRIMESTER_1&format=xml", nil)
	handler.ClassResults(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	c, w = newGinContext(http.MethodGet, "/classes/class-1/results", nil)
	handler.ClassResults(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeEnvelope(t, w)["errors"], "period")
}
