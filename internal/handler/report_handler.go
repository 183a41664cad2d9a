package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/response"
)

type reportService interface {
	Generate(ctx context.Context, req service.GenerateReportRequest, meta models.RequestMeta) (*models.Report, error)
	Regenerate(ctx context.Context, req service.GenerateReportRequest, meta models.RequestMeta) (*models.Report, error)
	Get(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.Report, *models.Pagination, error)
	ListByStudent(ctx context.Context, studentID string, page, pageSize int) ([]models.Report, *models.Pagination, error)
	Delete(ctx context.Context, id string, meta models.RequestMeta) error
	Download(ctx context.Context, studentID string, period models.Period, schoolYear string) (*service.ReportDownload, error)
	SignedURL(ctx context.Context, id string) (*service.SignedLink, error)
	OpenSigned(ctx context.Context, token string) (*service.ReportDownload, error)
	ClassResults(ctx context.Context, classID string, period models.Period) (*service.ClassResults, error)
	ClassResultsCSV(ctx context.Context, classID string, period models.Period) ([]byte, error)
}

// ReportHandler exposes bulletin endpoints.
type ReportHandler struct {
	service     reportService
	downloadURL string
}

// NewReportHandler constructs the handler. downloadURL is the public prefix that signed tokens are appended to.
func NewReportHandler(svc reportService, downloadURL string) *ReportHandler {
	return &ReportHandler{service: svc, downloadURL: strings.TrimSuffix(downloadURL, "/")}
}

// reportLink is returned by Link.
type reportLink struct {
	*service.SignedLink
	URL string `json:"url"`
}

// Generate godoc
// @Summary Generate a bulletin
// @Description Aggregates the period grades of a student, ranks the student in the class, renders and stores the PDF.
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body service.GenerateReportRequest true "Bulletin key"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /reports [post]
func (h *ReportHandler) Generate(c *gin.Context) {
	var req service.GenerateReportRequest
	if !bindJSON(c, &req, "report") {
		return
	}
	report, err := h.service.Generate(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

// Regenerate godoc
// @Summary Regenerate a bulletin
// @Description Deletes the existing bulletin of the key, if any, and generates it again.
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body service.GenerateReportRequest true "Bulletin key"
// @Success 201 {object} response.Envelope
// @Router /reports/regenerate [post]
func (h *ReportHandler) Regenerate(c *gin.Context) {
	var req service.GenerateReportRequest
	if !bindJSON(c, &req, "report") {
		return
	}
	report, err := h.service.Regenerate(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

// List godoc
// @Summary List bulletins
// @Tags Reports
// @Produce json
// @Param student_id query string false "Student ID"
// @Param class_id query string false "Class ID"
// @Param period query string false "Period"
// @Param school_year query string false "School year, e.g. 2024-2025"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	page, size := paging(c)
	filter := models.ReportFilter{
		StudentID:  c.Query("student_id"),
		ClassID:    c.Query("class_id"),
		Period:     models.Period(strings.ToUpper(c.Query("period"))),
		SchoolYear: c.Query("school_year"),
		Page:       page,
		PageSize:   size,
	}
	reports, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, pagination)
}

// Get godoc
// @Summary Get bulletin
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	report, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Delete godoc
// @Summary Delete bulletin
// @Description Removes the bulletin row and its PDF and releases the linked grades.
// @Tags Reports
// @Param id path string true "Report ID"
// @Success 204
// @Router /reports/{id} [delete]
func (h *ReportHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Link godoc
// @Summary Issue a signed download link
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id}/link [get]
func (h *ReportHandler) Link(c *gin.Context) {
	link, err := h.service.SignedURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reportLink{SignedLink: link, URL: h.downloadURL + "/" + link.Token}, nil)
}

// DownloadSigned godoc
// @Summary Download a bulletin through a signed link
// @Tags Reports
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /reports/download/{token} [get]
func (h *ReportHandler) DownloadSigned(c *gin.Context) {
	download, err := h.service.OpenSigned(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	servePDF(c, download)
}

// StudentReports godoc
// @Summary List the bulletins of a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/reports [get]
func (h *ReportHandler) StudentReports(c *gin.Context) {
	page, size := paging(c)
	reports, pagination, err := h.service.ListByStudent(c.Request.Context(), c.Param("id"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, pagination)
}

// StudentDownload godoc
// @Summary Download the bulletin of a student for a period
// @Tags Students
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param period path string true "Period"
// @Param school_year query string false "School year, defaults to the current one"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/reports/{period}/download [get]
func (h *ReportHandler) StudentDownload(c *gin.Context) {
	period := models.Period(strings.ToUpper(c.Param("period")))
	download, err := h.service.Download(c.Request.Context(), c.Param("id"), period, c.Query("school_year"))
	if err != nil {
		response.Error(c, err)
		return
	}
	servePDF(c, download)
}

// ClassResults godoc
// @Summary Class ranking for a period
// @Tags Classes
// @Produce json,text/csv
// @Param id path string true "Class ID"
// @Param period query string true "Period"
// @Param format query string false "json (default) or csv"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/results [get]
func (h *ReportHandler) ClassResults(c *gin.Context) {
	classID := c.Param("id")
	period := models.Period(strings.ToUpper(c.Query("period")))
	if period == "" {
		response.Error(c, appErrors.Field("period", "is required"))
		return
	}

	switch strings.ToLower(c.DefaultQuery("format", "json")) {
	case "json":
		results, err := h.service.ClassResults(c.Request.Context(), classID, period)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, results, nil)
	case "csv":
		data, err := h.service.ClassResultsCSV(c.Request.Context(), classID, period)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"results_%s_%s.csv\"", classID, period))
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
	default:
		response.Error(c, appErrors.Field("format", "must be json or csv"))
	}
}

func servePDF(c *gin.Context, download *service.ReportDownload) {
	defer download.File.Close() //nolint:errcheck
	var size int64 = -1
	if info, err := download.File.Stat(); err == nil {
		size = info.Size()
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", download.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, size, "application/pdf", download.File, nil)
}
