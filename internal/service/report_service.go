package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/grading"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/export"
	"github.com/noah-isme/school-bulletin-api/pkg/storage"
)

const reportKeyConstraint = "reports_student_period_year_key"

type reportRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, report *models.Report) error
	LockKey(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear string) error
	FindByID(ctx context.Context, id string) (*models.Report, error)
	FindByKey(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear string) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.Report, int, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type reportGradeRepository interface {
	periodGradeSource
	ListForClassPeriod(ctx context.Context, exec sqlx.ExtContext, classID string, period models.Period, schoolYear string) ([]models.GradeDetail, error)
	LinkToReport(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear, reportID string) (int64, error)
	UnlinkReport(ctx context.Context, exec sqlx.ExtContext, reportID string) error
}

type reportStudentRepository interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentDetail, error)
	ListByClass(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.StudentDetail, error)
}

type bulletinRenderer interface {
	RenderBulletin(b export.Bulletin) ([]byte, error)
}

type fileStore interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
}

type downloadSigner interface {
	Generate(resourceID string) (string, time.Time, error)
	Parse(token string) (string, time.Time, error)
}

// GenerateReportRequest identifies the bulletin to build. SchoolYear defaults to the current one.
type GenerateReportRequest struct {
	StudentID  string        `json:"student_id" validate:"required,uuid"`
	Period     models.Period `json:"period" validate:"required,oneof=TRIMESTER_1 TRIMESTER_2 TRIMESTER_3 SEMESTER_1 SEMESTER_2"`
	SchoolYear string        `json:"school_year" validate:"omitempty,len=9"`
}

// ReportDownload is an opened bulletin file. Callers close File.
type ReportDownload struct {
	Report   *models.Report
	File     *os.File
	Filename string
}

// SignedLink is a time limited download token for one report.
type SignedLink struct {
	ReportID  string    `json:"report_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClassResultRow is one student's standing in a class for a period.
type ClassResultRow struct {
	StudentID   string          `json:"student_id"`
	RollNumber  string          `json:"roll_number"`
	StudentName string          `json:"student_name"`
	Overall     float64         `json:"overall_average"`
	Rank        int             `json:"rank"`
	Mention     grading.Mention `json:"mention"`
	GradeCount  int             `json:"grade_count"`
}

// ClassResults ranks every student of a class for a period.
type ClassResults struct {
	ClassID    string           `json:"class_id"`
	ClassLabel string           `json:"class_label"`
	Period     models.Period    `json:"period"`
	Average    float64          `json:"class_average"`
	Rows       []ClassResultRow `json:"rows"`
}

// ReportConfig holds bulletin presentation settings.
type ReportConfig struct {
	SchoolName string
}

// ReportServiceDeps groups the collaborators of ReportService.
type ReportServiceDeps struct {
	Tx           txProvider
	Reports      reportRepository
	Grades       reportGradeRepository
	Students     reportStudentRepository
	Classes      classLookup
	Coefficients coefficientSource
	Renderer     bulletinRenderer
	CSV          *export.CSVExporter
	Files        fileStore
	Signer       downloadSigner
	Audit        auditRecorder
	Metrics      *MetricsService
	Config       ReportConfig
	Validator    *validator.Validate
	Logger       *zap.Logger
}

// ReportService generates, stores and serves period bulletins.
type ReportService struct {
	tx           txProvider
	reports      reportRepository
	grades       reportGradeRepository
	students     reportStudentRepository
	classes      classLookup
	coefficients coefficientSource
	renderer     bulletinRenderer
	csv          *export.CSVExporter
	files        fileStore
	signer       downloadSigner
	audit        auditRecorder
	metrics      *MetricsService
	config       ReportConfig
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewReportService constructs the report service.
func NewReportService(deps ReportServiceDeps) *ReportService {
	renderer := deps.Renderer
	if renderer == nil {
		renderer = export.NewPDFExporter()
	}
	csv := deps.CSV
	if csv == nil {
		csv = &export.CSVExporter{BOM: true}
	}
	return &ReportService{
		tx:           deps.Tx,
		reports:      deps.Reports,
		grades:       deps.Grades,
		students:     deps.Students,
		classes:      deps.Classes,
		coefficients: deps.Coefficients,
		renderer:     renderer,
		csv:          csv,
		files:        deps.Files,
		signer:       deps.Signer,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		config:       deps.Config,
		validator:    defaultValidator(deps.Validator),
		logger:       defaultLogger(deps.Logger),
		now:          time.Now,
	}
}

// Generate builds, renders and persists the bulletin of a student for a period. An existing
// bulletin for the same school year is a conflict.
func (s *ReportService) Generate(ctx context.Context, req GenerateReportRequest, meta models.RequestMeta) (*models.Report, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	schoolYear, err := s.schoolYear(req.SchoolYear)
	if err != nil {
		return nil, err
	}

	var report *models.Report
	var stored string
	err = database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		var err error
		report, stored, err = s.generate(ctx, tx, req.StudentID, req.Period, schoolYear)
		return err
	})
	if err != nil {
		if stored != "" {
			s.removeFile(stored)
		}
		if database.IsUniqueViolation(err, reportKeyConstraint) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "report already exists")
		}
		return nil, appErrors.FromError(err)
	}

	s.metrics.ReportGenerated(string(report.Period))
	s.logger.Info("report generated",
		zap.String("report_id", report.ID),
		zap.String("student_id", report.StudentID),
		zap.String("period", string(report.Period)),
		zap.String("school_year", report.SchoolYear),
		zap.Float64("overall_average", report.OverallAverage),
		zap.Int("rank", report.Rank),
	)
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionCreate, "reports", report.ID)
	return report, nil
}

// generate runs inside the transaction. The returned path is set once the PDF is on disk so
// the caller can remove it when the transaction fails.
func (s *ReportService) generate(ctx context.Context, tx sqlx.ExtContext, studentID string, period models.Period, schoolYear string) (*models.Report, string, error) {
	student, err := s.students.FindByID(ctx, tx, studentID)
	if err != nil {
		return nil, "", lookupError(err, "student")
	}
	if err := s.reports.LockKey(ctx, tx, studentID, period, schoolYear); err != nil {
		return nil, "", appErrors.Internal(err, "failed to lock report")
	}
	if _, err := s.reports.FindByKey(ctx, tx, studentID, period, schoolYear); err == nil {
		return nil, "", appErrors.Clone(appErrors.ErrConflict, "report already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, "", appErrors.Internal(err, "failed to check existing report")
	}

	class, err := s.classes.FindByID(ctx, tx, student.ClassID)
	if err != nil {
		return nil, "", lookupError(err, "class")
	}
	result, err := studentResult(ctx, tx, s.grades, s.coefficients, student, period, schoolYear)
	if err != nil {
		return nil, "", err
	}
	if result.Empty() {
		return nil, "", appErrors.Field("period", "student has no grades for this period in "+schoolYear)
	}

	standings, classSize, err := s.classStandings(ctx, tx, class.ID, period, schoolYear)
	if err != nil {
		return nil, "", err
	}
	var others []float64
	for id, r := range standings {
		if id != student.ID {
			others = append(others, r.Overall)
		}
	}
	if _, ok := standings[student.ID]; !ok {
		classSize++
	}

	report := &models.Report{
		StudentID:      student.ID,
		ClassID:        class.ID,
		Period:         period,
		SchoolYear:     schoolYear,
		OverallAverage: result.Overall,
		Rank:           grading.Rank(result.Overall, others),
		ClassSize:      classSize,
		Mention:        string(result.Mention),
		Appreciation:   result.Appreciation,
		IssuedAt:       s.now().UTC(),
	}

	pdf, err := s.renderer.RenderBulletin(s.bulletin(student, class, report, result))
	if err != nil {
		return nil, "", appErrors.Internal(err, "failed to render bulletin")
	}
	name := fmt.Sprintf("bulletins/%s_%s_%s.pdf", student.ID, period, schoolYear)
	stored, err := s.files.Save(name, pdf)
	if err != nil {
		return nil, "", appErrors.Internal(err, "failed to store bulletin")
	}
	report.PDFPath = stored

	if err := s.reports.Create(ctx, tx, report); err != nil {
		if database.IsUniqueViolation(err, reportKeyConstraint) {
			return nil, stored, err
		}
		return nil, stored, appErrors.Internal(err, "failed to save report")
	}
	linked, err := s.grades.LinkToReport(ctx, tx, student.ID, period, schoolYear, report.ID)
	if err != nil {
		return nil, stored, appErrors.Internal(err, "failed to link grades")
	}
	if linked != int64(result.GradeCount) {
		return nil, stored, appErrors.Clone(appErrors.ErrConflict, "grades of this period already belong to another report")
	}
	return report, stored, nil
}

func (s *ReportService) bulletin(student *models.StudentDetail, class *models.ClassDetail, report *models.Report, result grading.Result) export.Bulletin {
	lines := make([]export.BulletinLine, 0, len(result.Subjects))
	for _, subject := range result.Subjects {
		lines = append(lines, export.BulletinLine{
			Subject:     subject.SubjectName,
			Coefficient: subject.Coefficient,
			Average:     subject.Average,
			GradeCount:  subject.GradeCount,
		})
	}
	return export.Bulletin{
		SchoolName:   s.config.SchoolName,
		StudentName:  student.FullName(),
		RollNumber:   student.RollNumber,
		ClassLabel:   class.Label(),
		PeriodLabel:  report.Period.Label(),
		SchoolYear:   report.SchoolYear,
		Lines:        lines,
		Overall:      report.OverallAverage,
		Rank:         report.Rank,
		ClassSize:    report.ClassSize,
		Mention:      report.Mention,
		Appreciation: report.Appreciation,
		IssuedAt:     report.IssuedAt,
	}
}

// classStandings aggregates every current member of a class for a period of a school year.
// Students without grades score 0.
func (s *ReportService) classStandings(ctx context.Context, exec sqlx.ExtContext, classID string, period models.Period, schoolYear string) (map[string]grading.Result, int, error) {
	members, err := s.students.ListByClass(ctx, exec, classID)
	if err != nil {
		return nil, 0, appErrors.Internal(err, "failed to list class students")
	}
	rows, err := s.grades.ListForClassPeriod(ctx, exec, classID, period, schoolYear)
	if err != nil {
		return nil, 0, appErrors.Internal(err, "failed to load class grades")
	}
	coefs, err := s.coefficients.Coefficients(ctx, exec, classID)
	if err != nil {
		return nil, 0, appErrors.Internal(err, "failed to load coefficients")
	}

	byStudent := make(map[string][]models.GradeDetail, len(members))
	for _, row := range rows {
		byStudent[row.StudentID] = append(byStudent[row.StudentID], row)
	}
	standings := make(map[string]grading.Result, len(members))
	for _, member := range members {
		standings[member.ID] = grading.Aggregate(gradeEntries(byStudent[member.ID]), coefs)
	}
	return standings, len(members), nil
}

// Regenerate removes the existing bulletin, if any, and generates it again.
func (s *ReportService) Regenerate(ctx context.Context, req GenerateReportRequest, meta models.RequestMeta) (*models.Report, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	schoolYear, err := s.schoolYear(req.SchoolYear)
	if err != nil {
		return nil, err
	}
	existing, err := s.reports.FindByKey(ctx, nil, req.StudentID, req.Period, schoolYear)
	switch {
	case err == nil:
		if err := s.remove(ctx, existing); err != nil {
			return nil, err
		}
		recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionDelete, "reports", existing.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Internal(err, "failed to load report")
	}
	req.SchoolYear = schoolYear
	return s.Generate(ctx, req, meta)
}

// Get returns a report by id.
func (s *ReportService) Get(ctx context.Context, id string) (*models.Report, error) {
	report, err := s.reports.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "report")
	}
	return report, nil
}

// List returns reports matching the filter.
func (s *ReportService) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, *models.Pagination, error) {
	if filter.Period != "" && !filter.Period.Valid() {
		return nil, nil, appErrors.Field("period", "unknown period")
	}
	if filter.SchoolYear != "" && !models.ValidSchoolYear(filter.SchoolYear) {
		return nil, nil, appErrors.Field("school_year", "must look like 2024-2025")
	}
	reports, total, err := s.reports.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list reports")
	}
	return reports, pagination(filter.Page, filter.PageSize, total), nil
}

// ListByStudent returns every bulletin of a student.
func (s *ReportService) ListByStudent(ctx context.Context, studentID string, page, pageSize int) ([]models.Report, *models.Pagination, error) {
	return s.List(ctx, models.ReportFilter{StudentID: studentID, Page: page, PageSize: pageSize})
}

// FindByStudentPeriod returns the bulletin of a student for a period and school year.
func (s *ReportService) FindByStudentPeriod(ctx context.Context, studentID string, period models.Period, schoolYear string) (*models.Report, error) {
	if !period.Valid() {
		return nil, appErrors.Field("period", "unknown period")
	}
	year, err := s.schoolYear(schoolYear)
	if err != nil {
		return nil, err
	}
	report, err := s.reports.FindByKey(ctx, nil, studentID, period, year)
	if err != nil {
		return nil, lookupError(err, "report")
	}
	return report, nil
}

// Delete removes a report row and its stored PDF.
func (s *ReportService) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	report, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, report); err != nil {
		return err
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionDelete, "reports", id)
	return nil
}

func (s *ReportService) remove(ctx context.Context, report *models.Report) error {
	err := database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		if err := s.grades.UnlinkReport(ctx, tx, report.ID); err != nil {
			return appErrors.Internal(err, "failed to release report grades")
		}
		if err := s.reports.Delete(ctx, tx, report.ID); err != nil {
			return appErrors.Internal(err, "failed to delete report")
		}
		return nil
	})
	if err != nil {
		return appErrors.FromError(err)
	}
	s.removeFile(report.PDFPath)
	return nil
}

func (s *ReportService) removeFile(name string) {
	if err := s.files.Delete(name); err != nil {
		s.logger.Warn("failed to remove bulletin file", zap.String("path", name), zap.Error(err))
	}
}

// Download opens the stored PDF of a student's bulletin.
func (s *ReportService) Download(ctx context.Context, studentID string, period models.Period, schoolYear string) (*ReportDownload, error) {
	report, err := s.FindByStudentPeriod(ctx, studentID, period, schoolYear)
	if err != nil {
		return nil, err
	}
	return s.open(report)
}

// SignedURL issues a download token for a report that needs no bearer token.
func (s *ReportService) SignedURL(ctx context.Context, id string) (*SignedLink, error) {
	report, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(report.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign download link")
	}
	return &SignedLink{ReportID: report.ID, Token: token, ExpiresAt: expiresAt}, nil
}

// OpenSigned resolves a signed token and opens the report it was issued for.
func (s *ReportService) OpenSigned(ctx context.Context, token string) (*ReportDownload, error) {
	id, _, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link has expired")
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	report, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(report)
}

func (s *ReportService) open(report *models.Report) (*ReportDownload, error) {
	file, err := s.files.Open(report.PDFPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report file not found")
		}
		return nil, appErrors.Internal(err, "failed to open report file")
	}
	return &ReportDownload{Report: report, File: file, Filename: path.Base(report.PDFPath)}, nil
}

// ClassResults ranks the students of a class for a period of the class's school year without
// persisting anything.
func (s *ReportService) ClassResults(ctx context.Context, classID string, period models.Period) (*ClassResults, error) {
	if !period.Valid() {
		return nil, appErrors.Field("period", "unknown period")
	}
	class, err := s.classes.FindByID(ctx, nil, classID)
	if err != nil {
		return nil, lookupError(err, "class")
	}
	members, err := s.students.ListByClass(ctx, nil, classID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list class students")
	}
	standings, _, err := s.classStandings(ctx, nil, classID, period, class.SchoolYear)
	if err != nil {
		return nil, err
	}

	averages := make([]float64, 0, len(standings))
	for _, r := range standings {
		averages = append(averages, r.Overall)
	}
	results := &ClassResults{ClassID: class.ID, ClassLabel: class.Label(), Period: period, Rows: make([]ClassResultRow, 0, len(members))}
	var sum float64
	for _, member := range members {
		r := standings[member.ID]
		results.Rows = append(results.Rows, ClassResultRow{
			StudentID:   member.ID,
			RollNumber:  member.RollNumber,
			StudentName: member.FullName(),
			Overall:     r.Overall,
			Rank:        grading.Rank(r.Overall, averages),
			Mention:     r.Mention,
			GradeCount:  r.GradeCount,
		})
		sum += r.Overall
	}
	if len(members) > 0 {
		results.Average = grading.Round2(sum / float64(len(members)))
	}
	sort.SliceStable(results.Rows, func(i, j int) bool {
		if results.Rows[i].Rank != results.Rows[j].Rank {
			return results.Rows[i].Rank < results.Rows[j].Rank
		}
		return results.Rows[i].StudentName < results.Rows[j].StudentName
	})
	return results, nil
}

// ClassResultsCSV renders ClassResults as CSV.
func (s *ReportService) ClassResultsCSV(ctx context.Context, classID string, period models.Period) ([]byte, error) {
	results, err := s.ClassResults(ctx, classID, period)
	if err != nil {
		return nil, err
	}
	data := export.Dataset{Headers: []string{"rank", "roll_number", "student", "overall_average", "mention", "grades"}}
	for _, row := range results.Rows {
		data.Rows = append(data.Rows, map[string]string{
			"rank":            strconv.Itoa(row.Rank),
			"roll_number":     row.RollNumber,
			"student":         row.StudentName,
			"overall_average": strconv.FormatFloat(row.Overall, 'f', 2, 64),
			"mention":         string(row.Mention),
			"grades":          strconv.Itoa(row.GradeCount),
		})
	}
	out, err := s.csv.Render(data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render class results")
	}
	return out, nil
}

func (s *ReportService) schoolYear(raw string) (string, error) {
	if raw == "" {
		return models.SchoolYearAt(s.now()), nil
	}
	if !models.ValidSchoolYear(raw) {
		return "", appErrors.Field("school_year", "must look like 2024-2025")
	}
	return raw, nil
}
