package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/grading"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/sanitize"
)

const gradeKeyConstraint = "grades_unique_entry"

type gradeRepository interface {
	List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.GradeDetail, error)
	ListForStudentPeriod(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear string) ([]models.GradeDetail, error)
	Create(ctx context.Context, grade *models.Grade) error
	Update(ctx context.Context, grade *models.Grade) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type studentLookup interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentDetail, error)
}

type subjectLookup interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

type teacherLookup interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.TeacherDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.Teacher, error)
}

type teacherSubjectLookup interface {
	ListSubjects(ctx context.Context, teacherID string) ([]models.Subject, error)
}

type coefficientSource interface {
	Coefficients(ctx context.Context, exec sqlx.ExtContext, classID string) (map[string]int, error)
}

// CreateGradeRequest records one mark. TeacherID is only read for administrators; teachers grade as themselves.
type CreateGradeRequest struct {
	StudentID string           `json:"student_id" validate:"required,uuid"`
	SubjectID string           `json:"subject_id" validate:"required,uuid"`
	TeacherID string           `json:"teacher_id" validate:"omitempty,uuid"`
	Value     *float64         `json:"value" validate:"required,gte=0,lte=20"`
	Type      models.GradeType `json:"type" validate:"required,oneof=HOMEWORK EXAM QUIZ ORAL"`
	Period    models.Period    `json:"period" validate:"required,oneof=TRIMESTER_1 TRIMESTER_2 TRIMESTER_3 SEMESTER_1 SEMESTER_2"`
	Comment   *string          `json:"comment" validate:"omitempty,max=500"`
}

// UpdateGradeRequest changes the value or comment of an unreported grade.
type UpdateGradeRequest struct {
	Value   *float64 `json:"value" validate:"omitempty,gte=0,lte=20"`
	Comment *string  `json:"comment" validate:"omitempty,max=500"`
}

// PeriodAverages is the unsaved aggregation of a student's grades for one period.
type PeriodAverages struct {
	StudentID string        `json:"student_id"`
	Period    models.Period `json:"period"`
	grading.Result
}

// GradeService records grades and computes period averages.
type GradeService struct {
	repo         gradeRepository
	students     studentLookup
	subjects     subjectLookup
	teachers     teacherLookup
	assignments  teacherSubjectLookup
	coefficients coefficientSource
	audit        auditRecorder
	validator    *validator.Validate
	logger       *zap.Logger
}

// GradeServiceDeps groups the collaborators of GradeService.
type GradeServiceDeps struct {
	Grades       gradeRepository
	Students     studentLookup
	Subjects     subjectLookup
	Teachers     teacherLookup
	Assignments  teacherSubjectLookup
	Coefficients coefficientSource
	Audit        auditRecorder
	Validator    *validator.Validate
	Logger       *zap.Logger
}

// NewGradeService constructs the grade service.
func NewGradeService(deps GradeServiceDeps) *GradeService {
	return &GradeService{
		repo:         deps.Grades,
		students:     deps.Students,
		subjects:     deps.Subjects,
		teachers:     deps.Teachers,
		assignments:  deps.Assignments,
		coefficients: deps.Coefficients,
		audit:        deps.Audit,
		validator:    defaultValidator(deps.Validator),
		logger:       defaultLogger(deps.Logger),
	}
}

// List returns grades matching the filter.
func (s *GradeService) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, *models.Pagination, error) {
	if filter.Period != "" && !filter.Period.Valid() {
		return nil, nil, appErrors.Field("period", "unknown period")
	}
	if filter.SchoolYear != "" && !models.ValidSchoolYear(filter.SchoolYear) {
		return nil, nil, appErrors.Field("school_year", "must look like 2024-2025")
	}
	grades, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list grades")
	}
	return grades, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a grade by id.
func (s *GradeService) Get(ctx context.Context, id string) (*models.GradeDetail, error) {
	grade, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "grade")
	}
	return grade, nil
}

// Create records a grade in the student's current school year. A student holds at most one grade
// per subject, period, school year and type.
func (s *GradeService) Create(ctx context.Context, req CreateGradeRequest, role models.UserRole, meta models.RequestMeta) (*models.GradeDetail, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	student, err := s.students.FindByID(ctx, nil, req.StudentID)
	if err != nil {
		return nil, lookupError(err, "student")
	}
	if _, err := s.subjects.FindByID(ctx, req.SubjectID); err != nil {
		return nil, lookupError(err, "subject")
	}
	teacherID, err := s.resolveTeacher(ctx, req.TeacherID, role, meta.ActorID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTeaches(ctx, teacherID, req.SubjectID, role); err != nil {
		return nil, err
	}

	grade := &models.Grade{
		StudentID:  req.StudentID,
		SubjectID:  req.SubjectID,
		TeacherID:  teacherID,
		Value:      grading.Round2(*req.Value),
		Type:       req.Type,
		Period:     req.Period,
		SchoolYear: student.SchoolYear,
		Comment:    sanitize.OptionalText(req.Comment),
	}
	if err := s.repo.Create(ctx, grade); err != nil {
		if database.IsUniqueViolation(err, gradeKeyConstraint) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a grade of this type already exists for the subject, period and school year")
		}
		return nil, appErrors.Internal(err, "failed to create grade")
	}

	s.logger.Debug("grade recorded",
		zap.String("grade_id", grade.ID),
		zap.String("student_id", grade.StudentID),
		zap.String("period", string(grade.Period)),
	)
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionCreate, "grades", grade.ID)
	return s.Get(ctx, grade.ID)
}

func (s *GradeService) resolveTeacher(ctx context.Context, requested string, role models.UserRole, userID string) (string, error) {
	if role == models.RoleTeacher {
		teacher, err := s.teachers.FindByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", appErrors.Clone(appErrors.ErrForbidden, "no teacher profile for this account")
			}
			return "", appErrors.Internal(err, "failed to load teacher profile")
		}
		return teacher.ID, nil
	}
	if requested == "" {
		return "", appErrors.Field("teacher_id", "is required")
	}
	if _, err := s.teachers.FindByID(ctx, nil, requested); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Field("teacher_id", "unknown teacher")
		}
		return "", appErrors.Internal(err, "failed to load teacher")
	}
	return requested, nil
}

// ensureTeaches rejects grades for a subject the teacher is not assigned to.
func (s *GradeService) ensureTeaches(ctx context.Context, teacherID, subjectID string, role models.UserRole) error {
	subjects, err := s.assignments.ListSubjects(ctx, teacherID)
	if err != nil {
		return appErrors.Internal(err, "failed to load teacher subjects")
	}
	for _, subject := range subjects {
		if subject.ID == subjectID {
			return nil
		}
	}
	if role == models.RoleTeacher {
		return appErrors.Clone(appErrors.ErrForbidden, "you are not assigned to this subject")
	}
	return appErrors.Field("teacher_id", "is not assigned to this subject")
}

// Update changes a grade that is not yet part of a report.
func (s *GradeService) Update(ctx context.Context, id string, req UpdateGradeRequest, meta models.RequestMeta) (*models.GradeDetail, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ReportID != nil {
		return nil, reportedGradeError()
	}

	grade := current.Grade
	if req.Value != nil {
		grade.Value = grading.Round2(*req.Value)
	}
	if req.Comment != nil {
		grade.Comment = sanitize.OptionalText(req.Comment)
	}
	updated, err := s.repo.Update(ctx, &grade)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to update grade")
	}
	if !updated {
		return nil, reportedGradeError()
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionUpdate, "grades", id)
	return s.Get(ctx, id)
}

// Delete removes a grade that is not yet part of a report.
func (s *GradeService) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.ReportID != nil {
		return reportedGradeError()
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to delete grade")
	}
	if !deleted {
		return reportedGradeError()
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionDelete, "grades", id)
	return nil
}

// StudentAverages aggregates a student's grades for a period of the current school year without
// persisting anything.
func (s *GradeService) StudentAverages(ctx context.Context, studentID string, period models.Period) (*PeriodAverages, error) {
	if !period.Valid() {
		return nil, appErrors.Field("period", "unknown period")
	}
	student, err := s.students.FindByID(ctx, nil, studentID)
	if err != nil {
		return nil, lookupError(err, "student")
	}
	result, err := studentResult(ctx, nil, s.repo, s.coefficients, student, period, student.SchoolYear)
	if err != nil {
		return nil, err
	}
	return &PeriodAverages{StudentID: studentID, Period: period, Result: result}, nil
}

func reportedGradeError() error {
	return appErrors.Clone(appErrors.ErrConflict, "grade is already part of a report")
}

type periodGradeSource interface {
	ListForStudentPeriod(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear string) ([]models.GradeDetail, error)
}

// studentResult aggregates one student's grades for a period of a school year with the
// coefficients of the student's class.
func studentResult(ctx context.Context, exec sqlx.ExtContext, grades periodGradeSource, coefficients coefficientSource, student *models.StudentDetail, period models.Period, schoolYear string) (grading.Result, error) {
	rows, err := grades.ListForStudentPeriod(ctx, exec, student.ID, period, schoolYear)
	if err != nil {
		return grading.Result{}, appErrors.Internal(err, "failed to load grades")
	}
	coefs, err := coefficients.Coefficients(ctx, exec, student.ClassID)
	if err != nil {
		return grading.Result{}, appErrors.Internal(err, "failed to load coefficients")
	}
	return grading.Aggregate(gradeEntries(rows), coefs), nil
}

func gradeEntries(rows []models.GradeDetail) []grading.Entry {
	entries := make([]grading.Entry, 0, len(rows))
	for _, g := range rows {
		entries = append(entries, grading.Entry{SubjectID: g.SubjectID, SubjectName: g.SubjectName, Value: g.Value})
	}
	return entries
}
