package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/sanitize"
)

const dateLayout = "2006-01-02"

type absenceRepository interface {
	List(ctx context.Context, filter models.AbsenceFilter) ([]models.Absence, int, error)
	Summary(ctx context.Context, studentID string, from, to *time.Time) (*models.AbsenceSummary, error)
	FindByID(ctx context.Context, id string) (*models.Absence, error)
	Create(ctx context.Context, absence *models.Absence) error
	Update(ctx context.Context, absence *models.Absence) error
	Delete(ctx context.Context, id string) error
}

type documentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Document, error)
}

// CreateAbsenceRequest records a missed half day or day.
type CreateAbsenceRequest struct {
	StudentID string  `json:"student_id" validate:"required,uuid"`
	Date      string  `json:"date" validate:"required,datetime=2006-01-02"`
	Slot      string  `json:"slot" validate:"omitempty,oneof=MORNING AFTERNOON FULL_DAY"`
	Comment   *string `json:"comment" validate:"omitempty,max=500"`
}

// UpdateAbsenceRequest amends the date, slot or comment of an absence.
type UpdateAbsenceRequest struct {
	Date    *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Slot    *string `json:"slot" validate:"omitempty,oneof=MORNING AFTERNOON FULL_DAY"`
	Comment *string `json:"comment" validate:"omitempty,max=500"`
}

// JustifyAbsenceRequest marks an absence as justified. DocumentID optionally points at an uploaded
// document of the same student.
type JustifyAbsenceRequest struct {
	Reason     string `json:"reason" validate:"required,min=3,max=500"`
	DocumentID string `json:"document_id" validate:"omitempty,uuid"`
}

// AbsenceService manages student absences.
type AbsenceService struct {
	repo      absenceRepository
	students  studentLookup
	documents documentLookup
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAbsenceService constructs the absence service.
func NewAbsenceService(repo absenceRepository, students studentLookup, documents documentLookup, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *AbsenceService {
	return &AbsenceService{
		repo:      repo,
		students:  students,
		documents: documents,
		audit:     audit,
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
		now:       time.Now,
	}
}

// List returns absences matching the filter.
func (s *AbsenceService) List(ctx context.Context, filter models.AbsenceFilter) ([]models.Absence, *models.Pagination, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Field("to", "must not be before from")
	}
	absences, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list absences")
	}
	return absences, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns an absence by id.
func (s *AbsenceService) Get(ctx context.Context, id string) (*models.Absence, error) {
	absence, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "absence")
	}
	return absence, nil
}

// Create records an absence for an existing student.
func (s *AbsenceService) Create(ctx context.Context, req CreateAbsenceRequest, meta models.RequestMeta) (*models.Absence, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	date, err := s.absenceDate(req.Date)
	if err != nil {
		return nil, err
	}
	if _, err := s.students.FindByID(ctx, nil, req.StudentID); err != nil {
		return nil, lookupError(err, "student")
	}

	slot := models.AbsenceSlotFullDay
	if req.Slot != "" {
		slot = models.AbsenceSlot(req.Slot)
	}
	absence := &models.Absence{
		StudentID: req.StudentID,
		Date:      date,
		Slot:      slot,
		Comment:   sanitize.OptionalText(req.Comment),
	}
	if err := s.repo.Create(ctx, absence); err != nil {
		return nil, appErrors.Internal(err, "failed to create absence")
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionCreate, "absences", absence.ID)
	return absence, nil
}

// Update amends an absence.
func (s *AbsenceService) Update(ctx context.Context, id string, req UpdateAbsenceRequest, meta models.RequestMeta) (*models.Absence, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	absence, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Date != nil {
		if absence.Date, err = s.absenceDate(*req.Date); err != nil {
			return nil, err
		}
	}
	if req.Slot != nil {
		absence.Slot = models.AbsenceSlot(*req.Slot)
	}
	if req.Comment != nil {
		absence.Comment = sanitize.OptionalText(req.Comment)
	}
	if err := s.repo.Update(ctx, absence); err != nil {
		return nil, appErrors.Internal(err, "failed to update absence")
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionUpdate, "absences", id)
	return absence, nil
}

// Justify records the reason for an absence. Guardians may only justify absences of their own children.
func (s *AbsenceService) Justify(ctx context.Context, id string, req JustifyAbsenceRequest, role models.UserRole, meta models.RequestMeta) (*models.Absence, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	absence, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == models.RoleGuardian {
		student, err := s.students.FindByID(ctx, nil, absence.StudentID)
		if err != nil {
			return nil, lookupError(err, "student")
		}
		if student.GuardianUserID != meta.ActorID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "absence belongs to another family")
		}
	}
	if req.DocumentID != "" {
		if err := s.checkDocument(ctx, req.DocumentID, absence.StudentID); err != nil {
			return nil, err
		}
		absence.JustificationDocument = &req.DocumentID
	}

	reason := sanitize.Text(req.Reason)
	if reason == "" {
		return nil, appErrors.Field("reason", "is required")
	}
	absence.Justified = true
	absence.Reason = &reason
	if err := s.repo.Update(ctx, absence); err != nil {
		return nil, appErrors.Internal(err, "failed to justify absence")
	}
	s.logger.Info("absence justified", zap.String("absence_id", id), zap.String("student_id", absence.StudentID))
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionUpdate, "absences", id)
	return absence, nil
}

func (s *AbsenceService) checkDocument(ctx context.Context, documentID, studentID string) error {
	if s.documents == nil {
		return nil
	}
	doc, err := s.documents.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Field("document_id", "unknown document")
		}
		return appErrors.Internal(err, "failed to load document")
	}
	if doc.StudentID != studentID {
		return appErrors.Field("document_id", "document belongs to another student")
	}
	return nil
}

// Delete removes an absence.
func (s *AbsenceService) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Internal(err, "failed to delete absence")
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionDelete, "absences", id)
	return nil
}

// CountByStudent totals a student's absences, optionally within an inclusive date range.
func (s *AbsenceService) CountByStudent(ctx context.Context, studentID string, from, to *time.Time) (*models.AbsenceSummary, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, appErrors.Field("to", "must not be before from")
	}
	if _, err := s.students.FindByID(ctx, nil, studentID); err != nil {
		return nil, lookupError(err, "student")
	}
	summary, err := s.repo.Summary(ctx, studentID, from, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to summarise absences")
	}
	return summary, nil
}

func (s *AbsenceService) absenceDate(raw string) (time.Time, error) {
	date, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, appErrors.Field("date", "must match format "+dateLayout)
	}
	if date.After(s.now().UTC()) {
		return time.Time{}, appErrors.Field("date", "cannot be in the future")
	}
	return date, nil
}
