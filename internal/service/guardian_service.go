package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/sanitize"
)

type guardianRepository interface {
	List(ctx context.Context, filter models.GuardianFilter) ([]models.GuardianDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.GuardianDetail, error)
	Update(ctx context.Context, exec sqlx.ExtContext, guardian *models.Guardian) error
}

type guardianStudentLister interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
}

// UpdateGuardianRequest updates guardian specific details.
type UpdateGuardianRequest struct {
	Profession *string `json:"profession" validate:"omitempty,max=150"`
}

// GuardianService exposes guardian profiles and their children.
type GuardianService struct {
	repo      guardianRepository
	students  guardianStudentLister
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGuardianService constructs a GuardianService.
func NewGuardianService(repo guardianRepository, students guardianStudentLister, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *GuardianService {
	return &GuardianService{repo: repo, students: students, audit: audit, validator: defaultValidator(validate), logger: defaultLogger(logger)}
}

// List returns guardians with pagination.
func (s *GuardianService) List(ctx context.Context, filter models.GuardianFilter) ([]models.GuardianDetail, *models.Pagination, error) {
	guardians, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list guardians")
	}
	return guardians, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a guardian by ID.
func (s *GuardianService) Get(ctx context.Context, id string) (*models.GuardianDetail, error) {
	guardian, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "guardian")
	}
	return guardian, nil
}

// Update changes the guardian profession.
func (s *GuardianService) Update(ctx context.Context, id string, req UpdateGuardianRequest, meta models.RequestMeta) (*models.GuardianDetail, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	guardian, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	guardian.Profession = sanitize.OptionalText(req.Profession)
	if err := s.repo.Update(ctx, nil, &guardian.Guardian); err != nil {
		return nil, appErrors.Internal(err, "failed to update guardian")
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionUpdate, "guardians", id)
	return guardian, nil
}

// Children lists the students of a guardian. A GUARDIAN caller may only list its own children.
func (s *GuardianService) Children(ctx context.Context, id, userID string, role models.UserRole) ([]models.StudentDetail, error) {
	guardian, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && guardian.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "access to this guardian is not allowed")
	}
	students, _, err := s.students.List(ctx, models.StudentFilter{GuardianID: guardian.ID, PageSize: maxPageSize})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list guardian students")
	}
	return students, nil
}
