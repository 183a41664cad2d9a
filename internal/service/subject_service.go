package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/sanitize"
)

type subjectRepository interface {
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error)
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	Create(ctx context.Context, subject *models.Subject) error
	Update(ctx context.Context, subject *models.Subject) error
	Delete(ctx context.Context, id string) error
	CountGrades(ctx context.Context, id string) (int, error)
}

// CreateSubjectRequest captures fields for creating subjects.
type CreateSubjectRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Code        *string `json:"code" validate:"omitempty,max=20"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Level       string  `json:"level" validate:"omitempty,oneof=LOWER_SECONDARY UPPER_SECONDARY ALL"`
}

// UpdateSubjectRequest modifies subject fields.
type UpdateSubjectRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Code        *string `json:"code" validate:"omitempty,max=20"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Level       string  `json:"level" validate:"required,oneof=LOWER_SECONDARY UPPER_SECONDARY ALL"`
}

// SubjectService handles subject domain workflows.
type SubjectService struct {
	repo      subjectRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubjectService creates a new subject service.
func NewSubjectService(repo subjectRepository, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	return &SubjectService{repo: repo, validator: defaultValidator(validate), logger: defaultLogger(logger)}
}

// List returns paginated subjects.
func (s *SubjectService) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	subjects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list subjects")
	}
	return subjects, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a subject by ID.
func (s *SubjectService) Get(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "subject")
	}
	return subject, nil
}

// Create adds a subject. Names are unique regardless of case.
func (s *SubjectService) Create(ctx context.Context, req CreateSubjectRequest) (*models.Subject, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	subject := &models.Subject{
		Name:        sanitize.Text(req.Name),
		Code:        upperOptional(req.Code),
		Description: sanitize.OptionalText(req.Description),
		Level:       models.SubjectLevel(req.Level),
	}
	if subject.Level == "" {
		subject.Level = models.SubjectLevelAll
	}
	if err := s.ensureNameAvailable(ctx, subject.Name, ""); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, subject); err != nil {
		if database.IsUniqueViolation(err, "subjects_name_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "subject name already exists")
		}
		return nil, appErrors.Internal(err, "failed to create subject")
	}
	return subject, nil
}

// Update modifies subject fields.
func (s *SubjectService) Update(ctx context.Context, id string, req UpdateSubjectRequest) (*models.Subject, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	subject, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	subject.Name = sanitize.Text(req.Name)
	subject.Code = upperOptional(req.Code)
	subject.Description = sanitize.OptionalText(req.Description)
	subject.Level = models.SubjectLevel(req.Level)
	if err := s.ensureNameAvailable(ctx, subject.Name, id); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, subject); err != nil {
		if database.IsUniqueViolation(err, "subjects_name_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "subject name already exists")
		}
		return nil, appErrors.Internal(err, "failed to update subject")
	}
	return subject, nil
}

// Delete removes a subject that no grade references.
func (s *SubjectService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	count, err := s.repo.CountGrades(ctx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to count subject grades")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "subject has recorded grades and cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if database.IsForeignKeyViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "subject is still referenced")
		}
		return appErrors.Internal(err, "failed to delete subject")
	}
	return nil
}

func (s *SubjectService) ensureNameAvailable(ctx context.Context, name, excludeID string) error {
	if name == "" {
		return appErrors.Field("name", "is required")
	}
	exists, err := s.repo.ExistsByName(ctx, name, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to check subject name")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "subject name already exists")
	}
	return nil
}

func upperOptional(v *string) *string {
	cleaned := sanitize.OptionalText(v)
	if cleaned == nil {
		return nil
	}
	upper := strings.ToUpper(*cleaned)
	return &upper
}
