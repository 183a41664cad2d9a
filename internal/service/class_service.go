package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/curriculum"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/sanitize"
)

const defaultClassCapacity = 30

type classRepository interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ClassDetail, error)
	ExistsByKey(ctx context.Context, level, name, schoolYear, excludeID string) (bool, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
}

type classSubjectRepository interface {
	ListByClass(ctx context.Context, classID string) ([]models.ClassSubjectDetail, error)
	Replace(ctx context.Context, exec sqlx.ExtContext, classID string, assignments []models.ClassSubject) error
	UpsertDefaults(ctx context.Context, exec sqlx.ExtContext, assignments []models.ClassSubject) (int, error)
	Remove(ctx context.Context, classID, subjectID string) (bool, error)
}

type classSubjectCatalog interface {
	ListByLevels(ctx context.Context, exec sqlx.ExtContext, levels ...models.SubjectLevel) ([]models.Subject, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Subject, error)
}

type classStudentRepository interface {
	ListByClass(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.StudentDetail, error)
	CountByClass(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error)
}

// CreateClassRequest payload for creating a class.
type CreateClassRequest struct {
	Level       string  `json:"level" validate:"required,max=20"`
	Name        string  `json:"name" validate:"required,alphanum,max=10"`
	Capacity    int     `json:"capacity" validate:"omitempty,min=1,max=100"`
	SchoolYear  string  `json:"school_year" validate:"required,len=9"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

// UpdateClassRequest payload for updating a class.
type UpdateClassRequest struct {
	Level       string  `json:"level" validate:"required,max=20"`
	Name        string  `json:"name" validate:"required,alphanum,max=10"`
	Capacity    int     `json:"capacity" validate:"required,min=1,max=100"`
	SchoolYear  string  `json:"school_year" validate:"required,len=9"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

// ClassSubjectInput is one explicit subject assignment.
type ClassSubjectInput struct {
	SubjectID   string `json:"subject_id" validate:"required,uuid"`
	Coefficient int    `json:"coefficient" validate:"required,min=1,max=10"`
}

// AssignClassSubjectsRequest replaces the subject set of a class.
type AssignClassSubjectsRequest struct {
	Subjects []ClassSubjectInput `json:"subjects" validate:"dive"`
}

// DefaultAssignmentResult reports the outcome of a default subject assignment.
type DefaultAssignmentResult struct {
	Added    int                         `json:"added"`
	Subjects []models.ClassSubjectDetail `json:"subjects,omitempty"`
}

// ClassService manages classes and their subjects.
type ClassService struct {
	tx        txProvider
	repo      classRepository
	subjects  classSubjectRepository
	catalog   classSubjectCatalog
	students  classStudentRepository
	policy    *curriculum.Policy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs a ClassService.
func NewClassService(tx txProvider, repo classRepository, subjects classSubjectRepository, catalog classSubjectCatalog, students classStudentRepository, policy *curriculum.Policy, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if policy == nil {
		policy = curriculum.Default()
	}
	return &ClassService{
		tx:        tx,
		repo:      repo,
		subjects:  subjects,
		catalog:   catalog,
		students:  students,
		policy:    policy,
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
	}
}

// List returns classes with pagination.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, *models.Pagination, error) {
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list classes")
	}
	return classes, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a class with its student count and subjects.
func (s *ClassService) Get(ctx context.Context, id string) (*models.ClassOverview, error) {
	class, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return nil, lookupError(err, "class")
	}
	subjects, err := s.subjects.ListByClass(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load class subjects")
	}
	return &models.ClassOverview{ClassDetail: *class, Subjects: subjects}, nil
}

// Create registers a new class. Level, name and school year are unique together.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest) (*models.Class, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	class := &models.Class{
		Level:       strings.ToUpper(strings.TrimSpace(req.Level)),
		Name:        strings.ToUpper(strings.TrimSpace(req.Name)),
		Capacity:    req.Capacity,
		SchoolYear:  req.SchoolYear,
		Description: sanitize.OptionalText(req.Description),
	}
	if class.Capacity == 0 {
		class.Capacity = defaultClassCapacity
	}
	if err := s.checkClass(ctx, class, ""); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, class); err != nil {
		if database.IsUniqueViolation(err, "classes_level_name_year_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "class already exists for this school year")
		}
		return nil, appErrors.Internal(err, "failed to create class")
	}
	return class, nil
}

// Update modifies a class. Capacity cannot drop below the current enrollment.
func (s *ClassService) Update(ctx context.Context, id string, req UpdateClassRequest) (*models.Class, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return nil, lookupError(err, "class")
	}

	class := existing.Class
	class.Level = strings.ToUpper(strings.TrimSpace(req.Level))
	class.Name = strings.ToUpper(strings.TrimSpace(req.Name))
	class.Capacity = req.Capacity
	class.SchoolYear = req.SchoolYear
	class.Description = sanitize.OptionalText(req.Description)
	if err := s.checkClass(ctx, &class, id); err != nil {
		return nil, err
	}
	if class.Capacity < existing.StudentCount {
		return nil, appErrors.Field("capacity", fmt.Sprintf("must be at least the %d enrolled students", existing.StudentCount))
	}

	if err := s.repo.Update(ctx, &class); err != nil {
		if database.IsUniqueViolation(err, "classes_level_name_year_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "class already exists for this school year")
		}
		return nil, appErrors.Internal(err, "failed to update class")
	}
	return &class, nil
}

// Delete removes a class that has no enrolled students.
func (s *ClassService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, nil, id); err != nil {
		return lookupError(err, "class")
	}
	count, err := s.students.CountByClass(ctx, nil, id)
	if err != nil {
		return appErrors.Internal(err, "failed to count class students")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "class has enrolled students and cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if database.IsForeignKeyViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "class is referenced by issued reports")
		}
		return appErrors.Internal(err, "failed to delete class")
	}
	return nil
}

// Students lists the students enrolled in a class.
func (s *ClassService) Students(ctx context.Context, id string) ([]models.StudentDetail, error) {
	if _, err := s.repo.FindByID(ctx, nil, id); err != nil {
		return nil, lookupError(err, "class")
	}
	students, err := s.students.ListByClass(ctx, nil, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list class students")
	}
	return students, nil
}

// Subjects lists the subjects assigned to a class.
func (s *ClassService) Subjects(ctx context.Context, id string) ([]models.ClassSubjectDetail, error) {
	if _, err := s.repo.FindByID(ctx, nil, id); err != nil {
		return nil, lookupError(err, "class")
	}
	subjects, err := s.subjects.ListByClass(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list class subjects")
	}
	return subjects, nil
}

// AssignSubjects replaces the subject set of a class atomically.
func (s *ClassService) AssignSubjects(ctx context.Context, id string, req AssignClassSubjectsRequest) ([]models.ClassSubjectDetail, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}

	assignments := make([]models.ClassSubject, 0, len(req.Subjects))
	ids := make([]string, 0, len(req.Subjects))
	seen := make(map[string]struct{}, len(req.Subjects))
	for _, item := range req.Subjects {
		if _, dup := seen[item.SubjectID]; dup {
			return nil, appErrors.Field("subjects", "contains subject "+item.SubjectID+" twice")
		}
		seen[item.SubjectID] = struct{}{}
		ids = append(ids, item.SubjectID)
		assignments = append(assignments, models.ClassSubject{ClassID: id, SubjectID: item.SubjectID, Coefficient: item.Coefficient})
	}
	if err := s.ensureSubjectsExist(ctx, ids); err != nil {
		return nil, err
	}

	err := database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		if _, err := s.repo.FindByID(ctx, tx, id); err != nil {
			return lookupError(err, "class")
		}
		if err := s.subjects.Replace(ctx, tx, id, assignments); err != nil {
			return appErrors.Internal(err, "failed to assign class subjects")
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	subjects, err := s.subjects.ListByClass(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list class subjects")
	}
	return subjects, nil
}

// AssignDefaultSubjects links every subject taught in the class cycle, with its policy coefficient.
// Existing assignments keep their coefficient.
func (s *ClassService) AssignDefaultSubjects(ctx context.Context, id string) (*DefaultAssignmentResult, error) {
	result := &DefaultAssignmentResult{}
	err := database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		class, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return lookupError(err, "class")
		}
		level, ok := s.policy.Level(class.Level)
		if !ok {
			return appErrors.Clone(appErrors.ErrBadRequest, "class level "+class.Level+" is not configured")
		}

		subjects, err := s.catalog.ListByLevels(ctx, tx, models.SubjectLevel(level.Cycle), models.SubjectLevelAll)
		if err != nil {
			return appErrors.Internal(err, "failed to list subjects")
		}
		assignments := make([]models.ClassSubject, 0, len(subjects))
		for _, subject := range subjects {
			assignments = append(assignments, models.ClassSubject{
				ClassID:     class.ID,
				SubjectID:   subject.ID,
				Coefficient: s.policy.CoefficientFor(subject.Name),
			})
		}
		added, err := s.subjects.UpsertDefaults(ctx, tx, assignments)
		if err != nil {
			return appErrors.Internal(err, "failed to assign default subjects")
		}
		result.Added = added
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	subjects, err := s.subjects.ListByClass(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list class subjects")
	}
	result.Subjects = subjects
	s.logger.Info("default subjects assigned", zap.String("class_id", id), zap.Int("added", result.Added))
	return result, nil
}

// RemoveSubject detaches one subject from a class.
func (s *ClassService) RemoveSubject(ctx context.Context, id, subjectID string) error {
	removed, err := s.subjects.Remove(ctx, id, subjectID)
	if err != nil {
		return appErrors.Internal(err, "failed to remove class subject")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "subject is not assigned to this class")
	}
	return nil
}

func (s *ClassService) checkClass(ctx context.Context, class *models.Class, excludeID string) error {
	if _, ok := s.policy.Level(class.Level); !ok {
		return appErrors.Field("level", "must be one of ["+strings.Join(s.policy.LevelCodes(), " ")+"]")
	}
	if !models.ValidSchoolYear(class.SchoolYear) {
		return appErrors.Field("school_year", "must look like 2024-2025")
	}
	exists, err := s.repo.ExistsByKey(ctx, class.Level, class.Name, class.SchoolYear, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to check class uniqueness")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "class already exists for this school year")
	}
	return nil
}

func (s *ClassService) ensureSubjectsExist(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.catalog.FindByIDs(ctx, ids)
	if err != nil {
		return appErrors.Internal(err, "failed to load subjects")
	}
	if len(found) == len(ids) {
		return nil
	}
	known := make(map[string]struct{}, len(found))
	for _, subject := range found {
		known[subject.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return appErrors.Field("subjects", "unknown subject "+id)
		}
	}
	return nil
}
