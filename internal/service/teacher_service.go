package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/curriculum"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/mailer"
	"github.com/noah-isme/school-bulletin-api/pkg/sanitize"
)

const (
	staffNumberConstraint = "teachers_staff_number_key"
	defaultSpecialty      = "General"
)

type teacherRepository interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.TeacherDetail, int, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.TeacherDetail, error)
	Create(ctx context.Context, exec sqlx.ExtContext, teacher *models.Teacher) error
	Update(ctx context.Context, exec sqlx.ExtContext, teacher *models.Teacher) error
	CountGrades(ctx context.Context, id string) (int, error)
	NextStaffSequence(ctx context.Context, exec sqlx.ExtContext) (int, error)
}

type teacherAssignmentRepository interface {
	ListSubjects(ctx context.Context, teacherID string) ([]models.Subject, error)
	ListClasses(ctx context.Context, teacherID string) ([]models.Class, error)
	ReplaceSubjects(ctx context.Context, exec sqlx.ExtContext, teacherID string, subjectIDs []string) error
	ReplaceClasses(ctx context.Context, exec sqlx.ExtContext, teacherID string, classIDs []string) error
	AddSubjects(ctx context.Context, exec sqlx.ExtContext, teacherID string, subjectIDs []string) (int, error)
}

type teacherSubjectCatalog interface {
	ListAll(ctx context.Context) ([]models.Subject, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Subject, error)
}

// CreateTeacherRequest provisions a TEACHER account and its staff record.
type CreateTeacherRequest struct {
	Email     string  `json:"email" validate:"required,email,max=255"`
	Password  string  `json:"password" validate:"omitempty,min=8,max=72"`
	FirstName string  `json:"first_name" validate:"required,max=100"`
	LastName  string  `json:"last_name" validate:"required,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	Address   *string `json:"address" validate:"omitempty,max=500"`
	Specialty string  `json:"specialty" validate:"omitempty,max=100"`
	HireDate  string  `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateTeacherRequest updates teacher and account fields.
type UpdateTeacherRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	Address   *string `json:"address" validate:"omitempty,max=500"`
	Specialty *string `json:"specialty" validate:"omitempty,min=1,max=100"`
	HireDate  *string `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
}

// AssignIDsRequest carries an explicit list of subject or class ids.
type AssignIDsRequest struct {
	IDs []string `json:"ids" validate:"dive,uuid"`
}

// TeacherService manages teachers and their assignments.
type TeacherService struct {
	tx          txProvider
	repo        teacherRepository
	assignments teacherAssignmentRepository
	subjects    teacherSubjectCatalog
	classes     classLookup
	users       accountRepository
	policy      *curriculum.Policy
	mailer      mailer.Mailer
	metrics     *MetricsService
	config      ProvisioningConfig
	validator   *validator.Validate
	logger      *zap.Logger
}

// TeacherServiceDeps groups the collaborators of TeacherService.
type TeacherServiceDeps struct {
	Tx          txProvider
	Teachers    teacherRepository
	Assignments teacherAssignmentRepository
	Subjects    teacherSubjectCatalog
	Classes     classLookup
	Users       accountRepository
	Policy      *curriculum.Policy
	Mailer      mailer.Mailer
	Metrics     *MetricsService
	Config      ProvisioningConfig
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// NewTeacherService constructs the teacher service.
func NewTeacherService(deps TeacherServiceDeps) *TeacherService {
	policy := deps.Policy
	if policy == nil {
		policy = curriculum.Default()
	}
	return &TeacherService{
		tx:          deps.Tx,
		repo:        deps.Teachers,
		assignments: deps.Assignments,
		subjects:    deps.Subjects,
		classes:     deps.Classes,
		users:       deps.Users,
		policy:      policy,
		mailer:      deps.Mailer,
		metrics:     deps.Metrics,
		config:      deps.Config.withDefaults(),
		validator:   defaultValidator(deps.Validator),
		logger:      defaultLogger(deps.Logger),
	}
}

// List returns teachers with pagination.
func (s *TeacherService) List(ctx context.Context, filter models.TeacherFilter) ([]models.TeacherDetail, *models.Pagination, error) {
	teachers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list teachers")
	}
	return teachers, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a teacher by ID.
func (s *TeacherService) Get(ctx context.Context, id string) (*models.TeacherDetail, error) {
	teacher, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return nil, lookupError(err, "teacher")
	}
	return teacher, nil
}

// Create provisions the account and staff record in one transaction. Staff number collisions
// restart the transaction.
func (s *TeacherService) Create(ctx context.Context, req CreateTeacherRequest, meta models.RequestMeta) (*models.TeacherDetail, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	hireDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.HireDate != "" {
		hireDate, _ = time.Parse(birthDateLayout, req.HireDate)
	}
	specialty := sanitize.Text(req.Specialty)
	if specialty == "" {
		specialty = defaultSpecialty
	}
	password := req.Password
	if password == "" {
		password = s.config.DefaultPassword
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	var teacherID string
	var user *models.User
	err = withAllocationRetry(s.config, s.metrics, s.logger, "staff_number", staffNumberConstraint, func() error {
		return database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
			user = &models.User{
				Email:        strings.ToLower(strings.TrimSpace(req.Email)),
				PasswordHash: hash,
				FirstName:    sanitize.Text(req.FirstName),
				LastName:     sanitize.Text(req.LastName),
				Phone:        sanitize.OptionalText(req.Phone),
				Address:      sanitize.OptionalText(req.Address),
				Role:         models.RoleTeacher,
				Active:       true,
			}
			if err := s.users.Create(ctx, tx, user); err != nil {
				if database.IsUniqueViolation(err, "users_email_key") {
					return appErrors.Clone(appErrors.ErrConflict, "email already exists")
				}
				return appErrors.Internal(err, "failed to create teacher account")
			}

			seq, err := s.repo.NextStaffSequence(ctx, tx)
			if err != nil {
				return appErrors.Internal(err, "failed to allocate staff number")
			}
			teacher := &models.Teacher{
				UserID:      user.ID,
				Specialty:   specialty,
				HireDate:    hireDate,
				StaffNumber: models.StaffNumber(seq),
			}
			if err := s.repo.Create(ctx, tx, teacher); err != nil {
				if database.IsUniqueViolation(err, staffNumberConstraint) {
					return err
				}
				return appErrors.Internal(err, "failed to create teacher")
			}
			teacherID = teacher.ID
			return nil
		})
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	teacher, err := s.Get(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("teacher created", zap.String("teacher_id", teacher.ID), zap.String("staff_number", teacher.StaffNumber))
	recordAudit(ctx, s.users, s.logger, meta, models.AuditActionCreate, "teachers", teacher.ID)
	sendCredentials(ctx, s.mailer, s.logger, mailer.Credentials{
		Email:    user.Email,
		Name:     user.FullName(),
		Role:     string(models.RoleTeacher),
		Password: password,
		LoginURL: s.config.LoginURL,
	})
	return teacher, nil
}

// Update modifies the staff record and the account profile.
func (s *TeacherService) Update(ctx context.Context, id string, req UpdateTeacherRequest, meta models.RequestMeta) (*models.TeacherDetail, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}

	err := database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return lookupError(err, "teacher")
		}
		teacher := current.Teacher
		if req.Specialty != nil {
			teacher.Specialty = sanitize.Text(*req.Specialty)
		}
		if req.HireDate != nil {
			teacher.HireDate, _ = time.Parse(birthDateLayout, *req.HireDate)
		}
		if err := s.repo.Update(ctx, tx, &teacher); err != nil {
			return appErrors.Internal(err, "failed to update teacher")
		}

		if req.FirstName != nil || req.LastName != nil || req.Phone != nil || req.Address != nil {
			user, err := s.users.FindByID(ctx, current.UserID)
			if err != nil {
				return lookupError(err, "teacher account")
			}
			applyProfile(user, req.FirstName, req.LastName, req.Phone, req.Address)
			if err := s.users.Update(ctx, tx, user); err != nil {
				return appErrors.Internal(err, "failed to update teacher account")
			}
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	recordAudit(ctx, s.users, s.logger, meta, models.AuditActionUpdate, "teachers", id)
	return s.Get(ctx, id)
}

// Delete removes a teacher who never entered a grade, together with the account.
func (s *TeacherService) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	teacher, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	count, err := s.repo.CountGrades(ctx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to count teacher grades")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "teacher has recorded grades and cannot be deleted")
	}
	if err := s.users.Delete(ctx, nil, teacher.UserID); err != nil {
		if database.IsForeignKeyViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "teacher is still referenced")
		}
		return appErrors.Internal(err, "failed to delete teacher")
	}
	recordAudit(ctx, s.users, s.logger, meta, models.AuditActionDelete, "teachers", id)
	return nil
}

// Subjects lists subjects taught by a teacher.
func (s *TeacherService) Subjects(ctx context.Context, id string) ([]models.Subject, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	subjects, err := s.assignments.ListSubjects(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list teacher subjects")
	}
	return subjects, nil
}

// Classes lists classes assigned to a teacher.
func (s *TeacherService) Classes(ctx context.Context, id string) ([]models.Class, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	classes, err := s.assignments.ListClasses(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list teacher classes")
	}
	return classes, nil
}

// AssignSubjects replaces the subjects of a teacher.
func (s *TeacherService) AssignSubjects(ctx context.Context, id string, req AssignIDsRequest) ([]models.Subject, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	ids := uniqueIDs(req.IDs)
	if len(ids) > 0 {
		found, err := s.subjects.FindByIDs(ctx, ids)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load subjects")
		}
		if len(found) != len(ids) {
			return nil, appErrors.Field("ids", "contains unknown subjects")
		}
	}

	err := database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		if _, err := s.repo.FindByID(ctx, tx, id); err != nil {
			return lookupError(err, "teacher")
		}
		if err := s.assignments.ReplaceSubjects(ctx, tx, id, ids); err != nil {
			return appErrors.Internal(err, "failed to assign subjects")
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return s.Subjects(ctx, id)
}

// AssignClasses replaces the classes of a teacher.
func (s *TeacherService) AssignClasses(ctx context.Context, id string, req AssignIDsRequest) ([]models.Class, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	ids := uniqueIDs(req.IDs)

	err := database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		if _, err := s.repo.FindByID(ctx, tx, id); err != nil {
			return lookupError(err, "teacher")
		}
		for _, classID := range ids {
			if _, err := s.classes.FindByID(ctx, tx, classID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Field("ids", "unknown class "+classID)
				}
				return appErrors.Internal(err, "failed to load class")
			}
		}
		if err := s.assignments.ReplaceClasses(ctx, tx, id, ids); err != nil {
			return appErrors.Internal(err, "failed to assign classes")
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return s.Classes(ctx, id)
}

// AssignDefaultSubjects adds the subjects implied by the teacher specialty. Names are matched
// without regard to case or accents.
func (s *TeacherService) AssignDefaultSubjects(ctx context.Context, id string) ([]models.Subject, error) {
	teacher, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	wanted := s.policy.SubjectsForSpecialty(teacher.Specialty)
	if len(wanted) == 0 {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "no default subjects for specialty "+teacher.Specialty)
	}

	all, err := s.subjects.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list subjects")
	}
	var ids []string
	for _, subject := range all {
		if s.policy.MatchesSubject(subject.Name, wanted) {
			ids = append(ids, subject.ID)
		}
	}

	var added int
	err = database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		var err error
		added, err = s.assignments.AddSubjects(ctx, tx, id, ids)
		if err != nil {
			return appErrors.Internal(err, "failed to assign default subjects")
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	s.logger.Info("default teacher subjects assigned", zap.String("teacher_id", id), zap.Int("added", added))
	return s.Subjects(ctx, id)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
