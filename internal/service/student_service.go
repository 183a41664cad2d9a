package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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
	rollNumberConstraint = "students_roll_number_key"
	birthDateLayout      = "2006-01-02"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentDetail, error)
	Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	CountByClass(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error)
	CountGrades(ctx context.Context, exec sqlx.ExtContext, id string) (int, error)
	NextRollSequence(ctx context.Context, exec sqlx.ExtContext, prefix string) (int, error)
	LockRollPrefix(ctx context.Context, exec sqlx.ExtContext, prefix string) error
}

type accountRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, exec sqlx.ExtContext, email string) (*models.User, error)
	Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	Update(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type enrollmentGuardianRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, guardian *models.Guardian) error
	FindByUserID(ctx context.Context, exec sqlx.ExtContext, userID string) (*models.Guardian, error)
	AdjustDependents(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error
}

type classLookup interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ClassDetail, error)
}

// GuardianInput identifies the guardian of an enrolled student. An existing GUARDIAN account with
// the same e-mail is reused.
type GuardianInput struct {
	Email      string  `json:"email" validate:"required,email,max=255"`
	FirstName  string  `json:"first_name" validate:"required,max=100"`
	LastName   string  `json:"last_name" validate:"required,max=100"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	Address    *string `json:"address" validate:"omitempty,max=500"`
	Profession *string `json:"profession" validate:"omitempty,max=150"`
}

// EnrollStudentRequest is the enrollment payload.
type EnrollStudentRequest struct {
	Email      string        `json:"email" validate:"required,email,max=255"`
	Password   string        `json:"password" validate:"omitempty,min=8,max=72"`
	FirstName  string        `json:"first_name" validate:"required,max=100"`
	LastName   string        `json:"last_name" validate:"required,max=100"`
	Phone      *string       `json:"phone" validate:"omitempty,max=32"`
	Address    *string       `json:"address" validate:"omitempty,max=500"`
	BirthDate  string        `json:"birth_date" validate:"required,datetime=2006-01-02"`
	BirthPlace string        `json:"birth_place" validate:"required,max=150"`
	Gender     string        `json:"gender" validate:"required,oneof=M F"`
	ClassID    string        `json:"class_id" validate:"required,uuid"`
	Guardian   GuardianInput `json:"guardian" validate:"required"`
}

// UpdateStudentRequest holds payload for updating students. A new class_id transfers the student.
type UpdateStudentRequest struct {
	FirstName  *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName   *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	Address    *string `json:"address" validate:"omitempty,max=500"`
	BirthDate  *string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	BirthPlace *string `json:"birth_place" validate:"omitempty,min=1,max=150"`
	Gender     *string `json:"gender" validate:"omitempty,oneof=M F"`
	ClassID    *string `json:"class_id" validate:"omitempty,uuid"`
}

// StudentService handles enrollment and student records.
type StudentService struct {
	tx        txProvider
	students  studentRepository
	users     accountRepository
	guardians enrollmentGuardianRepository
	classes   classLookup
	policy    *curriculum.Policy
	mailer    mailer.Mailer
	metrics   *MetricsService
	config    ProvisioningConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// StudentServiceDeps groups the collaborators of StudentService.
type StudentServiceDeps struct {
	Tx        txProvider
	Students  studentRepository
	Users     accountRepository
	Guardians enrollmentGuardianRepository
	Classes   classLookup
	Policy    *curriculum.Policy
	Mailer    mailer.Mailer
	Metrics   *MetricsService
	Config    ProvisioningConfig
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(deps StudentServiceDeps) *StudentService {
	policy := deps.Policy
	if policy == nil {
		policy = curriculum.Default()
	}
	return &StudentService{
		tx:        deps.Tx,
		students:  deps.Students,
		users:     deps.Users,
		guardians: deps.Guardians,
		classes:   deps.Classes,
		policy:    policy,
		mailer:    deps.Mailer,
		metrics:   deps.Metrics,
		config:    deps.Config.withDefaults(),
		validator: defaultValidator(deps.Validator),
		logger:    defaultLogger(deps.Logger),
	}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list students")
	}
	return students, pagination(filter.Page, filter.PageSize, total), nil
}

// ListByGuardian returns every student of a guardian.
func (s *StudentService) ListByGuardian(ctx context.Context, guardianID string) ([]models.StudentDetail, error) {
	students, _, err := s.students.List(ctx, models.StudentFilter{GuardianID: guardianID, PageSize: maxPageSize})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list guardian students")
	}
	return students, nil
}

// Get returns a student by ID.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.students.FindByID(ctx, nil, id)
	if err != nil {
		return nil, lookupError(err, "student")
	}
	return student, nil
}

// GetFor returns the student when the caller may see it: staff always, a guardian for its own
// children, a student for itself.
func (s *StudentService) GetFor(ctx context.Context, id, userID string, role models.UserRole) (*models.StudentDetail, error) {
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch role {
	case models.RoleAdmin, models.RoleTeacher:
		return student, nil
	case models.RoleGuardian:
		if student.GuardianUserID == userID {
			return student, nil
		}
	case models.RoleStudent:
		if student.UserID == userID {
			return student, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "access to this student is not allowed")
}

type enrollment struct {
	studentID   string
	credentials []mailer.Credentials
}

// Enroll creates the student account and record, reusing or creating the guardian, in one transaction.
// Roll number collisions restart the transaction.
func (s *StudentService) Enroll(ctx context.Context, req EnrollStudentRequest, meta models.RequestMeta) (*models.StudentDetail, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	birthDate, _ := time.Parse(birthDateLayout, req.BirthDate)

	var result *enrollment
	err := withAllocationRetry(s.config, s.metrics, s.logger, "roll_number", rollNumberConstraint, func() error {
		var err error
		result, err = s.enrollOnce(ctx, req, birthDate)
		return err
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	student, err := s.Get(ctx, result.studentID)
	if err != nil {
		return nil, err
	}

	s.metrics.StudentEnrolled()
	s.logger.Info("student enrolled",
		zap.String("student_id", student.ID),
		zap.String("roll_number", student.RollNumber),
		zap.String("class_id", student.ClassID),
	)
	recordAudit(ctx, s.users, s.logger, meta, models.AuditActionCreate, "students", student.ID)
	sendCredentials(ctx, s.mailer, s.logger, result.credentials...)
	return student, nil
}

func (s *StudentService) enrollOnce(ctx context.Context, req EnrollStudentRequest, birthDate time.Time) (*enrollment, error) {
	result := &enrollment{}
	err := database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		class, err := s.classes.FindByID(ctx, tx, req.ClassID)
		if err != nil {
			return lookupError(err, "class")
		}
		prefix, err := s.rollPrefix(class.Class)
		if err != nil {
			return err
		}
		seq, err := s.students.NextRollSequence(ctx, tx, prefix)
		if err != nil {
			return appErrors.Internal(err, "failed to allocate roll number")
		}
		enrolled, err := s.students.CountByClass(ctx, tx, class.ID)
		if err != nil {
			return appErrors.Internal(err, "failed to count class students")
		}
		if enrolled >= class.Capacity {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("class %s is full", class.Label()))
		}

		guardian, guardianCreds, err := s.resolveGuardian(ctx, tx, req.Guardian)
		if err != nil {
			return err
		}

		password := req.Password
		if password == "" {
			password = s.config.DefaultPassword
		}
		hash, err := hashPassword(password)
		if err != nil {
			return err
		}
		user := &models.User{
			Email:        strings.ToLower(strings.TrimSpace(req.Email)),
			PasswordHash: hash,
			FirstName:    sanitize.Text(req.FirstName),
			LastName:     sanitize.Text(req.LastName),
			Phone:        sanitize.OptionalText(req.Phone),
			Address:      sanitize.OptionalText(req.Address),
			Role:         models.RoleStudent,
			Active:       true,
		}
		if err := s.users.Create(ctx, tx, user); err != nil {
			if database.IsUniqueViolation(err, "users_email_key") {
				return appErrors.Field("email", "is already used by another account")
			}
			return appErrors.Internal(err, "failed to create student account")
		}

		student := &models.Student{
			UserID:     user.ID,
			GuardianID: guardian.ID,
			ClassID:    class.ID,
			RollNumber: fmt.Sprintf("%s-%03d", prefix, seq),
			BirthDate:  birthDate,
			BirthPlace: sanitize.Text(req.BirthPlace),
			Gender:     req.Gender,
			SchoolYear: class.SchoolYear,
		}
		if err := s.students.Create(ctx, tx, student); err != nil {
			if database.IsUniqueViolation(err, rollNumberConstraint) {
				return err
			}
			return appErrors.Internal(err, "failed to create student")
		}
		if err := s.guardians.AdjustDependents(ctx, tx, guardian.ID, 1); err != nil {
			return appErrors.Internal(err, "failed to update guardian dependents")
		}

		result.studentID = student.ID
		result.credentials = append(guardianCreds, mailer.Credentials{
			Email:    user.Email,
			Name:     user.FullName(),
			Role:     string(models.RoleStudent),
			Password: password,
			LoginURL: s.config.LoginURL,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveGuardian reuses the GUARDIAN account registered under input.Email or provisions a new one.
func (s *StudentService) resolveGuardian(ctx context.Context, tx *sqlx.Tx, input GuardianInput) (*models.Guardian, []mailer.Credentials, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	user, err := s.users.FindByEmail(ctx, tx, email)
	switch {
	case err == nil:
		if user.Role != models.RoleGuardian {
			return nil, nil, appErrors.Field("guardian.email", "belongs to an account that is not a guardian")
		}
		guardian, err := s.guardians.FindByUserID(ctx, tx, user.ID)
		if err == nil {
			return guardian, nil, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Internal(err, "failed to load guardian")
		}
		guardian = &models.Guardian{UserID: user.ID, Profession: sanitize.OptionalText(input.Profession)}
		if err := s.guardians.Create(ctx, tx, guardian); err != nil {
			return nil, nil, appErrors.Internal(err, "failed to create guardian profile")
		}
		return guardian, nil, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, nil, appErrors.Internal(err, "failed to look up guardian")
	}

	hash, err := hashPassword(s.config.DefaultPassword)
	if err != nil {
		return nil, nil, err
	}
	user = &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    sanitize.Text(input.FirstName),
		LastName:     sanitize.Text(input.LastName),
		Phone:        sanitize.OptionalText(input.Phone),
		Address:      sanitize.OptionalText(input.Address),
		Role:         models.RoleGuardian,
		Active:       true,
	}
	if err := s.users.Create(ctx, tx, user); err != nil {
		return nil, nil, appErrors.Internal(err, "failed to create guardian account")
	}
	guardian := &models.Guardian{UserID: user.ID, Profession: sanitize.OptionalText(input.Profession)}
	if err := s.guardians.Create(ctx, tx, guardian); err != nil {
		return nil, nil, appErrors.Internal(err, "failed to create guardian profile")
	}
	creds := mailer.Credentials{
		Email:    user.Email,
		Name:     user.FullName(),
		Role:     string(models.RoleGuardian),
		Password: s.config.DefaultPassword,
		LoginURL: s.config.LoginURL,
	}
	return guardian, []mailer.Credentials{creds}, nil
}

// rollPrefix renders "<start year>-<level prefix><section>", e.g. 2024-6A.
func (s *StudentService) rollPrefix(class models.Class) (string, error) {
	level, ok := s.policy.Level(class.Level)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrBadRequest, "class level "+class.Level+" is not configured")
	}
	year, err := models.SchoolYearStart(class.SchoolYear)
	if err != nil {
		return "", appErrors.Internal(err, "class has an invalid school year")
	}
	return fmt.Sprintf("%d-%s%s", year, level.Prefix, strings.ToUpper(class.Name)), nil
}

// Update modifies profile fields or transfers the student to another class.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest, meta models.RequestMeta) (*models.StudentDetail, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}

	err := database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		current, err := s.students.FindByID(ctx, tx, id)
		if err != nil {
			return lookupError(err, "student")
		}
		student := current.Student

		if req.ClassID != nil && *req.ClassID != student.ClassID {
			class, err := s.classes.FindByID(ctx, tx, *req.ClassID)
			if err != nil {
				return lookupError(err, "class")
			}
			prefix, err := s.rollPrefix(class.Class)
			if err != nil {
				return err
			}
			if err := s.students.LockRollPrefix(ctx, tx, prefix); err != nil {
				return appErrors.Internal(err, "failed to lock class")
			}
			enrolled, err := s.students.CountByClass(ctx, tx, class.ID)
			if err != nil {
				return appErrors.Internal(err, "failed to count class students")
			}
			if enrolled >= class.Capacity {
				return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("class %s is full", class.Label()))
			}
			student.ClassID = class.ID
		}
		if req.BirthDate != nil {
			student.BirthDate, _ = time.Parse(birthDateLayout, *req.BirthDate)
		}
		if req.BirthPlace != nil {
			student.BirthPlace = sanitize.Text(*req.BirthPlace)
		}
		if req.Gender != nil {
			student.Gender = *req.Gender
		}
		if err := s.students.Update(ctx, tx, &student); err != nil {
			return appErrors.Internal(err, "failed to update student")
		}

		if req.FirstName != nil || req.LastName != nil || req.Phone != nil || req.Address != nil {
			user, err := s.users.FindByID(ctx, current.UserID)
			if err != nil {
				return lookupError(err, "student account")
			}
			applyProfile(user, req.FirstName, req.LastName, req.Phone, req.Address)
			if err := s.users.Update(ctx, tx, user); err != nil {
				return appErrors.Internal(err, "failed to update student account")
			}
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	recordAudit(ctx, s.users, s.logger, meta, models.AuditActionUpdate, "students", id)
	return s.Get(ctx, id)
}

// Delete removes a student without grades together with its account.
func (s *StudentService) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	err := database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		student, err := s.students.FindByID(ctx, tx, id)
		if err != nil {
			return lookupError(err, "student")
		}
		grades, err := s.students.CountGrades(ctx, tx, id)
		if err != nil {
			return appErrors.Internal(err, "failed to count student grades")
		}
		if grades > 0 {
			return appErrors.Clone(appErrors.ErrConflict, "student has recorded grades and cannot be deleted")
		}
		if err := s.students.Delete(ctx, tx, id); err != nil {
			return appErrors.Internal(err, "failed to delete student")
		}
		if err := s.guardians.AdjustDependents(ctx, tx, student.GuardianID, -1); err != nil {
			return appErrors.Internal(err, "failed to update guardian dependents")
		}
		if err := s.users.Delete(ctx, tx, student.UserID); err != nil {
			return appErrors.Internal(err, "failed to delete student account")
		}
		return nil
	})
	if err != nil {
		return appErrors.FromError(err)
	}

	recordAudit(ctx, s.users, s.logger, meta, models.AuditActionDelete, "students", id)
	return nil
}
