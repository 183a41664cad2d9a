package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/sanitize"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	Update(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) (int64, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest represents payload for creating administrator accounts. Teachers, students and
// guardians are provisioned through their own endpoints so that their profiles exist.
type CreateUserRequest struct {
	Email     string          `json:"email" validate:"required,email,max=255"`
	FirstName string          `json:"first_name" validate:"required,max=100"`
	LastName  string          `json:"last_name" validate:"required,max=100"`
	Phone     *string         `json:"phone" validate:"omitempty,max=32"`
	Address   *string         `json:"address" validate:"omitempty,max=500"`
	Role      models.UserRole `json:"role" validate:"required,oneof=ADMIN"`
	Password  string          `json:"password" validate:"required,min=8,max=72"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	Email     *string `json:"email" validate:"omitempty,email,max=255"`
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	Address   *string `json:"address" validate:"omitempty,max=500"`
	Active    *bool   `json:"active"`
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	return &UserService{repo: repo, validator: defaultValidator(validate), logger: defaultLogger(logger)}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}
	return users, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user")
	}
	return user, nil
}

// Create adds a new administrator.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.ensureEmailAvailable(ctx, email, ""); err != nil {
		return nil, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    sanitize.Text(req.FirstName),
		LastName:     sanitize.Text(req.LastName),
		Phone:        sanitize.OptionalText(req.Phone),
		Address:      sanitize.OptionalText(req.Address),
		Role:         req.Role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, nil, user); err != nil {
		if database.IsUniqueViolation(err, "users_email_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionCreate, "users", user.ID)
	return user, nil
}

// Update modifies the user attributes.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user")
	}

	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email != user.Email {
			if err := s.ensureEmailAvailable(ctx, email, user.ID); err != nil {
				return nil, err
			}
			user.Email = email
		}
	}
	applyProfile(user, req.FirstName, req.LastName, req.Phone, req.Address)
	deactivated := false
	if req.Active != nil {
		deactivated = user.Active && !*req.Active
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, nil, user); err != nil {
		if database.IsUniqueViolation(err, "users_email_key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Internal(err, "failed to update user")
	}
	if deactivated {
		s.revokeSessions(ctx, user.ID)
	}

	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionUpdate, "users", user.ID)
	return user, nil
}

// ToggleActive flips the active flag. Deactivating an account ends its refresh sessions.
func (s *UserService) ToggleActive(ctx context.Context, id string, meta models.RequestMeta) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user")
	}
	if user.ID == meta.ActorID && user.Active {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "cannot deactivate your own account")
	}

	user.Active = !user.Active
	if err := s.repo.SetActive(ctx, user.ID, user.Active); err != nil {
		return nil, appErrors.Internal(err, "failed to update user status")
	}
	user.UpdatedAt = time.Now().UTC()
	if !user.Active {
		s.revokeSessions(ctx, user.ID)
	}

	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionUpdate, "users", user.ID)
	return user, nil
}

// Delete removes a user. Accounts still referenced by students or grades are kept.
func (s *UserService) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	if id == meta.ActorID {
		return appErrors.Clone(appErrors.ErrBadRequest, "cannot delete your own account")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return lookupError(err, "user")
	}

	if err := s.repo.Delete(ctx, nil, id); err != nil {
		if database.IsForeignKeyViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "user is still referenced by school records")
		}
		return appErrors.Internal(err, "failed to delete user")
	}

	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionDelete, "users", id)
	return nil
}

func (s *UserService) ensureEmailAvailable(ctx context.Context, email, excludeID string) error {
	exists, err := s.repo.ExistsByEmail(ctx, email, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to check email uniqueness")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "email already exists")
	}
	return nil
}

func (s *UserService) revokeSessions(ctx context.Context, userID string) {
	if _, err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens", zap.String("user_id", userID), zap.Error(err))
	}
}

func applyProfile(user *models.User, firstName, lastName, phone, address *string) {
	if firstName != nil {
		user.FirstName = sanitize.Text(*firstName)
	}
	if lastName != nil {
		user.LastName = sanitize.Text(*lastName)
	}
	if phone != nil {
		user.Phone = sanitize.OptionalText(phone)
	}
	if address != nil {
		user.Address = sanitize.OptionalText(address)
	}
}
