package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/mailer"
	"github.com/noah-isme/school-bulletin-api/pkg/validation"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

func defaultValidator(v *validator.Validate) *validator.Validate {
	if v == nil {
		return validation.New()
	}
	return v
}

func defaultLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func validate(v *validator.Validate, req interface{}) error {
	if err := v.Struct(req); err != nil {
		return appErrors.FromValidator(err)
	}
	return nil
}

// lookupError maps sql.ErrNoRows to NOT_FOUND and anything else to an internal error.
func lookupError(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
	}
	return appErrors.Internal(err, "failed to load "+what)
}

func pagination(page, size, total int) *models.Pagination {
	if page < 1 {
		page = defaultPage
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", appErrors.Internal(err, "failed to hash password")
	}
	return string(hash), nil
}

func recordAudit(ctx context.Context, repo auditRecorder, logger *zap.Logger, meta models.RequestMeta, action, resource, resourceID string) {
	if repo == nil {
		return
	}
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if meta.ActorID != "" {
		actor := meta.ActorID
		entry.UserID = &actor
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if err := repo.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource", resource), zap.Error(err))
	}
}

// ProvisioningConfig carries the account provisioning settings shared by enrollment and staff creation.
type ProvisioningConfig struct {
	DefaultPassword string
	MaxRetries      int
	LoginURL        string
}

func (c ProvisioningConfig) withDefaults() ProvisioningConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DefaultPassword == "" {
		c.DefaultPassword = "password123"
	}
	return c
}

// withAllocationRetry runs attempt again while it fails on the unique constraint guarding a generated number.
func withAllocationRetry(cfg ProvisioningConfig, metrics *MetricsService, logger *zap.Logger, kind, constraint string, attempt func() error) error {
	var err error
	for i := 0; i <= cfg.MaxRetries; i++ {
		err = attempt()
		if err == nil || !database.IsUniqueViolation(err, constraint) {
			return err
		}
		metrics.AllocationRetried(kind)
		logger.Warn("number allocation collided, retrying", zap.String("kind", kind), zap.Int("attempt", i+1))
	}
	return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "could not allocate a unique "+kind)
}

// sendCredentials mails freshly provisioned accounts. Failures are logged only.
func sendCredentials(ctx context.Context, m mailer.Mailer, logger *zap.Logger, creds ...mailer.Credentials) {
	if m == nil {
		return
	}
	for _, c := range creds {
		if err := m.SendCredentials(ctx, c); err != nil {
			logger.Warn("failed to send credentials mail", zap.String("to", c.Email), zap.String("role", c.Role), zap.Error(err))
		}
	}
}
