package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/sanitize"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, exec sqlx.ExtContext, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	Update(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) (int64, error)
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type guardianCreator interface {
	Create(ctx context.Context, exec sqlx.ExtContext, guardian *models.Guardian) error
}

type tokenDenylist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	AllowRegistration  bool
}

// AuthService provides authentication use cases.
type AuthService struct {
	repo      authUserRepository
	guardians guardianCreator
	tx        txProvider
	denylist  tokenDenylist
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, guardians guardianCreator, tx txProvider, denylist tokenDenylist, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	return &AuthService{
		repo:      repo,
		guardians: guardians,
		tx:        tx,
		denylist:  denylist,
		metrics:   metrics,
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a GUARDIAN account with its guardian profile when self-service sign up is enabled.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, meta models.RequestMeta) (*models.UserInfo, error) {
	if !s.config.AllowRegistration {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration is disabled")
	}
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
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
		Role:         models.RoleGuardian,
		Active:       true,
	}

	err = database.WithTx(ctx, s.tx, nil, func(tx *sqlx.Tx) error {
		if _, err := s.repo.FindByEmail(ctx, tx, email); err == nil {
			return appErrors.Clone(appErrors.ErrConflict, "email already exists")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Internal(err, "failed to check email uniqueness")
		}
		if err := s.repo.Create(ctx, tx, user); err != nil {
			if database.IsUniqueViolation(err, "users_email_key") {
				return appErrors.Clone(appErrors.ErrConflict, "email already exists")
			}
			return appErrors.Internal(err, "failed to create user")
		}
		if err := s.guardians.Create(ctx, tx, &models.Guardian{UserID: user.ID}); err != nil {
			return appErrors.Internal(err, "failed to create guardian profile")
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	meta.ActorID = user.ID
	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionRegister, "auth", user.ID)
	info := userInfo(user)
	return &info, nil
}

// Login authenticates a user and returns issued tokens.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}

	user, err := s.repo.FindByEmail(ctx, nil, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	resp, err := s.issueTokens(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, resp.IssuedAt); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	meta := models.RequestMeta{ActorID: user.ID, IP: req.IP, UserAgent: req.UserAgent}
	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionLogin, "auth", user.ID)
	return resp, nil
}

// Refresh rotates a refresh token, revoking the presented one and issuing a new token pair.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.LoginResponse, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}

	stored, err := s.repo.FindRefreshToken(ctx, hashRefreshToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
		}
		return nil, appErrors.Internal(err, "failed to fetch refresh token")
	}
	if stored.Revoked || !s.now().Before(stored.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	user, err := s.repo.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, s.now()); err != nil {
		return nil, appErrors.Internal(err, "failed to revoke refresh token")
	}
	return s.issueTokens(ctx, user, req.IP, req.UserAgent)
}

// Logout revokes the access token carried by claims and, when given, the caller's refresh token.
func (s *AuthService) Logout(ctx context.Context, claims *models.JWTClaims, req models.LogoutRequest, meta models.RequestMeta) error {
	if claims == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	if req.RefreshToken != "" {
		stored, err := s.repo.FindRefreshToken(ctx, hashRefreshToken(req.RefreshToken))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return appErrors.Internal(err, "failed to load refresh token")
		case stored.UserID != claims.UserID:
			return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
		case !stored.Revoked:
			if err := s.repo.RevokeRefreshToken(ctx, stored.ID, s.now()); err != nil {
				return appErrors.Internal(err, "failed to revoke refresh token")
			}
		}
	}

	if err := s.revokeAccessToken(ctx, claims); err != nil {
		return err
	}

	meta.ActorID = claims.UserID
	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionLogout, "auth", claims.UserID)
	return nil
}

// Me returns the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, lookupError(err, "user")
	}
	return user, nil
}

// UpdateProfile changes the caller's own contact details.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req models.UpdateProfileRequest, meta models.RequestMeta) (*models.User, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, lookupError(err, "user")
	}

	applyProfile(user, req.FirstName, req.LastName, req.Phone, req.Address)
	if err := s.repo.Update(ctx, nil, user); err != nil {
		return nil, appErrors.Internal(err, "failed to update profile")
	}

	meta.ActorID = userID
	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionUpdate, "users", userID)
	return user, nil
}

// ChangePassword changes the password for the given user ID and ends every refresh session.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest, meta models.RequestMeta) error {
	if err := validate(s.validator, req); err != nil {
		return err
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return lookupError(err, "user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Field("old_password", "does not match the current password")
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, userID, hash, s.now()); err != nil {
		return appErrors.Internal(err, "failed to update password")
	}
	if _, err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.String("user_id", userID), zap.Error(err))
	}

	meta.ActorID = userID
	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionPasswordChange, "auth", userID)
	return nil
}

// InvalidateAll revokes every refresh token of the caller together with the presented access token.
func (s *AuthService) InvalidateAll(ctx context.Context, claims *models.JWTClaims, meta models.RequestMeta) (int64, error) {
	if claims == nil {
		return 0, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	revoked, err := s.repo.RevokeUserRefreshTokens(ctx, claims.UserID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to revoke sessions")
	}
	if err := s.revokeAccessToken(ctx, claims); err != nil {
		return revoked, err
	}

	meta.ActorID = claims.UserID
	recordAudit(ctx, s.repo, s.logger, meta, models.AuditActionLogout, "auth", claims.UserID)
	s.logger.Info("sessions invalidated", zap.String("user_id", claims.UserID), zap.Int64("refresh_tokens", revoked))
	return revoked, nil
}

// ValidateToken parses an access token, checks its signature, issuer and expiry, and rejects revoked token ids.
// A denylist lookup failure is logged and the token is accepted.
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, parserOpts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	if s.denylist != nil && claims.ID != "" {
		revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.logger.Error("token denylist lookup failed", zap.String("jti", claims.ID), zap.Error(err))
		} else if revoked {
			return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "")
		}
	}
	return claims, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User, ip, userAgent string) (*models.LoginResponse, error) {
	issuedAt := s.now()
	accessToken, err := s.generateAccessToken(user, issuedAt)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	refreshValue, err := generateRefreshTokenString()
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create refresh token")
	}
	refresh := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashRefreshToken(refreshValue),
		ExpiresAt: issuedAt.Add(s.config.RefreshTokenExpiry),
		CreatedAt: issuedAt,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.repo.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, appErrors.Internal(err, "failed to persist refresh token")
	}

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		User:         userInfo(user),
		IssuedAt:     issuedAt,
	}, nil
}

func (s *AuthService) revokeAccessToken(ctx context.Context, claims *models.JWTClaims) error {
	if s.denylist == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.denylist.Revoke(ctx, claims.ID, ttl); err != nil {
		return appErrors.Internal(err, "failed to revoke access token")
	}
	s.metrics.TokenRevoked()
	s.logger.Info("access token revoked", zap.String("user_id", claims.UserID), zap.String("jti", claims.ID))
	return nil
}

func (s *AuthService) generateAccessToken(user *models.User, issuedAt time.Time) (string, error) {
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func generateRefreshTokenString() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func userInfo(user *models.User) models.UserInfo {
	return models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName(), Role: user.Role}
}
