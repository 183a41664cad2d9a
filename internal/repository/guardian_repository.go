package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-bulletin-api/internal/models"
)

const guardianDetailSelect = `SELECT g.id, g.user_id, g.profession, g.dependents_count, g.created_at, g.updated_at,
       u.email, u.first_name, u.last_name, u.phone, u.address
FROM guardians g
JOIN users u ON u.id = g.user_id`

// GuardianRepository persists guardian profiles.
type GuardianRepository struct {
	db *sqlx.DB
}

// NewGuardianRepository constructs a guardian repository.
func NewGuardianRepository(db *sqlx.DB) *GuardianRepository {
	return &GuardianRepository{db: db}
}

// Create inserts a guardian profile.
func (r *GuardianRepository) Create(ctx context.Context, exec sqlx.ExtContext, guardian *models.Guardian) error {
	if guardian.ID == "" {
		guardian.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	guardian.CreatedAt = now
	guardian.UpdatedAt = now
	const query = `INSERT INTO guardians (id, user_id, profession, dependents_count, created_at, updated_at)
        VALUES (:id, :user_id, :profession, :dependents_count, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, guardian); err != nil {
		return fmt.Errorf("create guardian: %w", err)
	}
	return nil
}

// FindByID returns a guardian joined with its account.
func (r *GuardianRepository) FindByID(ctx context.Context, id string) (*models.GuardianDetail, error) {
	var guardian models.GuardianDetail
	if err := r.db.GetContext(ctx, &guardian, guardianDetailSelect+` WHERE g.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find guardian: %w", err)
	}
	return &guardian, nil
}

// FindByUserID returns the guardian profile owned by an account.
func (r *GuardianRepository) FindByUserID(ctx context.Context, exec sqlx.ExtContext, userID string) (*models.Guardian, error) {
	const query = `SELECT id, user_id, profession, dependents_count, created_at, updated_at FROM guardians WHERE user_id = $1`
	var guardian models.Guardian
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &guardian, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find guardian by user: %w", err)
	}
	return &guardian, nil
}

// List returns guardians matching the filter.
func (r *GuardianRepository) List(ctx context.Context, filter models.GuardianFilter) ([]models.GuardianDetail, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	if filter.Search != "" {
		where += fmt.Sprintf(" AND (LOWER(u.email) LIKE $%d OR LOWER(u.first_name || ' ' || u.last_name) LIKE $%d)", len(args)+1, len(args)+1)
		args = append(args, likePattern(filter.Search))
	}
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY u.last_name ASC, u.first_name ASC LIMIT %d OFFSET %d", guardianDetailSelect, where, size, offset)
	var guardians []models.GuardianDetail
	if err := r.db.SelectContext(ctx, &guardians, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list guardians: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM guardians g JOIN users u ON u.id = g.user_id"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count guardians: %w", err)
	}
	return guardians, total, nil
}

// Update saves the guardian's own fields.
func (r *GuardianRepository) Update(ctx context.Context, exec sqlx.ExtContext, guardian *models.Guardian) error {
	guardian.UpdatedAt = time.Now().UTC()
	const query = `UPDATE guardians SET profession = :profession, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, guardian); err != nil {
		return fmt.Errorf("update guardian: %w", err)
	}
	return nil
}

// AdjustDependents moves the dependents counter by delta without going below zero.
func (r *GuardianRepository) AdjustDependents(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error {
	const query = `UPDATE guardians SET dependents_count = GREATEST(dependents_count + $2, 0), updated_at = $3 WHERE id = $1`
	if _, err := pick(r.db, exec).ExecContext(ctx, query, id, delta, time.Now().UTC()); err != nil {
		return fmt.Errorf("adjust guardian dependents: %w", err)
	}
	return nil
}
