package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-bulletin-api/internal/models"
)

const classDetailSelect = `SELECT c.id, c.level, c.name, c.capacity, c.school_year, c.description, c.created_at, c.updated_at,
       (SELECT COUNT(*) FROM students s WHERE s.class_id = c.id) AS student_count
FROM classes c`

// ClassRepository handles persistence for classes.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// List returns classes with pagination.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Level != "" {
		conditions = append(conditions, fmt.Sprintf("c.level = $%d", len(args)+1))
		args = append(args, filter.Level)
	}
	if filter.SchoolYear != "" {
		conditions = append(conditions, fmt.Sprintf("c.school_year = $%d", len(args)+1))
		args = append(args, filter.SchoolYear)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(c.level || ' ' || c.name) LIKE $%d", len(args)+1))
		args = append(args, likePattern(filter.Search))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	column, order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"level":       "c.level",
		"name":        "c.name",
		"school_year": "c.school_year",
		"created_at":  "c.created_at",
	}, "c.level", "ASC")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY %s %s, c.name ASC LIMIT %d OFFSET %d", classDetailSelect, where, column, order, size, offset)
	var classes []models.ClassDetail
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM classes c"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// FindByID fetches a class with its enrollment count.
func (r *ClassRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ClassDetail, error) {
	var class models.ClassDetail
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &class, classDetailSelect+` WHERE c.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// ExistsByKey reports whether a class already uses the level, section and school year.
func (r *ClassRepository) ExistsByKey(ctx context.Context, level, name, schoolYear, excludeID string) (bool, error) {
	query := `SELECT 1 FROM classes WHERE level = $1 AND UPPER(name) = UPPER($2) AND school_year = $3`
	args := []interface{}{level, name, schoolYear}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check class key: %w", err)
	}
	return true, nil
}

// Create inserts a class.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	class.CreatedAt = now
	class.UpdatedAt = now
	const query = `INSERT INTO classes (id, level, name, capacity, school_year, description, created_at, updated_at)
        VALUES (:id, :level, :name, :capacity, :school_year, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update modifies an existing class.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET level = :level, name = :name, capacity = :capacity, school_year = :school_year, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return nil
}

// Delete removes a class. Subject links cascade.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}
