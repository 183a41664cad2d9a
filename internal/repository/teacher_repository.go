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

const teacherDetailSelect = `SELECT t.id, t.user_id, t.specialty, t.hire_date, t.staff_number, t.created_at, t.updated_at,
       u.email, u.first_name, u.last_name, u.phone, u.active
FROM teachers t
JOIN users u ON u.id = t.user_id`

// TeacherRepository provides persistence operations for teachers.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository creates a repository instance.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// List returns teachers with pagination.
func (r *TeacherRepository) List(ctx context.Context, filter models.TeacherFilter) ([]models.TeacherDetail, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(u.first_name || ' ' || u.last_name) LIKE $%d OR LOWER(u.email) LIKE $%d OR LOWER(t.staff_number) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, likePattern(filter.Search))
	}
	if filter.Specialty != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(t.specialty) = LOWER($%d)", len(args)+1))
		args = append(args, filter.Specialty)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM teacher_subjects ts WHERE ts.teacher_id = t.id AND ts.subject_id = $%d)", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM teacher_classes tc WHERE tc.teacher_id = t.id AND tc.class_id = $%d)", len(args)+1))
		args = append(args, filter.ClassID)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	column, order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"last_name":    "u.last_name",
		"staff_number": "t.staff_number",
		"hire_date":    "t.hire_date",
		"created_at":   "t.created_at",
	}, "u.last_name", "ASC")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY %s %s LIMIT %d OFFSET %d", teacherDetailSelect, where, column, order, size, offset)
	var teachers []models.TeacherDetail
	if err := r.db.SelectContext(ctx, &teachers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list teachers: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM teachers t JOIN users u ON u.id = t.user_id"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count teachers: %w", err)
	}
	return teachers, total, nil
}

// FindByID retrieves a teacher joined with its account.
func (r *TeacherRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.TeacherDetail, error) {
	var teacher models.TeacherDetail
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &teacher, teacherDetailSelect+` WHERE t.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find teacher: %w", err)
	}
	return &teacher, nil
}

// FindByUserID returns the teacher profile owned by an account.
func (r *TeacherRepository) FindByUserID(ctx context.Context, userID string) (*models.Teacher, error) {
	const query = `SELECT id, user_id, specialty, hire_date, staff_number, created_at, updated_at FROM teachers WHERE user_id = $1`
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find teacher by user: %w", err)
	}
	return &teacher, nil
}

// Create inserts a teacher profile.
func (r *TeacherRepository) Create(ctx context.Context, exec sqlx.ExtContext, teacher *models.Teacher) error {
	if teacher.ID == "" {
		teacher.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	teacher.CreatedAt = now
	teacher.UpdatedAt = now
	const query = `INSERT INTO teachers (id, user_id, specialty, hire_date, staff_number, created_at, updated_at)
        VALUES (:id, :user_id, :specialty, :hire_date, :staff_number, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, teacher); err != nil {
		return fmt.Errorf("create teacher: %w", err)
	}
	return nil
}

// Update updates the teacher's own fields.
func (r *TeacherRepository) Update(ctx context.Context, exec sqlx.ExtContext, teacher *models.Teacher) error {
	teacher.UpdatedAt = time.Now().UTC()
	const query = `UPDATE teachers SET specialty = :specialty, hire_date = :hire_date, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, teacher); err != nil {
		return fmt.Errorf("update teacher: %w", err)
	}
	return nil
}

// CountGrades returns the number of grades entered by the teacher.
func (r *TeacherRepository) CountGrades(ctx context.Context, id string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM grades WHERE teacher_id = $1`, id); err != nil {
		return 0, fmt.Errorf("count teacher grades: %w", err)
	}
	return count, nil
}

// NextStaffSequence locks staff number allocation for the rest of the transaction and returns the next sequence.
func (r *TeacherRepository) NextStaffSequence(ctx context.Context, exec sqlx.ExtContext) (int, error) {
	if err := advisoryLock(ctx, exec, "staff:"+models.StaffNumberPrefix); err != nil {
		return 0, err
	}
	const query = `SELECT COALESCE(MAX(CAST(SUBSTRING(staff_number FROM 4) AS INTEGER)), 0) FROM teachers WHERE staff_number ~ '^ENS[0-9]+$'`
	var current int
	if err := sqlx.GetContext(ctx, exec, &current, query); err != nil {
		return 0, fmt.Errorf("next staff sequence: %w", err)
	}
	return current + 1, nil
}
