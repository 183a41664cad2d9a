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

const studentDetailSelect = `SELECT s.id, s.user_id, s.guardian_id, s.class_id, s.roll_number, s.birth_date, s.birth_place, s.gender, s.school_year, s.created_at, s.updated_at,
       u.email, u.first_name, u.last_name, u.active,
       c.level AS class_level, c.name AS class_name,
       g.user_id AS guardian_user_id, (gu.first_name || ' ' || gu.last_name) AS guardian_name, gu.email AS guardian_email`

const studentJoins = `
FROM students s
JOIN users u ON u.id = s.user_id
JOIN classes c ON c.id = s.class_id
JOIN guardians g ON g.id = s.guardian_id
JOIN users gu ON gu.id = g.user_id`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("s.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.GuardianID != "" {
		conditions = append(conditions, fmt.Sprintf("s.guardian_id = $%d", len(args)+1))
		args = append(args, filter.GuardianID)
	}
	if filter.SchoolYear != "" {
		conditions = append(conditions, fmt.Sprintf("s.school_year = $%d", len(args)+1))
		args = append(args, filter.SchoolYear)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(u.first_name || ' ' || u.last_name) LIKE $%d OR LOWER(s.roll_number) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, likePattern(filter.Search))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	column, order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"last_name":   "u.last_name",
		"roll_number": "s.roll_number",
		"created_at":  "s.created_at",
	}, "u.last_name", "ASC")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s%s ORDER BY %s %s LIMIT %d OFFSET %d", studentDetailSelect, studentJoins, where, column, order, size, offset)
	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM students s JOIN users u ON u.id = s.user_id"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// ListByClass returns every student of a class ordered by name.
func (r *StudentRepository) ListByClass(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.StudentDetail, error) {
	query := studentDetailSelect + studentJoins + ` WHERE s.class_id = $1 ORDER BY u.last_name ASC, u.first_name ASC`
	var students []models.StudentDetail
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &students, query, classID); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return students, nil
}

// FindByID fetches a student with identity, class and guardian context.
func (r *StudentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentDetail, error) {
	var student models.StudentDetail
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &student, studentDetailSelect+studentJoins+` WHERE s.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// FindByUserID returns the student record owned by an account.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	const query = `SELECT id, user_id, guardian_id, class_id, roll_number, birth_date, birth_place, gender, school_year, created_at, updated_at FROM students WHERE user_id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student by user: %w", err)
	}
	return &student, nil
}

// Create inserts a student row.
func (r *StudentRepository) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, user_id, guardian_id, class_id, roll_number, birth_date, birth_place, gender, school_year, created_at, updated_at)
        VALUES (:id, :user_id, :guardian_id, :class_id, :roll_number, :birth_date, :birth_place, :gender, :school_year, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update persists mutable student fields, including a class transfer.
func (r *StudentRepository) Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET class_id = :class_id, guardian_id = :guardian_id, birth_date = :birth_date, birth_place = :birth_place, gender = :gender, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student row.
func (r *StudentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, err := pick(r.db, exec).ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return nil
}

// CountByClass returns how many students are enrolled in a class.
func (r *StudentRepository) CountByClass(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &count, `SELECT COUNT(*) FROM students WHERE class_id = $1`, classID); err != nil {
		return 0, fmt.Errorf("count class students: %w", err)
	}
	return count, nil
}

// CountGrades returns the number of grades recorded for a student.
func (r *StudentRepository) CountGrades(ctx context.Context, exec sqlx.ExtContext, id string) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &count, `SELECT COUNT(*) FROM grades WHERE student_id = $1`, id); err != nil {
		return 0, fmt.Errorf("count student grades: %w", err)
	}
	return count, nil
}

// LockRollPrefix serialises enrolments and transfers into the class owning prefix until the
// transaction ends. exec must be a transaction.
func (r *StudentRepository) LockRollPrefix(ctx context.Context, exec sqlx.ExtContext, prefix string) error {
	return advisoryLock(ctx, exec, "roll:"+prefix)
}

// NextRollSequence locks the roll number prefix for the rest of the transaction and returns
// the next free sequence under it. exec must be a transaction.
func (r *StudentRepository) NextRollSequence(ctx context.Context, exec sqlx.ExtContext, prefix string) (int, error) {
	if err := r.LockRollPrefix(ctx, exec, prefix); err != nil {
		return 0, err
	}
	const query = `SELECT COALESCE(MAX(CAST(split_part(roll_number, '-', 3) AS INTEGER)), 0) FROM students WHERE roll_number LIKE $1 || '-%'`
	var current int
	if err := sqlx.GetContext(ctx, exec, &current, query, prefix); err != nil {
		return 0, fmt.Errorf("next roll sequence: %w", err)
	}
	return current + 1, nil
}
