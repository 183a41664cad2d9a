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

const gradeDetailSelect = `SELECT g.id, g.student_id, g.subject_id, g.teacher_id, g.value, g.type, g.period, g.school_year, g.comment, g.report_id, g.created_at, g.updated_at,
       sub.name AS subject_name
FROM grades g
JOIN subjects sub ON sub.id = g.subject_id`

// GradeRepository persists grade entries.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs a GradeRepository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// List returns grades matching the filter.
func (r *GradeRepository) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, int, error) {
	from := " FROM grades g JOIN subjects sub ON sub.id = g.subject_id"
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("g.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("g.subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("g.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("g.student_id IN (SELECT id FROM students WHERE class_id = $%d)", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Period != "" {
		conditions = append(conditions, fmt.Sprintf("g.period = $%d", len(args)+1))
		args = append(args, filter.Period)
	}
	if filter.SchoolYear != "" {
		conditions = append(conditions, fmt.Sprintf("g.school_year = $%d", len(args)+1))
		args = append(args, filter.SchoolYear)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("g.type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	column, order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"created_at": "g.created_at",
		"value":      "g.value",
		"subject":    "sub.name",
	}, "g.created_at", "DESC")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY %s %s LIMIT %d OFFSET %d", gradeDetailSelect, where, column, order, size, offset)
	var grades []models.GradeDetail
	if err := r.db.SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list grades: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+from+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count grades: %w", err)
	}
	return grades, total, nil
}

// FindByID returns a grade.
func (r *GradeRepository) FindByID(ctx context.Context, id string) (*models.GradeDetail, error) {
	var grade models.GradeDetail
	if err := r.db.GetContext(ctx, &grade, gradeDetailSelect+` WHERE g.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find grade: %w", err)
	}
	return &grade, nil
}

// ListForStudentPeriod returns every grade of a student for one period of a school year.
func (r *GradeRepository) ListForStudentPeriod(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear string) ([]models.GradeDetail, error) {
	query := gradeDetailSelect + ` WHERE g.student_id = $1 AND g.period = $2 AND g.school_year = $3 ORDER BY sub.name ASC, g.created_at ASC`
	var grades []models.GradeDetail
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &grades, query, studentID, period, schoolYear); err != nil {
		return nil, fmt.Errorf("list student period grades: %w", err)
	}
	return grades, nil
}

// ListForClassPeriod returns the grades of every student currently in a class for one period of a school year.
func (r *GradeRepository) ListForClassPeriod(ctx context.Context, exec sqlx.ExtContext, classID string, period models.Period, schoolYear string) ([]models.GradeDetail, error) {
	query := gradeDetailSelect + `
JOIN students st ON st.id = g.student_id
WHERE st.class_id = $1 AND g.period = $2 AND g.school_year = $3
ORDER BY g.student_id ASC, sub.name ASC`
	var grades []models.GradeDetail
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &grades, query, classID, period, schoolYear); err != nil {
		return nil, fmt.Errorf("list class period grades: %w", err)
	}
	return grades, nil
}

// Create inserts a grade.
func (r *GradeRepository) Create(ctx context.Context, grade *models.Grade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	grade.CreatedAt = now
	grade.UpdatedAt = now
	const query = `INSERT INTO grades (id, student_id, subject_id, teacher_id, value, type, period, school_year, comment, report_id, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :teacher_id, :value, :type, :period, :school_year, :comment, :report_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("create grade: %w", err)
	}
	return nil
}

// Update saves the value and comment of a grade that is not yet part of a report.
// It returns false when the grade was linked in the meantime.
func (r *GradeRepository) Update(ctx context.Context, grade *models.Grade) (bool, error) {
	grade.UpdatedAt = time.Now().UTC()
	const query = `UPDATE grades SET value = :value, comment = :comment, updated_at = :updated_at WHERE id = :id AND report_id IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, grade)
	if err != nil {
		return false, fmt.Errorf("update grade: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Delete removes a grade that is not part of a report. It returns false when nothing was deleted.
func (r *GradeRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM grades WHERE id = $1 AND report_id IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("delete grade: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LinkToReport attaches the student's unreported grades of one period and school year to a report.
// Grades already owned by another report are left alone.
func (r *GradeRepository) LinkToReport(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear, reportID string) (int64, error) {
	const query = `UPDATE grades SET report_id = $4
        WHERE student_id = $1 AND period = $2 AND school_year = $3 AND report_id IS NULL`
	res, err := pick(r.db, exec).ExecContext(ctx, query, studentID, period, schoolYear, reportID)
	if err != nil {
		return 0, fmt.Errorf("link grades to report: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UnlinkReport releases grades attached to a report.
func (r *GradeRepository) UnlinkReport(ctx context.Context, exec sqlx.ExtContext, reportID string) error {
	if _, err := pick(r.db, exec).ExecContext(ctx, `UPDATE grades SET report_id = NULL WHERE report_id = $1`, reportID); err != nil {
		return fmt.Errorf("unlink report grades: %w", err)
	}
	return nil
}
