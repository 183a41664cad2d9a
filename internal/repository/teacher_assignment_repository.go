package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-bulletin-api/internal/models"
)

// TeacherAssignmentRepository persists which subjects and classes a teacher covers.
type TeacherAssignmentRepository struct {
	db *sqlx.DB
}

// NewTeacherAssignmentRepository constructs the repository.
func NewTeacherAssignmentRepository(db *sqlx.DB) *TeacherAssignmentRepository {
	return &TeacherAssignmentRepository{db: db}
}

// ListSubjects returns the subjects assigned to a teacher.
func (r *TeacherAssignmentRepository) ListSubjects(ctx context.Context, teacherID string) ([]models.Subject, error) {
	const query = `
SELECT s.id, s.name, s.code, s.description, s.level, s.created_at, s.updated_at
FROM teacher_subjects ts
JOIN subjects s ON s.id = ts.subject_id
WHERE ts.teacher_id = $1
ORDER BY s.name ASC`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher subjects: %w", err)
	}
	return subjects, nil
}

// ListClasses returns the classes assigned to a teacher.
func (r *TeacherAssignmentRepository) ListClasses(ctx context.Context, teacherID string) ([]models.Class, error) {
	const query = `
SELECT c.id, c.level, c.name, c.capacity, c.school_year, c.description, c.created_at, c.updated_at
FROM teacher_classes tc
JOIN classes c ON c.id = tc.class_id
WHERE tc.teacher_id = $1
ORDER BY c.school_year DESC, c.level ASC, c.name ASC`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher classes: %w", err)
	}
	return classes, nil
}

// ReplaceSubjects swaps the subject set of a teacher.
func (r *TeacherAssignmentRepository) ReplaceSubjects(ctx context.Context, exec sqlx.ExtContext, teacherID string, subjectIDs []string) error {
	return r.replace(ctx, pick(r.db, exec), "teacher_subjects", "subject_id", teacherID, subjectIDs)
}

// ReplaceClasses swaps the class set of a teacher.
func (r *TeacherAssignmentRepository) ReplaceClasses(ctx context.Context, exec sqlx.ExtContext, teacherID string, classIDs []string) error {
	return r.replace(ctx, pick(r.db, exec), "teacher_classes", "class_id", teacherID, classIDs)
}

// AddSubjects links subjects without touching existing links.
func (r *TeacherAssignmentRepository) AddSubjects(ctx context.Context, exec sqlx.ExtContext, teacherID string, subjectIDs []string) (int, error) {
	e := pick(r.db, exec)
	added := 0
	for _, id := range subjectIDs {
		res, err := e.ExecContext(ctx, `INSERT INTO teacher_subjects (teacher_id, subject_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, teacherID, id)
		if err != nil {
			return added, fmt.Errorf("add teacher subject: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

func (r *TeacherAssignmentRepository) replace(ctx context.Context, exec sqlx.ExtContext, table, column, teacherID string, ids []string) error {
	if _, err := exec.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE teacher_id = $1`, table), teacherID); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (teacher_id, %s) VALUES ($1, $2)`, table, column)
	for _, id := range ids {
		if _, err := exec.ExecContext(ctx, insert, teacherID, id); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}
