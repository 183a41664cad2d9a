package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-bulletin-api/internal/models"
)

// ClassSubjectRepository manages class-subject mappings and their coefficients.
type ClassSubjectRepository struct {
	db *sqlx.DB
}

// NewClassSubjectRepository creates a new repository.
func NewClassSubjectRepository(db *sqlx.DB) *ClassSubjectRepository {
	return &ClassSubjectRepository{db: db}
}

// ListByClass returns subject assignments for a class.
func (r *ClassSubjectRepository) ListByClass(ctx context.Context, classID string) ([]models.ClassSubjectDetail, error) {
	const query = `
SELECT cs.class_id, cs.subject_id, cs.coefficient,
       s.name AS subject_name, s.code AS subject_code, s.level AS subject_level
FROM class_subjects cs
JOIN subjects s ON s.id = cs.subject_id
WHERE cs.class_id = $1
ORDER BY s.name ASC`
	var assignments []models.ClassSubjectDetail
	if err := r.db.SelectContext(ctx, &assignments, query, classID); err != nil {
		return nil, fmt.Errorf("list class subjects: %w", err)
	}
	return assignments, nil
}

// Coefficients returns subject id to coefficient for a class.
func (r *ClassSubjectRepository) Coefficients(ctx context.Context, exec sqlx.ExtContext, classID string) (map[string]int, error) {
	const query = `SELECT class_id, subject_id, coefficient FROM class_subjects WHERE class_id = $1`
	var rows []models.ClassSubject
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &rows, query, classID); err != nil {
		return nil, fmt.Errorf("load class coefficients: %w", err)
	}
	coefficients := make(map[string]int, len(rows))
	for _, row := range rows {
		coefficients[row.SubjectID] = row.Coefficient
	}
	return coefficients, nil
}

// Replace swaps the whole subject set of a class for assignments.
func (r *ClassSubjectRepository) Replace(ctx context.Context, exec sqlx.ExtContext, classID string, assignments []models.ClassSubject) error {
	e := pick(r.db, exec)
	if _, err := e.ExecContext(ctx, `DELETE FROM class_subjects WHERE class_id = $1`, classID); err != nil {
		return fmt.Errorf("clear class subjects: %w", err)
	}
	for _, assignment := range assignments {
		payload := assignment
		payload.ClassID = classID
		if _, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO class_subjects (class_id, subject_id, coefficient) VALUES (:class_id, :subject_id, :coefficient)`, &payload); err != nil {
			return fmt.Errorf("insert class subject: %w", err)
		}
	}
	return nil
}

// UpsertDefaults adds missing assignments and keeps coefficients already set. It returns how many rows were added.
func (r *ClassSubjectRepository) UpsertDefaults(ctx context.Context, exec sqlx.ExtContext, assignments []models.ClassSubject) (int, error) {
	e := pick(r.db, exec)
	added := 0
	for _, assignment := range assignments {
		res, err := sqlx.NamedExecContext(ctx, e, `INSERT INTO class_subjects (class_id, subject_id, coefficient) VALUES (:class_id, :subject_id, :coefficient)
        ON CONFLICT (class_id, subject_id) DO NOTHING`, assignment)
		if err != nil {
			return added, fmt.Errorf("upsert class subject: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// Remove detaches a subject from a class and reports whether a link existed.
func (r *ClassSubjectRepository) Remove(ctx context.Context, classID, subjectID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM class_subjects WHERE class_id = $1 AND subject_id = $2`, classID, subjectID)
	if err != nil {
		return false, fmt.Errorf("remove class subject: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
