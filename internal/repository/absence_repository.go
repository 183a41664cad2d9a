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

const absenceColumns = `id, student_id, date, slot, justified, reason, justification_document, comment, created_at, updated_at`

// AbsenceRepository persists student absences.
type AbsenceRepository struct {
	db *sqlx.DB
}

// NewAbsenceRepository constructs the repository.
func NewAbsenceRepository(db *sqlx.DB) *AbsenceRepository {
	return &AbsenceRepository{db: db}
}

func absenceConditions(filter models.AbsenceFilter) (string, []interface{}) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id IN (SELECT id FROM students WHERE class_id = $%d)", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if filter.Justified != nil {
		conditions = append(conditions, fmt.Sprintf("justified = $%d", len(args)+1))
		args = append(args, *filter.Justified)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// List returns absences, most recent first.
func (r *AbsenceRepository) List(ctx context.Context, filter models.AbsenceFilter) ([]models.Absence, int, error) {
	where, args := absenceConditions(filter)
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s FROM absences%s ORDER BY date DESC, slot ASC LIMIT %d OFFSET %d", absenceColumns, where, size, offset)
	var absences []models.Absence
	if err := r.db.SelectContext(ctx, &absences, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list absences: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM absences"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count absences: %w", err)
	}
	return absences, total, nil
}

// Summary counts all, justified and unjustified absences of a student within the optional range.
func (r *AbsenceRepository) Summary(ctx context.Context, studentID string, from, to *time.Time) (*models.AbsenceSummary, error) {
	where, args := absenceConditions(models.AbsenceFilter{StudentID: studentID, From: from, To: to})
	query := `SELECT COUNT(*) AS total,
       COUNT(*) FILTER (WHERE justified) AS justified,
       COUNT(*) FILTER (WHERE NOT justified) AS unjustified
FROM absences` + where
	summary := models.AbsenceSummary{StudentID: studentID}
	if err := r.db.GetContext(ctx, &summary, query, args...); err != nil {
		return nil, fmt.Errorf("summarise absences: %w", err)
	}
	return &summary, nil
}

// FindByID returns an absence.
func (r *AbsenceRepository) FindByID(ctx context.Context, id string) (*models.Absence, error) {
	var absence models.Absence
	if err := r.db.GetContext(ctx, &absence, `SELECT `+absenceColumns+` FROM absences WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find absence: %w", err)
	}
	return &absence, nil
}

// Create inserts an absence.
func (r *AbsenceRepository) Create(ctx context.Context, absence *models.Absence) error {
	if absence.ID == "" {
		absence.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	absence.CreatedAt = now
	absence.UpdatedAt = now
	const query = `INSERT INTO absences (id, student_id, date, slot, justified, reason, justification_document, comment, created_at, updated_at)
        VALUES (:id, :student_id, :date, :slot, :justified, :reason, :justification_document, :comment, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, absence); err != nil {
		return fmt.Errorf("create absence: %w", err)
	}
	return nil
}

// Update saves every mutable field of an absence, including its justification.
func (r *AbsenceRepository) Update(ctx context.Context, absence *models.Absence) error {
	absence.UpdatedAt = time.Now().UTC()
	const query = `UPDATE absences SET date = :date, slot = :slot, justified = :justified, reason = :reason, justification_document = :justification_document, comment = :comment, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, absence); err != nil {
		return fmt.Errorf("update absence: %w", err)
	}
	return nil
}

// Delete removes an absence.
func (r *AbsenceRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM absences WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete absence: %w", err)
	}
	return nil
}
