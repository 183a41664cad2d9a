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

const reportColumns = `id, student_id, class_id, period, school_year, overall_average, rank, class_size, mention, appreciation, pdf_path, issued_at, created_at`

// ReportRepository persists generated bulletins.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a report row. A duplicate (student, period, school year) fails on reports_student_period_year_key.
func (r *ReportRepository) Create(ctx context.Context, exec sqlx.ExtContext, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	if report.IssuedAt.IsZero() {
		report.IssuedAt = report.CreatedAt
	}
	const query = `INSERT INTO reports (id, student_id, class_id, period, school_year, overall_average, rank, class_size, mention, appreciation, pdf_path, issued_at, created_at)
VALUES (:id, :student_id, :class_id, :period, :school_year, :overall_average, :rank, :class_size, :mention, :appreciation, :pdf_path, :issued_at, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, report); err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// LockKey serialises generation of one (student, period, school year) bulletin until the
// transaction ends. exec must be a transaction.
func (r *ReportRepository) LockKey(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear string) error {
	return advisoryLock(ctx, exec, fmt.Sprintf("report:%s:%s:%s", studentID, period, schoolYear))
}

// FindByID returns a report row by its identifier.
func (r *ReportRepository) FindByID(ctx context.Context, id string) (*models.Report, error) {
	var report models.Report
	if err := r.db.GetContext(ctx, &report, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// FindByKey returns the report of a student for a period and school year.
func (r *ReportRepository) FindByKey(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear string) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE student_id = $1 AND period = $2 AND school_year = $3`
	var report models.Report
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &report, query, studentID, period, schoolYear); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find report by key: %w", err)
	}
	return &report, nil
}

// List returns reports matching filter, newest first.
func (r *ReportRepository) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Period != "" {
		conditions = append(conditions, fmt.Sprintf("period = $%d", len(args)+1))
		args = append(args, filter.Period)
	}
	if filter.SchoolYear != "" {
		conditions = append(conditions, fmt.Sprintf("school_year = $%d", len(args)+1))
		args = append(args, filter.SchoolYear)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s FROM reports%s ORDER BY school_year DESC, period DESC, rank ASC LIMIT %d OFFSET %d", reportColumns, where, size, offset)
	var reports []models.Report
	if err := r.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM reports"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}
	return reports, total, nil
}

// Delete removes a report row. Linked grades are released by the foreign key.
func (r *ReportRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, err := pick(r.db, exec).ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return nil
}
