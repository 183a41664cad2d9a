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

const documentColumns = `id, student_id, type, file_name, file_path, mime_type, size_bytes, submitted_at, validated, uploaded_by, created_at`

// DocumentRepository stores metadata of uploaded student documents.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// List returns documents matching filter.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.Validated != nil {
		conditions = append(conditions, fmt.Sprintf("validated = $%d", len(args)+1))
		args = append(args, *filter.Validated)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s FROM documents%s ORDER BY submitted_at DESC LIMIT %d OFFSET %d", documentColumns, where, size, offset)
	var documents []models.Document
	if err := r.db.SelectContext(ctx, &documents, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM documents"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	return documents, total, nil
}

// FindByID returns a document.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.Document, error) {
	var document models.Document
	if err := r.db.GetContext(ctx, &document, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &document, nil
}

// Create inserts document metadata.
func (r *DocumentRepository) Create(ctx context.Context, document *models.Document) error {
	if document.ID == "" {
		document.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	document.CreatedAt = now
	if document.SubmittedAt.IsZero() {
		document.SubmittedAt = now
	}
	const query = `INSERT INTO documents (id, student_id, type, file_name, file_path, mime_type, size_bytes, submitted_at, validated, uploaded_by, created_at)
        VALUES (:id, :student_id, :type, :file_name, :file_path, :mime_type, :size_bytes, :submitted_at, :validated, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, document); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// SetValidated flips the validation flag.
func (r *DocumentRepository) SetValidated(ctx context.Context, id string, validated bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE documents SET validated = $2 WHERE id = $1`, id, validated); err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	return nil
}

// Delete removes document metadata.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
