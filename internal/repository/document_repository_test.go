package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/models"
)

func TestDocumentListByStudentAndType(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE 1=1 AND student_id = $1 AND type = $2 ORDER BY submitted_at DESC")).
		WithArgs("s1", string(models.DocumentPhoto)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "type", "file_name", "file_path", "mime_type", "size_bytes", "submitted_at", "validated", "uploaded_by", "created_at"}).
			AddRow("d1", "s1", "PHOTO", "me.jpg", "documents/s1/PHOTO/1_me.jpg", "image/jpeg", 2048, now, false, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM documents WHERE 1=1 AND student_id = $1 AND type = $2")).
		WithArgs("s1", string(models.DocumentPhoto)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	documents, total, err := repo.List(context.Background(), models.DocumentFilter{StudentID: "s1", Type: models.DocumentPhoto})
	require.NoError(t, err)
	require.Len(t, documents, 1)
	assert.Equal(t, "documents/s1/PHOTO/1_me.jpg", documents[0].FilePath)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentCreateSetsTimestamps(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET validated = $2 WHERE id = $1")).WithArgs(sqlmock.AnyArg(), true).WillReturnResult(sqlmock.NewResult(0, 1))

	doc := &models.Document{StudentID: "s1", Type: models.DocumentBirthCertificate, FileName: "birth.pdf", FilePath: "documents/s1/BIRTH_CERTIFICATE/1_birth.pdf", MimeType: "application/pdf", SizeBytes: 10}
	require.NoError(t, repo.Create(context.Background(), doc))
	assert.False(t, doc.SubmittedAt.IsZero())
	require.NoError(t, repo.SetValidated(context.Background(), doc.ID, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}
