package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/models"
)

var classDetailColumns = []string{"id", "level", "name", "capacity", "school_year", "description", "created_at", "updated_at", "student_count"}

func TestClassListFiltersByLevelAndYear(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.level = $1 AND c.school_year = $2 ORDER BY c.level ASC, c.name ASC LIMIT 20 OFFSET 0")).
		WithArgs("6EME", "2024-2025").
		WillReturnRows(sqlmock.NewRows(classDetailColumns).AddRow("c1", "6EME", "A", 30, "2024-2025", nil, now, now, 12))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM classes c WHERE c.level = $1 AND c.school_year = $2")).
		WithArgs("6EME", "2024-2025").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	classes, total, err := repo.List(context.Background(), models.ClassFilter{Level: "6EME", SchoolYear: "2024-2025"})
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, 12, classes[0].StudentCount)
	assert.Equal(t, "6EME A", classes[0].Label())
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassExistsByKey(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM classes WHERE level = $1")).
		WithArgs("6EME", "A", "2024-2025").
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.ExistsByKey(context.Background(), "6EME", "A", "2024-2025", "")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassCreateAndDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec("INSERT INTO classes").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM classes WHERE id = $1")).WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 1))

	class := &models.Class{Level: "6EME", Name: "A", Capacity: 30, SchoolYear: "2024-2025"}
	require.NoError(t, repo.Create(context.Background(), class))
	assert.NotEmpty(t, class.ID)
	require.NoError(t, repo.Delete(context.Background(), "c1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassSubjectCoefficients(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM class_subjects WHERE class_id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"class_id", "subject_id", "coefficient"}).
			AddRow("c1", "math", 4).
			AddRow("c1", "french", 3))

	coefficients, err := repo.Coefficients(context.Background(), nil, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"math": 4, "french": 3}, coefficients)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassSubjectReplaceInTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassSubjectRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM class_subjects WHERE class_id = $1")).WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO class_subjects").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO class_subjects").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	err = repo.Replace(context.Background(), tx, "c1", []models.ClassSubject{
		{SubjectID: "math", Coefficient: 4},
		{SubjectID: "french", Coefficient: 3},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassSubjectUpsertDefaultsCountsInserted(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassSubjectRepository(db)

	mock.ExpectExec("ON CONFLICT \\(class_id, subject_id\\) DO NOTHING").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("ON CONFLICT \\(class_id, subject_id\\) DO NOTHING").WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := repo.UpsertDefaults(context.Background(), nil, []models.ClassSubject{
		{ClassID: "c1", SubjectID: "math", Coefficient: 4},
		{ClassID: "c1", SubjectID: "french", Coefficient: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassSubjectRemove(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassSubjectRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM class_subjects WHERE class_id = $1 AND subject_id = $2")).
		WithArgs("c1", "math").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.Remove(context.Background(), "c1", "math")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
