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

var teacherDetailColumns = []string{"id", "user_id", "specialty", "hire_date", "staff_number", "created_at", "updated_at", "email", "first_name", "last_name", "phone", "active"}

func TestTeacherListBySubject(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTeacherRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ts.subject_id = $1) ORDER BY u.last_name ASC LIMIT 20 OFFSET 0")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(teacherDetailColumns).AddRow("t1", "u1", "Mathematics", now, "ENS000001", now, now, "t@example.com", "Ibrahima", "Fall", nil, true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM teachers t JOIN users u ON u.id = t.user_id WHERE 1=1 AND EXISTS")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	teachers, total, err := repo.List(context.Background(), models.TeacherFilter{SubjectID: "s1"})
	require.NoError(t, err)
	require.Len(t, teachers, 1)
	assert.Equal(t, "ENS000001", teachers[0].StaffNumber)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherNextStaffSequence(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTeacherRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).WithArgs("staff:ENS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SUBSTRING(staff_number FROM 4)")).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(41))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	next, err := repo.NextStaffSequence(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, 42, next)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
