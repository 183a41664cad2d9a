package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
)

var reportRowColumns = []string{"id", "student_id", "class_id", "period", "school_year", "overall_average", "rank", "class_size", "mention", "appreciation", "pdf_path", "issued_at", "created_at"}

func TestReportRepositoryCreateAndFindByKey(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reports")).WillReturnResult(sqlmock.NewResult(1, 1))

	report := &models.Report{StudentID: "s1", ClassID: "c1", Period: models.PeriodTrimester1, SchoolYear: "2024-2025", OverallAverage: 11, Rank: 1, ClassSize: 1, Mention: "Passing"}
	require.NoError(t, repo.Create(context.Background(), nil, report))
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, report.CreatedAt, report.IssuedAt)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM reports WHERE student_id = $1 AND period = $2 AND school_year = $3")).
		WithArgs("s1", string(models.PeriodTrimester1), "2024-2025").
		WillReturnRows(sqlmock.NewRows(reportRowColumns).
			AddRow(report.ID, "s1", "c1", "TRIMESTER_1", "2024-2025", "11.00", 1, 1, "Passing", "Average results, must work harder.", "bulletins/s1_TRIMESTER_1_2024-2025.pdf", now, now))

	found, err := repo.FindByKey(context.Background(), nil, "s1", models.PeriodTrimester1, "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, report.ID, found.ID)
	assert.InDelta(t, 11.0, found.OverallAverage, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryDuplicateKeySurfacesUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reports")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "reports_student_period_year_key"})

	err := repo.Create(context.Background(), nil, &models.Report{StudentID: "s1", Period: models.PeriodTrimester1, SchoolYear: "2024-2025"})
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err, "reports_student_period_year_key"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryLockKeyUsesAdvisoryLock(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("report:s1:TRIMESTER_2:2024-2025").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.LockKey(context.Background(), db, "s1", models.PeriodTrimester2, "2024-2025"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryFindByKeyMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reports WHERE student_id = $1")).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByKey(context.Background(), nil, "s1", models.PeriodSemester1, "2024-2025")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListByClassAndPeriod(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reports WHERE 1=1 AND class_id = $1 AND period = $2 ORDER BY school_year DESC, period DESC, rank ASC LIMIT 20 OFFSET 0")).
		WithArgs("c1", string(models.PeriodTrimester2)).
		WillReturnRows(sqlmock.NewRows(reportRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reports WHERE 1=1 AND class_id = $1 AND period = $2")).
		WithArgs("c1", string(models.PeriodTrimester2)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, total, err := repo.List(context.Background(), models.ReportFilter{ClassID: "c1", Period: models.PeriodTrimester2})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
