package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/pkg/config"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "students_roll_number_key"})

	assert.True(t, IsUniqueViolation(err))
	assert.True(t, IsUniqueViolation(err, "students_roll_number_key"))
	assert.False(t, IsUniqueViolation(err, "grades_unique_entry"))
	assert.False(t, IsForeignKeyViolation(err))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
}

func TestWithTxCommitAndRollback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE classes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), sqlxDB, nil, func(tx *sqlx.Tx) error {
		_, execErr := tx.Exec("UPDATE classes SET capacity = 30")
		return execErr
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("boom")
	err = WithTx(context.Background(), sqlxDB, nil, func(tx *sqlx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "school", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=school sslmode=disable", dsn)
}
