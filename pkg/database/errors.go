package database

import (
	"errors"

	"github.com/lib/pq"
)

const (
	codeUniqueViolation     = pq.ErrorCode("23505")
	codeForeignKeyViolation = pq.ErrorCode("23503")
	codeCheckViolation      = pq.ErrorCode("23514")
)

// IsUniqueViolation reports whether err is a unique constraint failure. When constraints are given,
// the violated constraint must be one of them.
func IsUniqueViolation(err error, constraints ...string) bool {
	return matches(err, codeUniqueViolation, constraints)
}

// IsForeignKeyViolation reports whether err is a foreign key failure.
func IsForeignKeyViolation(err error, constraints ...string) bool {
	return matches(err, codeForeignKeyViolation, constraints)
}

// IsCheckViolation reports whether err is a CHECK constraint failure.
func IsCheckViolation(err error, constraints ...string) bool {
	return matches(err, codeCheckViolation, constraints)
}

func matches(err error, code pq.ErrorCode, constraints []string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != code {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	for _, name := range constraints {
		if pqErr.Constraint == name {
			return true
		}
	}
	return false
}
