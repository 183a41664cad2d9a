package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageBounds normalises paging input and returns page, size and offset.
func pageBounds(page, size int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	return page, size, (page - 1) * size
}

// orderClause resolves a whitelisted sort column and direction.
func orderClause(sortBy, sortOrder string, allowed map[string]string, fallbackColumn, fallbackOrder string) (string, string) {
	column, ok := allowed[sortBy]
	if !ok {
		column = fallbackColumn
	}
	order := strings.ToUpper(sortOrder)
	if order != "ASC" && order != "DESC" {
		order = fallbackOrder
	}
	return column, order
}

func likePattern(search string) string {
	return "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
}

func pick(db *sqlx.DB, exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return db
}

// advisoryLock takes a transaction scoped Postgres advisory lock keyed by the hash of key.
// It must run inside a transaction; the lock is released on commit or rollback.
func advisoryLock(ctx context.Context, exec sqlx.ExtContext, key string) error {
	if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}
