package storage

import (
	"database/sql"
	"errors"

	"github.com/user/dealtracker/internal/apperror"
)

// Repository handles entity database operations on a connection pool or a
// transaction.
type Repository struct {
	db DBTX
}

// NewRepository creates a repository over db.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// notFound maps sql.ErrNoRows to (false, nil) for optional lookups.
func notFound(err error) (bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	return false, err
}

// conflictOr wraps unique violations as apperror.ErrConflict.
func conflictOr(err error, resource string, id any) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		e := apperror.Conflict(resource, id)
		e.Cause = err
		return e
	}
	return err
}
