package postgres

import (
	"errors"
	"strings"

	"github.com/narvanalabs/functions/internal/store"
)

// Common store errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = store.ErrNotFound

	// ErrDuplicateKey is returned when attempting to create a record with a duplicate key.
	ErrDuplicateKey = errors.New("duplicate key")
)

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// PostgreSQL error code 23505 is unique_violation
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "unique constraint") ||
		strings.Contains(err.Error(), "duplicate key")
}
