package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrNotFound  = errors.New("resource not found")
	ErrConflict  = errors.New("state conflict")
	ErrDuplicate = errors.New("duplicate key violation")
)

const pgErrCodeUniqueViolation = "23505"

// IsDuplicateKeyError reports whether err is a Postgres unique constraint violation.
func IsDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgErrCodeUniqueViolation
	}
	return false
}

func wrapDuplicate(err error, what string) error {
	if IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", what, err)
}
