package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgerrcode"
)

// ErrNotFound is returned when a record has no matching row.
var ErrNotFound = errors.New("store: record not found")

// ValidationError flags a caller-supplied argument the store refuses to
// act on (e.g. an empty file path).
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("store: validation error on field %q: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// DatabaseError wraps a lower-level pgx/pgconn failure with the operation
// that triggered it, the same shape the teacher's models.DatabaseError uses.
type DatabaseError struct {
	Operation string
	Err       error
}

func (e DatabaseError) Error() string {
	return fmt.Sprintf("store: database error during %s: %v", e.Operation, e.Err)
}

func (e DatabaseError) Unwrap() error { return e.Err }

func NewDatabaseError(operation string, err error) DatabaseError {
	return DatabaseError{Operation: operation, Err: err}
}

func convertPgError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
		return NewDatabaseError(operation+": constraint violation", err)
	}

	return NewDatabaseError(operation, err)
}
