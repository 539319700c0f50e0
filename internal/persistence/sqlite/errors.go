package sqlite

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a SQLite configuration that cannot be opened
	ErrInvalidConfig = errors.New("invalid SQLite configuration")

	// ErrInvalidTableName indicates a history table name that is not a plain identifier
	ErrInvalidTableName = errors.New("invalid history table name")

	// ErrDatabaseLocked indicates that the database stayed locked or busy
	ErrDatabaseLocked = errors.New("database is locked")

	// ErrConstraint indicates a violated UNIQUE, CHECK or FOREIGN KEY constraint
	ErrConstraint = errors.New("constraint violation")
)

// DatabaseError wraps database failures with the operation and statement
// involved.
type DatabaseError struct {
	Operation string // Operation being performed (provision, execute, write record, etc.)
	Query     string // SQL statement that failed (if applicable)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	return fmt.Sprintf("sqlite: %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(operation, query string, err error) *DatabaseError {
	return &DatabaseError{Operation: operation, Query: query, Err: err}
}
