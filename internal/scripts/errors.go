package scripts

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedScript indicates a .sql file that does not follow the script naming convention
	ErrUnrecognizedScript = errors.New("unrecognized migration script name")

	// ErrDuplicateScript indicates two files resolving to the same script name
	ErrDuplicateScript = errors.New("duplicate migration script")
)

// ScanError wraps failures while listing or reading scripts.
type ScanError struct {
	Path      string // Script or directory path
	Operation string // Operation being performed (list, open, read, validate)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *ScanError) Error() string {
	return fmt.Sprintf("scripts: %s %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *ScanError) Unwrap() error {
	return e.Err
}

// NewScanError creates a new ScanError
func NewScanError(path, operation string, err error) *ScanError {
	return &ScanError{Path: path, Operation: operation, Err: err}
}
