package migrator

import (
	"errors"
	"fmt"
)

// Reason classifies why a migration run was terminated.
type Reason string

const (
	// ReasonVersionAnachronism means a script is older than the applied history.
	ReasonVersionAnachronism Reason = "MigrationVersionAnachronism"
	// ReasonApplicableMigrationFailed means a script failed to execute.
	ReasonApplicableMigrationFailed Reason = "ApplicableMigrationFailed"
)

var (
	// ErrVersionAnachronism matches an Error with ReasonVersionAnachronism.
	ErrVersionAnachronism = errors.New("migrator: version anachronism")
	// ErrMigrationFailed matches an Error with ReasonApplicableMigrationFailed.
	ErrMigrationFailed = errors.New("migrator: migration failed")
)

// Error terminates a migration run. It names the migration that stopped it.
type Error struct {
	Reason    Reason
	Migration string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("migrator: %s: %s: %v", e.Reason, e.Migration, e.Err)
	}
	return fmt.Sprintf("migrator: %s: %s", e.Reason, e.Migration)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's reason.
func (e *Error) Is(target error) bool {
	switch e.Reason {
	case ReasonVersionAnachronism:
		return target == ErrVersionAnachronism
	case ReasonApplicableMigrationFailed:
		return target == ErrMigrationFailed
	}
	return false
}
