package migration

import (
	"errors"
	"fmt"
	"strings"
)

// Conditions raised synchronously for invalid input or invalid state. Outcomes
// of apply and rollback that are expected are returned as result values
// instead.
var (
	// ErrInvalidVersion indicates that a version string is not a semantic version
	ErrInvalidVersion = errors.New("invalid migration version")

	// ErrNilReader indicates that a script was supplied without content
	ErrNilReader = errors.New("script content reader is nil")

	// ErrNilRollback indicates that a rollback script was required but absent
	ErrNilRollback = errors.New("rollback migration is nil")

	// ErrRollbackMismatch indicates that a rollback script targets another migration
	ErrRollbackMismatch = errors.New("rollback migration does not target this migration")

	// ErrPermanentPrerelease indicates a prerelease migration without a way back
	ErrPermanentPrerelease = errors.New("prerelease migration has no rollback script")

	// ErrUnapplicableRollbackScripts indicates rollback scripts without a forward script
	ErrUnapplicableRollbackScripts = errors.New("batch contains rollback scripts without a matching migration")

	// ErrUnreconciledBatch indicates a batch used for matching while it still has leftovers
	ErrUnreconciledBatch = errors.New("batch has unmatched rollback scripts")

	// ErrBatchMismatch indicates that an applied migration is not part of the batch
	ErrBatchMismatch = errors.New("applied migration not found in batch")

	// ErrUnreachableRollbackTarget indicates that a rollback stopped before its target
	ErrUnreachableRollbackTarget = errors.New("rollback target version is unreachable")

	// ErrInvalidScriptPrefix indicates a script name not starting with V or R
	ErrInvalidScriptPrefix = errors.New("script name must start with V or R")

	// ErrInvalidScriptVersion indicates a script name without a parsable version
	ErrInvalidScriptVersion = errors.New("script name does not contain a valid version")

	// ErrMissingScriptDescription indicates a script name without a __description part
	ErrMissingScriptDescription = errors.New("script name does not contain a description")

	// ErrInvalidScriptExtension indicates a script name not ending in .sql
	ErrInvalidScriptExtension = errors.New("script name must end with .sql")
)

// ScriptNameError reports a script whose name cannot be turned into a migration.
type ScriptNameError struct {
	Name string // Script name as supplied by the source
	Err  error  // One of the ErrInvalidScript*/ErrMissingScript* sentinels
}

// Error implements the error interface
func (e *ScriptNameError) Error() string {
	return fmt.Sprintf("script %q: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error
func (e *ScriptNameError) Unwrap() error {
	return e.Err
}

// NewScriptNameError creates a new ScriptNameError
func NewScriptNameError(name string, err error) *ScriptNameError {
	return &ScriptNameError{Name: name, Err: err}
}

// PermanentPrereleaseError is raised when a prerelease migration without a
// rollback script is about to be applied.
type PermanentPrereleaseError struct {
	Migration Applicable
}

// Error implements the error interface
func (e *PermanentPrereleaseError) Error() string {
	return fmt.Sprintf("migration %s: %v", e.Migration, ErrPermanentPrerelease)
}

// Is checks if the error matches a target error
func (e *PermanentPrereleaseError) Is(target error) bool {
	return target == ErrPermanentPrerelease
}

// UnapplicableRollbackScriptsError lists the reverse scripts left over after
// reconciliation.
type UnapplicableRollbackScriptsError struct {
	Scripts []*RollbackMigration
}

// Error implements the error interface
func (e *UnapplicableRollbackScriptsError) Error() string {
	names := make([]string, 0, len(e.Scripts))
	for _, script := range e.Scripts {
		names = append(names, script.String())
	}
	return fmt.Sprintf("%v: %s", ErrUnapplicableRollbackScripts, strings.Join(names, ", "))
}

// Is checks if the error matches a target error
func (e *UnapplicableRollbackScriptsError) Is(target error) bool {
	return target == ErrUnapplicableRollbackScripts
}

// BatchMismatchError reports a persisted migration that no script in the batch
// produced.
type BatchMismatchError struct {
	Batch     *Batch
	Migration Applied
}

// Error implements the error interface
func (e *BatchMismatchError) Error() string {
	return fmt.Sprintf("%v: %s", ErrBatchMismatch, e.Migration)
}

// Is checks if the error matches a target error
func (e *BatchMismatchError) Is(target error) bool {
	return target == ErrBatchMismatch
}

// UnreachableRollbackTargetError is raised when a target version rollback
// stops without reaching its target.
type UnreachableRollbackTargetError struct {
	Target Version
}

// Error implements the error interface
func (e *UnreachableRollbackTargetError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnreachableRollbackTarget, e.Target)
}

// Is checks if the error matches a target error
func (e *UnreachableRollbackTargetError) Is(target error) bool {
	return target == ErrUnreachableRollbackTarget
}
