package migration

import (
	"context"
	"fmt"
	"time"
)

// Migration is identified by its version and description and carries the
// checksum of the script that produced it.
type Migration interface {
	Version() Version
	Description() Description
	Checksum() Checksum
	String() string
}

// Equal reports whether a and b denote the same migration: same version,
// description and checksum. Variant and execution time are ignored.
func Equal(a, b Migration) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Version().Equal(b.Version()) &&
		a.Description() == b.Description() &&
		a.Checksum() == b.Checksum()
}

// sameTarget reports whether a and b share version and description.
func sameTarget(a, b Migration) bool {
	return a.Version().Equal(b.Version()) && a.Description() == b.Description()
}

// CompareByVersion orders migrations by version precedence.
func CompareByVersion(a, b Migration) int {
	return a.Version().Compare(b.Version())
}

// Applicable is a migration that has not been applied yet. The concrete types
// are *ApplicableMigration and *RollbackEnabledApplicableMigration.
type Applicable interface {
	Migration

	// CanRunInTransaction reports whether every script involved may run inside
	// a transaction.
	CanRunInTransaction() bool

	// Rollback returns the paired reverse script, or nil.
	Rollback() *RollbackMigration

	apply(ctx context.Context, ec ExecutionContext) (Applied, error)
}

// Applied is a migration recorded in a history. The concrete types are
// *AppliedMigration and *RollbackEnabledAppliedMigration.
type Applied interface {
	Migration

	// ExecutionTime returns how long the forward script ran, when known.
	ExecutionTime() (time.Duration, bool)

	// IsPrerelease reports whether the migration's version is a prerelease.
	IsPrerelease() bool

	record(at time.Time) HistoryRecord
}

// reversible is an applied migration that carries its reverse script.
type reversible interface {
	Applied
	revert(ctx context.Context, ec ExecutionContext, at time.Time) error
}

// CanRollback reports whether m carries a reverse script.
func CanRollback(m Applied) bool {
	_, ok := m.(reversible)
	return ok
}

type identity struct {
	version     Version
	description Description
	checksum    Checksum
}

func (m identity) Version() Version         { return m.version }
func (m identity) Description() Description { return m.description }
func (m identity) Checksum() Checksum       { return m.checksum }

func (m identity) String() string {
	return fmt.Sprintf("%s - %s", m.version, m.description)
}

// RollbackMigration is a reverse script for the migration with the same
// version and description.
type RollbackMigration struct {
	identity
	content ScriptContent
}

// NewRollback creates a reverse script.
func NewRollback(version Version, description Description, content ScriptContent) *RollbackMigration {
	return &RollbackMigration{
		identity: identity{version: version, description: description, checksum: content.Checksum()},
		content:  content,
	}
}

// Content returns the reverse script.
func (r *RollbackMigration) Content() ScriptContent {
	return r.content
}

// AppliesTo reports whether r reverses the migration identified by version and
// description.
func (r *RollbackMigration) AppliesTo(version Version, description Description) bool {
	return r.version.Equal(version) && r.description == description
}

// CanRunInTransaction reports whether the reverse script is transaction safe.
func (r *RollbackMigration) CanRunInTransaction() bool {
	return r.content.CanRunInTransaction()
}

func (r *RollbackMigration) run(ctx context.Context, ec ExecutionContext) error {
	if _, err := ec.PrepareMigration(r.content.Text())(ctx); err != nil {
		return fmt.Errorf("rollback %s: %w", r, err)
	}
	return nil
}

func checkPairing(m Migration, r *RollbackMigration) error {
	if r == nil {
		return ErrNilRollback
	}
	if !r.AppliesTo(m.Version(), m.Description()) {
		return fmt.Errorf("%w: %s cannot reverse %s", ErrRollbackMismatch, r, m)
	}
	return nil
}

// ApplicableMigration is a forward script without a reverse script.
type ApplicableMigration struct {
	identity
	content ScriptContent
}

var _ Applicable = (*ApplicableMigration)(nil)

// NewApplicable creates a forward migration.
func NewApplicable(version Version, description Description, content ScriptContent) *ApplicableMigration {
	return &ApplicableMigration{
		identity: identity{version: version, description: description, checksum: content.Checksum()},
		content:  content,
	}
}

// Content returns the forward script.
func (m *ApplicableMigration) Content() ScriptContent {
	return m.content
}

// CanRunInTransaction reports whether the forward script is transaction safe.
func (m *ApplicableMigration) CanRunInTransaction() bool {
	return m.content.CanRunInTransaction()
}

// Rollback returns nil: a plain applicable migration has no reverse script.
func (m *ApplicableMigration) Rollback() *RollbackMigration {
	return nil
}

// CanBeRolledBackBy reports whether r reverses m.
func (m *ApplicableMigration) CanBeRolledBackBy(r *RollbackMigration) bool {
	return r != nil && r.AppliesTo(m.version, m.description)
}

// WithRollback pairs m with its reverse script.
func (m *ApplicableMigration) WithRollback(r *RollbackMigration) (*RollbackEnabledApplicableMigration, error) {
	if err := checkPairing(m, r); err != nil {
		return nil, err
	}
	return &RollbackEnabledApplicableMigration{ApplicableMigration: m, rollback: r}, nil
}

func (m *ApplicableMigration) apply(ctx context.Context, ec ExecutionContext) (Applied, error) {
	if m.version.IsPrerelease() {
		return nil, &PermanentPrereleaseError{Migration: m}
	}
	elapsed, err := m.execute(ctx, ec)
	if err != nil {
		return nil, err
	}
	return NewApplied(m.version, m.description, m.checksum, &elapsed), nil
}

func (m *ApplicableMigration) execute(ctx context.Context, ec ExecutionContext) (time.Duration, error) {
	start := time.Now()
	if _, err := ec.PrepareMigration(m.content.Text())(ctx); err != nil {
		return 0, fmt.Errorf("apply %s: %w", m, err)
	}
	return time.Since(start), nil
}

// RollbackEnabledApplicableMigration is a forward script paired with its
// reverse script.
type RollbackEnabledApplicableMigration struct {
	*ApplicableMigration
	rollback *RollbackMigration
}

var _ Applicable = (*RollbackEnabledApplicableMigration)(nil)

// NewRollbackEnabledApplicable creates a forward migration with a reverse
// script targeting the same version and description.
func NewRollbackEnabledApplicable(version Version, description Description, content ScriptContent, rollback *RollbackMigration) (*RollbackEnabledApplicableMigration, error) {
	return NewApplicable(version, description, content).WithRollback(rollback)
}

// Rollback returns the paired reverse script.
func (m *RollbackEnabledApplicableMigration) Rollback() *RollbackMigration {
	return m.rollback
}

// CanRunInTransaction reports whether both scripts are transaction safe.
func (m *RollbackEnabledApplicableMigration) CanRunInTransaction() bool {
	return m.ApplicableMigration.CanRunInTransaction() && m.rollback.CanRunInTransaction()
}

// Prerelease versions are allowed here: the reverse script is the way back.
func (m *RollbackEnabledApplicableMigration) apply(ctx context.Context, ec ExecutionContext) (Applied, error) {
	elapsed, err := m.execute(ctx, ec)
	if err != nil {
		return nil, err
	}
	return &RollbackEnabledAppliedMigration{
		AppliedMigration: NewApplied(m.version, m.description, m.checksum, &elapsed),
		rollback:         m.rollback,
	}, nil
}

// AppliedMigration is a migration recorded in a history.
type AppliedMigration struct {
	identity
	executionTime *time.Duration
}

var _ Applied = (*AppliedMigration)(nil)

// NewApplied creates an applied migration. executionTime may be nil.
func NewApplied(version Version, description Description, checksum Checksum, executionTime *time.Duration) *AppliedMigration {
	var elapsed *time.Duration
	if executionTime != nil {
		d := *executionTime
		elapsed = &d
	}
	return &AppliedMigration{
		identity:      identity{version: version, description: description, checksum: checksum},
		executionTime: elapsed,
	}
}

// AppliedFromRecord rebuilds an applied migration from its persisted record.
func AppliedFromRecord(record HistoryRecord) (*AppliedMigration, error) {
	version, err := ParseVersion(record.Version)
	if err != nil {
		return nil, err
	}
	return NewApplied(version, NewDescription(record.Description), NewChecksum(record.Checksum), record.ExecutionTime), nil
}

// ExecutionTime returns the recorded duration of the forward script.
func (m *AppliedMigration) ExecutionTime() (time.Duration, bool) {
	if m.executionTime == nil {
		return 0, false
	}
	return *m.executionTime, true
}

// IsPrerelease reports whether the version carries a prerelease tag.
func (m *AppliedMigration) IsPrerelease() bool {
	return m.version.IsPrerelease()
}

// WithRollback attaches the reverse script to m.
func (m *AppliedMigration) WithRollback(r *RollbackMigration) (*RollbackEnabledAppliedMigration, error) {
	if err := checkPairing(m, r); err != nil {
		return nil, err
	}
	return &RollbackEnabledAppliedMigration{AppliedMigration: m, rollback: r}, nil
}

func (m *AppliedMigration) record(at time.Time) HistoryRecord {
	return HistoryRecord{
		Timestamp:     at,
		Version:       m.version.String(),
		Description:   m.description.String(),
		Checksum:      m.checksum.Bytes(),
		ExecutionTime: m.executionTime,
	}
}

// RollbackEnabledAppliedMigration is an applied migration that can be rolled
// back.
type RollbackEnabledAppliedMigration struct {
	*AppliedMigration
	rollback *RollbackMigration
}

var _ reversible = (*RollbackEnabledAppliedMigration)(nil)

// NewRollbackEnabledApplied creates an applied migration with its reverse
// script.
func NewRollbackEnabledApplied(version Version, description Description, checksum Checksum, rollback *RollbackMigration, executionTime *time.Duration) (*RollbackEnabledAppliedMigration, error) {
	return NewApplied(version, description, checksum, executionTime).WithRollback(rollback)
}

// Rollback returns the paired reverse script.
func (m *RollbackEnabledAppliedMigration) Rollback() *RollbackMigration {
	return m.rollback
}

func (m *RollbackEnabledAppliedMigration) revert(ctx context.Context, ec ExecutionContext, at time.Time) error {
	if err := m.rollback.run(ctx, ec); err != nil {
		return err
	}
	record := m.record(at)
	record.ExecutionTime = nil
	if err := ec.RemoveHistoryRecord(ctx, record); err != nil {
		return fmt.Errorf("remove history record of %s: %w", m, err)
	}
	return nil
}
