package migration

import (
	"context"
	"time"
)

// Operation runs a prepared script and reports the number of affected rows.
type Operation func(ctx context.Context) (int64, error)

// ExecutionContext runs scripts and persists history records on behalf of a
// MigrationHistory. It is shared by every snapshot of a history chain.
type ExecutionContext interface {
	// PrepareMigration returns an operation that executes script.
	PrepareMigration(script string) Operation

	// WriteHistoryRecord persists the record of an applied migration.
	WriteHistoryRecord(ctx context.Context, record HistoryRecord) error

	// RemoveHistoryRecord deletes the record of a rolled back migration.
	RemoveHistoryRecord(ctx context.Context, record HistoryRecord) error
}

// HistoryLoader rebuilds the history of a target from its persisted records,
// matching them against batch.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, batch *Batch) (History, error)
}

// Scope is a unit of work opened by a Transactor.
type Scope interface {
	Commit() error
	Rollback() error
}

// Transactor opens transaction scopes that travel in the returned context.
//
// With requiresNew the scope always owns a fresh transaction. Otherwise a
// transaction already carried by ctx is joined, and the joined scope's Commit
// and Rollback leave it to its owner.
type Transactor interface {
	BeginScope(ctx context.Context, requiresNew bool) (context.Context, Scope, error)
}

// HistoryRecord is the persisted shape of an applied migration.
type HistoryRecord struct {
	Timestamp     time.Time
	Version       string
	Description   string
	Checksum      []byte
	ExecutionTime *time.Duration
}

// NullContext executes nothing and persists nothing. It backs dry runs.
type NullContext struct{}

var (
	_ ExecutionContext = NullContext{}
	_ HistoryLoader    = NullContext{}
)

// PrepareMigration returns an operation that affects no rows.
func (NullContext) PrepareMigration(string) Operation {
	return func(context.Context) (int64, error) { return 0, nil }
}

// WriteHistoryRecord is a no-op.
func (NullContext) WriteHistoryRecord(context.Context, HistoryRecord) error { return nil }

// RemoveHistoryRecord is a no-op.
func (NullContext) RemoveHistoryRecord(context.Context, HistoryRecord) error { return nil }

// LoadHistory returns an empty history.
func (c NullContext) LoadHistory(context.Context, *Batch) (History, error) {
	return NewHistory(c), nil
}
