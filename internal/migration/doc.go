// Package migration models versioned schema migrations and the history of
// their application.
//
// A migration is identified by a semantic Version and a normalized
// Description, and carries the Checksum of its script. Forward scripts are
// Applicable; once run and recorded they become Applied. Either kind may be
// paired with a reverse script, which makes rollback possible.
//
// A History is immutable: Apply and Rollback return a new History inside
// their result value. MigrationHistory is the plain implementation and
// TransactionalHistory adds transaction boundaries around it. Scripts are
// executed and records persisted through an ExecutionContext, so the same
// history logic drives a real database or a dry run (NullContext).
//
// Scripts are grouped into a Batch, which pairs forward and reverse scripts
// and applies them in version order:
//
//	batch, err := migration.BatchFromScript("V1.0.0__CreateUsers.sql", r)
//	history, err := loader.LoadHistory(ctx, batch)
//	history, err = batch.ApplyTo(ctx, history, func(r migration.ApplyResult) error {
//		return nil
//	})
//
// Rollbacks run one step at a time through History.Rollback, or repeatedly
// through a RollbackStrategy such as Ordinal, TargetVersion or Terminal.
package migration
