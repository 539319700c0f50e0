// Package migrator drives a migration target: it applies pending scripts,
// rolls back with a strategy, previews a run and reports status.
package migrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/peregrine/internal/migration"
	"github.com/example/peregrine/internal/scripts"
)

const tracerName = "peregrine/migrator"

// Store persists the history of one migration target.
type Store interface {
	migration.HistoryLoader
	Provision(ctx context.Context) error
	Records(ctx context.Context) ([]migration.HistoryRecord, error)
}

// Migrator runs the scripts of a source against a store.
type Migrator struct {
	source scripts.Source
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		m.logger = defaultLogger(logger)
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Migrator) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// New constructs a migrator over source and store.
func New(source scripts.Source, store Store, opts ...Option) *Migrator {
	m := &Migrator{
		source: source,
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Report summarizes a migration run.
type Report struct {
	Applied  int
	Skipped  int
	Replaced int
	Current  migration.Version
}

// StrategyFunc builds a rollback strategy around a per step callback.
type StrategyFunc func(onResult func(migration.RollbackResult)) migration.RollbackStrategy

// RollbackCount rolls back at most n migrations.
func RollbackCount(n int) StrategyFunc {
	return func(onResult func(migration.RollbackResult)) migration.RollbackStrategy {
		return migration.Ordinal(n, onResult)
	}
}

// RollbackTo rolls back every migration newer than target.
func RollbackTo(target migration.Version) StrategyFunc {
	return func(onResult func(migration.RollbackResult)) migration.RollbackStrategy {
		return migration.TargetVersion(target, onResult)
	}
}

// RollbackAll rolls back as far as reverse scripts allow.
func RollbackAll() StrategyFunc {
	return func(onResult func(migration.RollbackResult)) migration.RollbackStrategy {
		return migration.Terminal(onResult)
	}
}

func (m *Migrator) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "migrator."+operation)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// prepare provisions the store, loads the batch and hydrates the history.
func (m *Migrator) prepare(ctx context.Context) (*migration.Batch, migration.History, error) {
	if err := m.store.Provision(ctx); err != nil {
		return nil, nil, err
	}
	batch, err := scripts.LoadBatch(ctx, m.source)
	if err != nil {
		return nil, nil, err
	}
	history, err := m.store.LoadHistory(ctx, batch)
	if err != nil {
		return nil, nil, err
	}
	return batch, history, nil
}

// Migrate applies every pending script in version order. An anachronistic or
// failing script stops the run with an *Error; migrations applied before it
// stay applied.
func (m *Migrator) Migrate(ctx context.Context) (report Report, err error) {
	ctx, span := m.startSpan(ctx, "Migrate")
	logger := operationLogger(ctx, m.logger, "Migrate")
	defer func() {
		span.SetAttributes(
			attribute.Int("peregrine.applied", report.Applied),
			attribute.Int("peregrine.skipped", report.Skipped),
			attribute.Int("peregrine.replaced", report.Replaced),
		)
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "migration completed",
			"applied", report.Applied,
			"skipped", report.Skipped,
			"replaced", report.Replaced,
			"version", report.Current.String(),
		)
	}()

	batch, history, err := m.prepare(ctx)
	if err != nil {
		return report, err
	}

	history, err = batch.ApplyTo(ctx, history, func(result migration.ApplyResult) error {
		candidate := result.Candidate()
		attrs := []any{"version", candidate.Version().String(), "description", candidate.Description().String()}
		switch r := result.(type) {
		case migration.Skipped:
			report.Skipped++
			logger.DebugContext(ctx, "migration skipped", attrs...)
		case migration.Succeeded:
			report.Applied++
			logger.InfoContext(ctx, "migration applied", append(attrs, executionAttrs(r.Applied)...)...)
		case migration.SucceededWithRollback:
			report.Replaced++
			logger.InfoContext(ctx, "migration applied with rollback",
				append(attrs, "rolled_back", r.RolledBack.Version().String())...)
		case migration.Anachronism:
			return &Error{
				Reason:    ReasonVersionAnachronism,
				Migration: candidate.String(),
				Err:       fmt.Errorf("latest applied version is %s", r.LatestVersion),
			}
		case migration.Failed:
			return &Error{Reason: ReasonApplicableMigrationFailed, Migration: candidate.String(), Err: r.Err}
		}
		return nil
	})
	report.Current = currentVersion(history)
	return report, err
}

func executionAttrs(applied migration.Applied) []any {
	if timed, ok := applied.(interface{ ExecutionTime() (time.Duration, bool) }); ok {
		if d, ok := timed.ExecutionTime(); ok {
			return []any{"execution_time", d}
		}
	}
	return nil
}

func currentVersion(history migration.History) migration.Version {
	if history == nil {
		return migration.Version{}
	}
	applied := history.Migrations()
	if len(applied) == 0 {
		return migration.Version{}
	}
	return applied[len(applied)-1].Version()
}

// Rollback reverts applied migrations as directed by the strategy built by
// build, inside one transaction. It returns the migrations that remain.
func (m *Migrator) Rollback(ctx context.Context, build StrategyFunc) (remaining []migration.Applied, err error) {
	ctx, span := m.startSpan(ctx, "Rollback")
	logger := operationLogger(ctx, m.logger, "Rollback")
	rolledBack := 0
	defer func() {
		span.SetAttributes(attribute.Int("peregrine.rolled_back", rolledBack))
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "rollback failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "rollback completed", "rolled_back", rolledBack, "remaining", len(remaining))
	}()

	_, history, err := m.prepare(ctx)
	if err != nil {
		return nil, err
	}

	strategy := build(func(result migration.RollbackResult) {
		switch r := result.(type) {
		case migration.RollbackSingle:
			rolledBack++
			logger.InfoContext(ctx, "migration rolled back",
				"version", r.RolledBack.Version().String(),
				"description", r.RolledBack.Description().String(),
			)
		case migration.NoRollback:
			logger.InfoContext(ctx, "rollback stopped", "reason", string(r.Reason))
		}
	})

	result, err := history.RollbackWith(ctx, strategy)
	if err != nil {
		return nil, err
	}
	if byStrategy, ok := result.(migration.RollbackByStrategy); ok {
		return byStrategy.History.Migrations(), nil
	}
	return history.Migrations(), nil
}
