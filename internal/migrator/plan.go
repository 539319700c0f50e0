package migrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/example/peregrine/internal/migration"
	"github.com/example/peregrine/internal/scripts"
)

// PlanAction is what a run would do with a script.
type PlanAction string

const (
	ActionApply       PlanAction = "apply"
	ActionReplace     PlanAction = "replace"
	ActionSkip        PlanAction = "skip"
	ActionAnachronism PlanAction = "anachronism"
	// ActionPermanentPrerelease marks a prerelease script that Migrate would
	// refuse because it has no reverse script.
	ActionPermanentPrerelease PlanAction = "permanent_prerelease"
)

// PlanStep is the predicted outcome for one forward script.
type PlanStep struct {
	Version     string
	Description string
	Action      PlanAction
	// Replaces names the prerelease version a replace step rolls back.
	Replaces string
}

// Plan predicts the outcome of Migrate without executing anything. The
// stored history is copied onto a history over a no-op execution context
// and the batch is applied there. Unlike Migrate, neither an anachronism nor
// a prerelease script without a reverse script ends the plan; both are
// reported as steps.
func (m *Migrator) Plan(ctx context.Context) (steps []PlanStep, err error) {
	ctx, span := m.startSpan(ctx, "Plan")
	logger := operationLogger(ctx, m.logger, "Plan")
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "failed to plan migration", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "migration planned", "steps", len(steps))
	}()

	batch, history, err := m.prepare(ctx)
	if err != nil {
		return nil, err
	}

	if leftovers := batch.Leftovers(); len(leftovers) > 0 {
		return nil, &migration.UnapplicableRollbackScriptsError{Scripts: leftovers}
	}

	var dryRun migration.History = migration.NewHistory(migration.NullContext{}, history.Migrations()...)
	for _, candidate := range batch.Ordered() {
		step := PlanStep{
			Version:     candidate.Version().String(),
			Description: candidate.Description().String(),
		}

		result, err := dryRun.Apply(ctx, candidate)
		if errors.Is(err, migration.ErrPermanentPrerelease) {
			step.Action = ActionPermanentPrerelease
			steps = append(steps, step)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", candidate, err)
		}

		switch r := result.(type) {
		case migration.Skipped:
			step.Action = ActionSkip
		case migration.Succeeded:
			step.Action = ActionApply
		case migration.SucceededWithRollback:
			step.Action = ActionReplace
			step.Replaces = r.RolledBack.Version().String()
		case migration.Anachronism:
			step.Action = ActionAnachronism
		case migration.Failed:
			return nil, fmt.Errorf("plan %s: %w", candidate, r.Err)
		}
		if updated, ok := migration.UpdatedHistory(result); ok {
			dryRun = updated
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Status describes the applied and pending migrations of a target.
type Status struct {
	Applied []migration.HistoryRecord
	Pending []migration.Applicable
	Current migration.Version
}

// Status lists the stored history records and the forward scripts that have
// no record yet, in version order.
func (m *Migrator) Status(ctx context.Context) (status Status, err error) {
	ctx, span := m.startSpan(ctx, "Status")
	logger := operationLogger(ctx, m.logger, "Status")
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "failed to read status", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if err = m.store.Provision(ctx); err != nil {
		return Status{}, err
	}
	records, err := m.store.Records(ctx)
	if err != nil {
		return Status{}, err
	}
	batch, err := scripts.LoadBatch(ctx, m.source)
	if err != nil {
		return Status{}, err
	}

	status.Applied = records
	if len(records) > 0 {
		latest := records[len(records)-1]
		status.Current, err = migration.ParseVersion(latest.Version)
		if err != nil {
			return Status{}, fmt.Errorf("history record %s - %s: %w", latest.Version, latest.Description, err)
		}
	}

	for _, candidate := range batch.Ordered() {
		applied := slices.ContainsFunc(records, func(r migration.HistoryRecord) bool {
			v, err := migration.ParseVersion(r.Version)
			return err == nil && v.Equal(candidate.Version()) &&
				migration.NewDescription(r.Description) == candidate.Description()
		})
		if !applied {
			status.Pending = append(status.Pending, candidate)
		}
	}
	return status, nil
}
