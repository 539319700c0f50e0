package migration

import (
	"context"
	"time"
)

// History is an ordered log of applied migrations. Apply and rollback never
// modify the receiver; they return a new History in their result.
type History interface {
	// Apply runs migration unless it was applied already or comes too late.
	Apply(ctx context.Context, migration Applicable) (ApplyResult, error)

	// Rollback reverts the latest migration when it has a reverse script and
	// shouldRollback accepts it. A nil shouldRollback accepts every migration.
	Rollback(ctx context.Context, shouldRollback func(Applied) bool) (RollbackResult, error)

	// RollbackWith drives repeated single step rollbacks through strategy.
	RollbackWith(ctx context.Context, strategy RollbackStrategy) (RollbackResult, error)

	// Migrations returns a copy of the applied migrations, oldest first.
	Migrations() []Applied
}

// HistoriesEqual reports whether a and b hold equal migrations in the same
// order.
func HistoriesEqual(a, b History) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	left, right := a.Migrations(), b.Migrations()
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if !Equal(left[i], right[i]) {
			return false
		}
	}
	return true
}

// MigrationHistory is the plain History implementation. It owns its snapshot
// of applied migrations and shares the execution context with every history
// derived from it.
type MigrationHistory struct {
	ec      ExecutionContext
	applied []Applied
	now     func() time.Time
}

var _ History = (*MigrationHistory)(nil)

// HistoryOption configures a MigrationHistory.
type HistoryOption func(*MigrationHistory)

// WithClock overrides the time source used to stamp history records.
func WithClock(now func() time.Time) HistoryOption {
	return func(h *MigrationHistory) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHistory creates a history over ec holding applied, oldest first.
func NewHistory(ec ExecutionContext, applied ...Applied) *MigrationHistory {
	return NewHistoryWithOptions(ec, applied, nil)
}

// NewHistoryWithOptions is NewHistory with options.
func NewHistoryWithOptions(ec ExecutionContext, applied []Applied, opts []HistoryOption) *MigrationHistory {
	if ec == nil {
		ec = NullContext{}
	}
	h := &MigrationHistory{
		ec:      ec,
		applied: append([]Applied(nil), applied...),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// derive returns a sibling history holding applied.
func (h *MigrationHistory) derive(applied []Applied) *MigrationHistory {
	return &MigrationHistory{ec: h.ec, applied: applied, now: h.now}
}

// Migrations returns a copy of the applied migrations, oldest first.
func (h *MigrationHistory) Migrations() []Applied {
	return append([]Applied(nil), h.applied...)
}

// Len returns the number of applied migrations.
func (h *MigrationHistory) Len() int {
	return len(h.applied)
}

// Latest returns the most recently applied migration.
func (h *MigrationHistory) Latest() (Applied, bool) {
	if len(h.applied) == 0 {
		return nil, false
	}
	return h.applied[len(h.applied)-1], true
}

// Equal reports order sensitive equality with other.
func (h *MigrationHistory) Equal(other History) bool {
	return HistoriesEqual(h, other)
}

// Apply decides what happens with migration:
//
//  1. an equal migration is already applied: Skipped
//  2. the latest version is not older than migration's: Anachronism
//  3. the latest migration is a rollback capable prerelease: it is rolled back
//     and replaced, SucceededWithRollback
//  4. otherwise migration is applied and appended: Succeeded
//
// Errors from executing or recording migration are returned as is.
func (h *MigrationHistory) Apply(ctx context.Context, migration Applicable) (ApplyResult, error) {
	for _, existing := range h.applied {
		if Equal(existing, migration) {
			return Skipped{Migration: migration, Existing: existing}, nil
		}
	}

	if latest, ok := h.Latest(); ok && CompareByVersion(latest, migration) >= 0 {
		return Anachronism{Migration: migration, LatestVersion: latest.Version()}, nil
	}

	rollback, err := h.Rollback(ctx, func(latest Applied) bool { return latest.IsPrerelease() })
	if err != nil {
		return nil, err
	}
	if single, ok := rollback.(RollbackSingle); ok {
		replacement, err := h.applyAndRecord(ctx, migration)
		if err != nil {
			return nil, err
		}
		remaining := h.applied[:len(h.applied)-1]
		applied := make([]Applied, 0, len(h.applied))
		applied = append(append(applied, remaining...), replacement)
		return SucceededWithRollback{
			Migration:  migration,
			Applied:    replacement,
			RolledBack: single.RolledBack,
			History:    h.derive(applied),
		}, nil
	}

	result, err := h.applyAndRecord(ctx, migration)
	if err != nil {
		return nil, err
	}
	applied := make([]Applied, 0, len(h.applied)+1)
	applied = append(append(applied, h.applied...), result)
	return Succeeded{Migration: migration, Applied: result, History: h.derive(applied)}, nil
}

func (h *MigrationHistory) applyAndRecord(ctx context.Context, migration Applicable) (Applied, error) {
	applied, err := migration.apply(ctx, h.ec)
	if err != nil {
		return nil, err
	}
	if err := h.ec.WriteHistoryRecord(ctx, applied.record(h.now())); err != nil {
		return nil, err
	}
	return applied, nil
}

// Rollback reverts the latest migration. It reports NoRollback when the
// history is empty, when the latest migration has no reverse script, or when
// shouldRollback refuses it, checked in that order.
func (h *MigrationHistory) Rollback(ctx context.Context, shouldRollback func(Applied) bool) (RollbackResult, error) {
	latest, ok := h.Latest()
	if !ok {
		return NoRollback{Reason: ReasonHistoryEmpty}, nil
	}

	target, ok := latest.(reversible)
	if !ok {
		return NoRollback{Reason: ReasonNoRollbackScript}, nil
	}

	if shouldRollback != nil && !shouldRollback(target) {
		return NoRollback{Reason: ReasonPreconditionFailed}, nil
	}

	if err := target.revert(ctx, h.ec, h.now()); err != nil {
		return nil, err
	}

	remaining := append([]Applied(nil), h.applied[:len(h.applied)-1]...)
	return RollbackSingle{RolledBack: target, History: h.derive(remaining)}, nil
}

// RollbackWith hands the history to strategy and wraps what it leaves.
func (h *MigrationHistory) RollbackWith(ctx context.Context, strategy RollbackStrategy) (RollbackResult, error) {
	history, err := strategy.Rollback(ctx, h)
	if err != nil {
		return nil, err
	}
	return RollbackByStrategy{History: history}, nil
}
