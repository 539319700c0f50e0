package migration

import (
	"context"
	"errors"
	"fmt"
)

// TransactionalHistory decorates a History with transaction boundaries.
//
// Apply runs in a transaction of its own unless the migration cannot run in
// one; only successful outcomes commit, and errors become Failed results.
// Rollbacks join the caller's transaction or open one and always commit.
// Every history returned in a result is decorated again.
type TransactionalHistory struct {
	inner History
	tx    Transactor
}

var _ History = (*TransactionalHistory)(nil)

// NewTransactionalHistory wraps inner. Scopes are opened through tx.
func NewTransactionalHistory(inner History, tx Transactor) *TransactionalHistory {
	return &TransactionalHistory{inner: inner, tx: tx}
}

// Inner returns the decorated history.
func (h *TransactionalHistory) Inner() History {
	return h.inner
}

// Migrations returns a copy of the applied migrations, oldest first.
func (h *TransactionalHistory) Migrations() []Applied {
	return h.inner.Migrations()
}

func (h *TransactionalHistory) wrap(history History) History {
	if history == nil {
		return nil
	}
	if _, ok := history.(*TransactionalHistory); ok {
		return history
	}
	return NewTransactionalHistory(history, h.tx)
}

func (h *TransactionalHistory) wrapApply(result ApplyResult) ApplyResult {
	switch r := result.(type) {
	case Succeeded:
		r.History = h.wrap(r.History)
		return r
	case SucceededWithRollback:
		r.History = h.wrap(r.History)
		return r
	}
	return result
}

// Apply delegates to the inner history inside a new transaction.
func (h *TransactionalHistory) Apply(ctx context.Context, migration Applicable) (ApplyResult, error) {
	if !migration.CanRunInTransaction() {
		result, err := h.inner.Apply(ctx, migration)
		if err != nil {
			return nil, err
		}
		return h.wrapApply(result), nil
	}

	scoped, scope, err := h.tx.BeginScope(ctx, true)
	if err != nil {
		return Failed{Migration: migration, Err: err}, nil
	}

	result, err := h.inner.Apply(scoped, migration)
	if err != nil {
		return Failed{Migration: migration, Err: errors.Join(err, scope.Rollback())}, nil
	}

	if _, ok := UpdatedHistory(result); !ok {
		if rbErr := scope.Rollback(); rbErr != nil {
			return Failed{Migration: migration, Err: rbErr}, nil
		}
		return result, nil
	}

	if err := scope.Commit(); err != nil {
		return Failed{Migration: migration, Err: fmt.Errorf("commit %s: %w", migration, err)}, nil
	}
	return h.wrapApply(result), nil
}

// Rollback delegates a single step rollback inside a joined transaction.
func (h *TransactionalHistory) Rollback(ctx context.Context, shouldRollback func(Applied) bool) (RollbackResult, error) {
	result, err := h.inRollbackScope(ctx, func(scoped context.Context) (RollbackResult, error) {
		return h.inner.Rollback(scoped, shouldRollback)
	})
	if err != nil {
		return nil, err
	}
	if single, ok := result.(RollbackSingle); ok {
		single.History = h.wrap(single.History)
		return single, nil
	}
	return result, nil
}

// RollbackWith delegates a strategy rollback inside a joined transaction;
// every step of the strategy shares it.
func (h *TransactionalHistory) RollbackWith(ctx context.Context, strategy RollbackStrategy) (RollbackResult, error) {
	result, err := h.inRollbackScope(ctx, func(scoped context.Context) (RollbackResult, error) {
		return h.inner.RollbackWith(scoped, strategy)
	})
	if err != nil {
		return nil, err
	}
	if byStrategy, ok := result.(RollbackByStrategy); ok {
		byStrategy.History = h.wrap(byStrategy.History)
		return byStrategy, nil
	}
	return result, nil
}

func (h *TransactionalHistory) inRollbackScope(ctx context.Context, fn func(context.Context) (RollbackResult, error)) (RollbackResult, error) {
	scoped, scope, err := h.tx.BeginScope(ctx, false)
	if err != nil {
		return nil, err
	}
	result, err := fn(scoped)
	if err != nil {
		return nil, errors.Join(err, scope.Rollback())
	}
	if err := scope.Commit(); err != nil {
		return nil, fmt.Errorf("commit rollback: %w", err)
	}
	return result, nil
}
