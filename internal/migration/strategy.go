package migration

import "context"

// RollbackStrategy drives repeated single step rollbacks against a history
// and returns the history it leaves behind.
type RollbackStrategy interface {
	Rollback(ctx context.Context, history History) (History, error)
}

// Ordinal rolls back at most count migrations. onResult, when not nil,
// receives every single step result.
func Ordinal(count int, onResult func(RollbackResult)) RollbackStrategy {
	return &ordinalStrategy{count: count, onResult: onResult}
}

// TargetVersion rolls back every migration newer than target. It fails with
// an UnreachableRollbackTargetError when no rollback step ever evaluated a
// migration at exactly target.
func TargetVersion(target Version, onResult func(RollbackResult)) RollbackStrategy {
	return &targetVersionStrategy{target: target, onResult: onResult}
}

// Terminal rolls back until the history is empty or a migration without a
// reverse script is reached.
func Terminal(onResult func(RollbackResult)) RollbackStrategy {
	return &terminalStrategy{onResult: onResult}
}

type ordinalStrategy struct {
	count    int
	onResult func(RollbackResult)
}

func (s *ordinalStrategy) Rollback(ctx context.Context, history History) (History, error) {
	iter := 0
	for {
		result, err := history.Rollback(ctx, func(Applied) bool {
			iter++
			return iter <= s.count
		})
		if err != nil {
			return nil, err
		}
		report(s.onResult, result)
		if single, ok := result.(RollbackSingle); ok {
			history = single.History
		}
		if _, stop := result.(NoRollback); stop || iter >= s.count {
			return history, nil
		}
	}
}

type targetVersionStrategy struct {
	target   Version
	onResult func(RollbackResult)
}

func (s *targetVersionStrategy) Rollback(ctx context.Context, history History) (History, error) {
	reached := false
	for {
		result, err := history.Rollback(ctx, func(m Applied) bool {
			order := s.target.Compare(m.Version())
			if order == 0 {
				reached = true
			}
			return order < 0
		})
		if err != nil {
			return nil, err
		}
		report(s.onResult, result)
		if single, ok := result.(RollbackSingle); ok {
			history = single.History
		}
		if _, stop := result.(NoRollback); stop {
			break
		}
	}

	if !reached {
		return nil, &UnreachableRollbackTargetError{Target: s.target}
	}
	return history, nil
}

type terminalStrategy struct {
	onResult func(RollbackResult)
}

func (s *terminalStrategy) Rollback(ctx context.Context, history History) (History, error) {
	for {
		result, err := history.Rollback(ctx, nil)
		if err != nil {
			return nil, err
		}
		report(s.onResult, result)
		single, ok := result.(RollbackSingle)
		if !ok {
			return history, nil
		}
		history = single.History
	}
}

func report(onResult func(RollbackResult), result RollbackResult) {
	if onResult != nil {
		onResult(result)
	}
}
