package migration

// ApplyResult is the outcome of History.Apply. It is one of Skipped,
// Anachronism, Succeeded, SucceededWithRollback or Failed.
type ApplyResult interface {
	// Candidate returns the migration that was offered to the history.
	Candidate() Applicable
	applyResult()
}

// Skipped reports a migration that was already applied.
type Skipped struct {
	Migration Applicable
	Existing  Applied
}

// Anachronism reports a migration whose version does not come after the latest
// applied version.
type Anachronism struct {
	Migration     Applicable
	LatestVersion Version
}

// Succeeded reports a migration that was applied and recorded.
type Succeeded struct {
	Migration Applicable
	Applied   Applied
	History   History
}

// SucceededWithRollback reports a migration that replaced the prerelease
// migration it rolled back.
type SucceededWithRollback struct {
	Migration  Applicable
	Applied    Applied
	RolledBack Applied
	History    History
}

// Failed reports a migration whose execution raised an error inside a
// transaction boundary.
type Failed struct {
	Migration Applicable
	Err       error
}

func (r Skipped) Candidate() Applicable               { return r.Migration }
func (r Anachronism) Candidate() Applicable           { return r.Migration }
func (r Succeeded) Candidate() Applicable             { return r.Migration }
func (r SucceededWithRollback) Candidate() Applicable { return r.Migration }
func (r Failed) Candidate() Applicable                { return r.Migration }

func (Skipped) applyResult()               {}
func (Anachronism) applyResult()           {}
func (Succeeded) applyResult()             {}
func (SucceededWithRollback) applyResult() {}
func (Failed) applyResult()                {}

// UpdatedHistory returns the history produced by a successful result.
func UpdatedHistory(result ApplyResult) (History, bool) {
	switch r := result.(type) {
	case Succeeded:
		return r.History, true
	case SucceededWithRollback:
		return r.History, true
	}
	return nil, false
}

// NoRollbackReason explains why a rollback step did not happen.
type NoRollbackReason string

const (
	ReasonHistoryEmpty       NoRollbackReason = "history empty"
	ReasonNoRollbackScript   NoRollbackReason = "no rollback script"
	ReasonPreconditionFailed NoRollbackReason = "precondition failed"
)

// RollbackResult is the outcome of a rollback. It is one of NoRollback,
// RollbackSingle or RollbackByStrategy.
type RollbackResult interface {
	rollbackResult()
}

// NoRollback reports that nothing was rolled back.
type NoRollback struct {
	Reason NoRollbackReason
}

// RollbackSingle reports that the latest migration was rolled back.
type RollbackSingle struct {
	RolledBack Applied
	History    History
}

// RollbackByStrategy reports the history left by a rollback strategy.
type RollbackByStrategy struct {
	History History
}

func (NoRollback) rollbackResult()         {}
func (RollbackSingle) rollbackResult()     {}
func (RollbackByStrategy) rollbackResult() {}
