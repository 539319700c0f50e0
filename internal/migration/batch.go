package migration

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
)

var (
	scriptVersionFormat     = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)(?:-((?:[0-9A-Za-z-]\.?)*))?(?:\+((?:[0-9A-Za-z-]\.?)*))?`)
	scriptDescriptionFormat = regexp.MustCompile(`__(\w+?)\.\w+$`)
)

// Batch is a set of forward migrations, each paired with its reverse script
// when one was supplied, plus the reverse scripts that matched nothing.
// A Batch is immutable.
type Batch struct {
	applicable []Applicable
	leftovers  []*RollbackMigration
}

// EmptyBatch returns a batch without scripts.
func EmptyBatch() *Batch {
	return &Batch{}
}

// NewBatch reconciles applicable with rollbacks. Every forward migration is
// paired with the first reverse script targeting its version and description;
// reverse scripts that target no forward migration become leftovers.
func NewBatch(applicable []Applicable, rollbacks []*RollbackMigration) *Batch {
	reconciled := make([]Applicable, 0, len(applicable))
	for _, m := range applicable {
		reconciled = append(reconciled, pair(m, rollbacks))
	}

	var leftovers []*RollbackMigration
	for _, r := range rollbacks {
		matched := slices.ContainsFunc(applicable, func(m Applicable) bool {
			return r.AppliesTo(m.Version(), m.Description())
		})
		if !matched {
			leftovers = append(leftovers, r)
		}
	}

	return &Batch{applicable: reconciled, leftovers: leftovers}
}

func pair(m Applicable, rollbacks []*RollbackMigration) Applicable {
	i := slices.IndexFunc(rollbacks, func(r *RollbackMigration) bool {
		return r.AppliesTo(m.Version(), m.Description())
	})
	if i < 0 {
		return m
	}

	base, ok := m.(*ApplicableMigration)
	if !ok {
		enabled, isEnabled := m.(*RollbackEnabledApplicableMigration)
		if !isEnabled {
			return m
		}
		base = enabled.ApplicableMigration
	}
	paired, err := base.WithRollback(rollbacks[i])
	if err != nil {
		return m
	}
	return paired
}

// BatchFromScript parses name and reads the script into a single entry batch.
// Names start with V (forward) or R (reverse), carry a semantic version and a
// __description, and end in .sql, e.g. V1.2.0-beta.1__AddUsers.sql.
func BatchFromScript(name string, r io.Reader) (*Batch, error) {
	if r == nil {
		return nil, NewScriptNameError(name, ErrNilReader)
	}

	forward := hasPrefixFold(name, "V")
	if !forward && !hasPrefixFold(name, "R") {
		return nil, NewScriptNameError(name, ErrInvalidScriptPrefix)
	}
	versionMatch := scriptVersionFormat.FindString(name)
	if versionMatch == "" {
		return nil, NewScriptNameError(name, ErrInvalidScriptVersion)
	}
	descriptionMatch := scriptDescriptionFormat.FindStringSubmatch(name)
	if descriptionMatch == nil {
		return nil, NewScriptNameError(name, ErrMissingScriptDescription)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".sql") {
		return nil, NewScriptNameError(name, ErrInvalidScriptExtension)
	}

	version, err := ParseVersion(versionMatch)
	if err != nil {
		return nil, NewScriptNameError(name, fmt.Errorf("%w: %v", ErrInvalidScriptVersion, err))
	}
	description := NewDescription(descriptionMatch[1])

	content, err := ReadScriptContent(r)
	if err != nil {
		return nil, fmt.Errorf("script %q: %w", name, err)
	}

	if forward {
		return &Batch{applicable: []Applicable{NewApplicable(version, description, content)}}, nil
	}
	return &Batch{leftovers: []*RollbackMigration{NewRollback(version, description, content)}}, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Merge returns the union of b and other: both sides' forward migrations and
// leftover reverse scripts are concatenated, duplicates dropped, and the
// result reconciled again.
func (b *Batch) Merge(other *Batch) *Batch {
	if b == nil {
		return other
	}
	if other == nil {
		return b
	}

	applicable := make([]Applicable, 0, len(b.applicable)+len(other.applicable))
	for _, m := range append(slices.Clone(b.applicable), other.applicable...) {
		if !slices.ContainsFunc(applicable, func(existing Applicable) bool { return Equal(existing, m) }) {
			applicable = append(applicable, m)
		}
	}

	rollbacks := make([]*RollbackMigration, 0, len(b.leftovers)+len(other.leftovers))
	for _, r := range append(slices.Clone(b.leftovers), other.leftovers...) {
		if !slices.ContainsFunc(rollbacks, func(existing *RollbackMigration) bool { return Equal(existing, r) }) {
			rollbacks = append(rollbacks, r)
		}
	}

	return NewBatch(applicable, rollbacks)
}

// Applicable returns the forward migrations in batch order.
func (b *Batch) Applicable() []Applicable {
	return slices.Clone(b.applicable)
}

// Leftovers returns the reverse scripts that matched no forward migration.
func (b *Batch) Leftovers() []*RollbackMigration {
	return slices.Clone(b.leftovers)
}

// Len returns the number of forward migrations.
func (b *Batch) Len() int {
	return len(b.applicable)
}

// Ordered returns the forward migrations sorted by ascending version. Equal
// versions keep batch order.
func (b *Batch) Ordered() []Applicable {
	ordered := slices.Clone(b.applicable)
	slices.SortStableFunc(ordered, func(x, y Applicable) int { return CompareByVersion(x, y) })
	return ordered
}

// ApplyTo applies the batch to history in version order. Each result is
// passed to onResult before the next migration runs, and every successful
// result's history becomes the base for the next one. A non-nil error from
// onResult or from the history stops the batch and is returned. ApplyTo
// returns the last history reached.
func (b *Batch) ApplyTo(ctx context.Context, history History, onResult func(ApplyResult) error) (History, error) {
	if len(b.leftovers) > 0 {
		return history, &UnapplicableRollbackScriptsError{Scripts: b.Leftovers()}
	}

	for _, migration := range b.Ordered() {
		result, err := history.Apply(ctx, migration)
		if err != nil {
			return history, err
		}
		if updated, ok := UpdatedHistory(result); ok {
			history = updated
		}
		if onResult != nil {
			if err := onResult(result); err != nil {
				return history, err
			}
		}
	}
	return history, nil
}

// Match finds the forward migration that produced applied, a migration
// reloaded from storage, by version and description. When that migration has
// a reverse script it is attached to applied; the stored checksum and
// execution time are kept either way.
func (b *Batch) Match(applied *AppliedMigration) (Applied, error) {
	if len(b.leftovers) > 0 {
		return nil, fmt.Errorf("match %s: %w", applied, ErrUnreconciledBatch)
	}

	i := slices.IndexFunc(b.applicable, func(m Applicable) bool { return sameTarget(m, applied) })
	if i < 0 {
		return nil, &BatchMismatchError{Batch: b, Migration: applied}
	}

	if rollback := b.applicable[i].Rollback(); rollback != nil {
		return applied.WithRollback(rollback)
	}
	return applied, nil
}
