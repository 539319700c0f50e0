package migration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var errScriptFailed = errors.New("script failed")

// recordingContext is an ExecutionContext that remembers every call. Scripts
// containing failOn are reported as failures.
type recordingContext struct {
	executed []string
	written  []HistoryRecord
	removed  []HistoryRecord
	failOn   string
}

func (c *recordingContext) PrepareMigration(script string) Operation {
	return func(context.Context) (int64, error) {
		if c.failOn != "" && strings.Contains(script, c.failOn) {
			return 0, errScriptFailed
		}
		c.executed = append(c.executed, script)
		return 1, nil
	}
}

func (c *recordingContext) WriteHistoryRecord(_ context.Context, record HistoryRecord) error {
	c.written = append(c.written, record)
	return nil
}

func (c *recordingContext) RemoveHistoryRecord(_ context.Context, record HistoryRecord) error {
	c.removed = append(c.removed, record)
	return nil
}

type scopeEvent string

const (
	eventBeginNew  scopeEvent = "begin-new"
	eventBeginJoin scopeEvent = "begin-join"
	eventCommit    scopeEvent = "commit"
	eventRollback  scopeEvent = "rollback"
)

// recordingTransactor logs scope lifecycles.
type recordingTransactor struct {
	events   []scopeEvent
	beginErr error
}

type recordingScope struct {
	tx *recordingTransactor
}

func (s recordingScope) Commit() error {
	s.tx.events = append(s.tx.events, eventCommit)
	return nil
}

func (s recordingScope) Rollback() error {
	s.tx.events = append(s.tx.events, eventRollback)
	return nil
}

func (t *recordingTransactor) BeginScope(ctx context.Context, requiresNew bool) (context.Context, Scope, error) {
	if t.beginErr != nil {
		return nil, nil, t.beginErr
	}
	if requiresNew {
		t.events = append(t.events, eventBeginNew)
	} else {
		t.events = append(t.events, eventBeginJoin)
	}
	return ctx, recordingScope{tx: t}, nil
}

func fixedClock() func() time.Time {
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newTestHistory(ec ExecutionContext, applied ...Applied) *MigrationHistory {
	return NewHistoryWithOptions(ec, applied, []HistoryOption{WithClock(fixedClock())})
}

func forward(t *testing.T, version, description, script string) *ApplicableMigration {
	t.Helper()
	return NewApplicable(MustParseVersion(version), NewDescription(description), NewScriptContent(script))
}

func reverse(t *testing.T, version, description, script string) *RollbackMigration {
	t.Helper()
	return NewRollback(MustParseVersion(version), NewDescription(description), NewScriptContent(script))
}

func reversibleForward(t *testing.T, version, description, script, undo string) *RollbackEnabledApplicableMigration {
	t.Helper()
	m, err := forward(t, version, description, script).WithRollback(reverse(t, version, description, undo))
	if err != nil {
		t.Fatalf("pair %s: %v", version, err)
	}
	return m
}

func applied(t *testing.T, version, description, script string) *AppliedMigration {
	t.Helper()
	return NewApplied(MustParseVersion(version), NewDescription(description), NewScriptContent(script).Checksum(), nil)
}

func reversibleApplied(t *testing.T, version, description, script, undo string) *RollbackEnabledAppliedMigration {
	t.Helper()
	m, err := applied(t, version, description, script).WithRollback(reverse(t, version, description, undo))
	if err != nil {
		t.Fatalf("pair %s: %v", version, err)
	}
	return m
}

func versions(h History) []string {
	var out []string
	for _, m := range h.Migrations() {
		out = append(out, m.Version().String())
	}
	return out
}
