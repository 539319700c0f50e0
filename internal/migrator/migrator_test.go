package migrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/example/peregrine/internal/migration"
	"github.com/example/peregrine/internal/persistence/sqlite"
	"github.com/example/peregrine/internal/scripts"
	"github.com/example/peregrine/internal/testfixtures"
)

func sourceOf(set testfixtures.ScriptSet) scripts.Source {
	return scripts.NewFSSource(set.FS("db"), "db")
}

func newMigrator(t *testing.T, h *testfixtures.SQLiteHarness, set testfixtures.ScriptSet, opts ...Option) *Migrator {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))}, opts...)
	return New(sourceOf(set), h.Store, opts...)
}

func appliedVersions(applied []migration.Applied) []string {
	out := make([]string, 0, len(applied))
	for _, m := range applied {
		out = append(out, m.Version().String())
	}
	return out
}

func storedVersions(t *testing.T, h *testfixtures.SQLiteHarness) []string {
	t.Helper()
	records, err := h.Store.Records(context.Background())
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Version)
	}
	return out
}

func TestMigrator_Migrate(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	set := testfixtures.NewScriptSet("1.0.0", "1.1.0", "2.0.0")
	m := newMigrator(t, h, set)

	report, err := m.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if report.Applied != 3 || report.Skipped != 0 || report.Replaced != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Current.String() != "2.0.0" {
		t.Errorf("expected current version 2.0.0, got %s", report.Current)
	}
	for _, fixture := range set {
		if !h.TableExists(t, testfixtures.TableFor(fixture.Version)) {
			t.Errorf("expected table for %s", fixture.Version)
		}
	}

	t.Run("second run skips everything", func(t *testing.T) {
		report, err := m.Migrate(ctx)
		if err != nil {
			t.Fatalf("Migrate failed: %v", err)
		}
		if report.Applied != 0 || report.Skipped != 3 {
			t.Fatalf("unexpected report: %+v", report)
		}
		if diff := cmp.Diff([]string{"1.0.0", "1.1.0", "2.0.0"}, storedVersions(t, h)); diff != "" {
			t.Errorf("versions mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestMigrator_MigrateStopsOnAnachronism(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	if _, err := newMigrator(t, h, testfixtures.NewScriptSet("1.0.0", "2.0.0")).Migrate(ctx); err != nil {
		t.Fatalf("initial Migrate failed: %v", err)
	}

	late := testfixtures.NewScriptSet("1.0.0", "1.5.0", "2.0.0", "3.0.0")
	report, err := newMigrator(t, h, late).Migrate(ctx)
	if !errors.Is(err, ErrVersionAnachronism) {
		t.Fatalf("expected ErrVersionAnachronism, got %v", err)
	}
	var mErr *Error
	if !errors.As(err, &mErr) || mErr.Reason != ReasonVersionAnachronism {
		t.Fatalf("expected *Error with anachronism reason, got %#v", err)
	}
	if !strings.Contains(mErr.Migration, "1.5.0") {
		t.Errorf("expected the late migration to be named, got %q", mErr.Migration)
	}
	if report.Skipped != 1 || report.Applied != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if diff := cmp.Diff([]string{"1.0.0", "2.0.0"}, storedVersions(t, h)); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}
	if h.TableExists(t, testfixtures.TableFor("3.0.0")) {
		t.Error("expected the run to stop before 3.0.0")
	}
}

func TestMigrator_MigrateStopsOnFailure(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	set := testfixtures.NewScriptSet("1.0.0").
		With(testfixtures.NewScriptFixture("1.1.0", testfixtures.WithForward("CREATE TABLE half (id INTEGER);\nSELECT * FROM nowhere;"))).
		With(testfixtures.NewScriptFixture("1.2.0"))

	report, err := newMigrator(t, h, set).Migrate(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	var dbErr *sqlite.DatabaseError
	if !errors.As(err, &dbErr) {
		t.Errorf("expected the database error as cause, got %v", err)
	}
	if report.Applied != 1 || report.Current.String() != "1.0.0" {
		t.Errorf("unexpected report: %+v", report)
	}
	if h.TableExists(t, "half") {
		t.Error("expected the failed migration to roll back")
	}
	if diff := cmp.Diff([]string{"1.0.0"}, storedVersions(t, h)); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrator_MigrateReplacesPrerelease(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	if _, err := newMigrator(t, h, testfixtures.NewScriptSet("1.0.0", "1.1.0-rc.1")).Migrate(ctx); err != nil {
		t.Fatalf("initial Migrate failed: %v", err)
	}

	report, err := newMigrator(t, h, testfixtures.NewScriptSet("1.0.0", "1.1.0-rc.1", "1.1.0")).Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if report.Replaced != 1 || report.Skipped != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if diff := cmp.Diff([]string{"1.0.0", "1.1.0"}, storedVersions(t, h)); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrator_Rollback(t *testing.T) {
	tests := []struct {
		name      string
		strategy  StrategyFunc
		remaining []string
	}{
		{name: "count", strategy: RollbackCount(2), remaining: []string{"1.0.0", "1.1.0"}},
		{name: "target", strategy: RollbackTo(migration.MustParseVersion("1.1.0")), remaining: []string{"1.0.0", "1.1.0"}},
		{name: "all", strategy: RollbackAll(), remaining: []string{}},
		{name: "none", strategy: RollbackCount(0), remaining: []string{"1.0.0", "1.1.0", "1.2.0", "2.0.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testfixtures.NewSQLiteHarness(t)
			ctx := context.Background()
			m := newMigrator(t, h, testfixtures.NewScriptSet("1.0.0", "1.1.0", "1.2.0", "2.0.0"))
			if _, err := m.Migrate(ctx); err != nil {
				t.Fatalf("Migrate failed: %v", err)
			}

			remaining, err := m.Rollback(ctx, tt.strategy)
			if err != nil {
				t.Fatalf("Rollback failed: %v", err)
			}
			if diff := cmp.Diff(tt.remaining, appliedVersions(remaining)); diff != "" {
				t.Errorf("remaining mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.remaining, storedVersions(t, h)); diff != "" {
				t.Errorf("stored versions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMigrator_RollbackStopsAtIrreversibleMigration(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	set := testfixtures.NewScriptSet("1.0.0").
		With(testfixtures.NewScriptFixture("1.1.0", testfixtures.WithoutReverse())).
		With(testfixtures.NewScriptFixture("1.2.0"))
	m := newMigrator(t, h, set)
	if _, err := m.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	remaining, err := m.Rollback(ctx, RollbackAll())
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if diff := cmp.Diff([]string{"1.0.0", "1.1.0"}, appliedVersions(remaining)); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}

	_, err = m.Rollback(ctx, RollbackTo(migration.MustParseVersion("1.0.0")))
	if !errors.Is(err, migration.ErrUnreachableRollbackTarget) {
		t.Fatalf("expected ErrUnreachableRollbackTarget, got %v", err)
	}
	if diff := cmp.Diff([]string{"1.0.0", "1.1.0"}, storedVersions(t, h)); diff != "" {
		t.Errorf("stored versions mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrator_PlanDoesNotTouchTheDatabase(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	if _, err := newMigrator(t, h, testfixtures.NewScriptSet("1.0.0", "1.1.0-beta")).Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	m := newMigrator(t, h, testfixtures.NewScriptSet("0.9.0", "1.0.0", "1.1.0-beta", "1.1.0", "1.2.0"))
	steps, err := m.Plan(ctx)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []PlanStep{
		{Version: "0.9.0", Description: "Create t 0 9 0", Action: ActionAnachronism},
		{Version: "1.0.0", Description: "Create t 1 0 0", Action: ActionSkip},
		{Version: "1.1.0-beta", Description: "Create t 1 1 0 beta", Action: ActionSkip},
		{Version: "1.1.0", Description: "Create t 1 1 0", Action: ActionReplace, Replaces: "1.1.0-beta"},
		{Version: "1.2.0", Description: "Create t 1 2 0", Action: ActionApply},
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"1.0.0", "1.1.0-beta"}, storedVersions(t, h)); diff != "" {
		t.Errorf("stored versions mismatch (-want +got):\n%s", diff)
	}
	if h.TableExists(t, testfixtures.TableFor("1.2.0")) || !h.TableExists(t, testfixtures.TableFor("1.1.0-beta")) {
		t.Error("expected the plan to leave the schema untouched")
	}
}

func TestMigrator_PlanReportsPermanentPrerelease(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()
	set := testfixtures.NewScriptSet("1.0.0").
		With(testfixtures.NewScriptFixture("1.1.0-rc.1", testfixtures.WithoutReverse())).
		With(testfixtures.NewScriptFixture("1.2.0"))
	m := newMigrator(t, h, set)

	steps, err := m.Plan(ctx)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	want := []PlanStep{
		{Version: "1.0.0", Description: "Create t 1 0 0", Action: ActionApply},
		{Version: "1.1.0-rc.1", Description: "Create t 1 1 0 rc 1", Action: ActionPermanentPrerelease},
		{Version: "1.2.0", Description: "Create t 1 2 0", Action: ActionApply},
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}

	if _, err := m.Migrate(ctx); !errors.Is(err, migration.ErrPermanentPrerelease) {
		t.Fatalf("expected Migrate to refuse the prerelease, got %v", err)
	}
}

func TestMigrator_Status(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	ctx := context.Background()

	empty, err := newMigrator(t, h, testfixtures.NewScriptSet("1.0.0")).Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !empty.Current.IsZero() || len(empty.Applied) != 0 || len(empty.Pending) != 1 {
		t.Fatalf("unexpected status for empty target: %+v", empty)
	}

	if _, err := newMigrator(t, h, testfixtures.NewScriptSet("1.0.0", "1.1.0")).Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	status, err := newMigrator(t, h, testfixtures.NewScriptSet("2.0.0", "1.0.0", "1.1.0", "1.10.0")).Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Current.String() != "1.1.0" {
		t.Errorf("expected current version 1.1.0, got %s", status.Current)
	}
	if len(status.Applied) != 2 {
		t.Errorf("expected 2 applied records, got %d", len(status.Applied))
	}
	pending := make([]string, 0, len(status.Pending))
	for _, p := range status.Pending {
		pending = append(pending, p.Version().String())
	}
	if diff := cmp.Diff([]string{"1.10.0", "2.0.0"}, pending); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrator_LogsEveryOutcome(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	m := New(sourceOf(testfixtures.NewScriptSet("1.0.0", "1.1.0")), h.Store, WithLogger(logger))
	if _, err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	var messages []string
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("failed to decode %q: %v", line, err)
		}
		if entry["component"] != "migrator" || entry["operation"] != "Migrate" {
			t.Errorf("expected component and operation attributes, got %v", entry)
		}
		messages = append(messages, fmt.Sprint(entry["msg"]))
	}
	want := []string{"migration applied", "migration applied", "migration completed"}
	if diff := cmp.Diff(want, messages); diff != "" {
		t.Errorf("log messages mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrator_RecordsSpans(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ctx := context.Background()
	m := newMigrator(t, h, testfixtures.NewScriptSet("1.0.0"), WithTracer(provider.Tracer(tracerName)))
	if _, err := m.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if _, err := m.Rollback(ctx, RollbackTo(migration.MustParseVersion("9.9.9"))); err == nil {
		t.Fatal("expected unreachable target error")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "migrator.Migrate" || spans[0].Status().Code == codes.Error {
		t.Errorf("unexpected migrate span: %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != "migrator.Rollback" || spans[1].Status().Code != codes.Error {
		t.Errorf("unexpected rollback span: %s %v", spans[1].Name(), spans[1].Status())
	}
}

type failingStore struct {
	provisionErr error
}

func (s failingStore) Provision(context.Context) error { return s.provisionErr }
func (s failingStore) Records(context.Context) ([]migration.HistoryRecord, error) {
	return nil, nil
}
func (s failingStore) LoadHistory(ctx context.Context, batch *migration.Batch) (migration.History, error) {
	return migration.NullContext{}.LoadHistory(ctx, batch)
}

func TestMigrator_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("disk full")
	m := New(sourceOf(testfixtures.NewScriptSet("1.0.0")), failingStore{provisionErr: boom})

	if _, err := m.Migrate(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Migrate: expected %v, got %v", boom, err)
	}
	if _, err := m.Rollback(context.Background(), RollbackAll()); !errors.Is(err, boom) {
		t.Errorf("Rollback: expected %v, got %v", boom, err)
	}
	if _, err := m.Plan(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Plan: expected %v, got %v", boom, err)
	}
	if _, err := m.Status(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Status: expected %v, got %v", boom, err)
	}
}

func TestMigrator_RejectsBadScripts(t *testing.T) {
	set := testfixtures.NewScriptSet("1.0.0").
		With(testfixtures.NewScriptFixture("1.1.0", testfixtures.WithDescription("")))
	m := New(sourceOf(set), failingStore{})

	_, err := m.Migrate(context.Background())
	if ErrorKind(err) != "script_name" {
		t.Fatalf("expected script_name error, got %q (%v)", ErrorKind(err), err)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: context.Canceled, want: "cancelled"},
		{err: &Error{Reason: ReasonVersionAnachronism}, want: "anachronism"},
		{err: &Error{Reason: ReasonApplicableMigrationFailed, Err: errors.New("x")}, want: "migration_failed"},
		{err: &migration.PermanentPrereleaseError{}, want: "permanent_prerelease"},
		{err: &migration.UnreachableRollbackTargetError{}, want: "unreachable_target"},
		{err: fmt.Errorf("exec: %w", sqlite.ErrDatabaseLocked), want: "database_locked"},
		{err: scripts.NewScanError("x.sql", "list", errors.New("boom")), want: "scan"},
		{err: errors.New("boom"), want: "unexpected"},
	}

	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
