package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/peregrine/internal/persistence/sqlite"
)

// SQLiteHarness provides a provisioned history store backed by a temporary
// SQLite database file for integration-style tests.
type SQLiteHarness struct {
	Pool  *sqlite.ConnectionPool
	Store *sqlite.HistoryStore
	Clock *Clock
	IDs   *IDGenerator
	Path  string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a temporary database, provisions the history table
// and registers cleanup with tb. The store uses a stepping clock and
// deterministic record identifiers. Extra options are applied after the
// harness defaults.
func NewSQLiteHarness(tb testing.TB, opts ...sqlite.StoreOption) *SQLiteHarness {
	tb.Helper()

	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "peregrine.db")

	pool, err := sqlite.NewConnectionPool(ctx, sqlite.TempFileSQLiteConfig(path))
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}

	clock := NewClock(time.Time{}, time.Second)
	ids := NewIDGenerator("history")
	storeOpts := append([]sqlite.StoreOption{
		sqlite.WithClock(clock.NowFunc()),
		sqlite.WithIDGenerator(ids.NextFunc()),
		sqlite.WithRetry(sqlite.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}),
	}, opts...)

	store, err := sqlite.NewHistoryStore(pool, storeOpts...)
	if err != nil {
		_ = pool.Close()
		tb.Fatalf("failed to create history store: %v", err)
	}
	if err := store.Provision(ctx); err != nil {
		_ = pool.Close()
		tb.Fatalf("failed to provision history table: %v", err)
	}

	harness := &SQLiteHarness{
		Pool:  pool,
		Store: store,
		Clock: clock,
		IDs:   ids,
		Path:  path,
		cleanup: func() {
			_ = pool.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// TableExists reports whether the database holds a table called name.
func (h *SQLiteHarness) TableExists(tb testing.TB, name string) bool {
	tb.Helper()

	var count int
	err := h.Pool.DB().QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		tb.Fatalf("failed to inspect schema: %v", err)
	}
	return count > 0
}
