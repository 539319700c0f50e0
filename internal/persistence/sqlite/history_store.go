package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/example/peregrine/internal/migration"
)

// DefaultHistoryTable is the table that records applied migrations.
const DefaultHistoryTable = "migration_history"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// HistoryStore runs migration scripts against a SQLite database and keeps
// their history records in a table of the same database. It is the
// execution context, history loader and transactor of the migration core.
type HistoryStore struct {
	pool  *ConnectionPool
	table string
	retry *RetryHelper
	now   func() time.Time
	newID func() string
}

var (
	_ migration.ExecutionContext = (*HistoryStore)(nil)
	_ migration.HistoryLoader    = (*HistoryStore)(nil)
	_ migration.Transactor       = (*HistoryStore)(nil)
)

// StoreOption configures a HistoryStore.
type StoreOption func(*HistoryStore)

// WithTable overrides the history table name.
func WithTable(name string) StoreOption {
	return func(s *HistoryStore) {
		s.table = name
	}
}

// WithClock sets the time source used for record timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *HistoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the generator of record identifiers.
func WithIDGenerator(next func() string) StoreOption {
	return func(s *HistoryStore) {
		if next != nil {
			s.newID = next
		}
	}
}

// WithRetry sets the retry policy for transient lock errors.
func WithRetry(config RetryConfig) StoreOption {
	return func(s *HistoryStore) {
		s.retry = NewRetryHelper(config)
	}
}

// NewHistoryStore creates a store over pool.
func NewHistoryStore(pool *ConnectionPool, opts ...StoreOption) (*HistoryStore, error) {
	s := &HistoryStore{
		pool:  pool,
		table: DefaultHistoryTable,
		retry: NewRetryHelper(DefaultRetryConfig()),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !tableNamePattern.MatchString(s.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, s.table)
	}
	return s, nil
}

// Table returns the history table name.
func (s *HistoryStore) Table() string {
	return s.table
}

// Provision creates the history table and its index when absent, in one
// transaction. A transaction carried by ctx is joined.
func (s *HistoryStore) Provision(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			version TEXT NOT NULL,
			description TEXT NOT NULL,
			checksum BLOB NOT NULL,
			execution_time INTEGER NULL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_target ON %s (version, description)`, s.table, s.table),
	}

	var failed string
	err := s.retry.WithRetry(ctx, func() error {
		return s.pool.WithTransaction(ctx, func(ctx context.Context) error {
			for _, stmt := range statements {
				if _, err := s.pool.conn(ctx).ExecContext(ctx, stmt); err != nil {
					failed = stmt
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return NewDatabaseError("provision history table", failed, err)
	}
	return nil
}

// PrepareMigration returns an operation that executes script statement by
// statement, on the transaction carried by the operation's context when
// there is one. It reports the summed affected row count.
func (s *HistoryStore) PrepareMigration(script string) migration.Operation {
	statements := SplitStatements(script)
	return func(ctx context.Context) (int64, error) {
		var affected int64
		for i, stmt := range statements {
			var result sql.Result
			err := s.retry.WithRetry(ctx, func() error {
				var err error
				result, err = s.pool.conn(ctx).ExecContext(ctx, stmt)
				return err
			})
			if err != nil {
				return affected, NewDatabaseError(fmt.Sprintf("execute statement %d", i+1), stmt, err)
			}
			if n, err := result.RowsAffected(); err == nil {
				affected += n
			}
		}
		return affected, nil
	}
}

// WriteHistoryRecord inserts record under a fresh identifier. A zero
// timestamp is replaced by the store's clock.
func (s *HistoryStore) WriteHistoryRecord(ctx context.Context, record migration.HistoryRecord) error {
	timestamp := record.Timestamp
	if timestamp.IsZero() {
		timestamp = s.now()
	}

	var executionTime sql.NullInt64
	if record.ExecutionTime != nil {
		executionTime = sql.NullInt64{Int64: int64(*record.ExecutionTime), Valid: true}
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, timestamp, version, description, checksum, execution_time)
		VALUES (?, ?, ?, ?, ?, ?)`, s.table)
	err := s.retry.WithRetry(ctx, func() error {
		_, err := s.pool.conn(ctx).ExecContext(ctx, query,
			s.newID(), timestamp.UnixNano(), record.Version, record.Description, record.Checksum, executionTime)
		return err
	})
	if err != nil {
		return NewDatabaseError("write history record", query, err)
	}
	return nil
}

// RemoveHistoryRecord deletes the records matching the version and
// description of record.
func (s *HistoryStore) RemoveHistoryRecord(ctx context.Context, record migration.HistoryRecord) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE version = ? AND description = ?`, s.table)
	err := s.retry.WithRetry(ctx, func() error {
		_, err := s.pool.conn(ctx).ExecContext(ctx, query, record.Version, record.Description)
		return err
	})
	if err != nil {
		return NewDatabaseError("remove history record", query, err)
	}
	return nil
}

// Records returns the stored history records, oldest first.
func (s *HistoryStore) Records(ctx context.Context) ([]migration.HistoryRecord, error) {
	query := fmt.Sprintf(`SELECT timestamp, version, description, checksum, execution_time
		FROM %s ORDER BY timestamp ASC, rowid ASC`, s.table)

	rows, err := s.pool.conn(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, NewDatabaseError("load history records", query, NewErrorMapper().MapError(err))
	}
	defer rows.Close()

	var records []migration.HistoryRecord
	for rows.Next() {
		var (
			timestamp     int64
			record        migration.HistoryRecord
			executionTime sql.NullInt64
		)
		if err := rows.Scan(&timestamp, &record.Version, &record.Description, &record.Checksum, &executionTime); err != nil {
			return nil, NewDatabaseError("scan history record", query, err)
		}
		record.Timestamp = time.Unix(0, timestamp).UTC()
		if executionTime.Valid {
			d := time.Duration(executionTime.Int64)
			record.ExecutionTime = &d
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("iterate history records", query, err)
	}
	return records, nil
}

// LoadHistory rebuilds the applied migrations from the stored records,
// matching each against batch, and returns them as a transactional history
// backed by this store.
func (s *HistoryStore) LoadHistory(ctx context.Context, batch *migration.Batch) (migration.History, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}

	applied := make([]migration.Applied, 0, len(records))
	for _, record := range records {
		stored, err := migration.AppliedFromRecord(record)
		if err != nil {
			return nil, fmt.Errorf("history record %s - %s: %w", record.Version, record.Description, err)
		}
		matched, err := batch.Match(stored)
		if err != nil {
			return nil, err
		}
		applied = append(applied, matched)
	}

	inner := migration.NewHistoryWithOptions(s, applied, []migration.HistoryOption{migration.WithClock(s.now)})
	return migration.NewTransactionalHistory(inner, s), nil
}

// BeginScope opens a transaction scope. Without requiresNew a transaction
// already carried by ctx is joined; the joined scope leaves commit and
// rollback to the owner.
func (s *HistoryStore) BeginScope(ctx context.Context, requiresNew bool) (context.Context, migration.Scope, error) {
	if !requiresNew {
		if _, ok := TxFromContext(ctx); ok {
			return ctx, joinedScope{}, nil
		}
	}

	var tx *sql.Tx
	err := s.retry.WithRetry(ctx, func() error {
		var err error
		tx, err = s.pool.db.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		return ctx, nil, NewDatabaseError("begin transaction", "", err)
	}
	return contextWithTx(ctx, tx), txScope{tx: tx}, nil
}

type txScope struct {
	tx *sql.Tx
}

func (s txScope) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return NewDatabaseError("commit transaction", "", err)
	}
	return nil
}

func (s txScope) Rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return NewDatabaseError("rollback transaction", "", err)
	}
	return nil
}

type joinedScope struct{}

func (joinedScope) Commit() error   { return nil }
func (joinedScope) Rollback() error { return nil }
