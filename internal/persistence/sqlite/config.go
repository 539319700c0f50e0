package sqlite

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const memoryDSN = ":memory:"

// SQLiteConfig holds SQLite-specific database configuration
type SQLiteConfig struct {
	// DSN is the database file path or ":memory:"
	DSN string

	// BusyTimeout sets how long to wait for database locks
	BusyTimeout time.Duration

	// EnableForeignKeys enables foreign key constraint checking
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous mode (FULL, NORMAL, OFF)
	Synchronous string

	// CacheSize sets the page cache size in KB (negative for pages)
	CacheSize int

	// MaxOpenConns sets the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns sets the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum lifetime of connections
	ConnMaxLifetime time.Duration
}

var (
	validJournalModes = map[string]bool{
		"DELETE":   true,
		"TRUNCATE": true,
		"PERSIST":  true,
		"MEMORY":   true,
		"WAL":      true,
		"OFF":      true,
	}
	validSyncModes = map[string]bool{
		"OFF":    true,
		"NORMAL": true,
		"FULL":   true,
		"EXTRA":  true,
	}
)

// Validate checks the configuration before a connection is opened.
func (c SQLiteConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: DSN cannot be empty", ErrInvalidConfig)
	}
	if strings.Contains(c.DSN, "?") {
		return fmt.Errorf("%w: DSN must not carry query parameters", ErrInvalidConfig)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%w: BusyTimeout cannot be negative", ErrInvalidConfig)
	}
	if c.JournalMode != "" && !validJournalModes[strings.ToUpper(c.JournalMode)] {
		return fmt.Errorf("%w: invalid journal mode: %s", ErrInvalidConfig, c.JournalMode)
	}
	if c.Synchronous != "" && !validSyncModes[strings.ToUpper(c.Synchronous)] {
		return fmt.Errorf("%w: invalid synchronous mode: %s", ErrInvalidConfig, c.Synchronous)
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("%w: MaxOpenConns cannot be negative", ErrInvalidConfig)
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("%w: MaxIdleConns cannot be negative", ErrInvalidConfig)
	}
	if c.ConnMaxLifetime < 0 {
		return fmt.Errorf("%w: ConnMaxLifetime cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// InMemory reports whether the configuration targets a private in-memory
// database.
func (c SQLiteConfig) InMemory() bool {
	return c.DSN == memoryDSN
}

// pragmas lists the PRAGMA statements every pooled connection runs on open.
func (c SQLiteConfig) pragmas() []string {
	pragmas := []string{fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds())}
	if c.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("journal_mode(%s)", strings.ToUpper(c.JournalMode)))
	}
	if c.Synchronous != "" {
		pragmas = append(pragmas, fmt.Sprintf("synchronous(%s)", strings.ToUpper(c.Synchronous)))
	}
	if c.EnableForeignKeys {
		pragmas = append(pragmas, "foreign_keys(1)")
	}
	if c.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("cache_size(%d)", c.CacheSize))
	}
	return pragmas
}

// driverDSN appends the PRAGMAs as _pragma parameters so that the driver
// applies them to every new connection, not only the first one.
func (c SQLiteConfig) driverDSN() string {
	params := url.Values{}
	for _, pragma := range c.pragmas() {
		params.Add("_pragma", pragma)
	}
	return c.DSN + "?" + params.Encode()
}

// createDatabaseFile creates the parent directory of a file database.
func (c SQLiteConfig) createDatabaseFile() error {
	if c.InMemory() {
		return nil
	}

	dbDir := filepath.Dir(c.DSN)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}
	return nil
}

// DefaultSQLiteConfig returns a SQLite configuration with sensible defaults
func DefaultSQLiteConfig(databasePath string) SQLiteConfig {
	return SQLiteConfig{
		DSN:               databasePath,
		BusyTimeout:       30 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "NORMAL",
		CacheSize:         -2000,
		MaxOpenConns:      4,
		MaxIdleConns:      2,
		ConnMaxLifetime:   5 * time.Minute,
	}
}

// InMemorySQLiteConfig returns a configuration for a private in-memory
// database. The pool is limited to one connection, since every connection
// would otherwise see its own empty database.
func InMemorySQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		DSN:               memoryDSN,
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "MEMORY",
		Synchronous:       "OFF",
		CacheSize:         -1000,
		MaxOpenConns:      1,
		MaxIdleConns:      1,
	}
}

// TempFileSQLiteConfig returns a configuration for a throwaway file database
// used by tests.
func TempFileSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		DSN:               path,
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "OFF",
		CacheSize:         -1000,
		MaxOpenConns:      2,
		MaxIdleConns:      2,
		ConnMaxLifetime:   time.Minute,
	}
}
