package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/example/peregrine/internal/config"
	"github.com/example/peregrine/internal/logging"
	"github.com/example/peregrine/internal/migrator"
	"github.com/example/peregrine/internal/persistence/sqlite"
	"github.com/example/peregrine/internal/scripts"
	"github.com/example/peregrine/internal/telemetry"
)

// app holds the collaborators shared by every subcommand.
type app struct {
	logger   *slog.Logger
	pool     *sqlite.ConnectionPool
	migrator *migrator.Migrator
	shutdown telemetry.ShutdownFunc
}

// loadEnvironment reads envFile when given, or an optional .env in the
// working directory. Variables already set in the process win.
func loadEnvironment(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func databaseConfig(cfg config.Config) sqlite.SQLiteConfig {
	if cfg.Database == ":memory:" {
		return sqlite.InMemorySQLiteConfig()
	}
	dbConfig := sqlite.DefaultSQLiteConfig(cfg.Database)
	dbConfig.BusyTimeout = cfg.BusyTimeout
	return dbConfig
}

func newApp(ctx context.Context, logOutput io.Writer, envFile string) (*app, error) {
	if err := loadEnvironment(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.NewJSONLogger(logOutput, level)

	shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	pool, err := sqlite.NewConnectionPool(ctx, databaseConfig(cfg))
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	store, err := sqlite.NewHistoryStore(pool, sqlite.WithTable(cfg.HistoryTable))
	if err != nil {
		_ = pool.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	source := scripts.NewDirSource(cfg.ScriptsDir,
		scripts.SkipUnrecognized(cfg.SkipUnrecognized),
		scripts.WithLogger(logger),
	)

	logger.DebugContext(ctx, "configuration loaded",
		"database", cfg.Database,
		"scripts_dir", cfg.ScriptsDir,
		"history_table", cfg.HistoryTable,
		"telemetry", cfg.Telemetry.Enabled,
	)

	return &app{
		logger:   logger,
		pool:     pool,
		migrator: migrator.New(source, store, migrator.WithLogger(logger)),
		shutdown: shutdown,
	}, nil
}

func (a *app) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	return errors.Join(a.pool.Close(), a.shutdown(ctx))
}
