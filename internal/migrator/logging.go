package migrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/peregrine/internal/logging"
	"github.com/example/peregrine/internal/migration"
	"github.com/example/peregrine/internal/persistence/sqlite"
	"github.com/example/peregrine/internal/scripts"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func operationLogger(ctx context.Context, base *slog.Logger, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx, base)

	pairs := []any{"component", "migrator"}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps migration errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrVersionAnachronism):
		return "anachronism"
	case errors.Is(err, ErrMigrationFailed):
		return "migration_failed"
	case errors.Is(err, migration.ErrPermanentPrerelease):
		return "permanent_prerelease"
	case errors.Is(err, migration.ErrBatchMismatch):
		return "batch_mismatch"
	case errors.Is(err, migration.ErrUnapplicableRollbackScripts), errors.Is(err, migration.ErrUnreconciledBatch):
		return "unreconciled_batch"
	case errors.Is(err, migration.ErrUnreachableRollbackTarget):
		return "unreachable_target"
	case errors.Is(err, sqlite.ErrDatabaseLocked):
		return "database_locked"
	}

	var nameErr *migration.ScriptNameError
	if errors.As(err, &nameErr) {
		return "script_name"
	}
	var scanErr *scripts.ScanError
	if errors.As(err, &scanErr) {
		return "scan"
	}

	return "unexpected"
}
