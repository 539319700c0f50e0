// Package scripts lists migration scripts from a file system and turns them
// into a reconciled migration batch.
//
// Forward scripts are named V{version}__{Description}.sql and reverse scripts
// R{version}__{Description}.sql, for example V1.2.0__Add_Users.sql and
// R1.2.0__Add_Users.sql.
package scripts

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/example/peregrine/internal/migration"
)

var scriptNamePattern = regexp.MustCompile(`(?i)^[VR]\d+\.\d+\.\d+(?:-[^_]+)?(?:\+[^_]+)?__\w*\.sql$`)

// Script is a named migration script whose content is read on demand.
type Script struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Source yields the scripts of a migration target.
type Source interface {
	Scripts(ctx context.Context) ([]Script, error)
}

// FSSource lists the .sql files of one directory of a file system.
type FSSource struct {
	fsys             fs.FS
	dir              string
	skipUnrecognized bool
	logger           *slog.Logger
}

var _ Source = (*FSSource)(nil)

// Option configures an FSSource.
type Option func(*FSSource)

// SkipUnrecognized makes the source log and skip .sql files whose names are
// not scripts instead of failing.
func SkipUnrecognized(skip bool) Option {
	return func(s *FSSource) {
		s.skipUnrecognized = skip
	}
}

// WithLogger sets the logger used to report skipped files.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FSSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFSSource reads scripts from dir inside fsys. Embedded script sets use
// the same constructor.
func NewFSSource(fsys fs.FS, dir string, opts ...Option) *FSSource {
	if dir == "" {
		dir = "."
	}
	s := &FSSource{fsys: fsys, dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDirSource reads scripts from a directory on disk.
func NewDirSource(dir string, opts ...Option) *FSSource {
	return NewFSSource(os.DirFS(dir), ".", opts...)
}

// Scripts lists the directory, non-recursively, in name order.
func (s *FSSource) Scripts(ctx context.Context) ([]Script, error) {
	entries, err := fs.ReadDir(s.fsys, s.dir)
	if err != nil {
		return nil, NewScanError(s.dir, "list", err)
	}

	var scripts []Script
	seen := make(map[string]string)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(path.Ext(name), ".sql") {
			continue
		}

		if !scriptNamePattern.MatchString(name) {
			if s.skipUnrecognized {
				s.logger.WarnContext(ctx, "skipping unrecognized script", slog.String("file", name))
				continue
			}
			return nil, NewScanError(name, "validate", ErrUnrecognizedScript)
		}

		key := strings.ToUpper(name)
		if existing, ok := seen[key]; ok {
			return nil, NewScanError(name, "validate", fmt.Errorf("%w: %s and %s", ErrDuplicateScript, existing, name))
		}
		seen[key] = name

		full := path.Join(s.dir, name)
		scripts = append(scripts, Script{
			Name: name,
			Open: func() (io.ReadCloser, error) { return s.fsys.Open(full) },
		})
	}

	slices.SortFunc(scripts, func(a, b Script) int { return strings.Compare(a.Name, b.Name) })
	return scripts, nil
}

// LoadBatch reads every script of src and merges them, in order, into one
// reconciled batch.
func LoadBatch(ctx context.Context, src Source) (*migration.Batch, error) {
	scripts, err := src.Scripts(ctx)
	if err != nil {
		return nil, err
	}

	batch := migration.EmptyBatch()
	for _, script := range scripts {
		single, err := readScript(script)
		if err != nil {
			return nil, err
		}
		batch = batch.Merge(single)
	}
	return batch, nil
}

func readScript(script Script) (*migration.Batch, error) {
	if script.Open == nil {
		return nil, NewScanError(script.Name, "open", migration.ErrNilReader)
	}
	rc, err := script.Open()
	if err != nil {
		return nil, NewScanError(script.Name, "open", err)
	}
	defer rc.Close()

	batch, err := migration.BatchFromScript(script.Name, rc)
	if err != nil {
		return nil, NewScanError(script.Name, "read", err)
	}
	return batch, nil
}
