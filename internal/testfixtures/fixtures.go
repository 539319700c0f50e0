package testfixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ScriptFixture describes a forward script and, optionally, its reverse
// script. By default the forward script creates a table named after the
// version and the reverse script drops it.
type ScriptFixture struct {
	Version     string
	Description string
	Forward     string
	Reverse     string
	HasReverse  bool
}

// ScriptOption configures the generated script fixture.
type ScriptOption func(*ScriptFixture)

// NewScriptFixture returns a reversible script fixture for version.
func NewScriptFixture(version string, opts ...ScriptOption) ScriptFixture {
	table := TableFor(version)
	fixture := ScriptFixture{
		Version:     version,
		Description: "Create_" + table,
		Forward:     fmt.Sprintf("CREATE TABLE %s (id INTEGER PRIMARY KEY, name TEXT NOT NULL);", table),
		Reverse:     fmt.Sprintf("DROP TABLE %s;", table),
		HasReverse:  true,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithDescription overrides the description part of the script names.
func WithDescription(description string) ScriptOption {
	return func(f *ScriptFixture) {
		f.Description = description
	}
}

// WithForward overrides the forward script content.
func WithForward(sql string) ScriptOption {
	return func(f *ScriptFixture) {
		f.Forward = sql
	}
}

// WithReverse overrides the reverse script content.
func WithReverse(sql string) ScriptOption {
	return func(f *ScriptFixture) {
		f.Reverse = sql
		f.HasReverse = true
	}
}

// WithoutReverse drops the reverse script.
func WithoutReverse() ScriptOption {
	return func(f *ScriptFixture) {
		f.Reverse = ""
		f.HasReverse = false
	}
}

// TableFor returns the table name the default scripts of version use.
func TableFor(version string) string {
	return "t_" + strings.NewReplacer(".", "_", "-", "_", "+", "_").Replace(version)
}

// ForwardName returns the file name of the forward script.
func (f ScriptFixture) ForwardName() string {
	return fmt.Sprintf("V%s__%s.sql", f.Version, f.Description)
}

// ReverseName returns the file name of the reverse script.
func (f ScriptFixture) ReverseName() string {
	return fmt.Sprintf("R%s__%s.sql", f.Version, f.Description)
}

// Files returns the fixture's script files keyed by name.
func (f ScriptFixture) Files() map[string]string {
	files := map[string]string{f.ForwardName(): f.Forward}
	if f.HasReverse {
		files[f.ReverseName()] = f.Reverse
	}
	return files
}

// ScriptSet is a group of script fixtures forming one migration target.
type ScriptSet []ScriptFixture

// NewScriptSet builds a reversible fixture for every version.
func NewScriptSet(versions ...string) ScriptSet {
	set := make(ScriptSet, 0, len(versions))
	for _, v := range versions {
		set = append(set, NewScriptFixture(v))
	}
	return set
}

// With returns a copy of the set with fixture appended.
func (s ScriptSet) With(fixture ScriptFixture) ScriptSet {
	return append(append(ScriptSet(nil), s...), fixture)
}

// FS returns the scripts as an in-memory file system rooted at dir.
func (s ScriptSet) FS(dir string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for _, fixture := range s {
		for name, content := range fixture.Files() {
			fsys[filepath.ToSlash(filepath.Join(dir, name))] = &fstest.MapFile{Data: []byte(content), Mode: 0o644}
		}
	}
	return fsys
}

// WriteDir writes the scripts into a fresh temporary directory and returns
// its path.
func (s ScriptSet) WriteDir(tb testing.TB) string {
	tb.Helper()

	dir := tb.TempDir()
	for _, fixture := range s {
		for name, content := range fixture.Files() {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
				tb.Fatalf("failed to write script %s: %v", name, err)
			}
		}
	}
	return dir
}
