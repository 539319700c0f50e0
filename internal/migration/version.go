package migration

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a semantic version identifying a migration.
//
// Ordering follows semver precedence: a prerelease sorts before the release
// with the same numeric triple and build metadata is ignored.
type Version struct {
	canonical string // "v" prefixed, without build metadata
	build     string // "+meta" or empty
}

// ParseVersion parses major.minor.patch[-prerelease][+build]. The patch and
// minor components may be omitted, in which case they default to zero.
func ParseVersion(value string) (Version, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Version{}, fmt.Errorf("%w: empty version", ErrInvalidVersion)
	}
	if strings.HasPrefix(trimmed, "v") || strings.HasPrefix(trimmed, "V") {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, value)
	}

	v := "v" + trimmed
	if !semver.IsValid(v) {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, value)
	}
	return Version{canonical: semver.Canonical(v), build: semver.Build(v)}, nil
}

// MustParseVersion is like ParseVersion but panics on malformed input. It is
// meant for literals.
func MustParseVersion(value string) Version {
	v, err := ParseVersion(value)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version without the internal "v" prefix.
func (v Version) String() string {
	if v.canonical == "" {
		return ""
	}
	return strings.TrimPrefix(v.canonical, "v") + v.build
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool {
	return v.canonical == ""
}

// Compare returns -1, 0 or +1 depending on the precedence of v and other.
func (v Version) Compare(other Version) int {
	return semver.Compare(v.canonical, other.canonical)
}

// Equal reports whether both versions are identical, build metadata included.
func (v Version) Equal(other Version) bool {
	return v == other
}

// Prerelease returns the prerelease tag without its leading dash.
func (v Version) Prerelease() string {
	return strings.TrimPrefix(semver.Prerelease(v.canonical), "-")
}

// IsPrerelease reports whether the version carries a prerelease tag.
func (v Version) IsPrerelease() bool {
	return v.Prerelease() != ""
}
