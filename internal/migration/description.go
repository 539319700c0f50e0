package migration

import (
	"strings"
	"unicode"
)

// Description is the normalized, human readable part of a migration name.
//
// PascalCase boundaries and underscores fold into single spaces with the
// following word lowercased, so "AddUserTable", "Add_User_Table" and
// "Add User Table" are all "Add user table". Single letter words fold the
// same way: "AddAColumn" is "Add a column". Normalizing a normalized
// description returns it unchanged. Description is comparable and may be
// used as a map key.
type Description struct {
	value string
}

// NewDescription normalizes value into a Description.
//
// A capital letter that follows a lowercase letter, across any run of
// underscores and spaces, becomes a single space and its lowercase form.
// The comparison is against the letter already written, so a lowercased
// one letter word starts a boundary for the next capital. Remaining
// underscores become spaces.
func NewDescription(value string) Description {
	var b strings.Builder
	b.Grow(len(value))

	var last rune
	separators := 0
	for _, r := range value {
		if r == '_' || r == ' ' {
			separators++
			continue
		}
		if unicode.IsUpper(r) && unicode.IsLower(last) {
			b.WriteByte(' ')
			r = unicode.ToLower(r)
		} else {
			b.WriteString(strings.Repeat(" ", separators))
		}
		separators = 0
		b.WriteRune(r)
		last = r
	}
	b.WriteString(strings.Repeat(" ", separators))
	return Description{value: b.String()}
}

// String returns the normalized text.
func (d Description) String() string {
	return d.value
}
