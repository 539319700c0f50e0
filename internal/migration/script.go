package migration

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Checksum is the digest of a script's logical content. It is comparable.
type Checksum struct {
	value string
}

// NewChecksum wraps raw digest bytes, as read back from storage.
func NewChecksum(b []byte) Checksum {
	return Checksum{value: string(b)}
}

// Bytes returns a copy of the digest.
func (c Checksum) Bytes() []byte {
	return []byte(c.value)
}

// Equal reports byte-wise equality.
func (c Checksum) Equal(other Checksum) bool {
	return c.value == other.value
}

// String returns the digest in standard base64.
func (c Checksum) String() string {
	return base64.StdEncoding.EncodeToString([]byte(c.value))
}

var lineTerminators = strings.NewReplacer(
	"\r\n", "",
	"\r", "",
	"\n", "",
	"\f", "",
	"\u0085", "",
	"\u2028", "",
	"\u2029", "",
)

// ScriptContent is the raw SQL text of a forward or reverse script.
type ScriptContent struct {
	text string
}

// NewScriptContent wraps text as script content.
func NewScriptContent(text string) ScriptContent {
	return ScriptContent{text: text}
}

// ReadScriptContent reads r to the end.
func ReadScriptContent(r io.Reader) (ScriptContent, error) {
	if r == nil {
		return ScriptContent{}, fmt.Errorf("read script content: %w", ErrNilReader)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return ScriptContent{}, fmt.Errorf("read script content: %w", err)
	}
	return ScriptContent{text: string(b)}, nil
}

// Text returns the script as written.
func (c ScriptContent) Text() string {
	return c.text
}

// Checksum computes a SHA-1 digest over the text with all line terminators
// removed and surrounding whitespace trimmed.
func (c ScriptContent) Checksum() Checksum {
	normalized := strings.TrimSpace(lineTerminators.Replace(c.text))
	sum := sha1.Sum([]byte(normalized))
	return NewChecksum(sum[:])
}

// nonTransactional matches statements that fail inside a transaction:
// ALTER DATABASE, SQLite's VACUUM and a journal_mode change.
var nonTransactional = regexp.MustCompile(`(?i)\b(?:ALTER\s+DATABASE\b|VACUUM\b|PRAGMA\s+(?:\w+\.)?journal_mode\s*=)`)

// CanRunInTransaction reports whether the script may be wrapped in a
// transaction.
func (c ScriptContent) CanRunInTransaction() bool {
	return !nonTransactional.MatchString(c.text)
}
