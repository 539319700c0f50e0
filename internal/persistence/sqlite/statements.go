package sqlite

import (
	"strings"
)

// SplitStatements splits a script into individual statements at semicolons
// that are not inside quotes, comments or a CREATE TRIGGER body. Fragments
// holding only whitespace and comments are dropped.
func SplitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		current.Reset()
		if hasCode(stmt) {
			statements = append(statements, stmt)
		}
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"' || r == '`' || r == '[':
			end := closingQuote(r)
			current.WriteRune(r)
			for i++; i < len(runes); i++ {
				current.WriteRune(runes[i])
				if runes[i] == end {
					break
				}
			}
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for ; i < len(runes) && runes[i] != '\n'; i++ {
				current.WriteRune(runes[i])
			}
			if i < len(runes) {
				current.WriteRune('\n')
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			current.WriteString("/*")
			for i += 2; i < len(runes); i++ {
				current.WriteRune(runes[i])
				if runes[i] == '/' && runes[i-1] == '*' {
					break
				}
			}
		case r == ';':
			if inTriggerBody(current.String()) {
				current.WriteRune(r)
				continue
			}
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return statements
}

func closingQuote(open rune) rune {
	if open == '[' {
		return ']'
	}
	return open
}

// inTriggerBody reports whether stmt is a CREATE TRIGGER statement whose
// BEGIN ... END block is still open.
func inTriggerBody(stmt string) bool {
	words := strings.Fields(strings.ToUpper(stripComments(stmt)))
	if len(words) < 2 || words[0] != "CREATE" {
		return false
	}
	isTrigger := false
	for _, w := range words[1:min(len(words), 4)] {
		if w == "TRIGGER" {
			isTrigger = true
			break
		}
	}
	if !isTrigger {
		return false
	}
	return words[len(words)-1] != "END"
}

// hasCode reports whether stmt contains anything besides comments.
func hasCode(stmt string) bool {
	return strings.TrimSpace(stripComments(stmt)) != ""
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	out := b.String()
	for {
		start := strings.Index(out, "/*")
		if start < 0 {
			return out
		}
		end := strings.Index(out[start+2:], "*/")
		if end < 0 {
			return out[:start]
		}
		out = out[:start] + " " + out[start+2+end+2:]
	}
}
