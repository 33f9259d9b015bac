// Package envexpr substitutes ${env.NAME} references in configuration text.
package envexpr

import (
	"os"
	"strings"
	"unicode"
)

const prefix = "${env."

// LookupFunc resolves an environment variable.
var LookupFunc = os.Getenv

// Expand replaces every ${env.NAME} in value with the variable's value, or
// an empty string when unset. NAME may hold letters, digits and '_'. A
// reference with an invalid name keeps its prefix verbatim; an unterminated
// one leaves the remaining text untouched.
func Expand(value string) string {
	if !strings.Contains(value, prefix) {
		return value
	}
	var ret strings.Builder
	rest := value
	for {
		at := strings.Index(rest, prefix)
		if at < 0 {
			ret.WriteString(rest)
			return ret.String()
		}
		ret.WriteString(rest[:at])
		rest = rest[at+len(prefix):]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			ret.WriteString(prefix)
			ret.WriteString(rest)
			return ret.String()
		}
		name := rest[:end]
		if !isName(name) {
			ret.WriteString(prefix)
			continue
		}
		ret.WriteString(LookupFunc(name))
		rest = rest[end+1:]
	}
}

func isName(name string) bool {
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
