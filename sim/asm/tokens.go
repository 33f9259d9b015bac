package asm

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes
const (
	whitespaceCode = iota
	identifierCode
	integerCode
	stringCode
	colonCode
	commaCode
	commentCode
)

// Token definitions
var (
	whitespaceToken = parsly.NewToken(whitespaceCode, "Whitespace", matcher.NewWhiteSpace())
	identifierToken = parsly.NewToken(identifierCode, "Identifier", &identifierMatcher{})
	integerToken    = parsly.NewToken(integerCode, "Integer", &integerMatcher{})
	stringToken     = parsly.NewToken(stringCode, "String", &stringMatcher{})
	colonToken      = parsly.NewToken(colonCode, ":", matcher.NewByte(':'))
	commaToken      = parsly.NewToken(commaCode, ",", matcher.NewByte(','))
	commentToken    = parsly.NewToken(commentCode, "Comment", &commentMatcher{})
)

// identifierMatcher matches mnemonics, directives, labels and registers.
type identifierMatcher struct{}

func (m *identifierMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize
	if pos >= size {
		return 0
	}
	if !isLetter(input[pos]) && input[pos] != '_' && input[pos] != '.' {
		return 0
	}
	matched := 1
	for i := pos + 1; i < size; i++ {
		if isLetter(input[i]) || isDigit(input[i]) || input[i] == '_' || input[i] == '.' {
			matched++
			continue
		}
		break
	}
	return matched
}

// integerMatcher matches an optionally negative decimal or 0x hex literal.
type integerMatcher struct{}

func (m *integerMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize
	i := pos
	if i < size && input[i] == '-' {
		i++
	}
	if i >= size || !isDigit(input[i]) {
		return 0
	}
	if input[i] == '0' && i+1 < size && (input[i+1] == 'x' || input[i+1] == 'X') {
		start := i + 2
		i = start
		for i < size && isHex(input[i]) {
			i++
		}
		if i == start {
			return 0
		}
		return i - pos
	}
	for i < size && isDigit(input[i]) {
		i++
	}
	return i - pos
}

// stringMatcher matches a double quoted literal with backslash escapes.
type stringMatcher struct{}

func (m *stringMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize
	if pos >= size || input[pos] != '"' {
		return 0
	}
	for i := pos + 1; i < size; i++ {
		switch input[i] {
		case '\\':
			i++
		case '"':
			return i - pos + 1
		}
	}
	return 0
}

// commentMatcher matches '#' up to the end of the line.
type commentMatcher struct{}

func (m *commentMatcher) Match(cursor *parsly.Cursor) int {
	if cursor.Pos >= cursor.InputSize || cursor.Input[cursor.Pos] != '#' {
		return 0
	}
	return cursor.InputSize - cursor.Pos
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
