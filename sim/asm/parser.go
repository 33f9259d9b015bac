package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/viant/parsly"
)

type operandKind int

const (
	registerOperand operandKind = iota
	integerOperand
	symbolOperand
	stringOperand
)

func (k operandKind) String() string {
	switch k {
	case registerOperand:
		return "register"
	case integerOperand:
		return "integer"
	case symbolOperand:
		return "symbol"
	default:
		return "string"
	}
}

type operand struct {
	kind  operandKind
	reg   int32
	value int64
	text  string
	// pool is the string pool slot of a string operand.
	pool int
}

type statement struct {
	line     int
	labels   []string
	mnemonic string
	operands []operand
}

func (s *statement) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("asm: line %d: %s", s.line, fmt.Sprintf(format, args...))
}

// parseLine parses: label: ... mnemonic operand, operand # comment
func parseLine(line int, input []byte) (*statement, error) {
	cursor := parsly.NewCursor("", input, 0)
	ret := &statement{line: line}
	for {
		if atEnd(cursor) {
			return ret, nil
		}
		matched := cursor.MatchOne(identifierToken)
		if matched.Code != identifierToken.Code {
			return nil, fmt.Errorf("asm: line %d: %w", line, cursor.NewError(identifierToken))
		}
		name := matched.Text(cursor)
		if cursor.MatchOne(colonToken).Code == colonToken.Code {
			ret.labels = append(ret.labels, name)
			continue
		}
		ret.mnemonic = strings.ToLower(name)
		break
	}
	for {
		if atEnd(cursor) {
			if len(ret.operands) > 0 {
				return nil, ret.errorf("operand expected after ','")
			}
			return ret, nil
		}
		matched := cursor.MatchAny(integerToken, stringToken, identifierToken)
		switch matched.Code {
		case integerToken.Code:
			text := matched.Text(cursor)
			value, err := strconv.ParseInt(text, 0, 64)
			if err != nil {
				return nil, ret.errorf("invalid integer %q: %v", text, err)
			}
			ret.operands = append(ret.operands, operand{kind: integerOperand, value: value, text: text})
		case stringToken.Code:
			text := matched.Text(cursor)
			value, err := strconv.Unquote(text)
			if err != nil {
				return nil, ret.errorf("invalid string %s: %v", text, err)
			}
			ret.operands = append(ret.operands, operand{kind: stringOperand, text: value})
		case identifierToken.Code:
			text := matched.Text(cursor)
			if reg, ok := Register(strings.ToLower(text)); ok {
				ret.operands = append(ret.operands, operand{kind: registerOperand, reg: reg, text: text})
			} else {
				ret.operands = append(ret.operands, operand{kind: symbolOperand, text: text})
			}
		default:
			return nil, fmt.Errorf("asm: line %d: %w", line, cursor.NewError(integerToken, stringToken, identifierToken))
		}
		if atEnd(cursor) {
			return ret, nil
		}
		if cursor.MatchOne(commaToken).Code != commaToken.Code {
			return nil, fmt.Errorf("asm: line %d: %w", line, cursor.NewError(commaToken))
		}
		cursor.MatchOne(whitespaceToken)
	}
}

// atEnd skips whitespace and a trailing comment and reports whether the line
// is exhausted.
func atEnd(cursor *parsly.Cursor) bool {
	cursor.MatchOne(whitespaceToken)
	cursor.MatchOne(commentToken)
	return cursor.Pos >= cursor.InputSize
}
