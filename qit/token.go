package qit

import (
	"fmt"
	"strconv"
)

// TokenType identifies the lexical category of a token.
type TokenType string

const (
	TokenBlockStart   TokenType = "BLOCK"
	TokenBlockEnd     TokenType = "ENDBLOCK"
	TokenInteger      TokenType = "INT"
	TokenLabel        TokenType = "LABEL"
	TokenAssign       TokenType = ":"
	TokenValue        TokenType = "VALUE"
	TokenCommand      TokenType = "COMMAND"
	TokenOperation    TokenType = "OP"
	TokenBracketOpen  TokenType = "["
	TokenBracketClose TokenType = "]"
	TokenEndLn        TokenType = ";"
	TokenPathSubst    TokenType = "PATH"
	TokenReptStart    TokenType = "REPT"
	TokenReptEnd      TokenType = "ENDREPT"
)

// Op is a binary arithmetic operator usable inside brackets.
type Op byte

const (
	OpAdd Op = '+'
	OpSub Op = '-'
	OpMul Op = '*'
	OpDiv Op = '/'
)

func (op Op) String() string {
	return string(rune(op))
}

// Reference names a field inside a block, written v$block.field.
type Reference struct {
	Block string
	Field string
}

func (r Reference) String() string {
	return "v$" + r.Block + "." + r.Field
}

// Token captures lexical information for the compiler. Only the fields
// relevant to Type are set.
type Token struct {
	Type    TokenType
	Literal string // label or command name
	Value   uint64
	Width   int // bits, for TokenInteger
	Op      Op
	Ref     Reference
	Pos     Position
	Word    string // source word the token was split from
}

// Position identifies the word a token was produced from. Line and Column
// are 1-based; a zero Line means the position is unknown.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	if p.Line <= 0 {
		return "?"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

func (t Token) String() string {
	switch t.Type {
	case TokenInteger:
		return "INT(" + strconv.Itoa(t.Width) + ")"
	case TokenLabel, TokenCommand:
		return string(t.Type) + "(" + t.Literal + ")"
	case TokenValue:
		return "VALUE(" + strconv.FormatUint(t.Value, 10) + ")"
	case TokenOperation:
		return "OP(" + t.Op.String() + ")"
	case TokenPathSubst:
		return "PATH(" + t.Ref.Block + "." + t.Ref.Field + ")"
	default:
		return string(t.Type)
	}
}

// describe renders a token for error messages.
func (t Token) describe() string {
	switch t.Type {
	case TokenBlockStart:
		return "'block'"
	case TokenBlockEnd:
		return "'endblock'"
	case TokenInteger:
		return fmt.Sprintf("'int%d'", t.Width)
	case TokenLabel:
		return fmt.Sprintf("label %q", t.Literal)
	case TokenAssign:
		return "':'"
	case TokenValue:
		return fmt.Sprintf("value %d", t.Value)
	case TokenCommand:
		return "command !" + t.Literal
	case TokenOperation:
		return fmt.Sprintf("operator '%s'", t.Op)
	case TokenBracketOpen:
		return "'['"
	case TokenBracketClose:
		return "']'"
	case TokenEndLn:
		return "';'"
	case TokenPathSubst:
		return "reference " + t.Ref.String()
	case TokenReptStart:
		return "'rept'"
	case TokenReptEnd:
		return "'endrept'"
	default:
		return string(t.Type)
	}
}
