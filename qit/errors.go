package qit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	ErrMalformedLiteral    = errors.New("malformed literal")
	ErrInvalidWidth        = errors.New("invalid integer width")
	ErrMalformedReference  = errors.New("malformed reference")
	ErrMissingToken        = errors.New("missing token")
	ErrUnexpectedEOF       = errors.New("unexpected end of input")
	ErrUnexpectedToken     = errors.New("unexpected token")
	ErrNestedBlock         = errors.New("nested block")
	ErrNestedRept          = errors.New("nested rept")
	ErrUnbalanced          = errors.New("unbalanced scope end")
	ErrUnterminatedRept    = errors.New("unterminated rept")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrUnderflow           = errors.New("unsigned underflow")
	ErrOverflow            = errors.New("unsigned overflow")
	ErrFieldOutsideBlock   = errors.New("field declared outside block")
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrForwardReference    = errors.New("forward reference")
	ErrReferenceCycle      = errors.New("reference cycle")
	ErrOutputTooLarge      = errors.New("output too large")
)

// CompileError reports a malformed source. Err is one of the Err* sentinels
// above, so callers can classify failures with errors.Is.
type CompileError struct {
	Pos    Position
	Word   string
	Msg    string
	Source string
	Err    error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	if e.Pos.Line > 0 {
		fmt.Fprintf(&b, "compile error at %d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
	} else {
		fmt.Fprintf(&b, "compile error: %s", e.Msg)
	}
	if frame := formatCodeFrame(e.Source, e.Pos, e.Word); frame != "" {
		b.WriteString("\n")
		b.WriteString(frame)
	}
	return b.String()
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

func newCompileError(pos Position, kind error, format string, args ...any) *CompileError {
	return &CompileError{Pos: pos, Msg: fmt.Sprintf(format, args...), Err: kind}
}

// formatCodeFrame underlines word on the source line holding pos.
func formatCodeFrame(source string, pos Position, word string) string {
	if source == "" || pos.Line <= 0 {
		return ""
	}
	lines := strings.Split(source, "\n")
	if pos.Line > len(lines) {
		return ""
	}
	lineText := strings.TrimRight(lines[pos.Line-1], "\r")

	column := max(pos.Column, 1)
	width := max(utf8.RuneCountInString(word), 1)

	lineLabel := strconv.Itoa(pos.Line)
	gutter := strings.Repeat(" ", len(lineLabel))
	return fmt.Sprintf(
		"  --> line %d, column %d\n %s | %s\n %s | %s%s",
		pos.Line,
		column,
		lineLabel,
		lineText,
		gutter,
		strings.Repeat(" ", column-1),
		strings.Repeat("^", width),
	)
}
