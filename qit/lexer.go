package qit

import (
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Word is a whitespace-delimited piece of source text.
type Word struct {
	Text string
	Pos  Position
}

// EnvLookup resolves e$NAME substitutions. It has the signature of
// os.LookupEnv.
type EnvLookup func(name string) (string, bool)

// SplitWords trims trailing whitespace from source and splits the rest on
// Unicode whitespace, recording where each word starts.
func SplitWords(source string) []Word {
	source = strings.TrimRightFunc(source, unicode.IsSpace)

	var words []Word
	line, column := 1, 0
	start := -1
	var startPos Position
	for offset, r := range source {
		if r == '\n' {
			line++
			column = 0
		} else {
			column++
		}
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, Word{Text: source[start:offset], Pos: startPos})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = offset
			startPos = Position{Line: line, Column: column}
		}
	}
	if start >= 0 {
		words = append(words, Word{Text: source[start:], Pos: startPos})
	}
	return words
}

// Words wraps already split text. The resulting words carry no position.
func Words(texts []string) []Word {
	words := make([]Word, len(texts))
	for i, text := range texts {
		words[i] = Word{Text: text}
	}
	return words
}

type lexer struct {
	lookupEnv EnvLookup
	tokens    []Token
	inComment bool
}

// Tokenize turns words into the flat token sequence consumed by the
// compiler. A nil lookupEnv reads the process environment.
func Tokenize(words []Word, lookupEnv EnvLookup) ([]Token, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	l := &lexer{lookupEnv: lookupEnv, tokens: make([]Token, 0, len(words))}
	for _, w := range words {
		if err := l.word(w); err != nil {
			return nil, err
		}
	}
	return l.tokens, nil
}

func (l *lexer) word(w Word) error {
	if w.Text == "##" {
		l.inComment = !l.inComment
		return nil
	}
	if l.inComment {
		return nil
	}

	text := w.Text
	if rest, ok := strings.CutPrefix(text, "["); ok {
		l.emit(Token{Type: TokenBracketOpen}, w)
		text = rest
	}

	// Trailing terminators are emitted after the word itself, closing
	// bracket first.
	var queued []TokenType
	if rest, ok := strings.CutSuffix(text, ";"); ok {
		queued = append(queued, TokenEndLn)
		text = rest
	}
	if rest, ok := strings.CutSuffix(text, "]"); ok {
		queued = append(queued, TokenBracketClose)
		text = rest
	}

	if path, ok := strings.CutPrefix(text, "v$"); ok {
		block, field, found := strings.Cut(path, ".")
		if !found {
			return l.errorf(w, ErrMalformedReference, "reference %q needs a '.' between block and field", text)
		}
		l.emit(Token{Type: TokenPathSubst, Ref: Reference{Block: block, Field: field}}, w)
	} else {
		substituted := false
		if name, ok := strings.CutPrefix(text, "e$"); ok {
			if value, set := l.lookupEnv(name); set {
				text, substituted = value, true
			}
		}
		switch {
		case text == "" && substituted:
			// An empty substitution still occupies a word.
			l.emit(Token{Type: TokenLabel}, w)
		case text != "":
			tok, err := l.classify(text, w)
			if err != nil {
				return err
			}
			l.emit(tok, w)
		}
	}

	for i := len(queued) - 1; i >= 0; i-- {
		l.emit(Token{Type: queued[i]}, w)
	}
	return nil
}

func (l *lexer) classify(text string, w Word) (Token, error) {
	switch {
	case text == "block":
		return Token{Type: TokenBlockStart}, nil
	case text == "endblock":
		return Token{Type: TokenBlockEnd}, nil
	case strings.HasPrefix(text, "int"):
		width, err := strconv.ParseUint(text[len("int"):], 10, 8)
		if err != nil {
			return Token{}, l.errorf(w, ErrInvalidWidth, "malformed integer width in %q", text)
		}
		return Token{Type: TokenInteger, Width: int(width)}, nil
	case strings.HasPrefix(text, "!"):
		return Token{Type: TokenCommand, Literal: text[1:]}, nil
	case text == ":":
		return Token{Type: TokenAssign}, nil
	case text == ";":
		return Token{Type: TokenEndLn}, nil
	case strings.HasPrefix(text, "0x"):
		value, err := strconv.ParseUint(text[len("0x"):], 16, 64)
		if err != nil {
			return Token{}, l.errorf(w, ErrMalformedLiteral, "malformed hex literal %q", text)
		}
		return Token{Type: TokenValue, Value: value}, nil
	case startsWithDigit(text):
		value, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return Token{}, l.errorf(w, ErrMalformedLiteral, "malformed decimal literal %q", text)
		}
		return Token{Type: TokenValue, Value: value}, nil
	case text == "+":
		return Token{Type: TokenOperation, Op: OpAdd}, nil
	case text == "-":
		return Token{Type: TokenOperation, Op: OpSub}, nil
	case text == "*":
		return Token{Type: TokenOperation, Op: OpMul}, nil
	case text == "/":
		return Token{Type: TokenOperation, Op: OpDiv}, nil
	case text == "rept":
		return Token{Type: TokenReptStart}, nil
	case text == "endrept":
		return Token{Type: TokenReptEnd}, nil
	default:
		return Token{Type: TokenLabel, Literal: text}, nil
	}
}

func (l *lexer) emit(tok Token, w Word) {
	tok.Pos = w.Pos
	tok.Word = w.Text
	l.tokens = append(l.tokens, tok)
}

func (l *lexer) errorf(w Word, kind error, format string, args ...any) error {
	err := newCompileError(w.Pos, kind, format, args...)
	err.Word = w.Text
	return err
}

func startsWithDigit(text string) bool {
	r, _ := utf8.DecodeRuneInString(text)
	return unicode.IsDigit(r)
}
