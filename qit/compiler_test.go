package qit

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var magicPrefix = []byte{0x2B, 0xFA, 0x91, 0xC0}

func compileBytes(t *testing.T, cfg Config, source string) []byte {
	t.Helper()
	artifact, err := MustNewEngine(cfg).Compile(source)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return artifact.Bytes()
}

func expectCompileError(t *testing.T, cfg Config, source string, kind error) *CompileError {
	t.Helper()
	artifact, err := MustNewEngine(cfg).Compile(source)
	if err == nil {
		t.Fatalf("expected %v, compiled to % X", kind, artifact.Bytes())
	}
	if artifact != nil {
		t.Fatalf("expected no artifact on failure")
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
	var cerr *CompileError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CompileError, got %T", err)
	}
	return cerr
}

func withMagic(body ...byte) []byte {
	return append(append([]byte(nil), magicPrefix...), body...)
}

func TestCompileOutputs(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []byte
	}{
		{
			name:   "block field",
			source: "block h int32 v : 0x10 ; endblock",
			want:   withMagic(0x10, 0x00, 0x00, 0x00),
		},
		{
			name:   "bracketed subtraction",
			source: "int8 a : [ 10 - 3 ] ;",
			want:   withMagic(0x07),
		},
		{
			name:   "empty source",
			source: "",
			want:   withMagic(),
		},
		{
			name:   "truncation",
			source: "!nomagic int8 a : 0x1FF ; int16 b : 0x123456 ;",
			want:   []byte{0xFF, 0x56, 0x34},
		},
		{
			name:   "arithmetic",
			source: "!nomagic int8 a : [ 2 + 3 ] ; int8 b : [ 6 * 7 ] ; int8 c : [ 7 / 2 ] ; int8 d : [ 9 - 9 ] ;",
			want:   []byte{5, 42, 3, 0},
		},
		{
			name:   "attached punctuation",
			source: "!nomagic block b int16 x : [0x10 * 2]; endblock",
			want:   []byte{0x20, 0x00},
		},
		{
			name:   "magic restored",
			source: "!nomagic int8 a : 1 ; !magic",
			want:   withMagic(0x01),
		},
		{
			name:   "comment",
			source: "!nomagic ## int8 hidden : 9 ; ## int8 shown : 1 ;",
			want:   []byte{0x01},
		},
		{
			name:   "align pads to boundary",
			source: "!nomagic int8 a : 1 ; !align 4 int8 b : 2 ;",
			want:   []byte{0x01, 0x00, 0x00, 0x00, 0x02},
		},
		{
			name:   "align when aligned",
			source: "!nomagic int32 a : 1 ; !align 4",
			want:   []byte{0x01, 0x00, 0x00, 0x00},
		},
		{
			name:   "rept",
			source: "!nomagic rept 3 int8 a : 0xAB ; int8 b : 1 ; endrept",
			want:   []byte{0xAB, 0x01, 0xAB, 0x01, 0xAB, 0x01},
		},
		{
			name:   "rept zero",
			source: "!nomagic int8 h : 9 ; rept 0 int32 a : 5 ; endrept int8 t : 7 ;",
			want:   []byte{0x09, 0x07},
		},
		{
			name:   "rept keeps surrounding output",
			source: "!nomagic int8 h : 9 ; rept 2 int16 x : 0x0102 ; endrept int8 t : 7 ;",
			want:   []byte{0x09, 0x02, 0x01, 0x02, 0x01, 0x07},
		},
		{
			name:   "align inside rept is relative to the region",
			source: "!nomagic int8 h : 9 ; rept 2 int8 x : 1 ; !align 2 endrept",
			want:   []byte{0x09, 0x01, 0x00, 0x01, 0x00},
		},
		{
			name:   "backward reference",
			source: "!nomagic block a int8 x : 5 ; endblock int8 z : v$a.x ;",
			want:   []byte{0x05, 0x05},
		},
		{
			name:   "forward reference",
			source: "!nomagic block a int8 x : v$b.y ; endblock block b int8 y : 42 ; endblock",
			want:   []byte{42, 42},
		},
		{
			name:   "forward reference in expression",
			source: "!nomagic block a int16 total : [ v$a.n * 4 ] ; int8 n : 3 ; endblock",
			want:   []byte{0x0C, 0x00, 0x03},
		},
		{
			name:   "forward reference inside rept",
			source: "!nomagic block a rept 2 int8 x : v$a.y ; endrept int8 y : 7 ; endblock",
			want:   []byte{0x07, 0x07, 0x07},
		},
		{
			name:   "chained forward references",
			source: "!nomagic block a int8 x : v$a.y ; int8 y : v$a.z ; int8 z : 1 ; endblock",
			want:   []byte{0x01, 0x01, 0x01},
		},
		{
			name:   "reference to redeclared field",
			source: "!nomagic block a int8 x : 1 ; int8 y : v$a.x ; int8 x : 2 ; endblock int8 z : v$a.x ;",
			want:   []byte{0x01, 0x01, 0x02, 0x02},
		},
		{
			name:   "reference as rept count",
			source: "!nomagic block c int8 n : 2 ; endblock rept v$c.n int8 z : 0 ; endrept",
			want:   []byte{0x02, 0x00, 0x00},
		},
		{
			name:   "reference as alignment",
			source: "!nomagic block c int8 n : 4 ; endblock !align v$c.n",
			want:   []byte{0x04, 0x00, 0x00, 0x00},
		},
		{
			name:   "unclosed block",
			source: "!nomagic block a int8 x : 1 ;",
			want:   []byte{0x01},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := compileBytes(t, Config{}, tc.source)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileWidths(t *testing.T) {
	const value = 0x0807060504030201
	all := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	for width := 8; width <= 64; width += 8 {
		source := "!nomagic int" + strconv.Itoa(width) + " f : 0x0807060504030201 ;"
		got := compileBytes(t, Config{}, source)
		if diff := cmp.Diff(all[:width/8], got); diff != "" {
			t.Errorf("int%d of %#x mismatch (-want +got):\n%s", width, uint64(value), diff)
		}
	}
}

func TestCompileAlignIsMinimal(t *testing.T) {
	for n := 0; n < 10; n++ {
		for w := 1; w <= 8; w++ {
			source := "!nomagic " + strings.Repeat("int8 b : 1 ; ", n) + "!align " + strconv.Itoa(w)
			got := compileBytes(t, Config{}, source)
			if len(got)%w != 0 {
				t.Fatalf("n=%d w=%d: length %d not aligned", n, w, len(got))
			}
			if pad := len(got) - n; pad < 0 || pad >= w {
				t.Fatalf("n=%d w=%d: padding %d out of range", n, w, pad)
			}
		}
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		kind   error
	}{
		{"nested block", "block a block b endblock endblock", ErrNestedBlock},
		{"nested rept", "rept 2 rept 2 endrept endrept", ErrNestedRept},
		{"unterminated rept", "rept 2 int8 a : 1 ;", ErrUnterminatedRept},
		{"stray endblock", "endblock", ErrUnbalanced},
		{"stray endrept", "endrept", ErrUnbalanced},
		{"stray value", "5", ErrUnexpectedToken},
		{"stray assign", ":", ErrUnexpectedToken},
		{"stray reference", "v$a.b", ErrUnexpectedToken},
		{"stray label", "hello", ErrUnexpectedToken},
		{"stray bracket", "[ 1 + 2 ]", ErrUnexpectedToken},
		{"block without name", "block 5", ErrMissingToken},
		{"block at end", "block", ErrUnexpectedEOF},
		{"rept without count", "rept x endrept", ErrMissingToken},
		{"missing assign", "int8 a 5 ;", ErrMissingToken},
		{"missing name", "int8 : 5 ;", ErrMissingToken},
		{"missing semicolon", "int8 a : 5 int8 b : 6 ;", ErrMissingToken},
		{"missing semicolon at end", "int8 a : 5", ErrUnexpectedEOF},
		{"missing operator", "int8 a : [ 1 2 ] ;", ErrMissingToken},
		{"missing close bracket", "int8 a : [ 1 + 2 ;", ErrMissingToken},
		{"nested brackets", "int8 a : [ [ 1 + 2 ] + 3 ] ;", ErrMissingToken},
		{"invalid width", "int7 a : 1 ;", ErrInvalidWidth},
		{"zero width", "int0 a : 1 ;", ErrInvalidWidth},
		{"wide width", "int72 a : 1 ;", ErrInvalidWidth},
		{"underflow", "int8 a : [ 3 - 10 ] ;", ErrUnderflow},
		{"division by zero", "int8 a : [ 3 / 0 ] ;", ErrDivisionByZero},
		{"add overflow", "int64 a : [ 0xFFFFFFFFFFFFFFFF + 1 ] ;", ErrOverflow},
		{"mul overflow", "int64 a : [ 0x100000000 * 0x100000000 ] ;", ErrOverflow},
		{"align zero", "!align 0", ErrDivisionByZero},
		{"align without width", "!align", ErrUnexpectedEOF},
		{"huge alignment", "int8 a : 1 ; !align 0x8000000000000000", ErrOutputTooLarge},
		{"alignment past memory", "int8 a : 1 ; !align 0x10000000000", ErrOutputTooLarge},
		{"huge alignment in rept", "rept 2 int8 a : 1 ; !align 0xFFFFFFFFFFFFFFFF endrept", ErrOutputTooLarge},
		{"unknown command", "!frobnicate", ErrUnknownCommand},
		{"unresolved reference", "int8 a : v$nope.f ;", ErrUnresolvedReference},
		{"reference to reset block", "block a int8 x : 1 ; endblock block a endblock int8 z : v$a.x ;", ErrUnresolvedReference},
		{"self reference", "block a int8 x : v$a.x ; endblock", ErrReferenceCycle},
		{"reference cycle", "block a int8 x : v$a.y ; int8 y : v$a.x ; endblock", ErrReferenceCycle},
		{"deferred underflow", "block a int8 x : [ 1 - v$a.y ] ; int8 y : 2 ; endblock", ErrUnderflow},
		{"unresolved reference in empty rept", "rept 0 int8 a : v$b.c ; endrept", ErrUnresolvedReference},
		{"forward rept count", "rept v$c.n endrept block c int8 n : 2 ; endblock", ErrForwardReference},
		{"forward alignment", "!align v$c.n block c int8 n : 2 ; endblock", ErrForwardReference},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectCompileError(t, Config{}, tc.source, tc.kind)
		})
	}
}

func TestCompileRequireBlock(t *testing.T) {
	cfg := Config{RequireBlock: true}
	expectCompileError(t, cfg, "int8 a : 1 ;", ErrFieldOutsideBlock)

	got := compileBytes(t, cfg, "!nomagic block b int8 a : 1 ; endblock")
	if diff := cmp.Diff([]byte{0x01}, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileOutputLimit(t *testing.T) {
	cfg := Config{MaxOutputBytes: 4}
	expectCompileError(t, cfg, "rept 5 int8 a : 1 ; endrept", ErrOutputTooLarge)
	expectCompileError(t, cfg, "int64 a : 1 ;", ErrOutputTooLarge)
	expectCompileError(t, cfg, "int8 a : 1 ; !align 8", ErrOutputTooLarge)

	got := compileBytes(t, cfg, "!nomagic rept 4 int8 a : 1 ; endrept")
	if len(got) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(got))
	}

	got = compileBytes(t, cfg, "!nomagic int8 a : 1 ; !align 4")
	if diff := cmp.Diff([]byte{0x01, 0x00, 0x00, 0x00}, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileHugeEmptyRept(t *testing.T) {
	got := compileBytes(t, Config{}, "!nomagic rept 0xFFFFFFFFFFFFFFFF endrept int8 a : 1 ;")
	if diff := cmp.Diff([]byte{0x01}, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileCustomMagic(t *testing.T) {
	got := compileBytes(t, Config{Magic: 0x11223344}, "int8 a : 1 ;")
	if diff := cmp.Diff([]byte{0x44, 0x33, 0x22, 0x11, 0x01}, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileEnvironment(t *testing.T) {
	cfg := Config{LookupEnv: func(name string) (string, bool) {
		switch name {
		case "QIT_VALUE":
			return "0x2A", true
		case "QIT_BLANK":
			return "", true
		}
		return "", false
	}}
	got := compileBytes(t, cfg, "!nomagic int8 a : e$QIT_VALUE ;")
	if diff := cmp.Diff([]byte{0x2A}, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	expectCompileError(t, cfg, "int8 a : e$QIT_MISSING ;", ErrMissingToken)
	expectCompileError(t, cfg, "int8 a : e$QIT_BLANK ;", ErrMissingToken)
	cerr := expectCompileError(t, cfg, "int8 a : 1 ; e$QIT_BLANK", ErrUnexpectedToken)
	if cerr.Word != "e$QIT_BLANK" {
		t.Fatalf("expected the blank substitution to be reported, got word %q", cerr.Word)
	}
}

func TestSymbolsAfterBlockReopen(t *testing.T) {
	artifact, err := MustNewEngine(Config{}).Compile("block a int8 x : 1 ; int8 y : 2 ; endblock block a int8 z : 3 ; endblock")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	symbols := artifact.Symbols()
	if diff := cmp.Diff([]string{"a"}, symbols.Blocks()); diff != "" {
		t.Fatalf("blocks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Field{{Name: "z", Value: 3}}, symbols.Fields("a")); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	if _, ok := symbols.Lookup("a", "x"); ok {
		t.Fatalf("field from the earlier block should be discarded")
	}
}

func TestCompileWords(t *testing.T) {
	engine := MustNewEngine(Config{})
	got, err := engine.CompileWords([]string{"int8", "a", ":", "[", "10", "-", "3", "]", ";"})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if diff := cmp.Diff(withMagic(0x07), got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	_, err = engine.CompileWords([]string{"block", "a", "block", "b"})
	if !errors.Is(err, ErrNestedBlock) {
		t.Fatalf("expected nested block error, got %v", err)
	}
	if strings.Contains(err.Error(), " at ") {
		t.Fatalf("words without positions should not report one: %v", err)
	}
}

func TestCompileUnknownCommandSuggestion(t *testing.T) {
	cerr := expectCompileError(t, Config{}, "!alig 4", ErrUnknownCommand)
	if !strings.Contains(cerr.Msg, "did you mean !align?") {
		t.Fatalf("expected suggestion, got %q", cerr.Msg)
	}

	cerr = expectCompileError(t, Config{}, "!zzz", ErrUnknownCommand)
	if strings.Contains(cerr.Msg, "did you mean") {
		t.Fatalf("unexpected suggestion in %q", cerr.Msg)
	}
}

func TestCompileErrorCodeFrame(t *testing.T) {
	cerr := expectCompileError(t, Config{}, "block a\n  block b\nendblock", ErrNestedBlock)
	if cerr.Pos != (Position{Line: 2, Column: 3}) {
		t.Fatalf("unexpected position %s", cerr.Pos)
	}
	msg := cerr.Error()
	if !strings.HasPrefix(msg, "compile error at 2:3: ") {
		t.Fatalf("unexpected error header: %q", msg)
	}
	if !strings.Contains(msg, " 2 |   block b\n   |   ^^^^^") {
		t.Fatalf("unexpected code frame:\n%s", msg)
	}
}

func TestCompileErrorFromTokenizer(t *testing.T) {
	cerr := expectCompileError(t, Config{}, "int8 a : 0xZZ ;", ErrMalformedLiteral)
	if cerr.Source == "" {
		t.Fatalf("expected tokenizer errors to carry the source")
	}
	if cerr.Pos != (Position{Line: 1, Column: 10}) {
		t.Fatalf("unexpected position %s", cerr.Pos)
	}
}

func TestArtifactAccessors(t *testing.T) {
	artifact, err := MustNewEngine(Config{}).Compile(`
block header
  int32 size : v$body.len ;
  int8 flags : 3 ;
endblock
block body
  int16 len : [ 4 * 2 ] ;
endblock
`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !artifact.HasMagic() {
		t.Fatalf("expected magic prefix")
	}
	if diff := cmp.Diff([]byte{8, 0, 0, 0, 3, 8, 0}, artifact.Body()); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
	if len(artifact.Bytes()) != len(artifact.Body())+4 {
		t.Fatalf("expected 4 byte prefix")
	}

	symbols := artifact.Symbols()
	if diff := cmp.Diff([]string{"header", "body"}, symbols.Blocks()); diff != "" {
		t.Fatalf("blocks mismatch (-want +got):\n%s", diff)
	}
	wantFields := []Field{{Name: "size", Value: 8}, {Name: "flags", Value: 3}}
	if diff := cmp.Diff(wantFields, symbols.Fields("header")); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	if v, ok := symbols.Lookup("body", "len"); !ok || v != 8 {
		t.Fatalf("Lookup(body, len) = %d, %v", v, ok)
	}
	if _, ok := symbols.Lookup("body", "missing"); ok {
		t.Fatalf("expected missing field lookup to fail")
	}
	if len(artifact.Tokens()) == 0 {
		t.Fatalf("expected tokens on artifact")
	}
}

func TestCompileDoesNotModifyTokens(t *testing.T) {
	engine := MustNewEngine(Config{})
	tokens, err := engine.Tokenize("block a int8 x : v$a.y ; int8 y : 1 ; endblock")
	if err != nil {
		t.Fatalf("tokenize failed: %v", err)
	}
	before := append([]Token(nil), tokens...)
	for i := 0; i < 2; i++ {
		if _, err := engine.CompileTokens(tokens); err != nil {
			t.Fatalf("compile %d failed: %v", i, err)
		}
	}
	if diff := cmp.Diff(before, tokens); diff != "" {
		t.Fatalf("tokens modified (-before +after):\n%s", diff)
	}
}

func TestNewEngineRejectsNegativeLimit(t *testing.T) {
	if _, err := NewEngine(Config{MaxOutputBytes: -1}); err == nil {
		t.Fatalf("expected error for negative output limit")
	}
	cfg := MustNewEngine(Config{}).Config()
	if cfg.Magic != DefaultMagic || cfg.MaxOutputBytes != defaultMaxOutputBytes {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
