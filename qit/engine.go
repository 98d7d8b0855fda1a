package qit

import (
	"encoding/binary"
	"fmt"
)

// DefaultMagic prefixes compiled output unless !nomagic is in effect.
const DefaultMagic uint32 = 0xC091FA2B

const defaultMaxOutputBytes = 64 << 20

// Config controls compilation. The zero value is usable.
type Config struct {
	// Magic replaces DefaultMagic when non-zero.
	Magic uint32
	// RequireBlock rejects field declarations outside a block. Without it
	// such fields are emitted but cannot be referenced.
	RequireBlock bool
	// MaxOutputBytes bounds the compiled body. Zero means 64 MiB.
	MaxOutputBytes int
	// LookupEnv resolves e$NAME words. Nil reads the process environment.
	LookupEnv EnvLookup
}

// Engine compiles qit sources with a fixed configuration. It holds no
// per-compilation state and is safe for concurrent use.
type Engine struct {
	config Config
}

// NewEngine constructs an Engine, filling in defaults.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.MaxOutputBytes < 0 {
		return nil, fmt.Errorf("qit: MaxOutputBytes must not be negative, got %d", cfg.MaxOutputBytes)
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.Magic == 0 {
		cfg.Magic = DefaultMagic
	}
	return &Engine{config: cfg}, nil
}

// MustNewEngine is like NewEngine but panics on an invalid configuration.
func MustNewEngine(cfg Config) *Engine {
	engine, err := NewEngine(cfg)
	if err != nil {
		panic(err)
	}
	return engine
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Tokenize splits and tokenizes source.
func (e *Engine) Tokenize(source string) ([]Token, error) {
	tokens, err := Tokenize(SplitWords(source), e.config.LookupEnv)
	if err != nil {
		return nil, withSource(err, source)
	}
	return tokens, nil
}

// Compile tokenizes and compiles source text.
func (e *Engine) Compile(source string) (*Artifact, error) {
	tokens, err := e.Tokenize(source)
	if err != nil {
		return nil, err
	}
	artifact, err := e.CompileTokens(tokens)
	if err != nil {
		return nil, withSource(err, source)
	}
	return artifact, nil
}

// CompileWords compiles words that were already split on whitespace and
// returns the output bytes.
func (e *Engine) CompileWords(words []string) ([]byte, error) {
	tokens, err := Tokenize(Words(words), e.config.LookupEnv)
	if err != nil {
		return nil, err
	}
	artifact, err := e.CompileTokens(tokens)
	if err != nil {
		return nil, err
	}
	return artifact.Bytes(), nil
}

// CompileTokens runs the compiler over a token sequence. The slice is not
// modified.
func (e *Engine) CompileTokens(tokens []Token) (*Artifact, error) {
	c := newCompiler(e.config, tokens)
	if err := c.run(); err != nil {
		return nil, err
	}
	artifact := &Artifact{
		body:    c.root().buf,
		tokens:  tokens,
		symbols: c.symbols,
	}
	if c.magic {
		artifact.magic = binary.LittleEndian.AppendUint32(nil, e.config.Magic)
	}
	return artifact, nil
}

// Artifact is the result of a successful compilation.
type Artifact struct {
	magic   []byte
	body    []byte
	tokens  []Token
	symbols *SymbolTable
}

// Bytes returns the full output: magic prefix, if any, followed by the body.
func (a *Artifact) Bytes() []byte {
	out := make([]byte, 0, len(a.magic)+len(a.body))
	out = append(out, a.magic...)
	return append(out, a.body...)
}

// Body returns the output without the magic prefix.
func (a *Artifact) Body() []byte {
	return a.body
}

// HasMagic reports whether the output carries the magic prefix.
func (a *Artifact) HasMagic() bool {
	return len(a.magic) > 0
}

// Tokens returns the compiled token sequence.
func (a *Artifact) Tokens() []Token {
	return a.tokens
}

// Symbols returns the final symbol table.
func (a *Artifact) Symbols() *SymbolTable {
	return a.symbols
}

func withSource(err error, source string) error {
	if cerr, ok := err.(*CompileError); ok && cerr.Source == "" {
		cerr.Source = source
	}
	return err
}
