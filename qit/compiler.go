package qit

// compiler walks a token sequence once, emitting bytes into a stack of
// sinks. References to fields that are not declared yet are emitted as
// zero placeholders and patched after the walk.
type compiler struct {
	config  Config
	tokens  []Token
	pos     int
	symbols *SymbolTable
	sinks   []*sink
	block   string
	inBlock bool
	magic   bool

	deferred []*binding
}

func newCompiler(cfg Config, tokens []Token) *compiler {
	return &compiler{
		config:  cfg,
		tokens:  tokens,
		symbols: newSymbolTable(),
		sinks:   []*sink{{}},
		magic:   true,
	}
}

func (c *compiler) root() *sink {
	return c.sinks[0]
}

func (c *compiler) current() *sink {
	return c.sinks[len(c.sinks)-1]
}

func (c *compiler) run() error {
	for c.pos < len(c.tokens) {
		tok := c.tokens[c.pos]
		c.pos++

		var err error
		switch tok.Type {
		case TokenBlockStart:
			err = c.blockStart(tok)
		case TokenBlockEnd:
			err = c.blockEnd(tok)
		case TokenReptStart:
			err = c.reptStart(tok)
		case TokenReptEnd:
			err = c.reptEnd(tok)
		case TokenInteger:
			err = c.field(tok)
		case TokenCommand:
			err = c.command(tok)
		case TokenPathSubst:
			err = c.errorf(tok, ErrUnexpectedToken, "%s is not valid at the start of a statement", tok.describe())
		default:
			err = c.errorf(tok, ErrUnexpectedToken, "unexpected %s", tok.describe())
		}
		if err != nil {
			return err
		}
	}
	return c.finish()
}

func (c *compiler) finish() error {
	if len(c.sinks) > 1 {
		region := c.current()
		return c.errorf(region.opened, ErrUnterminatedRept, "rept %d is never closed with endrept", region.count)
	}

	final := &resolver{symbols: c.symbols, final: true}
	for _, b := range c.deferred {
		if _, _, err := final.binding(b); err != nil {
			return err
		}
	}
	c.root().patch()
	return nil
}

func (c *compiler) blockStart(tok Token) error {
	if c.inBlock {
		return c.errorf(tok, ErrNestedBlock, "block cannot be opened inside block %q", c.block)
	}
	name, err := c.expect(tok, TokenLabel, "block name")
	if err != nil {
		return err
	}
	c.symbols.open(name.Literal)
	c.block, c.inBlock = name.Literal, true
	return nil
}

func (c *compiler) blockEnd(tok Token) error {
	if !c.inBlock {
		return c.errorf(tok, ErrUnbalanced, "endblock without an open block")
	}
	c.block, c.inBlock = "", false
	return nil
}

func (c *compiler) reptStart(tok Token) error {
	if len(c.sinks) > 1 {
		return c.errorf(tok, ErrNestedRept, "rept cannot be opened inside another rept")
	}
	count, err := c.immediate(tok, "repeat count")
	if err != nil {
		return err
	}
	c.sinks = append(c.sinks, &sink{count: count, opened: tok})
	return nil
}

func (c *compiler) reptEnd(tok Token) error {
	if len(c.sinks) == 1 {
		return c.errorf(tok, ErrUnbalanced, "endrept without an open rept")
	}
	region := c.current()
	c.sinks = c.sinks[:len(c.sinks)-1]
	parent := c.current()

	total := uint64(len(parent.buf))
	if n := uint64(len(region.buf)); n > 0 {
		limit := uint64(c.config.MaxOutputBytes)
		if region.count > (limit-min(total, limit))/n {
			return c.errorf(tok, ErrOutputTooLarge, "repeating %d bytes %d times exceeds the %d byte limit", n, region.count, limit)
		}
	}
	parent.replicate(region)
	return nil
}

func (c *compiler) field(decl Token) error {
	if decl.Width <= 0 || decl.Width%8 != 0 || decl.Width > 64 {
		return c.errorf(decl, ErrInvalidWidth, "int%d: width must be a multiple of 8 between 8 and 64", decl.Width)
	}
	name, err := c.expect(decl, TokenLabel, "field name")
	if err != nil {
		return err
	}
	assign, err := c.expect(name, TokenAssign, "':'")
	if err != nil {
		return err
	}
	x, last, err := c.valueExpr(assign)
	if err != nil {
		return err
	}
	if _, err := c.expect(last, TokenEndLn, "';'"); err != nil {
		return err
	}

	b := &binding{name: name.Literal, pos: name.Pos, word: name.Word}
	value, ok, err := (&resolver{symbols: c.symbols}).expr(x)
	if err != nil {
		return err
	}

	switch {
	case c.inBlock:
		c.symbols.bind(c.block, b)
	case c.config.RequireBlock:
		return c.errorf(name, ErrFieldOutsideBlock, "field %q must be declared inside a block", name.Literal)
	}

	width := decl.Width / 8
	out := c.current()
	if ok {
		b.value, b.resolved = value, true
		out.write(value, width)
	} else {
		b.expr = x
		c.deferred = append(c.deferred, b)
		out.placeholder(width, b)
	}
	return c.checkSize(decl)
}

// valueExpr reads a literal, a reference or a bracketed binary expression.
// It returns the last token consumed.
func (c *compiler) valueExpr(after Token) (*expr, Token, error) {
	tok, err := c.next(after, "value")
	if err != nil {
		return nil, tok, err
	}
	switch tok.Type {
	case TokenValue, TokenPathSubst:
		return &expr{lhs: c.operand(tok), pos: tok.Pos, word: tok.Word}, tok, nil
	case TokenBracketOpen:
	default:
		return nil, tok, c.errorf(tok, ErrMissingToken, "expected value or '[', got %s", tok.describe())
	}

	lhs, err := c.expectOperand(tok)
	if err != nil {
		return nil, tok, err
	}
	opTok, err := c.expect(lhs, TokenOperation, "operator")
	if err != nil {
		return nil, tok, err
	}
	rhs, err := c.expectOperand(opTok)
	if err != nil {
		return nil, tok, err
	}
	closing, err := c.expect(rhs, TokenBracketClose, "']'")
	if err != nil {
		return nil, tok, err
	}
	return &expr{
		lhs:  c.operand(lhs),
		op:   opTok.Op,
		rhs:  c.operand(rhs),
		pos:  tok.Pos,
		word: tok.Word,
	}, closing, nil
}

func (c *compiler) expectOperand(after Token) (Token, error) {
	tok, err := c.next(after, "value")
	if err != nil {
		return tok, err
	}
	if tok.Type != TokenValue && tok.Type != TokenPathSubst {
		return tok, c.errorf(tok, ErrMissingToken, "expected value, got %s", tok.describe())
	}
	return tok, nil
}

// operand binds a value or reference token. A reference to a field that is
// already declared keeps pointing at that declaration even if the field is
// declared again later.
func (c *compiler) operand(tok Token) operand {
	if tok.Type == TokenValue {
		return operand{value: tok.Value, known: true, pos: tok.Pos, word: tok.Word}
	}
	o := operand{ref: tok.Ref, pos: tok.Pos, word: tok.Word}
	if b, ok := c.symbols.lookup(tok.Ref); ok {
		if b.resolved {
			o.value, o.known = b.value, true
		} else {
			o.target = b
		}
	}
	return o
}

// immediate reads a value that shapes the layout, so it has to be known
// right away.
func (c *compiler) immediate(after Token, what string) (uint64, error) {
	tok, err := c.next(after, what)
	if err != nil {
		return 0, err
	}
	if tok.Type != TokenValue && tok.Type != TokenPathSubst {
		return 0, c.errorf(tok, ErrMissingToken, "expected %s, got %s", what, tok.describe())
	}
	value, ok, err := (&resolver{symbols: c.symbols}).operand(c.operand(tok))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, c.errorf(tok, ErrForwardReference, "%s must be declared before it is used as %s", tok.Ref, what)
	}
	return value, nil
}

func (c *compiler) next(after Token, what string) (Token, error) {
	if c.pos >= len(c.tokens) {
		return after, c.errorf(after, ErrUnexpectedEOF, "expected %s after %s, got end of input", what, after.describe())
	}
	tok := c.tokens[c.pos]
	c.pos++
	return tok, nil
}

func (c *compiler) expect(after Token, tt TokenType, what string) (Token, error) {
	tok, err := c.next(after, what)
	if err != nil {
		return tok, err
	}
	if tok.Type != tt {
		return tok, c.errorf(tok, ErrMissingToken, "expected %s, got %s", what, tok.describe())
	}
	return tok, nil
}

// totalSize counts the bytes held by every open sink.
func (c *compiler) totalSize() uint64 {
	var total uint64
	for _, s := range c.sinks {
		total += uint64(len(s.buf))
	}
	return total
}

func (c *compiler) checkSize(tok Token) error {
	if c.totalSize() > uint64(c.config.MaxOutputBytes) {
		return c.errorf(tok, ErrOutputTooLarge, "output exceeds the %d byte limit", c.config.MaxOutputBytes)
	}
	return nil
}

func (c *compiler) errorf(tok Token, kind error, format string, args ...any) error {
	err := newCompileError(tok.Pos, kind, format, args...)
	err.Word = tok.Word
	return err
}

