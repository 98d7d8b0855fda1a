package qit

import "math/bits"

// operand is one side of a value expression: a literal, a binding captured
// when the reference was read, or a reference left for the final table.
type operand struct {
	value  uint64
	known  bool
	target *binding
	ref    Reference
	pos    Position
	word   string
}

// expr is either a single operand (op == 0) or lhs op rhs.
type expr struct {
	lhs  operand
	op   Op
	rhs  operand
	pos  Position
	word string
}

func apply(op Op, lhs, rhs uint64) (uint64, error) {
	switch op {
	case OpAdd:
		sum, carry := bits.Add64(lhs, rhs, 0)
		if carry != 0 {
			return 0, ErrOverflow
		}
		return sum, nil
	case OpSub:
		diff, borrow := bits.Sub64(lhs, rhs, 0)
		if borrow != 0 {
			return 0, ErrUnderflow
		}
		return diff, nil
	case OpMul:
		hi, lo := bits.Mul64(lhs, rhs)
		if hi != 0 {
			return 0, ErrOverflow
		}
		return lo, nil
	case OpDiv:
		if rhs == 0 {
			return 0, ErrDivisionByZero
		}
		return lhs / rhs, nil
	}
	return 0, ErrUnexpectedToken
}

// resolver evaluates expressions against a symbol table. A non-final
// resolver reports values it cannot know yet as not ok; a final resolver
// treats them as errors.
type resolver struct {
	symbols *SymbolTable
	final   bool
	active  map[*binding]bool
}

func (r *resolver) operand(o operand) (uint64, bool, error) {
	if o.known {
		return o.value, true, nil
	}
	b := o.target
	if b == nil {
		if !r.final {
			return 0, false, nil
		}
		var ok bool
		if b, ok = r.symbols.lookup(o.ref); !ok {
			err := newCompileError(o.pos, ErrUnresolvedReference, "%s does not name a declared field", o.ref)
			err.Word = o.word
			return 0, false, err
		}
	}
	return r.binding(b)
}

func (r *resolver) binding(b *binding) (uint64, bool, error) {
	if b.resolved {
		return b.value, true, nil
	}
	if !r.final {
		return 0, false, nil
	}
	if r.active[b] {
		err := newCompileError(b.pos, ErrReferenceCycle, "value of %s depends on itself", b.name)
		err.Word = b.word
		return 0, false, err
	}
	if r.active == nil {
		r.active = make(map[*binding]bool)
	}
	r.active[b] = true
	defer delete(r.active, b)

	value, ok, err := r.expr(b.expr)
	if err != nil || !ok {
		return 0, ok, err
	}
	b.value, b.resolved, b.expr = value, true, nil
	return value, true, nil
}

func (r *resolver) expr(x *expr) (uint64, bool, error) {
	lhs, ok, err := r.operand(x.lhs)
	if err != nil || !ok {
		return 0, ok, err
	}
	if x.op == 0 {
		return lhs, true, nil
	}
	rhs, ok, err := r.operand(x.rhs)
	if err != nil || !ok {
		return 0, ok, err
	}
	value, err := apply(x.op, lhs, rhs)
	if err != nil {
		cerr := newCompileError(x.pos, err, "%s in [ %d %s %d ]", err, lhs, x.op, rhs)
		cerr.Word = x.word
		return 0, false, cerr
	}
	return value, true, nil
}
