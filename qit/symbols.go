package qit

// binding is the value bound to one field declaration. A binding whose
// expression refers to a field that was not declared yet stays unresolved
// until the end of compilation.
type binding struct {
	name     string
	pos      Position
	word     string
	value    uint64
	resolved bool
	expr     *expr
}

type scope struct {
	fields map[string]*binding
	order  []string
}

// Field is a resolved field of a block.
type Field struct {
	Name  string
	Value uint64
}

// SymbolTable maps block names to their fields.
type SymbolTable struct {
	blocks map[string]*scope
	order  []string
}

func newSymbolTable() *SymbolTable {
	return &SymbolTable{blocks: make(map[string]*scope)}
}

// open starts a block, discarding any fields an earlier block of the same
// name declared.
func (s *SymbolTable) open(block string) {
	if _, ok := s.blocks[block]; !ok {
		s.order = append(s.order, block)
	}
	s.blocks[block] = &scope{fields: make(map[string]*binding)}
}

// bind records b in block, which must already be open.
func (s *SymbolTable) bind(block string, b *binding) {
	sc := s.blocks[block]
	if _, exists := sc.fields[b.name]; !exists {
		sc.order = append(sc.order, b.name)
	}
	sc.fields[b.name] = b
}

func (s *SymbolTable) lookup(ref Reference) (*binding, bool) {
	sc, ok := s.blocks[ref.Block]
	if !ok {
		return nil, false
	}
	b, ok := sc.fields[ref.Field]
	return b, ok
}

// Blocks lists block names in first-declaration order.
func (s *SymbolTable) Blocks() []string {
	return append([]string(nil), s.order...)
}

// Fields lists the resolved fields of block in declaration order.
func (s *SymbolTable) Fields(block string) []Field {
	sc, ok := s.blocks[block]
	if !ok {
		return nil
	}
	fields := make([]Field, 0, len(sc.order))
	for _, name := range sc.order {
		b := sc.fields[name]
		if !b.resolved {
			continue
		}
		fields = append(fields, Field{Name: name, Value: b.value})
	}
	return fields
}

// Lookup returns the value of block.field.
func (s *SymbolTable) Lookup(block, field string) (uint64, bool) {
	b, ok := s.lookup(Reference{Block: block, Field: field})
	if !ok || !b.resolved {
		return 0, false
	}
	return b.value, true
}
