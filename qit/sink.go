package qit

import "encoding/binary"

// fixup marks placeholder bytes whose value is only known once every
// field has been declared.
type fixup struct {
	offset int
	width  int
	target *binding
}

// sink accumulates output bytes. The compiler keeps a stack of sinks: the
// root one, plus one per open rept region.
type sink struct {
	buf    []byte
	fixups []fixup
	count  uint64
	opened Token
}

func (s *sink) write(value uint64, width int) {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], value)
	s.buf = append(s.buf, le[:width]...)
}

func (s *sink) placeholder(width int, target *binding) {
	s.fixups = append(s.fixups, fixup{offset: len(s.buf), width: width, target: target})
	s.buf = append(s.buf, make([]byte, width)...)
}

// padding returns how many zero bytes align(n) would append. n must be
// non-zero.
func (s *sink) padding(n uint64) uint64 {
	rem := uint64(len(s.buf)) % n
	if rem == 0 {
		return 0
	}
	return n - rem
}

// align pads with zero bytes up to the next multiple of n. The caller
// bounds the padding first.
func (s *sink) align(n uint64) {
	if pad := s.padding(n); pad > 0 {
		s.buf = append(s.buf, make([]byte, pad)...)
	}
}

// replicate appends region count times, carrying its fixups along.
func (s *sink) replicate(region *sink) {
	if len(region.buf) == 0 {
		return
	}
	for i := uint64(0); i < region.count; i++ {
		base := len(s.buf)
		s.buf = append(s.buf, region.buf...)
		for _, fx := range region.fixups {
			fx.offset += base
			s.fixups = append(s.fixups, fx)
		}
	}
}

// patch writes every resolved fixup target into place.
func (s *sink) patch() {
	var le [8]byte
	for _, fx := range s.fixups {
		binary.LittleEndian.PutUint64(le[:], fx.target.value)
		copy(s.buf[fx.offset:fx.offset+fx.width], le[:fx.width])
	}
	s.fixups = nil
}
