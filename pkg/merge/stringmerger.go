package merge

import (
	"io"
)

// A string seen in an input section, remembered until finalization. The
// pool reference is resolved to a final offset only once the pool has
// fixed its layout.
type mergedString struct {
	object Relobj
	shndx  uint32
	offset uint64
	str    *InternedString
}

// StringMerger deduplicates null-terminated strings of a fixed code-unit
// width (1, 2 or 4 bytes, taken from its pool). Input sections are split
// at zero code units and every substring, terminator included, is
// interned into the pool. Output offsets become known only at Finalize,
// when the pool's layout is fixed.
//
// Several mergers may share one pool, in which case their strings
// deduplicate against each other and each merger's Emit writes the whole
// shared storage; with one pool per merger (what pkg/linker does) each
// output section holds exactly its own strings.
type StringMerger struct {
	pool      *StringPool
	addralign uint64
	strings   []mergedString
	offsets   OffsetMap
	finalized bool
	size      uint64
}

// NewStringMerger creates a merger interning into pool. The alignment
// must not exceed the code-unit width: packed strings of different
// lengths cannot hold any wider alignment.
func NewStringMerger(pool *StringPool, addralign uint64) *StringMerger {
	if addralign > pool.Width() {
		panic("merge: string merger alignment is wider than its code unit")
	}
	return &StringMerger{
		pool:      pool,
		addralign: addralign,
		offsets:   NewOffsetMap(),
	}
}

func (m *StringMerger) Width() uint64 {
	return m.pool.Width()
}

func (m *StringMerger) AddrAlign() uint64 {
	return m.addralign
}

// AddSection splits data at zero code units and interns every string.
// Zero-length strings (consecutive terminators) are kept so that offset
// arithmetic stays byte-exact. Returns MalformedSectionErr when the size
// is not a multiple of the width and UnterminatedStringErr when the
// section does not end in a terminator; either way the whole section is
// rejected.
func (m *StringMerger) AddSection(object Relobj, shndx uint32, data []byte) error {
	if m.finalized {
		panic("merge: AddSection called after Finalize")
	}
	width := m.pool.Width()
	if uint64(len(data))%width != 0 {
		return MalformedSectionErr
	}
	if len(data) > 0 && !isZeroUnit(data[uint64(len(data))-width:]) {
		return UnterminatedStringErr
	}

	start := uint64(0)
	for off := uint64(0); off < uint64(len(data)); off += width {
		if !isZeroUnit(data[off : off+width]) {
			continue
		}
		s := m.pool.Intern(data[start : off+width])
		m.strings = append(m.strings, mergedString{
			object: object,
			shndx:  shndx,
			offset: start,
			str:    s,
		})
		start = off + width
	}

	return nil
}

// Finalize triggers pool finalization (a no-op if a sharing merger got
// there first), then resolves every remembered string to its final
// offset. Returns the finalized storage size.
func (m *StringMerger) Finalize() uint64 {
	if m.finalized {
		panic("merge: Finalize called twice")
	}
	m.finalized = true
	m.size = m.pool.Finalize()

	for _, ms := range m.strings {
		m.offsets.Record(ms.object, ms.shndx, ms.offset, ms.str.offset)
	}
	m.strings = nil
	m.offsets.setAddressed()

	return m.size
}

// Emit writes the finalized string storage. Legal only after Finalize.
func (m *StringMerger) Emit(w io.Writer) error {
	if !m.finalized {
		panic("merge: Emit called before Finalize")
	}
	return m.pool.Emit(w)
}

func (m *StringMerger) Translate(object Relobj, shndx uint32, offset uint64, sectionBase uint64) (uint64, error) {
	return m.offsets.Translate(object, shndx, offset, sectionBase)
}

func (m *StringMerger) Mappings() int {
	return m.offsets.Len()
}

func isZeroUnit(unit []byte) bool {
	for _, b := range unit {
		if b != 0 {
			return false
		}
	}
	return true
}
