package merge

import (
	"bytes"
	"hash/maphash"
	"io"
)

// ConstantMerger deduplicates fixed-size binary entries. Every distinct
// entsize-byte pattern is stored once in an accumulated buffer, in the
// order it was first seen; duplicates map to the offset of the first
// copy. Input sections must be pushed in a stable order to keep the
// output reproducible.
type ConstantMerger struct {
	entsize   uint64
	addralign uint64
	buf       []byte
	table     constTable
	offsets   OffsetMap
	finalized bool
}

func NewConstantMerger(entsize, addralign uint64) *ConstantMerger {
	if entsize == 0 {
		panic("merge: constant merger entry size must be non-zero")
	}
	m := &ConstantMerger{
		entsize:   entsize,
		addralign: addralign,
		offsets:   NewOffsetMap(),
	}
	m.table = newConstTable(m)
	return m
}

func (m *ConstantMerger) EntSize() uint64 {
	return m.entsize
}

func (m *ConstantMerger) AddrAlign() uint64 {
	return m.addralign
}

// AddSection splits data into entsize-sized slots and merges each slot.
// Returns MalformedSectionErr, and merges nothing, when the section size
// is not a multiple of the entry size.
func (m *ConstantMerger) AddSection(object Relobj, shndx uint32, data []byte) error {
	if m.finalized {
		panic("merge: AddSection called after Finalize")
	}
	if uint64(len(data))%m.entsize != 0 {
		return MalformedSectionErr
	}

	for in := uint64(0); in < uint64(len(data)); in += m.entsize {
		slot := data[in : in+m.entsize]
		m.table.reserve()
		off, at, found := m.table.find(slot)
		if !found {
			off = uint64(len(m.buf))
			m.buf = append(m.buf, slot...)
			m.table.insert(at, off)
		}
		m.offsets.Record(object, shndx, in, off)
	}

	return nil
}

// Finalize fixes the merged size. No sections may be added afterwards.
func (m *ConstantMerger) Finalize() uint64 {
	if m.finalized {
		panic("merge: Finalize called twice")
	}
	m.finalized = true
	m.offsets.setAddressed()
	return uint64(len(m.buf))
}

// Emit writes the deduplicated entries verbatim. Legal only after
// Finalize.
func (m *ConstantMerger) Emit(w io.Writer) error {
	if !m.finalized {
		panic("merge: Emit called before Finalize")
	}
	_, err := w.Write(m.buf)
	return err
}

func (m *ConstantMerger) Translate(object Relobj, shndx uint32, offset uint64, sectionBase uint64) (uint64, error) {
	return m.offsets.Translate(object, shndx, offset, sectionBase)
}

func (m *ConstantMerger) Mappings() int {
	return m.offsets.Len()
}

// constTable is an open-addressed hash set whose keys are offsets into
// the owning merger's accumulated buffer. Hashing and equality both
// dereference the buffer, so probes compare entry content rather than
// the offset values themselves. This is what makes the set
// content-addressed: two different offsets holding equal bytes are the
// same key.
type constTable struct {
	owner *ConstantMerger
	seed  maphash.Seed
	slots []int64
	used  int
}

const emptySlot = int64(-1)

func newConstTable(owner *ConstantMerger) constTable {
	t := constTable{
		owner: owner,
		seed:  maphash.MakeSeed(),
		slots: make([]int64, 128),
	}
	for i := range t.slots {
		t.slots[i] = emptySlot
	}
	return t
}

func (t *constTable) entry(off int64) []byte {
	return t.owner.buf[off : off+int64(t.owner.entsize)]
}

// find probes for an entry equal to p. When p is absent, at is the slot
// index an insert for p must use.
func (t *constTable) find(p []byte) (off uint64, at int, found bool) {
	mask := uint64(len(t.slots) - 1)
	i := maphash.Bytes(t.seed, p) & mask
	for {
		k := t.slots[i]
		if k == emptySlot {
			return 0, int(i), false
		}
		if bytes.Equal(t.entry(k), p) {
			return uint64(k), int(i), true
		}
		i = (i + 1) & mask
	}
}

func (t *constTable) insert(at int, off uint64) {
	t.slots[at] = int64(off)
	t.used++
}

// reserve grows the table ahead of a possible insert so that slot
// indices returned by find stay valid. Keeps the load factor under 3/4.
func (t *constTable) reserve() {
	if (t.used+1)*4 <= len(t.slots)*3 {
		return
	}
	old := t.slots
	t.slots = make([]int64, len(old)*2)
	for i := range t.slots {
		t.slots[i] = emptySlot
	}
	mask := uint64(len(t.slots) - 1)
	for _, k := range old {
		if k == emptySlot {
			continue
		}
		i := maphash.Bytes(t.seed, t.entry(k)) & mask
		for t.slots[i] != emptySlot {
			i = (i + 1) & mask
		}
		t.slots[i] = k
	}
}
