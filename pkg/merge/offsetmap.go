package merge

import (
	"fmt"
)

// Relobj identifies the input object a merged entry came from. Mergers
// compare objects by reference, never by content, so callers must pass
// the same value for the same object across all calls.
type Relobj interface {
	Name() string
}

// A location in an input object: section index plus byte offset.
type mergeKey struct {
	object Relobj
	shndx  uint32
	offset uint64
}

// OffsetMap records, for every entry pushed into a merger, where that
// entry landed in the merged output section. The stored offsets are
// relative to the start of the merged data; Translate adds the section
// base address supplied by the caller.
type OffsetMap struct {
	entries   map[mergeKey]uint64
	addressed bool
}

func NewOffsetMap() OffsetMap {
	return OffsetMap{entries: make(map[mergeKey]uint64)}
}

// Record inserts a mapping from an input location to its output offset.
// Each (object, shndx, offset) triple may be recorded once; a second
// Record for the same triple is a bug in the caller.
func (om *OffsetMap) Record(object Relobj, shndx uint32, inputOffset, outputOffset uint64) {
	if om.addressed {
		panic("merge: Record called after the merged layout was fixed")
	}
	key := mergeKey{object: object, shndx: shndx, offset: inputOffset}
	if prev, found := om.entries[key]; found {
		panic(fmt.Sprintf("merge: duplicate mapping for %s section %d offset %#x (have %#x, got %#x)",
			object.Name(), shndx, inputOffset, prev, outputOffset))
	}
	om.entries[key] = outputOffset
}

// Translate returns the output address of the entry recorded at the
// given input location. A miss means the offset does not point at the
// start of any merged entry and is reported as a *LookupError.
func (om *OffsetMap) Translate(object Relobj, shndx uint32, offset uint64, sectionBase uint64) (uint64, error) {
	out, found := om.entries[mergeKey{object: object, shndx: shndx, offset: offset}]
	if !found {
		return 0, &LookupError{Object: object, Shndx: shndx, Offset: offset}
	}
	return sectionBase + out, nil
}

// Len returns the number of recorded input locations.
func (om *OffsetMap) Len() int {
	return len(om.entries)
}

// setAddressed marks the map as final. Translation stays legal but no
// further mappings may be recorded.
func (om *OffsetMap) setAddressed() {
	om.addressed = true
}
