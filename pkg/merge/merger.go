// Package merge implements the section-merging core of the linker: it
// collapses duplicate entries of mergeable input sections (fixed-size
// constants and null-terminated strings) into a single copy and answers
// address-translation queries for relocation processing.
//
// A merger goes through three phases: sections are pushed in link order
// with AddSection, the layout is fixed once with Finalize, and the
// deduplicated bytes are written with Emit. Translate is legal at any
// point but addresses are stable only after Finalize. Phase violations
// are programming errors and panic; bad input data is reported through
// error returns and leaves the merger untouched.
package merge

import (
	"io"
)

// Merger is the contract shared by ConstantMerger and StringMerger. A
// single instance is not safe for concurrent use; distinct instances
// share no state except an optionally shared StringPool.
type Merger interface {
	// AddSection merges the raw bytes of one input section.
	AddSection(object Relobj, shndx uint32, data []byte) error

	// Finalize fixes the merged layout and returns its size in bytes.
	Finalize() uint64

	// Emit writes the deduplicated section content.
	Emit(w io.Writer) error

	// Translate maps an input location to its output address.
	Translate(object Relobj, shndx uint32, offset uint64, sectionBase uint64) (uint64, error)

	// Mappings reports how many input locations were recorded.
	Mappings() int
}

var (
	_ Merger = (*ConstantMerger)(nil)
	_ Merger = (*StringMerger)(nil)
)
