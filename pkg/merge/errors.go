package merge

import (
	"errors"
	"fmt"
)

var (
	// MalformedSectionErr is returned by AddSection when a section's size
	// is not a multiple of the merger's entry size or code-unit width.
	// The section contributes nothing; the caller decides whether to keep
	// it as ordinary non-deduplicated data.
	MalformedSectionErr = errors.New("section size is not a multiple of the entry size")

	// UnterminatedStringErr is returned by a string merger when a section
	// does not end with a zero code unit. Like MalformedSectionErr the
	// whole section is rejected.
	UnterminatedStringErr = errors.New("string section does not end with a terminator")
)

// LookupError reports a Translate request for an input location where no
// merged entry starts. Typically the offending relocation targets a byte
// in the middle of an entry or a section that was never merged; the
// caller must surface it as a link error, never substitute an address.
type LookupError struct {
	Object Relobj
	Shndx  uint32
	Offset uint64
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no merged entry at offset %#x in section %d of %s",
		e.Offset, e.Shndx, e.Object.Name())
}
