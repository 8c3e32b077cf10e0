package linker

import (
	"fmt"

	"github.com/MmAaXx500/binutils-gdb-godot/pkg/elf"
	"github.com/MmAaXx500/binutils-gdb-godot/pkg/log"
)

// ResolvedReloc is a relocation whose symbol points into a merged
// section, resolved to the entry's deduplicated output address.
type ResolvedReloc struct {
	// Section the relocation applies to and the patch offset within it.
	TargetShndx uint32
	Offset      uint64

	SymbolName string

	// Output address of the merged entry the relocation refers to.
	Addr uint64
}

// ResolveMergedRelocations walks every relocation of obj and resolves
// the ones whose symbols live in merged sections. Relocations against
// non-merged sections are skipped; a lookup miss inside a merged
// section is a hard link error citing the offending object, section and
// offset.
func (linker *Linker) ResolveMergedRelocations(obj *elf.ELF64) ([]ResolvedReloc, error) {
	var resolved []ResolvedReloc

	for _, section := range obj.Sections {
		if section.SectionEntry.ShType != elf.SHT_RELA {
			continue
		}

		for _, rela := range section.Relas {
			symNdx := rela.SymNdx()
			if symNdx >= uint32(len(obj.Symbols)) {
				return nil, fmt.Errorf("%s: relocation names symbol %d outside the symbol table",
					obj.Filename, symNdx)
			}
			sym := obj.Symbols[symNdx]

			shndx := uint32(sym.Sym.StShNdx)
			ms, merged := linker.MergedSectionFor(obj, shndx)
			if !merged {
				continue
			}

			// The merged entry is named by the symbol value plus the
			// relocation addend. Section symbols carry the whole offset
			// in the addend.
			inputOffset := sym.Sym.StValue + uint64(rela.Addend)
			addr, err := ms.Merger.Translate(obj, shndx, inputOffset, ms.Addr)
			if err != nil {
				return nil, fmt.Errorf("%s: relocation at %#x against %q: %w",
					obj.Filename, rela.Offset, sym.Name, err)
			}

			log.Debugf("Resolved relocation against %q to %#x", sym.Name, addr)
			resolved = append(resolved, ResolvedReloc{
				TargetShndx: section.SectionEntry.ShInfo,
				Offset:      rela.Offset,
				SymbolName:  sym.Name,
				Addr:        addr,
			})
		}
	}

	return resolved, nil
}
