package elf

import (
	"encoding/binary"
)

type ELF64Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

// SymNdx extracts the symbol table index from the info word.
func (r ELF64Rela) SymNdx() uint32 {
	return uint32(r.Info >> 32)
}

// RelType extracts the processor-specific relocation type.
func (r ELF64Rela) RelType() uint32 {
	return uint32(r.Info)
}

// parseRelas decodes every SHT_RELA section and attaches the entries to
// it. ShInfo of the rela section names the section the relocations
// apply to.
func (elf *ELF64) parseRelas(elfDump []byte) error {
	for _, section := range elf.Sections {
		entry := section.SectionEntry
		if entry.ShType != SHT_RELA {
			continue
		}
		if entry.ShOff+entry.ShSize > uint64(len(elfDump)) {
			return TruncatedFileErr
		}

		for offset := entry.ShOff; offset+ELF64RelaSize <= entry.ShOff+entry.ShSize; offset += ELF64RelaSize {
			section.Relas = append(section.Relas, ELF64Rela{
				Offset: binary.LittleEndian.Uint64(elfDump[offset : offset+0x08]),
				Info:   binary.LittleEndian.Uint64(elfDump[offset+0x08 : offset+0x10]),
				Addend: int64(binary.LittleEndian.Uint64(elfDump[offset+0x10 : offset+0x18])),
			})
		}
	}

	return nil
}
