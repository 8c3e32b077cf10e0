package elf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/MmAaXx500/binutils-gdb-godot/pkg/helpers"
)

/*
   The following structures are documented by https://www.uclibc.org/docs/elf-64-gen.pdf
*/

type ELF64Sym struct {
	// string table offset
	StName uint32

	// Type and Binding
	StInfo byte

	// Padding
	StOther byte

	// section header index
	StShNdx uint16

	// section offset
	StValue uint64

	// object size
	StSize uint64
}

// A symbol bundled with its resolved name from the string table.
type NamedSymbol struct {
	Name string
	Sym  *ELF64Sym
}

const (
	STT_NOTYPE  = 0
	STT_OBJECT  = 1
	STT_FUNC    = 2
	STT_SECTION = 3
	STT_FILE    = 4
	STT_LOOS    = 10
	STT_HIOS    = 12
	STT_LOPROC  = 13
	STT_HIPROC  = 15
)

const (
	STB_LOCAL  = 0
	STB_GLOBAL = 1
	STB_WEAK   = 2
	STB_LOOS   = 10
	STB_HIOS   = 12
	STB_LOPROC = 13
	STB_HIPROC = 15
)

type ELF64Ehdr struct {
	Ident     [16]byte // ELF identification
	Type      uint16   // Object file type
	Machine   uint16   // Machine type
	Version   uint32   // Object file version
	Entry     uint64   // Entry point address
	PhOff     uint64   // Program Header offset
	ShOff     uint64   // Section Header offset
	Flags     uint32   // Processor specific flags
	EhSize    uint16   // ELF Header size
	PhEntSize uint16   // Size of Program Header
	PhNum     uint16   // Number of program header entries
	ShEntSize uint16   // Size of the Section Header entry
	ShNum     uint16   // Number of Section Header entries
	ShStrNdx  uint16   // Section name String Table index
}

const (
	EI_MAG0       = 0
	EI_MAG1       = 1
	EI_MAG2       = 2
	EI_MAG3       = 3
	EI_CLASS      = 4
	EI_DATA       = 5
	EI_VERSION    = 6
	EI_OSABI      = 7
	EI_ABIVERSION = 8
	EI_PAD        = 9
	EI_NIDENT     = 16
)

var (
	InvalidMagicErr  = errors.New("Invalid magic in ELF file.")
	UnparsedELFErr   = errors.New("ELF header was not parsed.")
	TruncatedFileErr = errors.New("ELF file is shorter than its headers claim.")
)

func (elf64Ehdr *ELF64Ehdr) VerifyMagic() error {
	if !reflect.DeepEqual(elf64Ehdr.Ident[EI_MAG0:EI_CLASS], []byte{'\x7f', 'E', 'L', 'F'}) {
		return InvalidMagicErr
	}

	return nil
}

const (
	ELF64EhdrSize = 64
	ELF64ShdrSize = 64
	ELF64SymSize  = 24
	ELF64RelaSize = 24
)

func ParseHeader(elfDump []byte) (ELF64Ehdr, error) {
	if len(elfDump) < ELF64EhdrSize {
		return ELF64Ehdr{}, TruncatedFileErr
	}

	elf64Ehdr := ELF64Ehdr{
		Type:      binary.LittleEndian.Uint16(elfDump[0x10:0x12]),
		Machine:   binary.LittleEndian.Uint16(elfDump[0x12:0x14]),
		Version:   binary.LittleEndian.Uint32(elfDump[0x14:0x18]),
		Entry:     binary.LittleEndian.Uint64(elfDump[0x18:0x20]),
		PhOff:     binary.LittleEndian.Uint64(elfDump[0x20:0x28]),
		ShOff:     binary.LittleEndian.Uint64(elfDump[0x28:0x30]),
		Flags:     binary.LittleEndian.Uint32(elfDump[0x30:0x34]),
		EhSize:    binary.LittleEndian.Uint16(elfDump[0x34:0x36]),
		PhEntSize: binary.LittleEndian.Uint16(elfDump[0x36:0x38]),
		PhNum:     binary.LittleEndian.Uint16(elfDump[0x38:0x3a]),
		ShEntSize: binary.LittleEndian.Uint16(elfDump[0x3a:0x3c]),
		ShNum:     binary.LittleEndian.Uint16(elfDump[0x3c:0x3e]),
		ShStrNdx:  binary.LittleEndian.Uint16(elfDump[0x3e:0x40]),
	}

	copy(elf64Ehdr.Ident[:], elfDump[0:16])

	return elf64Ehdr, nil
}

const (
	ELFCLASS32 uint32 = 1
	ELFCLASS64        = 2
)

const (
	ELFDATA2LSB uint32 = 1
	ELFDATA2MSB        = 2
)

// Type of ELF file
const (
	ET_NONE uint32 = 0

	// Relocatable object file
	ET_REL = 1

	// Executable file
	ET_EXEC = 2

	// Shared object file
	ET_DYN = 3

	ET_CORE   = 4
	ET_LOOS   = 0xFE00
	ET_HIOS   = 0xFEFF
	ET_LOPROC = 0xFF00
	ET_HIPROC = 0xFFFF
)

func (elf64Ehdr *ELF64Ehdr) checkParsed() error {
	if elf64Ehdr.VerifyMagic() != nil {
		return UnparsedELFErr
	}

	return nil
}

func (elf64Ehdr *ELF64Ehdr) GetClass() (uint32, error) {
	if err := elf64Ehdr.checkParsed(); err != nil {
		return 0, err
	}

	if elf64Ehdr.Ident[EI_CLASS] == 1 {
		return 0, errors.New("ELF32 is not supported.")
	}

	return ELFCLASS64, nil
}

func (elf64Ehdr *ELF64Ehdr) GetEndianess() (uint32, error) {
	if err := elf64Ehdr.checkParsed(); err != nil {
		return 0, err
	}

	if elf64Ehdr.Ident[EI_DATA] == 2 {
		return 0, errors.New("Big endianess not supported")
	}

	return ELFDATA2LSB, nil
}

// Section header entries
type ELF64Shdr struct {
	ShName      uint32 // offset to the section name relative to section name table
	ShType      uint32 // section type
	ShFlags     uint64
	ShAddr      uint64
	ShOff       uint64
	ShSize      uint64
	ShLink      uint32
	ShInfo      uint32
	ShAddrAlign uint64
	ShEntSize   uint64
}

const (
	SHT_NULL     = 0
	SHT_PROGBITS = 1
	SHT_SYMTAB   = 2
	SHT_STRTAB   = 3
	SHT_RELA     = 4
	SHT_HASH     = 5
	SHT_DYNAMIC  = 6
	SHT_NOTE     = 7
	SHT_NOBITS   = 8
	SHT_REL      = 9
	SHT_SHLIB    = 10
	SHT_DYNSYM   = 11
	SHT_LOOS     = 0x60000000
	SHT_HIOS     = 0x6FFFFFFF
	SHT_LOPROC   = 0x70000000
	SHT_HIPROC   = 0x7FFFFFFF
)

const (
	SHF_WRITE      = 0x1
	SHF_ALLOC      = 0x2
	SHF_EXECINSTR  = 0x4
	SHF_MERGE      = 0x10
	SHF_STRINGS    = 0x20
	SHF_INFO_LINK  = 0x40
	SHF_GROUP      = 0x200
	SHF_COMPRESSED = 0x800
	SHF_MASKOS     = 0x0F000000
	SHF_MASKPROC   = 0xF0000000
)

// A parsed section: header, resolved name and raw content. Data aliases
// the file dump and is stable for the object's lifetime.
type Section struct {
	Name         string
	SectionEntry *ELF64Shdr
	Data         []byte
	Relas        []ELF64Rela
}

// IsMergeable reports whether the section is flagged as holding
// duplicate-eligible constants or strings.
func (s *Section) IsMergeable() bool {
	return s.SectionEntry.ShFlags&SHF_MERGE != 0
}

// IsStringMerge reports whether a mergeable section holds
// null-terminated strings rather than fixed-size constants.
func (s *Section) IsStringMerge() bool {
	return s.SectionEntry.ShFlags&SHF_STRINGS != 0
}

// CodeUnitWidth returns the character size of a string-merge section.
// An entry size of zero defaults to single-byte characters.
func (s *Section) CodeUnitWidth() uint64 {
	if s.SectionEntry.ShEntSize == 0 {
		return 1
	}
	return s.SectionEntry.ShEntSize
}

type ELF64 struct {
	Filename string

	Header ELF64Ehdr

	Sections []*Section
	Symbols  []*NamedSymbol
}

// Name identifies the object in diagnostics. Objects are compared by
// pointer, so two parses of the same file are distinct objects.
func (elf *ELF64) Name() string {
	return elf.Filename
}

// SectionBytes returns the raw content of the section at shndx.
func (elf *ELF64) SectionBytes(shndx uint32) ([]byte, error) {
	if shndx >= uint32(len(elf.Sections)) {
		return nil, fmt.Errorf("section index %d out of range in %s", shndx, elf.Filename)
	}
	return elf.Sections[shndx].Data, nil
}

// New reads and parses a relocatable object file.
func New(filepath string) (*ELF64, error) {
	elfDump, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}

	return Parse(filepath, elfDump)
}

// Parse builds an ELF64 from a raw file dump.
func Parse(filename string, elfDump []byte) (*ELF64, error) {
	header, err := ParseHeader(elfDump)
	if err != nil {
		return nil, err
	}
	if err := header.VerifyMagic(); err != nil {
		return nil, err
	}
	if _, err := header.GetClass(); err != nil {
		return nil, err
	}
	if _, err := header.GetEndianess(); err != nil {
		return nil, err
	}

	elf := &ELF64{
		Filename: filename,
		Header:   header,
	}

	if err := elf.parseSections(elfDump); err != nil {
		return nil, err
	}
	if err := elf.parseSymTable(elfDump); err != nil {
		return nil, err
	}
	if err := elf.parseRelas(elfDump); err != nil {
		return nil, err
	}

	return elf, nil
}

func (elf *ELF64) parseSections(elfDump []byte) error {
	shOff := elf.Header.ShOff
	shNum := uint64(elf.Header.ShNum)
	if shOff+shNum*ELF64ShdrSize > uint64(len(elfDump)) {
		return TruncatedFileErr
	}

	// The null section at index 0 is kept so that section indices from
	// symbols and relocations stay usable directly.
	for entryNdx := uint64(0); entryNdx < shNum; entryNdx++ {
		entryOffset := shOff + entryNdx*ELF64ShdrSize
		entry := &ELF64Shdr{
			ShName:      binary.LittleEndian.Uint32(elfDump[entryOffset : entryOffset+0x04]),
			ShType:      binary.LittleEndian.Uint32(elfDump[entryOffset+0x04 : entryOffset+0x08]),
			ShFlags:     binary.LittleEndian.Uint64(elfDump[entryOffset+0x08 : entryOffset+0x10]),
			ShAddr:      binary.LittleEndian.Uint64(elfDump[entryOffset+0x10 : entryOffset+0x18]),
			ShOff:       binary.LittleEndian.Uint64(elfDump[entryOffset+0x18 : entryOffset+0x20]),
			ShSize:      binary.LittleEndian.Uint64(elfDump[entryOffset+0x20 : entryOffset+0x28]),
			ShLink:      binary.LittleEndian.Uint32(elfDump[entryOffset+0x28 : entryOffset+0x2c]),
			ShInfo:      binary.LittleEndian.Uint32(elfDump[entryOffset+0x2c : entryOffset+0x30]),
			ShAddrAlign: binary.LittleEndian.Uint64(elfDump[entryOffset+0x30 : entryOffset+0x38]),
			ShEntSize:   binary.LittleEndian.Uint64(elfDump[entryOffset+0x38 : entryOffset+0x40]),
		}

		section := &Section{SectionEntry: entry}
		if entry.ShType != SHT_NULL && entry.ShType != SHT_NOBITS {
			if entry.ShOff+entry.ShSize > uint64(len(elfDump)) {
				return TruncatedFileErr
			}
			section.Data = elfDump[entry.ShOff : entry.ShOff+entry.ShSize]
		}

		elf.Sections = append(elf.Sections, section)
	}

	// Resolve names through the section name string table.
	if int(elf.Header.ShStrNdx) < len(elf.Sections) {
		shstrtab := elf.Sections[elf.Header.ShStrNdx]
		for _, section := range elf.Sections {
			if uint64(section.SectionEntry.ShName) < uint64(len(shstrtab.Data)) {
				section.Name = helpers.GetString(shstrtab.Data[section.SectionEntry.ShName:])
			}
		}
	}

	return nil
}

func (elf *ELF64) parseSymTable(elfDump []byte) error {
	var symtab *ELF64Shdr

	for _, section := range elf.Sections {
		if section.SectionEntry.ShType == SHT_SYMTAB {
			symtab = section.SectionEntry
			break
		}
	}

	if symtab == nil {
		// Objects without a symbol table are still mergeable.
		return nil
	}

	var strtab []byte
	if symtab.ShLink < uint32(len(elf.Sections)) {
		strtab = elf.Sections[symtab.ShLink].Data
	}

	for offset := symtab.ShOff; offset+ELF64SymSize <= symtab.ShOff+symtab.ShSize; offset += ELF64SymSize {
		symbol := &ELF64Sym{
			StName:  binary.LittleEndian.Uint32(elfDump[offset : offset+0x04]),
			StInfo:  elfDump[offset+0x04],
			StOther: elfDump[offset+0x05],
			StShNdx: binary.LittleEndian.Uint16(elfDump[offset+0x06 : offset+0x08]),
			StValue: binary.LittleEndian.Uint64(elfDump[offset+0x08 : offset+0x10]),
			StSize:  binary.LittleEndian.Uint64(elfDump[offset+0x10 : offset+0x18]),
		}

		name := ""
		if uint64(symbol.StName) < uint64(len(strtab)) {
			name = helpers.GetString(strtab[symbol.StName:])
		}

		elf.Symbols = append(elf.Symbols, &NamedSymbol{Name: name, Sym: symbol})
	}

	return nil
}

func (sym ELF64Sym) GetType() byte {
	return sym.StInfo & 0x0f
}

func (sym ELF64Sym) GetBinding() byte {
	return sym.StInfo >> 4
}
