package linker

import (
	"fmt"
	"strings"

	"github.com/MmAaXx500/binutils-gdb-godot/pkg/elf"
	"github.com/MmAaXx500/binutils-gdb-godot/pkg/helpers"
	"github.com/MmAaXx500/binutils-gdb-godot/pkg/log"
	"github.com/MmAaXx500/binutils-gdb-godot/pkg/merge"
)

type LinkerInputs struct {
	Filenames []string
}

// One input section identified across all objects. Objects are compared
// by pointer.
type SectionRef struct {
	Object *elf.ELF64
	Shndx  uint32
}

// MergedSection is one output section fed by all mergeable input
// sections of the same group. Sections group by output name, type,
// masked flags and entry size, the same way they would share an output
// section in a full link.
type MergedSection struct {
	Name      string
	Type      uint32
	Flags     uint64
	EntSize   uint64
	AddrAlign uint64
	Merger    merge.Merger

	// Filled by FinalizeLayout.
	Addr    uint64
	FileOff uint64
	Size    uint64

	// Sum of all input section sizes accepted into this group.
	InputBytes uint64
}

type Linker struct {
	LinkerInputs LinkerInputs
	InputObjects []*elf.ELF64

	// Merge groups in creation order; collection walks objects in link
	// order, so this order is reproducible for identical inputs.
	MergedSections []*MergedSection

	// Sections excluded from merging (malformed or over-aligned). The
	// caller treats these as ordinary copy-through data.
	Unmerged []SectionRef

	sectionMap map[SectionRef]*MergedSection
	finalized  bool
}

func NewLinker(inputs LinkerInputs) *Linker {
	return &Linker{
		LinkerInputs: inputs,
		sectionMap:   make(map[SectionRef]*MergedSection),
	}
}

// Link runs the collect and finalize phases over the input files with
// merged sections based at address 0. Emit is left to the caller.
func Link(inputs LinkerInputs) (*Linker, error) {
	linker := NewLinker(inputs)

	log.Debugf("Linker input files received %v", inputs.Filenames)

	for _, inputFile := range linker.LinkerInputs.Filenames {
		if err := linker.NewFile(inputFile); err != nil {
			return nil, err
		}
	}

	if err := linker.CollectMergeableSections(); err != nil {
		return nil, err
	}
	linker.FinalizeLayout(0)

	return linker, nil
}

func (linker *Linker) NewFile(filepath string) error {
	objFile, err := elf.New(filepath)
	if err != nil {
		return err
	}

	linker.AddObject(objFile)
	return nil
}

// AddObject appends an already parsed object. Objects must be added in
// link order before CollectMergeableSections runs.
func (linker *Linker) AddObject(objFile *elf.ELF64) {
	linker.InputObjects = append(linker.InputObjects, objFile)
}

// CollectMergeableSections pushes every SHF_MERGE section of every
// input object into its merge group. Malformed sections are logged,
// remembered in Unmerged and excluded; they never abort the link.
func (linker *Linker) CollectMergeableSections() error {
	if linker.finalized {
		panic("linker: collection after layout was finalized")
	}

	for _, obj := range linker.InputObjects {
		for shndx, section := range obj.Sections {
			if !section.IsMergeable() {
				continue
			}
			linker.collectSection(obj, uint32(shndx), section)
		}
	}

	return nil
}

func (linker *Linker) collectSection(obj *elf.ELF64, shndx uint32, section *elf.Section) {
	ref := SectionRef{Object: obj, Shndx: shndx}
	entry := section.SectionEntry

	var entsize uint64
	if section.IsStringMerge() {
		entsize = section.CodeUnitWidth()
		if entry.ShAddrAlign > entsize {
			log.Warnf("%s: section %s alignment %d is wider than its character size %d, not merging",
				obj.Filename, section.Name, entry.ShAddrAlign, entsize)
			linker.Unmerged = append(linker.Unmerged, ref)
			return
		}
	} else {
		entsize = entry.ShEntSize
		if entsize == 0 {
			log.Warnf("%s: mergeable section %s has no entry size, not merging",
				obj.Filename, section.Name)
			linker.Unmerged = append(linker.Unmerged, ref)
			return
		}
	}

	group := linker.getMergedSection(section, entsize)
	if err := group.Merger.AddSection(obj, shndx, section.Data); err != nil {
		log.Warnf("%s: section %s excluded from merging: %v", obj.Filename, section.Name, err)
		linker.Unmerged = append(linker.Unmerged, ref)
		return
	}

	if entry.ShAddrAlign > group.AddrAlign {
		group.AddrAlign = entry.ShAddrAlign
	}
	group.InputBytes += uint64(len(section.Data))
	linker.sectionMap[ref] = group
}

// getMergedSection finds the merge group an input section belongs to,
// creating it on first use. Grouping matches output sections: name with
// the mergeable suffix folded, flags with the merge-only bits masked
// off, section type and entry size.
func (linker *Linker) getMergedSection(section *elf.Section, entsize uint64) *MergedSection {
	entry := section.SectionEntry
	name := outputName(section.Name, entry.ShFlags)
	flags := entry.ShFlags &^ uint64(elf.SHF_MERGE) &^ uint64(elf.SHF_STRINGS) &^
		uint64(elf.SHF_GROUP) &^ uint64(elf.SHF_COMPRESSED)

	ndx := helpers.FindIf(linker.MergedSections, func(ms *MergedSection) bool {
		return ms.Name == name && ms.Type == entry.ShType &&
			ms.Flags == flags && ms.EntSize == entsize
	})
	if ndx != -1 {
		return linker.MergedSections[ndx]
	}

	var merger merge.Merger
	if section.IsStringMerge() {
		// One pool per group: strings merge within an output section,
		// never across different ones.
		merger = merge.NewStringMerger(merge.NewStringPool(entsize), entry.ShAddrAlign)
	} else {
		merger = merge.NewConstantMerger(entsize, entry.ShAddrAlign)
	}

	group := &MergedSection{
		Name:      name,
		Type:      entry.ShType,
		Flags:     flags,
		EntSize:   entsize,
		AddrAlign: entry.ShAddrAlign,
		Merger:    merger,
	}
	linker.MergedSections = append(linker.MergedSections, group)

	log.Debugf("Created merge group %s (entsize=%d, flags=%#x)", name, entsize, flags)
	return group
}

// FinalizeLayout fixes every group's size and assigns addresses and
// file offsets from base upwards. After this, no more sections may be
// collected and translated addresses are final. Returns the total size
// of all merged sections including alignment gaps.
func (linker *Linker) FinalizeLayout(base uint64) uint64 {
	if linker.finalized {
		panic("linker: FinalizeLayout called twice")
	}
	linker.finalized = true

	cursor := base
	for _, ms := range linker.MergedSections {
		size := ms.Merger.Finalize()
		cursor = helpers.AlignTo(cursor, ms.AddrAlign)
		ms.Addr = cursor
		ms.FileOff = cursor - base
		ms.Size = size
		cursor += size

		log.Debugf("Merge group %s: %d bytes in, %d bytes out, %d mappings",
			ms.Name, ms.InputBytes, ms.Size, ms.Merger.Mappings())
	}

	return cursor - base
}

// TranslateAddress maps a location in a merged input section to its
// output address. Legal only after FinalizeLayout; a failed lookup is a
// link error the caller must surface.
func (linker *Linker) TranslateAddress(object *elf.ELF64, shndx uint32, offset uint64) (uint64, error) {
	if !linker.finalized {
		panic("linker: TranslateAddress before FinalizeLayout")
	}

	ms, found := linker.sectionMap[SectionRef{Object: object, Shndx: shndx}]
	if !found {
		return 0, fmt.Errorf("section %d of %s was not merged", shndx, object.Filename)
	}
	return ms.Merger.Translate(object, shndx, offset, ms.Addr)
}

// MergedSectionFor returns the group an input section was merged into.
func (linker *Linker) MergedSectionFor(object *elf.ELF64, shndx uint32) (*MergedSection, bool) {
	ms, found := linker.sectionMap[SectionRef{Object: object, Shndx: shndx}]
	return ms, found
}

// outputName folds the numbered mergeable section names (.rodata.str1.1,
// .rodata.cst8 and friends) into the output section they share.
func outputName(name string, flags uint64) string {
	if (name == ".rodata" || strings.HasPrefix(name, ".rodata.")) &&
		flags&uint64(elf.SHF_MERGE) != 0 {
		if flags&uint64(elf.SHF_STRINGS) != 0 {
			return ".rodata.str"
		}
		return ".rodata.cst"
	}

	return name
}
