package linker

import (
	"errors"
	"testing"

	"github.com/MmAaXx500/binutils-gdb-godot/pkg/elf"
	"github.com/MmAaXx500/binutils-gdb-godot/pkg/helpers"
	"github.com/MmAaXx500/binutils-gdb-godot/pkg/merge"
	"github.com/stretchr/testify/assert"
)

// testObject builds an in-memory input object with a null section at
// index 0, the way a parsed relocatable file looks.
func testObject(name string, sections ...*elf.Section) *elf.ELF64 {
	obj := &elf.ELF64{Filename: name}
	obj.Sections = append(obj.Sections, &elf.Section{SectionEntry: &elf.ELF64Shdr{}})
	obj.Sections = append(obj.Sections, sections...)
	return obj
}

func constSection(name string, entsize uint64, data []byte) *elf.Section {
	return &elf.Section{
		Name: name,
		SectionEntry: &elf.ELF64Shdr{
			ShType:      elf.SHT_PROGBITS,
			ShFlags:     elf.SHF_ALLOC | elf.SHF_MERGE,
			ShEntSize:   entsize,
			ShAddrAlign: entsize,
			ShSize:      uint64(len(data)),
		},
		Data: data,
	}
}

func strSection(name string, width uint64, data []byte) *elf.Section {
	return &elf.Section{
		Name: name,
		SectionEntry: &elf.ELF64Shdr{
			ShType:      elf.SHT_PROGBITS,
			ShFlags:     elf.SHF_ALLOC | elf.SHF_MERGE | elf.SHF_STRINGS,
			ShEntSize:   width,
			ShAddrAlign: 1,
			ShSize:      uint64(len(data)),
		},
		Data: data,
	}
}

// writeAtBuffer is a growable in-memory io.WriterAt.
type writeAtBuffer struct {
	buf []byte
}

func (w *writeAtBuffer) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[off:], p)
	return len(p), nil
}

func collectAndFinalize(t *testing.T, base uint64, objs ...*elf.ELF64) *Linker {
	l := NewLinker(LinkerInputs{})
	for _, obj := range objs {
		l.AddObject(obj)
	}
	assert.NoError(t, l.CollectMergeableSections())
	l.FinalizeLayout(base)
	return l
}

func TestLinkerConstantDedupAcrossObjects(t *testing.T) {
	objA := testObject("a.o", constSection(".rodata.cst4", 4, []byte{1, 2, 3, 4}))
	objB := testObject("b.o", constSection(".rodata.cst4", 4, []byte{
		9, 9, 9, 9,
		5, 5, 5, 5,
		1, 2, 3, 4,
	}))

	l := collectAndFinalize(t, 0, objA, objB)

	assert.Equal(t, 1, len(l.MergedSections))
	group := l.MergedSections[0]
	assert.Equal(t, ".rodata.cst", group.Name)
	assert.Equal(t, uint64(12), group.Size)
	assert.Equal(t, uint64(16), group.InputBytes)

	addrA, err := l.TranslateAddress(objA, 1, 0)
	assert.NoError(t, err)
	addrB, err := l.TranslateAddress(objB, 1, 8)
	assert.NoError(t, err)
	assert.Equal(t, addrA, addrB, "the duplicate constant shares one address")
}

func TestLinkerStringSuffixSharing(t *testing.T) {
	objA := testObject("a.o", strSection(".rodata.str1.1", 1, []byte("hello world\x00")))
	objB := testObject("b.o", strSection(".rodata.str1.1", 1, []byte("world\x00")))

	l := collectAndFinalize(t, 0, objA, objB)

	assert.Equal(t, 1, len(l.MergedSections))
	group := l.MergedSections[0]
	assert.Equal(t, ".rodata.str", group.Name)
	assert.Equal(t, uint64(12), group.Size, "world shares hello world's tail")

	helloAddr, err := l.TranslateAddress(objA, 1, 0)
	assert.NoError(t, err)
	worldAddr, err := l.TranslateAddress(objB, 1, 0)
	assert.NoError(t, err)
	assert.Equal(t, helloAddr+6, worldAddr)
	assert.Truef(t, worldAddr > helloAddr && worldAddr < helloAddr+12,
		"world must resolve strictly inside hello world's storage")
}

func TestLinkerGroupKeying(t *testing.T) {
	objA := testObject("a.o",
		constSection(".rodata.cst4", 4, []byte{1, 2, 3, 4}),
		constSection(".rodata.cst8", 8, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		strSection(".rodata.str1.1", 1, []byte("s\x00")),
	)
	objB := testObject("b.o",
		strSection(".rodata.str1.1", 1, []byte("t\x00")),
	)

	l := collectAndFinalize(t, 0, objA, objB)

	assert.Equal(t, 3, len(l.MergedSections), "cst4, cst8 and str are distinct groups")

	names := []string{}
	for _, ms := range l.MergedSections {
		names = append(names, ms.Name)
	}
	assert.NotEqual(t, -1, helpers.Find(names, ".rodata.cst"))
	assert.NotEqual(t, -1, helpers.Find(names, ".rodata.str"))

	strNdx := helpers.FindIf(l.MergedSections, func(ms *MergedSection) bool {
		return ms.Name == ".rodata.str"
	})
	assert.Equal(t, uint64(4), l.MergedSections[strNdx].Size,
		"both objects' strings land in the one string group")
}

func TestLinkerLayoutAlignment(t *testing.T) {
	objA := testObject("a.o",
		strSection(".rodata.str1.1", 1, []byte("abc\x00")),
		constSection(".rodata.cst8", 8, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
	)

	l := collectAndFinalize(t, 0x1001, objA)

	strGroup := l.MergedSections[0]
	cstGroup := l.MergedSections[1]
	assert.Equal(t, uint64(0x1001), strGroup.Addr, "byte alignment keeps the base")
	assert.Equal(t, uint64(0), cstGroup.Addr%8, "constant group honors its alignment")
	assert.True(t, cstGroup.Addr >= strGroup.Addr+strGroup.Size)
}

func TestLinkerMalformedSectionDegrades(t *testing.T) {
	bad := constSection(".rodata.cst4", 4, []byte{1, 2, 3, 4, 5})
	good := constSection(".rodata.cst4", 4, []byte{1, 2, 3, 4})
	objA := testObject("a.o", bad, good)

	l := collectAndFinalize(t, 0, objA)

	assert.Equal(t, []SectionRef{{Object: objA, Shndx: 1}}, l.Unmerged)
	assert.Equal(t, uint64(4), l.MergedSections[0].Size,
		"only the well-formed section was merged")

	_, err := l.TranslateAddress(objA, 1, 0)
	assert.Error(t, err, "the rejected section has no mappings")
}

func TestLinkerOverAlignedStringSectionDegrades(t *testing.T) {
	over := strSection(".rodata.str1.1", 1, []byte("x\x00"))
	over.SectionEntry.ShAddrAlign = 8
	objA := testObject("a.o", over)

	l := collectAndFinalize(t, 0, objA)

	assert.Equal(t, 0, len(l.MergedSections))
	assert.Equal(t, 1, len(l.Unmerged))
}

func TestLinkerDeterministicEmit(t *testing.T) {
	run := func() []byte {
		objA := testObject("a.o",
			constSection(".rodata.cst4", 4, []byte{1, 2, 3, 4, 9, 9, 9, 9}),
			strSection(".rodata.str1.1", 1, []byte("alpha\x00beta\x00")),
		)
		objB := testObject("b.o",
			constSection(".rodata.cst4", 4, []byte{9, 9, 9, 9}),
			strSection(".rodata.str1.1", 1, []byte("beta\x00ta\x00")),
		)

		l := collectAndFinalize(t, 0, objA, objB)

		out := &writeAtBuffer{}
		assert.NoError(t, l.Emit(out))
		return out.buf
	}

	assert.Equal(t, run(), run(), "repeated runs over the same inputs must be byte-identical")
}

func TestLinkerEmitRoundTrip(t *testing.T) {
	section := []byte{0xde, 0xad, 0xbe, 0xef, 0x10, 0x20, 0x30, 0x40}
	objA := testObject("a.o", constSection(".rodata.cst4", 4, section))

	l := collectAndFinalize(t, 0, objA)

	out := &writeAtBuffer{}
	assert.NoError(t, l.Emit(out))

	for off := uint64(0); off < uint64(len(section)); off += 4 {
		addr, err := l.TranslateAddress(objA, 1, off)
		assert.NoError(t, err)
		assert.Equal(t, section[off:off+4], out.buf[addr:addr+4])
	}
}

func TestLinkerStats(t *testing.T) {
	objA := testObject("a.o", constSection(".rodata.cst4", 4, []byte{1, 2, 3, 4, 1, 2, 3, 4}))

	l := collectAndFinalize(t, 0, objA)

	stats := l.Stats()
	assert.Equal(t, 1, len(stats))
	assert.Equal(t, ".rodata.cst", stats[0].Name)
	assert.Equal(t, uint64(8), stats[0].InputBytes)
	assert.Equal(t, uint64(4), stats[0].OutputBytes)
	assert.Equal(t, 2, stats[0].Mappings)
}

func TestResolveMergedRelocations(t *testing.T) {
	data := constSection(".rodata.cst4", 4, []byte{1, 1, 1, 1, 2, 2, 2, 2})
	objA := testObject("a.o", data)

	// A section symbol for the mergeable section plus one relocation
	// whose addend picks the second constant.
	objA.Symbols = []*elf.NamedSymbol{
		{Name: "", Sym: &elf.ELF64Sym{}},
		{Name: ".rodata.cst4", Sym: &elf.ELF64Sym{
			StInfo:  elf.STT_SECTION,
			StShNdx: 1,
		}},
	}
	relaSection := &elf.Section{
		Name: ".rela.text",
		SectionEntry: &elf.ELF64Shdr{
			ShType: elf.SHT_RELA,
			ShInfo: 5,
		},
		Relas: []elf.ELF64Rela{
			{Offset: 0x10, Info: 1 << 32, Addend: 4},
		},
	}
	objA.Sections = append(objA.Sections, relaSection)

	l := collectAndFinalize(t, 0x4000, objA)

	resolved, err := l.ResolveMergedRelocations(objA)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(resolved))

	want, err := l.TranslateAddress(objA, 1, 4)
	assert.NoError(t, err)
	assert.Equal(t, want, resolved[0].Addr)
	assert.Equal(t, uint32(5), resolved[0].TargetShndx)
	assert.Equal(t, uint64(0x10), resolved[0].Offset)
}

func TestResolveMergedRelocationsSurfacesLookupFailure(t *testing.T) {
	data := constSection(".rodata.cst4", 4, []byte{1, 1, 1, 1})
	objA := testObject("a.o", data)

	objA.Symbols = []*elf.NamedSymbol{
		{Name: "", Sym: &elf.ELF64Sym{}},
		{Name: ".rodata.cst4", Sym: &elf.ELF64Sym{
			StInfo:  elf.STT_SECTION,
			StShNdx: 1,
		}},
	}
	objA.Sections = append(objA.Sections, &elf.Section{
		Name:         ".rela.text",
		SectionEntry: &elf.ELF64Shdr{ShType: elf.SHT_RELA, ShInfo: 5},
		Relas: []elf.ELF64Rela{
			// Offset 2 is inside the constant, not at its start.
			{Offset: 0x10, Info: 1 << 32, Addend: 2},
		},
	})

	l := collectAndFinalize(t, 0, objA)

	_, err := l.ResolveMergedRelocations(objA)
	assert.Error(t, err)

	var lookupErr *merge.LookupError
	assert.Truef(t, errors.As(err, &lookupErr), "want a LookupError, got %v", err)
	assert.Equal(t, uint64(2), lookupErr.Offset)
	assert.Contains(t, err.Error(), "a.o")
}

func TestLinkerPhaseViolations(t *testing.T) {
	objA := testObject("a.o", constSection(".rodata.cst4", 4, []byte{1, 2, 3, 4}))

	l := NewLinker(LinkerInputs{})
	l.AddObject(objA)

	assert.Panics(t, func() {
		l.TranslateAddress(objA, 1, 0)
	}, "translate before finalize")

	assert.NoError(t, l.CollectMergeableSections())
	l.FinalizeLayout(0)

	assert.Panics(t, func() {
		l.CollectMergeableSections()
	}, "collect after finalize")

	assert.Panics(t, func() {
		l.FinalizeLayout(0)
	}, "finalize twice")
}
