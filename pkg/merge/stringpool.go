package merge

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
)

// InternedString is one unique string owned by a StringPool. The content
// always includes the terminating zero code unit. Its output offset is
// meaningless until the pool is finalized.
type InternedString struct {
	data   []byte
	offset uint64
}

// Bytes returns the string content including the terminator. Callers
// must not modify it.
func (s *InternedString) Bytes() []byte {
	return s.data
}

// StringPool owns one canonical copy of every distinct string interned
// into it. Interning is safe to call from multiple mergers concurrently;
// it is the only cross-merger contention point, so one mutex around the
// lookup is enough.
//
// Finalization assigns every unique string an output offset. A string
// that is a proper suffix of another stored string gets no storage of
// its own; its offset points into the longer string's tail. Every merger
// sharing a pool must reach Finalize before any of them emits, since the
// first Finalize fixes the storage order for all of them.
type StringPool struct {
	mu        sync.Mutex
	width     uint64
	strings   map[string]*InternedString
	storage   []byte
	finalized bool
}

// NewStringPool creates a pool for strings of the given code-unit width.
// Width must be 1, 2 or 4 bytes.
func NewStringPool(width uint64) *StringPool {
	switch width {
	case 1, 2, 4:
	default:
		panic(fmt.Sprintf("merge: invalid string pool code-unit width %d", width))
	}
	return &StringPool{
		width:   width,
		strings: make(map[string]*InternedString),
	}
}

func (p *StringPool) Width() uint64 {
	return p.width
}

// Intern returns the pooled copy of str, which must include its
// terminator. Equal content always returns the same *InternedString.
func (p *StringPool) Intern(str []byte) *InternedString {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		panic("merge: Intern called after Finalize")
	}
	if s, found := p.strings[string(str)]; found {
		return s
	}
	s := &InternedString{data: append([]byte(nil), str...)}
	p.strings[string(s.data)] = s
	return s
}

// Finalize fixes the storage order and assigns every string its output
// offset, returning the total storage size. The first call does the
// work; later calls from other mergers sharing the pool return the same
// size.
//
// Strings are laid out in descending reverse-byte order. In that order
// any string that is a suffix of an already stored string directly
// follows a string it is a suffix of, so one linear pass against the
// most recently stored string finds every sharing opportunity.
func (p *StringPool) Finalize() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		return uint64(len(p.storage))
	}
	p.finalized = true

	ordered := make([]*InternedString, 0, len(p.strings))
	for _, s := range p.strings {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return reverseCompare(ordered[i].data, ordered[j].data) > 0
	})

	var stored *InternedString
	for _, s := range ordered {
		if stored != nil && bytes.HasSuffix(stored.data, s.data) {
			s.offset = stored.offset + uint64(len(stored.data)-len(s.data))
			continue
		}
		s.offset = uint64(len(p.storage))
		p.storage = append(p.storage, s.data...)
		stored = s
	}

	return uint64(len(p.storage))
}

// Size returns the finalized storage size.
func (p *StringPool) Size() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.finalized {
		panic("merge: Size called before Finalize")
	}
	return uint64(len(p.storage))
}

// Emit writes the unique-string storage in the order fixed by Finalize.
func (p *StringPool) Emit(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.finalized {
		panic("merge: Emit called before Finalize")
	}
	_, err := w.Write(p.storage)
	return err
}

// reverseCompare orders byte strings by their content read back to
// front. A string that is a suffix of a longer one compares smaller.
func reverseCompare(a, b []byte) int {
	i, j := len(a)-1, len(b)-1
	for i >= 0 && j >= 0 {
		if a[i] != b[j] {
			if a[i] < b[j] {
				return -1
			}
			return 1
		}
		i--
		j--
	}
	switch {
	case i >= 0:
		return 1
	case j >= 0:
		return -1
	}
	return 0
}
