package linker

import (
	"io"
)

// sectionSink adapts an io.WriterAt to the io.Writer a merger emits
// into, pinning the write to the section's file position.
type sectionSink struct {
	w   io.WriterAt
	off int64
}

func (s *sectionSink) Write(p []byte) (int, error) {
	n, err := s.w.WriteAt(p, s.off)
	s.off += int64(n)
	return n, err
}

// Emit writes every merged section's deduplicated bytes at the file
// offset assigned by FinalizeLayout. Alignment gaps between sections
// are left as zero bytes.
func (linker *Linker) Emit(w io.WriterAt) error {
	if !linker.finalized {
		panic("linker: Emit before FinalizeLayout")
	}

	for _, ms := range linker.MergedSections {
		sink := &sectionSink{w: w, off: int64(ms.FileOff)}
		if err := ms.Merger.Emit(sink); err != nil {
			return err
		}
	}

	return nil
}

// MergeStats summarizes one merge group for reporting.
type MergeStats struct {
	Name        string
	EntSize     uint64
	InputBytes  uint64
	OutputBytes uint64
	Mappings    int
}

func (linker *Linker) Stats() []MergeStats {
	stats := make([]MergeStats, 0, len(linker.MergedSections))
	for _, ms := range linker.MergedSections {
		stats = append(stats, MergeStats{
			Name:        ms.Name,
			EntSize:     ms.EntSize,
			InputBytes:  ms.InputBytes,
			OutputBytes: ms.Size,
			Mappings:    ms.Merger.Mappings(),
		})
	}
	return stats
}
