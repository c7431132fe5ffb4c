// Package covmap reads and rewrites the filename tables of an LLVM coverage
// mapping section (__llvm_covmap).
package covmap

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/appsworld/go-macho-patch/pkg/cursor"
	"github.com/appsworld/go-macho-patch/pkg/prefix"
	"github.com/appsworld/go-macho-patch/types"
)

const (
	v1FunctionSize   = 8 + 4 + 4 + 8 // name ref, name length, data size, hash
	v2FunctionSize   = 8 + 4 + 8     // name md5, data size, hash
	recordAlign      = 8

	// maxStoredVersion is the last stored version that keeps function
	// records and plain filenames in the covmap section.
	maxStoredVersion = 2
)

// A FilenameGroup is the list of source files referenced by one coverage
// mapping record. Coverage data refers to the files by index.
type FilenameGroup struct {
	// Offset is where the group starts in the section.
	Offset int
	// Size is the encoded size of the group in bytes.
	Size      int
	Filenames []string
}

// A Record is one coverage mapping record header and its filenames.
type Record struct {
	NRecords      uint32
	FilenamesSize uint32
	CoverageSize  uint32
	Version       uint32 // as stored, zero based
	Group         FilenameGroup
}

func (r *Record) String() string {
	return fmt.Sprintf("version=%d functions=%d filenames=%d (%#x bytes at %#x) coverage=%#x",
		r.Version+1, r.NRecords, len(r.Group.Filenames), r.Group.Size, r.Group.Offset, r.CoverageSize)
}

// A Section is a parsed __llvm_covmap section.
type Section struct {
	Records []*Record

	data  []byte
	order binary.ByteOrder
}

// Parse decodes every coverage mapping record in dat.
func Parse(dat []byte, order binary.ByteOrder) (*Section, error) {
	s := &Section{data: dat, order: order}
	c := cursor.New(dat, order)
	for c.Remaining() > 0 {
		r, err := s.readRecord(c)
		if err != nil {
			return nil, err
		}
		s.Records = append(s.Records, r)
	}
	return s, nil
}

func (s *Section) readRecord(c *cursor.Cursor) (*Record, error) {
	start := c.Offset()
	var r Record
	for _, f := range []*uint32{&r.NRecords, &r.FilenamesSize, &r.CoverageSize, &r.Version} {
		v, err := c.Uint32()
		if err != nil {
			return nil, types.Wrapf(types.InvalidFile, err, "failed to read coverage mapping header at %#x", start)
		}
		*f = v
	}
	if r.Version > maxStoredVersion {
		return nil, types.Errorf(types.InvalidFile, "coverage mapping version %d at %#x is not supported", r.Version+1, start)
	}

	recSize := v2FunctionSize
	if r.Version == 0 {
		recSize = v1FunctionSize
	}
	if err := c.Skip(int(r.NRecords) * recSize); err != nil {
		return nil, types.Wrapf(types.InvalidFile, err, "failed to read %d function records at %#x", r.NRecords, c.Offset())
	}

	dataStart := c.Offset()
	if err := readFilenameGroup(c, &r.Group); err != nil {
		return nil, err
	}

	dataEnd := uint64(dataStart) + uint64(r.FilenamesSize) + uint64(r.CoverageSize)
	if dataEnd > uint64(c.Len()) {
		return nil, types.Errorf(types.ReadFailed, "coverage data at %#x extends past end of section (%#x > %#x)", dataStart, dataEnd, c.Len())
	}
	if uint64(r.Group.Offset+r.Group.Size) > uint64(dataStart)+uint64(r.FilenamesSize) {
		return nil, types.Errorf(types.InvalidFile, "filename group at %#x overruns its declared size %#x", r.Group.Offset, r.FilenamesSize)
	}

	// Records are 8 byte aligned; trailing alignment ends the section.
	next := int(dataEnd)
	if next < c.Len() && next%recordAlign != 0 {
		next += recordAlign - next%recordAlign
	}
	if next > c.Len() {
		next = c.Len()
	}
	if err := c.Seek(next); err != nil {
		return nil, types.Wrap(types.ReadFailed, err, "failed to seek to next coverage mapping")
	}
	return &r, nil
}

func readFilenameGroup(c *cursor.Cursor, g *FilenameGroup) error {
	g.Offset = c.Offset()
	n, err := c.Uleb128()
	if err != nil {
		return types.Wrapf(types.InvalidFile, err, "failed to read filename count at %#x", g.Offset)
	}
	if n > uint64(c.Remaining()) {
		return types.Errorf(types.InvalidFile, "filename count %d at %#x exceeds section", n, g.Offset)
	}
	g.Filenames = make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		off := c.Offset()
		l, err := c.Uleb128()
		if err != nil {
			return types.Wrapf(types.InvalidFile, err, "failed to read filename length at %#x", off)
		}
		if l > uint64(c.Remaining()) {
			return types.Errorf(types.ReadFailed, "filename at %#x extends past end of section", off)
		}
		name, err := c.Fixed(int(l))
		if err != nil {
			return types.Wrapf(types.ReadFailed, err, "failed to read filename at %#x", off)
		}
		g.Filenames = append(g.Filenames, string(name))
	}
	g.Size = c.Offset() - g.Offset
	return nil
}

// EncodedSize is the size of the group without padding.
func (g *FilenameGroup) EncodedSize() int {
	n := cursor.UlebSize(uint64(len(g.Filenames)))
	for _, f := range g.Filenames {
		n += cursor.UlebSize(uint64(len(f))) + len(f)
	}
	return n
}

// Encode serializes the group, appending filler filenames so the result is
// exactly size bytes. Fillers go after every real name, so indices stay
// valid. It fails with ErrSectionGrowthUnsupported when the names alone do
// not fit.
func (g *FilenameGroup) Encode(size int) ([]byte, error) {
	base := g.EncodedSize()
	if base > size {
		return nil, types.Wrapf(types.NotImplemented, types.ErrSectionGrowthUnsupported,
			"filename group at %#x needs %#x bytes, has %#x", g.Offset, base, size)
	}
	fill, err := fillersFor(len(g.Filenames), size-base)
	if err != nil {
		return nil, types.Wrapf(types.InvalidFile, err, "filename group at %#x", g.Offset)
	}

	b := make([]byte, 0, size)
	b = cursor.AppendUleb128(b, uint64(len(g.Filenames)+len(fill)))
	for _, f := range g.Filenames {
		b = cursor.AppendUleb128(b, uint64(len(f)))
		b = append(b, f...)
	}
	for _, n := range fill {
		b = cursor.AppendUleb128(b, uint64(n))
		b = append(b, make([]byte, n)...)
	}
	if len(b) != size {
		return nil, types.Errorf(types.InvalidFile, "filename group at %#x encoded to %#x bytes, want %#x", g.Offset, len(b), size)
	}
	return b, nil
}

// fillers splits padding bytes into filler filenames and returns their
// content lengths. Each filler is framed by a one byte length, so a filler
// takes n+1 bytes. 127 is the longest one byte ULEB128 length.
func fillers(padding int) []int {
	var fs []int
	for padding > 129 {
		fs = append(fs, 127)
		padding -= 128
	}
	// 128 bytes here would leave a single byte.
	if padding == 129 {
		fs = append(fs, 126)
		padding -= 127
	}
	if padding > 0 {
		fs = append(fs, padding-1)
	}
	return fs
}

// fillersFor picks fillers for padding bytes behind count real names. Extra
// bytes taken by the grown filename count come out of the padding. The
// regular split from fillers is used when it settles; otherwise the filler
// count is searched and the padding spread across that many fillers.
func fillersFor(count, padding int) ([]int, error) {
	if padding == 0 {
		return nil, nil
	}
	growth := func(k int) int {
		return cursor.UlebSize(uint64(count+k)) - cursor.UlebSize(uint64(count))
	}
	for extra := 0; extra < padding && extra <= binary.MaxVarintLen64; extra++ {
		if fs := fillers(padding - extra); growth(len(fs)) == extra {
			return fs, nil
		}
	}
	// Each filler takes between 1 and 128 bytes.
	for k := 1; k <= padding; k++ {
		rem := padding - growth(k)
		if rem < k || rem > k*128 {
			continue
		}
		fs := make([]int, k)
		rem -= k
		for i := range fs {
			n := rem
			if n > 127 {
				n = 127
			}
			fs[i] = n
			rem -= n
		}
		return fs, nil
	}
	return nil, errors.Errorf("cannot express %d bytes of padding behind %d filenames", padding, count)
}

// Patch rewrites every filename matched by rules. It returns a copy of the
// section with the same length and whether anything changed. Groups are
// padded back to their original size; a group that would grow fails the
// whole patch.
func (s *Section) Patch(rules prefix.Rules) ([]byte, bool, error) {
	out := append([]byte(nil), s.data...)
	modified := false
	for _, r := range s.Records {
		g := FilenameGroup{Offset: r.Group.Offset, Size: r.Group.Size}
		changed := false
		for _, f := range r.Group.Filenames {
			nf, ok := rules.Replace(f)
			changed = changed || ok
			g.Filenames = append(g.Filenames, nf)
		}
		if !changed {
			continue
		}
		enc, err := g.Encode(r.Group.Size)
		if err != nil {
			return nil, false, err
		}
		copy(out[g.Offset:], enc)
		modified = true
	}
	return out, modified, nil
}
