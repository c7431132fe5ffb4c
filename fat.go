package macho

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lunixbochs/struc"

	"github.com/appsworld/go-macho-patch/types"
)

// A FatFile is a Mach-O universal binary that contains at least one architecture.
type FatFile struct {
	types.FatHeader
	ByteOrder binary.ByteOrder
	Arches    []FatArch
}

// A FatArch is a Mach-O File inside a FatFile.
type FatArch struct {
	types.FatArchHeader
	*File
}

// ErrNotFat is returned from NewFatFile or OpenFat when the file is not a
// universal binary but may be a thin binary, based on its magic number.
var ErrNotFat = &FormatError{0, "not a fat Mach-O file", nil}

const magicFat64 = 0xcafebabf

// fatOrder reports the byte order of a fat header, if ident is one.
func fatOrder(ident []byte) (binary.ByteOrder, bool) {
	if len(ident) < 4 {
		return nil, false
	}
	switch {
	case binary.BigEndian.Uint32(ident) == uint32(types.MagicFat):
		return binary.BigEndian, true
	case binary.LittleEndian.Uint32(ident) == uint32(types.MagicFat):
		return binary.LittleEndian, true
	}
	return nil, false
}

// NewFatFile creates a new FatFile for accessing all the Mach-O images in a
// universal binary. The Mach-O binary is expected to start at position 0 in
// the ReaderAt.
func NewFatFile(r io.ReaderAt) (*FatFile, error) {
	dat, err := io.ReadAll(io.NewSectionReader(r, 0, 1<<63-1))
	if err != nil {
		return nil, types.Wrap(types.ReadFailed, err, "failed to read fat file")
	}
	return newFatFileFromBytes(dat)
}

func newFatFileFromBytes(dat []byte) (*FatFile, error) {
	var ff FatFile

	bo, ok := fatOrder(dat)
	if !ok {
		if len(dat) >= 4 && binary.BigEndian.Uint32(dat) == magicFat64 {
			return nil, types.Errorf(types.NotImplemented, "64-bit fat headers are not supported")
		}
		return nil, ErrNotFat
	}
	ff.ByteOrder = bo
	if err := struc.UnpackWithOrder(bytes.NewReader(dat), &ff.FatHeader, bo); err != nil {
		return nil, types.Wrap(types.InvalidFile, err, "failed to read fat header")
	}
	if ff.NArch < 1 {
		return nil, types.Wrap(types.InvalidFile, &FormatError{0, "file contains no images", nil}, "failed to read fat header")
	}
	if uint64(types.FatHeaderSize)+uint64(ff.NArch)*types.FatArchHeaderSize > uint64(len(dat)) {
		return nil, types.Wrap(types.InvalidFile, &FormatError{0, "fat arch table extends past end of file", ff.NArch}, "failed to read fat header")
	}

	// Combine the Cpu and SubCpu (both uint32) into a uint64 to make sure
	// there are no duplicate architectures (CPU and SubCPU combined).
	seenArches := make(map[uint64]bool, ff.NArch)
	b := bytes.NewReader(dat[types.FatHeaderSize:])
	for i := uint32(0); i < ff.NArch; i++ {
		off := int64(types.FatHeaderSize) + int64(i)*types.FatArchHeaderSize
		var fa FatArch
		if err := struc.UnpackWithOrder(b, &fa.FatArchHeader, bo); err != nil {
			return nil, types.Wrap(types.InvalidFile, err, "failed to read fat arch header")
		}
		if uint64(fa.Offset)+uint64(fa.Size) > uint64(len(dat)) {
			return nil, types.Wrap(types.InvalidFile, &FormatError{off, "fat slice extends past end of file", fa.FatArchHeader}, "failed to read fat arch")
		}
		if _, ok := fatOrder(dat[fa.Offset:]); ok {
			return nil, types.Wrap(types.InvalidFile, &FormatError{off, "nested fat file", nil}, "failed to read fat arch")
		}

		seenArch := (uint64(fa.CPU) << 32) | uint64(fa.SubCPU)
		if seenArches[seenArch] {
			return nil, types.Wrap(types.InvalidFile, &FormatError{off, "duplicate architecture cpu=" + fa.CPU.String(), fa.SubCPU.String(fa.CPU)}, "failed to read fat arch")
		}
		seenArches[seenArch] = true

		img := append([]byte(nil), dat[fa.Offset:fa.Offset+fa.Size]...)
		f, err := newFileFromBytes(img, int64(fa.Offset))
		if err != nil {
			return nil, types.Wrapf(types.CodeOf(err), err, "slice %d (%s)", i, fa.CPU)
		}
		if f.CPU != fa.CPU || f.SubCPU != fa.SubCPU {
			return nil, types.Wrap(types.InvalidFile, &FormatError{off, "mach-o header does not match fat arch", fmt.Sprintf("%s/%s", f.CPU, fa.CPU)}, "failed to read fat arch")
		}
		fa.File = f
		ff.Arches = append(ff.Arches, fa)
	}
	return &ff, nil
}

// putArch encodes the architecture table entry i into buf.
func (ff *FatFile) putArch(buf []byte, i int) error {
	var b bytes.Buffer
	if err := struc.PackWithOrder(&b, &ff.Arches[i].FatArchHeader, ff.ByteOrder); err != nil {
		return types.Wrap(types.WriteFailed, err, "failed to encode fat arch")
	}
	copy(buf[types.FatHeaderSize+i*types.FatArchHeaderSize:], b.Bytes())
	return nil
}
