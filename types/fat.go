package types

import "fmt"

// FatHeaderSize and FatArchHeaderSize are the on-disk sizes of the
// universal header and of one architecture entry. Both are big-endian.
const (
	FatHeaderSize     = 2 * 4
	FatArchHeaderSize = 5 * 4
)

// A FatHeader is the header of a universal (fat) Mach-O file.
type FatHeader struct {
	Magic Magic
	NArch uint32
}

// A FatArchHeader describes one architecture slice of a fat file.
type FatArchHeader struct {
	CPU    CPU
	SubCPU CPUSubtype
	Offset uint32
	Size   uint32
	Align  uint32
}

func (h FatArchHeader) String() string {
	return fmt.Sprintf("%s (%s) offset=%#x size=%#x align=2^%d", h.CPU, h.SubCPU.String(h.CPU), h.Offset, h.Size, h.Align)
}
