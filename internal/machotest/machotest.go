// Package machotest builds small Mach-O images in memory for tests.
package machotest

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"

	"github.com/appsworld/go-macho-patch/types"
)

// A Section is one section of a fixture segment.
type Section struct {
	Name  string
	Data  []byte
	Align uint32 // power of two
	Flags types.SectionFlag
	// Relocs are raw relocation entries (8 bytes each), stored in __LINKEDIT.
	Relocs []byte
}

// A Segment is a fixture segment. Sections are laid out in order.
type Segment struct {
	Name     string
	Sections []Section
}

// A Symbol is a fixture symbol table entry.
type Symbol struct {
	Name  string
	Type  types.NType
	Sect  uint8
	Desc  uint16
	Value uint64
}

// An Image describes a thin Mach-O file.
type Image struct {
	Is64   bool
	Order  binary.ByteOrder
	CPU    types.CPU
	SubCPU types.CPUSubtype
	Type   types.HeaderFileType

	Segments []Segment
	Symbols  []Symbol
	// FunctionStarts, when set, is stored in __LINKEDIT behind an
	// LC_FUNCTION_STARTS command.
	FunctionStarts []byte
}

// Layout records where Build placed things, relative to the image start.
type Layout struct {
	Sections       map[string]uint32 // "seg,sect" -> file offset
	SegmentOffsets map[string]uint64
	Symoff         uint32
	Stroff         uint32
	FunctionStarts uint32
}

func alignUp(v, a uint64) uint64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

func name16(s string) [16]byte {
	var b [16]byte
	copy(b[:], s)
	return b
}

func pack(w *bytes.Buffer, v interface{}, o binary.ByteOrder) {
	if err := struc.PackWithOrder(w, v, o); err != nil {
		panic(err)
	}
}

// Bytes builds the image.
func (img *Image) Bytes() []byte {
	b, _ := img.Build()
	return b
}

// Build builds the image and reports its layout.
func (img *Image) Build() ([]byte, Layout) {
	o := img.Order
	if o == nil {
		o = binary.LittleEndian
	}
	cpu := img.CPU
	if cpu == 0 {
		cpu = types.CPUArm
		if img.Is64 {
			cpu = types.CPUArm64
		}
	}
	ftype := img.Type
	if ftype == 0 {
		ftype = types.MH_EXECUTE
	}

	hdrSize, segSize, sectSize := uint64(types.FileHeaderSize32), uint64(types.Segment32Size), uint64(types.Section32Size)
	magic := types.Magic32
	if img.Is64 {
		hdrSize, segSize, sectSize = types.FileHeaderSize64, types.Segment64Size, types.Section64Size
		magic = types.Magic64
	}

	var relocs int
	for _, seg := range img.Segments {
		for _, s := range seg.Sections {
			relocs += len(s.Relocs)
		}
	}
	hasLinkEdit := len(img.Symbols) > 0 || len(img.FunctionStarts) > 0 || relocs > 0

	ncmds := uint32(len(img.Segments))
	sizeofcmds := uint64(0)
	for _, seg := range img.Segments {
		sizeofcmds += segSize + uint64(len(seg.Sections))*sectSize
	}
	if hasLinkEdit {
		ncmds++
		sizeofcmds += segSize
	}
	if len(img.Symbols) > 0 {
		ncmds += 2
		sizeofcmds += 24 + 80
	}
	if len(img.FunctionStarts) > 0 {
		ncmds++
		sizeofcmds += 16
	}

	lay := Layout{Sections: map[string]uint32{}, SegmentOffsets: map[string]uint64{}}

	// Place section data.
	type placed struct {
		off, reloff uint64
	}
	places := make([][]placed, len(img.Segments))
	segOff := make([]uint64, len(img.Segments))
	segEnd := make([]uint64, len(img.Segments))
	cur := alignUp(hdrSize+sizeofcmds, 16)
	for i, seg := range img.Segments {
		segOff[i] = cur
		for _, s := range seg.Sections {
			var p placed
			if !s.Flags.IsZerofill() {
				cur = alignUp(cur, 1<<s.Align)
				p.off = cur
				cur += uint64(len(s.Data))
				lay.Sections[seg.Name+","+s.Name] = uint32(p.off)
			}
			places[i] = append(places[i], p)
		}
		segEnd[i] = cur
		lay.SegmentOffsets[seg.Name] = segOff[i]
	}
	linkOff := alignUp(cur, 8)
	cur = linkOff
	if hasLinkEdit {
		lay.SegmentOffsets["__LINKEDIT"] = linkOff
	}
	for i, seg := range img.Segments {
		for j, s := range seg.Sections {
			if len(s.Relocs) > 0 {
				places[i][j].reloff = cur
				cur += uint64(len(s.Relocs))
			}
		}
	}
	if len(img.FunctionStarts) > 0 {
		lay.FunctionStarts = uint32(cur)
		cur += uint64(len(img.FunctionStarts))
	}
	cur = alignUp(cur, 8)
	var strtab []byte
	var nlists bytes.Buffer
	if len(img.Symbols) > 0 {
		strtab = []byte{' ', 0}
		for _, sym := range img.Symbols {
			nameOff := uint32(len(strtab))
			strtab = append(append(strtab, sym.Name...), 0)
			if img.Is64 {
				pack(&nlists, &types.Nlist64{Name: nameOff, Type: sym.Type, Sect: sym.Sect, Desc: sym.Desc, Value: sym.Value}, o)
			} else {
				pack(&nlists, &types.Nlist32{Name: nameOff, Type: sym.Type, Sect: sym.Sect, Desc: sym.Desc, Value: uint32(sym.Value)}, o)
			}
		}
		lay.Symoff = uint32(cur)
		cur += uint64(nlists.Len())
		lay.Stroff = uint32(cur)
		cur += uint64(len(strtab))
	}
	end := cur

	var w bytes.Buffer
	pack(&w, &types.FileHeader{
		Magic:        magic,
		CPU:          cpu,
		SubCPU:       img.SubCPU,
		Type:         ftype,
		NCommands:    ncmds,
		SizeCommands: uint32(sizeofcmds),
	}, o)
	if img.Is64 {
		w.Write([]byte{0, 0, 0, 0})
	}

	vmbase := uint64(0x1000)
	if img.Is64 {
		vmbase = 0x100000000
	}
	writeSeg := func(name string, off, size uint64, nsect int) {
		if img.Is64 {
			pack(&w, &types.Segment64{
				LoadCmd: types.LC_SEGMENT_64, Len: uint32(segSize + uint64(nsect)*sectSize),
				Name: name16(name), Addr: vmbase + off, Memsz: size, Offset: off, Filesz: size,
				Maxprot: 7, Prot: 3, Nsect: uint32(nsect),
			}, o)
		} else {
			pack(&w, &types.Segment32{
				LoadCmd: types.LC_SEGMENT, Len: uint32(segSize + uint64(nsect)*sectSize),
				Name: name16(name), Addr: uint32(vmbase + off), Memsz: uint32(size), Offset: uint32(off), Filesz: uint32(size),
				Maxprot: 7, Prot: 3, Nsect: uint32(nsect),
			}, o)
		}
	}
	for i, seg := range img.Segments {
		writeSeg(seg.Name, segOff[i], segEnd[i]-segOff[i], len(seg.Sections))
		for j, s := range seg.Sections {
			p := places[i][j]
			size := uint64(len(s.Data))
			nreloc := uint32(len(s.Relocs) / 8)
			if img.Is64 {
				pack(&w, &types.Section64{
					Name: name16(s.Name), Seg: name16(seg.Name), Addr: vmbase + p.off, Size: size,
					Offset: uint32(p.off), Align: s.Align, Reloff: uint32(p.reloff), Nreloc: nreloc, Flags: s.Flags,
				}, o)
			} else {
				pack(&w, &types.Section32{
					Name: name16(s.Name), Seg: name16(seg.Name), Addr: uint32(vmbase + p.off), Size: uint32(size),
					Offset: uint32(p.off), Align: s.Align, Reloff: uint32(p.reloff), Nreloc: nreloc, Flags: s.Flags,
				}, o)
			}
		}
	}
	if hasLinkEdit {
		writeSeg("__LINKEDIT", linkOff, end-linkOff, 0)
	}
	if len(img.Symbols) > 0 {
		pack(&w, &types.SymtabCmd{
			LoadCmd: types.LC_SYMTAB, Len: 24,
			Symoff: lay.Symoff, Nsyms: uint32(len(img.Symbols)),
			Stroff: lay.Stroff, Strsize: uint32(len(strtab)),
		}, o)
		pack(&w, &types.DysymtabCmd{
			LoadCmd: types.LC_DYSYMTAB, Len: 80,
			Nlocalsym: uint32(len(img.Symbols)),
		}, o)
	}
	if len(img.FunctionStarts) > 0 {
		pack(&w, &types.LinkEditDataCmd{
			LoadCmd: types.LC_FUNCTION_STARTS, Len: 16,
			Offset: lay.FunctionStarts, Size: uint32(len(img.FunctionStarts)),
		}, o)
	}

	out := make([]byte, end)
	copy(out, w.Bytes())
	for i, seg := range img.Segments {
		for j, s := range seg.Sections {
			p := places[i][j]
			if !s.Flags.IsZerofill() {
				copy(out[p.off:], s.Data)
			}
			copy(out[p.reloff:], s.Relocs)
		}
	}
	copy(out[lay.FunctionStarts:], img.FunctionStarts)
	copy(out[lay.Symoff:], nlists.Bytes())
	copy(out[lay.Stroff:], strtab)
	return out, lay
}

// Fat wraps thin images in a big-endian universal header. Slices are
// aligned to 2^align bytes.
func Fat(align uint32, images ...*Image) []byte {
	var slices [][]byte
	for _, img := range images {
		slices = append(slices, img.Bytes())
	}
	var hdr bytes.Buffer
	pack(&hdr, &types.FatHeader{Magic: types.MagicFat, NArch: uint32(len(images))}, binary.BigEndian)

	off := alignUp(uint64(types.FatHeaderSize+len(images)*types.FatArchHeaderSize), 1<<align)
	offs := make([]uint64, len(images))
	for i, s := range slices {
		offs[i] = off
		cpu := images[i].CPU
		if cpu == 0 {
			cpu = types.CPUArm
			if images[i].Is64 {
				cpu = types.CPUArm64
			}
		}
		pack(&hdr, &types.FatArchHeader{
			CPU: cpu, SubCPU: images[i].SubCPU,
			Offset: uint32(off), Size: uint32(len(s)), Align: align,
		}, binary.BigEndian)
		off = alignUp(off+uint64(len(s)), 1<<align)
	}
	last := offs[len(offs)-1] + uint64(len(slices[len(slices)-1]))
	out := make([]byte, last)
	copy(out, hdr.Bytes())
	for i, s := range slices {
		copy(out[offs[i]:], s)
	}
	return out
}
