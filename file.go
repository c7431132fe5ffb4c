package macho

// High level access to low level data structures.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/lunixbochs/struc"

	"github.com/appsworld/go-macho-patch/types"
)

// A File represents one Mach-O image, either a whole thin file or one
// architecture slice of a fat file. The image bytes are held in memory;
// section writes modify them and nothing reaches the disk until the
// owning Container is committed.
type File struct {
	FileTOC

	Symtab   *Symtab
	Dysymtab *Dysymtab

	// ContentOffset is where the image starts inside its container.
	ContentOffset int64

	data        []byte
	loadOffsets []int64
	deferred    []*deferredWrite
	dirty       bool
}

type FileTOC struct {
	types.FileHeader
	ByteOrder binary.ByteOrder
	Loads     []Load
	Sections  []*Section
}

// FileConfig is a MachO file config object
type FileConfig struct {
	// Offset of the image inside its container, used in messages and
	// reported back through File.ContentOffset.
	Offset int64
	// Size bounds the image. Zero means read to the end of the reader.
	Size int64
}

// NewFile parses the Mach-O image in r. The image is expected to start at
// position 0 in the ReaderAt and is copied into memory.
func NewFile(r io.ReaderAt, config ...FileConfig) (*File, error) {
	var cfg FileConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	size := cfg.Size
	if size <= 0 {
		size = 1<<63 - 1
	}
	dat, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, types.Wrap(types.ReadFailed, err, "failed to read image")
	}
	return newFileFromBytes(dat, cfg.Offset)
}

func newFileFromBytes(dat []byte, contentOffset int64) (*File, error) {
	f := &File{data: dat, ContentOffset: contentOffset}

	// Read and decode Mach magic to determine byte order, size.
	// Magic32 and Magic64 differ only in the bottom bit.
	if len(dat) < 4 {
		return nil, types.Wrap(types.InvalidFile, &FormatError{contentOffset, "file too small for magic", len(dat)}, "failed to read magic")
	}
	be := binary.BigEndian.Uint32(dat[0:])
	le := binary.LittleEndian.Uint32(dat[0:])
	switch types.Magic32.Int() &^ 1 {
	case be &^ 1:
		f.ByteOrder = binary.BigEndian
		f.Magic = types.Magic(be)
	case le &^ 1:
		f.ByteOrder = binary.LittleEndian
		f.Magic = types.Magic(le)
	default:
		return nil, types.Wrap(types.InvalidFile, &FormatError{contentOffset, "invalid magic number", fmt.Sprintf("%#08x", be)}, "failed to parse header")
	}

	// Read entire file header.
	if err := struc.UnpackWithOrder(bytes.NewReader(dat), &f.FileHeader, f.ByteOrder); err != nil {
		return nil, types.Wrap(types.InvalidFile, err, "failed to read header")
	}

	// Then load commands.
	offset := int64(types.FileHeaderSize32)
	if f.Magic == types.Magic64 {
		offset = types.FileHeaderSize64
	}
	if offset+int64(f.SizeCommands) > int64(len(dat)) {
		return nil, types.Wrap(types.InvalidFile, &FormatError{offset, "load commands extend past end of file", f.SizeCommands}, "failed to read load commands")
	}
	cmds := dat[offset : offset+int64(f.SizeCommands)]
	f.Loads = make([]Load, 0, f.NCommands)
	bo := f.ByteOrder
	for i := uint32(0); i < f.NCommands; i++ {
		// Each load command begins with uint32 command and length.
		if len(cmds) < 8 {
			return nil, types.Wrap(types.InvalidFile, &FormatError{offset, "command block too small", nil}, "failed to read load commands")
		}
		cmd, siz := types.LoadCmd(bo.Uint32(cmds[0:4])), bo.Uint32(cmds[4:8])
		if siz < 8 || siz > uint32(len(cmds)) {
			return nil, types.Wrap(types.InvalidFile, &FormatError{offset, "invalid command block size", siz}, "failed to read load commands")
		}
		var cmddat []byte
		cmddat, cmds = cmds[0:siz], cmds[siz:]
		f.loadOffsets = append(f.loadOffsets, offset)

		switch cmd {
		case types.LC_SEGMENT, types.LC_SEGMENT_64:
			s, err := f.parseSegment(cmd, cmddat, offset)
			if err != nil {
				return nil, err
			}
			f.Loads = append(f.Loads, s)
		case types.LC_SYMTAB:
			var hdr types.SymtabCmd
			if err := struc.UnpackWithOrder(bytes.NewReader(cmddat), &hdr, bo); err != nil {
				return nil, types.Wrap(types.InvalidFile, err, "failed to read LC_SYMTAB")
			}
			st, err := f.parseSymtab(cmddat, &hdr, offset)
			if err != nil {
				return nil, err
			}
			f.Symtab = st
			f.Loads = append(f.Loads, st)
		case types.LC_DYSYMTAB:
			d := &Dysymtab{LoadBytes: cmddat}
			if err := struc.UnpackWithOrder(bytes.NewReader(cmddat), &d.DysymtabCmd, bo); err != nil {
				return nil, types.Wrap(types.InvalidFile, err, "failed to read LC_DYSYMTAB")
			}
			f.Dysymtab = d
			f.Loads = append(f.Loads, d)
		default:
			f.Loads = append(f.Loads, LoadCmdBytes{cmd, LoadBytes(cmddat)})
		}
		offset += int64(siz)
	}
	return f, nil
}

func (f *File) parseSegment(cmd types.LoadCmd, cmddat []byte, offset int64) (*Segment, error) {
	bo := f.ByteOrder
	b := bytes.NewReader(cmddat)
	s := &Segment{LoadBytes: cmddat}
	s.LoadCmd = cmd
	s.CmdOffset = offset

	hdrSize, sectSize := int64(types.Segment32Size), int64(types.Section32Size)
	if cmd == types.LC_SEGMENT_64 {
		hdrSize, sectSize = types.Segment64Size, types.Section64Size
		var seg64 types.Segment64
		if err := struc.UnpackWithOrder(b, &seg64, bo); err != nil {
			return nil, types.Wrap(types.InvalidFile, err, "failed to read LC_SEGMENT_64")
		}
		s.Len = seg64.Len
		s.Name = cstring(seg64.Name[0:])
		s.Addr = seg64.Addr
		s.Memsz = seg64.Memsz
		s.Offset = seg64.Offset
		s.Filesz = seg64.Filesz
		s.Maxprot = seg64.Maxprot
		s.Prot = seg64.Prot
		s.Nsect = seg64.Nsect
		s.Flag = seg64.Flag
	} else {
		var seg32 types.Segment32
		if err := struc.UnpackWithOrder(b, &seg32, bo); err != nil {
			return nil, types.Wrap(types.InvalidFile, err, "failed to read LC_SEGMENT")
		}
		s.Len = seg32.Len
		s.Name = cstring(seg32.Name[0:])
		s.Addr = uint64(seg32.Addr)
		s.Memsz = uint64(seg32.Memsz)
		s.Offset = uint64(seg32.Offset)
		s.Filesz = uint64(seg32.Filesz)
		s.Maxprot = seg32.Maxprot
		s.Prot = seg32.Prot
		s.Nsect = seg32.Nsect
		s.Flag = seg32.Flag
	}
	if hdrSize+int64(s.Nsect)*sectSize > int64(len(cmddat)) {
		return nil, types.Wrap(types.InvalidFile, &FormatError{offset, "section table extends past segment command", s.Nsect}, "failed to read "+cmd.String())
	}
	if s.Filesz > 0 && s.Offset+s.Filesz > uint64(len(f.data)) {
		return nil, types.Wrap(types.InvalidFile, &FormatError{offset, "segment extends past end of file", s.Name}, "failed to read "+cmd.String())
	}

	for i := int64(0); i < int64(s.Nsect); i++ {
		sh := &Section{HdrOffset: offset + hdrSize + i*sectSize}
		if cmd == types.LC_SEGMENT_64 {
			var sh64 types.Section64
			if err := struc.UnpackWithOrder(b, &sh64, bo); err != nil {
				return nil, types.Wrap(types.InvalidFile, err, "failed to read Section64")
			}
			sh.Name = cstring(sh64.Name[0:])
			sh.Seg = cstring(sh64.Seg[0:])
			sh.Addr = sh64.Addr
			sh.Size = sh64.Size
			sh.Offset = sh64.Offset
			sh.Align = sh64.Align
			sh.Reloff = sh64.Reloff
			sh.Nreloc = sh64.Nreloc
			sh.Flags = sh64.Flags
			sh.Reserved1 = sh64.Reserve1
			sh.Reserved2 = sh64.Reserve2
			sh.Reserved3 = sh64.Reserve3
		} else {
			var sh32 types.Section32
			if err := struc.UnpackWithOrder(b, &sh32, bo); err != nil {
				return nil, types.Wrap(types.InvalidFile, err, "failed to read Section32")
			}
			sh.Name = cstring(sh32.Name[0:])
			sh.Seg = cstring(sh32.Seg[0:])
			sh.Addr = uint64(sh32.Addr)
			sh.Size = uint64(sh32.Size)
			sh.Offset = sh32.Offset
			sh.Align = sh32.Align
			sh.Reloff = sh32.Reloff
			sh.Nreloc = sh32.Nreloc
			sh.Flags = sh32.Flags
			sh.Reserved1 = sh32.Reserve1
			sh.Reserved2 = sh32.Reserve2
		}
		if sh.InFile() && uint64(sh.Offset)+sh.Size > uint64(len(f.data)) {
			return nil, types.Wrap(types.InvalidFile, &FormatError{sh.HdrOffset, "section extends past end of file", sh.Seg + "," + sh.Name}, "failed to read "+cmd.String())
		}
		f.Sections = append(f.Sections, sh)
		s.Sections = append(s.Sections, sh)
	}
	s.sortSections()
	return s, nil
}

func (f *File) parseSymtab(cmddat []byte, hdr *types.SymtabCmd, offset int64) (*Symtab, error) {
	st := &Symtab{LoadBytes: cmddat, SymtabCmd: *hdr}
	entsize := uint64(types.Nlist32Size)
	if f.is64bit() {
		entsize = types.Nlist64Size
	}
	symEnd := uint64(hdr.Symoff) + uint64(hdr.Nsyms)*entsize
	strEnd := uint64(hdr.Stroff) + uint64(hdr.Strsize)
	if symEnd > uint64(len(f.data)) || strEnd > uint64(len(f.data)) {
		// The symbol table is only used for diagnostics.
		log.Warnf("symbol table at %#x extends past end of image, ignoring it", hdr.Symoff)
		return st, nil
	}
	strtab := f.data[hdr.Stroff:strEnd]
	b := bytes.NewReader(f.data[hdr.Symoff:symEnd])
	st.Syms = make([]Symbol, hdr.Nsyms)
	for i := range st.Syms {
		var n types.Nlist64
		if f.is64bit() {
			if err := struc.UnpackWithOrder(b, &n, f.ByteOrder); err != nil {
				return nil, types.Wrap(types.InvalidFile, err, "failed to read nlist64")
			}
		} else {
			var n32 types.Nlist32
			if err := struc.UnpackWithOrder(b, &n32, f.ByteOrder); err != nil {
				return nil, types.Wrap(types.InvalidFile, err, "failed to read nlist")
			}
			n.Name = n32.Name
			n.Type = n32.Type
			n.Sect = n32.Sect
			n.Desc = n32.Desc
			n.Value = uint64(n32.Value)
		}
		if n.Name >= uint32(len(strtab)) && n.Name != 0 {
			return nil, types.Wrap(types.InvalidFile, &FormatError{offset, "invalid name in symbol table", n.Name}, "failed to read LC_SYMTAB")
		}
		sym := &st.Syms[i]
		if n.Name < uint32(len(strtab)) {
			sym.Name = cstring(strtab[n.Name:])
		}
		sym.Type = n.Type
		sym.Sect = n.Sect
		sym.Desc = n.Desc
		sym.Value = n.Value
	}
	return st, nil
}

func (f *File) is64bit() bool {
	return f.FileHeader.Magic == types.Magic64
}

// Order returns the byte order of the image.
func (f *File) Order() binary.ByteOrder { return f.ByteOrder }

// ImageSize returns the current image size, not counting deferred writes.
func (f *File) ImageSize() int { return len(f.data) }

// Segment returns the first Segment with the given name, or nil if no such segment exists.
func (f *File) Segment(name string) *Segment {
	for _, l := range f.Loads {
		if s, ok := l.(*Segment); ok && s.Name == name {
			return s
		}
	}
	return nil
}

// Segments returns all Segments in load command order.
func (f *File) Segments() []*Segment {
	var segs []*Segment
	for _, l := range f.Loads {
		if s, ok := l.(*Segment); ok {
			segs = append(segs, s)
		}
	}
	return segs
}

// Section returns the section with the given segment and section name,
// or nil if no such section exists. Sections in relocatable objects live
// in an unnamed segment, so the section's own segment name is matched.
func (f *File) Section(segment, section string) *Section {
	for _, s := range f.Sections {
		if s.Seg == segment && s.Name == section {
			return s
		}
	}
	return nil
}

// segmentOf returns the segment whose section table holds sec.
func (f *File) segmentOf(sec *Section) *Segment {
	for _, seg := range f.Segments() {
		for _, s := range seg.Sections {
			if s == sec {
				return seg
			}
		}
	}
	return nil
}

// ReadSection returns a copy of the section contents followed by padding
// zero bytes. Zero fill sections read as zeros.
func (f *File) ReadSection(segment, section string, padding int) ([]byte, error) {
	s := f.Section(segment, section)
	if s == nil {
		return nil, types.Wrapf(types.InvalidFile, types.ErrSectionNotFound, "%s,%s", segment, section)
	}
	if padding < 0 {
		padding = 0
	}
	dat := make([]byte, s.Size+uint64(padding))
	if s.InFile() {
		copy(dat, f.data[s.Offset:uint64(s.Offset)+s.Size])
	}
	return dat, nil
}
