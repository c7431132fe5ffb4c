package macho

import (
	"fmt"
	"sort"

	"github.com/appsworld/go-macho-patch/types"
)

// A Load represents any Mach-O load command.
type Load interface {
	Command() types.LoadCmd
	Raw() []byte
	String() string
}

// LoadBytes is the uninterpreted bytes of a Mach-O load command.
type LoadBytes []byte

func (b LoadBytes) Raw() []byte { return b }

// LoadCmdBytes is a command this package does not decode.
type LoadCmdBytes struct {
	types.LoadCmd
	LoadBytes
}

func (s LoadCmdBytes) String() string {
	return s.LoadCmd.Description()
}

/*******************************************************************************
 * SEGMENT
 *******************************************************************************/

// A SegmentHeader is the header for a Mach-O 32-bit or 64-bit load segment command.
type SegmentHeader struct {
	types.LoadCmd
	Len     uint32
	Name    string
	Addr    uint64
	Memsz   uint64
	Offset  uint64
	Filesz  uint64
	Maxprot types.VmProtection
	Prot    types.VmProtection
	Nsect   uint32
	Flag    types.SegFlag
	// CmdOffset is where the command itself starts, relative to the image.
	CmdOffset int64
}

func (s *SegmentHeader) String() string {
	return fmt.Sprintf(
		"Seg %s, len=%#x, addr=%#x, memsz=%#x, offset=%#x, filesz=%#x, maxprot=%#x, prot=%#x, nsect=%d, flag=%#x",
		s.Name, s.Len, s.Addr, s.Memsz, s.Offset, s.Filesz, s.Maxprot, s.Prot, s.Nsect, s.Flag)
}

// A Segment represents a Mach-O 32-bit or 64-bit load segment command.
type Segment struct {
	SegmentHeader
	LoadBytes
	// Sections in ascending file offset order.
	Sections []*Section
}

func (s *Segment) String() string {
	return fmt.Sprintf("sz=0x%08x off=0x%08x-0x%08x addr=0x%09x-0x%09x %s/%s   %s%s%s",
		s.Filesz, s.Offset, s.Offset+s.Filesz, s.Addr, s.Addr+s.Memsz, s.Prot, s.Maxprot, s.Name, pad(20-len(s.Name)), s.Flag)
}

func (s *Segment) sortSections() {
	sort.SliceStable(s.Sections, func(i, j int) bool {
		return s.Sections[i].Offset < s.Sections[j].Offset
	})
}

/*******************************************************************************
 * SECTION
 *******************************************************************************/

type SectionHeader struct {
	Name      string
	Seg       string
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     types.SectionFlag
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32 // only present if original was 64-bit
}

// A Section is one entry of a segment's section table.
type Section struct {
	SectionHeader
	// HdrOffset is where the section header starts, relative to the image.
	HdrOffset int64
}

// InFile reports whether the section occupies bytes in the file.
func (s *Section) InFile() bool {
	return !s.Flags.IsZerofill() && s.Size > 0
}

func (s *Section) String() string {
	return fmt.Sprintf("sz=0x%08x off=0x%08x-0x%08x addr=0x%09x-0x%09x\t\t%s.%s%s",
		s.Size, s.Offset, uint64(s.Offset)+s.Size, s.Addr, s.Addr+s.Size, s.Seg, s.Name, pad(32-(len(s.Seg)+len(s.Name)+1)))
}

/*******************************************************************************
 * LC_SYMTAB
 *******************************************************************************/

// A Symtab represents a Mach-O symbol table command.
type Symtab struct {
	LoadBytes
	types.SymtabCmd
	Syms []Symbol
}

func (s *Symtab) String() string {
	if s.Nsyms == 0 && s.Strsize == 0 {
		return "Symbols stripped"
	}
	return fmt.Sprintf("Symbol offset=0x%08X, Num Syms: %d, String offset=0x%08X-0x%08X", s.Symoff, s.Nsyms, s.Stroff, s.Stroff+s.Strsize)
}

// A Symbol is a Mach-O 32-bit or 64-bit symbol table entry.
type Symbol struct {
	Name  string
	Type  types.NType
	Sect  uint8
	Desc  uint16
	Value uint64
}

func (s Symbol) String(m *File) string {
	var sec string
	if s.Sect > 0 && int(s.Sect) <= len(m.Sections) {
		sec = fmt.Sprintf(" (%s.%s)", m.Sections[s.Sect-1].Seg, m.Sections[s.Sect-1].Name)
	}
	return fmt.Sprintf("0x%016X <%s>%s %s", s.Value, s.Type, sec, s.Name)
}

/*******************************************************************************
 * LC_DYSYMTAB
 *******************************************************************************/

// A Dysymtab represents a Mach-O dynamic symbol table command.
type Dysymtab struct {
	LoadBytes
	types.DysymtabCmd
}

func (d *Dysymtab) String() string {
	return fmt.Sprintf("%d local, %d external, %d undefined, %d indirect",
		d.Nlocalsym, d.Nextdefsym, d.Nundefsym, d.Nindirectsyms)
}
