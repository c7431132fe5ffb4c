package types

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// A LoadCmd is a Mach-O load command.
type LoadCmd uint32

func (c LoadCmd) Command() LoadCmd { return c }

func (c LoadCmd) Put(b []byte, o binary.ByteOrder) int {
	o.PutUint32(b, uint32(c))
	return 4
}

const (
	LC_REQ_DYLD                 LoadCmd = 0x80000000
	LC_SEGMENT                  LoadCmd = 0x1
	LC_SYMTAB                   LoadCmd = 0x2
	LC_SYMSEG                   LoadCmd = 0x3
	LC_THREAD                   LoadCmd = 0x4
	LC_UNIXTHREAD               LoadCmd = 0x5
	LC_LOADFVMLIB               LoadCmd = 0x6
	LC_IDFVMLIB                 LoadCmd = 0x7
	LC_IDENT                    LoadCmd = 0x8
	LC_FVMFILE                  LoadCmd = 0x9
	LC_PREPAGE                  LoadCmd = 0xa
	LC_DYSYMTAB                 LoadCmd = 0xb
	LC_LOAD_DYLIB               LoadCmd = 0xc
	LC_ID_DYLIB                 LoadCmd = 0xd
	LC_LOAD_DYLINKER            LoadCmd = 0xe
	LC_ID_DYLINKER              LoadCmd = 0xf
	LC_PREBOUND_DYLIB           LoadCmd = 0x10
	LC_ROUTINES                 LoadCmd = 0x11
	LC_SUB_FRAMEWORK            LoadCmd = 0x12
	LC_SUB_UMBRELLA             LoadCmd = 0x13
	LC_SUB_CLIENT               LoadCmd = 0x14
	LC_SUB_LIBRARY              LoadCmd = 0x15
	LC_TWOLEVEL_HINTS           LoadCmd = 0x16
	LC_PREBIND_CKSUM            LoadCmd = 0x17
	LC_LOAD_WEAK_DYLIB          LoadCmd = (0x18 | LC_REQ_DYLD)
	LC_SEGMENT_64               LoadCmd = 0x19
	LC_ROUTINES_64              LoadCmd = 0x1a
	LC_UUID                     LoadCmd = 0x1b
	LC_RPATH                    LoadCmd = (0x1c | LC_REQ_DYLD)
	LC_CODE_SIGNATURE           LoadCmd = 0x1d
	LC_SEGMENT_SPLIT_INFO       LoadCmd = 0x1e
	LC_REEXPORT_DYLIB           LoadCmd = (0x1f | LC_REQ_DYLD)
	LC_LAZY_LOAD_DYLIB          LoadCmd = 0x20
	LC_ENCRYPTION_INFO          LoadCmd = 0x21
	LC_DYLD_INFO                LoadCmd = 0x22
	LC_DYLD_INFO_ONLY           LoadCmd = (0x22 | LC_REQ_DYLD)
	LC_LOAD_UPWARD_DYLIB        LoadCmd = (0x23 | LC_REQ_DYLD)
	LC_VERSION_MIN_MACOSX       LoadCmd = 0x24
	LC_VERSION_MIN_IPHONEOS     LoadCmd = 0x25
	LC_FUNCTION_STARTS          LoadCmd = 0x26
	LC_DYLD_ENVIRONMENT         LoadCmd = 0x27
	LC_MAIN                     LoadCmd = (0x28 | LC_REQ_DYLD)
	LC_DATA_IN_CODE             LoadCmd = 0x29
	LC_SOURCE_VERSION           LoadCmd = 0x2A
	LC_DYLIB_CODE_SIGN_DRS      LoadCmd = 0x2B
	LC_ENCRYPTION_INFO_64       LoadCmd = 0x2C
	LC_LINKER_OPTION            LoadCmd = 0x2D
	LC_LINKER_OPTIMIZATION_HINT LoadCmd = 0x2E
	LC_VERSION_MIN_TVOS         LoadCmd = 0x2F
	LC_VERSION_MIN_WATCHOS      LoadCmd = 0x30
	LC_NOTE                     LoadCmd = 0x31
	LC_BUILD_VERSION            LoadCmd = 0x32
	LC_DYLD_EXPORTS_TRIE        LoadCmd = (0x33 | LC_REQ_DYLD)
	LC_DYLD_CHAINED_FIXUPS      LoadCmd = (0x34 | LC_REQ_DYLD)
	LC_FILESET_ENTRY            LoadCmd = (0x35 | LC_REQ_DYLD)
)

type cmdName struct {
	cmd  LoadCmd
	name string
	desc string
}

var loadCmdStrings = []cmdName{
	{LC_SEGMENT, "LC_SEGMENT", "segment of this file to be mapped"},
	{LC_SYMTAB, "LC_SYMTAB", "link-edit stab symbol table info"},
	{LC_SYMSEG, "LC_SYMSEG", "link-edit gdb symbol table info (obsolete)"},
	{LC_THREAD, "LC_THREAD", "thread"},
	{LC_UNIXTHREAD, "LC_UNIXTHREAD", "unix thread (includes a stack)"},
	{LC_LOADFVMLIB, "LC_LOADFVMLIB", "load a specified fixed VM shared library"},
	{LC_IDFVMLIB, "LC_IDFVMLIB", "fixed VM shared library identification"},
	{LC_IDENT, "LC_IDENT", "object identification info (obsolete)"},
	{LC_FVMFILE, "LC_FVMFILE", "fixed VM file inclusion (internal use)"},
	{LC_PREPAGE, "LC_PREPAGE", "prepage command (internal use)"},
	{LC_DYSYMTAB, "LC_DYSYMTAB", "dynamic link-edit symbol table info"},
	{LC_LOAD_DYLIB, "LC_LOAD_DYLIB", "load a dynamically linked shared library"},
	{LC_ID_DYLIB, "LC_ID_DYLIB", "dynamically linked shared lib ident"},
	{LC_LOAD_DYLINKER, "LC_LOAD_DYLINKER", "load a dynamic linker"},
	{LC_ID_DYLINKER, "LC_ID_DYLINKER", "dynamic linker identification"},
	{LC_PREBOUND_DYLIB, "LC_PREBOUND_DYLIB", "modules prebound for a dynamically linked shared library"},
	{LC_ROUTINES, "LC_ROUTINES", "image routines"},
	{LC_SUB_FRAMEWORK, "LC_SUB_FRAMEWORK", "sub framework"},
	{LC_SUB_UMBRELLA, "LC_SUB_UMBRELLA", "sub umbrella"},
	{LC_SUB_CLIENT, "LC_SUB_CLIENT", "sub client"},
	{LC_SUB_LIBRARY, "LC_SUB_LIBRARY", "sub library"},
	{LC_TWOLEVEL_HINTS, "LC_TWOLEVEL_HINTS", "two-level namespace lookup hints"},
	{LC_PREBIND_CKSUM, "LC_PREBIND_CKSUM", "prebind checksum"},
	{LC_LOAD_WEAK_DYLIB, "LC_LOAD_WEAK_DYLIB", "load a dynamically linked shared library that may be missing"},
	{LC_SEGMENT_64, "LC_SEGMENT_64", "64-bit segment of this file to be mapped"},
	{LC_ROUTINES_64, "LC_ROUTINES_64", "64-bit image routines"},
	{LC_UUID, "LC_UUID", "the uuid"},
	{LC_RPATH, "LC_RPATH", "runpath additions"},
	{LC_CODE_SIGNATURE, "LC_CODE_SIGNATURE", "local of code signature"},
	{LC_SEGMENT_SPLIT_INFO, "LC_SEGMENT_SPLIT_INFO", "local of info to split segments"},
	{LC_REEXPORT_DYLIB, "LC_REEXPORT_DYLIB", "load and re-export dylib"},
	{LC_LAZY_LOAD_DYLIB, "LC_LAZY_LOAD_DYLIB", "delay load of dylib until first use"},
	{LC_ENCRYPTION_INFO, "LC_ENCRYPTION_INFO", "encrypted segment information"},
	{LC_DYLD_INFO, "LC_DYLD_INFO", "compressed dyld information"},
	{LC_DYLD_INFO_ONLY, "LC_DYLD_INFO_ONLY", "compressed dyld information only"},
	{LC_LOAD_UPWARD_DYLIB, "LC_LOAD_UPWARD_DYLIB", "load upward dylib"},
	{LC_VERSION_MIN_MACOSX, "LC_VERSION_MIN_MACOSX", "build for MacOSX min OS version"},
	{LC_VERSION_MIN_IPHONEOS, "LC_VERSION_MIN_IPHONEOS", "build for iPhoneOS min OS version"},
	{LC_FUNCTION_STARTS, "LC_FUNCTION_STARTS", "compressed table of function start addresses"},
	{LC_DYLD_ENVIRONMENT, "LC_DYLD_ENVIRONMENT", "string for dyld to treat like environment variable"},
	{LC_MAIN, "LC_MAIN", "replacement for LC_UNIXTHREAD"},
	{LC_DATA_IN_CODE, "LC_DATA_IN_CODE", "table of non-instructions in __text"},
	{LC_SOURCE_VERSION, "LC_SOURCE_VERSION", "source version used to build binary"},
	{LC_DYLIB_CODE_SIGN_DRS, "LC_DYLIB_CODE_SIGN_DRS", "Code signing DRs copied from linked dylibs"},
	{LC_ENCRYPTION_INFO_64, "LC_ENCRYPTION_INFO_64", "64-bit encrypted segment information"},
	{LC_LINKER_OPTION, "LC_LINKER_OPTION", "linker options in MH_OBJECT files"},
	{LC_LINKER_OPTIMIZATION_HINT, "LC_LINKER_OPTIMIZATION_HINT", "optimization hints in MH_OBJECT files"},
	{LC_VERSION_MIN_TVOS, "LC_VERSION_MIN_TVOS", "build for AppleTV min OS version"},
	{LC_VERSION_MIN_WATCHOS, "LC_VERSION_MIN_WATCHOS", "build for Watch min OS version"},
	{LC_NOTE, "LC_NOTE", "arbitrary data included within a Mach-O file"},
	{LC_BUILD_VERSION, "LC_BUILD_VERSION", "build for platform min OS version"},
	{LC_DYLD_EXPORTS_TRIE, "LC_DYLD_EXPORTS_TRIE", "exports trie"},
	{LC_DYLD_CHAINED_FIXUPS, "LC_DYLD_CHAINED_FIXUPS", "chained fixups"},
	{LC_FILESET_ENTRY, "LC_FILESET_ENTRY", "fileset entry"},
}

func (c LoadCmd) lookup() (cmdName, bool) {
	for _, n := range loadCmdStrings {
		if n.cmd == c {
			return n, true
		}
	}
	return cmdName{}, false
}

func (c LoadCmd) String() string {
	if n, ok := c.lookup(); ok {
		return n.name
	}
	return fmt.Sprintf("LC_%#x", uint32(c))
}

// Description returns a human readable summary of the command.
func (c LoadCmd) Description() string {
	if n, ok := c.lookup(); ok {
		return n.name + " * " + n.desc
	}
	return fmt.Sprintf("unknown load command %#x", uint32(c))
}

// IsLinkEditData reports whether the command is a linkedit_data_command.
func (c LoadCmd) IsLinkEditData() bool {
	switch c {
	case LC_CODE_SIGNATURE, LC_SEGMENT_SPLIT_INFO, LC_FUNCTION_STARTS,
		LC_DATA_IN_CODE, LC_DYLIB_CODE_SIGN_DRS, LC_LINKER_OPTIMIZATION_HINT,
		LC_DYLD_EXPORTS_TRIE, LC_DYLD_CHAINED_FIXUPS:
		return true
	}
	return false
}

type SegFlag uint32

/* Constants for the flags field of the segment_command */
const (
	HighVM            SegFlag = 0x1 /* the file contents for this segment is for the high part of the VM space */
	FvmLib            SegFlag = 0x2 /* this segment is the VM that is allocated by a fixed VM library */
	NoReLoc           SegFlag = 0x4 /* this segment has nothing that was relocated in it and nothing relocated to it */
	ProtectedVersion1 SegFlag = 0x8 /* This segment is protected. */
	ReadOnly          SegFlag = 0x10
)

func (f SegFlag) String() string {
	var flags []string
	if f&HighVM != 0 {
		flags = append(flags, "HighVM")
	}
	if f&FvmLib != 0 {
		flags = append(flags, "FvmLib")
	}
	if f&NoReLoc != 0 {
		flags = append(flags, "NoReLoc")
	}
	if f&ProtectedVersion1 != 0 {
		flags = append(flags, "ProtectedVersion1")
	}
	if f&ReadOnly != 0 {
		flags = append(flags, "ReadOnly")
	}
	return strings.Join(flags, "|")
}

// Segment command sizes without their trailing section arrays.
const (
	Segment32Size = 56
	Segment64Size = 72
	Section32Size = 68
	Section64Size = 80
)

// A Segment32 is a 32-bit Mach-O segment load command.
type Segment32 struct {
	LoadCmd              /* LC_SEGMENT */
	Len     uint32       /* includes sizeof section structs */
	Name    [16]byte     /* segment name */
	Addr    uint32       /* memory address of this segment */
	Memsz   uint32       /* memory size of this segment */
	Offset  uint32       /* file offset of this segment */
	Filesz  uint32       /* amount to map from the file */
	Maxprot VmProtection /* maximum VM protection */
	Prot    VmProtection /* initial VM protection */
	Nsect   uint32       /* number of sections in segment */
	Flag    SegFlag      /* flags */
}

// A Segment64 is a 64-bit Mach-O segment load command.
type Segment64 struct {
	LoadCmd              /* LC_SEGMENT_64 */
	Len     uint32       /* includes sizeof section_64 structs */
	Name    [16]byte     /* segment name */
	Addr    uint64       /* memory address of this segment */
	Memsz   uint64       /* memory size of this segment */
	Offset  uint64       /* file offset of this segment */
	Filesz  uint64       /* amount to map from the file */
	Maxprot VmProtection /* maximum VM protection */
	Prot    VmProtection /* initial VM protection */
	Nsect   uint32       /* number of sections in segment */
	Flag    SegFlag      /* flags */
}

type SectionFlag uint32

const (
	SectionType       SectionFlag = 0x000000ff /* 256 section types */
	SectionAttributes SectionFlag = 0xffffff00 /*  24 section attributes */
)

const (
	Regular             SectionFlag = 0x0  /* regular section */
	Zerofill            SectionFlag = 0x1  /* zero fill on demand section */
	GbZerofill          SectionFlag = 0xc  /* zero fill on demand section (that can be larger than 4 gigabytes) */
	ThreadLocalZerofill SectionFlag = 0x12 /* template of initial values for TLVs */
)

// IsZerofill reports whether the section occupies no bytes in the file.
func (f SectionFlag) IsZerofill() bool {
	switch f & SectionType {
	case Zerofill, GbZerofill, ThreadLocalZerofill:
		return true
	}
	return false
}

// A Section32 is a 32-bit Mach-O section header.
type Section32 struct {
	Name     [16]byte
	Seg      [16]byte
	Addr     uint32
	Size     uint32
	Offset   uint32
	Align    uint32
	Reloff   uint32
	Nreloc   uint32
	Flags    SectionFlag
	Reserve1 uint32
	Reserve2 uint32
}

// A Section64 is a 64-bit Mach-O section header.
type Section64 struct {
	Name     [16]byte
	Seg      [16]byte
	Addr     uint64
	Size     uint64
	Offset   uint32
	Align    uint32
	Reloff   uint32
	Nreloc   uint32
	Flags    SectionFlag
	Reserve1 uint32
	Reserve2 uint32
	Reserve3 uint32
}

// A SymtabCmd is a Mach-O symbol table command.
type SymtabCmd struct {
	LoadCmd // LC_SYMTAB
	Len     uint32
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

// A DysymtabCmd is a Mach-O dynamic symbol table command.
type DysymtabCmd struct {
	LoadCmd        // LC_DYSYMTAB
	Len            uint32
	Ilocalsym      uint32
	Nlocalsym      uint32
	Iextdefsym     uint32
	Nextdefsym     uint32
	Iundefsym      uint32
	Nundefsym      uint32
	Tocoffset      uint32
	Ntoc           uint32
	Modtaboff      uint32
	Nmodtab        uint32
	Extrefsymoff   uint32
	Nextrefsyms    uint32
	Indirectsymoff uint32
	Nindirectsyms  uint32
	Extreloff      uint32
	Nextrel        uint32
	Locreloff      uint32
	Nlocrel        uint32
}

// A LinkEditDataCmd is a Mach-O linkedit data command.
type LinkEditDataCmd struct {
	LoadCmd
	Len    uint32
	Offset uint32
	Size   uint32
}

// A DyldInfoCmd is a Mach-O LC_DYLD_INFO or LC_DYLD_INFO_ONLY command.
type DyldInfoCmd struct {
	LoadCmd
	Len          uint32
	RebaseOff    uint32
	RebaseSize   uint32
	BindOff      uint32
	BindSize     uint32
	WeakBindOff  uint32
	WeakBindSize uint32
	LazyBindOff  uint32
	LazyBindSize uint32
	ExportOff    uint32
	ExportSize   uint32
}

// An Nlist32 is a Mach-O 32-bit symbol table entry.
type Nlist32 struct {
	Name  uint32
	Type  NType
	Sect  uint8
	Desc  uint16
	Value uint32
}

// An Nlist64 is a Mach-O 64-bit symbol table entry.
type Nlist64 struct {
	Name  uint32
	Type  NType
	Sect  uint8
	Desc  uint16
	Value uint64
}

// Nlist entry sizes.
const (
	Nlist32Size = 12
	Nlist64Size = 16
)
