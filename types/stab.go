package types

import "fmt"

// An NType is the n_type field of a symbol table entry.
type NType uint8

const (
	N_STAB NType = 0xe0 /* if any of these bits set, a symbolic debugging entry */
	N_PEXT NType = 0x10 /* private external symbol bit */
	N_TYPE NType = 0x0e /* mask for the type bits */
	N_EXT  NType = 0x01 /* external symbol bit, set for external symbols */
)

const (
	N_UNDF NType = 0x0 /* undefined, n_sect == NO_SECT */
	N_ABS  NType = 0x2 /* absolute, n_sect == NO_SECT */
	N_SECT NType = 0xe /* defined in section number n_sect */
	N_PBUD NType = 0xc /* prebound undefined (defined in a dylib) */
	N_INDR NType = 0xa /* indirect */
)

// Symbolic debugging entry types.
const (
	N_GSYM    NType = 0x20
	N_FNAME   NType = 0x22
	N_FUN     NType = 0x24
	N_STSYM   NType = 0x26
	N_LCSYM   NType = 0x28
	N_BNSYM   NType = 0x2e
	N_AST     NType = 0x32
	N_PC      NType = 0x30
	N_OPT     NType = 0x3c
	N_RSYM    NType = 0x40
	N_SLINE   NType = 0x44
	N_ENSYM   NType = 0x4e
	N_SSYM    NType = 0x60
	N_SO      NType = 0x64
	N_OSO     NType = 0x66
	N_LSYM    NType = 0x80
	N_BINCL   NType = 0x82
	N_SOL     NType = 0x84
	N_PARAMS  NType = 0x86
	N_VERSION NType = 0x88
	N_OLEVEL  NType = 0x8a
	N_PSYM    NType = 0xa0
	N_EINCL   NType = 0xa2
	N_ENTRY   NType = 0xa4
	N_LBRAC   NType = 0xc0
	N_EXCL    NType = 0xc2
	N_RBRAC   NType = 0xe0
	N_BCOMM   NType = 0xe2
	N_ECOMM   NType = 0xe4
	N_ECOML   NType = 0xe8
	N_LENG    NType = 0xfe
)

var stabStrings = map[NType]string{
	N_GSYM:    "N_GSYM - global symbol: name,,NO_SECT,type,0",
	N_FNAME:   "N_FNAME - procedure name (f77 kludge): name,,NO_SECT,0,0",
	N_FUN:     "N_FUN - procedure: name,,n_sect,linenumber,address",
	N_STSYM:   "N_STSYM - static symbol: name,,n_sect,type,address",
	N_LCSYM:   "N_LCSYM - .lcomm symbol: name,,n_sect,type,address",
	N_BNSYM:   "N_BNSYM - begin nsect sym: 0,,n_sect,0,address",
	N_AST:     "N_AST - AST file path: name,,NO_SECT,0,0",
	N_OPT:     "N_OPT - emitted with gcc2_compiled and in gcc source",
	N_RSYM:    "N_RSYM - register sym: name,,NO_SECT,type,register",
	N_SLINE:   "N_SLINE - src line: 0,,n_sect,linenumber,address",
	N_ENSYM:   "N_ENSYM - end nsect sym: 0,,n_sect,0,address",
	N_SSYM:    "N_SSYM - structure elt: name,,NO_SECT,type,struct_offset",
	N_SO:      "N_SO - source file name: name,,n_sect,0,address",
	N_OSO:     "N_OSO - object file name: name,,0,0,st_mtime",
	N_LSYM:    "N_LSYM - local sym: name,,NO_SECT,type,offset",
	N_BINCL:   "N_BINCL - include file beginning: name,,NO_SECT,0,sum",
	N_SOL:     "N_SOL - #included file name: name,,n_sect,0,address",
	N_PARAMS:  "N_PARAMS - compiler parameters: name,,NO_SECT,0,0",
	N_VERSION: "N_VERSION - compiler version: name,,NO_SECT,0,0",
	N_OLEVEL:  "N_OLEVEL - compiler -O level: name,,NO_SECT,0,0",
	N_PSYM:    "N_PSYM - parameter: name,,NO_SECT,type,offset",
	N_EINCL:   "N_EINCL - include file end: name,,NO_SECT,0,0",
	N_ENTRY:   "N_ENTRY - alternate entry: name,,n_sect,linenumber,address",
	N_LBRAC:   "N_LBRAC - left bracket: 0,,NO_SECT,nesting level,address",
	N_EXCL:    "N_EXCL - deleted include file: name,,NO_SECT,0,sum",
	N_RBRAC:   "N_RBRAC - right bracket: 0,,NO_SECT,nesting level,address",
	N_BCOMM:   "N_BCOMM - begin common: name,,NO_SECT,0,0",
	N_ECOMM:   "N_ECOMM - end common: name,,n_sect,0,0",
	N_ECOML:   "N_ECOML - end common (local name): 0,,n_sect,0,address",
	N_LENG:    "N_LENG - second stab entry with length information",
	N_PC:      "N_PC - global pascal symbol: name,,NO_SECT,subtype,line",
}

func (t NType) IsDebugSym() bool { return t&N_STAB != 0 }
func (t NType) IsExternal() bool { return t&N_EXT != 0 }

func (t NType) String() string {
	if t.IsDebugSym() {
		if s, ok := stabStrings[t]; ok {
			return s
		}
		return fmt.Sprintf("unknown stab %#02x", uint8(t))
	}
	var s string
	switch t & N_TYPE {
	case N_UNDF:
		s = "N_UNDF"
	case N_ABS:
		s = "N_ABS"
	case N_SECT:
		s = "N_SECT"
	case N_PBUD:
		s = "N_PBUD"
	case N_INDR:
		s = "N_INDR"
	default:
		s = fmt.Sprintf("%#02x", uint8(t&N_TYPE))
	}
	if t&N_PEXT != 0 {
		s += "|N_PEXT"
	}
	if t.IsExternal() {
		s += "|N_EXT"
	}
	return s
}
