package machotest

import (
	"encoding/binary"

	"github.com/appsworld/go-macho-patch/pkg/cursor"
)

// A Unit is one compile unit of a fixture DWARF set. Every unit gets a
// matching line table.
type Unit struct {
	Version  uint16 // 2 through 5, zero means 4
	DWARF64  bool
	Name     string
	CompDir  string
	Producer string
	// Vars become DW_TAG_variable children named through DW_FORM_strp.
	Vars        []string
	IncludeDirs []string
	Files       []string
}

// DWARF holds the four debug sections produced by BuildDWARF.
type DWARF struct {
	Str, Abbrev, Info, Line []byte
	// StrOffsets is the offset of every string in Str.
	StrOffsets map[string]uint64
	// AbbrevOffsets is the abbreviation set used by each unit.
	AbbrevOffsets []uint64
	// LineOffsets is the start of each unit's line table.
	LineOffsets []uint64
}

// Segment returns a __DWARF segment holding the sections.
func (d *DWARF) Segment() Segment {
	return Segment{Name: "__DWARF", Sections: []Section{
		{Name: "__debug_line", Data: d.Line},
		{Name: "__debug_abbrev", Data: d.Abbrev},
		{Name: "__debug_info", Data: d.Info},
		{Name: "__debug_str", Data: d.Str},
	}}
}

const (
	tagCompileUnit = 0x11
	tagVariable    = 0x34
	tagBaseType    = 0x24

	atName      = 0x03
	atStmtList  = 0x10
	atLanguage  = 0x13
	atCompDir   = 0x1b
	atProducer  = 0x25
	atDeclFile  = 0x3a
	atDeclLine  = 0x3b
	atExternal  = 0x3f
	atEncoding  = 0x3e
	atByteSize  = 0x0b
	langObjC    = 0x10
	encodingInt = 0x05

	formData1        = 0x0b
	formData2        = 0x05
	formData4        = 0x06
	formString       = 0x08
	formFlag         = 0x0c
	formStrp         = 0x0e
	formUdata        = 0x0f
	formIndirect     = 0x16
	formSecOffset    = 0x17
	formFlagPresent  = 0x19
	formImplicitCons = 0x21
)

type abbrevSet struct {
	version uint16
	offset  uint64
}

// BuildDWARF encodes units with byte order o and 8-byte addresses.
func BuildDWARF(o binary.ByteOrder, units ...Unit) *DWARF {
	if o == nil {
		o = binary.LittleEndian
	}
	d := &DWARF{StrOffsets: map[string]uint64{}}
	str := func(s string) uint64 {
		if off, ok := d.StrOffsets[s]; ok {
			return off
		}
		off := uint64(len(d.Str))
		d.StrOffsets[s] = off
		d.Str = append(append(d.Str, s...), 0)
		return off
	}

	// One abbreviation set per DWARF version class.
	var sets []abbrevSet
	setFor := func(v uint16) uint64 {
		class := v
		if class < 4 {
			class = 2
		}
		for _, s := range sets {
			if s.version == class {
				return s.offset
			}
		}
		off := uint64(len(d.Abbrev))
		d.Abbrev = appendAbbrevSet(d.Abbrev, class)
		sets = append(sets, abbrevSet{class, off})
		return off
	}

	for _, u := range units {
		v := u.Version
		if v == 0 {
			v = 4
		}
		aoff := setFor(v)
		d.AbbrevOffsets = append(d.AbbrevOffsets, aoff)
		loff := uint64(len(d.Line))
		d.LineOffsets = append(d.LineOffsets, loff)
		d.Line = appendLineUnit(d.Line, o, v, u)

		offSize := 4
		if u.DWARF64 {
			offSize = 8
		}
		putOff := func(b []byte, v uint64) []byte {
			if offSize == 8 {
				return app64(o, b, v)
			}
			return app32(o, b, uint32(v))
		}

		var hdr []byte
		hdr = app16(o, hdr, v)
		if v >= 5 {
			hdr = append(hdr, 0x01, 8) // DW_UT_compile, address_size
			hdr = putOff(hdr, aoff)
		} else {
			hdr = putOff(hdr, aoff)
			hdr = append(hdr, 8)
		}

		body := cursor.AppendUleb128(nil, 1)
		body = putOff(body, str(u.Name))
		body = append(append(body, u.Producer...), 0)
		body = app16(o, body, langObjC)
		body = putOff(body, str(u.CompDir))
		if v >= 4 {
			body = putOff(body, loff)
		} else {
			body = app32(o, body, uint32(loff))
		}
		for i, name := range u.Vars {
			body = cursor.AppendUleb128(body, 2)
			body = putOff(body, str(name))
			body = cursor.AppendUleb128(body, uint64(i+1))
			if v < 4 {
				body = append(body, 1)
			}
		}
		body = cursor.AppendUleb128(body, 3)
		body = cursor.AppendUleb128(body, formStrp)
		body = putOff(body, str("int"))
		body = append(body, encodingInt, 4)
		body = append(body, 0)

		unitLen := uint64(len(hdr) + len(body))
		if u.DWARF64 {
			d.Info = app32(o, d.Info, 0xffffffff)
			d.Info = app64(o, d.Info, unitLen)
		} else {
			d.Info = app32(o, d.Info, uint32(unitLen))
		}
		d.Info = append(append(d.Info, hdr...), body...)
	}
	return d
}

func appendAbbrevSet(b []byte, class uint16) []byte {
	attr := func(b []byte, name, form uint64) []byte {
		return cursor.AppendUleb128(cursor.AppendUleb128(b, name), form)
	}
	stmtForm := uint64(formData4)
	if class >= 4 {
		stmtForm = formSecOffset
	}

	b = cursor.AppendUleb128(b, 1)
	b = cursor.AppendUleb128(b, tagCompileUnit)
	b = append(b, 1)
	b = attr(b, atName, formStrp)
	b = attr(b, atProducer, formString)
	b = attr(b, atLanguage, formData2)
	b = attr(b, atCompDir, formStrp)
	b = attr(b, atStmtList, stmtForm)
	b = append(b, 0, 0)

	b = cursor.AppendUleb128(b, 2)
	b = cursor.AppendUleb128(b, tagVariable)
	b = append(b, 0)
	b = attr(b, atName, formStrp)
	b = attr(b, atDeclLine, formUdata)
	switch {
	case class >= 5:
		b = attr(b, atExternal, formFlagPresent)
		b = attr(b, atDeclFile, formImplicitCons)
		b = append(b, 1) // SLEB128 constant
	case class == 4:
		b = attr(b, atExternal, formFlagPresent)
	default:
		b = attr(b, atExternal, formFlag)
	}
	b = append(b, 0, 0)

	b = cursor.AppendUleb128(b, 3)
	b = cursor.AppendUleb128(b, tagBaseType)
	b = append(b, 0)
	b = attr(b, atName, formIndirect)
	b = attr(b, atEncoding, formData1)
	b = attr(b, atByteSize, formData1)
	b = append(b, 0, 0)

	return append(b, 0)
}

var standardOpcodeLengths = []byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}

func appendLineUnit(b []byte, o binary.ByteOrder, version uint16, u Unit) []byte {
	offSize := 4
	if u.DWARF64 {
		offSize = 8
	}

	var params []byte
	params = append(params, 1) // minimum_instruction_length
	if version >= 4 {
		params = append(params, 1) // maximum_operations_per_instruction
	}
	params = append(params, 1, 0xfb, 14, byte(len(standardOpcodeLengths)+1))
	params = append(params, standardOpcodeLengths...)

	dirIndex := uint64(0)
	if len(u.IncludeDirs) > 0 {
		dirIndex = 1
	}
	if version >= 5 {
		// directory_entry_format: DW_LNCT_path as DW_FORM_string
		params = append(params, 1)
		params = cursor.AppendUleb128(params, 1)
		params = cursor.AppendUleb128(params, formString)
		params = cursor.AppendUleb128(params, uint64(len(u.IncludeDirs)+1))
		params = append(append(params, u.CompDir...), 0)
		for _, dir := range u.IncludeDirs {
			params = append(append(params, dir...), 0)
		}
		// file_name_entry_format: path, directory_index
		params = append(params, 2)
		params = cursor.AppendUleb128(params, 1)
		params = cursor.AppendUleb128(params, formString)
		params = cursor.AppendUleb128(params, 2)
		params = cursor.AppendUleb128(params, formUdata)
		params = cursor.AppendUleb128(params, uint64(len(u.Files)))
		for _, f := range u.Files {
			params = append(append(params, f...), 0)
			params = cursor.AppendUleb128(params, dirIndex)
		}
	} else {
		for _, dir := range u.IncludeDirs {
			params = append(append(params, dir...), 0)
		}
		params = append(params, 0)
		for _, f := range u.Files {
			params = append(append(params, f...), 0)
			params = cursor.AppendUleb128(params, dirIndex)
			params = append(params, 0, 0)
		}
		params = append(params, 0)
	}

	var program []byte
	program = append(program, 0, 9, 0x02) // DW_LNE_set_address
	program = app64(o, program, 0x1000)
	program = append(program, 0, 1, 0x01) // DW_LNE_end_sequence

	var unit []byte
	unit = app16(o, unit, version)
	if version >= 5 {
		unit = append(unit, 8, 0)
	}
	if offSize == 8 {
		unit = app64(o, unit, uint64(len(params)))
	} else {
		unit = app32(o, unit, uint32(len(params)))
	}
	unit = append(append(unit, params...), program...)

	if u.DWARF64 {
		b = app32(o, b, 0xffffffff)
		return append(app64(o, b, uint64(len(unit))), unit...)
	}
	return append(app32(o, b, uint32(len(unit))), unit...)
}

func app16(o binary.ByteOrder, b []byte, v uint16) []byte {
	var t [2]byte
	o.PutUint16(t[:], v)
	return append(b, t[:]...)
}

func app32(o binary.ByteOrder, b []byte, v uint32) []byte {
	var t [4]byte
	o.PutUint32(t[:], v)
	return append(b, t[:]...)
}

func app64(o binary.ByteOrder, b []byte, v uint64) []byte {
	var t [8]byte
	o.PutUint64(t[:], v)
	return append(b, t[:]...)
}
