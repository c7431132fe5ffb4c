package dwarfpatch

import (
	"encoding/binary"

	"github.com/apex/log"

	"github.com/appsworld/go-macho-patch/pkg/cursor"
	"github.com/appsworld/go-macho-patch/types"
)

// Unit types of DWARF 5 unit headers.
const (
	utCompile      = 0x01
	utType         = 0x02
	utPartial      = 0x03
	utSkeleton     = 0x04
	utSplitCompile = 0x05
	utSplitType    = 0x06
)

// A unit is the decoded header of a compile unit.
type unit struct {
	offset    int // start of the unit length field
	end       int
	version   uint16
	dwarf64   bool
	unitType  uint8
	addrSize  int
	abbrevOff uint64
}

func (u *unit) offSize() int {
	if u.dwarf64 {
		return 8
	}
	return 4
}

// readUnitLength reads an initial length field and reports whether it
// introduced a 64-bit unit.
func readUnitLength(c *cursor.Cursor) (uint64, bool, error) {
	l, err := c.Uint32()
	if err != nil {
		return 0, false, err
	}
	switch {
	case l == 0xffffffff:
		l64, err := c.Uint64()
		return l64, true, err
	case l >= 0xfffffff0:
		return 0, false, types.Errorf(types.InvalidFile, "reserved unit length %#x at %#x", l, c.Offset()-4)
	}
	return uint64(l), false, nil
}

func readUnitHeader(c *cursor.Cursor) (*unit, error) {
	u := &unit{offset: c.Offset()}
	length, dwarf64, err := readUnitLength(c)
	if err != nil {
		return nil, err
	}
	u.dwarf64 = dwarf64
	if length > uint64(c.Remaining()) {
		return nil, types.Errorf(types.InvalidFile, "unit at %#x extends past end of section", u.offset)
	}
	u.end = c.Offset() + int(length)
	if u.version, err = c.Uint16(); err != nil {
		return nil, err
	}

	switch {
	case u.version >= 2 && u.version <= 4:
		if u.abbrevOff, err = c.Uint(u.offSize()); err != nil {
			return nil, err
		}
		a, err := c.Uint8()
		if err != nil {
			return nil, err
		}
		u.addrSize = int(a)
	case u.version == 5:
		if u.unitType, err = c.Uint8(); err != nil {
			return nil, err
		}
		a, err := c.Uint8()
		if err != nil {
			return nil, err
		}
		u.addrSize = int(a)
		if u.abbrevOff, err = c.Uint(u.offSize()); err != nil {
			return nil, err
		}
		switch u.unitType {
		case utSkeleton, utSplitCompile:
			err = c.Skip(8) // dwo_id
		case utType, utSplitType:
			err = c.Skip(8 + u.offSize()) // type_signature, type_offset
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, types.Errorf(types.InvalidFile, "unsupported DWARF version %d in unit at %#x", u.version, u.offset)
	}
	if c.Offset() > u.end {
		return nil, types.Errorf(types.InvalidFile, "unit header at %#x is longer than the unit", u.offset)
	}
	return u, nil
}

// infoRelocator rewrites section offsets stored in __debug_info.
type infoRelocator struct {
	order binary.ByteOrder
	// str maps __debug_str entry offsets to their new offsets; nil when
	// the string table was not rebuilt.
	str map[uint64]uint64
	// line maps __debug_line unit offsets to their new offsets; nil when
	// the line table did not move.
	line map[uint64]uint64
}

// patchInfo walks every DIE of every unit in dat and rewrites DW_FORM_strp
// and DW_AT_stmt_list values in place. It reports whether anything changed.
func (r *infoRelocator) patchInfo(dat []byte, sets map[uint64]abbrevTable) (bool, error) {
	modified := false
	put := func(v value, n uint64) {
		if v.size == 8 {
			r.order.PutUint64(dat[v.off:], n)
		} else {
			r.order.PutUint32(dat[v.off:], uint32(n))
		}
		modified = true
	}

	c := cursor.New(dat, r.order)
	for c.Remaining() > 0 {
		u, err := readUnitHeader(c)
		if err != nil {
			return false, types.Wrap(types.InvalidFile, err, "failed to read __debug_info unit")
		}
		table, ok := sets[u.abbrevOff]
		if !ok {
			return false, types.Errorf(types.InvalidFile, "unit at %#x refers to missing abbreviation set %#x", u.offset, u.abbrevOff)
		}
		log.Debugf("unit at %#x: DWARF %d, %d-bit, abbrev set %#x", u.offset, u.version, u.offSize()*8, u.abbrevOff)

		for c.Offset() < u.end {
			off := c.Offset()
			code, err := c.Uleb128()
			if err != nil {
				return false, types.Wrapf(types.InvalidFile, err, "failed to read DIE at %#x", off)
			}
			if code == 0 {
				continue
			}
			a, ok := table[code]
			if !ok {
				return false, types.Errorf(types.InvalidFile, "DIE at %#x uses unknown abbreviation %d", off, code)
			}
			for _, attr := range a.attrs {
				v, err := readForm(c, attr.form, u)
				if err != nil {
					return false, types.Wrapf(types.CodeOf(err), err, "failed to read attribute %#x of DIE at %#x", attr.name, off)
				}
				switch {
				case v.form == formStrp && r.str != nil:
					n, ok := r.str[v.val]
					if !ok {
						return false, types.Errorf(types.InvalidFile, "DIE at %#x refers to string offset %#x that does not start an entry", off, v.val)
					}
					if n != v.val {
						put(v, n)
					}
				case attr.name == attrStmtList && v.size > 0 && r.line != nil:
					n, ok := r.line[v.val]
					if !ok {
						return false, types.Errorf(types.InvalidFile, "DIE at %#x refers to line table %#x that does not start a unit", off, v.val)
					}
					if n != v.val {
						put(v, n)
					}
				}
			}
		}
		if err := c.Seek(u.end); err != nil {
			return false, types.Wrapf(types.InvalidFile, err, "unit at %#x", u.offset)
		}
	}
	return modified, nil
}
