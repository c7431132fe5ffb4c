package dwarfpatch

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/apex/log"

	"github.com/appsworld/go-macho-patch/pkg/cursor"
	"github.com/appsworld/go-macho-patch/pkg/prefix"
	"github.com/appsworld/go-macho-patch/types"
)

// lineFiller pads an include directory pool that shrank.
const lineFiller = '!'

// A lineUnitPatch replaces the include directory pool of one line unit.
type lineUnitPatch struct {
	offset   int // unit start
	dwarf64  bool
	poolOff  int
	poolEnd  int
	pool     []byte
	length   uint64 // new unit_length
	hdrLen   uint64 // new header_length
	hdrField int    // position of header_length
}

func (p *lineUnitPatch) delta() int { return len(p.pool) - (p.poolEnd - p.poolOff) }

// A lineTable is the decoded layout of a __debug_line section.
type lineTable struct {
	order   binary.ByteOrder
	dat     []byte
	units   []int
	patches []*lineUnitPatch
}

// patchLine rewrites the include directories of every line unit in dat.
// Pools that keep their size are written into dat. When any pool grows the
// section is rebuilt and moved maps every unit offset to its new offset.
func patchLine(dat []byte, order binary.ByteOrder, rules prefix.Rules) (out []byte, moved map[uint64]uint64, modified bool, err error) {
	t := &lineTable{order: order, dat: dat}
	c := cursor.New(dat, order)
	for c.Remaining() > 0 {
		m, err := t.patchUnit(c, rules)
		if err != nil {
			return nil, nil, false, err
		}
		modified = modified || m
	}
	if len(t.patches) == 0 {
		return dat, nil, modified, nil
	}
	out, moved = t.rebuild()
	return out, moved, true, nil
}

func (t *lineTable) patchUnit(c *cursor.Cursor, rules prefix.Rules) (bool, error) {
	start := c.Offset()
	t.units = append(t.units, start)
	length, dwarf64, err := readUnitLength(c)
	if err != nil {
		return false, types.Wrapf(types.InvalidFile, err, "failed to read line unit at %#x", start)
	}
	if length > uint64(c.Remaining()) {
		return false, types.Errorf(types.InvalidFile, "line unit at %#x extends past end of section", start)
	}
	end := c.Offset() + int(length)
	defer c.Seek(end)

	u := &unit{offset: start, end: end, dwarf64: dwarf64}
	if u.version, err = c.Uint16(); err != nil {
		return false, types.Wrapf(types.InvalidFile, err, "line unit at %#x", start)
	}
	switch {
	case u.version == 5:
		log.Warnf("line unit at %#x is DWARF 5, include directories not patched", start)
		return false, nil
	case u.version < 2 || u.version > 5:
		return false, types.Errorf(types.InvalidFile, "unsupported line table version %d at %#x", u.version, start)
	}

	hdrField := c.Offset()
	hdrLen, err := c.Uint(u.offSize())
	if err != nil {
		return false, types.Wrapf(types.InvalidFile, err, "line unit at %#x", start)
	}
	// minimum_instruction_length, [maximum_operations_per_instruction],
	// default_is_stmt, line_base, line_range
	skip := 4
	if u.version >= 4 {
		skip++
	}
	if err := c.Skip(skip); err != nil {
		return false, types.Wrapf(types.InvalidFile, err, "line unit at %#x", start)
	}
	opcodeBase, err := c.Uint8()
	if err != nil {
		return false, types.Wrapf(types.InvalidFile, err, "line unit at %#x", start)
	}
	if opcodeBase > 0 {
		if err := c.Skip(int(opcodeBase) - 1); err != nil {
			return false, types.Wrapf(types.InvalidFile, err, "line unit at %#x", start)
		}
	}

	poolOff := c.Offset()
	var dirs []string
	for {
		d, err := c.Asciiz()
		if err != nil {
			return false, types.Wrapf(types.InvalidFile, err, "include directories of line unit at %#x", start)
		}
		if d == "" {
			break
		}
		dirs = append(dirs, d)
	}
	poolEnd := c.Offset()
	if poolEnd > end {
		return false, types.Errorf(types.InvalidFile, "include directories of line unit at %#x overrun the unit", start)
	}

	changed := false
	for i, d := range dirs {
		if n, ok := rules.Replace(d); ok {
			dirs[i] = n
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	oldSize := poolEnd - poolOff
	if newSize := poolSize(dirs); newSize < oldSize {
		if d := oldSize - newSize; d == 1 {
			// A filler costs at least two bytes; the pool grows by one.
			dirs = append(dirs, string(lineFiller))
		} else {
			dirs = append(dirs, strings.Repeat(string(lineFiller), d-1))
		}
	}
	pool := encodePool(dirs)

	if len(pool) == oldSize {
		copy(t.dat[poolOff:], pool)
		return true, nil
	}

	delta := uint64(len(pool) - oldSize)
	p := &lineUnitPatch{
		offset:   start,
		dwarf64:  dwarf64,
		poolOff:  poolOff,
		poolEnd:  poolEnd,
		pool:     pool,
		length:   length + delta,
		hdrLen:   hdrLen + delta,
		hdrField: hdrField,
	}
	if !dwarf64 && (p.length >= 0xfffffff0 || p.hdrLen > math.MaxUint32) {
		return false, types.Errorf(types.NotImplemented, "line unit at %#x would outgrow 32-bit DWARF", start)
	}
	log.Debugf("line unit at %#x: include directories grow by %d bytes", start, delta)
	t.patches = append(t.patches, p)
	return true, nil
}

func poolSize(dirs []string) int {
	n := 1
	for _, d := range dirs {
		n += len(d) + 1
	}
	return n
}

func encodePool(dirs []string) []byte {
	out := make([]byte, 0, poolSize(dirs))
	for _, d := range dirs {
		out = append(out, d...)
		out = append(out, 0)
	}
	return append(out, 0)
}

// rebuild copies the section with every recorded pool replaced and the
// lengths of the grown units updated.
func (t *lineTable) rebuild() ([]byte, map[uint64]uint64) {
	grow := 0
	for _, p := range t.patches {
		grow += p.delta()
	}
	out := make([]byte, 0, len(t.dat)+grow)
	moved := make(map[uint64]uint64, len(t.units))

	shift, next, prev := 0, 0, 0
	for _, u := range t.units {
		for next < len(t.patches) && t.patches[next].offset < u {
			shift += t.patches[next].delta()
			next++
		}
		moved[uint64(u)] = uint64(u + shift)
	}

	for _, p := range t.patches {
		base := len(out) - prev // shift of this unit
		out = append(out, t.dat[prev:p.poolOff]...)
		out = append(out, p.pool...)
		prev = p.poolEnd

		unitOff := p.offset + base
		if p.dwarf64 {
			t.order.PutUint64(out[unitOff+4:], p.length)
			t.order.PutUint64(out[p.hdrField+base:], p.hdrLen)
		} else {
			t.order.PutUint32(out[unitOff:], uint32(p.length))
			t.order.PutUint32(out[p.hdrField+base:], uint32(p.hdrLen))
		}
	}
	out = append(out, t.dat[prev:]...)
	return out, moved
}
