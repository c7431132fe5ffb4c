package dwarfpatch

import (
	"github.com/appsworld/go-macho-patch/pkg/cursor"
	"github.com/appsworld/go-macho-patch/types"
)

type abbrevAttr struct {
	name uint64
	form uint64
	// implicit holds the DW_FORM_implicit_const value.
	implicit int64
}

type abbrev struct {
	tag      uint64
	children bool
	attrs    []abbrevAttr
}

// An abbrevTable maps abbreviation codes to their schema.
type abbrevTable map[uint64]*abbrev

// parseAbbrev reads every abbreviation set in a __debug_abbrev section,
// keyed by the offset units use to refer to them. A zero code ends a set;
// the next set starts right after it.
func parseAbbrev(dat []byte) (map[uint64]abbrevTable, error) {
	sets := make(map[uint64]abbrevTable)
	c := cursor.New(dat, nil)
	setOff := uint64(0)
	for c.Remaining() > 0 {
		off := c.Offset()
		code, err := c.Uleb128()
		if err != nil {
			return nil, types.Wrapf(types.InvalidFile, err, "failed to read abbreviation code at %#x", off)
		}
		if code == 0 {
			setOff = uint64(c.Offset())
			continue
		}
		a, err := readAbbrev(c)
		if err != nil {
			return nil, types.Wrapf(types.InvalidFile, err, "failed to read abbreviation %d at %#x", code, off)
		}
		table, ok := sets[setOff]
		if !ok {
			table = make(abbrevTable)
			sets[setOff] = table
		}
		table[code] = a
	}
	return sets, nil
}

func readAbbrev(c *cursor.Cursor) (*abbrev, error) {
	var a abbrev
	var err error
	if a.tag, err = c.Uleb128(); err != nil {
		return nil, err
	}
	children, err := c.Uint8()
	if err != nil {
		return nil, err
	}
	a.children = children != 0
	for {
		name, err := c.Uleb128()
		if err != nil {
			return nil, err
		}
		form, err := c.Uleb128()
		if err != nil {
			return nil, err
		}
		if name == 0 && form == 0 {
			return &a, nil
		}
		attr := abbrevAttr{name: name, form: form}
		if form == formImplicitConst {
			if attr.implicit, err = c.Sleb128(); err != nil {
				return nil, err
			}
		}
		a.attrs = append(a.attrs, attr)
	}
}
