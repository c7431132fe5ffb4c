package macho

import (
	"fmt"
	"strings"

	"github.com/blacktop/go-dwarf"
)

// DWARF returns the DWARF debug information for the Mach-O image.
// Deferred writes are not visible until Finalize.
func (f *File) DWARF() (*dwarf.Data, error) {
	dwarfSuffix := func(s *Section) string {
		switch {
		case strings.HasPrefix(s.Name, "__debug_"):
			return s.Name[8:]
		case strings.HasPrefix(s.Name, "__apple_"):
			return s.Name[8:]
		default:
			return ""
		}
	}

	// There are many other DWARF sections, but these
	// are the ones the debug/dwarf package uses.
	// Don't bother loading others.
	var dat = map[string][]byte{"abbrev": nil, "info": nil, "str": nil, "line": nil, "ranges": nil}
	for _, s := range f.Sections {
		if s.Seg != SegDWARF {
			continue
		}
		suffix := dwarfSuffix(s)
		if _, ok := dat[suffix]; !ok {
			continue
		}
		b, err := f.ReadSection(s.Seg, s.Name, 0)
		if err != nil {
			return nil, err
		}
		dat[suffix] = b
	}

	return dwarf.New(dat["abbrev"], nil, nil, dat["info"], dat["line"], nil, dat["ranges"], dat["str"])
}

// CompileUnits returns the name and compilation directory of every
// compile unit in the image.
func (f *File) CompileUnits() ([]string, error) {
	d, err := f.DWARF()
	if err != nil {
		return nil, err
	}
	var units []string
	r := d.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			break
		}
		if e.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		name, _ := e.Val(dwarf.AttrName).(string)
		dir, _ := e.Val(dwarf.AttrCompDir).(string)
		units = append(units, fmt.Sprintf("%s (%s)", name, dir))
		r.SkipChildren()
	}
	return units, nil
}
