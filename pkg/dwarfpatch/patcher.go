// Package dwarfpatch rewrites path prefixes in the DWARF debug sections of
// a Mach-O image.
package dwarfpatch

import (
	"encoding/binary"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/appsworld/go-macho-patch/pkg/prefix"
	"github.com/appsworld/go-macho-patch/types"
)

// Segment holds the debug sections.
const Segment = "__DWARF"

const (
	SectStr    = "__debug_str"
	SectAbbrev = "__debug_abbrev"
	SectInfo   = "__debug_info"
	SectLine   = "__debug_line"
)

// An Image is a Mach-O image whose sections can be read and replaced.
type Image interface {
	Order() binary.ByteOrder
	ReadSection(segment, section string, padding int) ([]byte, error)
	WriteSection(segment, section string, dat []byte) (types.WriteStatus, error)
}

// A Patcher rewrites path prefixes in debug strings and line tables.
type Patcher struct {
	Rules prefix.Rules
}

// NewPatcher returns a Patcher applying rules in order.
func NewPatcher(rules prefix.Rules) *Patcher {
	return &Patcher{Rules: rules}
}

func read(img Image, sect string, padding int) ([]byte, bool, error) {
	dat, err := img.ReadSection(Segment, sect, padding)
	if errors.Is(err, types.ErrSectionNotFound) {
		log.Warnf("no %s,%s section found", Segment, sect)
		return nil, false, nil
	}
	return dat, err == nil, err
}

// Patch rewrites the include directories of the line table and the string
// table of img. When either moves, offsets stored in __debug_info are
// relocated to follow.
func (p *Patcher) Patch(img Image) (types.PatchStatus, error) {
	status := types.NotModified
	write := func(sect string, dat []byte) error {
		ws, err := img.WriteSection(Segment, sect, dat)
		if err != nil {
			return err
		}
		status = status.Merge(types.StatusOf(ws))
		return nil
	}
	rel := &infoRelocator{order: img.Order()}

	dat, ok, err := read(img, SectLine, 0)
	if err != nil {
		return status, err
	}
	if ok {
		out, moved, modified, err := patchLine(dat, img.Order(), p.Rules)
		if err != nil {
			return status, errors.Wrapf(err, "%s,%s", Segment, SectLine)
		}
		if modified {
			if err := write(SectLine, out); err != nil {
				return status, err
			}
		}
		rel.line = moved
	}

	dat, ok, err = read(img, SectStr, 1)
	if err != nil {
		return status, err
	}
	if ok {
		if p.Rules.NeverGrows() {
			out, modified := patchStrInPlace(dat, p.Rules)
			if modified {
				if err := write(SectStr, out); err != nil {
					return status, err
				}
			}
		} else {
			out, reloc, modified := rebuildStr(dat, p.Rules)
			if modified {
				log.Debugf("%s rebuilt: %d -> %d bytes", SectStr, len(dat)-1, len(out))
				if err := write(SectStr, out); err != nil {
					return status, err
				}
				rel.str = reloc
			}
		}
	}

	if rel.str == nil && rel.line == nil {
		return status, nil
	}

	abbrev, ok, err := read(img, SectAbbrev, 0)
	if err != nil || !ok {
		return status, err
	}
	info, ok, err := read(img, SectInfo, 0)
	if err != nil || !ok {
		return status, err
	}
	sets, err := parseAbbrev(abbrev)
	if err != nil {
		return status, errors.Wrapf(err, "%s,%s", Segment, SectAbbrev)
	}
	modified, err := rel.patchInfo(info, sets)
	if err != nil {
		return status, errors.Wrapf(err, "%s,%s", Segment, SectInfo)
	}
	if modified {
		if err := write(SectInfo, info); err != nil {
			return status, err
		}
	}
	return status, nil
}
