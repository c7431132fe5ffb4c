package covmap

import (
	"encoding/binary"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/appsworld/go-macho-patch/pkg/prefix"
	"github.com/appsworld/go-macho-patch/types"
)

// SectionName is the coverage mapping section.
const SectionName = "__llvm_covmap"

// Segments that may hold a coverage mapping section, in lookup order.
var Segments = []string{"__DATA", "__LLVM_COV"}

// An Image is a Mach-O image whose sections can be read and replaced.
type Image interface {
	Order() binary.ByteOrder
	ReadSection(segment, section string, padding int) ([]byte, error)
	WriteSection(segment, section string, dat []byte) (types.WriteStatus, error)
}

// A Patcher rewrites coverage mapping filenames.
type Patcher struct {
	Rules prefix.Rules
}

// NewPatcher returns a Patcher applying rules in order.
func NewPatcher(rules prefix.Rules) *Patcher {
	return &Patcher{Rules: rules}
}

// Patch rewrites the coverage mapping sections of img in place. Images
// without one are skipped with a warning.
func (p *Patcher) Patch(img Image) (types.PatchStatus, error) {
	status := types.NotModified
	found := false
	for _, seg := range Segments {
		dat, err := img.ReadSection(seg, SectionName, 0)
		if errors.Is(err, types.ErrSectionNotFound) {
			continue
		} else if err != nil {
			return status, err
		}
		found = true

		sec, err := Parse(dat, img.Order())
		if err != nil {
			return status, errors.Wrapf(err, "%s,%s", seg, SectionName)
		}
		log.WithField("section", seg+","+SectionName).Debugf("%d coverage mapping records", len(sec.Records))
		for _, r := range sec.Records {
			log.Debug(r.String())
		}

		out, modified, err := sec.Patch(p.Rules)
		if err != nil {
			return status, errors.Wrapf(err, "%s,%s", seg, SectionName)
		}
		if !modified {
			continue
		}
		ws, err := img.WriteSection(seg, SectionName, out)
		if err != nil {
			return status, err
		}
		status = status.Merge(types.StatusOf(ws))
	}
	if !found {
		log.Warnf("no %s section found, skipping coverage map", SectionName)
	}
	return status, nil
}
