package macho

import (
	"bytes"
	"sort"

	"github.com/apex/log"
	"github.com/lunixbochs/struc"

	"github.com/appsworld/go-macho-patch/types"
)

// A deferredWrite is a pending section replacement whose size differs from
// the section it replaces.
type deferredWrite struct {
	segment string
	section string
	sect    *Section
	data    []byte
	oldSize uint64
}

func (w *deferredWrite) delta() int64 { return int64(len(w.data)) - int64(w.oldSize) }

// WriteSection replaces the contents of a section. A payload of the same
// size is copied into the image at once; any other size is recorded and
// applied by Finalize.
func (f *File) WriteSection(segment, section string, dat []byte) (types.WriteStatus, error) {
	s := f.Section(segment, section)
	if s == nil {
		return types.WriteApplied, types.Wrapf(types.WriteFailed, types.ErrSectionNotFound, "%s,%s", segment, section)
	}
	if s.Flags.IsZerofill() {
		return types.WriteApplied, types.Errorf(types.WriteFailed, "cannot write zero fill section %s,%s", segment, section)
	}
	f.dropDeferred(segment, section)
	if uint64(len(dat)) == s.Size {
		copy(f.data[s.Offset:], dat)
		f.dirty = true
		return types.WriteApplied, nil
	}
	if s.Size == 0 {
		return types.WriteApplied, types.Errorf(types.NotImplemented, "cannot resize empty section %s,%s", segment, section)
	}
	log.WithFields(log.Fields{
		"section": segment + "," + section,
		"old":     s.Size,
		"new":     len(dat),
	}).Debug("deferring section write")
	f.deferred = append(f.deferred, &deferredWrite{
		segment: segment,
		section: section,
		sect:    s,
		data:    append([]byte(nil), dat...),
		oldSize: s.Size,
	})
	return types.WriteDeferred, nil
}

func (f *File) dropDeferred(segment, section string) {
	for i, w := range f.deferred {
		if w.segment == segment && w.section == section {
			f.deferred = append(f.deferred[:i], f.deferred[i+1:]...)
			return
		}
	}
}

// HasDeferredWrites reports whether Finalize has relocation work to do.
func (f *File) HasDeferredWrites() bool { return len(f.deferred) > 0 }

// Modified reports whether any section was written.
func (f *File) Modified() bool { return f.dirty || len(f.deferred) > 0 }

// SizeDelta is the change in image size Finalize will produce.
func (f *File) SizeDelta() int64 {
	var d int64
	for _, w := range f.deferred {
		d += w.delta()
	}
	return d
}

// relocation maps offsets in the original image to the finalized image.
type relocation []*deferredWrite

// apply shifts off by the size change of every resized section that ends
// at or before it. Offsets inside or at the start of a resized section
// are not moved.
func (r relocation) apply(off uint64) uint64 {
	n := int64(off)
	for _, w := range r {
		start := uint64(w.sect.Offset)
		if start < off && start+w.oldSize <= off {
			n += w.delta()
		}
	}
	return uint64(n)
}

// Finalize applies all deferred writes. The image is rebuilt in a new
// buffer: untouched spans are copied, resized sections get their new
// payload, and every segment, section and link-edit offset behind a resized
// section is moved by the accumulated delta. The File is re-parsed from the
// result and the new image bytes are returned.
func (f *File) Finalize() ([]byte, error) {
	if len(f.deferred) == 0 {
		return f.data, nil
	}

	ws := append(relocation(nil), f.deferred...)
	sort.Slice(ws, func(i, j int) bool { return ws[i].sect.Offset < ws[j].sect.Offset })

	hdrEnd := uint64(types.FileHeaderSize32)
	if f.is64bit() {
		hdrEnd = types.FileHeaderSize64
	}
	hdrEnd += uint64(f.SizeCommands)

	var prevEnd uint64
	for _, w := range ws {
		start := uint64(w.sect.Offset)
		if start < hdrEnd {
			return nil, types.Wrap(types.InvalidFile, &FormatError{int64(start), "section overlaps load commands", w.segment + "," + w.section}, "failed to finalize")
		}
		if start < prevEnd {
			return nil, types.Wrap(types.InvalidFile, &FormatError{int64(start), "resized sections overlap", w.segment + "," + w.section}, "failed to finalize")
		}
		if seg := f.segmentOf(w.sect); seg == nil || start < seg.Offset || start+w.oldSize > seg.Offset+seg.Filesz {
			return nil, types.Wrap(types.InvalidFile, &FormatError{int64(start), "section lies outside its segment", w.segment + "," + w.section}, "failed to finalize")
		}
		prevEnd = start + w.oldSize
	}

	out := make([]byte, 0, int64(len(f.data))+f.SizeDelta())
	var pos uint64
	for _, w := range ws {
		start := uint64(w.sect.Offset)
		out = append(out, f.data[pos:start]...)
		out = append(out, w.data...)
		pos = start + w.oldSize
		log.Debugf("%s,%s: %#x bytes -> %#x bytes at %#x", w.segment, w.section, w.oldSize, len(w.data), start)
	}
	out = append(out, f.data[pos:]...)

	if err := f.relocateCommands(out, ws); err != nil {
		return nil, err
	}

	nf, err := newFileFromBytes(out, f.ContentOffset)
	if err != nil {
		return nil, types.Wrap(types.WriteFailed, err, "finalized image does not parse")
	}
	*f = *nf
	f.dirty = true
	return out, nil
}

// relocateCommands rewrites the offset fields of every load command in buf,
// which holds the rebuilt image. Load commands precede all section data, so
// they sit at their original offsets.
func (f *File) relocateCommands(buf []byte, r relocation) error {
	bo := f.ByteOrder
	resized := make(map[*Section]*deferredWrite, len(r))
	for _, w := range r {
		resized[w.sect] = w
	}
	for i, l := range f.Loads {
		cmdOff := f.loadOffsets[i]
		switch l := l.(type) {
		case *Segment:
			if err := f.relocateSegment(buf, l, r, resized); err != nil {
				return err
			}
		case *Symtab:
			cmd := l.SymtabCmd
			if cmd.Nsyms > 0 {
				cmd.Symoff = uint32(r.apply(uint64(cmd.Symoff)))
			}
			if cmd.Strsize > 0 {
				cmd.Stroff = uint32(r.apply(uint64(cmd.Stroff)))
			}
			if err := f.putAt(buf, cmdOff, &cmd); err != nil {
				return err
			}
		case *Dysymtab:
			cmd := l.DysymtabCmd
			shift := func(off *uint32, n uint32) {
				if n > 0 {
					*off = uint32(r.apply(uint64(*off)))
				}
			}
			shift(&cmd.Tocoffset, cmd.Ntoc)
			shift(&cmd.Modtaboff, cmd.Nmodtab)
			shift(&cmd.Extrefsymoff, cmd.Nextrefsyms)
			shift(&cmd.Indirectsymoff, cmd.Nindirectsyms)
			shift(&cmd.Extreloff, cmd.Nextrel)
			shift(&cmd.Locreloff, cmd.Nlocrel)
			if err := f.putAt(buf, cmdOff, &cmd); err != nil {
				return err
			}
		case LoadCmdBytes:
			switch {
			case l.LoadCmd.IsLinkEditData():
				var cmd types.LinkEditDataCmd
				if err := struc.UnpackWithOrder(bytes.NewReader(l.Raw()), &cmd, bo); err != nil {
					return types.Wrapf(types.InvalidFile, err, "failed to read %s", l.LoadCmd)
				}
				if cmd.Size > 0 {
					cmd.Offset = uint32(r.apply(uint64(cmd.Offset)))
				}
				if l.LoadCmd == types.LC_CODE_SIGNATURE {
					log.Warn("rewritten image carries a code signature that no longer matches, re-sign it before use")
				}
				if err := f.putAt(buf, cmdOff, &cmd); err != nil {
					return err
				}
			case l.LoadCmd == types.LC_DYLD_INFO || l.LoadCmd == types.LC_DYLD_INFO_ONLY:
				var cmd types.DyldInfoCmd
				if err := struc.UnpackWithOrder(bytes.NewReader(l.Raw()), &cmd, bo); err != nil {
					return types.Wrapf(types.InvalidFile, err, "failed to read %s", l.LoadCmd)
				}
				shift := func(off *uint32, n uint32) {
					if n > 0 {
						*off = uint32(r.apply(uint64(*off)))
					}
				}
				shift(&cmd.RebaseOff, cmd.RebaseSize)
				shift(&cmd.BindOff, cmd.BindSize)
				shift(&cmd.WeakBindOff, cmd.WeakBindSize)
				shift(&cmd.LazyBindOff, cmd.LazyBindSize)
				shift(&cmd.ExportOff, cmd.ExportSize)
				if err := f.putAt(buf, cmdOff, &cmd); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (f *File) relocateSegment(buf []byte, seg *Segment, r relocation, resized map[*Section]*deferredWrite) error {
	bo := f.ByteOrder
	raw := seg.Raw()
	hdrSize, sectSize := types.Segment32Size, types.Section32Size
	if seg.LoadCmd == types.LC_SEGMENT_64 {
		hdrSize, sectSize = types.Segment64Size, types.Section64Size
	}

	newOff, newSize := seg.Offset, seg.Filesz
	if seg.Filesz > 0 {
		newOff = r.apply(seg.Offset)
		newSize = r.apply(seg.Offset+seg.Filesz) - newOff
	}
	if newOff != seg.Offset || newSize != seg.Filesz {
		log.Debugf("segment %s: offset %#x -> %#x, size %#x -> %#x", seg.Name, seg.Offset, newOff, seg.Filesz, newSize)
	}

	cmdOff := seg.CmdOffset
	if seg.LoadCmd == types.LC_SEGMENT_64 {
		var s64 types.Segment64
		if err := struc.UnpackWithOrder(bytes.NewReader(raw), &s64, bo); err != nil {
			return types.Wrap(types.InvalidFile, err, "failed to read LC_SEGMENT_64")
		}
		s64.Offset, s64.Filesz = newOff, newSize
		if err := f.putAt(buf, cmdOff, &s64); err != nil {
			return err
		}
	} else {
		var s32 types.Segment32
		if err := struc.UnpackWithOrder(bytes.NewReader(raw), &s32, bo); err != nil {
			return types.Wrap(types.InvalidFile, err, "failed to read LC_SEGMENT")
		}
		s32.Offset, s32.Filesz = uint32(newOff), uint32(newSize)
		if err := f.putAt(buf, cmdOff, &s32); err != nil {
			return err
		}
	}

	// Walk the table, not the sorted view: headers are rewritten where they sit.
	for i := 0; i < int(seg.Nsect); i++ {
		hdrOff := hdrSize + i*sectSize
		var sect *Section
		for _, s := range seg.Sections {
			if s.HdrOffset == cmdOff+int64(hdrOff) {
				sect = s
				break
			}
		}
		if sect == nil {
			continue
		}
		size := sect.Size
		off := uint64(sect.Offset)
		if sect.InFile() {
			off = r.apply(off)
		}
		if w, ok := resized[sect]; ok {
			size = uint64(len(w.data))
		}
		reloff := sect.Reloff
		if sect.Nreloc > 0 {
			reloff = uint32(r.apply(uint64(reloff)))
		}
		if align := uint64(1) << sect.Align; sect.Align < 64 && off%align != 0 && off != uint64(sect.Offset) {
			log.Warnf("section %s,%s moved to %#x, which breaks its 2^%d alignment", sect.Seg, sect.Name, off, sect.Align)
		}

		if seg.LoadCmd == types.LC_SEGMENT_64 {
			var h types.Section64
			if err := struc.UnpackWithOrder(bytes.NewReader(raw[hdrOff:]), &h, bo); err != nil {
				return types.Wrap(types.InvalidFile, err, "failed to read Section64")
			}
			h.Offset, h.Size, h.Reloff = uint32(off), size, reloff
			if err := f.putAt(buf, sect.HdrOffset, &h); err != nil {
				return err
			}
		} else {
			var h types.Section32
			if err := struc.UnpackWithOrder(bytes.NewReader(raw[hdrOff:]), &h, bo); err != nil {
				return types.Wrap(types.InvalidFile, err, "failed to read Section32")
			}
			h.Offset, h.Size, h.Reloff = uint32(off), uint32(size), reloff
			if err := f.putAt(buf, sect.HdrOffset, &h); err != nil {
				return err
			}
		}
	}
	return nil
}

// putAt packs v with the image byte order at off.
func (f *File) putAt(buf []byte, off int64, v interface{}) error {
	var b bytes.Buffer
	if err := struc.PackWithOrder(&b, v, f.ByteOrder); err != nil {
		return types.Wrap(types.WriteFailed, err, "failed to encode load command")
	}
	if off < 0 || off+int64(b.Len()) > int64(len(buf)) {
		return types.Wrap(types.WriteFailed, &FormatError{off, "load command write out of range", b.Len()}, "failed to encode load command")
	}
	copy(buf[off:], b.Bytes())
	return nil
}
