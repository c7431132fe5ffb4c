package macho

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/apex/log"

	"github.com/appsworld/go-macho-patch/types"
)

// A Container is a Mach-O file on disk, thin or universal, held in memory
// between Open and Commit.
type Container struct {
	Path string

	fat  *FatFile
	thin *File
	raw  []byte

	closer io.Closer
}

// Open reads the named file and parses every image in it.
func Open(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.Wrapf(types.OpenFailed, err, "failed to open %s", path)
	}
	dat, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, types.Wrapf(types.ReadFailed, err, "failed to read %s", path)
	}
	c, err := newContainer(path, dat)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

func newContainer(path string, dat []byte) (*Container, error) {
	c := &Container{Path: path, raw: dat}
	if _, ok := fatOrder(dat); ok || (len(dat) >= 4 && binary.BigEndian.Uint32(dat) == magicFat64) {
		ff, err := newFatFileFromBytes(dat)
		if err != nil {
			return nil, types.Wrapf(types.CodeOf(err), err, "%s", path)
		}
		c.fat = ff
		return c, nil
	}
	f, err := newFileFromBytes(append([]byte(nil), dat...), 0)
	if err != nil {
		return nil, types.Wrapf(types.CodeOf(err), err, "%s", path)
	}
	c.thin = f
	return c, nil
}

// IsFat reports whether the container is a universal binary.
func (c *Container) IsFat() bool { return c.fat != nil }

// Fat returns the universal wrapper, or nil for a thin file.
func (c *Container) Fat() *FatFile { return c.fat }

// Files returns every image in the container, in fat_arch order.
func (c *Container) Files() []*File {
	if c.fat == nil {
		return []*File{c.thin}
	}
	files := make([]*File, 0, len(c.fat.Arches))
	for _, fa := range c.fat.Arches {
		files = append(files, fa.File)
	}
	return files
}

// Modified reports whether any image was written to.
func (c *Container) Modified() bool {
	for _, f := range c.Files() {
		if f.Modified() {
			return true
		}
	}
	return false
}

// Bytes finalizes every image and returns the rebuilt container.
func (c *Container) Bytes() ([]byte, error) {
	if c.fat == nil {
		return c.thin.Finalize()
	}
	if err := c.checkFatGrowth(); err != nil {
		return nil, err
	}

	out := append([]byte(nil), c.raw...)
	for i := range c.fat.Arches {
		fa := &c.fat.Arches[i]
		img, err := fa.File.Finalize()
		if err != nil {
			return nil, types.Wrapf(types.CodeOf(err), err, "slice %d (%s)", i, fa.CPU)
		}
		start, oldEnd := uint64(fa.Offset), uint64(fa.Offset)+uint64(fa.Size)
		switch {
		case uint64(len(img)) <= uint64(fa.Size):
			copy(out[start:], img)
			for j := start + uint64(len(img)); j < oldEnd; j++ {
				out[j] = 0
			}
		default:
			// checkFatGrowth guarantees this is the last slice in the file.
			tail := append([]byte(nil), out[oldEnd:]...)
			out = append(append(out[:start], img...), tail...)
		}
		if uint64(len(img)) != uint64(fa.Size) {
			log.Debugf("slice %d (%s): size %#x -> %#x", i, fa.CPU, fa.Size, len(img))
			fa.Size = uint32(len(img))
			if err := c.fat.putArch(out, i); err != nil {
				return nil, err
			}
		}
	}
	c.raw = out
	return out, nil
}

// checkFatGrowth refuses layouts that would need a slice to move.
func (c *Container) checkFatGrowth() error {
	grow := -1
	for i, fa := range c.fat.Arches {
		if fa.File.SizeDelta() <= 0 {
			continue
		}
		if grow >= 0 {
			return types.Errorf(types.NotImplemented, "cannot grow slices %d (%s) and %d (%s) of the same fat file",
				grow, c.fat.Arches[grow].CPU, i, fa.CPU)
		}
		grow = i
	}
	if grow < 0 {
		return nil
	}
	g := c.fat.Arches[grow]
	for i, fa := range c.fat.Arches {
		if i != grow && fa.Offset > g.Offset {
			return types.Errorf(types.NotImplemented, "cannot grow slice %d (%s), it is followed by slice %d (%s)",
				grow, g.CPU, i, fa.CPU)
		}
	}
	if uint64(g.Offset)+uint64(g.Size)+uint64(g.File.SizeDelta()) > 1<<32-1 {
		return types.Errorf(types.NotImplemented, "slice %d (%s) would outgrow a 32-bit fat header", grow, g.CPU)
	}
	return nil
}

// Commit writes the container back to its path when an image changed.
func (c *Container) Commit() error {
	if !c.Modified() {
		log.Debugf("%s: not modified", c.Path)
		return nil
	}
	dat, err := c.Bytes()
	if err != nil {
		return err
	}
	w, err := os.OpenFile(c.Path, os.O_WRONLY, 0)
	if err != nil {
		return types.Wrapf(types.WriteFailed, err, "failed to reopen %s", c.Path)
	}
	if _, err := w.WriteAt(dat, 0); err != nil {
		w.Close()
		return types.Wrapf(types.WriteFailed, err, "failed to write %s", c.Path)
	}
	if err := w.Truncate(int64(len(dat))); err != nil {
		w.Close()
		return types.Wrapf(types.WriteFailed, err, "failed to truncate %s", c.Path)
	}
	if err := w.Close(); err != nil {
		return types.Wrapf(types.WriteFailed, err, "failed to close %s", c.Path)
	}
	log.Debugf("%s: wrote %#x bytes", c.Path, len(dat))
	return nil
}

// Close releases the file handle held since Open.
func (c *Container) Close() error {
	var err error
	if c.closer != nil {
		err = c.closer.Close()
		c.closer = nil
	}
	return err
}
