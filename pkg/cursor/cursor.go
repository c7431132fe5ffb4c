// Package cursor provides a sequential reader over an in-memory byte buffer
// for decoding the fixed width integers, LEB128 varints and C strings used
// by Mach-O, DWARF and LLVM coverage data.
package cursor

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrUnexpectedEOF is returned when a read needs more bytes than remain.
var ErrUnexpectedEOF = errors.New("unexpected end of buffer")

// A Cursor reads values from a byte slice. It never modifies the slice.
// A failed read leaves the position unchanged.
type Cursor struct {
	buf   []byte
	off   int
	order binary.ByteOrder
}

// New returns a Cursor over buf decoding multi-byte values with order.
func New(buf []byte, order binary.ByteOrder) *Cursor {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Cursor{buf: buf, order: order}
}

func (c *Cursor) Order() binary.ByteOrder { return c.order }
func (c *Cursor) Offset() int             { return c.off }
func (c *Cursor) Len() int                { return len(c.buf) }
func (c *Cursor) Remaining() int          { return len(c.buf) - c.off }

// Bytes returns the underlying buffer.
func (c *Cursor) Bytes() []byte { return c.buf }

func (c *Cursor) need(n int) error {
	if n < 0 || n > len(c.buf)-c.off {
		return errors.Wrapf(ErrUnexpectedEOF, "need %d bytes at offset %#x, have %d", n, c.off, len(c.buf)-c.off)
	}
	return nil
}

// Seek moves to an absolute offset. Seeking to the end is allowed.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return errors.Wrapf(ErrUnexpectedEOF, "seek to %#x beyond buffer of %d bytes", off, len(c.buf))
	}
	c.off = off
	return nil
}

// Skip advances n bytes.
func (c *Cursor) Skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.off += n
	return nil
}

func (c *Cursor) Uint8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

func (c *Cursor) Uint16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := c.order.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

func (c *Cursor) Uint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := c.order.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *Cursor) Uint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := c.order.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

// Uint reads a 4 or 8 byte value.
func (c *Cursor) Uint(size int) (uint64, error) {
	switch size {
	case 4:
		v, err := c.Uint32()
		return uint64(v), err
	case 8:
		return c.Uint64()
	}
	return 0, errors.Errorf("unsupported integer width %d", size)
}

// Uleb128 reads an unsigned LEB128 value of any encoded length. Bits beyond
// the 64th must be zero.
func (c *Cursor) Uleb128() (uint64, error) {
	var (
		result uint64
		shift  uint
	)
	for i := c.off; i < len(c.buf); i++ {
		b := c.buf[i]
		payload := uint64(b & 0x7f)
		if shift < 64 {
			if shift > 0 && payload>>(64-shift) != 0 {
				return 0, errors.Errorf("ULEB128 at offset %#x overflows 64 bits", c.off)
			}
			result |= payload << shift
		} else if payload != 0 {
			return 0, errors.Errorf("ULEB128 at offset %#x overflows 64 bits", c.off)
		}
		shift += 7
		if b&0x80 == 0 {
			c.off = i + 1
			return result, nil
		}
	}
	return 0, errors.Wrapf(ErrUnexpectedEOF, "unterminated ULEB128 at offset %#x", c.off)
}

// Sleb128 reads a signed LEB128 value.
func (c *Cursor) Sleb128() (int64, error) {
	var (
		result int64
		shift  uint
	)
	for i := c.off; i < len(c.buf); i++ {
		b := c.buf[i]
		if shift < 64 {
			result |= int64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			c.off = i + 1
			return result, nil
		}
	}
	return 0, errors.Wrapf(ErrUnexpectedEOF, "unterminated SLEB128 at offset %#x", c.off)
}

// Fixed returns a copy of the next n bytes.
func (c *Cursor) Fixed(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, c.buf[c.off:])
	c.off += n
	return b, nil
}

// Asciiz reads a NUL terminated string and consumes the terminator.
func (c *Cursor) Asciiz() (string, error) {
	i := bytes.IndexByte(c.buf[c.off:], 0)
	if i < 0 {
		return "", errors.Wrapf(ErrUnexpectedEOF, "unterminated string at offset %#x", c.off)
	}
	s := string(c.buf[c.off : c.off+i])
	c.off += i + 1
	return s, nil
}

// UlebSize returns the number of bytes needed to encode v as ULEB128.
func UlebSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// AppendUleb128 appends the ULEB128 encoding of v to b.
func AppendUleb128(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if c&0x80 == 0 {
			return b
		}
	}
}
