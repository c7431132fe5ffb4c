package cursor

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestFixedWidth(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
	tests := []struct {
		order binary.ByteOrder
		u8    uint8
		u16   uint16
		u32   uint32
		u64   uint64
	}{
		{binary.LittleEndian, 0x01, 0x0302, 0x07060504, 0x0f0e0d0c0b0a0908},
		{binary.BigEndian, 0x01, 0x0203, 0x04050607, 0x08090a0b0c0d0e0f},
	}
	for _, tt := range tests {
		c := New(buf, tt.order)
		u8, err := c.Uint8()
		if err != nil || u8 != tt.u8 {
			t.Errorf("%v Uint8: have %#x, %v want %#x", tt.order, u8, err, tt.u8)
		}
		u16, err := c.Uint16()
		if err != nil || u16 != tt.u16 {
			t.Errorf("%v Uint16: have %#x, %v want %#x", tt.order, u16, err, tt.u16)
		}
		u32, err := c.Uint32()
		if err != nil || u32 != tt.u32 {
			t.Errorf("%v Uint32: have %#x, %v want %#x", tt.order, u32, err, tt.u32)
		}
		u64, err := c.Uint64()
		if err != nil || u64 != tt.u64 {
			t.Errorf("%v Uint64: have %#x, %v want %#x", tt.order, u64, err, tt.u64)
		}
		if c.Remaining() != 0 {
			t.Errorf("%v: %d bytes left over", tt.order, c.Remaining())
		}
		if _, err := c.Uint8(); !errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("%v: read past end: have %v want ErrUnexpectedEOF", tt.order, err)
		}
	}
}

func TestShortReadKeepsPosition(t *testing.T) {
	c := New([]byte{1, 2, 3}, binary.LittleEndian)
	if err := c.Skip(1); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Uint32(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("Uint32: have %v want ErrUnexpectedEOF", err)
	}
	if c.Offset() != 1 {
		t.Errorf("offset after failed read: have %d want 1", c.Offset())
	}
	if err := c.Seek(4); err == nil {
		t.Errorf("seek past end succeeded")
	}
	if err := c.Seek(3); err != nil {
		t.Errorf("seek to end: %v", err)
	}
}

func TestUleb128(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint64
		n    int
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0x7f}, 127, 1},
		{[]byte{0x80, 0x01}, 128, 2},
		{[]byte{0xe5, 0x8e, 0x26}, 624485, 3},
		// Redundant zero continuation bytes are legal.
		{[]byte{0x81, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, 1, 12},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, 1<<64 - 1, 10},
	}
	for _, tt := range tests {
		c := New(tt.in, binary.LittleEndian)
		have, err := c.Uleb128()
		if err != nil {
			t.Errorf("Uleb128(% x): %v", tt.in, err)
			continue
		}
		if have != tt.want || c.Offset() != tt.n {
			t.Errorf("Uleb128(% x):\n\thave %d (%d bytes)\n\twant %d (%d bytes)\n", tt.in, have, c.Offset(), tt.want, tt.n)
		}
		if UlebSize(tt.want) > tt.n {
			t.Errorf("UlebSize(%d) = %d exceeds encoded length %d", tt.want, UlebSize(tt.want), tt.n)
		}
	}

	if _, err := New([]byte{0x80, 0x80}, nil).Uleb128(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("unterminated: have %v want ErrUnexpectedEOF", err)
	}
	if _, err := New([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}, nil).Uleb128(); err == nil {
		t.Errorf("overflow: expected error")
	}
}

func TestAppendUleb128(t *testing.T) {
	for _, v := range []uint64{0, 1, 126, 127, 128, 129, 16383, 16384, 1 << 35, 1<<64 - 1} {
		b := AppendUleb128(nil, v)
		if len(b) != UlebSize(v) {
			t.Errorf("AppendUleb128(%d): %d bytes, UlebSize says %d", v, len(b), UlebSize(v))
		}
		have, err := New(b, nil).Uleb128()
		if err != nil || have != v {
			t.Errorf("decode(AppendUleb128(%d)) = %d, %v", v, have, err)
		}
	}
}

func TestSleb128(t *testing.T) {
	tests := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x02}, 2},
		{[]byte{0x7e}, -2},
		{[]byte{0xff, 0x00}, 127},
		{[]byte{0x81, 0x7f}, -127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0x80, 0x7f}, -128},
	}
	for _, tt := range tests {
		have, err := New(tt.in, nil).Sleb128()
		if err != nil || have != tt.want {
			t.Errorf("Sleb128(% x): have %d, %v want %d", tt.in, have, err, tt.want)
		}
	}
}

func TestAsciizAndFixed(t *testing.T) {
	c := New([]byte("abc\x00\x00xyz"), nil)
	s, err := c.Asciiz()
	if err != nil || s != "abc" {
		t.Fatalf("Asciiz: have %q, %v", s, err)
	}
	s, err = c.Asciiz()
	if err != nil || s != "" {
		t.Fatalf("empty Asciiz: have %q, %v", s, err)
	}
	b, err := c.Fixed(2)
	if err != nil || string(b) != "xy" {
		t.Fatalf("Fixed: have %q, %v", b, err)
	}
	if _, err := c.Asciiz(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("unterminated Asciiz: have %v", err)
	}
	if c.Offset() != 7 {
		t.Errorf("offset: have %d want 7", c.Offset())
	}
}
