// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package macho

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"testing"

	"github.com/blacktop/go-dwarf"
	"github.com/google/go-cmp/cmp"

	"github.com/appsworld/go-macho-patch/internal/machotest"
	"github.com/appsworld/go-macho-patch/types"
)

var relocEntry = []byte{1, 2, 3, 4, 5, 6, 7, 8}

func fixture(is64 bool, o binary.ByteOrder) *machotest.Image {
	return &machotest.Image{
		Is64:  is64,
		Order: o,
		Segments: []machotest.Segment{
			{Name: "__TEXT", Sections: []machotest.Section{{Name: "__text", Data: []byte{0xc0, 0x03, 0x5f, 0xd6}, Align: 2}}},
			{Name: "__DATA", Sections: []machotest.Section{
				{Name: "__a", Data: bytes.Repeat([]byte{0xaa}, 16), Align: 3},
				{Name: "__b", Data: []byte("bbbbbbbb"), Align: 3, Relocs: relocEntry},
				{Name: "__bss", Data: make([]byte, 32), Flags: types.Zerofill},
			}},
		},
		Symbols: []machotest.Symbol{
			{Name: "_main", Type: 0x0f, Sect: 1, Value: 0x1000},
			{Name: "_b", Type: 0x0e, Sect: 3, Value: 0x2010},
		},
		FunctionStarts: []byte{1, 2, 3, 4, 0, 0, 0, 0},
	}
}

type fileTest struct {
	name string
	is64 bool
	o    binary.ByteOrder
	hdr  types.FileHeader
}

var fileTests = []fileTest{
	{"arm-le", false, binary.LittleEndian, types.FileHeader{Magic: types.Magic32, CPU: types.CPUArm, Type: types.MH_EXECUTE, NCommands: 6}},
	{"arm-be", false, binary.BigEndian, types.FileHeader{Magic: types.Magic32, CPU: types.CPUArm, Type: types.MH_EXECUTE, NCommands: 6}},
	{"arm64-le", true, binary.LittleEndian, types.FileHeader{Magic: types.Magic64, CPU: types.CPUArm64, Type: types.MH_EXECUTE, NCommands: 6}},
	{"arm64-be", true, binary.BigEndian, types.FileHeader{Magic: types.Magic64, CPU: types.CPUArm64, Type: types.MH_EXECUTE, NCommands: 6}},
}

func TestNewFile(t *testing.T) {
	for _, tt := range fileTests {
		dat, lay := fixture(tt.is64, tt.o).Build()
		f, err := NewFile(bytes.NewReader(dat))
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if f.Order() != tt.o {
			t.Errorf("%s: byte order\n\thave %s\n\twant %s\n", tt.name, f.Order(), tt.o)
		}
		hdr := f.FileHeader
		hdr.SizeCommands, hdr.Flags = 0, 0
		if hdr != tt.hdr {
			t.Errorf("%s: header\n\thave %#v\n\twant %#v\n", tt.name, hdr, tt.hdr)
		}

		var segs []string
		for _, s := range f.Segments() {
			segs = append(segs, s.Name)
		}
		if diff := cmp.Diff([]string{"__TEXT", "__DATA", "__LINKEDIT"}, segs); diff != "" {
			t.Errorf("%s: segments mismatch (-want +got):\n%s", tt.name, diff)
		}
		for key, off := range lay.Sections {
			s := f.Sections[0]
			for _, sec := range f.Sections {
				if sec.Seg+","+sec.Name == key {
					s = sec
				}
			}
			if s.Offset != off {
				t.Errorf("%s: %s offset\n\thave %#x\n\twant %#x\n", tt.name, key, s.Offset, off)
			}
		}
		if f.Symtab == nil || len(f.Symtab.Syms) != 2 || f.Symtab.Syms[1].Name != "_b" {
			t.Errorf("%s: symbols\n\thave %#v\n", tt.name, f.Symtab)
		}
	}
}

func TestNewFileFailure(t *testing.T) {
	src, err := os.ReadFile("file.go") // not a Mach-O file
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(bytes.NewReader(src)); types.CodeOf(err) != types.InvalidFile {
		t.Errorf("file.go: have %v, want InvalidFile", err)
	}

	dat := fixture(true, nil).Bytes()
	binary.LittleEndian.PutUint32(dat[20:], 1<<20) // sizeofcmds
	if _, err := NewFile(bytes.NewReader(dat)); types.CodeOf(err) != types.InvalidFile {
		t.Errorf("oversized load commands: have %v, want InvalidFile", err)
	}

	dat = fixture(true, nil).Bytes()
	binary.LittleEndian.PutUint32(dat[types.FileHeaderSize64+4:], 3) // first cmdsize
	if _, err := NewFile(bytes.NewReader(dat)); types.CodeOf(err) != types.InvalidFile {
		t.Errorf("short command: have %v, want InvalidFile", err)
	}
}

func TestReadSection(t *testing.T) {
	f, err := NewFile(bytes.NewReader(fixture(true, nil).Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	dat, err := f.ReadSection("__DATA", "__b", 2)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte("bbbbbbbb\x00\x00"); !bytes.Equal(dat, want) {
		t.Errorf("have %q want %q", dat, want)
	}
	dat, err = f.ReadSection("__DATA", "__bss", 0)
	if err != nil || !bytes.Equal(dat, make([]byte, 32)) {
		t.Errorf("zero fill: have %q, %v", dat, err)
	}
	if _, err := f.ReadSection("__DATA", "__missing", 0); !errors.Is(err, types.ErrSectionNotFound) {
		t.Errorf("missing section: have %v, want ErrSectionNotFound", err)
	}
}

func TestWriteSection(t *testing.T) {
	f, err := NewFile(bytes.NewReader(fixture(true, nil).Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	ws, err := f.WriteSection("__DATA", "__b", []byte("cccccccc"))
	if err != nil || ws != types.WriteApplied {
		t.Fatalf("have %s, %v; want %s, nil", ws, err, types.WriteApplied)
	}
	if f.HasDeferredWrites() || !f.Modified() {
		t.Error("same size write must apply at once")
	}
	dat, _ := f.ReadSection("__DATA", "__b", 0)
	if string(dat) != "cccccccc" {
		t.Errorf("have %q", dat)
	}

	if _, err := f.WriteSection("__DATA", "__bss", make([]byte, 32)); types.CodeOf(err) != types.WriteFailed {
		t.Errorf("zero fill write: have %v, want WriteFailed", err)
	}
	if _, err := f.WriteSection("__DATA", "__missing", nil); !errors.Is(err, types.ErrSectionNotFound) {
		t.Errorf("missing section: have %v, want ErrSectionNotFound", err)
	}

	ws, err = f.WriteSection("__DATA", "__a", make([]byte, 20))
	if err != nil || ws != types.WriteDeferred {
		t.Fatalf("have %s, %v; want %s, nil", ws, err, types.WriteDeferred)
	}
	if f.SizeDelta() != 4 {
		t.Errorf("size delta\n\thave %d\n\twant %d\n", f.SizeDelta(), 4)
	}
	// The section still reads as before until Finalize.
	if dat, _ := f.ReadSection("__DATA", "__a", 0); len(dat) != 16 {
		t.Errorf("deferred write visible before Finalize: %d bytes", len(dat))
	}
}

func linkEditOffset(t *testing.T, f *File, cmd types.LoadCmd) uint32 {
	t.Helper()
	for _, l := range f.Loads {
		if lc, ok := l.(LoadCmdBytes); ok && lc.LoadCmd == cmd {
			return f.Order().Uint32(lc.Raw()[8:])
		}
	}
	t.Fatalf("no %s command", cmd)
	return 0
}

func TestFinalize(t *testing.T) {
	for _, tt := range fileTests {
		for _, delta := range []int{5, 64, -8} {
			img := fixture(tt.is64, tt.o)
			orig, lay := img.Build()
			f, err := NewFile(bytes.NewReader(orig))
			if err != nil {
				t.Fatal(err)
			}
			payload := bytes.Repeat([]byte{0x55}, 16+delta)
			if _, err := f.WriteSection("__DATA", "__a", payload); err != nil {
				t.Fatal(err)
			}
			out, err := f.Finalize()
			if err != nil {
				t.Fatalf("%s %+d: %v", tt.name, delta, err)
			}
			if len(out) != len(orig)+delta {
				t.Errorf("%s %+d: size\n\thave %d\n\twant %d\n", tt.name, delta, len(out), len(orig)+delta)
			}
			if f.HasDeferredWrites() {
				t.Errorf("%s %+d: deferred writes survive Finalize", tt.name, delta)
			}

			a := f.Section("__DATA", "__a")
			b := f.Section("__DATA", "__b")
			if a.Offset != lay.Sections["__DATA,__a"] || a.Size != uint64(len(payload)) {
				t.Errorf("%s %+d: __a at %#x size %#x", tt.name, delta, a.Offset, a.Size)
			}
			if have, want := int64(b.Offset), int64(lay.Sections["__DATA,__b"])+int64(delta); have != want {
				t.Errorf("%s %+d: __b offset\n\thave %#x\n\twant %#x\n", tt.name, delta, have, want)
			}
			if dat, _ := f.ReadSection("__DATA", "__b", 0); string(dat) != "bbbbbbbb" {
				t.Errorf("%s %+d: __b contents %q", tt.name, delta, dat)
			}
			if dat, _ := f.ReadSection("__DATA", "__a", 0); !bytes.Equal(dat, payload) {
				t.Errorf("%s %+d: __a contents not replaced", tt.name, delta)
			}
			if !bytes.Equal(out[b.Reloff:b.Reloff+8], relocEntry) {
				t.Errorf("%s %+d: relocations not followed", tt.name, delta)
			}

			data := f.Segment("__DATA")
			if have, want := int64(data.Filesz), int64(lay.SegmentOffsets["__LINKEDIT"]-lay.SegmentOffsets["__DATA"])+int64(delta); have < want-8 || have > want {
				t.Errorf("%s %+d: __DATA filesz %#x, want about %#x", tt.name, delta, have, want)
			}
			if have, want := int64(f.Segment("__LINKEDIT").Offset), int64(lay.SegmentOffsets["__LINKEDIT"])+int64(delta); have != want {
				t.Errorf("%s %+d: __LINKEDIT offset\n\thave %#x\n\twant %#x\n", tt.name, delta, have, want)
			}
			if have, want := int64(f.Symtab.Symoff), int64(lay.Symoff)+int64(delta); have != want {
				t.Errorf("%s %+d: symoff\n\thave %#x\n\twant %#x\n", tt.name, delta, have, want)
			}
			if have, want := int64(f.Symtab.Stroff), int64(lay.Stroff)+int64(delta); have != want {
				t.Errorf("%s %+d: stroff\n\thave %#x\n\twant %#x\n", tt.name, delta, have, want)
			}
			if f.Symtab.Syms[0].Name != "_main" || f.Symtab.Syms[1].Name != "_b" {
				t.Errorf("%s %+d: symbol names lost", tt.name, delta)
			}
			fs := linkEditOffset(t, f, types.LC_FUNCTION_STARTS)
			if have, want := int64(fs), int64(lay.FunctionStarts)+int64(delta); have != want {
				t.Errorf("%s %+d: function starts\n\thave %#x\n\twant %#x\n", tt.name, delta, have, want)
			}
			if !bytes.Equal(out[fs:fs+8], img.FunctionStarts) {
				t.Errorf("%s %+d: function starts data moved incorrectly", tt.name, delta)
			}
		}
	}
}

func TestFinalizeTwoSections(t *testing.T) {
	orig, lay := fixture(true, nil).Build()
	f, err := NewFile(bytes.NewReader(orig))
	if err != nil {
		t.Fatal(err)
	}
	f.WriteSection("__DATA", "__b", []byte("bbbbbbbbbbbbbbbb"))
	f.WriteSection("__DATA", "__a", []byte("a"))
	out, err := f.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(orig)+8-15 {
		t.Errorf("size\n\thave %d\n\twant %d\n", len(out), len(orig)-7)
	}
	if have, want := f.Section("__DATA", "__b").Offset, lay.Sections["__DATA,__b"]-15; have != want {
		t.Errorf("__b offset\n\thave %#x\n\twant %#x\n", have, want)
	}
	if dat, _ := f.ReadSection("__DATA", "__b", 0); string(dat) != "bbbbbbbbbbbbbbbb" {
		t.Errorf("__b contents %q", dat)
	}
	if have, want := f.Symtab.Stroff, lay.Stroff-7; have != want {
		t.Errorf("stroff\n\thave %#x\n\twant %#x\n", have, want)
	}
}

func TestDWARF(t *testing.T) {
	d := machotest.BuildDWARF(nil,
		machotest.Unit{Name: "a.m", CompDir: "/src", Producer: "clang"},
		machotest.Unit{Version: 2, Name: "b.c", CompDir: "/src/b"},
	)
	img := fixture(true, nil)
	img.Segments = append(img.Segments, d.Segment())
	f, err := NewFile(bytes.NewReader(img.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	dw, err := f.DWARF()
	if err != nil {
		t.Fatal(err)
	}
	r := dw.Reader()
	e, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if e.Tag != dwarf.TagCompileUnit || e.Val(dwarf.AttrProducer) != "clang" {
		t.Errorf("first entry\n\thave %v\n", e)
	}
	units, err := f.CompileUnits()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.m (/src)", "b.c (/src/b)"}, units); diff != "" {
		t.Errorf("compile units mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	if err := f.DumpCompileUnits(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("b.c (/src/b)")) {
		t.Errorf("dump:\n%s", buf.String())
	}
}
