package covmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	macho "github.com/appsworld/go-macho-patch"
	"github.com/appsworld/go-macho-patch/internal/machotest"
	"github.com/appsworld/go-macho-patch/pkg/cursor"
	"github.com/appsworld/go-macho-patch/pkg/prefix"
	"github.com/appsworld/go-macho-patch/types"
)

func names(s *Section) [][]string {
	var out [][]string
	for _, r := range s.Records {
		out = append(out, r.Group.Filenames)
	}
	return out
}

func TestParse(t *testing.T) {
	for _, bo := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		dat := machotest.CovMap(bo,
			machotest.CovRecord{Version: 0, Functions: 2, Filenames: []string{"/sandbox/a.m", "/sandbox/b.m"}, Coverage: []byte{1, 2, 3}},
			machotest.CovRecord{Version: 1, Functions: 1, Filenames: []string{"/other/c.c"}, Coverage: []byte{4, 5}},
			machotest.CovRecord{Version: 2, Functions: 3, Filenames: nil, Coverage: []byte{6}},
		)
		s, err := Parse(dat, bo)
		if err != nil {
			t.Fatalf("%s: %v", bo, err)
		}
		want := [][]string{{"/sandbox/a.m", "/sandbox/b.m"}, {"/other/c.c"}, {}}
		if diff := cmp.Diff(want, names(s)); diff != "" {
			t.Errorf("%s: filenames mismatch (-want +got):\n%s", bo, diff)
		}
		if have, want := s.Records[0].Group.Offset, 16+2*24; have != want {
			t.Errorf("%s: first group offset\n\thave %#x\n\twant %#x\n", bo, have, want)
		}
		if have, want := s.Records[0].Group.Size, 27; have != want {
			t.Errorf("%s: first group size\n\thave %d\n\twant %d\n", bo, have, want)
		}
		// The first record ends at 0x5e and the second starts aligned at 0x60.
		if have, want := s.Records[1].Group.Offset, 0x60+16+20; have != want {
			t.Errorf("%s: second group offset\n\thave %#x\n\twant %#x\n", bo, have, want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	good := machotest.CovMap(nil, machotest.CovRecord{Version: 1, Filenames: []string{"/a"}, Coverage: []byte{1, 2}})

	tests := []struct {
		name string
		dat  []byte
		code types.ReturnCode
	}{
		{"short header", good[:10], types.InvalidFile},
		{"compressed filenames", machotest.CovMap(nil, machotest.CovRecord{Version: 3, Filenames: []string{"/a"}}), types.InvalidFile},
		{"coverage past end", good[:len(good)-1], types.ReadFailed},
		{"truncated function records", machotest.CovMap(nil, machotest.CovRecord{Version: 0, Functions: 4})[:40], types.InvalidFile},
	}
	for _, tt := range tests {
		_, err := Parse(tt.dat, binary.LittleEndian)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if have := types.CodeOf(err); have != tt.code {
			t.Errorf("%s: code\n\thave %s\n\twant %s\n", tt.name, have, tt.code)
		}
	}
}

// The group keeps its size: two 4 byte shorter names leave 8 bytes that
// become one filler.
func TestPatchShrinkPadsGroup(t *testing.T) {
	dat := machotest.CovMap(nil, machotest.CovRecord{Functions: 1, Filenames: []string{"/sandbox/a.m", "/sandbox/b.m"}, Coverage: []byte{9, 9}})
	s, err := Parse(dat, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	out, modified, err := s.Patch(prefix.Rules{{Old: "/sandbox", New: "/abc"}})
	if err != nil {
		t.Fatal(err)
	}
	if !modified {
		t.Fatal("expected modification")
	}
	if len(out) != len(dat) {
		t.Fatalf("section size changed: have %d want %d", len(out), len(dat))
	}
	s2, err := Parse(out, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"/abc/a.m", "/abc/b.m", strings.Repeat("\x00", 7)}}
	if diff := cmp.Diff(want, names(s2)); diff != "" {
		t.Errorf("patched filenames mismatch (-want +got):\n%s", diff)
	}
	if s2.Records[0].Group.Size != s.Records[0].Group.Size {
		t.Errorf("group size\n\thave %d\n\twant %d\n", s2.Records[0].Group.Size, s.Records[0].Group.Size)
	}
	// Everything outside the group is untouched.
	g := s.Records[0].Group
	if !bytes.Equal(out[:g.Offset], dat[:g.Offset]) || !bytes.Equal(out[g.Offset+g.Size:], dat[g.Offset+g.Size:]) {
		t.Error("bytes outside the filename group changed")
	}
}

func TestPatchGrowthUnsupported(t *testing.T) {
	dat := machotest.CovMap(nil, machotest.CovRecord{Filenames: []string{"/sandbox/a.m"}})
	s, err := Parse(dat, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = s.Patch(prefix.Rules{{Old: "/sandbox", New: "/Users/developer/src"}})
	if !errors.Is(err, types.ErrSectionGrowthUnsupported) {
		t.Fatalf("expected ErrSectionGrowthUnsupported, got %v", err)
	}
	if types.CodeOf(err) != types.NotImplemented {
		t.Errorf("code\n\thave %s\n\twant %s\n", types.CodeOf(err), types.NotImplemented)
	}
}

func TestPatchNoMatch(t *testing.T) {
	dat := machotest.CovMap(nil, machotest.CovRecord{Filenames: []string{"/src/a.m", "b.m"}, Coverage: []byte{1}})
	s, err := Parse(dat, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	out, modified, err := s.Patch(prefix.Rules{{Old: "/sandbox", New: "/x"}})
	if err != nil {
		t.Fatal(err)
	}
	if modified || !bytes.Equal(out, dat) {
		t.Error("section without matches was modified")
	}
}

// paddings sit around the one and two byte ULEB128 boundaries of both the
// filler lengths and the filename count.
var paddings = []int{0, 1, 2, 3, 7, 8, 126, 127, 128, 129, 130, 131, 255, 256, 257, 258, 259, 383, 384, 385, 386, 1000}

func TestEncodePadding(t *testing.T) {
	for _, count := range []int{0, 1, 2, 125, 126, 127, 128, 16381, 16382, 16383} {
		var g FilenameGroup
		for i := 0; i < count; i++ {
			g.Filenames = append(g.Filenames, "f")
		}
		base := g.EncodedSize()
		for _, padding := range paddings {
			enc, err := g.Encode(base + padding)
			if err != nil {
				// Only a single byte behind a count on a ULEB128 boundary is
				// inexpressible.
				if padding != 1 || (count != 127 && count != 16383) {
					t.Errorf("count %d padding %d: %v", count, padding, err)
				}
				continue
			}
			if len(enc) != base+padding {
				t.Fatalf("count %d padding %d: encoded %d bytes, want %d", count, padding, len(enc), base+padding)
			}
			var parsed FilenameGroup
			if err := readFilenameGroup(cursor.New(enc, nil), &parsed); err != nil {
				t.Fatalf("count %d padding %d: %v", count, padding, err)
			}
			if parsed.Size != len(enc) {
				t.Errorf("count %d padding %d: parsed %d of %d bytes", count, padding, parsed.Size, len(enc))
			}
			if diff := cmp.Diff(g.Filenames, parsed.Filenames[:count], cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("count %d padding %d: real names changed:\n%s", count, padding, diff)
			}
		}
	}
}

func TestFillersForCountBoundary(t *testing.T) {
	tests := []struct {
		count, padding int
	}{
		{126, 129},
		{126, 2},
		{127, 2},
		{125, 257},
		{16382, 129},
	}
	for _, tt := range tests {
		fs, err := fillersFor(tt.count, tt.padding)
		if err != nil {
			t.Errorf("fillersFor(%d, %d): %v", tt.count, tt.padding, err)
			continue
		}
		sum := cursor.UlebSize(uint64(tt.count+len(fs))) - cursor.UlebSize(uint64(tt.count))
		for _, n := range fs {
			if n > 127 {
				t.Errorf("fillersFor(%d, %d): filler of %d bytes", tt.count, tt.padding, n)
			}
			sum += n + 1
		}
		if sum != tt.padding {
			t.Errorf("fillersFor(%d, %d) = %v covers %d bytes", tt.count, tt.padding, fs, sum)
		}
	}
}

// Fillers push the filename count from 126 to 128, which takes a second
// ULEB128 byte.
func TestPatchShrinkCrossesCountBoundary(t *testing.T) {
	a, b := "/"+strings.Repeat("a", 64), "/"+strings.Repeat("b", 65)
	var files []string
	for i := 0; i < 124; i++ {
		files = append(files, "f")
	}
	files = append(files, a+"/x.c", b+"/y.c")
	dat := machotest.CovMap(nil, machotest.CovRecord{Version: 1, Functions: 1, Filenames: files, Coverage: []byte{1}})
	s, err := Parse(dat, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	out, modified, err := s.Patch(prefix.Rules{{Old: a, New: "/"}, {Old: b, New: "/"}})
	if err != nil {
		t.Fatal(err)
	}
	if !modified || len(out) != len(dat) {
		t.Fatalf("modified %v, size %d, want %d", modified, len(out), len(dat))
	}
	s2, err := Parse(out, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	g := s2.Records[0].Group
	if g.Size != s.Records[0].Group.Size {
		t.Errorf("group size\n\thave %d\n\twant %d\n", g.Size, s.Records[0].Group.Size)
	}
	if len(g.Filenames) < 128 {
		t.Fatalf("got %d filenames, want at least 128", len(g.Filenames))
	}
	if have := g.Filenames[124:126]; have[0] != "//x.c" || have[1] != "//y.c" {
		t.Errorf("patched names %q", have)
	}
}

func TestFillers(t *testing.T) {
	tests := []struct {
		padding int
		want    []int
	}{
		{1, []int{0}},
		{8, []int{7}},
		{128, []int{127}},
		{129, []int{126, 1}},
		{130, []int{127, 1}},
		{257, []int{127, 126, 1}},
		{300, []int{127, 127, 43}},
	}
	for _, tt := range tests {
		have := fillers(tt.padding)
		if !cmp.Equal(have, tt.want) {
			t.Errorf("fillers(%d)\n\thave %v\n\twant %v\n", tt.padding, have, tt.want)
		}
		sum := 0
		for _, n := range have {
			sum += n + 1
		}
		if sum != tt.padding {
			t.Errorf("fillers(%d) cover %d bytes", tt.padding, sum)
		}
	}
}

func covImage(t *testing.T, seg string, cov []byte) *macho.File {
	t.Helper()
	img := &machotest.Image{
		Is64: true,
		Segments: []machotest.Segment{
			{Name: "__TEXT", Sections: []machotest.Section{{Name: "__text", Data: []byte{0xc0, 0x03, 0x5f, 0xd6}}}},
			{Name: seg, Sections: []machotest.Section{{Name: SectionName, Data: cov, Align: 3}}},
		},
	}
	f, err := macho.NewFile(bytes.NewReader(img.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestPatcher(t *testing.T) {
	cov := machotest.CovMap(nil,
		machotest.CovRecord{Functions: 1, Filenames: []string{"/sandbox/a.m", "/sandbox/b.m"}},
		machotest.CovRecord{Version: 1, Functions: 2, Filenames: []string{"/sandbox/c.m"}, Coverage: []byte{1, 2, 3}},
	)
	for _, seg := range Segments {
		f := covImage(t, seg, cov)
		status, err := NewPatcher(prefix.Rules{{Old: "/sandbox", New: "/abc"}}).Patch(f)
		if err != nil {
			t.Fatalf("%s: %v", seg, err)
		}
		if status != types.Patched {
			t.Errorf("%s: status\n\thave %s\n\twant %s\n", seg, status, types.Patched)
		}
		dat, err := f.ReadSection(seg, SectionName, 0)
		if err != nil {
			t.Fatal(err)
		}
		s, err := Parse(dat, f.Order())
		if err != nil {
			t.Fatal(err)
		}
		if have := s.Records[1].Group.Filenames[0]; have != "/abc/c.m" {
			t.Errorf("%s: have %q want %q", seg, have, "/abc/c.m")
		}
		if f.HasDeferredWrites() {
			t.Errorf("%s: covmap patch must not resize the section", seg)
		}
	}
}

func TestPatcherGrowthLeavesImage(t *testing.T) {
	cov := machotest.CovMap(nil, machotest.CovRecord{Filenames: []string{"/sandbox/a.m"}})
	f := covImage(t, "__DATA", cov)
	_, err := NewPatcher(prefix.Rules{{Old: "/sandbox", New: "/Users/dev/src"}}).Patch(f)
	if types.CodeOf(err) != types.NotImplemented {
		t.Fatalf("expected NotImplemented, got %v", err)
	}
	if f.Modified() {
		t.Error("image modified after failed patch")
	}
}

func TestPatcherMissingSection(t *testing.T) {
	img := &machotest.Image{Segments: []machotest.Segment{{Name: "__TEXT", Sections: []machotest.Section{{Name: "__text", Data: []byte{0}}}}}}
	f, err := macho.NewFile(bytes.NewReader(img.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	status, err := NewPatcher(prefix.Rules{{Old: "/a", New: "/b"}}).Patch(f)
	if err != nil || status != types.NotModified {
		t.Errorf("have %s, %v; want %s, nil", status, err, types.NotModified)
	}
}
