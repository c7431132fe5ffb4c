package prefix

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReplaceFirstMatchWins(t *testing.T) {
	rules := Rules{
		{Old: "/sandbox/build/gen", New: "/gen"},
		{Old: "/sandbox/build", New: "/Users/dev/src"},
		{Old: "/sandbox", New: "/x"},
	}
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"/sandbox/build/gen/a.h", "/gen/a.h", true},
		{"/sandbox/build/foo.m", "/Users/dev/src/foo.m", true},
		{"/sandbox/other.c", "/x/other.c", true},
		{"/sandboxed", "/xed", true}, // literal prefix, not path aware
		{"sandbox/foo", "sandbox/foo", false},
		{"", "", false},
	}
	for _, tt := range tests {
		have, ok := rules.Replace(tt.in)
		if have != tt.want || ok != tt.ok {
			t.Errorf("Replace(%q):\n\thave %q %v\n\twant %q %v\n", tt.in, have, ok, tt.want, tt.ok)
		}
		hb, ok := rules.ReplaceBytes([]byte(tt.in))
		if string(hb) != tt.want || ok != tt.ok {
			t.Errorf("ReplaceBytes(%q): have %q %v", tt.in, hb, ok)
		}
	}
}

func TestNeverGrows(t *testing.T) {
	if !(Rules{{"/abcd", "/ab"}, {"/x", "/y"}}).NeverGrows() {
		t.Errorf("shrinking rules reported as growing")
	}
	if (Rules{{"/abcd", "/ab"}, {"/x", "/yy"}}).NeverGrows() {
		t.Errorf("growing rule not detected")
	}
}

func TestParseMap(t *testing.T) {
	input := strings.Join([]string{
		",/sandbox/a,/src/a,",
		"",
		"#",
		"|/with,comma|/other|",
		",,",
		",/old,/new",
		"@/empty@@",
	}, "\n")
	have, err := ParseMap(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := Rules{
		{Old: "/sandbox/a", New: "/src/a"},
		{Old: "/with,comma", New: "/other"},
		{Old: "/old", New: "/new"},
		{Old: "/empty", New: ""},
	}
	if diff := cmp.Diff(want, have); diff != "" {
		t.Errorf("ParseMap mismatch (-want +have):\n%s", diff)
	}

	if _, err := ParseMap(strings.NewReader(",nodelimiter")); err == nil {
		t.Errorf("expected an error for a line without a second field")
	}
}

func TestValidate(t *testing.T) {
	if err := (Rules{}).Validate(); err == nil {
		t.Errorf("empty rules validated")
	}
	if err := (Rules{{"", "/x"}}).Validate(); err == nil {
		t.Errorf("empty old prefix validated")
	}
	if err := (Rules{{"/a", ""}}).Validate(); err != nil {
		t.Errorf("valid rules rejected: %v", err)
	}
}
