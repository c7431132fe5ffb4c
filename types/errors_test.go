package types

import (
	"testing"

	"github.com/pkg/errors"
)

func TestReturnCodes(t *testing.T) {
	tests := []struct {
		code ReturnCode
		val  int
		name string
	}{
		{OK, 0, "ok"},
		{OpenFailed, 10, "open failed"},
		{ReadFailed, 11, "read failed"},
		{InvalidFile, 12, "invalid file"},
		{OutOfMemory, 13, "out of memory"},
		{NotImplemented, 14, "not implemented"},
		{WriteFailed, 20, "write failed"},
		{Deferred, 21, "write deferred"},
		{UsageError, 127, "usage error"},
	}
	for _, tt := range tests {
		if int(tt.code) != tt.val || tt.code.String() != tt.name {
			t.Errorf("code\n\thave %d %q\n\twant %d %q\n", int(tt.code), tt.code.String(), tt.val, tt.name)
		}
	}
}

func TestWriteStatus(t *testing.T) {
	if WriteDeferred.String() != "deferred" || WriteApplied.String() != "applied" {
		t.Errorf("have %s, %s", WriteDeferred, WriteApplied)
	}
	if StatusOf(WriteDeferred) != PatchDeferred || StatusOf(WriteApplied) != Patched {
		t.Error("write status mapped to the wrong patch status")
	}
	if Patched.Merge(PatchDeferred) != PatchDeferred || PatchDeferred.Merge(NotModified) != PatchDeferred {
		t.Error("merge did not keep the stronger status")
	}
}

func TestCodeOf(t *testing.T) {
	err := Wrapf(NotImplemented, errors.New("boom"), "section %s", "__b")
	if have := CodeOf(errors.Wrap(err, "outer")); have != NotImplemented {
		t.Errorf("code\n\thave %s\n\twant %s\n", have, NotImplemented)
	}
	if have := CodeOf(errors.Wrap(ErrSectionGrowthUnsupported, "x")); have != NotImplemented {
		t.Errorf("code\n\thave %s\n\twant %s\n", have, NotImplemented)
	}
	if have := CodeOf(nil); have != OK {
		t.Errorf("code\n\thave %s\n\twant %s\n", have, OK)
	}
	if Wrap(ReadFailed, nil, "x") != nil {
		t.Error("Wrap(nil) returned an error")
	}
}
