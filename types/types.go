package types

import (
	"strconv"
)

type VmProtection int32

func (v VmProtection) Read() bool {
	return (v & 0x01) != 0
}

func (v VmProtection) Write() bool {
	return (v & 0x02) != 0
}

func (v VmProtection) Execute() bool {
	return (v & 0x04) != 0
}

func (v VmProtection) String() string {
	var protStr string
	if v.Read() {
		protStr += "r"
	} else {
		protStr += "-"
	}
	if v.Write() {
		protStr += "w"
	} else {
		protStr += "-"
	}
	if v.Execute() {
		protStr += "x"
	} else {
		protStr += "-"
	}
	return protStr
}

// WriteStatus reports what happened to a section write.
type WriteStatus uint8

const (
	// WriteApplied means the bytes replaced the section contents in place.
	WriteApplied WriteStatus = iota
	// WriteDeferred means the new contents have a different size and are
	// applied when the image is finalized.
	WriteDeferred
)

func (s WriteStatus) String() string {
	if s == WriteDeferred {
		return "deferred"
	}
	return "applied"
}

// PatchStatus reports the outcome of a patcher run on one image.
type PatchStatus uint8

const (
	NotModified PatchStatus = iota
	Patched
	PatchDeferred
)

func (s PatchStatus) String() string {
	switch s {
	case Patched:
		return "patched"
	case PatchDeferred:
		return "patched (deferred)"
	default:
		return "not modified"
	}
}

// Merge returns the stronger of two outcomes.
func (s PatchStatus) Merge(o PatchStatus) PatchStatus {
	if o > s {
		return o
	}
	return s
}

// StatusOf maps a section write result onto a patch outcome.
func StatusOf(w WriteStatus) PatchStatus {
	if w == WriteDeferred {
		return PatchDeferred
	}
	return Patched
}

type intName struct {
	i uint32
	s string
}

func stringName(i uint32, names []intName, goSyntax bool) string {
	for _, n := range names {
		if n.i == i {
			if goSyntax {
				return "macho." + n.s
			}
			return n.s
		}
	}
	return "0x" + strconv.FormatUint(uint64(i), 16)
}
