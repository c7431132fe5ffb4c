// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package macho implements access to Mach-O object files, thin or
// universal, with section level rewriting. Sections whose replacement has a
// different size are written on Finalize, which relocates every later
// segment, section and link-edit table in the image.
//
// Mach-O header data structures
// Archived copy at:
// https://web.archive.org/web/20090819232456/http://developer.apple.com/documentation/DeveloperTools/Conceptual/MachORuntime/index.html
// For cloned PDF see:
// https://github.com/aidansteele/osx-abi-macho-file-format-reference
package macho

import (
	"bytes"
	"fmt"
	"strings"
)

// Segment and section names the patchers operate on.
const (
	SegData    = "__DATA"
	SegLLVMCov = "__LLVM_COV"
	SegDWARF   = "__DWARF"

	SectCovMap      = "__llvm_covmap"
	SectDebugStr    = "__debug_str"
	SectDebugAbbrev = "__debug_abbrev"
	SectDebugInfo   = "__debug_info"
	SectDebugLine   = "__debug_line"
)

// FormatError is returned by some operations if the data does
// not have the correct format for an object file.
type FormatError struct {
	off int64
	msg string
	val interface{}
}

func (e *FormatError) Error() string {
	msg := e.msg
	if e.val != nil {
		msg += fmt.Sprintf(" '%v'", e.val)
	}
	msg += fmt.Sprintf(" in record at byte %#x", e.off)
	return msg
}

func cstring(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[0:i])
}

func pad(length int) string {
	if length > 0 {
		return strings.Repeat(" ", length)
	}
	return " "
}
