package dwarfpatch

import (
	"bytes"

	"github.com/appsworld/go-macho-patch/pkg/prefix"
)

// eachString calls fn for every NUL terminated entry of dat. dat must end
// in a NUL byte.
func eachString(dat []byte, fn func(off int, s []byte)) {
	for off := 0; off < len(dat); {
		end := off + bytes.IndexByte(dat[off:], 0)
		fn(off, dat[off:end])
		off = end + 1
	}
}

// patchStrInPlace rewrites the entries of a string table read with one
// byte of padding. Every entry keeps its offset and the bytes freed by a
// shorter replacement are zeroed, so the table keeps its size. It returns
// the table without the padding byte.
func patchStrInPlace(dat []byte, rules prefix.Rules) ([]byte, bool) {
	modified := false
	eachString(dat, func(off int, s []byte) {
		n, ok := rules.ReplaceBytes(s)
		if !ok || len(n) > len(s) {
			return
		}
		copy(dat[off:], n)
		for i := off + len(n); i < off+len(s); i++ {
			dat[i] = 0
		}
		modified = true
	})
	return dat[:len(dat)-1], modified
}

// rebuildStr lays out a new string table from a table read with one byte
// of padding. reloc maps the offset of every original entry to the offset
// of its copy.
func rebuildStr(dat []byte, rules prefix.Rules) ([]byte, map[uint64]uint64, bool) {
	out := make([]byte, 0, len(dat))
	reloc := make(map[uint64]uint64)
	modified := false
	eachString(dat, func(off int, s []byte) {
		reloc[uint64(off)] = uint64(len(out))
		if n, ok := rules.ReplaceBytes(s); ok {
			s = n
			modified = true
		}
		out = append(out, s...)
		out = append(out, 0)
	})
	// The padding byte always ends up as the last byte.
	return out[:len(out)-1], reloc, modified
}
