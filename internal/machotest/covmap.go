package machotest

import (
	"encoding/binary"

	"github.com/appsworld/go-macho-patch/pkg/cursor"
)

// A CovRecord is one coverage mapping record of a fixture __llvm_covmap.
type CovRecord struct {
	// Version is the stored version field: 0 is the first format.
	Version   uint32
	Functions int
	Filenames []string
	Coverage  []byte
}

// FilenameGroup encodes names as a ULEB128 count followed by
// length-prefixed strings.
func FilenameGroup(names ...string) []byte {
	b := cursor.AppendUleb128(nil, uint64(len(names)))
	for _, n := range names {
		b = cursor.AppendUleb128(b, uint64(len(n)))
		b = append(b, n...)
	}
	return b
}

// CovMap encodes records, padding between them to 8 bytes.
func CovMap(o binary.ByteOrder, records ...CovRecord) []byte {
	if o == nil {
		o = binary.LittleEndian
	}
	var b []byte
	for i, r := range records {
		group := FilenameGroup(r.Filenames...)
		b = app32(o, b, uint32(r.Functions))
		b = app32(o, b, uint32(len(group)))
		b = app32(o, b, uint32(len(r.Coverage)))
		b = app32(o, b, r.Version)
		recSize := 20
		if r.Version == 0 {
			recSize = 24
		}
		for j := 0; j < r.Functions*recSize; j++ {
			b = append(b, byte(j*7+i))
		}
		b = append(b, group...)
		b = append(b, r.Coverage...)
		if i < len(records)-1 {
			for len(b)%8 != 0 {
				b = append(b, 0)
			}
		}
	}
	return b
}
