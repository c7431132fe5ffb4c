package dwarfpatch

import (
	"github.com/appsworld/go-macho-patch/pkg/cursor"
	"github.com/appsworld/go-macho-patch/types"
)

// Attribute forms.
const (
	formAddr          = 0x01
	formBlock2        = 0x03
	formBlock4        = 0x04
	formData2         = 0x05
	formData4         = 0x06
	formData8         = 0x07
	formString        = 0x08
	formBlock         = 0x09
	formBlock1        = 0x0a
	formData1         = 0x0b
	formFlag          = 0x0c
	formSdata         = 0x0d
	formStrp          = 0x0e
	formUdata         = 0x0f
	formRefAddr       = 0x10
	formRef1          = 0x11
	formRef2          = 0x12
	formRef4          = 0x13
	formRef8          = 0x14
	formRefUdata      = 0x15
	formIndirect      = 0x16
	formSecOffset     = 0x17
	formExprloc       = 0x18
	formFlagPresent   = 0x19
	formStrx          = 0x1a
	formAddrx         = 0x1b
	formRefSup4       = 0x1c
	formStrpSup       = 0x1d
	formData16        = 0x1e
	formLineStrp      = 0x1f
	formRefSig8       = 0x20
	formImplicitConst = 0x21
	formLoclistx      = 0x22
	formRnglistx      = 0x23
	formRefSup8       = 0x24
	formStrx1         = 0x25
	formStrx2         = 0x26
	formStrx3         = 0x27
	formStrx4         = 0x28
	formAddrx1        = 0x29
	formAddrx2        = 0x2a
	formAddrx3        = 0x2b
	formAddrx4        = 0x2c

	formGNUAddrIndex = 0x1f01
	formGNUStrIndex  = 0x1f02
	formGNURefAlt    = 0x1f20
	formGNUStrpAlt   = 0x1f21
)

// Attributes the info walk rewrites.
const (
	attrStmtList = 0x10
)

// fixedFormSize is the width of forms whose size depends on nothing.
var fixedFormSize = map[uint64]int{
	formData1: 1, formRef1: 1, formFlag: 1, formStrx1: 1, formAddrx1: 1,
	formData2: 2, formRef2: 2, formStrx2: 2, formAddrx2: 2,
	formStrx3: 3, formAddrx3: 3,
	formData4: 4, formRef4: 4, formRefSup4: 4, formStrx4: 4, formAddrx4: 4,
	formData8: 8, formRef8: 8, formRefSig8: 8, formRefSup8: 8,
	formData16:      16,
	formFlagPresent: 0, formImplicitConst: 0,
}

// A value is the location of an attribute value the walk may rewrite.
type value struct {
	form uint64
	off  int    // position of the value in the section
	size int    // width of the value in bytes, 0 when not an offset
	val  uint64 // the decoded offset
}

// readForm consumes one attribute value of form at the cursor. Offsets
// that point into another section (strp, sec_offset and the fixed width
// data forms) are decoded and returned so the caller can relocate them.
func readForm(c *cursor.Cursor, form uint64, u *unit) (value, error) {
	v := value{form: form, off: c.Offset()}

	if n, ok := fixedFormSize[form]; ok {
		if form == formData4 || form == formData8 {
			x, err := c.Uint(n)
			v.size, v.val = n, x
			return v, err
		}
		return v, c.Skip(n)
	}

	switch form {
	case formAddr:
		return v, c.Skip(u.addrSize)
	case formBlock1:
		n, err := c.Uint8()
		if err != nil {
			return v, err
		}
		return v, c.Skip(int(n))
	case formBlock2:
		n, err := c.Uint16()
		if err != nil {
			return v, err
		}
		return v, c.Skip(int(n))
	case formBlock4:
		n, err := c.Uint32()
		if err != nil {
			return v, err
		}
		return v, c.Skip(int(n))
	case formBlock, formExprloc:
		n, err := c.Uleb128()
		if err != nil {
			return v, err
		}
		if n > uint64(c.Remaining()) {
			return v, cursor.ErrUnexpectedEOF
		}
		return v, c.Skip(int(n))
	case formString:
		_, err := c.Asciiz()
		return v, err
	case formSdata:
		_, err := c.Sleb128()
		return v, err
	case formUdata, formRefUdata, formStrx, formAddrx, formLoclistx, formRnglistx,
		formGNUAddrIndex, formGNUStrIndex:
		_, err := c.Uleb128()
		return v, err
	case formStrp, formSecOffset, formLineStrp, formStrpSup, formGNURefAlt, formGNUStrpAlt:
		x, err := c.Uint(u.offSize())
		v.size, v.val = u.offSize(), x
		return v, err
	case formRefAddr:
		// DWARF 2 defined ref_addr as address sized.
		if u.version <= 2 {
			return v, c.Skip(u.addrSize)
		}
		return v, c.Skip(u.offSize())
	case formIndirect:
		actual, err := c.Uleb128()
		if err != nil {
			return v, err
		}
		if actual == formIndirect {
			return v, types.Errorf(types.InvalidFile, "nested DW_FORM_indirect at %#x", v.off)
		}
		return readForm(c, actual, u)
	}
	return v, types.Errorf(types.NotImplemented, "unknown attribute form %#x at %#x", form, v.off)
}
