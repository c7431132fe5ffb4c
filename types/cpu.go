package types

import "fmt"

// A CPU is a Mach-O cpu type.
type CPU uint32

const (
	cpuArchMask = 0xff000000 //  mask for architecture bits
	cpuArch64   = 0x01000000 // 64 bit ABI
	cpuArch6432 = 0x02000000 // ABI for 64-bit hardware with 32-bit types; LP32
)

const (
	CPU386     CPU = 7
	CPUAmd64   CPU = CPU386 | cpuArch64
	CPUArm     CPU = 12
	CPUArm64   CPU = CPUArm | cpuArch64
	CPUArm6432 CPU = CPUArm | cpuArch6432
	CPUPpc     CPU = 18
	CPUPpc64   CPU = CPUPpc | cpuArch64
)

var cpuStrings = []intName{
	{uint32(CPU386), "i386"},
	{uint32(CPUAmd64), "x86_64"},
	{uint32(CPUArm), "arm"},
	{uint32(CPUArm64), "arm64"},
	{uint32(CPUArm6432), "arm64_32"},
	{uint32(CPUPpc), "ppc"},
	{uint32(CPUPpc64), "ppc64"},
}

func (i CPU) String() string   { return stringName(uint32(i), cpuStrings, false) }
func (i CPU) GoString() string { return stringName(uint32(i), cpuStrings, true) }

// Is64 reports whether the cpu type uses the 64-bit ABI.
func (i CPU) Is64() bool { return i&cpuArchMask == cpuArch64 }

type CPUSubtype uint32

const (
	CPUSubtypeX86All   CPUSubtype = 3
	CPUSubtypeX86_64H  CPUSubtype = 8
	CPUSubtypeArmV7    CPUSubtype = 9
	CPUSubtypeArmV7S   CPUSubtype = 11
	CPUSubtypeArmV7K   CPUSubtype = 12
	CPUSubtypeArm64All CPUSubtype = 0
	CPUSubtypeArm64E   CPUSubtype = 2
)

const (
	CpuSubtypeFeatureMask CPUSubtype = 0xff000000 /* mask for feature flags */
	CpuSubtypeMask                   = CPUSubtype(^CpuSubtypeFeatureMask)
)

var cpuSubtypeX86Strings = []intName{
	{uint32(CPUSubtypeX86All), "all"},
	{uint32(CPUSubtypeX86_64H), "haswell"},
}
var cpuSubtypeArmStrings = []intName{
	{uint32(CPUSubtypeArmV7), "v7"},
	{uint32(CPUSubtypeArmV7S), "v7s"},
	{uint32(CPUSubtypeArmV7K), "v7k"},
}
var cpuSubtypeArm64Strings = []intName{
	{uint32(CPUSubtypeArm64All), "all"},
	{uint32(CPUSubtypeArm64E), "e"},
}

func (st CPUSubtype) String(cpu CPU) string {
	st &= CpuSubtypeMask
	switch cpu {
	case CPU386, CPUAmd64:
		return stringName(uint32(st), cpuSubtypeX86Strings, false)
	case CPUArm:
		return stringName(uint32(st), cpuSubtypeArmStrings, false)
	case CPUArm64:
		return stringName(uint32(st), cpuSubtypeArm64Strings, false)
	}
	return fmt.Sprintf("%#x", uint32(st))
}
