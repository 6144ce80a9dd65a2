package riscv

import (
	"fmt"
	"strings"
)

// ISA is a set of enabled instruction set extensions.
// The base integer set with the M and C extensions is always enabled.
type ISA uint8

const (
	ISAIMC ISA = 0b0000_0000
	ISAB   ISA = 0b0000_0001 // Zba, Zbb, Zbc, Zbs
	ISAMOP ISA = 0b0000_0010 // macro-op fusion
	ISAA   ISA = 0b0000_0100 // LR/SC and AMOs

	isaMask = ISAB | ISAMOP | ISAA
)

func (isa ISA) Has(ext ISA) bool {
	return isa&ext == ext
}

// Valid reports whether only known extension bits are set.
func (isa ISA) Valid() bool {
	return isa&^isaMask == 0
}

func (isa ISA) String() string {
	out := "imc"
	if isa.Has(ISAB) {
		out += "_b"
	}
	if isa.Has(ISAA) {
		out += "_a"
	}
	if isa.Has(ISAMOP) {
		out += "_mop"
	}
	return out
}

// ParseISA parses the format of ISA.String, e.g. "imc_b_mop".
func ParseISA(s string) (ISA, error) {
	parts := strings.Split(strings.ToLower(s), "_")
	if parts[0] != "imc" {
		return 0, fmt.Errorf("ISA %q does not start with imc: %w", s, ErrUnimplemented)
	}
	var isa ISA
	for _, ext := range parts[1:] {
		switch ext {
		case "b":
			isa |= ISAB
		case "a":
			isa |= ISAA
		case "mop":
			isa |= ISAMOP
		default:
			return 0, fmt.Errorf("unknown extension %q: %w", ext, ErrUnimplemented)
		}
	}
	return isa, nil
}

// Version selects behavior that changed between machine revisions.
type Version uint32

const (
	// Version0 writes the jalr link register before reading the jump target,
	// and lays out the initial stack without alignment or argv terminator.
	Version0 Version = 0
	Version1 Version = 1

	LatestVersion = Version1
)

const (
	RegisterCount = 32

	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegT0   = 5
	RegT1   = 6
	RegT2   = 7
	RegS0   = 8
	RegS1   = 9
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
)

var registerNames = [RegisterCount]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegisterName returns the ABI name of register i.
func RegisterName(i int) string {
	if i < 0 || i >= RegisterCount {
		return "x?"
	}
	return registerNames[i]
}

// Note: 2**12 = 4 KiB, the protection unit of the memory subsystem.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1

	DefaultMemorySize = 4 << 20
	MaxMemorySize     = 1 << 30
	DefaultStackSize  = 1 << 20
)

const (
	SysWrite         = 64
	SysExit          = 93
	SysCurrentCycles = 2042
	SysDebug         = 2177

	FdStdout = 1
	FdStderr = 2

	ErrnoBadFd = 9 // EBADF
)
