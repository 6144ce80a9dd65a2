package vm

import (
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// Functions to parse the instruction field values from the different 32-bit instruction types.

func parseOpcode(instr uint32) uint32 {
	return instr & 0x7F
}

func parseRd(instr uint32) uint8 {
	return uint8((instr >> 7) & 0x1F)
}

func parseFunct3(instr uint32) uint32 {
	return (instr >> 12) & 0x7
}

func parseRs1(instr uint32) uint8 {
	return uint8((instr >> 15) & 0x1F)
}

func parseRs2(instr uint32) uint8 {
	return uint8((instr >> 20) & 0x1F)
}

func parseFunct7(instr uint32) uint32 {
	return instr >> 25
}

func parseImmTypeI(instr uint32) int64 {
	return int64(riscv.SignExtend(uint64(instr>>20), 11))
}

func parseImmTypeS(instr uint32) int64 {
	return int64(riscv.SignExtend(uint64((instr>>25)<<5|(instr>>7)&0x1F), 11))
}

// parseImmTypeB returns the branch offset: a signed offset in multiples of 2 bytes,
// so really 13 bits with a hardcoded 0 bit.
func parseImmTypeB(instr uint32) int64 {
	v := ((instr>>8)&0xF)<<1 |
		((instr>>25)&0x3F)<<5 |
		((instr>>7)&1)<<11 |
		(instr>>31)<<12
	return int64(riscv.SignExtend(uint64(v), 12))
}

// parseImmTypeU returns the upper immediate, already shifted into place.
func parseImmTypeU(instr uint32) int64 {
	return int64(int32(instr & 0xFFFFF000))
}

func parseImmTypeJ(instr uint32) int64 {
	v := ((instr>>21)&0x3FF)<<1 |
		((instr>>20)&1)<<11 |
		((instr>>12)&0xFF)<<12 |
		(instr>>31)<<20
	return int64(riscv.SignExtend(uint64(v), 20))
}
