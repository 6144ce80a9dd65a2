package vm

import (
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// cRegisterOffset is the offset of the register mapping from the `C` instructions to regular 32 bit instructions.
// In the `C` extension, the common register fields are only allotted 3 bits, allowing for 8 possible register designations.
const cRegisterOffset = 8

// mapCompressedRegister maps a compressed register to its 32-bit counterpart. RVC uses the following register aliases
// to fit the compressed register number within 3 bits:
// ┌─────┬─────┬─────┬─────┬─────┬─────┬─────┬─────┐
// │ 000 │ 001 │ 010 │ 011 │ 100 │ 101 │ 110 │ 111 │
// ├─────┼─────┼─────┼─────┼─────┼─────┼─────┼─────┤
// │ x8  │ x9  │ x10 │ x11 │ x12 │ x13 │ x14 │ x15 │
// └─────┴─────┴─────┴─────┴─────┴─────┴─────┴─────┘
func mapCompressedRegister(register uint16) uint8 {
	return uint8(register&7) + cRegisterOffset
}

// parseFunct3C pulls the 3-bit function out of the high-order bits of a compressed instruction.
func parseFunct3C(instr uint16) uint16 {
	return instr >> 13
}

func bit(instr uint16, i uint) uint16 {
	return (instr >> i) & 1
}

func bitRange(instr uint16, hi, lo uint) uint16 {
	return (instr >> lo) & (1<<(hi-lo+1) - 1)
}

// immCI is the 6-bit signed immediate of the CI format: imm[5] at bit 12, imm[4:0] at bits 6:2.
func immCI(instr uint16) int64 {
	return int64(riscv.SignExtend(uint64(bit(instr, 12)<<5|bitRange(instr, 6, 2)), 5))
}

// shamtCI is the unsigned 6-bit shift amount of the CI format.
func shamtCI(instr uint16) uint16 {
	return bit(instr, 12)<<5 | bitRange(instr, 6, 2)
}

// offsetCJ is the jump offset of c.j and c.jal: offset[11|4|9:8|10|6|7|3:1|5].
func offsetCJ(instr uint16) int64 {
	v := bit(instr, 12)<<11 |
		bit(instr, 11)<<4 |
		bitRange(instr, 10, 9)<<8 |
		bit(instr, 8)<<10 |
		bit(instr, 7)<<6 |
		bit(instr, 6)<<7 |
		bitRange(instr, 5, 3)<<1 |
		bit(instr, 2)<<5
	return int64(riscv.SignExtend(uint64(v), 11))
}

// offsetCB is the branch offset of c.beqz and c.bnez: offset[8|4:3] in bits 12:10, offset[7:6|2:1|5] in bits 6:2.
func offsetCB(instr uint16) int64 {
	v := bit(instr, 12)<<8 |
		bitRange(instr, 11, 10)<<3 |
		bitRange(instr, 6, 5)<<6 |
		bitRange(instr, 4, 3)<<1 |
		bit(instr, 2)<<5
	return int64(riscv.SignExtend(uint64(v), 8))
}

// offsetCLW is the word offset of c.lw and c.sw: uimm[5:3] in bits 12:10, uimm[2|6] in bits 6:5.
func offsetCLW(instr uint16) int64 {
	return int64(bitRange(instr, 12, 10)<<3 | bit(instr, 6)<<2 | bit(instr, 5)<<6)
}

// offsetCLD is the double-word offset of c.ld and c.sd: uimm[5:3] in bits 12:10, uimm[7:6] in bits 6:5.
func offsetCLD(instr uint16) int64 {
	return int64(bitRange(instr, 12, 10)<<3 | bitRange(instr, 6, 5)<<6)
}

// decodeCompressed decodes a 16-bit `C` extension instruction into the equivalent base instruction.
// Floating point encodings are invalid instructions, and reserved field values are invalid operands.
func decodeCompressed(instr uint16, pc uint64, width riscv.Width) (Instruction, error) {
	rv64 := width == riscv.W64
	invalid := func() (Instruction, error) {
		return Instruction{}, riscv.InvalidInstruction(pc, uint32(instr))
	}
	reserved := func(operand uint16) (Instruction, error) {
		return Instruction{}, riscv.InvalidOperand(pc, uint32(instr), operand)
	}
	ok := func(inst Instruction) (Instruction, error) {
		inst.Length = 2
		return inst, nil
	}

	// Fully unset bits signal an illegal instruction, so we check here prior to the switch case in order to disambiguate
	// funct3 = 0 ++ opcode = 0 from C.ADDI4SPN.
	if instr == 0 {
		return invalid()
	}

	rd := uint8(bitRange(instr, 11, 7))
	rs2 := uint8(bitRange(instr, 6, 2))
	rdC := mapCompressedRegister(bitRange(instr, 4, 2))  // rd' / rs2'
	rs1C := mapCompressedRegister(bitRange(instr, 9, 7)) // rs1' / rd'

	switch instr & 3 {
	// C0
	case 0:
		switch parseFunct3C(instr) {
		case 0: // CIW - C.ADDI4SPN
			imm := bitRange(instr, 10, 7)<<6 | bitRange(instr, 12, 11)<<4 | bit(instr, 5)<<3 | bit(instr, 6)<<2
			if imm == 0 {
				return reserved(imm)
			}
			return ok(Instruction{Op: OpAddi, Rd: rdC, Rs1: riscv.RegSP, Imm: int64(imm)})
		case 2: // CL - C.LW
			return ok(Instruction{Op: OpLw, Rd: rdC, Rs1: rs1C, Imm: offsetCLW(instr)})
		case 3: // CL - C.LD
			if !rv64 {
				return invalid()
			}
			return ok(Instruction{Op: OpLd, Rd: rdC, Rs1: rs1C, Imm: offsetCLD(instr)})
		case 6: // CS - C.SW
			return ok(Instruction{Op: OpSw, Rs1: rs1C, Rs2: rdC, Imm: offsetCLW(instr)})
		case 7: // CS - C.SD
			if !rv64 {
				return invalid()
			}
			return ok(Instruction{Op: OpSd, Rs1: rs1C, Rs2: rdC, Imm: offsetCLD(instr)})
		}
	// C1
	case 1:
		switch parseFunct3C(instr) {
		case 0: // CI - C.NOP | C.ADDI
			return ok(Instruction{Op: OpAddi, Rd: rd, Rs1: rd, Imm: immCI(instr)})
		case 1:
			if !rv64 { // CJ - C.JAL
				return ok(Instruction{Op: OpJal, Rd: riscv.RegRA, Imm: offsetCJ(instr)})
			}
			// CI - C.ADDIW
			if rd == 0 {
				return reserved(uint16(rd))
			}
			return ok(Instruction{Op: OpAddiw, Rd: rd, Rs1: rd, Imm: immCI(instr)})
		case 2: // CI - C.LI
			return ok(Instruction{Op: OpAddi, Rd: rd, Rs1: riscv.RegZero, Imm: immCI(instr)})
		case 3:
			if rd == riscv.RegSP { // CI - C.ADDI16SP
				v := bit(instr, 12)<<9 | bit(instr, 6)<<4 | bit(instr, 5)<<6 | bitRange(instr, 4, 3)<<7 | bit(instr, 2)<<5
				if v == 0 {
					return reserved(v)
				}
				return ok(Instruction{Op: OpAddi, Rd: riscv.RegSP, Rs1: riscv.RegSP, Imm: int64(riscv.SignExtend(uint64(v), 9))})
			}
			// CI - C.LUI
			v := shamtCI(instr)
			if v == 0 {
				return reserved(v)
			}
			return ok(Instruction{Op: OpLui, Rd: rd, Imm: int64(riscv.SignExtend(uint64(v)<<12, 17))})
		case 4: // C.SRLI, C.SRAI, C.ANDI, C.SUB, C.XOR, C.OR, C.AND, C.SUBW, C.ADDW
			switch bitRange(instr, 11, 10) {
			case 0, 1:
				shamt := shamtCI(instr)
				if !rv64 && shamt&0x20 != 0 {
					return reserved(shamt)
				}
				op := OpSrli
				if bitRange(instr, 11, 10) == 1 {
					op = OpSrai
				}
				return ok(Instruction{Op: op, Rd: rs1C, Rs1: rs1C, Imm: int64(shamt)})
			case 2:
				return ok(Instruction{Op: OpAndi, Rd: rs1C, Rs1: rs1C, Imm: immCI(instr)})
			case 3:
				var op Opcode
				if bit(instr, 12) == 0 {
					op = [4]Opcode{OpSub, OpXor, OpOr, OpAnd}[bitRange(instr, 6, 5)]
				} else if rv64 {
					op = [4]Opcode{OpSubw, OpAddw, OpInvalid, OpInvalid}[bitRange(instr, 6, 5)]
				}
				if op == OpInvalid {
					return invalid()
				}
				return ok(Instruction{Op: op, Rd: rs1C, Rs1: rs1C, Rs2: rdC})
			}
		case 5: // CJ - C.J
			return ok(Instruction{Op: OpJal, Rd: riscv.RegZero, Imm: offsetCJ(instr)})
		case 6: // CB - C.BEQZ
			return ok(Instruction{Op: OpBeq, Rs1: rs1C, Rs2: riscv.RegZero, Imm: offsetCB(instr)})
		case 7: // CB - C.BNEZ
			return ok(Instruction{Op: OpBne, Rs1: rs1C, Rs2: riscv.RegZero, Imm: offsetCB(instr)})
		}
	// C2
	case 2:
		switch parseFunct3C(instr) {
		case 0: // CI - C.SLLI
			shamt := shamtCI(instr)
			if !rv64 && shamt&0x20 != 0 {
				return reserved(shamt)
			}
			return ok(Instruction{Op: OpSlli, Rd: rd, Rs1: rd, Imm: int64(shamt)})
		case 2: // CI - C.LWSP
			if rd == 0 {
				return reserved(uint16(rd))
			}
			off := bit(instr, 12)<<5 | bitRange(instr, 6, 4)<<2 | bitRange(instr, 3, 2)<<6
			return ok(Instruction{Op: OpLw, Rd: rd, Rs1: riscv.RegSP, Imm: int64(off)})
		case 3: // CI - C.LDSP
			if !rv64 {
				return invalid()
			}
			if rd == 0 {
				return reserved(uint16(rd))
			}
			off := bit(instr, 12)<<5 | bitRange(instr, 6, 5)<<3 | bitRange(instr, 4, 2)<<6
			return ok(Instruction{Op: OpLd, Rd: rd, Rs1: riscv.RegSP, Imm: int64(off)})
		case 4: // C.JR, C.MV, C.EBREAK, C.JALR, C.ADD
			if bit(instr, 12) == 0 {
				if rs2 == 0 { // C.JR
					if rd == 0 {
						return reserved(uint16(rd))
					}
					return ok(Instruction{Op: OpJalr, Rd: riscv.RegZero, Rs1: rd})
				}
				// C.MV
				return ok(Instruction{Op: OpAdd, Rd: rd, Rs1: riscv.RegZero, Rs2: rs2})
			}
			if rs2 == 0 {
				if rd == 0 { // C.EBREAK
					return ok(Instruction{Op: OpEbreak})
				}
				// C.JALR
				return ok(Instruction{Op: OpJalr, Rd: riscv.RegRA, Rs1: rd})
			}
			// C.ADD
			return ok(Instruction{Op: OpAdd, Rd: rd, Rs1: rd, Rs2: rs2})
		case 6: // CSS - C.SWSP
			off := bitRange(instr, 12, 9)<<2 | bitRange(instr, 8, 7)<<6
			return ok(Instruction{Op: OpSw, Rs1: riscv.RegSP, Rs2: rs2, Imm: int64(off)})
		case 7: // CSS - C.SDSP
			if !rv64 {
				return invalid()
			}
			off := bitRange(instr, 12, 10)<<3 | bitRange(instr, 9, 7)<<6
			return ok(Instruction{Op: OpSd, Rs1: riscv.RegSP, Rs2: rs2, Imm: int64(off)})
		}
	}
	return invalid()
}
