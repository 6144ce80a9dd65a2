package vm

import (
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// Decode decodes the instruction whose first bytes are raw, located at pc.
// A raw word whose lowest two bits are not both set is decoded as a 16-bit compressed instruction,
// and only its low half is looked at.
// Decode is a pure function: the same inputs always give the same instruction or error.
func Decode(raw uint32, pc uint64, isa riscv.ISA, width riscv.Width) (Instruction, error) {
	if isCompressed(raw) {
		return decodeCompressed(uint16(raw), pc, width)
	}
	d := decoder32{raw: raw, pc: pc, isa: isa, width: width}
	inst, err := d.decode()
	if err != nil {
		return Instruction{}, err
	}
	inst.Length = 4
	return inst, nil
}

// isCompressed returns whether or not the instruction is compressed.
// In the 32-bit instructions, the lowest-order 2 bits are always set, whereas in the compressed 16-bit instruction set,
// this is not the case.
func isCompressed(instr uint32) bool {
	return instr&3 != 3
}

type decoder32 struct {
	raw   uint32
	pc    uint64
	isa   riscv.ISA
	width riscv.Width
}

func (d decoder32) invalid() (Instruction, error) {
	return Instruction{}, riscv.InvalidInstruction(d.pc, d.raw)
}

func (d decoder32) rv64() bool {
	return d.width == riscv.W64
}

func (d decoder32) hasB() bool {
	return d.isa.Has(riscv.ISAB)
}

func (d decoder32) rtype(op Opcode) (Instruction, error) {
	return Instruction{Op: op, Rd: parseRd(d.raw), Rs1: parseRs1(d.raw), Rs2: parseRs2(d.raw)}, nil
}

func (d decoder32) itype(op Opcode) (Instruction, error) {
	return Instruction{Op: op, Rd: parseRd(d.raw), Rs1: parseRs1(d.raw), Imm: parseImmTypeI(d.raw)}, nil
}

func (d decoder32) unary(op Opcode) (Instruction, error) {
	return Instruction{Op: op, Rd: parseRd(d.raw), Rs1: parseRs1(d.raw)}, nil
}

func (d decoder32) shift(op Opcode, shamt uint32) (Instruction, error) {
	return Instruction{Op: op, Rd: parseRd(d.raw), Rs1: parseRs1(d.raw), Imm: int64(shamt)}, nil
}

func (d decoder32) decode() (Instruction, error) {
	instr := d.raw
	rd := parseRd(instr)
	rs1 := parseRs1(instr)
	rs2 := parseRs2(instr)
	funct3 := parseFunct3(instr)
	funct7 := parseFunct7(instr)

	switch parseOpcode(instr) {
	case 0x37: // 011_0111: LUI = Load upper immediate
		return Instruction{Op: OpLui, Rd: rd, Imm: parseImmTypeU(instr)}, nil
	case 0x17: // 001_0111: AUIPC = Add upper immediate to PC
		return Instruction{Op: OpAuipc, Rd: rd, Imm: parseImmTypeU(instr)}, nil
	case 0x6F: // 110_1111: JAL = Jump and link
		return Instruction{Op: OpJal, Rd: rd, Imm: parseImmTypeJ(instr)}, nil
	case 0x67: // 110_0111: JALR = Jump and link register
		if funct3 != 0 {
			return d.invalid()
		}
		return d.itype(OpJalr)
	case 0x63: // 110_0011: branching
		ops := [8]Opcode{OpBeq, OpBne, OpInvalid, OpInvalid, OpBlt, OpBge, OpBltu, OpBgeu}
		if ops[funct3] == OpInvalid {
			return d.invalid()
		}
		return Instruction{Op: ops[funct3], Rs1: rs1, Rs2: rs2, Imm: parseImmTypeB(instr)}, nil
	case 0x03: // 000_0011: memory loading
		ops := [8]Opcode{OpLb, OpLh, OpLw, OpLd, OpLbu, OpLhu, OpLwu, OpInvalid}
		op := ops[funct3]
		if op == OpInvalid || (!d.rv64() && (op == OpLd || op == OpLwu)) {
			return d.invalid()
		}
		return d.itype(op)
	case 0x23: // 010_0011: memory storing
		ops := [8]Opcode{OpSb, OpSh, OpSw, OpSd, OpInvalid, OpInvalid, OpInvalid, OpInvalid}
		op := ops[funct3]
		if op == OpInvalid || (!d.rv64() && op == OpSd) {
			return d.invalid()
		}
		return Instruction{Op: op, Rs1: rs1, Rs2: rs2, Imm: parseImmTypeS(instr)}, nil
	case 0x13: // 001_0011: immediate arithmetic and logic
		return d.decodeOpImm()
	case 0x1B: // 001_1011: immediate arithmetic and logic signed 32 bit
		if !d.rv64() {
			return d.invalid()
		}
		return d.decodeOpImm32()
	case 0x33: // 011_0011: register arithmetic and logic
		return d.decodeOp(funct3, funct7)
	case 0x3B: // 011_1011: register arithmetic and logic in 32 bits
		if !d.rv64() {
			return d.invalid()
		}
		return d.decodeOp32(funct3, funct7)
	case 0x0F: // 000_1111: fence
		// There's no pipeline nor other harts, so fences are no-ops.
		switch funct3 {
		case 0:
			return Instruction{Op: OpFence}, nil
		case 1:
			return Instruction{Op: OpFenceI}, nil
		}
		return d.invalid()
	case 0x73: // 111_0011: environment things
		switch instr {
		case 0x00000073:
			return Instruction{Op: OpEcall}, nil
		case 0x00100073:
			return Instruction{Op: OpEbreak}, nil
		}
		// CSR access and privileged instructions are not supported
		return d.invalid()
	case 0x2F: // 010_1111: atomic operations extension
		if !d.isa.Has(riscv.ISAA) {
			return d.invalid()
		}
		return d.decodeAtomic(funct3, funct7)
	}
	return d.invalid()
}

// decodeOpImm decodes OP-IMM. Shift-immediate forms select the operation with the bits above the shift amount:
// 6 bits of shift amount in RV64, 5 in RV32 where a set bit 25 is a reserved operand.
func (d decoder32) decodeOpImm() (Instruction, error) {
	instr := d.raw
	funct3 := parseFunct3(instr)
	switch funct3 {
	case 0: // 000 = ADDI
		return d.itype(OpAddi)
	case 2: // 010 = SLTI
		return d.itype(OpSlti)
	case 3: // 011 = SLTIU
		return d.itype(OpSltiu)
	case 4: // 100 = XORI
		return d.itype(OpXori)
	case 6: // 110 = ORI
		return d.itype(OpOri)
	case 7: // 111 = ANDI
		return d.itype(OpAndi)
	}

	funct6 := instr >> 26
	shamt := (instr >> 20) & 0x3F
	imm12 := instr >> 20

	var op Opcode
	switch funct3 {
	case 1: // 001 = SLLI and friends
		switch funct6 {
		case 0x00:
			op = OpSlli
		case 0x12:
			op = d.ifB(OpBclri)
		case 0x1A:
			op = d.ifB(OpBinvi)
		case 0x0A:
			op = d.ifB(OpBseti)
		case 0x18:
			if !d.hasB() {
				return d.invalid()
			}
			switch imm12 {
			case 0x600:
				return d.unary(OpClz)
			case 0x601:
				return d.unary(OpCtz)
			case 0x602:
				return d.unary(OpCpop)
			case 0x604:
				return d.unary(OpSextB)
			case 0x605:
				return d.unary(OpSextH)
			}
			return d.invalid()
		}
	case 5: // 101 = SR~
		switch funct6 {
		case 0x00: // 000000 = SRLI
			op = OpSrli
		case 0x10: // 010000 = SRAI
			op = OpSrai
		case 0x18:
			op = d.ifB(OpRori)
		case 0x12:
			op = d.ifB(OpBexti)
		case 0x0A:
			if d.hasB() && imm12 == 0x287 {
				return d.unary(OpOrcB)
			}
		case 0x1A:
			if d.hasB() && ((d.rv64() && imm12 == 0x6B8) || (!d.rv64() && imm12 == 0x698)) {
				return d.unary(OpRev8)
			}
		}
	}
	if op == OpInvalid {
		return d.invalid()
	}
	if !d.rv64() && shamt&0x20 != 0 {
		return Instruction{}, riscv.InvalidOperand(d.pc, instr, uint16(shamt))
	}
	return d.shift(op, shamt)
}

func (d decoder32) ifB(op Opcode) Opcode {
	if d.hasB() {
		return op
	}
	return OpInvalid
}

func (d decoder32) decodeOpImm32() (Instruction, error) {
	instr := d.raw
	funct3 := parseFunct3(instr)
	funct7 := parseFunct7(instr)
	shamt := (instr >> 20) & 0x1F
	switch funct3 {
	case 0: // 000 = ADDIW
		return d.itype(OpAddiw)
	case 1: // 001 = SLLIW
		switch {
		case funct7 == 0:
			return d.shift(OpSlliw, shamt)
		case instr>>26 == 0x02 && d.hasB():
			return d.shift(OpSlliUw, (instr>>20)&0x3F)
		case funct7 == 0x30 && d.hasB():
			switch parseRs2(instr) {
			case 0:
				return d.unary(OpClzw)
			case 1:
				return d.unary(OpCtzw)
			case 2:
				return d.unary(OpCpopw)
			}
		}
	case 5: // 101 = SR~
		switch {
		case funct7 == 0x00: // 0000000 = SRLIW
			return d.shift(OpSrliw, shamt)
		case funct7 == 0x20: // 0100000 = SRAIW
			return d.shift(OpSraiw, shamt)
		case funct7 == 0x30 && d.hasB():
			return d.shift(OpRoriw, shamt)
		}
	}
	return d.invalid()
}

func (d decoder32) decodeOp(funct3, funct7 uint32) (Instruction, error) {
	var op Opcode
	switch funct7 {
	case 0x00:
		op = [8]Opcode{OpAdd, OpSll, OpSlt, OpSltu, OpXor, OpSrl, OpOr, OpAnd}[funct3]
	case 0x20:
		op = [8]Opcode{OpSub, OpInvalid, OpInvalid, OpInvalid, OpXnor, OpSra, OpOrn, OpAndn}[funct3]
		if op != OpSub && op != OpSra {
			op = d.ifB(op)
		}
	case 0x01: // RV M extension
		op = [8]Opcode{OpMul, OpMulh, OpMulhsu, OpMulhu, OpDiv, OpDivu, OpRem, OpRemu}[funct3]
	case 0x05:
		op = d.ifB([8]Opcode{OpInvalid, OpClmul, OpClmulr, OpClmulh, OpMin, OpMinu, OpMax, OpMaxu}[funct3])
	case 0x10:
		op = d.ifB([8]Opcode{OpInvalid, OpInvalid, OpSh1add, OpInvalid, OpSh2add, OpInvalid, OpSh3add, OpInvalid}[funct3])
	case 0x30:
		op = d.ifB([8]Opcode{OpInvalid, OpRol, OpInvalid, OpInvalid, OpInvalid, OpRor, OpInvalid, OpInvalid}[funct3])
	case 0x24:
		op = d.ifB([8]Opcode{OpInvalid, OpBclr, OpInvalid, OpInvalid, OpInvalid, OpBext, OpInvalid, OpInvalid}[funct3])
	case 0x34:
		op = d.ifB([8]Opcode{OpInvalid, OpBinv, OpInvalid, OpInvalid, OpInvalid, OpInvalid, OpInvalid, OpInvalid}[funct3])
	case 0x14:
		op = d.ifB([8]Opcode{OpInvalid, OpBset, OpInvalid, OpInvalid, OpInvalid, OpInvalid, OpInvalid, OpInvalid}[funct3])
	case 0x04:
		// zext.h is encoded as pack with rs2 = 0, in OP for RV32 and OP-32 for RV64
		if funct3 == 4 && parseRs2(d.raw) == 0 && !d.rv64() && d.hasB() {
			return d.unary(OpZextH)
		}
	}
	if op == OpInvalid {
		return d.invalid()
	}
	return d.rtype(op)
}

func (d decoder32) decodeOp32(funct3, funct7 uint32) (Instruction, error) {
	var op Opcode
	switch funct7 {
	case 0x00:
		op = [8]Opcode{OpAddw, OpSllw, OpInvalid, OpInvalid, OpInvalid, OpSrlw, OpInvalid, OpInvalid}[funct3]
	case 0x20:
		op = [8]Opcode{OpSubw, OpInvalid, OpInvalid, OpInvalid, OpInvalid, OpSraw, OpInvalid, OpInvalid}[funct3]
	case 0x01: // RV M extension
		op = [8]Opcode{OpMulw, OpInvalid, OpInvalid, OpInvalid, OpDivw, OpDivuw, OpRemw, OpRemuw}[funct3]
	case 0x04:
		switch {
		case funct3 == 0:
			op = d.ifB(OpAddUw)
		case funct3 == 4 && parseRs2(d.raw) == 0 && d.hasB():
			return d.unary(OpZextH)
		}
	case 0x10:
		op = d.ifB([8]Opcode{OpInvalid, OpInvalid, OpSh1addUw, OpInvalid, OpSh2addUw, OpInvalid, OpSh3addUw, OpInvalid}[funct3])
	case 0x30:
		op = d.ifB([8]Opcode{OpInvalid, OpRolw, OpInvalid, OpInvalid, OpInvalid, OpRorw, OpInvalid, OpInvalid}[funct3])
	}
	if op == OpInvalid {
		return d.invalid()
	}
	return d.rtype(op)
}

// decodeAtomic decodes LR/SC and the AMOs. The acquire and release bits are ignored:
// there is no pipeline of memory operations to order.
func (d decoder32) decodeAtomic(funct3, funct7 uint32) (Instruction, error) {
	var double bool
	switch funct3 {
	case 2: // 0b010 == W variants
	case 3: // 0b011 == D variants
		if !d.rv64() {
			return d.invalid()
		}
		double = true
	default:
		return Instruction{}, riscv.InvalidOperand(d.pc, d.raw, uint16(funct3))
	}
	var w, dw Opcode
	switch funct7 >> 2 {
	case 0x02: // 00010 = LR = Load Reserved
		if parseRs2(d.raw) != 0 {
			return d.invalid()
		}
		w, dw = OpLrW, OpLrD
	case 0x03: // 00011 = SC = Store Conditional
		w, dw = OpScW, OpScD
	case 0x01: // 00001 = AMOSWAP
		w, dw = OpAmoswapW, OpAmoswapD
	case 0x00: // 00000 = AMOADD
		w, dw = OpAmoaddW, OpAmoaddD
	case 0x04: // 00100 = AMOXOR
		w, dw = OpAmoxorW, OpAmoxorD
	case 0x0C: // 01100 = AMOAND
		w, dw = OpAmoandW, OpAmoandD
	case 0x08: // 01000 = AMOOR
		w, dw = OpAmoorW, OpAmoorD
	case 0x10: // 10000 = AMOMIN
		w, dw = OpAmominW, OpAmominD
	case 0x14: // 10100 = AMOMAX
		w, dw = OpAmomaxW, OpAmomaxD
	case 0x18: // 11000 = AMOMINU
		w, dw = OpAmominuW, OpAmominuD
	case 0x1C: // 11100 = AMOMAXU
		w, dw = OpAmomaxuW, OpAmomaxuD
	default:
		return d.invalid()
	}
	if double {
		return d.rtype(dw)
	}
	return d.rtype(w)
}
