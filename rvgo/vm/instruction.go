package vm

import (
	"fmt"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// Opcode tags a decoded instruction. Compressed encodings decode into the same opcodes
// as their 32-bit counterparts, with Instruction.Length set to 2.
type Opcode uint8

const (
	OpInvalid Opcode = iota

	// RV32I / RV64I
	OpLui
	OpAuipc
	OpJal
	OpJalr
	OpBeq
	OpBne
	OpBlt
	OpBge
	OpBltu
	OpBgeu
	OpLb
	OpLh
	OpLw
	OpLd
	OpLbu
	OpLhu
	OpLwu
	OpSb
	OpSh
	OpSw
	OpSd
	OpAddi
	OpSlti
	OpSltiu
	OpXori
	OpOri
	OpAndi
	OpSlli
	OpSrli
	OpSrai
	OpAdd
	OpSub
	OpSll
	OpSlt
	OpSltu
	OpXor
	OpSrl
	OpSra
	OpOr
	OpAnd
	OpAddiw
	OpSlliw
	OpSrliw
	OpSraiw
	OpAddw
	OpSubw
	OpSllw
	OpSrlw
	OpSraw
	OpFence
	OpFenceI
	OpEcall
	OpEbreak

	// M
	OpMul
	OpMulh
	OpMulhsu
	OpMulhu
	OpDiv
	OpDivu
	OpRem
	OpRemu
	OpMulw
	OpDivw
	OpDivuw
	OpRemw
	OpRemuw

	// A
	OpLrW
	OpScW
	OpAmoswapW
	OpAmoaddW
	OpAmoxorW
	OpAmoandW
	OpAmoorW
	OpAmominW
	OpAmomaxW
	OpAmominuW
	OpAmomaxuW
	OpLrD
	OpScD
	OpAmoswapD
	OpAmoaddD
	OpAmoxorD
	OpAmoandD
	OpAmoorD
	OpAmominD
	OpAmomaxD
	OpAmominuD
	OpAmomaxuD

	// Zba
	OpAddUw
	OpSh1add
	OpSh2add
	OpSh3add
	OpSh1addUw
	OpSh2addUw
	OpSh3addUw
	OpSlliUw

	// Zbb
	OpAndn
	OpOrn
	OpXnor
	OpClz
	OpClzw
	OpCtz
	OpCtzw
	OpCpop
	OpCpopw
	OpMax
	OpMaxu
	OpMin
	OpMinu
	OpSextB
	OpSextH
	OpZextH
	OpRol
	OpRolw
	OpRor
	OpRori
	OpRoriw
	OpRorw
	OpOrcB
	OpRev8

	// Zbc
	OpClmul
	OpClmulh
	OpClmulr

	// Zbs
	OpBclr
	OpBclri
	OpBext
	OpBexti
	OpBinv
	OpBinvi
	OpBset
	OpBseti

	// Macro-op fusion. Rd and Rs3 are the two destinations of the fused pair.
	OpWideMul
	OpWideMulu
	OpWideMulsu
	OpWideDiv
	OpWideDivu
	OpFarJumpRel
	OpFarJumpAbs
	OpLdSignExtended32Constant

	opCount
)

var opcodeNames = [opCount]string{
	OpInvalid: "invalid",

	OpLui: "lui", OpAuipc: "auipc", OpJal: "jal", OpJalr: "jalr",
	OpBeq: "beq", OpBne: "bne", OpBlt: "blt", OpBge: "bge", OpBltu: "bltu", OpBgeu: "bgeu",
	OpLb: "lb", OpLh: "lh", OpLw: "lw", OpLd: "ld", OpLbu: "lbu", OpLhu: "lhu", OpLwu: "lwu",
	OpSb: "sb", OpSh: "sh", OpSw: "sw", OpSd: "sd",
	OpAddi: "addi", OpSlti: "slti", OpSltiu: "sltiu", OpXori: "xori", OpOri: "ori", OpAndi: "andi",
	OpSlli: "slli", OpSrli: "srli", OpSrai: "srai",
	OpAdd: "add", OpSub: "sub", OpSll: "sll", OpSlt: "slt", OpSltu: "sltu", OpXor: "xor",
	OpSrl: "srl", OpSra: "sra", OpOr: "or", OpAnd: "and",
	OpAddiw: "addiw", OpSlliw: "slliw", OpSrliw: "srliw", OpSraiw: "sraiw",
	OpAddw: "addw", OpSubw: "subw", OpSllw: "sllw", OpSrlw: "srlw", OpSraw: "sraw",
	OpFence: "fence", OpFenceI: "fence.i", OpEcall: "ecall", OpEbreak: "ebreak",

	OpMul: "mul", OpMulh: "mulh", OpMulhsu: "mulhsu", OpMulhu: "mulhu",
	OpDiv: "div", OpDivu: "divu", OpRem: "rem", OpRemu: "remu",
	OpMulw: "mulw", OpDivw: "divw", OpDivuw: "divuw", OpRemw: "remw", OpRemuw: "remuw",

	OpLrW: "lr.w", OpScW: "sc.w", OpAmoswapW: "amoswap.w", OpAmoaddW: "amoadd.w", OpAmoxorW: "amoxor.w",
	OpAmoandW: "amoand.w", OpAmoorW: "amoor.w", OpAmominW: "amomin.w", OpAmomaxW: "amomax.w",
	OpAmominuW: "amominu.w", OpAmomaxuW: "amomaxu.w",
	OpLrD: "lr.d", OpScD: "sc.d", OpAmoswapD: "amoswap.d", OpAmoaddD: "amoadd.d", OpAmoxorD: "amoxor.d",
	OpAmoandD: "amoand.d", OpAmoorD: "amoor.d", OpAmominD: "amomin.d", OpAmomaxD: "amomax.d",
	OpAmominuD: "amominu.d", OpAmomaxuD: "amomaxu.d",

	OpAddUw: "add.uw", OpSh1add: "sh1add", OpSh2add: "sh2add", OpSh3add: "sh3add",
	OpSh1addUw: "sh1add.uw", OpSh2addUw: "sh2add.uw", OpSh3addUw: "sh3add.uw", OpSlliUw: "slli.uw",

	OpAndn: "andn", OpOrn: "orn", OpXnor: "xnor", OpClz: "clz", OpClzw: "clzw", OpCtz: "ctz", OpCtzw: "ctzw",
	OpCpop: "cpop", OpCpopw: "cpopw", OpMax: "max", OpMaxu: "maxu", OpMin: "min", OpMinu: "minu",
	OpSextB: "sext.b", OpSextH: "sext.h", OpZextH: "zext.h", OpRol: "rol", OpRolw: "rolw",
	OpRor: "ror", OpRori: "rori", OpRoriw: "roriw", OpRorw: "rorw", OpOrcB: "orc.b", OpRev8: "rev8",

	OpClmul: "clmul", OpClmulh: "clmulh", OpClmulr: "clmulr",

	OpBclr: "bclr", OpBclri: "bclri", OpBext: "bext", OpBexti: "bexti",
	OpBinv: "binv", OpBinvi: "binvi", OpBset: "bset", OpBseti: "bseti",

	OpWideMul: "wide_mul", OpWideMulu: "wide_mulu", OpWideMulsu: "wide_mulsu",
	OpWideDiv: "wide_div", OpWideDivu: "wide_divu",
	OpFarJumpRel: "far_jump_rel", OpFarJumpAbs: "far_jump_abs",
	OpLdSignExtended32Constant: "ld_sign_extended_32_constant",
}

func (op Opcode) String() string {
	if op >= opCount {
		return fmt.Sprintf("op(%d)", uint8(op))
	}
	return opcodeNames[op]
}

// Fused reports whether the opcode is a macro-op covering two instructions.
func (op Opcode) Fused() bool {
	return op >= OpWideMul && op < opCount
}

// Instruction is a decoded instruction. Fields that don't apply to Op are zero.
type Instruction struct {
	Op  Opcode
	Rd  uint8
	Rs1 uint8
	Rs2 uint8
	Rs3 uint8 // second destination of fused ops
	// Imm is the sign-extended immediate, or the shift amount for shift-immediate ops.
	Imm int64
	// Length is the number of bytes the instruction occupies: 2, 4, or 8 for fused pairs.
	Length uint8
}

func (i Instruction) String() string {
	r := riscv.RegisterName
	switch i.Op {
	case OpEcall, OpEbreak, OpFence, OpFenceI, OpInvalid:
		return i.Op.String()
	case OpLui, OpAuipc, OpJal:
		return fmt.Sprintf("%s %s, %d", i.Op, r(int(i.Rd)), i.Imm)
	case OpWideMul, OpWideMulu, OpWideMulsu, OpWideDiv, OpWideDivu:
		return fmt.Sprintf("%s %s, %s, %s, %s", i.Op, r(int(i.Rd)), r(int(i.Rs3)), r(int(i.Rs1)), r(int(i.Rs2)))
	case OpFarJumpRel, OpFarJumpAbs, OpLdSignExtended32Constant:
		return fmt.Sprintf("%s %s, %d", i.Op, r(int(i.Rd)), i.Imm)
	}
	switch i.Op.format() {
	case formatI:
		return fmt.Sprintf("%s %s, %s, %d", i.Op, r(int(i.Rd)), r(int(i.Rs1)), i.Imm)
	case formatS, formatB:
		return fmt.Sprintf("%s %s, %s, %d", i.Op, r(int(i.Rs1)), r(int(i.Rs2)), i.Imm)
	case formatUnary:
		return fmt.Sprintf("%s %s, %s", i.Op, r(int(i.Rd)), r(int(i.Rs1)))
	default:
		return fmt.Sprintf("%s %s, %s, %s", i.Op, r(int(i.Rd)), r(int(i.Rs1)), r(int(i.Rs2)))
	}
}

type format uint8

const (
	formatR format = iota
	formatI
	formatS
	formatB
	formatUnary
)

func (op Opcode) format() format {
	switch op {
	case OpJalr, OpLb, OpLh, OpLw, OpLd, OpLbu, OpLhu, OpLwu,
		OpAddi, OpSlti, OpSltiu, OpXori, OpOri, OpAndi, OpSlli, OpSrli, OpSrai,
		OpAddiw, OpSlliw, OpSrliw, OpSraiw, OpSlliUw, OpRori, OpRoriw,
		OpBclri, OpBexti, OpBinvi, OpBseti:
		return formatI
	case OpSb, OpSh, OpSw, OpSd:
		return formatS
	case OpBeq, OpBne, OpBlt, OpBge, OpBltu, OpBgeu:
		return formatB
	case OpClz, OpClzw, OpCtz, OpCtzw, OpCpop, OpCpopw, OpSextB, OpSextH, OpZextH, OpOrcB, OpRev8,
		OpLrW, OpLrD:
		return formatUnary
	default:
		return formatR
	}
}
