package vm

import (
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// arithmeticPairs maps the first instruction of a fusible arithmetic pair to the second one and the macro op.
var arithmeticPairs = map[Opcode]struct {
	second Opcode
	fused  Opcode
}{
	OpMulh:   {OpMul, OpWideMul},
	OpMulhu:  {OpMul, OpWideMulu},
	OpMulhsu: {OpMul, OpWideMulsu},
	OpDiv:    {OpRem, OpWideDiv},
	OpDivu:   {OpRemu, OpWideDivu},
}

// fuse tries to merge two adjacent 32-bit instructions into one macro op.
// It only succeeds when executing the macro op is indistinguishable from executing the pair:
// the first destination must not feed the second instruction, and the destinations must differ.
func fuse(first, second Instruction, width riscv.Width) (Instruction, bool) {
	if first.Length != 4 || second.Length != 4 {
		return Instruction{}, false
	}
	switch first.Op {
	case OpMulh, OpMulhu, OpMulhsu, OpDiv, OpDivu:
		p := arithmeticPairs[first.Op]
		if second.Op != p.second ||
			first.Rs1 != second.Rs1 || first.Rs2 != second.Rs2 ||
			first.Rd == first.Rs1 || first.Rd == first.Rs2 || first.Rd == second.Rd {
			return Instruction{}, false
		}
		return Instruction{Op: p.fused, Rd: first.Rd, Rs1: first.Rs1, Rs2: first.Rs2, Rs3: second.Rd, Length: 8}, true
	case OpAuipc, OpLui:
		if first.Rd == riscv.RegZero {
			return Instruction{}, false
		}
		if second.Op == OpJalr && first.Rd == riscv.RegRA && second.Rd == riscv.RegRA && second.Rs1 == riscv.RegRA {
			op := OpFarJumpRel
			if first.Op == OpLui {
				op = OpFarJumpAbs
			}
			return Instruction{Op: op, Rd: riscv.RegRA, Imm: first.Imm + second.Imm, Length: 8}, true
		}
		if first.Op == OpLui && width == riscv.W64 && second.Op == OpAddiw &&
			second.Rd == first.Rd && second.Rs1 == first.Rd {
			return Instruction{Op: OpLdSignExtended32Constant, Rd: first.Rd, Imm: first.Imm + second.Imm, Length: 8}, true
		}
	}
	return Instruction{}, false
}

// fusible reports whether inst can start a macro op, so the decoder only looks ahead when it can pay off.
func fusible(inst Instruction) bool {
	switch inst.Op {
	case OpMulh, OpMulhu, OpMulhsu, OpDiv, OpDivu, OpAuipc, OpLui:
		return inst.Length == 4
	}
	return false
}
