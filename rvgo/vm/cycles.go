package vm

// BaseCycles is charged for every executed instruction, on top of the instruction cost.
const BaseCycles = 1

// InstructionCycleFunc returns the extra cost of executing an instruction.
type InstructionCycleFunc func(inst Instruction) uint64

// DefaultInstructionCycles charges nothing on top of BaseCycles.
func DefaultInstructionCycles(Instruction) uint64 {
	return 0
}

// WeightedInstructionCycles charges more for the instructions that are expensive to run natively:
// multiplication, division, and the macro ops that fuse them.
func WeightedInstructionCycles(inst Instruction) uint64 {
	switch inst.Op {
	case OpMul, OpMulw, OpMulh, OpMulhsu, OpMulhu, OpClmul, OpClmulh, OpClmulr:
		return 4
	case OpDiv, OpDivu, OpRem, OpRemu, OpDivw, OpDivuw, OpRemw, OpRemuw:
		return 32
	case OpWideMul, OpWideMulu, OpWideMulsu:
		return 5
	case OpWideDiv, OpWideDivu:
		return 33
	case OpJal, OpJalr, OpFarJumpRel, OpFarJumpAbs,
		OpBeq, OpBne, OpBlt, OpBge, OpBltu, OpBgeu:
		return 2
	default:
		return 0
	}
}
