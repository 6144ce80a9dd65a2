package vm

import (
	"math/bits"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// Trap tells the machine loop that an executed instruction needs the host.
type Trap uint8

const (
	TrapNone Trap = iota
	TrapEcall
	TrapEbreak
)

// Execute applies the semantics of inst, located at the current pc, and advances the pc.
// Traps are returned to the caller after the pc has moved past the trapping instruction.
// Memory errors leave the pc on the faulting instruction.
func (c *CoreMachine) Execute(inst Instruction) (Trap, error) {
	w := c.width
	pc := c.pc
	next := pc + uint64(inst.Length)
	reg := func(i uint8) uint64 {
		return c.registers[i]
	}
	set := func(i uint8, v uint64) {
		c.SetRegister(int(i), v)
	}
	imm := uint64(inst.Imm)
	rs1, rs2 := reg(inst.Rs1), reg(inst.Rs2)

	// effective address of loads and stores
	addr := w.Trunc(rs1 + imm)

	switch inst.Op {
	case OpLui:
		set(inst.Rd, imm)
	case OpAuipc:
		set(inst.Rd, pc+imm)
	case OpJal:
		set(inst.Rd, next)
		next = pc + imm
	case OpJalr:
		// least significant bit of the target is set to 0
		if c.version < riscv.Version1 {
			// the link register is written before the target is read
			set(inst.Rd, next)
			next = (reg(inst.Rs1) + imm) &^ 1
		} else {
			target := (rs1 + imm) &^ 1
			set(inst.Rd, next)
			next = target
		}
	case OpBeq, OpBne, OpBlt, OpBge, OpBltu, OpBgeu:
		var branchHit bool
		switch inst.Op {
		case OpBeq:
			branchHit = rs1 == rs2
		case OpBne:
			branchHit = rs1 != rs2
		case OpBlt:
			branchHit = w.Slt(rs1, rs2)
		case OpBge:
			branchHit = !w.Slt(rs1, rs2)
		case OpBltu:
			branchHit = rs1 < rs2
		case OpBgeu:
			branchHit = rs1 >= rs2
		}
		if branchHit {
			next = pc + imm
		}

	case OpLb, OpLh, OpLw, OpLd, OpLbu, OpLhu, OpLwu:
		v, err := c.load(inst.Op, addr)
		if err != nil {
			return TrapNone, err
		}
		set(inst.Rd, v)
	case OpSb:
		if err := c.mem.Store8(addr, rs2); err != nil {
			return TrapNone, err
		}
	case OpSh:
		if err := c.mem.Store16(addr, rs2); err != nil {
			return TrapNone, err
		}
	case OpSw:
		if err := c.mem.Store32(addr, rs2); err != nil {
			return TrapNone, err
		}
	case OpSd:
		if err := c.mem.Store64(addr, rs2); err != nil {
			return TrapNone, err
		}

	case OpAddi:
		set(inst.Rd, rs1+imm)
	case OpSlti:
		set(inst.Rd, boolToWord(w.Slt(rs1, w.Trunc(imm))))
	case OpSltiu:
		set(inst.Rd, boolToWord(rs1 < w.Trunc(imm)))
	case OpXori:
		set(inst.Rd, rs1^imm)
	case OpOri:
		set(inst.Rd, rs1|imm)
	case OpAndi:
		set(inst.Rd, rs1&imm)
	case OpSlli:
		set(inst.Rd, w.Sll(rs1, imm))
	case OpSrli:
		set(inst.Rd, w.Srl(rs1, imm))
	case OpSrai:
		set(inst.Rd, w.Sra(rs1, imm))
	case OpAdd:
		set(inst.Rd, rs1+rs2)
	case OpSub:
		set(inst.Rd, rs1-rs2)
	case OpSll:
		set(inst.Rd, w.Sll(rs1, rs2))
	case OpSlt:
		set(inst.Rd, boolToWord(w.Slt(rs1, rs2)))
	case OpSltu:
		set(inst.Rd, boolToWord(rs1 < rs2))
	case OpXor:
		set(inst.Rd, rs1^rs2)
	case OpSrl:
		set(inst.Rd, w.Srl(rs1, rs2))
	case OpSra:
		set(inst.Rd, w.Sra(rs1, rs2))
	case OpOr:
		set(inst.Rd, rs1|rs2)
	case OpAnd:
		set(inst.Rd, rs1&rs2)

	// RV64 word operations compute on the low 32 bits and sign-extend the result
	case OpAddiw:
		set(inst.Rd, riscv.Sext32(rs1+imm))
	case OpSlliw:
		set(inst.Rd, riscv.Sext32(rs1<<(imm&0x1F)))
	case OpSrliw:
		set(inst.Rd, riscv.Sext32(uint64(uint32(rs1)>>(imm&0x1F))))
	case OpSraiw:
		set(inst.Rd, uint64(int64(int32(uint32(rs1))>>(imm&0x1F))))
	case OpAddw:
		set(inst.Rd, riscv.Sext32(rs1+rs2))
	case OpSubw:
		set(inst.Rd, riscv.Sext32(rs1-rs2))
	case OpSllw:
		set(inst.Rd, riscv.Sext32(rs1<<(rs2&0x1F)))
	case OpSrlw:
		set(inst.Rd, riscv.Sext32(uint64(uint32(rs1)>>(rs2&0x1F))))
	case OpSraw:
		set(inst.Rd, uint64(int64(int32(uint32(rs1))>>(rs2&0x1F))))

	case OpFence, OpFenceI:
		// There's no pipeline, nor additional harts, so there's nothing to synchronize.
	case OpEcall:
		c.pc = w.Trunc(next)
		return TrapEcall, nil
	case OpEbreak:
		c.pc = w.Trunc(next)
		return TrapEbreak, nil

	case OpMul:
		set(inst.Rd, rs1*rs2)
	case OpMulh:
		set(inst.Rd, w.MulHigh(rs1, rs2))
	case OpMulhsu:
		set(inst.Rd, w.MulHighSU(rs1, rs2))
	case OpMulhu:
		set(inst.Rd, w.MulHighU(rs1, rs2))
	case OpDiv:
		set(inst.Rd, w.Div(rs1, rs2))
	case OpDivu:
		set(inst.Rd, w.DivU(rs1, rs2))
	case OpRem:
		set(inst.Rd, w.Rem(rs1, rs2))
	case OpRemu:
		set(inst.Rd, w.RemU(rs1, rs2))
	case OpMulw:
		set(inst.Rd, riscv.Sext32(rs1*rs2))
	case OpDivw:
		set(inst.Rd, riscv.Sext32(riscv.W32.Div(rs1, rs2)))
	case OpDivuw:
		set(inst.Rd, riscv.Sext32(riscv.W32.DivU(rs1, rs2)))
	case OpRemw:
		set(inst.Rd, riscv.Sext32(riscv.W32.Rem(rs1, rs2)))
	case OpRemuw:
		set(inst.Rd, riscv.Sext32(riscv.W32.RemU(rs1, rs2)))

	case OpLrW, OpLrD, OpScW, OpScD,
		OpAmoswapW, OpAmoaddW, OpAmoxorW, OpAmoandW, OpAmoorW, OpAmominW, OpAmomaxW, OpAmominuW, OpAmomaxuW,
		OpAmoswapD, OpAmoaddD, OpAmoxorD, OpAmoandD, OpAmoorD, OpAmominD, OpAmomaxD, OpAmominuD, OpAmomaxuD:
		if err := c.atomic(inst, rs1, rs2); err != nil {
			return TrapNone, err
		}

	case OpAddUw:
		set(inst.Rd, rs2+uint64(uint32(rs1)))
	case OpSh1add:
		set(inst.Rd, rs2+rs1<<1)
	case OpSh2add:
		set(inst.Rd, rs2+rs1<<2)
	case OpSh3add:
		set(inst.Rd, rs2+rs1<<3)
	case OpSh1addUw:
		set(inst.Rd, rs2+uint64(uint32(rs1))<<1)
	case OpSh2addUw:
		set(inst.Rd, rs2+uint64(uint32(rs1))<<2)
	case OpSh3addUw:
		set(inst.Rd, rs2+uint64(uint32(rs1))<<3)
	case OpSlliUw:
		set(inst.Rd, uint64(uint32(rs1))<<(imm&0x3F))

	case OpAndn:
		set(inst.Rd, rs1&^rs2)
	case OpOrn:
		set(inst.Rd, rs1|^rs2)
	case OpXnor:
		set(inst.Rd, ^(rs1 ^ rs2))
	case OpClz:
		set(inst.Rd, uint64(bits.LeadingZeros64(rs1))-(64-w.Bits()))
	case OpClzw:
		set(inst.Rd, uint64(bits.LeadingZeros32(uint32(rs1))))
	case OpCtz:
		n := uint64(bits.TrailingZeros64(rs1))
		if n > w.Bits() {
			n = w.Bits()
		}
		set(inst.Rd, n)
	case OpCtzw:
		set(inst.Rd, uint64(bits.TrailingZeros32(uint32(rs1))))
	case OpCpop:
		set(inst.Rd, uint64(bits.OnesCount64(rs1)))
	case OpCpopw:
		set(inst.Rd, uint64(bits.OnesCount32(uint32(rs1))))
	case OpMax:
		if w.Slt(rs1, rs2) {
			set(inst.Rd, rs2)
		} else {
			set(inst.Rd, rs1)
		}
	case OpMaxu:
		set(inst.Rd, max(rs1, rs2))
	case OpMin:
		if w.Slt(rs1, rs2) {
			set(inst.Rd, rs1)
		} else {
			set(inst.Rd, rs2)
		}
	case OpMinu:
		set(inst.Rd, min(rs1, rs2))
	case OpSextB:
		set(inst.Rd, uint64(int64(int8(rs1))))
	case OpSextH:
		set(inst.Rd, uint64(int64(int16(rs1))))
	case OpZextH:
		set(inst.Rd, uint64(uint16(rs1)))
	case OpRol:
		set(inst.Rd, w.Rol(rs1, rs2))
	case OpRor:
		set(inst.Rd, w.Ror(rs1, rs2))
	case OpRori:
		set(inst.Rd, w.Ror(rs1, imm))
	case OpRolw:
		set(inst.Rd, riscv.Sext32(riscv.W32.Rol(rs1, rs2)))
	case OpRorw:
		set(inst.Rd, riscv.Sext32(riscv.W32.Ror(rs1, rs2)))
	case OpRoriw:
		set(inst.Rd, riscv.Sext32(riscv.W32.Ror(rs1, imm)))
	case OpOrcB:
		var out uint64
		for i := uint64(0); i < w.Bits(); i += 8 {
			if (rs1>>i)&0xFF != 0 {
				out |= 0xFF << i
			}
		}
		set(inst.Rd, out)
	case OpRev8:
		if w == riscv.W32 {
			set(inst.Rd, uint64(bits.ReverseBytes32(uint32(rs1))))
		} else {
			set(inst.Rd, bits.ReverseBytes64(rs1))
		}

	case OpClmul:
		set(inst.Rd, clmul(w, rs1, rs2))
	case OpClmulh:
		set(inst.Rd, clmulh(w, rs1, rs2))
	case OpClmulr:
		set(inst.Rd, clmulr(w, rs1, rs2))

	case OpBclr, OpBclri, OpBext, OpBexti, OpBinv, OpBinvi, OpBset, OpBseti:
		index := rs2
		switch inst.Op {
		case OpBclri, OpBexti, OpBinvi, OpBseti:
			index = imm
		}
		mask := uint64(1) << (index & w.ShiftMask())
		switch inst.Op {
		case OpBclr, OpBclri:
			set(inst.Rd, rs1&^mask)
		case OpBext, OpBexti:
			set(inst.Rd, boolToWord(rs1&mask != 0))
		case OpBinv, OpBinvi:
			set(inst.Rd, rs1^mask)
		case OpBset, OpBseti:
			set(inst.Rd, rs1|mask)
		}

	case OpWideMul, OpWideMulu, OpWideMulsu:
		var hi uint64
		switch inst.Op {
		case OpWideMul:
			hi = w.MulHigh(rs1, rs2)
		case OpWideMulu:
			hi = w.MulHighU(rs1, rs2)
		case OpWideMulsu:
			hi = w.MulHighSU(rs1, rs2)
		}
		set(inst.Rd, hi)
		set(inst.Rs3, rs1*rs2)
	case OpWideDiv:
		set(inst.Rd, w.Div(rs1, rs2))
		set(inst.Rs3, w.Rem(rs1, rs2))
	case OpWideDivu:
		set(inst.Rd, w.DivU(rs1, rs2))
		set(inst.Rs3, w.RemU(rs1, rs2))
	case OpFarJumpRel:
		set(inst.Rd, next)
		next = (pc + imm) &^ 1
	case OpFarJumpAbs:
		set(inst.Rd, next)
		next = w.Trunc(imm) &^ 1
	case OpLdSignExtended32Constant:
		set(inst.Rd, riscv.Sext32(imm))

	default:
		return TrapNone, riscv.UnexpectedError("cannot execute " + inst.Op.String())
	}
	c.pc = w.Trunc(next)
	return TrapNone, nil
}

func (c *CoreMachine) load(op Opcode, addr uint64) (uint64, error) {
	w := c.width
	switch op {
	case OpLb:
		v, err := c.mem.Load8(addr)
		return w.FromSigned(int64(int8(v))), err
	case OpLh:
		v, err := c.mem.Load16(addr)
		return w.FromSigned(int64(int16(v))), err
	case OpLw:
		v, err := c.mem.Load32(addr)
		return w.FromSigned(int64(int32(v))), err
	case OpLd:
		return c.mem.Load64(addr)
	case OpLbu:
		return c.mem.Load8(addr)
	case OpLhu:
		return c.mem.Load16(addr)
	default: // OpLwu
		return c.mem.Load32(addr)
	}
}

// atomic executes LR/SC and the AMOs. Addresses must be naturally aligned.
// Word-sized operations work on the low 32 bits and sign-extend what they load.
func (c *CoreMachine) atomic(inst Instruction, addr uint64, rs2 uint64) error {
	w := c.width
	double := false
	switch inst.Op {
	case OpLrD, OpScD, OpAmoswapD, OpAmoaddD, OpAmoxorD, OpAmoandD, OpAmoorD,
		OpAmominD, OpAmomaxD, OpAmominuD, OpAmomaxuD:
		double = true
	}
	size := uint64(4)
	if double {
		size = 8
	}
	if addr&(size-1) != 0 {
		return riscv.ErrMemPageUnalignedAccess
	}
	loadMem := func() (uint64, error) {
		if double {
			return c.mem.Load64(addr)
		}
		v, err := c.mem.Load32(addr)
		return w.FromSigned(int64(int32(v))), err
	}
	storeMem := func(v uint64) error {
		if double {
			return c.mem.Store64(addr, v)
		}
		return c.mem.Store32(addr, v)
	}

	switch inst.Op {
	case OpLrW, OpLrD:
		v, err := loadMem()
		if err != nil {
			return err
		}
		c.SetRegister(int(inst.Rd), v)
		c.SetLoadReservation(addr, true)
		return nil
	case OpScW, OpScD:
		reservation, ok := c.LoadReservation()
		c.SetLoadReservation(0, false)
		if !ok || reservation != addr {
			c.SetRegister(int(inst.Rd), 1)
			return nil
		}
		if err := storeMem(rs2); err != nil {
			return err
		}
		c.SetRegister(int(inst.Rd), 0)
		return nil
	}

	v, err := loadMem()
	if err != nil {
		return err
	}
	if !double {
		rs2 = riscv.Sext32(rs2)
		v = riscv.Sext32(v)
	}
	var out uint64
	switch inst.Op {
	case OpAmoswapW, OpAmoswapD:
		out = rs2
	case OpAmoaddW, OpAmoaddD:
		out = v + rs2
	case OpAmoxorW, OpAmoxorD:
		out = v ^ rs2
	case OpAmoandW, OpAmoandD:
		out = v & rs2
	case OpAmoorW, OpAmoorD:
		out = v | rs2
	case OpAmominW, OpAmominD:
		out = v
		if int64(rs2) < int64(v) {
			out = rs2
		}
	case OpAmomaxW, OpAmomaxD:
		out = v
		if int64(rs2) > int64(v) {
			out = rs2
		}
	case OpAmominuW, OpAmominuD:
		out = v
		if amoUnsigned(rs2, double) < amoUnsigned(v, double) {
			out = rs2
		}
	case OpAmomaxuW, OpAmomaxuD:
		out = v
		if amoUnsigned(rs2, double) > amoUnsigned(v, double) {
			out = rs2
		}
	}
	if err := storeMem(out); err != nil {
		return err
	}
	c.SetRegister(int(inst.Rd), v)
	return nil
}

func amoUnsigned(v uint64, double bool) uint64 {
	if double {
		return v
	}
	return uint64(uint32(v))
}

func boolToWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func clmul(w riscv.Width, x, y uint64) uint64 {
	var out uint64
	for i := uint64(0); i < w.Bits(); i++ {
		if (y>>i)&1 != 0 {
			out ^= x << i
		}
	}
	return out
}

func clmulh(w riscv.Width, x, y uint64) uint64 {
	var out uint64
	for i := uint64(1); i < w.Bits(); i++ {
		if (y>>i)&1 != 0 {
			out ^= x >> (w.Bits() - i)
		}
	}
	return out
}

func clmulr(w riscv.Width, x, y uint64) uint64 {
	var out uint64
	for i := uint64(0); i < w.Bits(); i++ {
		if (y>>i)&1 != 0 {
			out ^= x >> (w.Bits() - i - 1)
		}
	}
	return out
}
