package vm

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/rvsandbox/rvgo/internal/testutil"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

const allExtensions = riscv.ISAIMC | riscv.ISAB | riscv.ISAA | riscv.ISAMOP

func TestDecode(t *testing.T) {
	cases := []struct {
		raw    uint32
		expect Instruction
	}{
		{testutil.Addi(testutil.A0, testutil.Zero, -5), Instruction{Op: OpAddi, Rd: a0, Imm: -5}},
		{testutil.Lui(testutil.A0, 0x80000), Instruction{Op: OpLui, Rd: a0, Imm: -0x8000_0000}},
		{testutil.Auipc(testutil.RA, 1), Instruction{Op: OpAuipc, Rd: riscv.RegRA, Imm: 0x1000}},
		{testutil.Jal(testutil.RA, -2048), Instruction{Op: OpJal, Rd: riscv.RegRA, Imm: -2048}},
		{testutil.Jalr(testutil.Zero, testutil.RA, 0), Instruction{Op: OpJalr, Rs1: riscv.RegRA}},
		{testutil.Bne(testutil.A1, testutil.A2, -8), Instruction{Op: OpBne, Rs1: a1, Rs2: a2, Imm: -8}},
		{testutil.Sd(testutil.SP, testutil.A0, -16), Instruction{Op: OpSd, Rs1: riscv.RegSP, Rs2: a0, Imm: -16}},
		{testutil.Ld(testutil.A0, testutil.SP, 2047), Instruction{Op: OpLd, Rd: a0, Rs1: riscv.RegSP, Imm: 2047}},
		{testutil.Srai(testutil.A0, testutil.A1, 63), Instruction{Op: OpSrai, Rd: a0, Rs1: a1, Imm: 63}},
		{testutil.Mulhu(testutil.A0, testutil.A1, testutil.A2), Instruction{Op: OpMulhu, Rd: a0, Rs1: a1, Rs2: a2}},
		{testutil.Addw(testutil.A0, testutil.A1, testutil.A2), Instruction{Op: OpAddw, Rd: a0, Rs1: a1, Rs2: a2}},
		{testutil.Andn(testutil.A0, testutil.A1, testutil.A2), Instruction{Op: OpAndn, Rd: a0, Rs1: a1, Rs2: a2}},
		{testutil.Clz(testutil.A0, testutil.A1), Instruction{Op: OpClz, Rd: a0, Rs1: a1}},
		{testutil.Cpop(testutil.A0, testutil.A1), Instruction{Op: OpCpop, Rd: a0, Rs1: a1}},
		{testutil.Rev8(testutil.A0, testutil.A1), Instruction{Op: OpRev8, Rd: a0, Rs1: a1}},
		{testutil.LrD(testutil.A0, testutil.A1), Instruction{Op: OpLrD, Rd: a0, Rs1: a1}},
		{testutil.ScD(testutil.A0, testutil.A1, testutil.A2), Instruction{Op: OpScD, Rd: a0, Rs1: a1, Rs2: a2}},
		{testutil.Ecall(), Instruction{Op: OpEcall}},
		{testutil.Ebreak(), Instruction{Op: OpEbreak}},
		{testutil.Fence(), Instruction{Op: OpFence}},
	}
	for _, tc := range cases {
		t.Run(tc.expect.Op.String(), func(t *testing.T) {
			inst, err := Decode(tc.raw, 0x1000, allExtensions, riscv.W64)
			require.NoError(t, err)
			tc.expect.Length = 4
			require.Equal(t, tc.expect, inst)
		})
	}
}

func TestDecodeCompressed(t *testing.T) {
	cases := []struct {
		name   string
		raw    uint16
		expect Instruction
	}{
		{"c.li a0, 1", 0x4505, Instruction{Op: OpAddi, Rd: a0, Rs1: riscv.RegZero, Imm: 1}},
		{"c.addi a0, 1", 0x0505, Instruction{Op: OpAddi, Rd: a0, Rs1: a0, Imm: 1}},
		{"c.mv a1, a0", 0x85AA, Instruction{Op: OpAdd, Rd: a1, Rs1: riscv.RegZero, Rs2: a0}},
		{"c.add a0, a1", 0x952E, Instruction{Op: OpAdd, Rd: a0, Rs1: a0, Rs2: a1}},
		{"c.jr ra", 0x8082, Instruction{Op: OpJalr, Rd: riscv.RegZero, Rs1: riscv.RegRA}},
		{"c.ebreak", 0x9002, Instruction{Op: OpEbreak}},
		{"c.nop", 0x0001, Instruction{Op: OpAddi}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inst, err := Decode(uint32(tc.raw), 0x1000, riscv.ISAIMC, riscv.W64)
			require.NoError(t, err)
			tc.expect.Length = 2
			require.Equal(t, tc.expect, inst)
		})
	}

	reserved := []struct {
		name string
		raw  uint16
	}{
		{"c.lui with zero immediate", 0x6501},
		{"c.addi4spn with zero immediate", 0x0004},
		{"c.lwsp into x0", 0x4002},
		{"c.jr x0", 0x8002},
	}
	for _, tc := range reserved {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(uint32(tc.raw), 0x1000, riscv.ISAIMC, riscv.W64)
			requireKind(t, err, riscv.ErrInvalidOperand)
		})
	}

	t.Run("all zero", func(t *testing.T) {
		_, err := Decode(0, 0x1000, riscv.ISAIMC, riscv.W64)
		requireKind(t, err, riscv.ErrInvalidInstruction)
	})
	t.Run("high half is ignored", func(t *testing.T) {
		inst, err := Decode(0xFFFF_4505, 0x1000, riscv.ISAIMC, riscv.W64)
		require.NoError(t, err)
		require.Equal(t, OpAddi, inst.Op)
	})
}

func TestDecodeGating(t *testing.T) {
	t.Run("bit manipulation needs B", func(t *testing.T) {
		raw := testutil.Andn(testutil.A0, testutil.A1, testutil.A2)
		_, err := Decode(raw, 0, riscv.ISAIMC, riscv.W64)
		requireKind(t, err, riscv.ErrInvalidInstruction)
		_, err = Decode(raw, 0, riscv.ISAB, riscv.W64)
		require.NoError(t, err)
	})
	t.Run("atomics need A", func(t *testing.T) {
		raw := testutil.AmoaddW(testutil.A0, testutil.A1, testutil.A2)
		_, err := Decode(raw, 0, riscv.ISAIMC|riscv.ISAB, riscv.W64)
		requireKind(t, err, riscv.ErrInvalidInstruction)
		_, err = Decode(raw, 0, riscv.ISAA, riscv.W64)
		require.NoError(t, err)
	})
	t.Run("rv64 only encodings", func(t *testing.T) {
		for _, raw := range []uint32{
			testutil.Addiw(testutil.A0, testutil.A0, 1),
			testutil.Ld(testutil.A0, testutil.SP, 0),
			testutil.Sd(testutil.SP, testutil.A0, 0),
			testutil.Addw(testutil.A0, testutil.A1, testutil.A2),
		} {
			_, err := Decode(raw, 0, allExtensions, riscv.W32)
			requireKind(t, err, riscv.ErrInvalidInstruction)
		}
	})
	t.Run("rv32 shift amount", func(t *testing.T) {
		_, err := Decode(testutil.Slli(testutil.A0, testutil.A0, 31), 0, riscv.ISAIMC, riscv.W32)
		require.NoError(t, err)
		_, err = Decode(testutil.Slli(testutil.A0, testutil.A0, 32), 0x40, riscv.ISAIMC, riscv.W32)
		requireKind(t, err, riscv.ErrInvalidOperand)
		var rvErr *riscv.Error
		require.True(t, errors.As(err, &rvErr))
		require.Equal(t, uint16(32), rvErr.Operand)
		require.Equal(t, uint64(0x40), rvErr.PC)
	})
	t.Run("rv32 compressed jal", func(t *testing.T) {
		// c.jal 0 on RV32 is c.addiw with rd=0 on RV64
		inst, err := Decode(0x2001, 0, riscv.ISAIMC, riscv.W32)
		require.NoError(t, err)
		require.Equal(t, OpJal, inst.Op)
		require.Equal(t, uint8(riscv.RegRA), inst.Rd)
		_, err = Decode(0x2001, 0, riscv.ISAIMC, riscv.W64)
		requireKind(t, err, riscv.ErrInvalidOperand)
	})
}

func TestDecodeInvalidInstructionPayload(t *testing.T) {
	raw := uint32(0x0000_107F) // unused major opcode
	_, err := Decode(raw, 0x1234, allExtensions, riscv.W64)
	var rvErr *riscv.Error
	require.True(t, errors.As(err, &rvErr))
	require.Equal(t, riscv.KindInvalidInstruction, rvErr.Kind)
	require.Equal(t, uint64(0x1234), rvErr.PC)
	require.Equal(t, raw, rvErr.Instruction)
}

// Every word decodes to exactly one well-formed instruction or fails with a decode error.
func TestDecodeTotality(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))
	for _, isa := range []riscv.ISA{riscv.ISAIMC, allExtensions} {
		for _, width := range []riscv.Width{riscv.W32, riscv.W64} {
			for i := 0; i < 50_000; i++ {
				raw := rng.Uint32()
				inst, err := Decode(raw, 0x1000, isa, width)
				if err != nil {
					var rvErr *riscv.Error
					require.True(t, errors.As(err, &rvErr))
					require.Contains(t, []riscv.ErrorKind{riscv.KindInvalidInstruction, riscv.KindInvalidOperand}, rvErr.Kind)
					continue
				}
				require.NotEqual(t, OpInvalid, inst.Op, "raw %08x", raw)
				require.False(t, inst.Op.Fused())
				if raw&3 == 3 {
					require.Equal(t, uint8(4), inst.Length)
				} else {
					require.Equal(t, uint8(2), inst.Length)
				}
				again, err := Decode(raw, 0x1000, isa, width)
				require.NoError(t, err)
				require.Equal(t, inst, again)
			}
		}
	}
}
