package riscv

import (
	"math"

	"github.com/holiman/uint256"
)

// Width is the machine word width (XLEN) in bits.
// Register values are kept in a uint64, truncated to the width,
// so a W32 register never has any of its upper 32 bits set.
type Width uint8

const (
	W32 Width = 32
	W64 Width = 64
)

func (w Width) Valid() bool {
	return w == W32 || w == W64
}

func (w Width) String() string {
	if w == W32 {
		return "rv32"
	}
	return "rv64"
}

func (w Width) Bits() uint64 {
	return uint64(w)
}

func (w Width) Bytes() uint64 {
	return uint64(w) / 8
}

// Mask is the all-ones word.
func (w Width) Mask() uint64 {
	if w == W32 {
		return math.MaxUint32
	}
	return math.MaxUint64
}

// ShiftMask selects the shift amount bits of a register operand: 5 bits in RV32, 6 in RV64.
func (w Width) ShiftMask() uint64 {
	return w.Bits() - 1
}

func (w Width) Trunc(v uint64) uint64 {
	return v & w.Mask()
}

// Signed interprets the low width bits of v as a two's complement integer.
func (w Width) Signed(v uint64) int64 {
	sh := 64 - w.Bits()
	return int64(v<<sh) >> sh
}

// FromSigned truncates a signed value into a register value.
func (w Width) FromSigned(v int64) uint64 {
	return w.Trunc(uint64(v))
}

func (w Width) minSigned() int64 {
	return -1 << (w.Bits() - 1)
}

func (w Width) Slt(x, y uint64) bool {
	return w.Signed(x) < w.Signed(y)
}

func (w Width) Sll(x, shamt uint64) uint64 {
	return w.Trunc(x << (shamt & w.ShiftMask()))
}

func (w Width) Srl(x, shamt uint64) uint64 {
	return w.Trunc(x) >> (shamt & w.ShiftMask())
}

func (w Width) Sra(x, shamt uint64) uint64 {
	return w.FromSigned(w.Signed(x) >> (shamt & w.ShiftMask()))
}

func (w Width) Rol(x, shamt uint64) uint64 {
	shamt &= w.ShiftMask()
	x = w.Trunc(x)
	if shamt == 0 {
		return x
	}
	return w.Trunc(x<<shamt | x>>(w.Bits()-shamt))
}

func (w Width) Ror(x, shamt uint64) uint64 {
	return w.Rol(x, (w.Bits()-(shamt&w.ShiftMask()))&w.ShiftMask())
}

// Div is signed division with RISC-V semantics:
// division by zero yields all ones, and overflow yields the dividend.
func (w Width) Div(x, y uint64) uint64 {
	sx, sy := w.Signed(x), w.Signed(y)
	switch {
	case sy == 0:
		return w.Mask()
	case sx == w.minSigned() && sy == -1:
		return w.Trunc(x)
	default:
		return w.FromSigned(sx / sy)
	}
}

func (w Width) DivU(x, y uint64) uint64 {
	x, y = w.Trunc(x), w.Trunc(y)
	if y == 0 {
		return w.Mask()
	}
	return x / y
}

func (w Width) Rem(x, y uint64) uint64 {
	sx, sy := w.Signed(x), w.Signed(y)
	switch {
	case sy == 0:
		return w.Trunc(x)
	case sx == w.minSigned() && sy == -1:
		return 0
	default:
		return w.FromSigned(sx % sy)
	}
}

func (w Width) RemU(x, y uint64) uint64 {
	x, y = w.Trunc(x), w.Trunc(y)
	if y == 0 {
		return x
	}
	return x % y
}

// MulHigh returns the upper word of the signed x signed product.
func (w Width) MulHigh(x, y uint64) uint64 {
	if w == W32 {
		return w.FromSigned((w.Signed(x) * w.Signed(y)) >> 32)
	}
	return u256ToU64(new(uint256.Int).Rsh(new(uint256.Int).Mul(signExtendTo256(x), signExtendTo256(y)), 64))
}

// MulHighSU returns the upper word of the signed x unsigned product.
func (w Width) MulHighSU(x, y uint64) uint64 {
	if w == W32 {
		return w.FromSigned((w.Signed(x) * int64(w.Trunc(y))) >> 32)
	}
	return u256ToU64(new(uint256.Int).Rsh(new(uint256.Int).Mul(signExtendTo256(x), uint256.NewInt(y)), 64))
}

// MulHighU returns the upper word of the unsigned x unsigned product.
func (w Width) MulHighU(x, y uint64) uint64 {
	if w == W32 {
		return (w.Trunc(x) * w.Trunc(y)) >> 32
	}
	return u256ToU64(new(uint256.Int).Rsh(new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(y)), 64))
}

func signExtendTo256(v uint64) *uint256.Int {
	out := new(uint256.Int).SetUint64(v)
	if v&(1<<63) == 0 {
		return out
	}
	ones := new(uint256.Int).Not(new(uint256.Int))
	return out.Or(out, ones.Lsh(ones, 64))
}

func u256ToU64(v *uint256.Int) uint64 {
	return v.Uint64()
}

// SignExtend extends bit `bit` of v into all higher bits.
func SignExtend(v uint64, bit uint64) uint64 {
	sh := 63 - bit
	return uint64(int64(v<<sh) >> sh)
}

// Sext32 sign-extends the low 32 bits of v to 64 bits, as the RV64 *W instructions do.
func Sext32(v uint64) uint64 {
	return uint64(int64(int32(uint32(v))))
}
