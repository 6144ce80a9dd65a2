// Package testutil assembles RISC-V instructions and ELF images for tests.
package testutil

const (
	opLoad   = 0b000_0011
	opImm    = 0b001_0011
	opAuipc  = 0b001_0111
	opImm32  = 0b001_1011
	opStore  = 0b010_0011
	opAmo    = 0b010_1111
	opReg    = 0b011_0011
	opLui    = 0b011_0111
	opReg32  = 0b011_1011
	opBranch = 0b110_0011
	opJalr   = 0b110_0111
	opJal    = 0b110_1111
	opSystem = 0b111_0011
)

// Registers used by tests, by ABI name.
const (
	Zero = 0
	RA   = 1
	SP   = 2
	T0   = 5
	T1   = 6
	T2   = 7
	A0   = 10
	A1   = 11
	A2   = 12
	A3   = 13
	A7   = 17
	S2   = 18
	S3   = 19
)

func RType(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func IType(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func SType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1F)<<7 | opcode
}

func BType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 | funct3<<12 |
		(u>>1&0xF)<<8 | (u>>11&1)<<7 | opcode
}

// UType takes the 20-bit upper immediate, before it is shifted into place.
func UType(opcode, rd uint32, imm20 int32) uint32 {
	return uint32(imm20)<<12 | rd<<7 | opcode
}

func JType(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 | (u>>12&0xFF)<<12 | rd<<7 | opcode
}

func Lui(rd uint32, imm20 int32) uint32   { return UType(opLui, rd, imm20) }
func Auipc(rd uint32, imm20 int32) uint32 { return UType(opAuipc, rd, imm20) }
func Jal(rd uint32, offset int32) uint32  { return JType(opJal, rd, offset) }
func Jalr(rd, rs1 uint32, imm int32) uint32 {
	return IType(opJalr, rd, 0, rs1, imm)
}

func Beq(rs1, rs2 uint32, offset int32) uint32 { return BType(opBranch, 0, rs1, rs2, offset) }
func Bne(rs1, rs2 uint32, offset int32) uint32 { return BType(opBranch, 1, rs1, rs2, offset) }
func Blt(rs1, rs2 uint32, offset int32) uint32 { return BType(opBranch, 4, rs1, rs2, offset) }

func Lb(rd, rs1 uint32, imm int32) uint32 { return IType(opLoad, rd, 0, rs1, imm) }
func Lw(rd, rs1 uint32, imm int32) uint32 { return IType(opLoad, rd, 2, rs1, imm) }
func Ld(rd, rs1 uint32, imm int32) uint32 { return IType(opLoad, rd, 3, rs1, imm) }
func Lbu(rd, rs1 uint32, imm int32) uint32 {
	return IType(opLoad, rd, 4, rs1, imm)
}

func Sb(rs1, rs2 uint32, imm int32) uint32 { return SType(opStore, 0, rs1, rs2, imm) }
func Sw(rs1, rs2 uint32, imm int32) uint32 { return SType(opStore, 2, rs1, rs2, imm) }
func Sd(rs1, rs2 uint32, imm int32) uint32 { return SType(opStore, 3, rs1, rs2, imm) }

func Addi(rd, rs1 uint32, imm int32) uint32  { return IType(opImm, rd, 0, rs1, imm) }
func Addiw(rd, rs1 uint32, imm int32) uint32 { return IType(opImm32, rd, 0, rs1, imm) }
func Andi(rd, rs1 uint32, imm int32) uint32  { return IType(opImm, rd, 7, rs1, imm) }
func Slli(rd, rs1, shamt uint32) uint32      { return IType(opImm, rd, 1, rs1, int32(shamt)) }
func Srai(rd, rs1, shamt uint32) uint32 {
	return IType(opImm, rd, 5, rs1, int32(0b0100000<<5|shamt))
}

func Add(rd, rs1, rs2 uint32) uint32  { return RType(opReg, rd, 0, rs1, rs2, 0) }
func Sub(rd, rs1, rs2 uint32) uint32  { return RType(opReg, rd, 0, rs1, rs2, 0b0100000) }
func Addw(rd, rs1, rs2 uint32) uint32 { return RType(opReg32, rd, 0, rs1, rs2, 0) }

func Mul(rd, rs1, rs2 uint32) uint32    { return RType(opReg, rd, 0, rs1, rs2, 1) }
func Mulh(rd, rs1, rs2 uint32) uint32   { return RType(opReg, rd, 1, rs1, rs2, 1) }
func Mulhsu(rd, rs1, rs2 uint32) uint32 { return RType(opReg, rd, 2, rs1, rs2, 1) }
func Mulhu(rd, rs1, rs2 uint32) uint32  { return RType(opReg, rd, 3, rs1, rs2, 1) }
func Div(rd, rs1, rs2 uint32) uint32    { return RType(opReg, rd, 4, rs1, rs2, 1) }
func Divu(rd, rs1, rs2 uint32) uint32   { return RType(opReg, rd, 5, rs1, rs2, 1) }
func Rem(rd, rs1, rs2 uint32) uint32    { return RType(opReg, rd, 6, rs1, rs2, 1) }
func Remu(rd, rs1, rs2 uint32) uint32   { return RType(opReg, rd, 7, rs1, rs2, 1) }

// Andn, Clz, Cpop and Rev8 are from the bit-manipulation extensions.
func Andn(rd, rs1, rs2 uint32) uint32 { return RType(opReg, rd, 7, rs1, rs2, 0b0100000) }
func Clz(rd, rs1 uint32) uint32       { return IType(opImm, rd, 1, rs1, 0b0110000_00000) }
func Cpop(rd, rs1 uint32) uint32      { return IType(opImm, rd, 1, rs1, 0b0110000_00010) }
func Rev8(rd, rs1 uint32) uint32      { return IType(opImm, rd, 5, rs1, 0b0110101_11000) }

func LrD(rd, rs1 uint32) uint32      { return RType(opAmo, rd, 3, rs1, 0, 0b00010<<2) }
func ScD(rd, rs1, rs2 uint32) uint32 { return RType(opAmo, rd, 3, rs1, rs2, 0b00011<<2) }
func AmoaddW(rd, rs1, rs2 uint32) uint32 {
	return RType(opAmo, rd, 2, rs1, rs2, 0)
}

func Ecall() uint32  { return IType(opSystem, 0, 0, 0, 0) }
func Ebreak() uint32 { return IType(opSystem, 0, 0, 0, 1) }
func Fence() uint32  { return IType(0b000_1111, 0, 0, 0, 0x0FF) }

// Li loads a signed 32-bit constant with lui+addi, or addi alone when it fits.
func Li(rd uint32, v int32) []uint32 {
	if v >= -2048 && v < 2048 {
		return []uint32{Addi(rd, Zero, v)}
	}
	lo := v << 20 >> 20
	hi := (v - lo) >> 12
	return []uint32{Lui(rd, hi), Addiw(rd, rd, lo)}
}
