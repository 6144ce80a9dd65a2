package testutil

import (
	"encoding/binary"
)

// Program accumulates machine code, mixing 32-bit and compressed 16-bit instructions.
type Program struct {
	code []byte
}

func (p *Program) Emit(insns ...uint32) *Program {
	for _, insn := range insns {
		p.code = binary.LittleEndian.AppendUint32(p.code, insn)
	}
	return p
}

func (p *Program) EmitAll(groups ...[]uint32) *Program {
	for _, g := range groups {
		p.Emit(g...)
	}
	return p
}

func (p *Program) Emit16(insns ...uint16) *Program {
	for _, insn := range insns {
		p.code = binary.LittleEndian.AppendUint16(p.code, insn)
	}
	return p
}

// Exit emits the exit syscall with the given code.
func (p *Program) Exit(code int32) *Program {
	return p.Emit(Addi(A0, Zero, code), Addi(A7, Zero, 93), Ecall())
}

// Len is the offset of the next instruction from the start of the program.
func (p *Program) Len() int {
	return len(p.code)
}

func (p *Program) Bytes() []byte {
	return p.code
}

func (p *Program) ELF64() []byte {
	return Executable64(p.code)
}

func (p *Program) ELF32() []byte {
	return Executable32(p.code)
}
