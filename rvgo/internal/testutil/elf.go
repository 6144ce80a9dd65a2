package testutil

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	// TextBase is where Program code is loaded.
	TextBase = 0x1000
	// DataBase is a conventional address for data segments, well away from TextBase.
	DataBase = 0x10000
)

// Segment is a PT_LOAD program header with its contents.
type Segment struct {
	Vaddr uint64
	Data  []byte
	// Memsz defaults to len(Data).
	Memsz uint64
	Flags elf.ProgFlag
}

func (s Segment) memsz() uint64 {
	if s.Memsz == 0 {
		return uint64(len(s.Data))
	}
	return s.Memsz
}

func ident(class elf.Class) [elf.EI_NIDENT]byte {
	var id [elf.EI_NIDENT]byte
	copy(id[:], elf.ELFMAG)
	id[elf.EI_CLASS] = byte(class)
	id[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	id[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	return id
}

// ELF64 builds a RISC-V ELF64 executable without sections.
func ELF64(entry uint64, segments ...Segment) []byte {
	const headerSize, phentSize = 64, 56
	var buf bytes.Buffer
	hdr := elf.Header64{
		Ident:     ident(elf.ELFCLASS64),
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: phentSize,
		Phnum:     uint16(len(segments)),
	}
	must(binary.Write(&buf, binary.LittleEndian, &hdr))
	off := uint64(headerSize + phentSize*len(segments))
	for _, s := range segments {
		must(binary.Write(&buf, binary.LittleEndian, &elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  s.memsz(),
			Align:  0x1000,
		}))
		off += uint64(len(s.Data))
	}
	for _, s := range segments {
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

// ELF32 builds a RISC-V ELF32 executable without sections.
func ELF32(entry uint32, segments ...Segment) []byte {
	const headerSize, phentSize = 52, 32
	var buf bytes.Buffer
	hdr := elf.Header32{
		Ident:     ident(elf.ELFCLASS32),
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: phentSize,
		Phnum:     uint16(len(segments)),
	}
	must(binary.Write(&buf, binary.LittleEndian, &hdr))
	off := uint32(headerSize + phentSize*len(segments))
	for _, s := range segments {
		must(binary.Write(&buf, binary.LittleEndian, &elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    off,
			Vaddr:  uint32(s.Vaddr),
			Paddr:  uint32(s.Vaddr),
			Filesz: uint32(len(s.Data)),
			Memsz:  uint32(s.memsz()),
			Flags:  uint32(s.Flags),
			Align:  0x1000,
		}))
		off += uint32(len(s.Data))
	}
	for _, s := range segments {
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

// Executable64 wraps code in an ELF64 image with a single read-execute segment at TextBase.
func Executable64(code []byte) []byte {
	return ELF64(TextBase, Segment{Vaddr: TextBase, Data: code, Flags: elf.PF_R | elf.PF_X})
}

func Executable32(code []byte) []byte {
	return ELF32(TextBase, Segment{Vaddr: TextBase, Data: code, Flags: elf.PF_R | elf.PF_X})
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
