package vm

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// Segment is a loadable part of a program image.
// Data may be shorter than Size, the remainder is zero-filled.
type Segment struct {
	Addr uint64
	Size uint64
	Data []byte
	Perm memory.Permission
}

// Image is a parsed program, ready to be mapped into memory.
type Image struct {
	Entry    uint64
	Segments []Segment
	Width    riscv.Width
	Symbols  SortedSymbols
}

// ParseELF extracts the loadable segments of a RISC-V ELF executable of the given width.
func ParseELF(program []byte, width riscv.Width) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(program))
	if err != nil {
		return nil, riscv.ElfParseError(err)
	}
	defer f.Close()

	switch {
	case f.Class == elf.ELFCLASS64 && width == riscv.W64, f.Class == elf.ELFCLASS32 && width == riscv.W32:
	default:
		return nil, fmt.Errorf("ELF class %s on a %s machine: %w", f.Class, width, riscv.ErrElfBits)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, riscv.ElfParseError(fmt.Errorf("unexpected machine %s", f.Machine))
	}

	out := &Image{Entry: f.Entry, Width: width}
	for i, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			// RISC-V reuses the MIPS_ABIFLAGS program type for the `.riscv.attributes` section,
			// which has no memory size and is never loaded.
			continue
		}
		if prog.Filesz > prog.Memsz {
			return nil, fmt.Errorf("invalid PT_LOAD program segment %d, file size (%d) > mem size (%d): %w",
				i, prog.Filesz, prog.Memsz, riscv.ErrElfSegmentAddrOrSize)
		}
		data, err := io.ReadAll(io.NewSectionReader(prog, 0, int64(prog.Filesz)))
		if err != nil {
			return nil, riscv.ElfParseError(fmt.Errorf("failed to read program segment %d: %w", i, err))
		}
		out.Segments = append(out.Segments, Segment{
			Addr: prog.Vaddr,
			Size: prog.Memsz,
			Data: data,
			Perm: memory.Permission{
				Read:    prog.Flags&elf.PF_R != 0,
				Write:   prog.Flags&elf.PF_W != 0,
				Execute: prog.Flags&elf.PF_X != 0,
			},
		})
	}

	// symbols are only used for diagnostics, stripped binaries are fine
	if symbols, err := Symbols(f); err == nil {
		out.Symbols = symbols
	} else if !errors.Is(err, elf.ErrNoSymbols) {
		return nil, riscv.ElfParseError(err)
	}
	return out, nil
}

type mappedSegment struct {
	start, size, padding uint64
	flags                uint8
}

// LoadImage maps every segment into memory and moves the pc to the entry point.
// All segments are validated before memory is touched. Instructions decoded from
// earlier images are dropped.
func (m *DefaultMachine) LoadImage(img *Image) error {
	if img.Width != m.Width() {
		return fmt.Errorf("%s image on a %s machine: %w", img.Width, m.Width(), riscv.ErrElfBits)
	}
	memSize := m.Memory().MemorySize()
	mapped := make([]mappedSegment, 0, len(img.Segments))
	for i, seg := range img.Segments {
		flags, err := seg.Perm.Flags()
		if err != nil {
			return fmt.Errorf("segment %d at %#x: %w", i, seg.Addr, err)
		}
		if uint64(len(seg.Data)) > seg.Size || seg.Size == 0 {
			return fmt.Errorf("segment %d at %#x: %w", i, seg.Addr, riscv.ErrElfSegmentAddrOrSize)
		}
		start := seg.Addr &^ riscv.PageMask
		padding := seg.Addr - start
		end := seg.Addr + seg.Size
		if end < seg.Addr || end > memSize {
			return fmt.Errorf("segment %d at %#x with size %d: %w", i, seg.Addr, seg.Size, riscv.ErrElfSegmentAddrOrSize)
		}
		size := (seg.Size + padding + riscv.PageMask) &^ riscv.PageMask
		for j, prev := range mapped {
			if start < prev.start+prev.size && prev.start < start+size {
				return fmt.Errorf("segment %d shares pages with segment %d: %w", i, j, riscv.ErrElfSegmentAddrOrSize)
			}
		}
		mapped = append(mapped, mappedSegment{start: start, size: size, padding: padding, flags: flags})
	}
	for i, seg := range mapped {
		if err := m.Memory().InitPages(seg.start, seg.size, seg.flags, img.Segments[i].Data, seg.padding); err != nil {
			return fmt.Errorf("failed to load segment %d: %w", i, err)
		}
	}
	m.ResetDecoder()
	m.SetPC(img.Entry)
	return nil
}

// InitializeStack zeroes the stack region [start, start+size), places the arguments on it
// and points sp at argc.
// From low to high addresses the stack holds argc, the argv pointers, and the NUL-terminated
// argument strings, first argument highest. Version 1 terminates argv with a null pointer and
// keeps sp 16-byte aligned.
func (m *DefaultMachine) InitializeStack(args [][]byte, start uint64, size uint64) error {
	end := start + size
	if end < start || end > m.Memory().MemorySize() {
		return fmt.Errorf("stack at %#x with size %d: %w", start, size, riscv.ErrMemOutOfBound)
	}
	wordSize := m.Width().Bytes()
	v1 := m.Version() >= riscv.Version1

	// lay out everything before writing, so a stack that is too small is left untouched
	sp := end
	values := make([]uint64, 0, len(args)+2)
	values = append(values, uint64(len(args)))
	for _, arg := range args {
		n := uint64(len(arg)) + 1
		if sp-start < n {
			return riscv.ErrMemOutOfStack
		}
		sp -= n
		values = append(values, sp)
	}
	if v1 {
		values = append(values, 0)
		sp &^= 15
	}
	need := uint64(len(values)) * wordSize
	if sp < start || sp-start < need {
		return riscv.ErrMemOutOfStack
	}
	sp -= need
	if v1 {
		sp &^= 15
	}
	if sp < start {
		return riscv.ErrMemOutOfStack
	}

	mem := m.Memory()
	if err := mem.StoreByte(start, size, 0); err != nil {
		return fmt.Errorf("failed to clear stack: %w", err)
	}
	for i, arg := range args {
		// the NUL terminator comes from the cleared stack
		if err := mem.StoreBytes(values[i+1], arg); err != nil {
			return fmt.Errorf("failed to write argument %d: %w", i, err)
		}
	}
	for i, v := range values {
		addr := sp + uint64(i)*wordSize
		var err error
		if m.Width() == riscv.W64 {
			err = mem.Store64(addr, v)
		} else {
			err = mem.Store32(addr, v)
		}
		if err != nil {
			return fmt.Errorf("failed to write argv: %w", err)
		}
	}
	m.SetRegister(riscv.RegSP, sp)
	m.SetStackRegion(start, size)
	return nil
}

// StackSize returns the stack size used by LoadProgram for a memory of the given size:
// riscv.DefaultStackSize, capped at a quarter of memory.
func StackSize(memorySize uint64) uint64 {
	size := uint64(riscv.DefaultStackSize)
	if quarter := (memorySize / 4) &^ riscv.PageMask; quarter < size {
		size = quarter
	}
	if size < riscv.PageSize {
		size = riscv.PageSize
	}
	return size
}

// LoadProgram parses and loads an ELF program, and places the arguments on a stack
// at the top of memory.
func (m *DefaultMachine) LoadProgram(program []byte, args [][]byte) error {
	img, err := ParseELF(program, m.Width())
	if err != nil {
		return err
	}
	if err := m.LoadImage(img); err != nil {
		return err
	}
	m.symbols = img.Symbols
	memSize := m.Memory().MemorySize()
	stackSize := StackSize(memSize)
	if stackSize > memSize {
		return riscv.ErrMemOutOfStack
	}
	return m.InitializeStack(args, memSize-stackSize, stackSize)
}

// SortedSymbols is a list of ELF symbols ordered by address.
type SortedSymbols []elf.Symbol

// FindSymbol finds the symbol that intersects with the given addr, or nil if none exists
func (s SortedSymbols) FindSymbol(addr uint64) elf.Symbol {
	// find first symbol with higher start. Or n if no such symbol exists
	i := sort.Search(len(s), func(i int) bool {
		return s[i].Value > addr
	})
	if i == 0 {
		return elf.Symbol{Name: "!start", Value: 0}
	}
	out := &s[i-1]
	if out.Value+out.Size < addr { // addr may be pointing to a gap between symbols
		return elf.Symbol{Name: "!gap", Value: addr}
	}
	return *out
}

func Symbols(f *elf.File) (SortedSymbols, error) {
	symbols, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols data: %w", err)
	}
	// Not every ELF has sorted symbols.
	out := make(SortedSymbols, len(symbols))
	copy(out, symbols)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Value < out[j].Value
	})
	return out, nil
}
