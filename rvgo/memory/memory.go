package memory

import (
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// Page flags. A page is writable when it is neither executable nor frozen,
// so write-xor-execute holds by construction.
const (
	FlagExecutable uint8 = 1 << 0
	FlagFrozen     uint8 = 1 << 1
	FlagDirty      uint8 = 1 << 2
)

// Memory is the page-protected address space of a machine.
// Implementations must be byte-addressable little-endian storage of MemorySize bytes,
// and must reject any access outside of it with riscv.ErrMemOutOfBound without side effects.
type Memory interface {
	// InitPages (re)initializes whole pages: the range is zeroed, source is copied to addr+offsetFromAddr,
	// and every page in the range gets the given flags.
	InitPages(addr uint64, size uint64, flags uint8, source []byte, offsetFromAddr uint64) error
	FetchFlag(page uint64) (uint8, error)
	SetFlag(page uint64, flag uint8) error
	ClearFlag(page uint64, flag uint8) error
	MemorySize() uint64

	ExecuteLoad16(addr uint64) (uint16, error)
	ExecuteLoad32(addr uint64) (uint32, error)

	Load8(addr uint64) (uint64, error)
	Load16(addr uint64) (uint64, error)
	Load32(addr uint64) (uint64, error)
	Load64(addr uint64) (uint64, error)
	LoadBytes(addr uint64, size uint64) ([]byte, error)

	Store8(addr uint64, value uint64) error
	Store16(addr uint64, value uint64) error
	Store32(addr uint64, value uint64) error
	Store64(addr uint64, value uint64) error
	StoreBytes(addr uint64, value []byte) error
	// StoreByte fills size bytes starting at addr with value.
	StoreByte(addr uint64, size uint64, value uint8) error
}

// Permission is the access requested for a loaded segment.
type Permission struct {
	Read    bool
	Write   bool
	Execute bool
}

// Flags converts a segment permission into page flags.
// Code is frozen as soon as it is loaded, and so is read-only data.
func (p Permission) Flags() (uint8, error) {
	switch {
	case !p.Read:
		return 0, riscv.ErrElfSegmentUnreadable
	case p.Write && p.Execute:
		return 0, riscv.ErrElfSegmentWritableAndExecutable
	case p.Execute:
		return FlagExecutable | FlagFrozen, nil
	case p.Write:
		return 0, nil
	default:
		return FlagFrozen, nil
	}
}

func Writable(flag uint8) bool {
	return flag&(FlagExecutable|FlagFrozen) == 0
}

// ValidateSize checks that size is usable as a memory size.
func ValidateSize(size uint64) error {
	if size == 0 || size > riscv.MaxMemorySize {
		return riscv.ErrMemOutOfBound
	}
	if size%riscv.PageSize != 0 {
		return riscv.ErrMemPageUnalignedAccess
	}
	return nil
}

// PageCount returns the number of pages of a memory of the given size.
func PageCount(size uint64) uint64 {
	return size >> riscv.PageShift
}

func checkRange(addr uint64, size uint64, memorySize uint64) error {
	end := addr + size
	if end < addr || end > memorySize {
		return riscv.ErrMemOutOfBound
	}
	return nil
}

// pageSpan returns the first and last page touched by a non-empty range.
func pageSpan(addr uint64, size uint64) (first uint64, last uint64) {
	return addr >> riscv.PageShift, (addr + size - 1) >> riscv.PageShift
}

func checkInitPages(addr uint64, size uint64, source []byte, offsetFromAddr uint64, memorySize uint64) error {
	if err := checkRange(addr, size, memorySize); err != nil {
		return err
	}
	if offsetFromAddr > size || uint64(len(source)) > size-offsetFromAddr {
		return riscv.ErrMemOutOfBound
	}
	return nil
}

type flagTable []uint8

func newFlagTable(memorySize uint64) flagTable {
	return make(flagTable, PageCount(memorySize))
}

func (t flagTable) fetch(page uint64) (uint8, error) {
	if page >= uint64(len(t)) {
		return 0, riscv.ErrMemOutOfBound
	}
	return t[page], nil
}

func (t flagTable) set(page uint64, flag uint8) error {
	if page >= uint64(len(t)) {
		return riscv.ErrMemOutOfBound
	}
	t[page] |= flag
	return nil
}

func (t flagTable) clear(page uint64, flag uint8) error {
	if page >= uint64(len(t)) {
		return riscv.ErrMemOutOfBound
	}
	t[page] &^= flag
	return nil
}

// replace sets the flags of every page of a non-empty, in-bounds range.
func (t flagTable) replace(addr uint64, size uint64, flag uint8) {
	if size == 0 {
		return
	}
	first, last := pageSpan(addr, size)
	for p := first; p <= last; p++ {
		t[p] = flag
	}
}

func (t flagTable) markDirty(addr uint64, size uint64) {
	if size == 0 {
		return
	}
	first, last := pageSpan(addr, size)
	for p := first; p <= last; p++ {
		t[p] |= FlagDirty
	}
}
