package memory

import (
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// WXorXMemory enforces page protection on top of any Memory:
// executable pages can't be written, frozen pages can't be written or re-initialized,
// and only executable pages can be fetched from.
// Flag changes only ever make a page less permissive.
type WXorXMemory struct {
	inner Memory
}

var _ Memory = (*WXorXMemory)(nil)

func NewWXorXMemory(inner Memory) *WXorXMemory {
	return &WXorXMemory{inner: inner}
}

func (m *WXorXMemory) Inner() Memory {
	return m.inner
}

func (m *WXorXMemory) MemorySize() uint64 {
	return m.inner.MemorySize()
}

func (m *WXorXMemory) InitPages(addr uint64, size uint64, flags uint8, source []byte, offsetFromAddr uint64) error {
	if addr&riscv.PageMask != 0 || size&riscv.PageMask != 0 {
		return riscv.ErrMemPageUnalignedAccess
	}
	if err := checkRange(addr, size, m.MemorySize()); err != nil {
		return err
	}
	if size > 0 {
		first, last := pageSpan(addr, size)
		for p := first; p <= last; p++ {
			flag, err := m.inner.FetchFlag(p)
			if err != nil {
				return err
			}
			if flag&FlagFrozen != 0 {
				return riscv.ErrMemWriteOnFrozenPage
			}
		}
	}
	if flags&FlagExecutable != 0 {
		flags |= FlagFrozen
	}
	return m.inner.InitPages(addr, size, flags, source, offsetFromAddr)
}

func (m *WXorXMemory) FetchFlag(page uint64) (uint8, error) {
	return m.inner.FetchFlag(page)
}

func (m *WXorXMemory) SetFlag(page uint64, flag uint8) error {
	current, err := m.inner.FetchFlag(page)
	if err != nil {
		return err
	}
	if current&FlagFrozen != 0 && flag&^FlagDirty != 0 {
		return riscv.ErrMemWriteOnFrozenPage
	}
	if flag&FlagExecutable != 0 {
		flag |= FlagFrozen
	}
	return m.inner.SetFlag(page, flag)
}

func (m *WXorXMemory) ClearFlag(page uint64, flag uint8) error {
	current, err := m.inner.FetchFlag(page)
	if err != nil {
		return err
	}
	if current&FlagFrozen != 0 && flag&(FlagFrozen|FlagExecutable) != 0 {
		return riscv.ErrMemWriteOnFrozenPage
	}
	return m.inner.ClearFlag(page, flag)
}

// checkFetch requires every page of the range to be executable.
func (m *WXorXMemory) checkFetch(addr uint64, size uint64) error {
	if err := checkRange(addr, size, m.MemorySize()); err != nil {
		return err
	}
	first, last := pageSpan(addr, size)
	for p := first; p <= last; p++ {
		flag, err := m.inner.FetchFlag(p)
		if err != nil {
			return err
		}
		if flag&FlagExecutable == 0 {
			return riscv.ErrMemOutOfBound
		}
	}
	return nil
}

// checkStore requires every page of the range to be writable, before anything is written.
func (m *WXorXMemory) checkStore(addr uint64, size uint64) error {
	if err := checkRange(addr, size, m.MemorySize()); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	first, last := pageSpan(addr, size)
	for p := first; p <= last; p++ {
		flag, err := m.inner.FetchFlag(p)
		if err != nil {
			return err
		}
		if flag&FlagExecutable != 0 {
			return riscv.ErrMemWriteOnExecutablePage
		}
		if flag&FlagFrozen != 0 {
			return riscv.ErrMemWriteOnFrozenPage
		}
	}
	return nil
}

func (m *WXorXMemory) ExecuteLoad16(addr uint64) (uint16, error) {
	if addr&1 != 0 {
		return 0, riscv.ErrMemPageUnalignedAccess
	}
	if err := m.checkFetch(addr, 2); err != nil {
		return 0, err
	}
	return m.inner.ExecuteLoad16(addr)
}

// ExecuteLoad32 rejects fetches that are not 4-byte aligned and cross a page boundary:
// callers split those into two 16-bit fetches.
func (m *WXorXMemory) ExecuteLoad32(addr uint64) (uint32, error) {
	if addr&1 != 0 {
		return 0, riscv.ErrMemPageUnalignedAccess
	}
	if addr&3 != 0 && addr&riscv.PageMask > riscv.PageSize-4 {
		return 0, riscv.ErrMemPageUnalignedAccess
	}
	if err := m.checkFetch(addr, 4); err != nil {
		return 0, err
	}
	return m.inner.ExecuteLoad32(addr)
}

func (m *WXorXMemory) Load8(addr uint64) (uint64, error) {
	return m.inner.Load8(addr)
}

func (m *WXorXMemory) Load16(addr uint64) (uint64, error) {
	return m.inner.Load16(addr)
}

func (m *WXorXMemory) Load32(addr uint64) (uint64, error) {
	return m.inner.Load32(addr)
}

func (m *WXorXMemory) Load64(addr uint64) (uint64, error) {
	return m.inner.Load64(addr)
}

func (m *WXorXMemory) LoadBytes(addr uint64, size uint64) ([]byte, error) {
	return m.inner.LoadBytes(addr, size)
}

func (m *WXorXMemory) Store8(addr uint64, value uint64) error {
	if err := m.checkStore(addr, 1); err != nil {
		return err
	}
	return m.inner.Store8(addr, value)
}

func (m *WXorXMemory) Store16(addr uint64, value uint64) error {
	if err := m.checkStore(addr, 2); err != nil {
		return err
	}
	return m.inner.Store16(addr, value)
}

func (m *WXorXMemory) Store32(addr uint64, value uint64) error {
	if err := m.checkStore(addr, 4); err != nil {
		return err
	}
	return m.inner.Store32(addr, value)
}

func (m *WXorXMemory) Store64(addr uint64, value uint64) error {
	if err := m.checkStore(addr, 8); err != nil {
		return err
	}
	return m.inner.Store64(addr, value)
}

func (m *WXorXMemory) StoreBytes(addr uint64, value []byte) error {
	if err := m.checkStore(addr, uint64(len(value))); err != nil {
		return err
	}
	return m.inner.StoreBytes(addr, value)
}

func (m *WXorXMemory) StoreByte(addr uint64, size uint64, value uint8) error {
	if err := m.checkStore(addr, size); err != nil {
		return err
	}
	return m.inner.StoreByte(addr, size, value)
}
