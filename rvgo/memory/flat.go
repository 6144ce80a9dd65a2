//go:build !embedded

package memory

import (
	"encoding/binary"
)

// FlatMemory is backed by a single allocation of the full memory size.
// It is only available in hosted builds, where allocating the whole address space up front is acceptable.
type FlatMemory struct {
	data  []byte
	flags flagTable
}

var _ Memory = (*FlatMemory)(nil)

func NewFlatMemory(size uint64) (*FlatMemory, error) {
	if err := ValidateSize(size); err != nil {
		return nil, err
	}
	return &FlatMemory{
		data:  make([]byte, size),
		flags: newFlagTable(size),
	}, nil
}

func (m *FlatMemory) MemorySize() uint64 {
	return uint64(len(m.data))
}

func (m *FlatMemory) InitPages(addr uint64, size uint64, flags uint8, source []byte, offsetFromAddr uint64) error {
	if err := checkInitPages(addr, size, source, offsetFromAddr, m.MemorySize()); err != nil {
		return err
	}
	dst := m.data[addr : addr+size]
	clear(dst)
	copy(dst[offsetFromAddr:], source)
	m.flags.replace(addr, size, flags|FlagDirty)
	return nil
}

func (m *FlatMemory) FetchFlag(page uint64) (uint8, error) {
	return m.flags.fetch(page)
}

func (m *FlatMemory) SetFlag(page uint64, flag uint8) error {
	return m.flags.set(page, flag)
}

func (m *FlatMemory) ClearFlag(page uint64, flag uint8) error {
	return m.flags.clear(page, flag)
}

func (m *FlatMemory) slice(addr uint64, size uint64) ([]byte, error) {
	if err := checkRange(addr, size, m.MemorySize()); err != nil {
		return nil, err
	}
	return m.data[addr : addr+size], nil
}

func (m *FlatMemory) ExecuteLoad16(addr uint64) (uint16, error) {
	b, err := m.slice(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *FlatMemory) ExecuteLoad32(addr uint64) (uint32, error) {
	b, err := m.slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *FlatMemory) Load8(addr uint64) (uint64, error) {
	b, err := m.slice(addr, 1)
	if err != nil {
		return 0, err
	}
	return uint64(b[0]), nil
}

func (m *FlatMemory) Load16(addr uint64) (uint64, error) {
	b, err := m.slice(addr, 2)
	if err != nil {
		return 0, err
	}
	return uint64(binary.LittleEndian.Uint16(b)), nil
}

func (m *FlatMemory) Load32(addr uint64) (uint64, error) {
	b, err := m.slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return uint64(binary.LittleEndian.Uint32(b)), nil
}

func (m *FlatMemory) Load64(addr uint64) (uint64, error) {
	b, err := m.slice(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *FlatMemory) LoadBytes(addr uint64, size uint64) ([]byte, error) {
	b, err := m.slice(addr, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, b)
	return out, nil
}

func (m *FlatMemory) store(addr uint64, size uint64, fill func(b []byte)) error {
	b, err := m.slice(addr, size)
	if err != nil {
		return err
	}
	fill(b)
	m.flags.markDirty(addr, size)
	return nil
}

func (m *FlatMemory) Store8(addr uint64, value uint64) error {
	return m.store(addr, 1, func(b []byte) { b[0] = byte(value) })
}

func (m *FlatMemory) Store16(addr uint64, value uint64) error {
	return m.store(addr, 2, func(b []byte) { binary.LittleEndian.PutUint16(b, uint16(value)) })
}

func (m *FlatMemory) Store32(addr uint64, value uint64) error {
	return m.store(addr, 4, func(b []byte) { binary.LittleEndian.PutUint32(b, uint32(value)) })
}

func (m *FlatMemory) Store64(addr uint64, value uint64) error {
	return m.store(addr, 8, func(b []byte) { binary.LittleEndian.PutUint64(b, value) })
}

func (m *FlatMemory) StoreBytes(addr uint64, value []byte) error {
	return m.store(addr, uint64(len(value)), func(b []byte) { copy(b, value) })
}

func (m *FlatMemory) StoreByte(addr uint64, size uint64, value uint8) error {
	return m.store(addr, size, func(b []byte) {
		for i := range b {
			b[i] = value
		}
	})
}
