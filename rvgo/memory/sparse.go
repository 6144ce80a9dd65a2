package memory

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

type Page [riscv.PageSize]byte

// SparseMemory only allocates pages when they are first written.
// Reading a page that was never written yields zeroes without allocating it.
type SparseMemory struct {
	size  uint64
	pages map[uint64]*Page
	flags flagTable

	// Pages are never freed. The two most recently used pages are kept out of the map,
	// which covers the common case of fetching from a code page while accessing a data page.
	lastPageKeys [2]uint64
	lastPage     [2]*Page
}

var _ Memory = (*SparseMemory)(nil)

func NewSparseMemory(size uint64) (*SparseMemory, error) {
	if err := ValidateSize(size); err != nil {
		return nil, err
	}
	return &SparseMemory{
		size:         size,
		pages:        make(map[uint64]*Page),
		flags:        newFlagTable(size),
		lastPageKeys: [2]uint64{^uint64(0), ^uint64(0)}, // no page has this index
	}, nil
}

func (m *SparseMemory) MemorySize() uint64 {
	return m.size
}

// PageCount returns the number of materialized pages.
func (m *SparseMemory) PageCount() int {
	return len(m.pages)
}

// ForEachPage visits the materialized pages in ascending order.
func (m *SparseMemory) ForEachPage(fn func(pageIndex uint64, page *Page) error) error {
	keys := make([]uint64, 0, len(m.pages))
	for k := range m.pages {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if err := fn(k, m.pages[k]); err != nil {
			return err
		}
	}
	return nil
}

// pageLookup finds a materialized page. Missing pages are not remembered,
// so a later allocation is always seen.
func (m *SparseMemory) pageLookup(pageIndex uint64) (*Page, bool) {
	for i, key := range m.lastPageKeys {
		if key == pageIndex {
			return m.lastPage[i], true
		}
	}
	p, ok := m.pages[pageIndex]
	if ok {
		m.lastPageKeys[1], m.lastPage[1] = m.lastPageKeys[0], m.lastPage[0]
		m.lastPageKeys[0], m.lastPage[0] = pageIndex, p
	}
	return p, ok
}

func (m *SparseMemory) allocPage(pageIndex uint64) *Page {
	p := new(Page)
	m.pages[pageIndex] = p
	return p
}

// read copies len(dest) bytes starting at an in-bounds addr, across pages.
func (m *SparseMemory) read(addr uint64, dest []byte) {
	for len(dest) > 0 {
		pageAddr := addr & riscv.PageMask
		var n int
		if p, ok := m.pageLookup(addr >> riscv.PageShift); ok {
			n = copy(dest, p[pageAddr:])
		} else {
			n = len(dest)
			if l := int(riscv.PageSize - pageAddr); l < n {
				n = l
			}
			clear(dest[:n])
		}
		dest = dest[n:]
		addr += uint64(n)
	}
}

// fill writes size bytes starting at an in-bounds addr, taking the data from src,
// or repeating value when src is nil. Zero-filling a missing page does not allocate it.
func (m *SparseMemory) fill(addr uint64, size uint64, src []byte, value uint8) {
	for size > 0 {
		pageIndex := addr >> riscv.PageShift
		pageAddr := addr & riscv.PageMask
		n := riscv.PageSize - pageAddr
		if n > size {
			n = size
		}
		p, ok := m.pageLookup(pageIndex)
		if !ok {
			if src == nil && value == 0 {
				addr += n
				size -= n
				continue
			}
			p = m.allocPage(pageIndex)
		}
		chunk := p[pageAddr : pageAddr+n]
		if src != nil {
			copy(chunk, src[:n])
			src = src[n:]
		} else {
			for i := range chunk {
				chunk[i] = value
			}
		}
		addr += n
		size -= n
	}
}

func (m *SparseMemory) InitPages(addr uint64, size uint64, flags uint8, source []byte, offsetFromAddr uint64) error {
	if err := checkInitPages(addr, size, source, offsetFromAddr, m.size); err != nil {
		return err
	}
	m.fill(addr, offsetFromAddr, nil, 0)
	m.fill(addr+offsetFromAddr, uint64(len(source)), source, 0)
	tail := offsetFromAddr + uint64(len(source))
	m.fill(addr+tail, size-tail, nil, 0)
	m.flags.replace(addr, size, flags|FlagDirty)
	return nil
}

func (m *SparseMemory) FetchFlag(page uint64) (uint8, error) {
	return m.flags.fetch(page)
}

func (m *SparseMemory) SetFlag(page uint64, flag uint8) error {
	return m.flags.set(page, flag)
}

func (m *SparseMemory) ClearFlag(page uint64, flag uint8) error {
	return m.flags.clear(page, flag)
}

func (m *SparseMemory) load(addr uint64, size uint64) (uint64, error) {
	if err := checkRange(addr, size, m.size); err != nil {
		return 0, err
	}
	var buf [8]byte
	m.read(addr, buf[:size])
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *SparseMemory) ExecuteLoad16(addr uint64) (uint16, error) {
	v, err := m.load(addr, 2)
	return uint16(v), err
}

func (m *SparseMemory) ExecuteLoad32(addr uint64) (uint32, error) {
	v, err := m.load(addr, 4)
	return uint32(v), err
}

func (m *SparseMemory) Load8(addr uint64) (uint64, error) {
	return m.load(addr, 1)
}

func (m *SparseMemory) Load16(addr uint64) (uint64, error) {
	return m.load(addr, 2)
}

func (m *SparseMemory) Load32(addr uint64) (uint64, error) {
	return m.load(addr, 4)
}

func (m *SparseMemory) Load64(addr uint64) (uint64, error) {
	return m.load(addr, 8)
}

func (m *SparseMemory) LoadBytes(addr uint64, size uint64) ([]byte, error) {
	if err := checkRange(addr, size, m.size); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	m.read(addr, out)
	return out, nil
}

func (m *SparseMemory) store(addr uint64, size uint64, value uint64) error {
	if err := checkRange(addr, size, m.size); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	m.fill(addr, size, buf[:size], 0)
	m.flags.markDirty(addr, size)
	return nil
}

func (m *SparseMemory) Store8(addr uint64, value uint64) error {
	return m.store(addr, 1, value)
}

func (m *SparseMemory) Store16(addr uint64, value uint64) error {
	return m.store(addr, 2, value)
}

func (m *SparseMemory) Store32(addr uint64, value uint64) error {
	return m.store(addr, 4, value)
}

func (m *SparseMemory) Store64(addr uint64, value uint64) error {
	return m.store(addr, 8, value)
}

func (m *SparseMemory) StoreBytes(addr uint64, value []byte) error {
	size := uint64(len(value))
	if err := checkRange(addr, size, m.size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	m.fill(addr, size, value, 0)
	m.flags.markDirty(addr, size)
	return nil
}

func (m *SparseMemory) StoreByte(addr uint64, size uint64, value uint8) error {
	if err := checkRange(addr, size, m.size); err != nil {
		return err
	}
	m.fill(addr, size, nil, value)
	m.flags.markDirty(addr, size)
	return nil
}

type memReader struct {
	m     *SparseMemory
	addr  uint64
	count uint64
}

func (r *memReader) Read(dest []byte) (n int, err error) {
	if r.count == 0 {
		return 0, io.EOF
	}
	if uint64(len(dest)) > r.count {
		dest = dest[:r.count]
	}
	r.m.read(r.addr, dest)
	r.addr += uint64(len(dest))
	r.count -= uint64(len(dest))
	return len(dest), nil
}

// ReadMemoryRange returns a reader over an in-bounds range of memory.
func (m *SparseMemory) ReadMemoryRange(addr uint64, count uint64) (io.Reader, error) {
	if err := checkRange(addr, count, m.size); err != nil {
		return nil, err
	}
	return &memReader{m: m, addr: addr, count: count}, nil
}

// Usage formats the size of the materialized pages in binary units, e.g. "4.0 KiB".
func (m *SparseMemory) Usage() string {
	total := uint64(len(m.pages)) * riscv.PageSize
	if total < 1024 {
		return fmt.Sprintf("%d B", total)
	}
	size := float64(total) / 1024
	units := []string{"KiB", "MiB", "GiB", "TiB"}
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}
