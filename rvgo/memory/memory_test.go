//go:build !embedded

package memory

import (
	"bytes"
	"crypto/rand"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

const testMemorySize = 64 * riscv.PageSize

func newFlatBacking(t *testing.T, size uint64) Memory {
	m, err := NewFlatMemory(size)
	require.NoError(t, err)
	return m
}

var backings = []backing{
	{"flat", newFlatBacking},
	{"sparse", newSparseBacking},
	{"wxorx-sparse", func(t *testing.T, size uint64) Memory {
		return NewWXorXMemory(newSparseBacking(t, size))
	}},
	{"wxorx-flat", func(t *testing.T, size uint64) Memory {
		return NewWXorXMemory(newFlatBacking(t, size))
	}},
}

func init() {
	wxorxInners = append(wxorxInners, backing{"flat", newFlatBacking})
}

// forEachBacking runs the same behavioral test against every memory implementation.
func forEachBacking(t *testing.T, fn func(t *testing.T, m Memory)) {
	for _, b := range backings {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.new(t, testMemorySize))
		})
	}
}

func TestMemoryReadWrite(t *testing.T) {
	forEachBacking(t, func(t *testing.T, m Memory) {
		t.Run("sized", func(t *testing.T) {
			require.NoError(t, m.Store64(0x100, 0x1122_3344_5566_7788))
			v, err := m.Load64(0x100)
			require.NoError(t, err)
			require.Equal(t, uint64(0x1122_3344_5566_7788), v)
			v, err = m.Load32(0x104)
			require.NoError(t, err)
			require.Equal(t, uint64(0x1122_3344), v)
			v, err = m.Load16(0x100)
			require.NoError(t, err)
			require.Equal(t, uint64(0x7788), v)
			v, err = m.Load8(0x107)
			require.NoError(t, err)
			require.Equal(t, uint64(0x11), v)
		})

		t.Run("unaligned across pages", func(t *testing.T) {
			addr := uint64(3*riscv.PageSize - 3)
			require.NoError(t, m.Store64(addr, 0xAABB_CCDD_EEFF_0011))
			v, err := m.Load64(addr)
			require.NoError(t, err)
			require.Equal(t, uint64(0xAABB_CCDD_EEFF_0011), v)
			b, err := m.LoadBytes(addr, 8)
			require.NoError(t, err)
			require.Equal(t, []byte{0x11, 0x00, 0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}, b)
		})

		t.Run("untouched memory is zero", func(t *testing.T) {
			v, err := m.Load64(40 * riscv.PageSize)
			require.NoError(t, err)
			require.Zero(t, v)
		})

		t.Run("fill", func(t *testing.T) {
			require.NoError(t, m.StoreByte(0x2000-2, 5, 0x5A))
			b, err := m.LoadBytes(0x2000-3, 7)
			require.NoError(t, err)
			require.Equal(t, []byte{0, 0x5A, 0x5A, 0x5A, 0x5A, 0x5A, 0}, b)
		})

		t.Run("large random", func(t *testing.T) {
			data := make([]byte, 20_000)
			_, err := rand.Read(data[:])
			require.NoError(t, err)
			require.NoError(t, m.StoreBytes(0x8000, data))
			for _, i := range []uint64{0, 1, 7, 1000, 4095, 4096, 4097, 20_000 - 32} {
				got, err := m.LoadBytes(0x8000+i, 32)
				require.NoError(t, err)
				require.Equal(t, data[i:i+32], got, "read at %d", i)
			}
		})
	})
}

func TestMemoryBounds(t *testing.T) {
	forEachBacking(t, func(t *testing.T, m Memory) {
		last := m.MemorySize() - 8
		require.NoError(t, m.Store64(last, 0x0102_0304_0506_0708))

		require.ErrorIs(t, m.Store64(last+1, ^uint64(0)), riscv.ErrMemOutOfBound)
		require.ErrorIs(t, m.Store8(m.MemorySize(), 1), riscv.ErrMemOutOfBound)
		require.ErrorIs(t, m.StoreBytes(last, make([]byte, 9)), riscv.ErrMemOutOfBound)
		require.ErrorIs(t, m.StoreByte(last, 9, 0xFF), riscv.ErrMemOutOfBound)
		require.ErrorIs(t, m.Store32(^uint64(0)-1, 1), riscv.ErrMemOutOfBound, "address overflow")
		_, err := m.Load64(last + 1)
		require.ErrorIs(t, err, riscv.ErrMemOutOfBound)
		_, err = m.LoadBytes(^uint64(0), 2)
		require.ErrorIs(t, err, riscv.ErrMemOutOfBound)
		_, err = m.FetchFlag(m.MemorySize() >> riscv.PageShift)
		require.ErrorIs(t, err, riscv.ErrMemOutOfBound)

		// no partial mutation
		v, err := m.Load64(last)
		require.NoError(t, err)
		require.Equal(t, uint64(0x0102_0304_0506_0708), v)
	})
}

func TestMemoryInitPages(t *testing.T) {
	forEachBacking(t, func(t *testing.T, m Memory) {
		require.NoError(t, m.StoreByte(riscv.PageSize, 2*riscv.PageSize, 0xFF))
		src := []byte("hello")
		require.NoError(t, m.InitPages(riscv.PageSize, 2*riscv.PageSize, FlagFrozen, src, 10))

		got, err := m.LoadBytes(riscv.PageSize, 16)
		require.NoError(t, err)
		require.Equal(t, append(make([]byte, 10), append(src, 0)...), got, "zeroed before and after source")
		v, err := m.Load64(3*riscv.PageSize - 8)
		require.NoError(t, err)
		require.Zero(t, v, "tail zeroed")

		for p := uint64(1); p <= 2; p++ {
			flag, err := m.FetchFlag(p)
			require.NoError(t, err)
			require.Equal(t, FlagFrozen|FlagDirty, flag)
		}

		require.ErrorIs(t, m.InitPages(0, riscv.PageSize, 0, make([]byte, riscv.PageSize), 1), riscv.ErrMemOutOfBound)
	})
}

func TestMemoryDirtyFlag(t *testing.T) {
	forEachBacking(t, func(t *testing.T, m Memory) {
		flag, err := m.FetchFlag(5)
		require.NoError(t, err)
		require.Zero(t, flag&FlagDirty)
		require.NoError(t, m.Store16(6*riscv.PageSize-1, 0xFFFF))
		for _, p := range []uint64{5, 6} {
			flag, err = m.FetchFlag(p)
			require.NoError(t, err)
			require.NotZero(t, flag&FlagDirty, "page %d", p)
		}
		require.NoError(t, m.ClearFlag(5, FlagDirty))
		flag, err = m.FetchFlag(5)
		require.NoError(t, err)
		require.Zero(t, flag&FlagDirty)
	})
}

func TestValidateSize(t *testing.T) {
	require.NoError(t, ValidateSize(riscv.DefaultMemorySize))
	require.ErrorIs(t, ValidateSize(0), riscv.ErrMemOutOfBound)
	require.ErrorIs(t, ValidateSize(riscv.MaxMemorySize+riscv.PageSize), riscv.ErrMemOutOfBound)
	require.ErrorIs(t, ValidateSize(riscv.PageSize+1), riscv.ErrMemPageUnalignedAccess)
	_, err := NewFlatMemory(100)
	require.Error(t, err)
	_, err = NewSparseMemory(100)
	require.Error(t, err)
}

func TestPermissionFlags(t *testing.T) {
	flags, err := Permission{Read: true, Execute: true}.Flags()
	require.NoError(t, err)
	require.Equal(t, FlagExecutable|FlagFrozen, flags)
	flags, err = Permission{Read: true, Write: true}.Flags()
	require.NoError(t, err)
	require.True(t, Writable(flags))
	flags, err = Permission{Read: true}.Flags()
	require.NoError(t, err)
	require.False(t, Writable(flags))
	_, err = Permission{Read: true, Write: true, Execute: true}.Flags()
	require.ErrorIs(t, err, riscv.ErrElfSegmentWritableAndExecutable)
	_, err = Permission{Execute: true}.Flags()
	require.ErrorIs(t, err, riscv.ErrElfSegmentUnreadable)
}

func TestSparseMemoryLazy(t *testing.T) {
	m, err := NewSparseMemory(testMemorySize)
	require.NoError(t, err)
	_, err = m.Load64(0x3000)
	require.NoError(t, err)
	require.NoError(t, m.StoreByte(0, testMemorySize, 0))
	require.Equal(t, 0, m.PageCount(), "reads and zero fills don't materialize pages")

	require.NoError(t, m.Store8(0x3001, 1))
	require.Equal(t, 1, m.PageCount())
	require.Equal(t, "4.0 KiB", m.Usage())

	var seen []uint64
	require.NoError(t, m.ForEachPage(func(pageIndex uint64, page *Page) error {
		seen = append(seen, pageIndex)
		require.Equal(t, byte(1), page[1])
		return nil
	}))
	require.Equal(t, []uint64{3}, seen)
}

func TestSparseMemoryRange(t *testing.T) {
	m, err := NewSparseMemory(testMemorySize)
	require.NoError(t, err)
	data := []byte(strings.Repeat("under the big bright yellow sun ", 40))
	require.NoError(t, m.StoreBytes(0x1337, data))
	r, err := m.ReadMemoryRange(0x1337-10, uint64(len(data)+20))
	require.NoError(t, err)
	res, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 10), res[:10], "empty start")
	require.True(t, bytes.Equal(data, res[10:len(res)-10]), "result")
	require.Equal(t, make([]byte, 10), res[len(res)-10:], "empty end")

	_, err = m.ReadMemoryRange(testMemorySize-1, 2)
	require.ErrorIs(t, err, riscv.ErrMemOutOfBound)
}
