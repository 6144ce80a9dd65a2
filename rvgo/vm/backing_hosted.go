//go:build !embedded

package vm

import (
	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
)

func newBacking(kind string, size uint64) (memory.Memory, error) {
	if kind == MemoryFlat {
		return memory.NewFlatMemory(size)
	}
	return memory.NewSparseMemory(size)
}
