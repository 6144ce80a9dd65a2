//go:build embedded

package vm

import (
	"fmt"

	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
)

// The embedded profile only allocates memory lazily.
func newBacking(kind string, size uint64) (memory.Memory, error) {
	if kind == MemoryFlat {
		return nil, fmt.Errorf("flat memory is not available in the embedded profile")
	}
	return memory.NewSparseMemory(size)
}
