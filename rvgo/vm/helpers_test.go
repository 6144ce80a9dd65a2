package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

type machineParams struct {
	isa       riscv.ISA
	version   riscv.Version
	width     riscv.Width
	maxCycles uint64
	backing   string
}

func defaultParams() machineParams {
	return machineParams{
		isa:       riscv.ISAIMC | riscv.ISAB | riscv.ISAA,
		version:   riscv.Version1,
		width:     riscv.W64,
		maxCycles: math.MaxUint64,
		backing:   MemorySparse,
	}
}

// forEachBacking runs fn as a subtest per memory backing, with defaultParams using that backing.
func forEachBacking(t *testing.T, fn func(t *testing.T, params machineParams)) {
	for _, backing := range []string{MemorySparse, MemoryFlat} {
		t.Run(backing, func(t *testing.T) {
			params := defaultParams()
			params.backing = backing
			fn(t, params)
		})
	}
}

// newTestMachine builds a machine over W^X-protected memory of the requested backing,
// and also returns the unprotected backing.
func newTestMachine(t *testing.T, p machineParams, opts ...Option) (*DefaultMachine, memory.Memory) {
	t.Helper()
	backing, err := newBacking(p.backing, riscv.DefaultMemorySize)
	if err != nil && p.backing == MemoryFlat {
		t.Skipf("no flat memory in this build: %v", err)
	}
	require.NoError(t, err)
	core, err := NewCoreMachine(p.isa, p.version, p.maxCycles, memory.NewWXorXMemory(backing), WithWidth(p.width))
	require.NoError(t, err)
	return NewDefaultMachine(core, opts...), backing
}

// dirtyPages counts the pages that were written or initialized.
func dirtyPages(t *testing.T, mem memory.Memory) int {
	t.Helper()
	n := 0
	for page := uint64(0); page < mem.MemorySize()>>riscv.PageShift; page++ {
		flag, err := mem.FetchFlag(page)
		require.NoError(t, err)
		if flag&memory.FlagDirty != 0 {
			n++
		}
	}
	return n
}

// newCore builds a bare core over unprotected memory, for executing single instructions.
func newCore(t *testing.T, width riscv.Width, version riscv.Version) *CoreMachine {
	t.Helper()
	mem, err := memory.NewSparseMemory(riscv.DefaultMemorySize)
	require.NoError(t, err)
	core, err := NewCoreMachine(riscv.ISAIMC|riscv.ISAB|riscv.ISAA, version, math.MaxUint64, mem, WithWidth(width))
	require.NoError(t, err)
	return core
}

func runELF(t *testing.T, m *DefaultMachine, program []byte, args ...string) (int8, error) {
	t.Helper()
	var argv [][]byte
	for _, a := range args {
		argv = append(argv, []byte(a))
	}
	require.NoError(t, m.LoadProgram(program, argv))
	return m.Run()
}

func requireKind(t *testing.T, err error, target error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, target, "got %v", err)
}
