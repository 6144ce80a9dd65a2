package vm

import (
	"fmt"
	"math/bits"

	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// CoreMachine owns the architectural state of one hart: program counter, register file,
// memory, and the cycle counter with its budget.
// Register values are always truncated to the machine width, and x0 always reads zero.
type CoreMachine struct {
	pc        uint64
	registers [riscv.RegisterCount]uint64
	mem       memory.Memory

	cycles    uint64
	maxCycles uint64

	isa     riscv.ISA
	version riscv.Version
	width   riscv.Width

	// address of the active LR reservation, valid only if reserved is set
	loadReservation uint64
	reserved        bool
}

type CoreOption func(c *CoreMachine)

// WithWidth selects RV32 or RV64. Machines are 64-bit by default.
func WithWidth(w riscv.Width) CoreOption {
	return func(c *CoreMachine) {
		c.width = w
	}
}

func NewCoreMachine(isa riscv.ISA, version riscv.Version, maxCycles uint64, mem memory.Memory, opts ...CoreOption) (*CoreMachine, error) {
	c := &CoreMachine{
		mem:       mem,
		maxCycles: maxCycles,
		isa:       isa,
		version:   version,
		width:     riscv.W64,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !isa.Valid() {
		return nil, fmt.Errorf("unknown ISA flags %08b: %w", uint8(isa), riscv.ErrUnimplemented)
	}
	if version > riscv.LatestVersion {
		return nil, fmt.Errorf("version %d: %w", version, riscv.ErrInvalidVersion)
	}
	if isa.Has(riscv.ISAMOP) && version < riscv.Version1 {
		return nil, fmt.Errorf("macro-op fusion requires version %d: %w", riscv.Version1, riscv.ErrInvalidVersion)
	}
	if !c.width.Valid() {
		return nil, fmt.Errorf("width %d: %w", c.width, riscv.ErrElfBits)
	}
	if mem == nil {
		return nil, fmt.Errorf("no memory: %w", riscv.ErrMemOutOfBound)
	}
	return c, nil
}

func (c *CoreMachine) PC() uint64 {
	return c.pc
}

func (c *CoreMachine) SetPC(pc uint64) {
	c.pc = c.width.Trunc(pc)
}

func (c *CoreMachine) Register(i int) uint64 {
	return c.registers[i]
}

func (c *CoreMachine) SetRegister(i int, v uint64) {
	if i == riscv.RegZero {
		return
	}
	c.registers[i] = c.width.Trunc(v)
}

// Registers returns a copy of the register file.
func (c *CoreMachine) Registers() [riscv.RegisterCount]uint64 {
	return c.registers
}

func (c *CoreMachine) Memory() memory.Memory {
	return c.mem
}

func (c *CoreMachine) Cycles() uint64 {
	return c.cycles
}

// SetCycles overrides the cycle counter, e.g. when resuming a snapshot.
func (c *CoreMachine) SetCycles(cycles uint64) {
	c.cycles = cycles
}

func (c *CoreMachine) MaxCycles() uint64 {
	return c.maxCycles
}

func (c *CoreMachine) SetMaxCycles(maxCycles uint64) {
	c.maxCycles = maxCycles
}

// AddCycles charges n cycles. The counter is left untouched when the charge fails.
func (c *CoreMachine) AddCycles(n uint64) error {
	sum, carry := bits.Add64(c.cycles, n, 0)
	if carry != 0 {
		return riscv.ErrCyclesOverflow
	}
	if sum > c.maxCycles {
		return riscv.ErrCyclesExceeded
	}
	c.cycles = sum
	return nil
}

func (c *CoreMachine) ISA() riscv.ISA {
	return c.isa
}

func (c *CoreMachine) Version() riscv.Version {
	return c.version
}

func (c *CoreMachine) Width() riscv.Width {
	return c.width
}

// LoadReservation returns the address reserved by the last LR, if any.
func (c *CoreMachine) LoadReservation() (uint64, bool) {
	return c.loadReservation, c.reserved
}

func (c *CoreMachine) SetLoadReservation(addr uint64, ok bool) {
	c.loadReservation, c.reserved = addr, ok
}
