package vm

import (
	"fmt"
	"io"
	"math"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

const (
	MemorySparse = "sparse"
	MemoryFlat   = "flat"
)

// Config selects how a machine is built.
type Config struct {
	Width      riscv.Width
	ISA        riscv.ISA
	Version    riscv.Version
	MaxCycles  uint64
	MemorySize uint64
	// Memory is the backing strategy, MemorySparse or MemoryFlat.
	// The backing is always wrapped in a WXorXMemory.
	Memory string

	CycleFunc InstructionCycleFunc
	Syscalls  []Syscalls
	Debugger  Debugger
	Logger    log.Logger

	// TraceWriter, if set, receives every step as a JSON line.
	TraceWriter   io.Writer
	TraceCapacity int
	Inspector     Inspector
}

// DefaultConfig is the configuration used by Run.
func DefaultConfig(memorySize uint64) Config {
	return Config{
		Width:         riscv.W64,
		ISA:           riscv.ISAIMC | riscv.ISAB | riscv.ISAMOP,
		Version:       riscv.Version1,
		MaxCycles:     math.MaxUint64,
		MemorySize:    memorySize,
		Memory:        MemorySparse,
		CycleFunc:     DefaultInstructionCycles,
		TraceCapacity: DefaultTraceCapacity,
	}
}

func (c *Config) Validate() error {
	if !c.Width.Valid() {
		return fmt.Errorf("invalid width %d: %w", c.Width, riscv.ErrElfBits)
	}
	if !c.ISA.Valid() {
		return fmt.Errorf("invalid ISA %08b: %w", uint8(c.ISA), riscv.ErrUnimplemented)
	}
	if c.Version > riscv.LatestVersion {
		return fmt.Errorf("version %d: %w", c.Version, riscv.ErrInvalidVersion)
	}
	if err := memory.ValidateSize(c.MemorySize); err != nil {
		return fmt.Errorf("invalid memory size %d: %w", c.MemorySize, err)
	}
	if c.Memory != MemorySparse && c.Memory != MemoryFlat {
		return fmt.Errorf("unknown memory backing %q", c.Memory)
	}
	if c.TraceCapacity < 0 {
		return fmt.Errorf("negative trace capacity %d", c.TraceCapacity)
	}
	return nil
}

// NewMachine builds a traced machine with empty memory.
func NewMachine(cfg Config) (*TraceMachine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backing, err := newBacking(cfg.Memory, cfg.MemorySize)
	if err != nil {
		return nil, err
	}
	core, err := NewCoreMachine(cfg.ISA, cfg.Version, cfg.MaxCycles, memory.NewWXorXMemory(backing), WithWidth(cfg.Width))
	if err != nil {
		return nil, err
	}
	opts := []Option{WithSyscalls(cfg.Syscalls...)}
	if cfg.CycleFunc != nil {
		opts = append(opts, WithInstructionCycleFunc(cfg.CycleFunc))
	}
	if cfg.Debugger != nil {
		opts = append(opts, WithDebugger(cfg.Debugger))
	}
	if cfg.Logger != nil {
		opts = append(opts, WithLogger(cfg.Logger))
	}
	traceOpts := []TraceOption{WithTraceCapacity(cfg.TraceCapacity)}
	if cfg.TraceWriter != nil {
		traceOpts = append(traceOpts, WithTraceWriter(cfg.TraceWriter))
	}
	if cfg.Inspector != nil {
		traceOpts = append(traceOpts, WithInspector(cfg.Inspector))
	}
	if cfg.Logger != nil {
		traceOpts = append(traceOpts, WithTraceLogger(cfg.Logger))
	}
	return NewTraceMachine(NewDefaultMachine(core, opts...), traceOpts...), nil
}

// RunConfig loads program with args into a machine built from cfg and runs it to completion.
func RunConfig(cfg Config, program []byte, args [][]byte) (int8, error) {
	m, err := NewMachine(cfg)
	if err != nil {
		return 0, err
	}
	if err := m.LoadProgram(program, args); err != nil {
		return 0, err
	}
	return m.Run()
}

// Run executes a 64-bit program with the default configuration and no syscalls besides exit.
func Run(program []byte, args [][]byte, memorySize uint64) (int8, error) {
	return RunConfig(DefaultConfig(memorySize), program, args)
}
