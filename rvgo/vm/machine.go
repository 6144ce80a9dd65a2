package vm

import (
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// Machine is the view of a running machine handed to syscall handlers and debuggers.
type Machine interface {
	PC() uint64
	SetPC(pc uint64)
	Register(i int) uint64
	SetRegister(i int, v uint64)
	Memory() memory.Memory
	Cycles() uint64
	MaxCycles() uint64
	AddCycles(n uint64) error
	ISA() riscv.ISA
	Version() riscv.Version
	Width() riscv.Width
	// Halt stops the machine after the current step, with the given exit code.
	Halt(exitCode int8)
	Logger() log.Logger
}

// DefaultMachine runs the fetch-decode-execute loop on top of a CoreMachine,
// dispatching traps to the registered syscall handlers and debugger.
type DefaultMachine struct {
	*CoreMachine

	decoder   *Decoder
	syscalls  []Syscalls
	debugger  Debugger
	cycleFunc InstructionCycleFunc
	logger    log.Logger
	symbols   SortedSymbols

	stackStart uint64
	stackSize  uint64
	stackSet   bool

	running  bool
	halted   bool
	exitCode int8
	last     Instruction
}

var _ Machine = (*DefaultMachine)(nil)

type Option func(m *DefaultMachine)

// WithSyscalls appends syscall handlers. Handlers are consulted in registration order.
func WithSyscalls(s ...Syscalls) Option {
	return func(m *DefaultMachine) {
		m.syscalls = append(m.syscalls, s...)
	}
}

func WithDebugger(d Debugger) Option {
	return func(m *DefaultMachine) {
		m.debugger = d
	}
}

func WithInstructionCycleFunc(f InstructionCycleFunc) Option {
	return func(m *DefaultMachine) {
		m.cycleFunc = f
	}
}

func WithLogger(l log.Logger) Option {
	return func(m *DefaultMachine) {
		m.logger = l
	}
}

// WithStackRegion guards the stack: a step that moves sp below start fails with riscv.ErrMemOutOfStack.
// The loader sets the region itself when it lays out the initial stack.
func WithStackRegion(start, size uint64) Option {
	return func(m *DefaultMachine) {
		m.SetStackRegion(start, size)
	}
}

func NewDefaultMachine(core *CoreMachine, opts ...Option) *DefaultMachine {
	m := &DefaultMachine{
		CoreMachine: core,
		decoder:     NewDecoder(core.ISA(), core.Width()),
		cycleFunc:   DefaultInstructionCycles,
		logger:      log.Root(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetStackRegion enables the stack guard for [start, start+size).
func (m *DefaultMachine) SetStackRegion(start, size uint64) {
	m.stackStart, m.stackSize, m.stackSet = start, size, true
}

// StackRegion returns the guarded stack region, if any.
func (m *DefaultMachine) StackRegion() (start, size uint64, ok bool) {
	return m.stackStart, m.stackSize, m.stackSet
}

func (m *DefaultMachine) Logger() log.Logger {
	return m.logger
}

func (m *DefaultMachine) Halt(exitCode int8) {
	m.running = false
	m.halted = true
	m.exitCode = exitCode
}

// Halted reports whether the machine stopped with an exit code.
func (m *DefaultMachine) Halted() bool {
	return m.halted
}

func (m *DefaultMachine) ExitCode() int8 {
	return m.exitCode
}

// Symbols returns the symbols of the loaded program, if it has any.
func (m *DefaultMachine) Symbols() SortedSymbols {
	return m.symbols
}

// LastInstruction returns the most recently decoded instruction.
func (m *DefaultMachine) LastInstruction() Instruction {
	return m.last
}

// ResetDecoder drops all cached decoded instructions.
func (m *DefaultMachine) ResetDecoder() {
	m.decoder.Reset()
}

// Initialize hands the machine to every syscall handler and the debugger before the first step.
func (m *DefaultMachine) Initialize() error {
	for _, s := range m.syscalls {
		if err := s.Initialize(m); err != nil {
			return fmt.Errorf("failed to initialize syscalls: %w", err)
		}
	}
	if m.debugger != nil {
		if err := m.debugger.Initialize(m); err != nil {
			return fmt.Errorf("failed to initialize debugger: %w", err)
		}
	}
	m.running = true
	return nil
}

// Step executes one instruction, including any trap handling it causes.
func (m *DefaultMachine) Step() error {
	inst, err := m.decoder.Decode(m.Memory(), m.PC())
	if err != nil {
		return err
	}
	m.last = inst
	cost, carry := bits.Add64(BaseCycles, m.cycleFunc(inst), 0)
	if carry != 0 {
		return riscv.ErrCyclesOverflow
	}
	if err := m.AddCycles(cost); err != nil {
		return err
	}
	trap, err := m.Execute(inst)
	if err != nil {
		return err
	}
	switch trap {
	case TrapEcall:
		if err := m.ecall(); err != nil {
			return err
		}
	case TrapEbreak:
		if m.debugger != nil {
			if err := m.debugger.EBreak(m); err != nil {
				return err
			}
		}
	}
	if m.stackSet && m.Register(riscv.RegSP) < m.stackStart {
		return riscv.ErrMemOutOfStack
	}
	return nil
}

func (m *DefaultMachine) ecall() error {
	number := m.Register(riscv.RegA7)
	if number == riscv.SysExit {
		m.Halt(int8(m.Register(riscv.RegA0)))
		return nil
	}
	for _, s := range m.syscalls {
		processed, err := s.ECall(m)
		if err != nil {
			return err
		}
		if processed {
			return nil
		}
	}
	return riscv.InvalidEcall(number)
}

// Run initializes the handlers and steps until the machine halts or fails.
func (m *DefaultMachine) Run() (int8, error) {
	if err := m.Initialize(); err != nil {
		return 0, err
	}
	m.logger.Debug("starting machine", "pc", fmt.Sprintf("%#x", m.PC()), "isa", m.ISA(), "version", m.Version(), "width", m.Width())
	for m.running {
		if err := m.Step(); err != nil {
			m.running = false
			m.logger.Debug("machine trapped", "pc", fmt.Sprintf("%#x", m.PC()), "cycles", m.Cycles(), "err", err)
			return 0, err
		}
	}
	m.logger.Debug("machine halted", "exit", m.exitCode, "cycles", m.Cycles())
	return m.exitCode, nil
}
