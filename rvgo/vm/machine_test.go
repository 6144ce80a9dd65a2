package vm

import (
	"debug/elf"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/rvsandbox/rvgo/internal/testutil"
	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

// recordingSyscalls claims a single syscall number and remembers what it saw.
type recordingSyscalls struct {
	number      uint64
	initialized bool
	calls       []uint64
	halt        bool
	err         error
}

func (s *recordingSyscalls) Initialize(m Machine) error {
	s.initialized = true
	return nil
}

func (s *recordingSyscalls) ECall(m Machine) (bool, error) {
	n := m.Register(riscv.RegA7)
	s.calls = append(s.calls, n)
	if n != s.number {
		return false, nil
	}
	if s.err != nil {
		return false, s.err
	}
	if s.halt {
		m.Halt(int8(m.Register(riscv.RegA0) + 1))
		return true, nil
	}
	m.SetRegister(riscv.RegA0, m.Register(riscv.RegA0)*2)
	return true, nil
}

type recordingDebugger struct {
	breaks []uint64
}

func (d *recordingDebugger) Initialize(m Machine) error { return nil }

func (d *recordingDebugger) EBreak(m Machine) error {
	d.breaks = append(d.breaks, m.PC())
	return nil
}

func TestHalt(t *testing.T) {
	cases := []struct {
		code   int32
		expect int8
	}{
		{0, 0},
		{42, 42},
		{-1, -1},
		{255, -1},
		{127, 127},
	}
	for _, tc := range cases {
		var p testutil.Program
		p.Exit(tc.code)
		m, _ := newTestMachine(t, defaultParams())
		exit, err := runELF(t, m, p.ELF64())
		require.NoError(t, err)
		require.Equal(t, tc.expect, exit)
		require.True(t, m.Halted())
		require.Equal(t, uint64(testutil.TextBase+12), m.PC(), "halts after the ecall")
	}
}

func TestCycleBudget(t *testing.T) {
	var p testutil.Program
	p.Emit(testutil.Jal(testutil.Zero, 0)) // spin forever

	forEachBacking(t, func(t *testing.T, params machineParams) {
		limited := params
		limited.maxCycles = 100

		t.Run("exceeded", func(t *testing.T) {
			m, _ := newTestMachine(t, limited)
			_, err := runELF(t, m, p.ELF64())
			requireKind(t, err, riscv.ErrCyclesExceeded)
			require.Equal(t, uint64(100), m.Cycles(), "stops right before the budget is passed")
			require.False(t, m.Halted())
		})
		t.Run("instruction cost", func(t *testing.T) {
			m, _ := newTestMachine(t, limited, WithInstructionCycleFunc(WeightedInstructionCycles))
			_, err := runELF(t, m, p.ELF64())
			requireKind(t, err, riscv.ErrCyclesExceeded)
			require.Equal(t, uint64(99), m.Cycles(), "33 jumps of 3 cycles")
		})
		t.Run("cost overflow", func(t *testing.T) {
			m, _ := newTestMachine(t, params, WithInstructionCycleFunc(func(Instruction) uint64 {
				return math.MaxUint64
			}))
			_, err := runELF(t, m, p.ELF64())
			requireKind(t, err, riscv.ErrCyclesOverflow)
			require.Zero(t, m.Cycles())
		})
		t.Run("counter overflow", func(t *testing.T) {
			m, _ := newTestMachine(t, params)
			m.SetCycles(math.MaxUint64 - 3)
			_, err := runELF(t, m, p.ELF64())
			requireKind(t, err, riscv.ErrCyclesOverflow)
			require.Equal(t, uint64(math.MaxUint64), m.Cycles())
		})
	})
}

func TestSyscallDispatch(t *testing.T) {
	var p testutil.Program
	p.Emit(testutil.Addi(testutil.A0, testutil.Zero, 21), testutil.Addi(testutil.A7, testutil.Zero, 500), testutil.Ecall())
	p.Emit(testutil.Addi(testutil.A7, testutil.Zero, 93), testutil.Ecall())

	forEachBacking(t, func(t *testing.T, params machineParams) {
		t.Run("first claiming handler wins", func(t *testing.T) {
			decline := &recordingSyscalls{number: 1}
			claim := &recordingSyscalls{number: 500}
			never := &recordingSyscalls{number: 500}
			m, _ := newTestMachine(t, params, WithSyscalls(decline, claim, never))
			exit, err := runELF(t, m, p.ELF64())
			require.NoError(t, err)
			require.Equal(t, int8(42), exit)
			require.True(t, decline.initialized)
			require.True(t, never.initialized)
			require.Equal(t, []uint64{500}, decline.calls)
			require.Equal(t, []uint64{500}, claim.calls)
			require.Empty(t, never.calls)
		})
		t.Run("handler halts", func(t *testing.T) {
			m, _ := newTestMachine(t, params, WithSyscalls(&recordingSyscalls{number: 500, halt: true}))
			exit, err := runELF(t, m, p.ELF64())
			require.NoError(t, err)
			require.Equal(t, int8(22), exit)
		})
		t.Run("handler error", func(t *testing.T) {
			boom := errors.New("boom")
			m, _ := newTestMachine(t, params, WithSyscalls(&recordingSyscalls{number: 500, err: boom}))
			_, err := runELF(t, m, p.ELF64())
			require.ErrorIs(t, err, boom)
		})
		t.Run("unknown number", func(t *testing.T) {
			m, _ := newTestMachine(t, params, WithSyscalls(&recordingSyscalls{number: 1}))
			_, err := runELF(t, m, p.ELF64())
			requireKind(t, err, riscv.ErrInvalidEcall)
			var rvErr *riscv.Error
			require.True(t, errors.As(err, &rvErr))
			require.Equal(t, uint64(500), rvErr.Number)
		})
	})
}

func TestEbreak(t *testing.T) {
	var p testutil.Program
	p.Emit(testutil.Ebreak())
	p.Emit16(0x9002) // c.ebreak
	p.Emit16(0x0001) // c.nop
	p.Exit(3)

	t.Run("debugger", func(t *testing.T) {
		d := &recordingDebugger{}
		m, _ := newTestMachine(t, defaultParams(), WithDebugger(d))
		exit, err := runELF(t, m, p.ELF64())
		require.NoError(t, err)
		require.Equal(t, int8(3), exit)
		require.Equal(t, []uint64{testutil.TextBase + 4, testutil.TextBase + 6}, d.breaks)
	})
	t.Run("no debugger", func(t *testing.T) {
		m, _ := newTestMachine(t, defaultParams())
		exit, err := runELF(t, m, p.ELF64())
		require.NoError(t, err)
		require.Equal(t, int8(3), exit)
	})
}

func TestStackGuard(t *testing.T) {
	var p testutil.Program
	p.Emit(testutil.Addi(testutil.SP, testutil.Zero, 16))
	p.Exit(0)
	var within testutil.Program
	within.Emit(
		testutil.Addi(testutil.SP, testutil.SP, -16),
		testutil.Addi(testutil.T0, testutil.Zero, 7),
		testutil.Sd(testutil.SP, testutil.T0, 8),
		testutil.Ld(testutil.A0, testutil.SP, 8),
		testutil.Addi(testutil.SP, testutil.SP, 16),
		testutil.Addi(testutil.A7, testutil.Zero, 93),
		testutil.Ecall(),
	)

	forEachBacking(t, func(t *testing.T, params machineParams) {
		m, _ := newTestMachine(t, params)
		_, err := runELF(t, m, p.ELF64())
		requireKind(t, err, riscv.ErrMemOutOfStack)
		require.NotErrorIs(t, err, riscv.ErrMemOutOfBound)
		require.Equal(t, uint64(testutil.TextBase+4), m.PC())

		t.Run("stack use within the region", func(t *testing.T) {
			m, _ := newTestMachine(t, params)
			exit, err := runELF(t, m, within.ELF64())
			require.NoError(t, err)
			require.Equal(t, int8(7), exit)
		})
	})
}

func TestSelfModifyingCode(t *testing.T) {
	var p testutil.Program
	p.Emit(
		testutil.Auipc(testutil.T0, 0),
		testutil.Sw(testutil.T0, testutil.Zero, 0),
	)
	p.Exit(0)
	forEachBacking(t, func(t *testing.T, params machineParams) {
		m, mem := newTestMachine(t, params)
		_, err := runELF(t, m, p.ELF64())
		requireKind(t, err, riscv.ErrMemWriteOnExecutablePage)
		insn, err := mem.Load32(testutil.TextBase)
		require.NoError(t, err)
		require.Equal(t, uint64(testutil.Auipc(testutil.T0, 0)), insn, "the code page is unchanged")
	})
}

func TestExecuteData(t *testing.T) {
	var p testutil.Program
	p.Emit(
		testutil.Lui(testutil.T0, testutil.DataBase>>12),
		testutil.Jalr(testutil.Zero, testutil.T0, 0),
	)
	code := p.Bytes()
	data := p.Bytes() // valid code, but never executable here
	program := testutil.ELF64(testutil.TextBase,
		testutil.Segment{Vaddr: testutil.TextBase, Data: code, Flags: elf.PF_R | elf.PF_X},
		testutil.Segment{Vaddr: testutil.DataBase, Data: data, Flags: elf.PF_R | elf.PF_W},
	)
	forEachBacking(t, func(t *testing.T, params machineParams) {
		m, _ := newTestMachine(t, params)
		_, err := runELF(t, m, program)
		requireKind(t, err, riscv.ErrMemOutOfBound)
	})
}

func TestCompressedProgram(t *testing.T) {
	var p testutil.Program
	p.Emit16(0x4505) // c.li a0, 1
	p.Emit16(0x0505) // c.addi a0, 1
	p.Emit16(0x85AA) // c.mv a1, a0
	p.Emit16(0x952E) // c.add a0, a1
	p.Emit(testutil.Addi(testutil.A7, testutil.Zero, 93), testutil.Ecall())
	m, _ := newTestMachine(t, defaultParams())
	exit, err := runELF(t, m, p.ELF64())
	require.NoError(t, err)
	require.Equal(t, int8(4), exit)
}

func TestPageCrossingInstruction(t *testing.T) {
	var p testutil.Program
	for p.Len() < riscv.PageSize-2 {
		p.Emit16(0x0001) // c.nop
	}
	p.Emit(testutil.Addi(testutil.A0, testutil.Zero, 5))
	p.Emit(testutil.Addi(testutil.A7, testutil.Zero, 93), testutil.Ecall())
	forEachBacking(t, func(t *testing.T, params machineParams) {
		m, _ := newTestMachine(t, params)
		exit, err := runELF(t, m, p.ELF64())
		require.NoError(t, err)
		require.Equal(t, int8(5), exit)
	})
}

func TestRV32(t *testing.T) {
	var p testutil.Program
	p.Emit(
		testutil.Addi(testutil.A1, testutil.Zero, -1),
		testutil.Addi(testutil.A2, testutil.Zero, 1),
		testutil.Add(testutil.A1, testutil.A1, testutil.A2), // wraps to 0
		testutil.Lw(testutil.A0, testutil.SP, 0),           // argc
		testutil.Add(testutil.A0, testutil.A0, testutil.A1),
		testutil.Addi(testutil.A7, testutil.Zero, 93),
		testutil.Ecall(),
	)
	params := defaultParams()
	params.width = riscv.W32
	m, _ := newTestMachine(t, params)
	exit, err := runELF(t, m, p.ELF32(), "x", "y")
	require.NoError(t, err)
	require.Equal(t, int8(2), exit)
	for i := 0; i < riscv.RegisterCount; i++ {
		require.LessOrEqual(t, m.Register(i), uint64(math.MaxUint32))
	}

	t.Run("64-bit image", func(t *testing.T) {
		m, _ := newTestMachine(t, params)
		err := m.LoadProgram(p.ELF64(), nil)
		requireKind(t, err, riscv.ErrElfBits)
	})
}

// Running the same program twice gives identical results, for both memory backings.
func TestDeterminism(t *testing.T) {
	var p testutil.Program
	// sum the argument bytes into a0 and scribble over the stack
	p.Emit(
		testutil.Ld(testutil.T0, testutil.SP, 8), // argv[0]
		testutil.Addi(testutil.A0, testutil.Zero, 0),
		testutil.Lbu(testutil.T1, testutil.T0, 0),
		testutil.Beq(testutil.T1, testutil.Zero, 20),
		testutil.Add(testutil.A0, testutil.A0, testutil.T1),
		testutil.Sb(testutil.SP, testutil.T1, -1),
		testutil.Addi(testutil.T0, testutil.T0, 1),
		testutil.Jal(testutil.Zero, -20),
		testutil.Andi(testutil.A0, testutil.A0, 0x7F),
		testutil.Addi(testutil.A7, testutil.Zero, 93),
		testutil.Ecall(),
	)

	type outcome struct {
		exit   int8
		regs   [riscv.RegisterCount]uint64
		cycles uint64
		stack  []byte
	}
	run := func(flat bool) outcome {
		var backing memory.Memory
		var err error
		if flat {
			backing, err = memory.NewFlatMemory(riscv.DefaultMemorySize)
		} else {
			backing, err = memory.NewSparseMemory(riscv.DefaultMemorySize)
		}
		require.NoError(t, err)
		core, err := NewCoreMachine(riscv.ISAIMC|riscv.ISAMOP, riscv.Version1, math.MaxUint64, memory.NewWXorXMemory(backing))
		require.NoError(t, err)
		m := NewDefaultMachine(core)
		exit, err := runELF(t, m, p.ELF64(), "deterministic", "run")
		require.NoError(t, err)
		start, size, ok := m.StackRegion()
		require.True(t, ok)
		stack, err := m.Memory().LoadBytes(start, size)
		require.NoError(t, err)
		return outcome{exit: exit, regs: m.Registers(), cycles: m.Cycles(), stack: stack}
	}
	first := run(false)
	require.Equal(t, first, run(false))
	require.Equal(t, first, run(true), "flat and sparse memory behave the same")
}
