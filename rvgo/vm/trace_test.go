package vm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/rvsandbox/rvgo/internal/testutil"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

func countdownProgram() []byte {
	var p testutil.Program
	p.Emit(
		testutil.Addi(testutil.T0, testutil.Zero, 3),
		testutil.Addi(testutil.A0, testutil.A0, 2),
		testutil.Addi(testutil.T0, testutil.T0, -1),
		testutil.Bne(testutil.T0, testutil.Zero, -8),
		testutil.Addi(testutil.A7, testutil.Zero, 93),
		testutil.Ecall(),
	)
	return p.ELF64()
}

// 1 + 3*3 + 2 steps
const countdownSteps = 12

type stopAt struct {
	pc    uint64
	seen  int
	limit int
}

var errBreakpoint = errors.New("breakpoint")

func (s *stopAt) BeforeStep(m Machine) error {
	if m.PC() != s.pc {
		return nil
	}
	s.seen++
	if s.seen > s.limit {
		return errBreakpoint
	}
	return nil
}

func TestTraceMachine(t *testing.T) {
	forEachBacking(t, func(t *testing.T, params machineParams) {
		plain, _ := newTestMachine(t, params)
		exit, err := runELF(t, plain, countdownProgram())
		require.NoError(t, err)
		require.Equal(t, int8(6), exit)

		var out bytes.Buffer
		inner, _ := newTestMachine(t, params)
		traced := NewTraceMachine(inner, WithTraceWriter(&out), WithTraceCapacity(2))
		require.NoError(t, traced.LoadProgram(countdownProgram(), nil))
		exit, err = traced.Run()
		require.NoError(t, err)
		require.Equal(t, int8(6), exit)

		require.Equal(t, plain.Registers(), traced.Registers(), "tracing does not change execution")
		require.Equal(t, plain.Cycles(), traced.Cycles())
		require.Equal(t, plain.PC(), traced.PC())
		require.Equal(t, uint64(countdownSteps), traced.Steps())

		t.Run("ring keeps the latest steps", func(t *testing.T) {
			trace := traced.Trace()
			require.Len(t, trace, 2)
			require.Equal(t, uint64(countdownSteps-2), trace[0].Step)
			require.Equal(t, uint64(countdownSteps-1), trace[1].Step)
			require.EqualValues(t, testutil.TextBase+16, trace[0].PC)
			require.EqualValues(t, testutil.TextBase+20, trace[1].PC)
			require.Equal(t, "ecall", trace[1].Instruction)
			require.EqualValues(t, 93, trace[1].Registers[riscv.RegA7])
		})

		t.Run("json lines", func(t *testing.T) {
			scanner := bufio.NewScanner(&out)
			var entries []TraceEntry
			for scanner.Scan() {
				var entry TraceEntry
				require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
				entries = append(entries, entry)
			}
			require.NoError(t, scanner.Err())
			require.Len(t, entries, countdownSteps)
			for i, entry := range entries {
				require.Equal(t, uint64(i), entry.Step)
			}
			require.EqualValues(t, testutil.TextBase, entries[0].PC)
			require.EqualValues(t, 1, entries[0].Cycles)
			require.EqualValues(t, 3, entries[0].Registers[riscv.RegT0])
			require.Equal(t, traced.Trace()[1], entries[len(entries)-1])
		})
	})
}

func TestTraceCapacity(t *testing.T) {
	t.Run("partially filled", func(t *testing.T) {
		inner, _ := newTestMachine(t, defaultParams())
		traced := NewTraceMachine(inner)
		require.NoError(t, traced.LoadProgram(countdownProgram(), nil))
		_, err := traced.Run()
		require.NoError(t, err)
		trace := traced.Trace()
		require.Len(t, trace, countdownSteps)
		require.Zero(t, trace[0].Step)
	})
	t.Run("disabled", func(t *testing.T) {
		inner, _ := newTestMachine(t, defaultParams())
		traced := NewTraceMachine(inner, WithTraceCapacity(0))
		require.NoError(t, traced.LoadProgram(countdownProgram(), nil))
		_, err := traced.Run()
		require.NoError(t, err)
		require.Empty(t, traced.Trace())
		require.Equal(t, uint64(countdownSteps), traced.Steps())
	})
}

func TestInspector(t *testing.T) {
	inner, _ := newTestMachine(t, defaultParams())
	// the loop body starts at TextBase+4 and runs three times
	inspector := &stopAt{pc: testutil.TextBase + 4, limit: 2}
	traced := NewTraceMachine(inner, WithInspector(inspector))
	require.NoError(t, traced.LoadProgram(countdownProgram(), nil))
	_, err := traced.Run()
	require.ErrorIs(t, err, errBreakpoint)
	require.Equal(t, uint64(testutil.TextBase+4), traced.PC(), "the inspected step did not run")
	require.Equal(t, uint64(4), traced.Register(riscv.RegA0))
	require.Equal(t, uint64(7), traced.Steps())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTraceWriterError(t *testing.T) {
	inner, _ := newTestMachine(t, defaultParams())
	traced := NewTraceMachine(inner, WithTraceWriter(failingWriter{}))
	require.NoError(t, traced.LoadProgram(countdownProgram(), nil))
	_, err := traced.Run()
	var rvErr *riscv.Error
	require.True(t, errors.As(err, &rvErr))
	require.Equal(t, riscv.KindExternal, rvErr.Kind)
	require.Contains(t, rvErr.Detail, "disk full")
	require.Equal(t, uint64(1), traced.Steps(), "the step ran before the write failed")
}
