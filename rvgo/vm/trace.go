package vm

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

const DefaultTraceCapacity = 256

// TraceEntry is the record of one executed step: the instruction at PC,
// and the cycle counter and registers after it ran.
type TraceEntry struct {
	Step        uint64                              `json:"step"`
	PC          hexutil.Uint64                      `json:"pc"`
	Instruction string                              `json:"instruction"`
	Cycles      hexutil.Uint64                      `json:"cycles"`
	Registers   [riscv.RegisterCount]hexutil.Uint64 `json:"registers"`
}

// Inspector is consulted before every traced step, e.g. to stop at breakpoints.
// An error aborts the run.
type Inspector interface {
	BeforeStep(m Machine) error
}

// TraceMachine records the steps of a DefaultMachine. It never changes what the machine does.
type TraceMachine struct {
	*DefaultMachine

	entries []TraceEntry
	next    int
	steps   uint64

	out       *json.Encoder
	inspector Inspector
	logger    log.Logger
}

type TraceOption func(t *TraceMachine)

// WithTraceCapacity sets how many of the most recent steps are kept.
func WithTraceCapacity(n int) TraceOption {
	return func(t *TraceMachine) {
		t.entries = make([]TraceEntry, 0, n)
	}
}

// WithTraceWriter streams every step as a JSON line.
func WithTraceWriter(w io.Writer) TraceOption {
	return func(t *TraceMachine) {
		t.out = json.NewEncoder(w)
	}
}

func WithInspector(i Inspector) TraceOption {
	return func(t *TraceMachine) {
		t.inspector = i
	}
}

// WithTraceLogger logs every step at trace level.
func WithTraceLogger(l log.Logger) TraceOption {
	return func(t *TraceMachine) {
		t.logger = l
	}
}

func NewTraceMachine(m *DefaultMachine, opts ...TraceOption) *TraceMachine {
	t := &TraceMachine{
		DefaultMachine: m,
		entries:        make([]TraceEntry, 0, DefaultTraceCapacity),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Step runs one step of the inner machine and records it.
// Failed steps are not recorded.
func (t *TraceMachine) Step() error {
	if t.inspector != nil {
		if err := t.inspector.BeforeStep(t.DefaultMachine); err != nil {
			return err
		}
	}
	pc := t.PC()
	if err := t.DefaultMachine.Step(); err != nil {
		return err
	}
	return t.record(pc)
}

func (t *TraceMachine) record(pc uint64) error {
	entry := TraceEntry{
		Step:        t.steps,
		PC:          hexutil.Uint64(pc),
		Instruction: t.LastInstruction().String(),
		Cycles:      hexutil.Uint64(t.Cycles()),
	}
	for i, r := range t.Registers() {
		entry.Registers[i] = hexutil.Uint64(r)
	}
	t.steps++

	if c := cap(t.entries); c > 0 {
		if len(t.entries) < c {
			t.entries = append(t.entries, entry)
		} else {
			t.entries[t.next] = entry
		}
		t.next = (t.next + 1) % c
	}
	if t.logger != nil {
		sym := t.Symbols().FindSymbol(pc)
		t.logger.Trace("step", "step", entry.Step, "pc", fmt.Sprintf("%#x", pc), "sym", sym.Name, "insn", entry.Instruction, "cycles", t.Cycles())
	}
	if t.out != nil {
		if err := t.out.Encode(&entry); err != nil {
			return riscv.ExternalError(fmt.Sprintf("failed to write trace: %v", err))
		}
	}
	return nil
}

// Run steps the machine until it halts or fails, like DefaultMachine.Run.
func (t *TraceMachine) Run() (int8, error) {
	if err := t.Initialize(); err != nil {
		return 0, err
	}
	for t.running {
		if err := t.Step(); err != nil {
			t.running = false
			t.Logger().Debug("traced machine trapped", "pc", fmt.Sprintf("%#x", t.PC()), "steps", t.steps, "err", err)
			return 0, err
		}
	}
	return t.ExitCode(), nil
}

// Steps returns the number of recorded steps.
func (t *TraceMachine) Steps() uint64 {
	return t.steps
}

// Trace returns the most recent steps, oldest first.
func (t *TraceMachine) Trace() []TraceEntry {
	out := make([]TraceEntry, 0, len(t.entries))
	if len(t.entries) < cap(t.entries) {
		return append(out, t.entries...)
	}
	out = append(out, t.entries[t.next:]...)
	return append(out, t.entries[:t.next]...)
}
