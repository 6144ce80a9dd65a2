package cmd

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

// LogDebugger logs the argument registers on every ebreak, and lets the program continue.
type LogDebugger struct {
	Log log.Logger
}

var _ vm.Debugger = (*LogDebugger)(nil)

func (d *LogDebugger) Initialize(m vm.Machine) error {
	return nil
}

func (d *LogDebugger) EBreak(m vm.Machine) error {
	ctx := []any{"pc", HexU64(m.PC()), "cycles", m.Cycles()}
	for i := riscv.RegA0; i <= riscv.RegA7; i++ {
		ctx = append(ctx, riscv.RegisterName(i), HexU64(m.Register(i)))
	}
	d.Log.Info("ebreak", ctx...)
	return nil
}
