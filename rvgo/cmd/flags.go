package cmd

import (
	"fmt"
	"math"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

var (
	ELFFlag = &cli.PathFlag{
		Name:      "elf",
		Usage:     "path of the RISC-V ELF program to load",
		TakesFile: true,
	}
	InputFlag = &cli.PathFlag{
		Name:      "input",
		Usage:     "snapshot JSON to resume, instead of loading an ELF program",
		TakesFile: true,
	}
	OutputFlag = &cli.PathFlag{
		Name:      "output",
		Usage:     "path to write the result JSON to",
		TakesFile: true,
	}
	MetaFlag = &cli.PathFlag{
		Name:      "meta",
		Usage:     "symbol metadata JSON, written by load-elf and read by run",
		TakesFile: true,
	}
	MemorySizeFlag = &cli.Uint64Flag{
		Name:  "memory-size",
		Usage: "guest memory size in bytes, a multiple of the page size",
		Value: riscv.DefaultMemorySize,
	}
	MaxCyclesFlag = &cli.Uint64Flag{
		Name:  "max-cycles",
		Usage: "cycle budget of the run",
		Value: math.MaxUint64,
	}
	ISAFlag = &cli.StringFlag{
		Name:  "isa",
		Usage: "enabled extensions, e.g. imc, imc_b, imc_b_mop, imc_b_a_mop",
		Value: (riscv.ISAIMC | riscv.ISAB | riscv.ISAMOP).String(),
	}
	VersionFlag = &cli.UintFlag{
		Name:  "version",
		Usage: "machine version",
		Value: uint(riscv.LatestVersion),
	}
	WidthFlag = &cli.UintFlag{
		Name:  "width",
		Usage: "register width in bits, 32 or 64",
		Value: uint(riscv.W64),
	}
	MemoryFlag = &cli.StringFlag{
		Name:  "memory",
		Usage: "memory backing: sparse or flat",
		Value: vm.MemorySparse,
	}
	CostModelFlag = &cli.StringFlag{
		Name:  "cost-model",
		Usage: "instruction cost model: constant (one cycle per instruction) or weighted",
		Value: "constant",
	}
	TraceFlag = &cli.BoolFlag{
		Name:  "trace",
		Usage: "log every step, implies --log.level=trace",
	}
	TraceOutFlag = &cli.PathFlag{
		Name:      "trace-out",
		Usage:     "write every step as a JSON line to this file",
		TakesFile: true,
	}
	SnapshotOutFlag = &cli.PathFlag{
		Name:      "snapshot-out",
		Usage:     "write a snapshot of the machine to this file when the run ends",
		TakesFile: true,
	}
	StopAtFlag = &cli.Uint64Flag{
		Name:  "stop-at",
		Usage: "stop before executing this step, 0 runs to completion",
	}
	InfoAtFlag = &cli.Uint64Flag{
		Name:  "info-at",
		Usage: "log progress every this many steps, 0 disables",
		Value: 10_000_000,
	}
	PProfCPUFlag = &cli.BoolFlag{
		Name:  "pprof.cpu",
		Usage: "enable pprof cpu profiling",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "lowest log level to print: trace, debug, info, warn, error or crit",
		Value: "info",
	}
)

// machineFlags configure the machine built by run and load-elf.
var machineFlags = []cli.Flag{
	MemorySizeFlag,
	MaxCyclesFlag,
	ISAFlag,
	VersionFlag,
	WidthFlag,
	MemoryFlag,
	CostModelFlag,
}

func configFromFlags(ctx *cli.Context) (vm.Config, error) {
	cfg := vm.DefaultConfig(ctx.Uint64(MemorySizeFlag.Name))
	cfg.MaxCycles = ctx.Uint64(MaxCyclesFlag.Name)
	isa, err := riscv.ParseISA(ctx.String(ISAFlag.Name))
	if err != nil {
		return vm.Config{}, err
	}
	cfg.ISA = isa
	cfg.Version = riscv.Version(ctx.Uint(VersionFlag.Name))
	switch w := ctx.Uint(WidthFlag.Name); w {
	case 32:
		cfg.Width = riscv.W32
	case 64:
		cfg.Width = riscv.W64
	default:
		return vm.Config{}, fmt.Errorf("unsupported width %d: %w", w, riscv.ErrElfBits)
	}
	cfg.Memory = ctx.String(MemoryFlag.Name)
	switch model := ctx.String(CostModelFlag.Name); model {
	case "constant":
		cfg.CycleFunc = vm.DefaultInstructionCycles
	case "weighted":
		cfg.CycleFunc = vm.WeightedInstructionCycles
	default:
		return vm.Config{}, fmt.Errorf("unknown cost model %q", model)
	}
	return cfg, cfg.Validate()
}

// programArgs returns the guest arguments. The cli consumes the first "--", so every
// remaining argument, including a later "--", belongs to the guest.
func programArgs(ctx *cli.Context) [][]byte {
	args := ctx.Args().Slice()
	out := make([][]byte, 0, len(args))
	for _, arg := range args {
		out = append(out, []byte(arg))
	}
	return out
}
