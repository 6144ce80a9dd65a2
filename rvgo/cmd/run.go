package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/pkg/profile"

	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/ethereum-optimism/rvsandbox/rvgo/snapshot"
	"github.com/ethereum-optimism/rvsandbox/rvgo/syscalls"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

var OutFilePerm = os.FileMode(0o755)

func Run(ctx *cli.Context) error {
	if ctx.Bool(PProfCPUFlag.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}

	lvl, err := ParseLevel(ctx.String(LogLevelFlag.Name))
	if err != nil {
		return err
	}
	if ctx.Bool(TraceFlag.Name) {
		lvl = log.LevelTrace
	}
	l := Logger(os.Stderr, lvl)
	outLog := &LoggingWriter{Name: "program std-out", Log: l}
	errLog := &LoggingWriter{Name: "program std-err", Log: l}

	cfg, err := configFromFlags(ctx)
	if err != nil {
		return fmt.Errorf("invalid machine configuration: %w", err)
	}
	cfg.Syscalls = syscalls.Default(outLog, errLog, l)
	cfg.Debugger = &LogDebugger{Log: l}
	cfg.Logger = l

	var meta *Metadata
	if metaPath := ctx.Path(MetaFlag.Name); metaPath == "" {
		l.Debug("no metadata file specified, defaulting to empty metadata")
	} else {
		if m, err := jsonutil.LoadJSON[Metadata](metaPath); err != nil {
			return fmt.Errorf("failed to load metadata: %w", err)
		} else {
			meta = m
		}
	}

	insp := &progress{
		ctx:    ctx,
		log:    l,
		meta:   meta,
		stopAt: ctx.Uint64(StopAtFlag.Name),
		infoAt: ctx.Uint64(InfoAtFlag.Name),
	}
	cfg.Inspector = insp

	if tracePath := ctx.Path(TraceOutFlag.Name); tracePath != "" {
		f, err := os.OpenFile(tracePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, OutFilePerm)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer f.Close()
		w := bufio.NewWriter(f)
		defer func() {
			if err := w.Flush(); err != nil {
				l.Error("failed to flush trace", "err", err)
			}
		}()
		cfg.TraceWriter = w
	}

	m, err := vm.NewMachine(cfg)
	if err != nil {
		return err
	}
	if err := loadMachine(ctx, m); err != nil {
		return err
	}
	if meta == nil {
		meta = MakeMetadata(m.Symbols())
		insp.meta = meta
	}

	start := time.Now()
	exitCode, runErr := m.Run()
	l.Info("run finished",
		"steps", m.Steps(),
		"cycles", m.Cycles(),
		"pc", HexU64(m.PC()),
		"name", meta.LookupSymbol(m.PC()),
		"duration", time.Since(start),
	)

	if out := ctx.Path(SnapshotOutFlag.Name); out != "" {
		snap, err := snapshot.Make(m)
		if err != nil {
			return fmt.Errorf("failed to snapshot machine: %w", err)
		}
		if err := jsonutil.WriteJSON(out, snap, OutFilePerm); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		l.Info("wrote snapshot", "path", out, "hash", snap.StateHash())
	}

	switch {
	case errors.Is(runErr, errStopped):
		l.Info("stopped", "step", insp.step)
		return nil
	case runErr != nil:
		logTrace(l, m)
		return fmt.Errorf("machine failed at pc %#x after %d cycles: %w", m.PC(), m.Cycles(), runErr)
	}
	l.Info("program exited", "code", exitCode)
	if exitCode != 0 {
		return cli.Exit(fmt.Sprintf("program exited with code %d", exitCode), int(uint8(exitCode)))
	}
	return nil
}

// loadMachine either resumes the --input snapshot or loads the --elf program.
func loadMachine(ctx *cli.Context, m *vm.TraceMachine) error {
	if input := ctx.Path(InputFlag.Name); input != "" {
		snap, err := jsonutil.LoadJSON[snapshot.Snapshot](input)
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		if err := snap.Resume(m); err != nil {
			return fmt.Errorf("failed to resume snapshot %q: %w", input, err)
		}
		return nil
	}
	elfPath := ctx.Path(ELFFlag.Name)
	if elfPath == "" {
		return fmt.Errorf("either --%s or --%s is required", ELFFlag.Name, InputFlag.Name)
	}
	program, err := readProgram(elfPath)
	if err != nil {
		return err
	}
	if err := m.LoadProgram(program, programArgs(ctx)); err != nil {
		return fmt.Errorf("failed to load ELF %q: %w", elfPath, err)
	}
	return nil
}

// logTrace logs the last recorded steps, oldest first.
func logTrace(l log.Logger, m *vm.TraceMachine) {
	for _, e := range m.Trace() {
		l.Debug("trace", "step", e.Step, "pc", HexU64(e.PC), "insn", e.Instruction, "cycles", uint64(e.Cycles))
	}
}

var RunCommand = &cli.Command{
	Name:        "run",
	Usage:       "Run a RISC-V program in the sandbox",
	Description: "Run a RISC-V ELF program, or resume a snapshot, until it exits, fails or reaches --stop-at. Program arguments follow '--'.",
	Action:      Run,
	Flags: append([]cli.Flag{
		ELFFlag,
		InputFlag,
		MetaFlag,
		TraceFlag,
		TraceOutFlag,
		SnapshotOutFlag,
		StopAtFlag,
		InfoAtFlag,
		PProfCPUFlag,
		LogLevelFlag,
	}, machineFlags...),
}
