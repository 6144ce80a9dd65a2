package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
	"github.com/ethereum-optimism/rvsandbox/rvgo/snapshot"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

var (
	DumpAddrFlag = &cli.Uint64Flag{
		Name:  "addr",
		Usage: "start address of the memory range to dump",
	}
	DumpSizeFlag = &cli.Uint64Flag{
		Name:  "size",
		Usage: "number of bytes to dump, 0 lists the materialized pages instead",
	}
)

// pageFlags renders page flags as "xfd", with '-' for unset flags.
func pageFlags(f uint8) string {
	out := []byte("---")
	if f&memory.FlagExecutable != 0 {
		out[0] = 'x'
	}
	if f&memory.FlagFrozen != 0 {
		out[1] = 'f'
	}
	if f&memory.FlagDirty != 0 {
		out[2] = 'd'
	}
	return string(out)
}

func Dump(ctx *cli.Context) error {
	cfg, err := configFromFlags(ctx)
	if err != nil {
		return fmt.Errorf("invalid machine configuration: %w", err)
	}
	// pages are enumerated from the sparse backing
	cfg.Memory = vm.MemorySparse

	input := ctx.Path(InputFlag.Name)
	snap, err := jsonutil.LoadJSON[snapshot.Snapshot](input)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	m, err := vm.NewMachine(cfg)
	if err != nil {
		return err
	}
	if err := snap.Resume(m); err != nil {
		return fmt.Errorf("failed to resume snapshot %q: %w", input, err)
	}
	sparse := sparseBacking(m.Memory())
	if sparse == nil {
		return fmt.Errorf("machine memory is not sparse")
	}

	out := ctx.App.Writer
	if path := ctx.Path(OutputFlag.Name); path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, OutFilePerm)
		if err != nil {
			return fmt.Errorf("failed to create dump file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if size := ctx.Uint64(DumpSizeFlag.Name); size != 0 {
		addr := ctx.Uint64(DumpAddrFlag.Name)
		r, err := sparse.ReadMemoryRange(addr, size)
		if err != nil {
			return fmt.Errorf("invalid range [%#x, %#x+%d): %w", addr, addr, size, err)
		}
		if _, err := io.Copy(out, r); err != nil {
			return fmt.Errorf("failed to write memory range: %w", err)
		}
		return nil
	}
	return sparse.ForEachPage(func(pageIndex uint64, _ *memory.Page) error {
		flags, err := m.Memory().FetchFlag(pageIndex)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s %s\n", HexU64(pageIndex<<riscv.PageShift), pageFlags(flags))
		return err
	})
}

var DumpCommand = &cli.Command{
	Name:        "dump",
	Usage:       "Dump guest memory of a snapshot",
	Description: "Resume a snapshot and write a raw memory range, or list the materialized pages with their flags (x: executable, f: frozen, d: dirty).",
	Action:      Dump,
	Flags: append([]cli.Flag{
		&cli.PathFlag{Name: InputFlag.Name, Usage: "snapshot JSON to inspect", TakesFile: true, Required: true},
		&cli.PathFlag{Name: OutputFlag.Name, Usage: "file to write to, instead of stdout", TakesFile: true},
		DumpAddrFlag,
		DumpSizeFlag,
	}, machineFlags...),
}
