package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/ethereum-optimism/rvsandbox/rvgo/snapshot"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

func LoadELF(ctx *cli.Context) error {
	cfg, err := configFromFlags(ctx)
	if err != nil {
		return fmt.Errorf("invalid machine configuration: %w", err)
	}
	elfPath := ctx.Path(ELFFlag.Name)
	program, err := readProgram(elfPath)
	if err != nil {
		return err
	}
	m, err := vm.NewMachine(cfg)
	if err != nil {
		return err
	}
	if err := m.LoadProgram(program, programArgs(ctx)); err != nil {
		return fmt.Errorf("failed to load ELF data into machine: %w", err)
	}
	snap, err := snapshot.Make(m)
	if err != nil {
		return fmt.Errorf("failed to snapshot loaded machine: %w", err)
	}
	if err := jsonutil.WriteJSON(ctx.Path(OutputFlag.Name), snap, OutFilePerm); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if metaPath := ctx.Path(MetaFlag.Name); metaPath != "" {
		if err := jsonutil.WriteJSON(metaPath, MakeMetadata(m.Symbols()), OutFilePerm); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
	}
	return nil
}

var LoadELFCommand = &cli.Command{
	Name:        "load-elf",
	Usage:       "Load ELF file into a snapshot JSON",
	Description: "Load ELF file and its arguments into a machine, and write the initial snapshot. Program arguments follow '--'.",
	Action:      LoadELF,
	Flags: append([]cli.Flag{
		&cli.PathFlag{Name: ELFFlag.Name, Usage: ELFFlag.Usage, TakesFile: true, Required: true},
		&cli.PathFlag{Name: OutputFlag.Name, Usage: "path to write the snapshot JSON to", TakesFile: true, Required: true},
		MetaFlag,
	}, machineFlags...),
}
