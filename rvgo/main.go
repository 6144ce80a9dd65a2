package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/rvsandbox/rvgo/cmd"
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "rvsandbox"
	app.Usage = "Metered RISC-V sandbox"
	app.Description = "Run RISC-V programs in a deterministic, cycle-metered sandbox, and inspect or hash their snapshots"
	app.Commands = []*cli.Command{
		cmd.RunCommand,
		cmd.LoadELFCommand,
		cmd.WitnessCommand,
		cmd.DumpCommand,
	}
	return app
}

func main() {
	// the first signal cancels the running command, the progress inspector notices it between steps
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newApp().RunContext(ctx, os.Args)
	if err == nil {
		return
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(130)
	}
	_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
