package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/ethereum-optimism/rvsandbox/rvgo/snapshot"
)

type WitnessOutput struct {
	Witness   hexutil.Bytes `json:"witness"`
	StateHash common.Hash   `json:"stateHash"`
}

func Witness(ctx *cli.Context) error {
	input := ctx.Path(InputFlag.Name)
	output := ctx.Path(OutputFlag.Name)
	snap, err := jsonutil.LoadJSON[snapshot.Snapshot](input)
	if err != nil {
		return fmt.Errorf("invalid input snapshot (%v): %w", input, err)
	}
	witnessOutput := &WitnessOutput{
		Witness:   snap.Encode(),
		StateHash: snap.StateHash(),
	}
	if output != "" {
		if err := jsonutil.WriteJSON(output, witnessOutput, OutFilePerm); err != nil {
			return fmt.Errorf("failed to write witness output %w", err)
		}
	}
	_, _ = fmt.Fprintln(ctx.App.Writer, witnessOutput.StateHash.Hex())
	return nil
}

var WitnessCommand = &cli.Command{
	Name:        "witness",
	Usage:       "Convert a snapshot JSON into a binary witness",
	Description: "Convert a snapshot JSON into a binary witness. The state hash is written to stdout",
	Action:      Witness,
	Flags: []cli.Flag{
		&cli.PathFlag{Name: InputFlag.Name, Usage: "snapshot JSON to encode", TakesFile: true, Required: true},
		OutputFlag,
	},
}
