//go:build embedded

package cmd

import (
	"fmt"
	"os"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

func readProgram(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &riscv.Error{Kind: riscv.KindExternal, Detail: fmt.Sprintf("failed to read program %q", path), Err: err}
	}
	return data, nil
}
