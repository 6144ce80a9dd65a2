//go:build !embedded

package cmd

import (
	"fmt"
	"os"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

func readProgram(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program %q: %w", path, riscv.NewIOError(err))
	}
	return data, nil
}
